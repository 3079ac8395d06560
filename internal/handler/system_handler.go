package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
)

const healthTimeout = 2 * time.Second

// SystemHandler reports liveness of the stores and the backlog of the
// background workers.
type SystemHandler struct {
	pool      *pgxpool.Pool
	rdb       *redis.Client
	startTime time.Time
	log       zerolog.Logger
}

// NewSystemHandler creates a new SystemHandler.
func NewSystemHandler(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		pool:      pool,
		rdb:       rdb,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

type healthReport struct {
	Status     string `json:"status"`
	Postgres   string `json:"postgres"`
	Redis      string `json:"redis"`
	Uptime     string `json:"uptime"`
	Goroutines int    `json:"goroutines"`

	// Worker backlog
	QueueAnswers   int64 `json:"queue_answers"`
	QueueActivity  int64 `json:"queue_activity"`
	PendingIntents int64 `json:"pending_intents"`
}

// Health godoc
// GET /health
// Returns 200 when PostgreSQL and Redis both answer, 503 otherwise.
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	rep := healthReport{
		Status:     "ok",
		Postgres:   "ok",
		Redis:      "ok",
		Uptime:     time.Since(h.startTime).Round(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
	}

	if err := h.pool.Ping(ctx); err != nil {
		h.log.Warn().Err(err).Msg("PostgreSQL health check failed")
		rep.Postgres = "down"
		rep.Status = "degraded"
	}

	pipe := h.rdb.Pipeline()
	answersCmd := pipe.LLen(ctx, config.WorkerKey.PersistAnswersQueue)
	activityCmd := pipe.LLen(ctx, config.WorkerKey.PersistActivityQueue)
	intentsCmd := pipe.SCard(ctx, config.CacheKey.PendingIntentsKey())
	if _, err := pipe.Exec(ctx); err != nil {
		h.log.Warn().Err(err).Msg("Redis health check failed")
		rep.Redis = "down"
		rep.Status = "degraded"
	} else {
		rep.QueueAnswers = answersCmd.Val()
		rep.QueueActivity = activityCmd.Val()
		rep.PendingIntents = intentsCmd.Val()
	}

	status := http.StatusOK
	if rep.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, rep)
}
