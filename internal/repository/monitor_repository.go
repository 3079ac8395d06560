package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
)

// SessionRow is one participant's session as shown on the live monitor.
type SessionRow struct {
	SessionID  uuid.UUID           `json:"session_id"`
	UserID     int                 `json:"user_id"`
	Name       string              `json:"name"`
	Status     model.SessionStatus `json:"status"`
	StartTime  time.Time           `json:"start_time"`
	EndTime    *time.Time          `json:"end_time,omitempty"`
	Percentage int                 `json:"percentage"`
	LeaveCount int64               `json:"leave_count"`
}

// MonitorRepository provides data access for the live test monitor.
// It combines PostgreSQL (session state) and Redis (live leave counters).
type MonitorRepository struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
}

// NewMonitorRepository creates a new MonitorRepository.
func NewMonitorRepository(pool *pgxpool.Pool, rdb *redis.Client) *MonitorRepository {
	return &MonitorRepository{pool: pool, rdb: rdb}
}

// ListSessions returns every session of a test, newest first.
func (r *MonitorRepository) ListSessions(ctx context.Context, testID uuid.UUID) ([]SessionRow, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT s.id, s.user_id, p.name, s.status, s.start_time, s.end_time, s.percentage
		 FROM test_sessions s
		 JOIN participants p ON p.id = s.user_id
		 WHERE s.test_id = $1
		 ORDER BY s.start_time DESC`, testID,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (SessionRow, error) {
		var s SessionRow
		err := row.Scan(&s.SessionID, &s.UserID, &s.Name, &s.Status, &s.StartTime, &s.EndTime, &s.Percentage)
		return s, err
	})
}

// FillLeaveCounts reads the live leave counters of ONGOING rows in one
// pipeline. Terminal rows keep 0 since their counters may have expired.
func (r *MonitorRepository) FillLeaveCounts(ctx context.Context, rows []SessionRow) error {
	pipe := r.rdb.Pipeline()
	cmds := make(map[int]*redis.StringCmd, len(rows))
	for i, s := range rows {
		if s.Status != model.SessionStatusOngoing {
			continue
		}
		cmds[i] = pipe.Get(ctx, config.CacheKey.SessionLeaveCountKey(s.SessionID.String()))
	}
	if len(cmds) == 0 {
		return nil
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	for i, cmd := range cmds {
		n, err := cmd.Int64()
		if err != nil {
			continue
		}
		rows[i].LeaveCount = n
	}
	return nil
}
