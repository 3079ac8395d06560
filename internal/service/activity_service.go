package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
)

const activityPublishTimeout = 2 * time.Second

// MonitorEvent is the payload published to a test's live monitor channel.
type MonitorEvent struct {
	Type      model.ActivityType `json:"type"`
	SessionID string             `json:"session_id"`
	UserID    int                `json:"user_id"`
	Detail    map[string]string  `json:"detail,omitempty"`
	At        time.Time          `json:"at"`
}

// ActivityService is the activity log sink. Events are queued for the
// activity worker and mirrored to the live monitor channel. Failures are
// logged and never returned.
type ActivityService struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewActivityService creates a new ActivityService.
func NewActivityService(rdb *redis.Client, log zerolog.Logger) *ActivityService {
	return &ActivityService{
		rdb: rdb,
		log: log.With().Str("component", "activity_service").Logger(),
	}
}

// Record sends ev in the background.
func (s *ActivityService) Record(ctx context.Context, ev model.ActivityEvent) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}
	go s.send(context.WithoutCancel(ctx), ev)
}

func (s *ActivityService) send(parent context.Context, ev model.ActivityEvent) {
	ctx, cancel := context.WithTimeout(parent, activityPublishTimeout)
	defer cancel()

	raw, err := json.Marshal(ev)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to encode activity event")
		return
	}

	monitorRaw, _ := json.Marshal(MonitorEvent{
		Type:      ev.Type,
		SessionID: ev.SessionID.String(),
		UserID:    ev.UserID,
		Detail:    ev.Detail,
		At:        ev.OccurredAt,
	})

	pipe := s.rdb.Pipeline()
	pipe.RPush(ctx, config.WorkerKey.PersistActivityQueue, raw)
	pipe.Publish(ctx, config.CacheKey.TestMonitorChannel(ev.TestID.String()), monitorRaw)
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn().Err(err).
			Str("session_id", ev.SessionID.String()).
			Str("type", string(ev.Type)).
			Msg("Failed to record activity")
	}
}
