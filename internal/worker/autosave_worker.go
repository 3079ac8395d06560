package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/repository"
)

// DraftWriter persists batches of drafts. It is satisfied by
// repository.AnswerDraftRepository.
type DraftWriter interface {
	UpsertBatch(ctx context.Context, drafts []repository.Draft) error
}

// AutosaveWorker consumes persist_answers_queue and UPSERTs drafts to
// PostgreSQL, so a forced submission still finds them if Redis lost the hash.
type AutosaveWorker struct {
	drafts DraftWriter
	rdb    *redis.Client
	log    zerolog.Logger
}

// NewAutosaveWorker creates a new AutosaveWorker.
func NewAutosaveWorker(drafts DraftWriter, rdb *redis.Client, log zerolog.Logger) *AutosaveWorker {
	return &AutosaveWorker{
		drafts: drafts,
		rdb:    rdb,
		log:    log.With().Str("component", "autosave_worker").Logger(),
	}
}

type draftPayload struct {
	SessionID  string            `json:"session_id"`
	QuestionID string            `json:"question_id"`
	Value      model.AnswerValue `json:"value"`
}

// Start begins the worker loop. Call in a goroutine.
func (w *AutosaveWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	raw := make([]string, 0, BatchSize)
	lastFlush := time.Now()

	for {
		if len(raw) > 0 && (len(raw) >= BatchSize || time.Since(lastFlush) >= BatchTimeout) {
			w.flush(ctx, raw)
			raw = raw[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			w.flush(drainCtx, raw)
			w.drain(drainCtx)
			cancel()
			w.log.Info().Msg("Worker stopped")
			return
		default:
		}

		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistAnswersQueue).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				w.log.Error().Err(err).Msg("BLPop error")
				time.Sleep(time.Second)
			}
			continue
		}
		if len(result) < 2 {
			continue
		}
		raw = append(raw, result[1])
	}
}

// flush writes one batch. On failure the raw payloads go back to the queue.
func (w *AutosaveWorker) flush(ctx context.Context, raw []string) {
	if len(raw) == 0 {
		return
	}

	batch := decodeDrafts(w.log, raw)
	if err := w.drafts.UpsertBatch(ctx, batch); err != nil {
		w.log.Error().Err(err).Int("count", len(batch)).Msg("Persist error, requeueing batch")
		pipe := w.rdb.Pipeline()
		for _, r := range raw {
			pipe.RPush(ctx, config.WorkerKey.PersistAnswersQueue, r)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			w.log.Error().Err(err).Msg("CRITICAL: Failed to requeue drafts")
		}
		time.Sleep(2 * time.Second)
	}
}

// drain processes the remaining queue before shutdown.
func (w *AutosaveWorker) drain(ctx context.Context) {
	drained := 0
	for ctx.Err() == nil {
		items, err := w.rdb.LPopCount(ctx, config.WorkerKey.PersistAnswersQueue, BatchSize).Result()
		if err != nil || len(items) == 0 {
			break
		}
		if err := w.drafts.UpsertBatch(ctx, decodeDrafts(w.log, items)); err != nil {
			w.log.Error().Err(err).Msg("Drain persist error")
			pipe := w.rdb.Pipeline()
			for _, r := range items {
				pipe.RPush(ctx, config.WorkerKey.PersistAnswersQueue, r)
			}
			_, _ = pipe.Exec(ctx)
			break
		}
		drained += len(items)
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}

// decodeDrafts parses queue payloads, discarding the malformed ones.
func decodeDrafts(log zerolog.Logger, raw []string) []repository.Draft {
	out := make([]repository.Draft, 0, len(raw))
	for _, r := range raw {
		var p draftPayload
		if err := json.Unmarshal([]byte(r), &p); err != nil {
			log.Error().Err(err).Str("data", r).Msg("Discarding malformed draft")
			continue
		}
		sid, err := uuid.Parse(p.SessionID)
		if err != nil {
			log.Error().Str("session_id", p.SessionID).Msg("Discarding draft with invalid session ID")
			continue
		}
		qid, err := uuid.Parse(p.QuestionID)
		if err != nil {
			log.Error().Str("question_id", p.QuestionID).Msg("Discarding draft with invalid question ID")
			continue
		}
		out = append(out, repository.Draft{SessionID: sid, QuestionID: qid, Value: p.Value})
	}
	return out
}
