package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
)

// submitGuardTTL bounds how long a crashed submitter can block a retry.
const submitGuardTTL = 2 * time.Minute

// DraftBackup is the durable copy of autosaved answers. It is satisfied by
// repository.AnswerDraftRepository.
type DraftBackup interface {
	GetBySession(ctx context.Context, sessionID uuid.UUID) (model.AnswerSheet, error)
}

// draftPayload is the message pushed to the autosave queue.
type draftPayload struct {
	SessionID  string            `json:"session_id"`
	QuestionID string            `json:"question_id"`
	Value      model.AnswerValue `json:"value"`
}

// SessionState holds the per-session records that live outside the session
// row: the submit guard, the submission intent, the leave counter and the
// autosaved answers. Every key is namespaced by session id.
type SessionState struct {
	rdb       *redis.Client
	backup    DraftBackup
	intentTTL time.Duration
	log       zerolog.Logger
}

// NewSessionState creates a new SessionState.
func NewSessionState(rdb *redis.Client, backup DraftBackup, intentTTL time.Duration, log zerolog.Logger) *SessionState {
	return &SessionState{
		rdb:       rdb,
		backup:    backup,
		intentTTL: intentTTL,
		log:       log.With().Str("component", "session_state").Logger(),
	}
}

// AcquireGuard sets the submit guard. It returns false if another submitter
// holds it.
func (s *SessionState) AcquireGuard(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	return s.rdb.SetNX(ctx, config.CacheKey.SessionSubmitGuardKey(sessionID.String()), 1, submitGuardTTL).Result()
}

// ReleaseGuard clears the submit guard so a retry can proceed.
func (s *SessionState) ReleaseGuard(ctx context.Context, sessionID uuid.UUID) error {
	return s.rdb.Del(ctx, config.CacheKey.SessionSubmitGuardKey(sessionID.String())).Err()
}

// SaveIntent writes the intent and registers it as pending in one transaction.
func (s *SessionState) SaveIntent(ctx context.Context, in *model.SubmitIntent) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode intent: %w", err)
	}
	id := in.SessionID.String()
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, config.CacheKey.SessionSubmitIntentKey(id), raw, s.intentTTL)
		pipe.SAdd(ctx, config.CacheKey.PendingIntentsKey(), id)
		return nil
	})
	return err
}

// LoadIntent returns the pending intent of a session, or nil if there is none.
func (s *SessionState) LoadIntent(ctx context.Context, sessionID uuid.UUID) (*model.SubmitIntent, error) {
	raw, err := s.rdb.Get(ctx, config.CacheKey.SessionSubmitIntentKey(sessionID.String())).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var in model.SubmitIntent
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("decode intent: %w", err)
	}
	return &in, nil
}

// ClearIntent removes a confirmed or abandoned intent.
func (s *SessionState) ClearIntent(ctx context.Context, sessionID uuid.UUID) error {
	id := sessionID.String()
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, config.CacheKey.SessionSubmitIntentKey(id))
		pipe.SRem(ctx, config.CacheKey.PendingIntentsKey(), id)
		return nil
	})
	return err
}

// PendingIntents lists up to limit sessions that hold an intent. Malformed
// members are dropped from the set.
func (s *SessionState) PendingIntents(ctx context.Context, limit int) ([]uuid.UUID, error) {
	members, err := s.rdb.SRandMemberN(ctx, config.CacheKey.PendingIntentsKey(), int64(limit)).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		id, err := uuid.Parse(m)
		if err != nil {
			s.rdb.SRem(ctx, config.CacheKey.PendingIntentsKey(), m)
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// LeaveCount returns the persisted tab-leave counter, 0 when unset.
func (s *SessionState) LeaveCount(ctx context.Context, sessionID uuid.UUID) (int, error) {
	n, err := s.rdb.Get(ctx, config.CacheKey.SessionLeaveCountKey(sessionID.String())).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// SetLeaveCount stores the tab-leave counter.
func (s *SessionState) SetLeaveCount(ctx context.Context, sessionID uuid.UUID, n int) error {
	return s.rdb.Set(ctx, config.CacheKey.SessionLeaveCountKey(sessionID.String()), n, s.intentTTL).Err()
}

// SaveDraft stores one autosaved answer in the session hash and queues it for
// the PostgreSQL backup.
func (s *SessionState) SaveDraft(ctx context.Context, sessionID, questionID uuid.UUID, v model.AnswerValue) error {
	raw, err := v.MarshalJSON()
	if err != nil {
		return err
	}
	key := config.CacheKey.SessionDraftKey(sessionID.String())
	if _, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, questionID.String(), raw)
		pipe.Expire(ctx, key, s.intentTTL)
		return nil
	}); err != nil {
		return err
	}

	payload, _ := json.Marshal(draftPayload{
		SessionID:  sessionID.String(),
		QuestionID: questionID.String(),
		Value:      v,
	})
	if err := s.rdb.RPush(ctx, config.WorkerKey.PersistAnswersQueue, payload).Err(); err != nil {
		// The hash already holds the answer; the backup is best-effort.
		s.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Failed to queue draft backup")
	}
	return nil
}

// LoadDrafts returns the autosaved answers, falling back to the PostgreSQL
// backup when the hash is empty or unreachable.
func (s *SessionState) LoadDrafts(ctx context.Context, sessionID uuid.UUID) (model.AnswerSheet, error) {
	fields, err := s.rdb.HGetAll(ctx, config.CacheKey.SessionDraftKey(sessionID.String())).Result()
	if err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Draft hash unavailable, using backup")
	}
	if len(fields) == 0 {
		if s.backup == nil {
			return model.AnswerSheet{}, err
		}
		return s.backup.GetBySession(ctx, sessionID)
	}

	sheet := make(model.AnswerSheet, len(fields))
	for qid, raw := range fields {
		var v model.AnswerValue
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			s.log.Warn().Err(err).Str("question_id", qid).Msg("Skipping malformed draft")
			continue
		}
		sheet[qid] = v
	}
	return sheet, nil
}

// ClearSession drops the draft hash and leave counter after a terminal write.
func (s *SessionState) ClearSession(ctx context.Context, sessionID uuid.UUID) error {
	id := sessionID.String()
	return s.rdb.Del(ctx,
		config.CacheKey.SessionDraftKey(id),
		config.CacheKey.SessionLeaveCountKey(id),
	).Err()
}
