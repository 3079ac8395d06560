package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/logger"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/repository"
	"github.com/stemsi/exstem-session/internal/service"
)

const sweepLimit = 100

// ExpiredFinder lists ONGOING sessions past their deadline. It is satisfied
// by repository.TestSessionRepository.
type ExpiredFinder interface {
	ListExpired(ctx context.Context, now time.Time, grace time.Duration, limit int) ([]repository.ExpiredSession, error)
}

// ForcedSubmitter is the submission coordinator as seen by the sweep.
type ForcedSubmitter interface {
	Submit(ctx context.Context, in service.SubmitInput) (*model.TerminalResult, error)
	ReplayPending(ctx context.Context, limit int) (int, error)
}

// DeadlineWorker enforces the hard timeout for sessions nobody is connected
// to. Every sweep it first replays pending submit intents, then force-submits
// sessions whose deadline plus grace has passed.
type DeadlineWorker struct {
	sessions  ExpiredFinder
	submitter ForcedSubmitter
	interval  time.Duration
	grace     time.Duration
	now       func() time.Time
	log       zerolog.Logger
}

func NewDeadlineWorker(sessions ExpiredFinder, submitter ForcedSubmitter, interval, grace time.Duration, log zerolog.Logger) *DeadlineWorker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &DeadlineWorker{
		sessions:  sessions,
		submitter: submitter,
		interval:  interval,
		grace:     grace,
		now:       time.Now,
		log:       log.With().Str("component", "deadline_worker").Logger(),
	}
}

func (w *DeadlineWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Dur("grace", w.grace).Msg("DeadlineWorker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.Sweep(ctx)

		select {
		case <-ctx.Done():
			w.log.Info().Msg("DeadlineWorker stopped")
			return
		case <-ticker.C:
		}
	}
}

// Sweep runs one pass and returns how many sessions reached a terminal state.
func (w *DeadlineWorker) Sweep(ctx context.Context) int {
	replayed, err := w.submitter.ReplayPending(ctx, sweepLimit)
	if err != nil && ctx.Err() == nil {
		w.log.Error().Err(err).Msg("Intent replay failed")
	}

	expired, err := w.sessions.ListExpired(ctx, w.now(), w.grace, sweepLimit)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Error().Err(err).Msg("Listing expired sessions failed")
		}
		return replayed
	}

	submitted := 0
	for _, s := range expired {
		if ctx.Err() != nil {
			break
		}
		if w.submitOne(ctx, s) {
			submitted++
		}
	}

	if replayed+submitted > 0 {
		w.log.Info().Int("replayed", replayed).Int("submitted", submitted).Msg("Deadline sweep finished")
	}
	return replayed + submitted
}

func (w *DeadlineWorker) submitOne(ctx context.Context, s repository.ExpiredSession) bool {
	log := logger.ForSession(w.log, s.SessionID.String(), s.UserID, s.TestID.String())

	res, err := w.submitter.Submit(ctx, service.SubmitInput{
		SessionID: s.SessionID,
		Reason:    model.SubmitReasonTimeout,
	})
	switch {
	case err == nil:
		if !res.AlreadySubmitted {
			log.Info().Time("deadline", s.Deadline).Int("percentage", res.Percentage).Msg("Expired session auto-submitted")
		}
		return true
	case errors.Is(err, service.ErrAlreadySubmitted):
		// A live connection is submitting it right now.
		return false
	default:
		log.Warn().Err(err).Msg("Auto-submit of expired session failed, will retry")
		return false
	}
}
