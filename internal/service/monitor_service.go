package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/repository"
)

// MonitorTest is the header of a monitor snapshot.
type MonitorTest struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	DurationMinutes int       `json:"duration_minutes"`
	TabLeaveLimit   int       `json:"tab_leave_limit"`
	TotalQuestions  int       `json:"total_questions"`
}

// MonitorStats aggregates session counts for one test.
type MonitorStats struct {
	TotalJoined    int   `json:"total_joined"`
	TotalOngoing   int   `json:"total_ongoing"`
	TotalCompleted int   `json:"total_completed"`
	TotalAbandoned int   `json:"total_abandoned"`
	TotalLeaves    int64 `json:"total_leaves"`
}

// MonitorSnapshot is the full state a proctor sees when attaching.
type MonitorSnapshot struct {
	Test     MonitorTest             `json:"test"`
	Stats    MonitorStats            `json:"stats"`
	Sessions []repository.SessionRow `json:"sessions"`
}

// MonitorService orchestrates live test monitoring.
type MonitorService struct {
	monitorRepo *repository.MonitorRepository
	catalog     TestCatalog
	log         zerolog.Logger
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(monitorRepo *repository.MonitorRepository, catalog TestCatalog, log zerolog.Logger) *MonitorService {
	return &MonitorService{
		monitorRepo: monitorRepo,
		catalog:     catalog,
		log:         log.With().Str("component", "monitor_service").Logger(),
	}
}

// Snapshot loads the test header and the session list concurrently, then
// decorates ONGOING sessions with their live leave counters.
func (s *MonitorService) Snapshot(ctx context.Context, testID uuid.UUID) (*MonitorSnapshot, error) {
	var (
		test    *model.Test
		rows    []repository.SessionRow
		testErr error
		rowsErr error
		wg      sync.WaitGroup
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		test, testErr = s.catalog.GetTest(ctx, testID)
	}()
	go func() {
		defer wg.Done()
		rows, rowsErr = s.monitorRepo.ListSessions(ctx, testID)
	}()
	wg.Wait()

	if testErr != nil {
		return nil, testErr
	}
	if rowsErr != nil {
		return nil, fmt.Errorf("list sessions: %w", rowsErr)
	}

	// Leave counters are best-effort; a Redis hiccup must not blank the monitor.
	if err := s.monitorRepo.FillLeaveCounts(ctx, rows); err != nil {
		s.log.Warn().Err(err).Str("test_id", testID.String()).Msg("Failed to read leave counters")
	}

	snap := &MonitorSnapshot{
		Test: MonitorTest{
			ID:              test.ID,
			Name:            test.Name,
			DurationMinutes: test.DurationMinutes(),
			TabLeaveLimit:   test.TabLeaveLimit,
			TotalQuestions:  len(test.Questions()),
		},
		Sessions: rows,
	}
	if snap.Sessions == nil {
		snap.Sessions = []repository.SessionRow{}
	}
	for _, r := range rows {
		snap.Stats.TotalJoined++
		snap.Stats.TotalLeaves += r.LeaveCount
		switch r.Status {
		case model.SessionStatusOngoing:
			snap.Stats.TotalOngoing++
		case model.SessionStatusCompleted:
			snap.Stats.TotalCompleted++
		case model.SessionStatusAbandoned:
			snap.Stats.TotalAbandoned++
		}
	}
	return snap, nil
}
