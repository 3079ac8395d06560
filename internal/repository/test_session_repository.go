package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-session/internal/database"
	"github.com/stemsi/exstem-session/internal/model"
)

const sessionColumns = `id, user_id, test_id, status, start_time, end_time,
	score, max_score, percentage, passed, submit_reason, breakdown`

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// Completion is the terminal write produced by a graded submission.
type Completion struct {
	SessionID  uuid.UUID
	Reason     model.SubmitReason
	EndTime    time.Time
	Score      float64
	Percentage int
	Passed     bool
	Breakdown  []model.CategoryScore
	Answers    []model.Answer
}

// ExpiredSession is an ONGOING session whose deadline has passed.
type ExpiredSession struct {
	SessionID uuid.UUID
	UserID    int
	TestID    uuid.UUID
	Deadline  time.Time
}

// TestSessionRepository is the durable store of sessions and graded answers.
type TestSessionRepository struct {
	pool *pgxpool.Pool
}

// NewTestSessionRepository creates a new TestSessionRepository.
func NewTestSessionRepository(pool *pgxpool.Pool) *TestSessionRepository {
	return &TestSessionRepository{pool: pool}
}

func scanSession(row pgx.Row) (*model.TestSession, error) {
	s := &model.TestSession{}
	err := row.Scan(&s.ID, &s.UserID, &s.TestID, &s.Status, &s.StartTime, &s.EndTime,
		&s.Score, &s.MaxScore, &s.Percentage, &s.Passed, &s.Reason, &s.Breakdown)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s, nil
}

// GetByID retrieves a session by its UUID.
func (r *TestSessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.TestSession, error) {
	return scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM test_sessions WHERE id = $1`, id))
}

// GetOngoing returns the ONGOING session of a (user, test) pair, or ErrNotFound.
func (r *TestSessionRepository) GetOngoing(ctx context.Context, userID int, testID uuid.UUID) (*model.TestSession, error) {
	return scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM test_sessions
		 WHERE user_id = $1 AND test_id = $2 AND status = 'ONGOING'`, userID, testID))
}

// Create inserts a new ONGOING session unless the pair has used maxAttempts
// attempts already (0 = unlimited). The count and the insert run under a
// per-pair advisory lock, and the partial unique index rejects a second
// ONGOING row, so at most one row is created.
func (r *TestSessionRepository) Create(ctx context.Context, s *model.TestSession, maxAttempts int) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	lockKey := fmt.Sprintf("%d:%s", s.UserID, s.TestID)
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey); err != nil {
		return fmt.Errorf("lock attempt: %w", err)
	}

	if maxAttempts > 0 {
		var used int
		if err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM test_sessions
			 WHERE user_id = $1 AND test_id = $2 AND status <> 'ONGOING'`, s.UserID, s.TestID,
		).Scan(&used); err != nil {
			return fmt.Errorf("count attempts: %w", err)
		}
		if used >= maxAttempts {
			return ErrAttemptLimit
		}
	}

	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.Status = model.SessionStatusOngoing
	err = tx.QueryRow(ctx,
		`INSERT INTO test_sessions (id, user_id, test_id, status, start_time, max_score)
		 VALUES ($1, $2, $3, 'ONGOING', $4, $5)
		 RETURNING start_time`,
		s.ID, s.UserID, s.TestID, s.StartTime, s.MaxScore,
	).Scan(&s.StartTime)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrOngoingExists
		}
		return fmt.Errorf("insert session: %w", err)
	}

	return tx.Commit(ctx)
}

// Complete performs the single terminal write of a graded session: the status
// flip, the result and every answer row, atomically. It returns ErrNotOngoing
// when the session was already terminal.
func (r *TestSessionRepository) Complete(ctx context.Context, c *Completion) error {
	return database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return complete(ctx, tx, c)
	})
}

func complete(ctx context.Context, tx pgx.Tx, c *Completion) error {
	breakdown := c.Breakdown
	if breakdown == nil {
		breakdown = []model.CategoryScore{}
	}

	tag, err := tx.Exec(ctx,
		`UPDATE test_sessions
		 SET status = 'COMPLETED', end_time = $2, score = $3, percentage = $4,
		     passed = $5, submit_reason = $6, breakdown = $7
		 WHERE id = $1 AND status = 'ONGOING'`,
		c.SessionID, c.EndTime, c.Score, c.Percentage, c.Passed, c.Reason, breakdown,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotOngoing
	}

	if len(c.Answers) > 0 {
		rows := make([][]any, 0, len(c.Answers))
		for _, a := range c.Answers {
			value, err := a.Value.MarshalJSON()
			if err != nil {
				return fmt.Errorf("encode answer %s: %w", a.QuestionID, err)
			}
			rows = append(rows, []any{a.SessionID, a.QuestionID, value, a.IsCorrect, a.PointsEarned, a.AnsweredAt})
		}
		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"answers"},
			[]string{"session_id", "question_id", "value", "is_correct", "points_earned", "answered_at"},
			pgx.CopyFromRows(rows),
		); err != nil {
			return fmt.Errorf("copy answers: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM answer_drafts WHERE session_id = $1`, c.SessionID); err != nil {
		return fmt.Errorf("clear drafts: %w", err)
	}
	return nil
}

// Abandon closes an ONGOING session without grading. It returns ErrNotOngoing
// when the session was already terminal.
func (r *TestSessionRepository) Abandon(ctx context.Context, id uuid.UUID, reason model.SubmitReason, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE test_sessions
		 SET status = 'ABANDONED', end_time = $2, score = 0, percentage = 0,
		     passed = FALSE, submit_reason = $3
		 WHERE id = $1 AND status = 'ONGOING'`,
		id, at, reason,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotOngoing
	}
	return nil
}

// ListExpired returns ONGOING sessions whose deadline plus grace lies at or
// before now, oldest first.
func (r *TestSessionRepository) ListExpired(ctx context.Context, now time.Time, grace time.Duration, limit int) ([]ExpiredSession, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT s.id, s.user_id, s.test_id,
		        s.start_time + make_interval(mins => d.total) AS deadline
		 FROM test_sessions s
		 JOIN (SELECT test_id, COALESCE(SUM(duration_minutes), 0)::int AS total
		       FROM sections GROUP BY test_id) d ON d.test_id = s.test_id
		 WHERE s.status = 'ONGOING'
		   AND s.start_time + make_interval(mins => d.total) + make_interval(secs => $2) <= $1
		 ORDER BY s.start_time
		 LIMIT $3`,
		now, grace.Seconds(), limit,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ExpiredSession, error) {
		var e ExpiredSession
		err := row.Scan(&e.SessionID, &e.UserID, &e.TestID, &e.Deadline)
		return e, err
	})
}
