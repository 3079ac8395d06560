package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-session/internal/model"
)

// Draft is one autosaved, ungraded answer.
type Draft struct {
	SessionID  uuid.UUID
	QuestionID uuid.UUID
	Value      model.AnswerValue
}

// AnswerDraftRepository is the PostgreSQL copy of autosaved answers, used when
// the Redis draft hash is gone by the time a forced submission runs.
type AnswerDraftRepository struct {
	pool *pgxpool.Pool
}

// NewAnswerDraftRepository creates a new AnswerDraftRepository.
func NewAnswerDraftRepository(pool *pgxpool.Pool) *AnswerDraftRepository {
	return &AnswerDraftRepository{pool: pool}
}

// UpsertBatch writes drafts with a single UNNEST statement; the last value per
// (session, question) in the batch wins.
func (r *AnswerDraftRepository) UpsertBatch(ctx context.Context, drafts []Draft) error {
	if len(drafts) == 0 {
		return nil
	}

	latest := make(map[[2]uuid.UUID]int, len(drafts))
	for i, d := range drafts {
		latest[[2]uuid.UUID{d.SessionID, d.QuestionID}] = i
	}

	sessions := make([]uuid.UUID, 0, len(latest))
	questions := make([]uuid.UUID, 0, len(latest))
	values := make([]string, 0, len(latest))
	for i, d := range drafts {
		if latest[[2]uuid.UUID{d.SessionID, d.QuestionID}] != i {
			continue
		}
		raw, err := d.Value.MarshalJSON()
		if err != nil {
			return fmt.Errorf("encode draft: %w", err)
		}
		sessions = append(sessions, d.SessionID)
		questions = append(questions, d.QuestionID)
		values = append(values, string(raw))
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO answer_drafts (session_id, question_id, value, updated_at)
		 SELECT u.session_id, u.question_id, u.value::jsonb, NOW()
		 FROM UNNEST($1::uuid[], $2::uuid[], $3::text[]) AS u (session_id, question_id, value)
		 JOIN test_sessions s ON s.id = u.session_id AND s.status = 'ONGOING'
		 ON CONFLICT (session_id, question_id)
		 DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		sessions, questions, values,
	)
	return err
}

// GetBySession returns every draft of a session as an answer sheet.
func (r *AnswerDraftRepository) GetBySession(ctx context.Context, sessionID uuid.UUID) (model.AnswerSheet, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT question_id, value FROM answer_drafts WHERE session_id = $1`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sheet := make(model.AnswerSheet)
	for rows.Next() {
		var (
			qid uuid.UUID
			v   model.AnswerValue
		)
		if err := rows.Scan(&qid, &v); err != nil {
			return nil, err
		}
		sheet[qid.String()] = v
	}
	return sheet, rows.Err()
}
