package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-session/internal/model"
)

// TestRepository reads test definitions. The session engine never writes them
// outside of seeding.
type TestRepository struct {
	pool *pgxpool.Pool
}

// NewTestRepository creates a new TestRepository.
func NewTestRepository(pool *pgxpool.Pool) *TestRepository {
	return &TestRepository{pool: pool}
}

// GetByID loads a test with its sections and questions, in order.
func (r *TestRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Test, error) {
	t := &model.Test{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, max_attempts, tab_leave_limit, minimum_score, available_from, available_until
		 FROM tests WHERE id = $1`, id,
	).Scan(&t.ID, &t.Name, &t.MaxAttempts, &t.TabLeaveLimit, &t.MinimumScore, &t.AvailableFrom, &t.AvailableTo)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, title, order_num, duration_minutes
		 FROM sections WHERE test_id = $1
		 ORDER BY order_num, id`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("list sections: %w", err)
	}
	sections, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Section, error) {
		var s model.Section
		err := row.Scan(&s.ID, &s.Title, &s.OrderNum, &s.DurationMinutes)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan sections: %w", err)
	}

	index := make(map[uuid.UUID]int, len(sections))
	for i, s := range sections {
		index[s.ID] = i
	}

	qrows, err := r.pool.Query(ctx,
		`SELECT q.id, q.section_id, q.prompt, q.type, q.category, q.options, q.correct, q.points, q.order_num
		 FROM questions q
		 JOIN sections s ON s.id = q.section_id
		 WHERE s.test_id = $1
		 ORDER BY s.order_num, s.id, q.order_num, q.id`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer qrows.Close()

	for qrows.Next() {
		var (
			q         model.Question
			sectionID uuid.UUID
		)
		if err := qrows.Scan(&q.ID, &sectionID, &q.Prompt, &q.Type, &q.Category,
			&q.Options, &q.Correct, &q.Points, &q.OrderNum); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		if i, ok := index[sectionID]; ok {
			sections[i].Questions = append(sections[i].Questions, q)
		}
	}
	if err := qrows.Err(); err != nil {
		return nil, err
	}

	t.Sections = sections
	return t, nil
}

// Create inserts a full test definition in one transaction. IDs left as
// uuid.Nil are generated.
func (r *TestRepository) Create(ctx context.Context, t *model.Test) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO tests (id, name, max_attempts, tab_leave_limit, minimum_score, available_from, available_until)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.Name, t.MaxAttempts, t.TabLeaveLimit, t.MinimumScore, t.AvailableFrom, t.AvailableTo,
	); err != nil {
		return fmt.Errorf("insert test: %w", err)
	}

	batch := &pgx.Batch{}
	for i := range t.Sections {
		s := &t.Sections[i]
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
		batch.Queue(
			`INSERT INTO sections (id, test_id, title, order_num, duration_minutes) VALUES ($1, $2, $3, $4, $5)`,
			s.ID, t.ID, s.Title, s.OrderNum, s.DurationMinutes,
		)
		for j := range s.Questions {
			q := &s.Questions[j]
			if q.ID == uuid.Nil {
				q.ID = uuid.New()
			}
			correct, err := q.Correct.MarshalJSON()
			if err != nil {
				return fmt.Errorf("encode answer key for %s: %w", q.ID, err)
			}
			options := q.Options
			if options == nil {
				options = []model.Option{}
			}
			batch.Queue(
				`INSERT INTO questions (id, section_id, prompt, type, category, options, correct, points, order_num)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				q.ID, s.ID, q.Prompt, q.Type, q.Category, options, correct, q.Points, q.OrderNum,
			)
		}
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert sections: %w", err)
	}
	return tx.Commit(ctx)
}
