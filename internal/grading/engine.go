// Package grading turns a participant's answers into a score, a per-category
// breakdown and a pass/fail verdict. It is pure: no clock, no I/O, no
// randomness, so grading the same input twice yields identical output.
package grading

import (
	"math"
	"sort"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-session/internal/model"
)

// QuestionResult is the outcome for a single question.
type QuestionResult struct {
	QuestionID uuid.UUID         `json:"question_id"`
	Category   string            `json:"category"`
	Answered   bool              `json:"answered"`
	Correct    bool              `json:"correct"`
	Points     float64           `json:"points"`
	MaxPoints  float64           `json:"max_points"`
	Value      model.AnswerValue `json:"value"`
}

// Report is the aggregate result of grading one session.
type Report struct {
	Score      float64               `json:"score"`
	MaxScore   float64               `json:"max_score"`
	Percentage int                   `json:"percentage"`
	Passed     bool                  `json:"passed"`
	Categories []model.CategoryScore `json:"categories"`
	Questions  []QuestionResult      `json:"questions"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithCaseSensitive controls scalar comparison. Default is case-sensitive.
func WithCaseSensitive(b bool) Option { return func(e *Engine) { e.caseSensitive = b } }

// Engine grades answer sheets against a test's answer keys.
type Engine struct {
	caseSensitive bool
}

// NewEngine creates an Engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{caseSensitive: true}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Grade scores answers against every question of test. Unanswered questions
// and answers to unknown questions contribute zero points.
func (e *Engine) Grade(test *model.Test, answers model.AnswerSheet) Report {
	questions := test.Questions()

	rep := Report{
		Questions: make([]QuestionResult, 0, len(questions)),
	}

	type subtotal struct{ score, max float64 }
	byCategory := make(map[string]*subtotal)

	for _, q := range questions {
		qr := QuestionResult{
			QuestionID: q.ID,
			Category:   q.Category,
			MaxPoints:  q.Points,
		}

		if v, ok := answers[q.ID.String()]; ok && !v.IsZero() {
			qr.Answered = true
			qr.Value = v
			qr.Correct = e.Match(q.Correct, v)
			if qr.Correct {
				qr.Points = q.Points
			}
		}

		rep.Score += qr.Points
		rep.MaxScore += qr.MaxPoints

		st, ok := byCategory[q.Category]
		if !ok {
			st = &subtotal{}
			byCategory[q.Category] = st
		}
		st.score += qr.Points
		st.max += qr.MaxPoints

		rep.Questions = append(rep.Questions, qr)
	}

	names := make([]string, 0, len(byCategory))
	for name := range byCategory {
		names = append(names, name)
	}
	sort.Strings(names)

	rep.Categories = make([]model.CategoryScore, 0, len(names))
	for _, name := range names {
		st := byCategory[name]
		rep.Categories = append(rep.Categories, model.CategoryScore{
			Category:   name,
			Score:      st.score,
			MaxScore:   st.max,
			Percentage: Percentage(st.score, st.max),
		})
	}

	rep.Percentage = Percentage(rep.Score, rep.MaxScore)
	rep.Passed = rep.Percentage >= test.MinimumScore
	return rep
}

// Percentage returns round(score / max * 100), or 0 when max is 0.
func Percentage(score, max float64) int {
	if max <= 0 {
		return 0
	}
	return int(math.Round(score / max * 100))
}
