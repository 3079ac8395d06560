package model

import (
	"time"

	"github.com/google/uuid"
)

// QuestionType enumerates supported question shapes.
type QuestionType string

const (
	QuestionTypeSingleChoice QuestionType = "SINGLE_CHOICE"
	QuestionTypeMultiChoice  QuestionType = "MULTI_CHOICE"
	QuestionTypeFreeText     QuestionType = "FREE_TEXT"
)

// Test is a read-only test definition as consumed by the session engine.
type Test struct {
	ID            uuid.UUID  `json:"id"`
	Name          string     `json:"name"`
	MaxAttempts   int        `json:"max_attempts"`    // 0 = unlimited
	TabLeaveLimit int        `json:"tab_leave_limit"` // 0 = unlimited
	MinimumScore  int        `json:"minimum_score"`   // pass threshold, percent
	AvailableFrom *time.Time `json:"available_from,omitempty"`
	AvailableTo   *time.Time `json:"available_until,omitempty"`
	Sections      []Section  `json:"sections"`
}

// Section groups questions. Its duration only contributes to the test total.
type Section struct {
	ID              uuid.UUID  `json:"id"`
	Title           string     `json:"title"`
	OrderNum        int        `json:"order_num"`
	DurationMinutes int        `json:"duration_minutes"`
	Questions       []Question `json:"questions"`
}

// Option is one selectable choice; either Text or ImageURL is set.
type Option struct {
	Key      string `json:"key"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// Question is a single gradable item.
type Question struct {
	ID       uuid.UUID    `json:"id"`
	Prompt   string       `json:"prompt"`
	Type     QuestionType `json:"type"`
	Category string       `json:"category"`
	Options  []Option     `json:"options"`
	Correct  AnswerValue  `json:"correct"`
	Points   float64      `json:"points"`
	OrderNum int          `json:"order_num"`
}

// DurationMinutes is the sum of the section durations.
func (t *Test) DurationMinutes() int {
	total := 0
	for _, s := range t.Sections {
		total += s.DurationMinutes
	}
	return total
}

// Questions returns every question in section order.
func (t *Test) Questions() []Question {
	var qs []Question
	for _, s := range t.Sections {
		qs = append(qs, s.Questions...)
	}
	return qs
}

// MaxScore is the sum of the point values of all questions.
func (t *Test) MaxScore() float64 {
	var total float64
	for _, s := range t.Sections {
		for _, q := range s.Questions {
			total += q.Points
		}
	}
	return total
}

// WindowOpen reports whether now lies within the access window. A nil bound
// leaves that side open.
func (t *Test) WindowOpen(now time.Time) bool {
	if t.AvailableFrom != nil && now.Before(*t.AvailableFrom) {
		return false
	}
	if t.AvailableTo != nil && now.After(*t.AvailableTo) {
		return false
	}
	return true
}

// TestPaper is the participant-facing view of a test (no correct answers).
type TestPaper struct {
	TestID          uuid.UUID      `json:"test_id"`
	Name            string         `json:"name"`
	DurationMinutes int            `json:"duration_minutes"`
	TabLeaveLimit   int            `json:"tab_leave_limit"`
	Sections        []SectionPaper `json:"sections"`
}

type SectionPaper struct {
	ID        uuid.UUID       `json:"id"`
	Title     string          `json:"title"`
	Questions []QuestionPaper `json:"questions"`
}

type QuestionPaper struct {
	ID      uuid.UUID    `json:"id"`
	Prompt  string       `json:"prompt"`
	Type    QuestionType `json:"type"`
	Options []Option     `json:"options"`
	Points  float64      `json:"points"`
}

// Paper strips the answer keys from a test.
func (t *Test) Paper() TestPaper {
	p := TestPaper{
		TestID:          t.ID,
		Name:            t.Name,
		DurationMinutes: t.DurationMinutes(),
		TabLeaveLimit:   t.TabLeaveLimit,
		Sections:        make([]SectionPaper, 0, len(t.Sections)),
	}
	for _, s := range t.Sections {
		sp := SectionPaper{ID: s.ID, Title: s.Title, Questions: make([]QuestionPaper, 0, len(s.Questions))}
		for _, q := range s.Questions {
			sp.Questions = append(sp.Questions, QuestionPaper{
				ID:      q.ID,
				Prompt:  q.Prompt,
				Type:    q.Type,
				Options: q.Options,
				Points:  q.Points,
			})
		}
		p.Sections = append(p.Sections, sp)
	}
	return p
}
