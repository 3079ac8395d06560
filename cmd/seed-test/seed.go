package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-session/internal/model"
	"gopkg.in/yaml.v3"
)

// TestFile is the YAML layout accepted by seed-test.
type TestFile struct {
	ID             string        `yaml:"id"`
	Name           string        `yaml:"name"`
	MaxAttempts    int           `yaml:"max_attempts"`
	TabLeaveLimit  int           `yaml:"tab_leave_limit"`
	MinimumScore   int           `yaml:"minimum_score"`
	AvailableFrom  *time.Time    `yaml:"available_from"`
	AvailableUntil *time.Time    `yaml:"available_until"`
	Sections       []SectionFile `yaml:"sections"`
}

type SectionFile struct {
	Title           string         `yaml:"title"`
	DurationMinutes int            `yaml:"duration_minutes"`
	Questions       []QuestionFile `yaml:"questions"`
}

type OptionFile struct {
	Key      string `yaml:"key"`
	Text     string `yaml:"text"`
	ImageURL string `yaml:"image_url"`
}

type QuestionFile struct {
	Prompt   string       `yaml:"prompt"`
	Type     string       `yaml:"type"`
	Category string       `yaml:"category"`
	Points   float64      `yaml:"points"`
	Options  []OptionFile `yaml:"options"`
	// Correct is a string for single-choice and free-text questions and a
	// list for multi-choice ones.
	Correct yaml.Node `yaml:"correct"`
}

func loadTestFile(filename string) (*TestFile, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tf := &TestFile{}
	if err := yaml.NewDecoder(f).Decode(tf); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filename, err)
	}
	return tf, nil
}

// toModel validates the file and converts it into a test definition.
func (tf *TestFile) toModel() (*model.Test, error) {
	if tf.Name == "" {
		return nil, errors.New("name is required")
	}
	if len(tf.Sections) == 0 {
		return nil, errors.New("at least one section is required")
	}
	if tf.MaxAttempts < 0 || tf.TabLeaveLimit < 0 {
		return nil, errors.New("max_attempts and tab_leave_limit must not be negative")
	}
	if tf.MinimumScore < 0 || tf.MinimumScore > 100 {
		return nil, errors.New("minimum_score must be between 0 and 100")
	}
	if tf.AvailableFrom != nil && tf.AvailableUntil != nil && !tf.AvailableFrom.Before(*tf.AvailableUntil) {
		return nil, errors.New("available_from must be before available_until")
	}

	t := &model.Test{
		Name:          tf.Name,
		MaxAttempts:   tf.MaxAttempts,
		TabLeaveLimit: tf.TabLeaveLimit,
		MinimumScore:  tf.MinimumScore,
		AvailableFrom: tf.AvailableFrom,
		AvailableTo:   tf.AvailableUntil,
	}
	if tf.ID != "" {
		id, err := uuid.Parse(tf.ID)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", tf.ID, err)
		}
		t.ID = id
	}

	for i, sf := range tf.Sections {
		if sf.DurationMinutes <= 0 {
			return nil, fmt.Errorf("section %d: duration_minutes must be positive", i+1)
		}
		s := model.Section{Title: sf.Title, OrderNum: i + 1, DurationMinutes: sf.DurationMinutes}
		for j, qf := range sf.Questions {
			q, err := qf.toModel(j + 1)
			if err != nil {
				return nil, fmt.Errorf("section %d question %d: %w", i+1, j+1, err)
			}
			s.Questions = append(s.Questions, q)
		}
		t.Sections = append(t.Sections, s)
	}
	return t, nil
}

func (qf QuestionFile) toModel(order int) (model.Question, error) {
	q := model.Question{
		Prompt:   qf.Prompt,
		Type:     model.QuestionType(qf.Type),
		Category: qf.Category,
		Points:   qf.Points,
		OrderNum: order,
	}
	for _, o := range qf.Options {
		q.Options = append(q.Options, model.Option{Key: o.Key, Text: o.Text, ImageURL: o.ImageURL})
	}
	if q.Points < 0 {
		return q, errors.New("points must not be negative")
	}

	switch qf.Correct.Kind {
	case yaml.ScalarNode:
		var v string
		if err := qf.Correct.Decode(&v); err != nil {
			return q, fmt.Errorf("correct: %w", err)
		}
		q.Correct = model.Scalar(v)
	case yaml.SequenceNode:
		var vs []string
		if err := qf.Correct.Decode(&vs); err != nil {
			return q, fmt.Errorf("correct: %w", err)
		}
		q.Correct = model.Set(vs...)
	case 0:
		return q, errors.New("correct is required")
	default:
		return q, errors.New("correct must be a string or a list of strings")
	}

	switch q.Type {
	case model.QuestionTypeSingleChoice, model.QuestionTypeFreeText:
		if q.Correct.Kind() != model.AnswerScalar {
			return q, fmt.Errorf("%s expects a single correct value", q.Type)
		}
	case model.QuestionTypeMultiChoice:
		if q.Correct.Kind() != model.AnswerSet {
			return q, fmt.Errorf("%s expects a list of correct values", q.Type)
		}
	default:
		return q, fmt.Errorf("unknown question type %q", qf.Type)
	}
	return q, nil
}
