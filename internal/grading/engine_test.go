package grading

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func question(category string, points float64, correct model.AnswerValue) model.Question {
	return model.Question{
		ID:       uuid.New(),
		Category: category,
		Points:   points,
		Correct:  correct,
		Type:     model.QuestionTypeSingleChoice,
	}
}

func sampleTest() *model.Test {
	return &model.Test{
		ID:           uuid.New(),
		Name:         "Sample",
		MinimumScore: 60,
		Sections: []model.Section{
			{
				DurationMinutes: 30,
				Questions: []model.Question{
					question("math", 2, model.Scalar("B")),
					question("math", 3, model.Set("A", "C")),
				},
			},
			{
				DurationMinutes: 30,
				Questions: []model.Question{
					question("verbal", 5, model.Scalar("apple")),
				},
			},
		},
	}
}

func allCorrect(test *model.Test) model.AnswerSheet {
	sheet := model.AnswerSheet{}
	for _, q := range test.Questions() {
		sheet[q.ID.String()] = q.Correct
	}
	return sheet
}

func TestGrade_AllCorrect(t *testing.T) {
	test := sampleTest()

	rep := NewEngine().Grade(test, allCorrect(test))

	assert.Equal(t, 10.0, rep.Score)
	assert.Equal(t, 10.0, rep.MaxScore)
	assert.Equal(t, 100, rep.Percentage)
	assert.True(t, rep.Passed)
	require.Len(t, rep.Categories, 2)
	assert.Equal(t, model.CategoryScore{Category: "math", Score: 5, MaxScore: 5, Percentage: 100}, rep.Categories[0])
	assert.Equal(t, model.CategoryScore{Category: "verbal", Score: 5, MaxScore: 5, Percentage: 100}, rep.Categories[1])
}

func TestGrade_UnansweredScoresZero(t *testing.T) {
	test := sampleTest()
	qs := test.Questions()

	sheet := model.AnswerSheet{
		qs[0].ID.String(): model.Scalar("B"),
		qs[1].ID.String(): model.Set("C", "A"),
	}

	rep := NewEngine().Grade(test, sheet)

	assert.Equal(t, 5.0, rep.Score)
	assert.Equal(t, 10.0, rep.MaxScore)
	assert.Equal(t, 50, rep.Percentage)
	assert.False(t, rep.Passed)
	require.Len(t, rep.Questions, 3)
	assert.False(t, rep.Questions[2].Answered)
	assert.Equal(t, 0.0, rep.Questions[2].Points)
	assert.Equal(t, 0, rep.Categories[1].Percentage)
}

func TestGrade_PartialSetGetsNoCredit(t *testing.T) {
	test := sampleTest()
	qs := test.Questions()

	rep := NewEngine().Grade(test, model.AnswerSheet{qs[1].ID.String(): model.Set("A")})

	assert.True(t, rep.Questions[1].Answered)
	assert.False(t, rep.Questions[1].Correct)
	assert.Equal(t, 0.0, rep.Score)
}

func TestGrade_UnknownQuestionIgnored(t *testing.T) {
	test := sampleTest()

	rep := NewEngine().Grade(test, model.AnswerSheet{uuid.NewString(): model.Scalar("B")})

	assert.Equal(t, 0.0, rep.Score)
	assert.Equal(t, 10.0, rep.MaxScore)
}

func TestGrade_ZeroMaxScore(t *testing.T) {
	test := &model.Test{MinimumScore: 0, Sections: []model.Section{{}}}

	rep := NewEngine().Grade(test, nil)

	assert.Equal(t, 0, rep.Percentage)
	assert.True(t, rep.Passed)
	assert.Empty(t, rep.Categories)
}

func TestGrade_PassThresholdInclusive(t *testing.T) {
	test := sampleTest()
	test.MinimumScore = 50
	qs := test.Questions()

	rep := NewEngine().Grade(test, model.AnswerSheet{qs[2].ID.String(): model.Scalar("apple")})

	assert.Equal(t, 50, rep.Percentage)
	assert.True(t, rep.Passed)
}

func TestGrade_Deterministic(t *testing.T) {
	test := sampleTest()
	qs := test.Questions()
	sheet := model.AnswerSheet{
		qs[0].ID.String(): model.Scalar(" B "),
		qs[1].ID.String(): model.Set("C", "A"),
		qs[2].ID.String(): model.Scalar("Apple"),
	}
	e := NewEngine()

	first, err := json.Marshal(e.Grade(test, sheet))
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := json.Marshal(e.Grade(test, sheet))
		require.NoError(t, err)
		assert.Equal(t, string(first), string(again))
	}
}

func TestPercentage(t *testing.T) {
	assert.Equal(t, 0, Percentage(3, 0))
	assert.Equal(t, 67, Percentage(2, 3))
	assert.Equal(t, 33, Percentage(1, 3))
	assert.Equal(t, 100, Percentage(7, 7))
}
