package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assessment-sync/internal/domain"
)

func twoChoiceQuestions() []domain.Question {
	return []domain.Question{
		{
			ID:   "q1",
			Type: domain.QuestionSingleChoice,
			Options: []domain.Option{
				{ID: "a", Correct: true},
				{ID: "b"},
			},
			Points: 10,
		},
		{
			ID:   "q2",
			Type: domain.QuestionSingleChoice,
			Options: []domain.Option{
				{ID: "a"},
				{ID: "b", Correct: true},
			},
			Points: 10,
		},
	}
}

func TestScore_HalfCorrect(t *testing.T) {
	answers := map[string]domain.AnswerValue{
		"q1": domain.Choice("a"),
		"q2": domain.Choice("a"),
	}

	got := Score(twoChoiceQuestions(), answers, 50, nil)

	assert.Equal(t, 10.0, got.EarnedPoints)
	assert.Equal(t, 20.0, got.TotalPoints)
	assert.Equal(t, 50.0, got.Percent)
	assert.True(t, got.Passed)

	failed := Score(twoChoiceQuestions(), answers, 70, nil)
	assert.False(t, failed.Passed)
}

func TestScore_IsDeterministic(t *testing.T) {
	answers := map[string]domain.AnswerValue{"q1": domain.Choice("a")}
	first := Score(twoChoiceQuestions(), answers, 60, nil)
	for range 5 {
		assert.Equal(t, first, Score(twoChoiceQuestions(), answers, 60, nil))
	}
}

func TestScore_QuestionTypes(t *testing.T) {
	questions := []domain.Question{
		{ID: "multi", Type: domain.QuestionMultiSelect, Options: []domain.Option{
			{ID: "x", Correct: true}, {ID: "y"}, {ID: "z", Correct: true},
		}},
		{ID: "order", Type: domain.QuestionOrdering, Key: domain.Ordering("1", "2", "3"), Points: 2},
		{ID: "essay", Type: domain.QuestionEssay, Points: 5},
		{ID: "tf", Type: domain.QuestionTrueFalse, Key: domain.Choice("true")},
	}

	tests := []struct {
		name    string
		answers map[string]domain.AnswerValue
		manual  map[string]float64
		earned  float64
		percent float64
	}{
		{
			name: "multi select is order insensitive",
			answers: map[string]domain.AnswerValue{
				"multi": domain.Choices("z", "x"),
			},
			earned:  1,
			percent: 11.1,
		},
		{
			name: "ordering requires exact sequence",
			answers: map[string]domain.AnswerValue{
				"order": domain.Ordering("1", "3", "2"),
			},
			earned:  0,
			percent: 0,
		},
		{
			name: "essay earned comes from grader",
			answers: map[string]domain.AnswerValue{
				"essay": domain.FreeText("a long answer"),
				"order": domain.Ordering("1", "2", "3"),
			},
			manual:  map[string]float64{"essay": 4},
			earned:  6,
			percent: 66.7,
		},
		{
			name: "essay without grade earns nothing",
			answers: map[string]domain.AnswerValue{
				"essay": domain.FreeText("pending"),
				"tf":    domain.Choice("true"),
			},
			earned:  1,
			percent: 11.1,
		},
		{
			name: "wrong kind never matches",
			answers: map[string]domain.AnswerValue{
				"tf": domain.FreeText("true"),
			},
			earned:  0,
			percent: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(questions, tt.answers, 50, tt.manual)
			assert.Equal(t, 9.0, got.TotalPoints)
			assert.Equal(t, tt.earned, got.EarnedPoints)
			assert.Equal(t, tt.percent, got.Percent)
		})
	}
}

func TestScore_NoPoints(t *testing.T) {
	got := Score(nil, nil, 0, nil)
	assert.Equal(t, 0.0, got.Percent)
	assert.True(t, got.Passed)
}

func TestRecomputeKeepsManualPoints(t *testing.T) {
	quiz := domain.Quiz{
		ID:           "quiz-1",
		PassingGrade: 50,
		Questions: []domain.Question{
			{ID: "q1", Type: domain.QuestionSingleChoice, Key: domain.Choice("a")},
			{ID: "q2", Type: domain.QuestionEssay, Points: 3},
		},
	}
	answers := map[string]domain.AnswerValue{
		"q1": domain.Choice("a"),
		"q2": domain.FreeText("essay"),
	}
	server := Score(quiz.Questions, answers, quiz.PassingGrade, map[string]float64{"q2": 2})

	local := Recompute(quiz, answers, server)
	require.Equal(t, server, local)
	assert.Equal(t, 75.0, local.Percent)
}

func TestRevealAnswersSkipsFreeText(t *testing.T) {
	quiz := domain.Quiz{
		ID:           "quiz-1",
		PassingGrade: 50,
		Questions: []domain.Question{
			{ID: "q1", Type: domain.QuestionSingleChoice, Key: domain.Choice("a")},
			{ID: "q2", Type: domain.QuestionEssay},
		},
	}
	answers := map[string]domain.AnswerValue{"q1": domain.Choice("b")}
	server := Score(quiz.Questions, answers, quiz.PassingGrade, nil)
	RevealAnswers(quiz.Questions, &server)
	server.CanRetake = true

	require.NotNil(t, server.Breakdown[0].CorrectAnswer)
	assert.Equal(t, "a", server.Breakdown[0].CorrectAnswer.Choice)
	assert.Nil(t, server.Breakdown[1].CorrectAnswer)

	local := Recompute(quiz, answers, server)
	assert.True(t, local.CanRetake)
	require.NotNil(t, local.Breakdown[0].CorrectAnswer)
	assert.Equal(t, "a", local.Breakdown[0].CorrectAnswer.Choice)
}

func TestUnanswered(t *testing.T) {
	answers := map[string]domain.AnswerValue{
		"q1": domain.Choice("a"),
		"q3": domain.FreeText("   "),
	}
	assert.Equal(t, []string{"q2", "q3"}, Unanswered([]string{"q1", "q2", "q3"}, answers))
}
