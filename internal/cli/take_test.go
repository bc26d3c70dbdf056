package cli

import (
	"testing"

	"assessment-sync/internal/domain"
)

func TestParseAnswer(t *testing.T) {
	single := domain.Question{ID: "q1", Type: domain.QuestionSingleChoice, Options: []domain.Option{{ID: "o1"}, {ID: "o2"}}}
	multi := domain.Question{ID: "q2", Type: domain.QuestionMultiSelect}
	order := domain.Question{ID: "q3", Type: domain.QuestionOrdering}
	essay := domain.Question{ID: "q4", Type: domain.QuestionEssay}

	got, err := parseAnswer(single, "o2")
	if err != nil || got.Kind != domain.AnswerChoice || got.Choice != "o2" {
		t.Fatalf("single: %+v %v", got, err)
	}
	if _, err := parseAnswer(single, "o9"); err == nil {
		t.Fatalf("expected unknown option error")
	}

	got, err = parseAnswer(multi, "a, c ,")
	if err != nil || got.Kind != domain.AnswerChoices || len(got.Choices) != 2 || got.Choices[1] != "c" {
		t.Fatalf("multi: %+v %v", got, err)
	}

	got, err = parseAnswer(order, "c,b,a")
	if err != nil || got.Kind != domain.AnswerOrdering || got.Order[0] != "c" {
		t.Fatalf("ordering: %+v %v", got, err)
	}

	got, err = parseAnswer(essay, "free form, with commas")
	if err != nil || got.Text != "free form, with commas" {
		t.Fatalf("essay: %+v %v", got, err)
	}

	if _, err := parseAnswer(single, ""); err == nil {
		t.Fatalf("expected empty answer error")
	}
}
