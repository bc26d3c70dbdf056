package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestAnswerMatchesByQuestionType(t *testing.T) {
	cases := []struct {
		name   string
		answer AnswerValue
		key    AnswerValue
		want   bool
	}{
		{"choice exact", Choice("o2"), Choice("o2"), true},
		{"choice wrong", Choice("o1"), Choice("o2"), false},
		{"set ignores order", Choices("b", "a"), Choices("a", "b"), true},
		{"set missing item", Choices("a"), Choices("a", "b"), false},
		{"ordering exact", Ordering("a", "b", "c"), Ordering("a", "b", "c"), true},
		{"ordering swapped", Ordering("b", "a", "c"), Ordering("a", "b", "c"), false},
		{"text folds case", FreeText("  Paris "), FreeText("paris"), true},
		{"kind mismatch", Choice("a"), Choices("a"), false},
		{"empty never matches", Choices(), Choices(), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.answer.Matches(tc.key); got != tc.want {
				t.Fatalf("Matches() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestAnswerValidateRejectsMixedPayload(t *testing.T) {
	if err := Choice("o1").Validate(); err != nil {
		t.Fatalf("valid choice rejected: %v", err)
	}
	bad := AnswerValue{Kind: AnswerChoice, Choice: "o1", Order: []string{"x"}}
	if err := bad.Validate(); !errors.Is(err, ErrInvalidAnswer) {
		t.Fatalf("expected ErrInvalidAnswer, got %v", err)
	}
	if err := (AnswerValue{Kind: "vote"}).Validate(); !errors.Is(err, ErrInvalidAnswer) {
		t.Fatalf("expected unknown kind rejected, got %v", err)
	}
}

func TestAnswerKeyDerivedFromOptions(t *testing.T) {
	multi := Question{ID: "q", Type: QuestionMultiSelect, Options: []Option{{ID: "a", Correct: true}, {ID: "b"}, {ID: "c", Correct: true}}}
	if key := multi.AnswerKey(); key.Kind != AnswerChoices || len(key.Choices) != 2 {
		t.Fatalf("unexpected multi-select key %+v", key)
	}

	order := Question{ID: "q", Type: QuestionOrdering, Options: []Option{{ID: "z"}, {ID: "y"}, {ID: "x"}}}
	if key := order.AnswerKey(); key.String() != "z > y > x" {
		t.Fatalf("unexpected ordering key %q", key.String())
	}

	explicit := Question{ID: "q", Type: QuestionShortAnswer, Key: FreeText("42")}
	if key := explicit.AnswerKey(); key.Text != "42" {
		t.Fatalf("explicit key ignored: %+v", key)
	}
}

func TestPublicHidesKey(t *testing.T) {
	q := Question{
		ID:      "q",
		Type:    QuestionOrdering,
		Options: []Option{{ID: "c", Correct: true}, {ID: "a"}, {ID: "b"}},
		Key:     Ordering("c", "a", "b"),
	}
	pub := q.Public()
	if !pub.Key.IsEmpty() {
		t.Fatalf("key leaked: %+v", pub.Key)
	}
	for i, want := range []string{"a", "b", "c"} {
		if pub.Options[i].ID != want || pub.Options[i].Correct {
			t.Fatalf("option %d = %+v", i, pub.Options[i])
		}
	}
	if q.Options[0].ID != "c" {
		t.Fatalf("original options mutated")
	}
}

func TestCrossedMilestone(t *testing.T) {
	cases := []struct {
		prev, next float64
		want       int
	}{
		{0, 10, 0},
		{0, 25, 25},
		{20, 60, 50},
		{0, 100, 100},
		{50, 50, 0},
		{80, 60, 0},
	}
	for _, tc := range cases {
		if got := CrossedMilestone(tc.prev, tc.next); got != tc.want {
			t.Fatalf("CrossedMilestone(%v, %v) = %d, want %d", tc.prev, tc.next, got, tc.want)
		}
	}
}

func TestStatusFor(t *testing.T) {
	if StatusFor(0, 0) != StatusNotStarted {
		t.Fatalf("expected not started")
	}
	if StatusFor(1, 20) != StatusInProgress {
		t.Fatalf("expected in progress")
	}
	if StatusFor(5, 100) != StatusCompleted {
		t.Fatalf("expected completed")
	}
}

func TestNewProgressSnapshotNormalises(t *testing.T) {
	at := time.Date(2024, 11, 22, 9, 0, 0, 0, time.UTC)
	s := NewProgressSnapshot(SubjectTutorial, "tut", "u", "s3", []string{"s2", "s1", "s2", ""}, 3, at)
	if len(s.CompletedPositions) != 2 || s.CompletedPositions[0] != "s1" {
		t.Fatalf("completed not normalised: %v", s.CompletedPositions)
	}
	if s.PercentComplete != 66.7 {
		t.Fatalf("expected 66.7, got %v", s.PercentComplete)
	}
	if PercentOf(5, 3) != 100 || PercentOf(1, 0) != 0 {
		t.Fatalf("PercentOf bounds broken")
	}
}

func TestValidateSnapshot(t *testing.T) {
	at := time.Date(2024, 11, 22, 9, 0, 0, 0, time.UTC)
	ok := NewProgressSnapshot(SubjectVideo, "vid", "u", "t=1", nil, 0, at)
	if err := ValidateSnapshot(ok); err != nil {
		t.Fatalf("valid snapshot rejected: %v", err)
	}

	noUser := ok
	noUser.UserID = ""
	if err := ValidateSnapshot(noUser); !errors.Is(err, ErrInvalidSnapshot) {
		t.Fatalf("expected missing user rejected, got %v", err)
	}

	over := ok
	over.PercentComplete = 120
	if err := ValidateSnapshot(over); !errors.Is(err, ErrInvalidSnapshot) {
		t.Fatalf("expected percent > 100 rejected, got %v", err)
	}

	answers := ok
	answers.Answers = map[string]AnswerValue{"q1": Choice("a")}
	if err := ValidateSnapshot(answers); !errors.Is(err, ErrInvalidSnapshot) {
		t.Fatalf("expected answers on video rejected, got %v", err)
	}

	badSubject := ok
	badSubject.Kind = SubjectAttempt
	if err := ValidateSnapshot(badSubject); !errors.Is(err, ErrInvalidSnapshot) {
		t.Fatalf("expected attempt subject without prefix rejected, got %v", err)
	}
}

func TestAttemptSubjectRoundTrip(t *testing.T) {
	id, ok := AttemptIDFromSubject(AttemptSubjectID("abc"))
	if !ok || id != "abc" {
		t.Fatalf("got %q %v", id, ok)
	}
	if _, ok := AttemptIDFromSubject("tut-1"); ok {
		t.Fatalf("expected non-attempt subject")
	}
}

func TestClassOf(t *testing.T) {
	cases := []struct {
		err   error
		class DeliveryClass
		ok    bool
	}{
		{Offline(errors.New("refused")), ClassOffline, true},
		{fmt.Errorf("wrapped: %w", Timeout(errors.New("slow"))), ClassTimeout, true},
		{Rejected(409, errors.New("closed")), ClassServerRejected, true},
		{StorageUnavailable(errors.New("disk")), ClassLocalStorageUnavailable, true},
		{context.DeadlineExceeded, ClassTimeout, true},
		{errors.New("boom"), "", false},
		{nil, "", false},
	}
	for _, tc := range cases {
		class, ok := ClassOf(tc.err)
		if class != tc.class || ok != tc.ok {
			t.Fatalf("ClassOf(%v) = %q %v, want %q %v", tc.err, class, ok, tc.class, tc.ok)
		}
	}

	var de *DeliveryError
	if err := Rejected(400, errors.New("bad")); !errors.As(err, &de) || de.Status != 400 {
		t.Fatalf("expected status carried, got %v", err)
	}
}
