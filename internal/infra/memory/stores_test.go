package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"assessment-sync/internal/domain"
)

func TestProgressStoreLastWriteWins(t *testing.T) {
	store := NewProgressStore()
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	newer := record("tut-1", "s3", 75, base.Add(time.Minute))
	older := record("tut-1", "s1", 25, base)

	prev, applied, err := store.Save(ctx, newer)
	if err != nil || !applied || prev != 0 {
		t.Fatalf("first save: prev=%v applied=%v err=%v", prev, applied, err)
	}
	prev, applied, err = store.Save(ctx, older)
	if err != nil || applied {
		t.Fatalf("older snapshot should be ignored: applied=%v err=%v", applied, err)
	}
	if prev != 75 {
		t.Fatalf("expected stored percent 75, got %v", prev)
	}

	// Re-delivering the same snapshot is harmless.
	if _, applied, _ = store.Save(ctx, newer); !applied {
		t.Fatalf("expected identical snapshot to apply")
	}
	got, err := store.Get(ctx, "tut-1", "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Snapshot.CurrentPosition != "s3" {
		t.Fatalf("expected s3, got %s", got.Snapshot.CurrentPosition)
	}

	if _, err := store.Get(ctx, "tut-1", "someone-else"); !errors.Is(err, domain.ErrProgressNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAttemptStoreCompletesOnce(t *testing.T) {
	store := NewAttemptStore()
	ctx := context.Background()
	now := time.Now()

	if err := store.Create(ctx, domain.AttemptRecord{ID: "a1", QuizID: "quiz-1", UserID: "u1", Status: domain.AttemptOpen, StartedAt: now}); err != nil {
		t.Fatalf("create: %v", err)
	}
	answers := map[string]domain.AnswerValue{"q1": domain.Choice("o2")}
	captured := now.Add(-time.Hour)
	if err := store.SaveAnswers(ctx, "a1", 1, answers, captured, now.Add(time.Second)); err != nil {
		t.Fatalf("save answers: %v", err)
	}
	answers["q1"] = domain.Choice("mutated")

	rec, _ := store.Get(ctx, "a1")
	if rec.Answers["q1"].Choice != "o2" || rec.QuestionIndex != 1 {
		t.Fatalf("unexpected stored attempt %+v", rec)
	}
	if rec.CapturedAt == nil || !rec.CapturedAt.Equal(captured) || !rec.SavedAt.Equal(now.Add(time.Second)) {
		t.Fatalf("client and server timestamps mixed up: %+v", rec)
	}

	result := domain.ScoreResult{EarnedPoints: 1, TotalPoints: 1, Percent: 100, Passed: true}
	if err := store.Complete(ctx, "a1", rec.Answers, result, now); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := store.Complete(ctx, "a1", rec.Answers, result, now); !errors.Is(err, domain.ErrAttemptClosed) {
		t.Fatalf("expected closed on second complete, got %v", err)
	}
	if err := store.SaveAnswers(ctx, "a1", 0, nil, now, now); !errors.Is(err, domain.ErrAttemptClosed) {
		t.Fatalf("expected closed autosave, got %v", err)
	}
	if _, err := store.Get(ctx, "missing"); !errors.Is(err, domain.ErrAttemptNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAttemptStoreCountsPerQuizAndUser(t *testing.T) {
	store := NewAttemptStore()
	ctx := context.Background()

	for _, rec := range []domain.AttemptRecord{
		{ID: "a1", QuizID: "quiz-1", UserID: "u1", Status: domain.AttemptSubmitted},
		{ID: "a2", QuizID: "quiz-1", UserID: "u1", Status: domain.AttemptOpen},
		{ID: "a3", QuizID: "quiz-1", UserID: "u2", Status: domain.AttemptOpen},
		{ID: "a4", QuizID: "quiz-2", UserID: "u1", Status: domain.AttemptOpen},
	} {
		if err := store.Create(ctx, rec); err != nil {
			t.Fatalf("create %s: %v", rec.ID, err)
		}
	}
	n, err := store.CountAttempts(ctx, "quiz-1", "u1")
	if err != nil || n != 2 {
		t.Fatalf("expected 2 attempts, got %d %v", n, err)
	}
}

func TestFeedStoreLifecycle(t *testing.T) {
	store := NewFeedStore()

	feed := store.GetOrCreate("tut-1")
	if feed == nil {
		t.Fatalf("expected feed")
	}
	if _, ok := store.Get("tut-1"); !ok {
		t.Fatalf("expected feed present")
	}

	store.DeleteIfEmpty("tut-1")
	if _, ok := store.Get("tut-1"); ok {
		t.Fatalf("expected feed removed when nobody watches")
	}
}

func TestMirrorRoundTrip(t *testing.T) {
	m := NewMirror()
	ctx := context.Background()
	entries := []domain.PendingEntry{
		{Seq: 4, Snapshot: record("tut-1", "s2", 50, time.Unix(10, 0)).Snapshot, EnqueuedAt: time.Unix(10, 0).UTC()},
	}

	if err := m.Save(ctx, "tut-1", entries); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := m.Load(ctx, "tut-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 || got[0].Seq != 4 || got[0].Snapshot.CurrentPosition != "s2" {
		t.Fatalf("unexpected entries %+v", got)
	}
	subjects, _ := m.Subjects(ctx)
	if len(subjects) != 1 || subjects[0] != "tut-1" {
		t.Fatalf("unexpected subjects %v", subjects)
	}

	_ = m.Discard(ctx, "tut-1")
	if got, _ := m.Load(ctx, "tut-1"); len(got) != 0 {
		t.Fatalf("expected empty after discard")
	}
}

func record(subject, pos string, percent float64, at time.Time) domain.ProgressRecord {
	s := domain.NewProgressSnapshot(domain.SubjectTutorial, subject, "u1", pos, []string{pos}, 0, at)
	s.PercentComplete = percent
	return domain.ProgressRecord{Snapshot: s, Status: domain.StatusFor(1, percent), UpdatedAt: at}
}
