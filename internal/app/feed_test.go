package app

import (
	"testing"
	"time"

	"assessment-sync/internal/domain"
)

func TestFeedOrdersBoardAndIgnoresStaleRows(t *testing.T) {
	at := time.Date(2024, 11, 22, 9, 0, 0, 0, time.UTC)
	feed := NewFeedWithClock("tut-1", func() time.Time { return at })

	board, cancel := feed.subscribe()
	defer cancel()
	if initial := <-board; len(initial.Entries) != 0 || !initial.UpdatedAt.Equal(at) {
		t.Fatalf("unexpected initial board %+v", initial)
	}

	feed.publish(domain.BoardEntry{UserID: "u1", PercentComplete: 25, UpdatedAt: at})
	<-board
	feed.publish(domain.BoardEntry{UserID: "u2", PercentComplete: 50, UpdatedAt: at.Add(time.Second)})
	got := <-board
	if len(got.Entries) != 2 || got.Entries[0].UserID != "u2" || got.Entries[1].UserID != "u1" {
		t.Fatalf("expected u2 ahead of u1, got %+v", got.Entries)
	}

	// an older row from another tab must not replace the newer one
	stale := feed.publish(domain.BoardEntry{UserID: "u2", PercentComplete: 10, UpdatedAt: at})
	if stale.Entries[0].UserID != "u2" || stale.Entries[0].PercentComplete != 50 {
		t.Fatalf("stale row applied: %+v", stale.Entries)
	}

	if feed.IsEmpty() {
		t.Fatalf("expected a subscriber")
	}
	cancel()
	if !feed.IsEmpty() {
		t.Fatalf("expected feed empty after cancel")
	}
}
