package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"assessment-sync/internal/domain"
)

func TestFeedStoreSetsAndClearsKeys(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	store := NewFeedStore(newClient(mr), time.Minute)

	_ = store.GetOrCreate("tut-1")
	if !mr.Exists("progress:feed:tut-1") {
		t.Fatalf("expected redis key to be set")
	}
	if watched, err := store.Watched(context.Background(), "tut-1"); err != nil || !watched {
		t.Fatalf("expected watched, got %v %v", watched, err)
	}

	store.DeleteIfEmpty("tut-1")
	if mr.Exists("progress:feed:tut-1") {
		t.Fatalf("expected redis key to be removed")
	}
}

func TestMirrorPersistsPendingQueue(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	m := NewMirror(newClient(mr), time.Hour)
	ctx := context.Background()

	if got, err := m.Load(ctx, "tut-1"); err != nil || got != nil {
		t.Fatalf("expected empty load, got %v %v", got, err)
	}

	at := time.Date(2024, 11, 22, 9, 0, 0, 0, time.UTC)
	snap := domain.NewProgressSnapshot(domain.SubjectVideo, "vid-1", "u1", "t=42", []string{"chapter-1"}, 4, at)
	entries := []domain.PendingEntry{{Seq: 7, Snapshot: snap, EnqueuedAt: at}}
	if err := m.Save(ctx, "vid-1", entries); err != nil {
		t.Fatalf("save: %v", err)
	}
	if !mr.Exists("sync:pending:vid-1") {
		t.Fatalf("expected pending key")
	}
	if ttl := mr.TTL("sync:pending:vid-1"); ttl != time.Hour {
		t.Fatalf("expected ttl 1h, got %v", ttl)
	}

	got, err := m.Load(ctx, "vid-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 || got[0].Seq != 7 || got[0].Snapshot.PercentComplete != 25 || !got[0].Snapshot.CapturedAt.Equal(at) {
		t.Fatalf("unexpected entries %+v", got)
	}

	subjects, err := m.Subjects(ctx)
	if err != nil || len(subjects) != 1 || subjects[0] != "vid-1" {
		t.Fatalf("unexpected subjects %v %v", subjects, err)
	}

	if err := m.Discard(ctx, "vid-1"); err != nil {
		t.Fatalf("discard: %v", err)
	}
	if mr.Exists("sync:pending:vid-1") {
		t.Fatalf("expected pending key removed")
	}
}
