package app

import (
	"sort"
	"sync"
	"time"

	"assessment-sync/internal/domain"
)

// Feed is the in-process live board for one subject.
type Feed struct {
	id          string
	now         func() time.Time
	mu          sync.RWMutex
	entries     map[string]domain.BoardEntry
	subscribers map[chan domain.ProgressBoard]struct{}
}

// NewFeed is exported for infrastructure layers that keep feeds.
func NewFeed(subjectID string) *Feed {
	return NewFeedWithClock(subjectID, time.Now)
}

// NewFeedWithClock is used in tests for deterministic timestamps.
func NewFeedWithClock(subjectID string, now func() time.Time) *Feed {
	return &Feed{
		id:          subjectID,
		now:         now,
		entries:     make(map[string]domain.BoardEntry),
		subscribers: make(map[chan domain.ProgressBoard]struct{}),
	}
}

// IsEmpty reports whether nobody is watching the feed.
func (f *Feed) IsEmpty() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subscribers) == 0
}

func (f *Feed) publish(entry domain.BoardEntry) domain.ProgressBoard {
	f.mu.Lock()
	defer f.mu.Unlock()
	if prev, ok := f.entries[entry.UserID]; ok && prev.UpdatedAt.After(entry.UpdatedAt) {
		return f.snapshotLocked()
	}
	f.entries[entry.UserID] = entry
	return f.broadcastLocked()
}

func (f *Feed) subscribe() (<-chan domain.ProgressBoard, func()) {
	ch := make(chan domain.ProgressBoard, 8)

	f.mu.Lock()
	f.subscribers[ch] = struct{}{}
	initial := f.snapshotLocked()
	f.mu.Unlock()

	ch <- initial

	cancel := func() {
		f.mu.Lock()
		if _, ok := f.subscribers[ch]; ok {
			delete(f.subscribers, ch)
			close(ch)
		}
		f.mu.Unlock()
	}
	return ch, cancel
}

func (f *Feed) broadcastLocked() domain.ProgressBoard {
	board := f.snapshotLocked()
	for ch := range f.subscribers {
		select {
		case ch <- board:
		default:
			// slow subscriber: replace its stale board
			select {
			case <-ch:
			default:
			}
			ch <- board
		}
	}
	return board
}

func (f *Feed) snapshotLocked() domain.ProgressBoard {
	entries := make([]domain.BoardEntry, 0, len(f.entries))
	for _, e := range f.entries {
		entries = append(entries, e)
	}
	// furthest along first, then whoever got there earlier
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].PercentComplete != entries[j].PercentComplete {
			return entries[i].PercentComplete > entries[j].PercentComplete
		}
		if !entries[i].UpdatedAt.Equal(entries[j].UpdatedAt) {
			return entries[i].UpdatedAt.Before(entries[j].UpdatedAt)
		}
		return entries[i].UserID < entries[j].UserID
	})
	return domain.ProgressBoard{
		SubjectID: f.id,
		Entries:   entries,
		UpdatedAt: f.now(),
	}
}
