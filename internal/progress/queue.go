package progress

import (
	"time"

	"assessment-sync/internal/domain"
)

// DefaultMaxBatchSize bounds a subject's pending queue.
const DefaultMaxBatchSize = 10

// Queue buffers pending snapshots for one subject. Only the newest entry is ever
// transmitted; older entries are kept as short audit history and evicted FIFO.
// Queue is not safe for concurrent use; the Scheduler serialises access.
type Queue struct {
	max     int
	entries []domain.PendingEntry
	nextSeq uint64
}

func NewQueue(maxBatchSize int) *Queue {
	if maxBatchSize <= 0 {
		maxBatchSize = DefaultMaxBatchSize
	}
	return &Queue{max: maxBatchSize}
}

// Enqueue appends a snapshot and evicts the oldest entry past the bound.
func (q *Queue) Enqueue(snapshot domain.ProgressSnapshot, at time.Time) domain.PendingEntry {
	q.nextSeq++
	entry := domain.PendingEntry{
		Seq:        q.nextSeq,
		Snapshot:   snapshot.Clone(),
		EnqueuedAt: at,
	}
	q.entries = append(q.entries, entry)
	if len(q.entries) > q.max {
		q.entries = append(q.entries[:0:0], q.entries[len(q.entries)-q.max:]...)
	}
	return entry
}

// Latest returns the most recently enqueued entry.
func (q *Queue) Latest() (domain.PendingEntry, bool) {
	if len(q.entries) == 0 {
		return domain.PendingEntry{}, false
	}
	return q.entries[len(q.entries)-1], true
}

// Clear empties the queue.
func (q *Queue) Clear() {
	q.entries = nil
}

// ClearThrough drops every entry with seq <= seq and reports how many remain.
// Entries enqueued while a request was in flight survive an acknowledgement.
func (q *Queue) ClearThrough(seq uint64) int {
	kept := q.entries[:0]
	for _, e := range q.entries {
		if e.Seq > seq {
			kept = append(kept, e)
		}
	}
	q.entries = kept
	if len(q.entries) == 0 {
		q.entries = nil
	}
	return len(q.entries)
}

// Len returns the number of pending entries.
func (q *Queue) Len() int {
	return len(q.entries)
}

// Entries returns a copy suitable for persisting.
func (q *Queue) Entries() []domain.PendingEntry {
	out := make([]domain.PendingEntry, len(q.entries))
	copy(out, q.entries)
	return out
}

// Restore replaces the contents with persisted entries, keeping the newest
// max entries and continuing the sequence after the highest restored seq.
func (q *Queue) Restore(entries []domain.PendingEntry) {
	if len(entries) > q.max {
		entries = entries[len(entries)-q.max:]
	}
	q.entries = append([]domain.PendingEntry(nil), entries...)
	for _, e := range q.entries {
		if e.Seq > q.nextSeq {
			q.nextSeq = e.Seq
		}
	}
	if len(q.entries) == 0 {
		q.entries = nil
	}
}
