package memory

import (
	"context"
	"sync"

	"assessment-sync/internal/domain"
)

// ProgressStore keeps the latest progress record per subject and user.
type ProgressStore struct {
	mu      sync.RWMutex
	records map[progressKey]domain.ProgressRecord
}

type progressKey struct {
	subjectID string
	userID    string
}

func NewProgressStore() *ProgressStore {
	return &ProgressStore{records: make(map[progressKey]domain.ProgressRecord)}
}

// Save applies last-write-wins on the snapshot's capture time.
func (s *ProgressStore) Save(_ context.Context, rec domain.ProgressRecord) (float64, bool, error) {
	key := progressKey{subjectID: rec.Snapshot.SubjectID, userID: rec.Snapshot.UserID}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.records[key]
	if ok && prev.Snapshot.CapturedAt.After(rec.Snapshot.CapturedAt) {
		return prev.Snapshot.PercentComplete, false, nil
	}
	rec.Snapshot = rec.Snapshot.Clone()
	s.records[key] = rec
	if !ok {
		return 0, true, nil
	}
	return prev.Snapshot.PercentComplete, true, nil
}

func (s *ProgressStore) Get(_ context.Context, subjectID, userID string) (domain.ProgressRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[progressKey{subjectID: subjectID, userID: userID}]
	if !ok {
		return domain.ProgressRecord{}, domain.ErrProgressNotFound
	}
	rec.Snapshot = rec.Snapshot.Clone()
	return rec, nil
}
