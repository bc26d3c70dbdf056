package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"assessment-sync/internal/domain"
)

// Mirror is an in-process PersistentMirror. Entries are stored serialised so
// loads behave like a real durable store (no aliasing of caller slices).
type Mirror struct {
	mu      sync.RWMutex
	records map[string][]byte
}

func NewMirror() *Mirror {
	return &Mirror{records: make(map[string][]byte)}
}

func (m *Mirror) Save(_ context.Context, subjectID string, entries []domain.PendingEntry) error {
	raw, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.records[subjectID] = raw
	m.mu.Unlock()
	return nil
}

func (m *Mirror) Load(_ context.Context, subjectID string) ([]domain.PendingEntry, error) {
	m.mu.RLock()
	raw, ok := m.records[subjectID]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	var entries []domain.PendingEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (m *Mirror) Discard(_ context.Context, subjectID string) error {
	m.mu.Lock()
	delete(m.records, subjectID)
	m.mu.Unlock()
	return nil
}

// Subjects lists subjects with mirrored work.
func (m *Mirror) Subjects(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.records))
	for id := range m.records {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}
