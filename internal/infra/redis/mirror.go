package redis

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"assessment-sync/internal/domain"
)

const mirrorPrefix = "sync:pending:"

// Mirror keeps each subject's pending queue as one JSON value, shared by every
// client process pointed at the same Redis. Writes are last-write-wins.
type Mirror struct {
	client *redis.Client
	ttl    time.Duration
}

// NewMirror returns a Redis-backed mirror. A positive ttl bounds how long an
// abandoned queue survives.
func NewMirror(client *redis.Client, ttl time.Duration) *Mirror {
	return &Mirror{client: client, ttl: ttl}
}

func (m *Mirror) Save(ctx context.Context, subjectID string, entries []domain.PendingEntry) error {
	raw, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return m.client.Set(ctx, mirrorPrefix+subjectID, raw, m.ttl).Err()
}

func (m *Mirror) Load(ctx context.Context, subjectID string) ([]domain.PendingEntry, error) {
	raw, err := m.client.Get(ctx, mirrorPrefix+subjectID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entries []domain.PendingEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (m *Mirror) Discard(ctx context.Context, subjectID string) error {
	return m.client.Del(ctx, mirrorPrefix+subjectID).Err()
}

// Subjects lists subjects with mirrored work.
func (m *Mirror) Subjects(ctx context.Context) ([]string, error) {
	var out []string
	iter := m.client.Scan(ctx, 0, mirrorPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		out = append(out, strings.TrimPrefix(iter.Val(), mirrorPrefix))
	}
	return out, iter.Err()
}
