package redis

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"assessment-sync/internal/app"
)

// FeedStore is a Redis-aware implementation of app.FeedRepository.
// Feeds and their subscribers live in process; Redis only carries a liveness
// marker per watched subject so other instances can tell a board is open.
type FeedStore struct {
	client *redis.Client
	ttl    time.Duration
	mu     sync.RWMutex
	feeds  map[string]*app.Feed
}

func NewFeedStore(client *redis.Client, ttl time.Duration) *FeedStore {
	return &FeedStore{
		client: client,
		ttl:    ttl,
		feeds:  make(map[string]*app.Feed),
	}
}

func (s *FeedStore) GetOrCreate(subjectID string) *app.Feed {
	s.mu.Lock()
	defer s.mu.Unlock()
	if feed, ok := s.feeds[subjectID]; ok {
		return feed
	}
	feed := app.NewFeed(subjectID)
	s.feeds[subjectID] = feed
	_ = s.client.Set(context.Background(), feedKey(subjectID), "1", s.ttl).Err()
	return feed
}

func (s *FeedStore) Get(subjectID string) (*app.Feed, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	feed, ok := s.feeds[subjectID]
	return feed, ok
}

func (s *FeedStore) DeleteIfEmpty(subjectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	feed, ok := s.feeds[subjectID]
	if !ok {
		return
	}
	if feed.IsEmpty() {
		delete(s.feeds, subjectID)
		_ = s.client.Del(context.Background(), feedKey(subjectID)).Err()
	}
}

// Watched reports whether any instance has the subject's board open.
func (s *FeedStore) Watched(ctx context.Context, subjectID string) (bool, error) {
	n, err := s.client.Exists(ctx, feedKey(subjectID)).Result()
	return n > 0, err
}

func feedKey(subjectID string) string {
	return "progress:feed:" + subjectID
}
