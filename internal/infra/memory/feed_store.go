package memory

import (
	"sync"

	"assessment-sync/internal/app"
)

// FeedStore is an in-memory implementation of app.FeedRepository.
type FeedStore struct {
	mu    sync.RWMutex
	feeds map[string]*app.Feed
}

func NewFeedStore() *FeedStore {
	return &FeedStore{
		feeds: make(map[string]*app.Feed),
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
	}
}
