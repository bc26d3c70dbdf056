package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"assessment-sync/internal/domain"
)

// AttemptStore is an in-memory implementation of app.AttemptRepository.
type AttemptStore struct {
	mu       sync.RWMutex
	attempts map[string]domain.AttemptRecord
}

func NewAttemptStore() *AttemptStore {
	return &AttemptStore{attempts: make(map[string]domain.AttemptRecord)}
}

func (s *AttemptStore) Create(_ context.Context, rec domain.AttemptRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.attempts[rec.ID]; ok {
		return fmt.Errorf("attempt %s already exists", rec.ID)
	}
	s.attempts[rec.ID] = cloneAttempt(rec)
	return nil
}

func (s *AttemptStore) Get(_ context.Context, attemptID string) (domain.AttemptRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.attempts[attemptID]
	if !ok {
		return domain.AttemptRecord{}, domain.ErrAttemptNotFound
	}
	return cloneAttempt(rec), nil
}

// CountAttempts counts the user's attempts on a quiz, open or submitted.
func (s *AttemptStore) CountAttempts(_ context.Context, quizID, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, rec := range s.attempts {
		if rec.QuizID == quizID && rec.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (s *AttemptStore) SaveAnswers(_ context.Context, attemptID string, questionIndex int, answers map[string]domain.AnswerValue, capturedAt, savedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.attempts[attemptID]
	if !ok {
		return domain.ErrAttemptNotFound
	}
	if rec.Status == domain.AttemptSubmitted {
		return domain.ErrAttemptClosed
	}
	rec.QuestionIndex = questionIndex
	rec.Answers = domain.CloneAnswers(answers)
	rec.SavedAt = savedAt
	rec.CapturedAt = &capturedAt
	s.attempts[attemptID] = rec
	return nil
}

// Complete marks the attempt submitted. Only the first call succeeds.
func (s *AttemptStore) Complete(_ context.Context, attemptID string, answers map[string]domain.AnswerValue, result domain.ScoreResult, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.attempts[attemptID]
	if !ok {
		return domain.ErrAttemptNotFound
	}
	if rec.Status == domain.AttemptSubmitted {
		return domain.ErrAttemptClosed
	}
	rec.Status = domain.AttemptSubmitted
	rec.Answers = domain.CloneAnswers(answers)
	rec.SubmittedAt = &at
	res := result
	rec.Result = &res
	s.attempts[attemptID] = rec
	return nil
}

func cloneAttempt(rec domain.AttemptRecord) domain.AttemptRecord {
	out := rec
	out.Answers = domain.CloneAnswers(rec.Answers)
	if rec.CapturedAt != nil {
		at := *rec.CapturedAt
		out.CapturedAt = &at
	}
	if rec.SubmittedAt != nil {
		at := *rec.SubmittedAt
		out.SubmittedAt = &at
	}
	if rec.Result != nil {
		res := *rec.Result
		res.Breakdown = append([]domain.QuestionScore(nil), rec.Result.Breakdown...)
		out.Result = &res
	}
	return out
}
