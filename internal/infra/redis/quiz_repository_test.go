package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"assessment-sync/internal/domain"
	"assessment-sync/internal/infra/memory"
)

func TestQuizRepositoryCachesInRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := newClient(mr)

	loader := &countingLoader{
		QuizLoader: memory.NewStaticQuizLoader(map[string]domain.Quiz{
			"quiz-1": sampleQuiz(),
		}),
	}
	repo := NewQuizRepository(client, loader, time.Minute)

	_, err = repo.GetQuiz(context.Background(), "quiz-1")
	if err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	if loader.Calls() != 1 {
		t.Fatalf("expected loader called once, got %d", loader.Calls())
	}
	if !mr.Exists("quiz:quiz-1:questions") || !mr.Exists("quiz:quiz-1:meta") {
		t.Fatalf("expected quiz hashes in redis")
	}

	// Second call should hit cache, loader not incremented.
	cached, err := repo.GetQuiz(context.Background(), "quiz-1")
	if err != nil {
		t.Fatalf("get cached quiz: %v", err)
	}
	if loader.Calls() != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", loader.Calls())
	}
	if len(cached.Questions) != 2 || cached.Questions[0].ID != "q1" || cached.Questions[1].ID != "q2" {
		t.Fatalf("question order lost: %+v", cached.Questions)
	}
	if cached.TimeLimitSeconds != 300 || cached.PassingGrade != 62.5 ||
		cached.AttemptsAllowed != 3 || !cached.RetakeAllowed || !cached.ShowCorrectAnswers {
		t.Fatalf("quiz rules lost: %+v", cached)
	}
	if key := cached.Questions[1].AnswerKey(); key.Kind != domain.AnswerOrdering || len(key.Order) != 3 {
		t.Fatalf("answer key lost: %+v", key)
	}
}

func TestQuizRepositoryExpiresAndInvalidates(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	loader := &countingLoader{QuizLoader: memory.NewStaticQuizLoader(map[string]domain.Quiz{"quiz-1": sampleQuiz()})}
	repo := NewQuizRepository(newClient(mr), loader, time.Minute)
	ctx := context.Background()

	_, _ = repo.GetQuiz(ctx, "quiz-1")
	mr.FastForward(2 * time.Minute)
	_, _ = repo.GetQuiz(ctx, "quiz-1")
	if loader.Calls() != 2 {
		t.Fatalf("expected reload after expiry, got %d", loader.Calls())
	}

	if err := repo.Invalidate(ctx, "quiz-1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	_, _ = repo.GetQuiz(ctx, "quiz-1")
	if loader.Calls() != 3 {
		t.Fatalf("expected reload after invalidate, got %d", loader.Calls())
	}
}

type countingLoader struct {
	memory.QuizLoader
	mu    sync.Mutex
	calls int
}

func (l *countingLoader) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	l.mu.Lock()
	l.calls++
	l.mu.Unlock()
	return l.QuizLoader.LoadQuiz(ctx, quizID)
}

func (l *countingLoader) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:                 "quiz-1",
		Title:              "Arithmetic",
		TimeLimitSeconds:   300,
		PassingGrade:       62.5,
		AttemptsAllowed:    3,
		RetakeAllowed:      true,
		ShowCorrectAnswers: true,
		Questions: []domain.Question{
			{
				ID:     "q1",
				Type:   domain.QuestionSingleChoice,
				Prompt: "What is 2 + 2?",
				Options: []domain.Option{
					{ID: "o1", Text: "3", Correct: false},
					{ID: "o2", Text: "4", Correct: true},
				},
				Points: 1,
			},
			{
				ID:     "q2",
				Type:   domain.QuestionOrdering,
				Prompt: "Order ascending",
				Options: []domain.Option{
					{ID: "one", Text: "1"},
					{ID: "two", Text: "2"},
					{ID: "three", Text: "3"},
				},
				Points: 2,
			},
		},
	}
}

func newClient(mr *miniredis.Miniredis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
}
