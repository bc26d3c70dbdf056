package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"assessment-sync/internal/domain"
)

// QuizLoader fetches quiz content from a backing store (Postgres, seed file).
type QuizLoader interface {
	LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// QuizRepository caches quizzes in Redis and falls back to a loader on miss.
// Questions, with their answer keys, are stored as:
//
//	HSET quiz:{quizID}:questions {questionID} {question JSON}
//	HSET quiz:{quizID}:meta order {id,id,...} title {..} time_limit {s} passing_grade {pct}
//	     attempts_allowed {n} retake_allowed {bool} show_correct_answers {bool}
type QuizRepository struct {
	client *redis.Client
	loader QuizLoader
	ttl    time.Duration
	sf     singleflight.Group

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewQuizRepository(client *redis.Client, loader QuizLoader, ttl time.Duration) *QuizRepository {
	return &QuizRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *QuizRepository) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	if quiz, ok := r.fromCache(ctx, quizID); ok {
		return quiz, nil
	}

	result, err, _ := r.sf.Do(quizID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if quiz, ok := r.fromCache(ctx, quizID); ok {
			return quiz, nil
		}

		quiz, err := r.loader.LoadQuiz(ctx, quizID)
		if err != nil {
			return domain.Quiz{}, err
		}
		r.store(ctx, quiz)
		return quiz, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return result.(domain.Quiz), nil
}

// Invalidate removes the cached copy of a quiz.
func (r *QuizRepository) Invalidate(ctx context.Context, quizID string) error {
	return r.client.Del(ctx, questionsKey(quizID), metaKey(quizID)).Err()
}

func (r *QuizRepository) fromCache(ctx context.Context, quizID string) (domain.Quiz, bool) {
	meta, err := r.client.HGetAll(ctx, metaKey(quizID)).Result()
	if err != nil || len(meta) == 0 {
		return domain.Quiz{}, false
	}
	raw, err := r.client.HGetAll(ctx, questionsKey(quizID)).Result()
	if err != nil {
		return domain.Quiz{}, false
	}

	quiz := domain.Quiz{ID: quizID, Title: meta["title"]}
	quiz.TimeLimitSeconds, _ = strconv.Atoi(meta["time_limit"])
	quiz.PassingGrade, _ = strconv.ParseFloat(meta["passing_grade"], 64)
	quiz.AttemptsAllowed, _ = strconv.Atoi(meta["attempts_allowed"])
	quiz.RetakeAllowed, _ = strconv.ParseBool(meta["retake_allowed"])
	quiz.ShowCorrectAnswers, _ = strconv.ParseBool(meta["show_correct_answers"])
	for _, id := range splitOrder(meta["order"]) {
		body, ok := raw[id]
		if !ok {
			// partially evicted; treat as a miss
			return domain.Quiz{}, false
		}
		var q domain.Question
		if err := json.Unmarshal([]byte(body), &q); err != nil {
			return domain.Quiz{}, false
		}
		quiz.Questions = append(quiz.Questions, q)
	}
	return quiz, true
}

func (r *QuizRepository) store(ctx context.Context, quiz domain.Quiz) {
	ttl := r.ttlWithJitter()
	pipe := r.client.Pipeline()
	for _, q := range quiz.Questions {
		body, err := json.Marshal(q)
		if err != nil {
			return
		}
		pipe.HSet(ctx, questionsKey(quiz.ID), q.ID, body)
	}
	pipe.HSet(ctx, metaKey(quiz.ID),
		"order", strings.Join(quiz.QuestionIDs(), ","),
		"title", quiz.Title,
		"time_limit", quiz.TimeLimitSeconds,
		"passing_grade", strconv.FormatFloat(quiz.PassingGrade, 'f', -1, 64),
		"attempts_allowed", quiz.AttemptsAllowed,
		"retake_allowed", strconv.FormatBool(quiz.RetakeAllowed),
		"show_correct_answers", strconv.FormatBool(quiz.ShowCorrectAnswers),
	)
	if ttl > 0 {
		pipe.Expire(ctx, questionsKey(quiz.ID), ttl)
		pipe.Expire(ctx, metaKey(quiz.ID), ttl)
	}
	// best-effort; the loader result is still served
	_, _ = pipe.Exec(ctx)
}

func questionsKey(quizID string) string {
	return "quiz:" + quizID + ":questions"
}

func metaKey(quizID string) string {
	return "quiz:" + quizID + ":meta"
}

func splitOrder(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func (r *QuizRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
