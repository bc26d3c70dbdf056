package cli

import (
	"context"
	"errors"
	"io/fs"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"assessment-sync/internal/app"
	"assessment-sync/internal/config"
	"assessment-sync/internal/domain"
	"assessment-sync/internal/infra/memory"
	pgstore "assessment-sync/internal/infra/postgres"
	infraredis "assessment-sync/internal/infra/redis"
	"assessment-sync/internal/progress"
)

// backend is the server-side object graph shared by start and worker.
type backend struct {
	service *app.ProgressService
	redis   *redis.Client
	pool    *pgxpool.Pool
}

func (b *backend) Close() {
	if b.pool != nil {
		b.pool.Close()
	}
	if b.redis != nil {
		_ = b.redis.Close()
	}
}

func buildBackend(ctx context.Context, cfg config.Config, logger *zap.Logger) (*backend, error) {
	b := &backend{}

	if cfg.Redis.Addr != "" {
		b.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.pool = pool
	}

	var loader memory.QuizLoader
	switch {
	case b.pool != nil:
		loader = pgstore.NewQuizLoader(b.pool)
	case cfg.Quiz.SeedFile != "":
		seeded, err := memory.LoadSeedFile(cfg.Quiz.SeedFile)
		if errors.Is(err, fs.ErrNotExist) {
			logger.Warn("seed file missing, using built-in quiz", zap.String("path", cfg.Quiz.SeedFile))
			loader = memory.NewStaticQuizLoader(sampleQuizzes())
			break
		}
		if err != nil {
			b.Close()
			return nil, err
		}
		loader = seeded
	default:
		loader = memory.NewStaticQuizLoader(sampleQuizzes())
	}

	quizTTL := config.Duration(cfg.Quiz.TTL, 10*time.Minute)
	var quizRepo app.QuizRepository
	if b.redis != nil {
		quizRepo = infraredis.NewQuizRepository(b.redis, loader, quizTTL)
	} else {
		quizRepo = memory.NewQuizRepository(loader, quizTTL)
	}

	var (
		attempts app.AttemptRepository  = memory.NewAttemptStore()
		records  app.ProgressRepository = memory.NewProgressStore()
	)
	if b.pool != nil {
		attempts = pgstore.NewAttemptRepository(b.pool)
		records = pgstore.NewProgressRepository(b.pool)
	}

	var feeds app.FeedRepository = memory.NewFeedStore()
	if b.redis != nil {
		feeds = infraredis.NewFeedStore(b.redis, config.Duration(cfg.Redis.TTL, 10*time.Minute))
	}

	b.service = app.NewProgressService(quizRepo, attempts, records, feeds, app.WithLogger(logger))
	return b, nil
}

func asynqOpt(cfg config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
}

func syncConfig(cfg config.Config) progress.Config {
	d := progress.DefaultConfig()
	return progress.Config{
		DebounceDelay:  config.Duration(cfg.Sync.Debounce, d.DebounceDelay),
		MaxBatchSize:   cfg.Sync.MaxBatchSize,
		RequestTimeout: config.Duration(cfg.Sync.RequestTimeout, d.RequestTimeout),
		RetryInitial:   config.Duration(cfg.Sync.RetryInitial, d.RetryInitial),
		RetryMax:       config.Duration(cfg.Sync.RetryMax, d.RetryMax),
	}
}

// sampleQuizzes is the fallback when neither Postgres nor a seed file is configured.
func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:                 "quiz-1",
			TimeLimitSeconds:   300,
			PassingGrade:       50,
			AttemptsAllowed:    3,
			ShowCorrectAnswers: true,
			Questions: []domain.Question{
				{
					ID:     "q1",
					Type:   domain.QuestionSingleChoice,
					Prompt: "What is 2 + 2?",
					Options: []domain.Option{
						{ID: "o1", Text: "3", Correct: false},
						{ID: "o2", Text: "4", Correct: true},
						{ID: "o3", Text: "5", Correct: false},
					},
					Points: 1,
				},
			},
		},
	}
}
