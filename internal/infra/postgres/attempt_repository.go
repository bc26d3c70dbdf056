package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"assessment-sync/internal/domain"
)

// AttemptRepository stores attempts in the attempts table. Mutations are
// conditional on status so a submitted attempt never changes again.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

func (r *AttemptRepository) Create(ctx context.Context, rec domain.AttemptRecord) error {
	answers, err := json.Marshal(nonNil(rec.Answers))
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO attempts (id, quiz_id, user_id, status, question_index, answers, started_at, saved_at)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8)`,
		rec.ID, rec.QuizID, rec.UserID, string(rec.Status), rec.QuestionIndex, string(answers), rec.StartedAt, rec.SavedAt)
	if err != nil {
		return fmt.Errorf("create attempt: %w", err)
	}
	return nil
}

func (r *AttemptRepository) Get(ctx context.Context, attemptID string) (domain.AttemptRecord, error) {
	var (
		rec       domain.AttemptRecord
		answers   []byte
		result    []byte
		status    string
		captured  *time.Time
		submitted *time.Time
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, quiz_id, user_id, status, question_index, answers, started_at, saved_at, captured_at, submitted_at, result
		 FROM attempts WHERE id=$1`, attemptID).
		Scan(&rec.ID, &rec.QuizID, &rec.UserID, &status, &rec.QuestionIndex, &answers, &rec.StartedAt, &rec.SavedAt, &captured, &submitted, &result)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AttemptRecord{}, domain.ErrAttemptNotFound
	}
	if err != nil {
		return domain.AttemptRecord{}, fmt.Errorf("get attempt: %w", err)
	}
	if err := json.Unmarshal(answers, &rec.Answers); err != nil {
		return domain.AttemptRecord{}, fmt.Errorf("unmarshal answers: %w", err)
	}
	rec.Status = domain.AttemptStatus(status)
	rec.CapturedAt = captured
	rec.SubmittedAt = submitted
	if len(result) > 0 {
		var res domain.ScoreResult
		if err := json.Unmarshal(result, &res); err != nil {
			return domain.AttemptRecord{}, fmt.Errorf("unmarshal result: %w", err)
		}
		rec.Result = &res
	}
	return rec, nil
}

// CountAttempts counts the user's attempts on a quiz, open or submitted.
func (r *AttemptRepository) CountAttempts(ctx context.Context, quizID, userID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM attempts WHERE quiz_id=$1 AND user_id=$2`, quizID, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return n, nil
}

func (r *AttemptRepository) SaveAnswers(ctx context.Context, attemptID string, questionIndex int, answers map[string]domain.AnswerValue, capturedAt, savedAt time.Time) error {
	raw, err := json.Marshal(nonNil(answers))
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE attempts SET question_index=$2, answers=$3::jsonb, captured_at=$4, saved_at=$5
		 WHERE id=$1 AND status=$6`,
		attemptID, questionIndex, string(raw), capturedAt, savedAt, string(domain.AttemptOpen))
	if err != nil {
		return fmt.Errorf("save answers: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missOrClosed(ctx, attemptID)
	}
	return nil
}

// Complete marks the attempt submitted. Only the first call succeeds.
func (r *AttemptRepository) Complete(ctx context.Context, attemptID string, answers map[string]domain.AnswerValue, result domain.ScoreResult, at time.Time) error {
	rawAnswers, err := json.Marshal(nonNil(answers))
	if err != nil {
		return err
	}
	rawResult, err := json.Marshal(result)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE attempts SET status=$2, answers=$3::jsonb, result=$4::jsonb, submitted_at=$5
		 WHERE id=$1 AND status=$6`,
		attemptID, string(domain.AttemptSubmitted), string(rawAnswers), string(rawResult), at, string(domain.AttemptOpen))
	if err != nil {
		return fmt.Errorf("complete attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missOrClosed(ctx, attemptID)
	}
	return nil
}

func (r *AttemptRepository) missOrClosed(ctx context.Context, attemptID string) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM attempts WHERE id=$1)`, attemptID).Scan(&exists); err != nil {
		return fmt.Errorf("lookup attempt: %w", err)
	}
	if !exists {
		return domain.ErrAttemptNotFound
	}
	return domain.ErrAttemptClosed
}

func nonNil(answers map[string]domain.AnswerValue) map[string]domain.AnswerValue {
	if answers == nil {
		return map[string]domain.AnswerValue{}
	}
	return answers
}
