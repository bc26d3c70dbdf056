package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"assessment-sync/internal/domain"
)

// ProgressRepository keeps one row per subject and user. Writes carrying an
// older capture time than the stored row are ignored.
type ProgressRepository struct {
	pool *pgxpool.Pool
}

func NewProgressRepository(pool *pgxpool.Pool) *ProgressRepository {
	return &ProgressRepository{pool: pool}
}

func (r *ProgressRepository) Save(ctx context.Context, rec domain.ProgressRecord) (float64, bool, error) {
	snap, err := json.Marshal(rec.Snapshot)
	if err != nil {
		return 0, false, fmt.Errorf("marshal snapshot: %w", err)
	}

	var (
		prev    float64
		applied bool
	)
	err = r.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`SELECT percent_complete FROM progress WHERE subject_id=$1 AND user_id=$2 FOR UPDATE`,
			rec.Snapshot.SubjectID, rec.Snapshot.UserID).Scan(&prev)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		tag, err := tx.Exec(ctx,
			`INSERT INTO progress (subject_id, user_id, kind, percent_complete, status, snapshot, captured_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8)
			 ON CONFLICT (subject_id, user_id) DO UPDATE SET
			   kind = EXCLUDED.kind,
			   percent_complete = EXCLUDED.percent_complete,
			   status = EXCLUDED.status,
			   snapshot = EXCLUDED.snapshot,
			   captured_at = EXCLUDED.captured_at,
			   updated_at = EXCLUDED.updated_at
			 WHERE progress.captured_at <= EXCLUDED.captured_at`,
			rec.Snapshot.SubjectID, rec.Snapshot.UserID, string(rec.Snapshot.Kind),
			rec.Snapshot.PercentComplete, string(rec.Status), string(snap),
			rec.Snapshot.CapturedAt, rec.UpdatedAt)
		if err != nil {
			return err
		}
		applied = tag.RowsAffected() == 1
		return nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("save progress: %w", err)
	}
	return prev, applied, nil
}

func (r *ProgressRepository) Get(ctx context.Context, subjectID, userID string) (domain.ProgressRecord, error) {
	var (
		raw    []byte
		status string
		rec    domain.ProgressRecord
	)
	err := r.pool.QueryRow(ctx,
		`SELECT snapshot, status, updated_at FROM progress WHERE subject_id=$1 AND user_id=$2`,
		subjectID, userID).Scan(&raw, &status, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ProgressRecord{}, domain.ErrProgressNotFound
	}
	if err != nil {
		return domain.ProgressRecord{}, fmt.Errorf("get progress: %w", err)
	}
	if err := json.Unmarshal(raw, &rec.Snapshot); err != nil {
		return domain.ProgressRecord{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	rec.Status = domain.ProgressStatus(status)
	return rec, nil
}
