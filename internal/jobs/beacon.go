// Package jobs drains teardown beacons through an asynq outbox so a page that
// is going away only has to hand its last snapshot to Redis.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"assessment-sync/internal/domain"
)

const (
	TypeProgressBeacon = "progress:beacon"
	QueueProgress      = "progress"
)

// BeaconPayload is the task body of a teardown beacon.
type BeaconPayload struct {
	UserID   string                  `json:"userId"`
	Snapshot domain.ProgressSnapshot `json:"snapshot"`
}

// Applier stores a snapshot on behalf of a user.
type Applier interface {
	Apply(ctx context.Context, userID string, snapshot domain.ProgressSnapshot) (domain.ProgressAck, error)
}

// NewBeaconTask builds the task for one snapshot.
func NewBeaconTask(userID string, snapshot domain.ProgressSnapshot) (*asynq.Task, error) {
	payload, err := json.Marshal(BeaconPayload{UserID: userID, Snapshot: snapshot})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal beacon payload: %w", err)
	}
	return asynq.NewTask(TypeProgressBeacon, payload), nil
}

// BeaconQueue enqueues beacons. Enqueue never waits for the snapshot to be applied.
type BeaconQueue struct {
	client *asynq.Client
	log    *zap.Logger
}

func NewBeaconQueue(opt asynq.RedisConnOpt, log *zap.Logger) *BeaconQueue {
	if log == nil {
		log = zap.NewNop()
	}
	return &BeaconQueue{client: asynq.NewClient(opt), log: log}
}

func (q *BeaconQueue) Enqueue(ctx context.Context, userID string, snapshot domain.ProgressSnapshot) error {
	task, err := NewBeaconTask(userID, snapshot)
	if err != nil {
		return err
	}
	info, err := q.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueProgress),
		asynq.MaxRetry(5),
		asynq.Timeout(30*time.Second),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue beacon: %w", err)
	}
	q.log.Debug("queued beacon",
		zap.String("task_id", info.ID),
		zap.String("subject_id", snapshot.SubjectID),
		zap.String("user_id", userID))
	return nil
}

func (q *BeaconQueue) Close() error {
	return q.client.Close()
}

// HandleBeacon applies a beaconed snapshot. Rejections by the service are final
// and skip asynq's retries; anything else is retried.
func HandleBeacon(applier Applier, log *zap.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var payload BeaconPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("failed to unmarshal beacon payload: %v: %w", err, asynq.SkipRetry)
		}

		ack, err := applier.Apply(ctx, payload.UserID, payload.Snapshot)
		if err != nil {
			if permanent(err) {
				log.Warn("beacon rejected",
					zap.String("subject_id", payload.Snapshot.SubjectID),
					zap.String("user_id", payload.UserID),
					zap.Error(err))
				return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
			}
			return fmt.Errorf("apply beacon for %s: %w", payload.Snapshot.SubjectID, err)
		}
		log.Info("beacon applied",
			zap.String("subject_id", payload.Snapshot.SubjectID),
			zap.String("user_id", payload.UserID),
			zap.Bool("stale", ack.Stale),
			zap.Float64("percent", ack.PercentComplete))
		return nil
	}
}

func permanent(err error) bool {
	for _, target := range []error{
		domain.ErrInvalidSnapshot,
		domain.ErrInvalidAnswer,
		domain.ErrQuizNotFound,
		domain.ErrQuestionNotFound,
		domain.ErrAttemptNotFound,
		domain.ErrAttemptClosed,
		domain.ErrAttemptOwner,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
