package progress

import (
	"context"

	"assessment-sync/internal/domain"
)

// Sender delivers a snapshot and waits for the server acknowledgement. Errors
// should be classified with domain.DeliveryError.
type Sender interface {
	Deliver(ctx context.Context, snapshot domain.ProgressSnapshot) error
}

// Beaconer issues a best-effort delivery that does not wait for a response.
// It must return without blocking on the network round trip.
type Beaconer interface {
	Beacon(snapshot domain.ProgressSnapshot) error
}

// BeaconDrainer is implemented by beaconers whose requests die with the
// process. Drain waits for issued beacons until ctx is done and returns the
// snapshots whose delivery was not confirmed.
type BeaconDrainer interface {
	Drain(ctx context.Context) []domain.ProgressSnapshot
}

// Mirror is the durable local copy of each subject's pending queue. Writes are
// last-write-wins per subject.
type Mirror interface {
	Save(ctx context.Context, subjectID string, entries []domain.PendingEntry) error
	Load(ctx context.Context, subjectID string) ([]domain.PendingEntry, error)
	Discard(ctx context.Context, subjectID string) error
}

// NopMirror keeps nothing; durability degrades to in-memory only.
type NopMirror struct{}

func (NopMirror) Save(context.Context, string, []domain.PendingEntry) error { return nil }

func (NopMirror) Load(context.Context, string) ([]domain.PendingEntry, error) { return nil, nil }

func (NopMirror) Discard(context.Context, string) error { return nil }
