package progress

import (
	"context"
	"sync"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"assessment-sync/internal/domain"
)

// Registry owns one Scheduler per subject. Views acquire a scheduler when they
// mount and release it when they unmount.
type Registry struct {
	sender   Sender
	beaconer Beaconer
	mirror   Mirror
	cfg      Config
	clock    clockwork.Clock
	log      *zap.Logger

	mu         sync.Mutex
	online     bool
	schedulers map[string]*Scheduler
}

// RegistryOption customises a Registry.
type RegistryOption func(*Registry)

func WithRegistryClock(c clockwork.Clock) RegistryOption {
	return func(r *Registry) { r.clock = c }
}

func WithRegistryLogger(l *zap.Logger) RegistryOption {
	return func(r *Registry) { r.log = l }
}

// WithRegistryBeaconer overrides the teardown transport for every scheduler.
func WithRegistryBeaconer(b Beaconer) RegistryOption {
	return func(r *Registry) { r.beaconer = b }
}

func NewRegistry(sender Sender, mirror Mirror, cfg Config, opts ...RegistryOption) *Registry {
	if mirror == nil {
		mirror = NopMirror{}
	}
	r := &Registry{
		sender:     sender,
		mirror:     mirror,
		cfg:        cfg,
		clock:      clockwork.NewRealClock(),
		log:        zap.NewNop(),
		online:     true,
		schedulers: make(map[string]*Scheduler),
	}
	if b, ok := sender.(Beaconer); ok {
		r.beaconer = b
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Acquire returns the subject's scheduler, creating it on first use. A new
// scheduler picks up work mirrored by a previous process and delivers it once
// the debounce window elapses.
func (r *Registry) Acquire(subjectID string) *Scheduler {
	r.mu.Lock()
	if s, ok := r.schedulers[subjectID]; ok {
		r.mu.Unlock()
		return s
	}
	opts := []Option{
		WithClock(r.clock),
		WithLogger(r.log),
		WithOnline(r.online),
	}
	if r.beaconer != nil {
		opts = append(opts, WithBeaconer(r.beaconer))
	}
	s := NewScheduler(subjectID, r.sender, r.mirror, r.cfg, opts...)
	r.schedulers[subjectID] = s
	r.mu.Unlock()

	if n := s.Restore(context.Background()); n > 0 {
		r.log.Info("resuming mirrored progress", zap.String("subject", subjectID), zap.Int("entries", n))
	}
	return s
}

// Lookup returns an existing scheduler without creating one.
func (r *Registry) Lookup(subjectID string) (*Scheduler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schedulers[subjectID]
	return s, ok
}

// Release tears the subject's scheduler down (unload semantics) and forgets it.
func (r *Registry) Release(subjectID string) Outcome {
	r.mu.Lock()
	s, ok := r.schedulers[subjectID]
	delete(r.schedulers, subjectID)
	r.mu.Unlock()
	if !ok {
		return OutcomeIdle
	}
	return s.Teardown()
}

// Drop forgets the subject after discarding its pending work. Used once the
// pending work has been superseded, e.g. by an acknowledged submission.
func (r *Registry) Drop(subjectID string) {
	r.mu.Lock()
	s, ok := r.schedulers[subjectID]
	delete(r.schedulers, subjectID)
	r.mu.Unlock()
	if !ok {
		return
	}
	s.Discard()
	s.Close()
}

// SetOnline forwards a connectivity change to every scheduler.
func (r *Registry) SetOnline(ctx context.Context, online bool) {
	r.mu.Lock()
	changed := r.online != online
	r.online = online
	list := r.snapshotLocked()
	r.mu.Unlock()

	if changed {
		r.log.Info("connectivity changed", zap.Bool("online", online))
	}
	for _, s := range list {
		switch {
		case !online:
			s.OnConnectivityLost()
		case changed || !s.Status().Online:
			// A scheduler can go offline on its own after a failed delivery.
			s.OnConnectivityRestored(ctx)
		}
	}
}

// Online reports the registry's connectivity belief.
func (r *Registry) Online() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.online
}

// TeardownAll runs the unload path for every subject, e.g. on process exit.
func (r *Registry) TeardownAll() map[string]Outcome {
	r.mu.Lock()
	list := r.snapshotLocked()
	r.schedulers = make(map[string]*Scheduler)
	r.mu.Unlock()

	out := make(map[string]Outcome, len(list))
	for _, s := range list {
		out[s.SubjectID()] = s.Teardown()
	}
	return out
}

// Shutdown is TeardownAll for a process that is about to exit. When the
// beaconer is a BeaconDrainer it waits for the beacons until ctx is done, and
// writes every snapshot whose beacon was not confirmed back to the mirror so
// the next process or the flush command delivers it.
func (r *Registry) Shutdown(ctx context.Context) map[string]Outcome {
	out := r.TeardownAll()
	drainer, ok := r.beaconer.(BeaconDrainer)
	if !ok {
		return out
	}
	for _, snap := range drainer.Drain(ctx) {
		entry := domain.PendingEntry{Seq: 1, Snapshot: snap, EnqueuedAt: r.clock.Now()}
		saveCtx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		err := r.mirror.Save(saveCtx, snap.SubjectID, []domain.PendingEntry{entry})
		cancel()
		if err != nil {
			r.log.Warn("unconfirmed beacon lost", zap.String("subject", snap.SubjectID),
				zap.Error(domain.StorageUnavailable(err)))
			continue
		}
		r.log.Info("beacon not confirmed, kept in mirror", zap.String("subject", snap.SubjectID))
		out[snap.SubjectID] = OutcomeRetained
	}
	return out
}

func (r *Registry) snapshotLocked() []*Scheduler {
	list := make([]*Scheduler, 0, len(r.schedulers))
	for _, s := range r.schedulers {
		list = append(list, s)
	}
	return list
}
