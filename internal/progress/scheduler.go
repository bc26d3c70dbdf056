package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"assessment-sync/internal/domain"
)

// ErrSchedulerClosed is returned for mutations after Close or Teardown.
var ErrSchedulerClosed = errors.New("progress scheduler closed")

const mirrorTimeout = 2 * time.Second

// Outcome is the typed result of a delivery attempt.
type Outcome string

const (
	OutcomeIdle      Outcome = "idle"      // nothing pending
	OutcomeCoalesced Outcome = "coalesced" // another delivery was already in flight
	OutcomeSaved     Outcome = "saved"
	OutcomeOffline   Outcome = "offline"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeRejected  Outcome = "rejected"
	OutcomeFailed    Outcome = "failed"
	OutcomeClosed    Outcome = "closed"
	OutcomeBeaconed  Outcome = "beaconed" // teardown handed the latest snapshot to the beacon
	OutcomeRetained  Outcome = "retained" // teardown kept the mirror for the next process
)

// Signal is published for outcomes a UI may want to react to.
type Signal struct {
	SubjectID string
	Outcome   Outcome
	Snapshot  domain.ProgressSnapshot
	Err       error
	At        time.Time
}

// Config tunes a Scheduler. Zero values fall back to the defaults.
type Config struct {
	DebounceDelay        time.Duration
	MaxBatchSize         int
	RequestTimeout       time.Duration
	RetryInitial         time.Duration
	RetryMax             time.Duration
	SurfaceAfterTimeouts int
}

// DefaultConfig mirrors the production tuning.
func DefaultConfig() Config {
	return Config{
		DebounceDelay:        3 * time.Second,
		MaxBatchSize:         DefaultMaxBatchSize,
		RequestTimeout:       30 * time.Second,
		RetryInitial:         5 * time.Second,
		RetryMax:             time.Minute,
		SurfaceAfterTimeouts: 3,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DebounceDelay <= 0 {
		c.DebounceDelay = d.DebounceDelay
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = d.MaxBatchSize
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = d.RetryInitial
	}
	if c.RetryMax <= 0 {
		c.RetryMax = d.RetryMax
	}
	if c.SurfaceAfterTimeouts <= 0 {
		c.SurfaceAfterTimeouts = d.SurfaceAfterTimeouts
	}
	return c
}

// Status is a point-in-time view of a scheduler.
type Status struct {
	SubjectID           string
	QueueLength         int
	Online              bool
	Sending             bool
	HasUnsavedChanges   bool
	ConsecutiveTimeouts int
}

// Option customises a Scheduler.
type Option func(*Scheduler)

func WithClock(c clockwork.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

func WithBeaconer(b Beaconer) Option {
	return func(s *Scheduler) { s.beaconer = b }
}

// WithOnline sets the initial connectivity belief (default online).
func WithOnline(online bool) Option {
	return func(s *Scheduler) { s.online = online }
}

// Scheduler coalesces a subject's mutations into debounced deliveries with at
// most one request in flight.
type Scheduler struct {
	subjectID string
	cfg       Config
	sender    Sender
	beaconer  Beaconer
	mirror    Mirror
	clock     clockwork.Clock
	log       *zap.Logger
	signals   chan Signal

	mu       sync.Mutex
	queue    *Queue
	timer    clockwork.Timer
	timerGen uint64
	online   bool
	sending  bool
	closed   bool
	timeouts int
	retry    *backoff.ExponentialBackOff
}

func NewScheduler(subjectID string, sender Sender, mirror Mirror, cfg Config, opts ...Option) *Scheduler {
	cfg = cfg.withDefaults()
	if mirror == nil {
		mirror = NopMirror{}
	}
	s := &Scheduler{
		subjectID: subjectID,
		cfg:       cfg,
		sender:    sender,
		mirror:    mirror,
		clock:     clockwork.NewRealClock(),
		log:       zap.NewNop(),
		signals:   make(chan Signal, 16),
		queue:     NewQueue(cfg.MaxBatchSize),
		online:    true,
	}
	if b, ok := sender.(Beaconer); ok {
		s.beaconer = b
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(zap.String("subject", subjectID))

	s.retry = backoff.NewExponentialBackOff()
	s.retry.InitialInterval = cfg.RetryInitial
	s.retry.MaxInterval = cfg.RetryMax
	s.retry.MaxElapsedTime = 0
	s.retry.Clock = s.clock
	s.retry.Reset()
	return s
}

// SubjectID returns the subject this scheduler serves.
func (s *Scheduler) SubjectID() string {
	return s.subjectID
}

// Signals streams outcomes. Slow readers lose the oldest signals.
func (s *Scheduler) Signals() <-chan Signal {
	return s.signals
}

// NotifyMutation enqueues the snapshot, mirrors the queue and restarts the
// debounce window.
func (s *Scheduler) NotifyMutation(snapshot domain.ProgressSnapshot) error {
	if snapshot.SubjectID != s.subjectID {
		return fmt.Errorf("snapshot for %q sent to scheduler %q", snapshot.SubjectID, s.subjectID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSchedulerClosed
	}
	s.queue.Enqueue(snapshot, s.clock.Now())
	s.persistLocked()
	s.armLocked(s.cfg.DebounceDelay)
	return nil
}

// Flush cancels the pending debounce timer and delivers the latest snapshot now.
// An in-flight request is never cancelled; a concurrent Flush is coalesced.
func (s *Scheduler) Flush(ctx context.Context) Outcome {
	s.mu.Lock()
	s.cancelTimerLocked()
	s.mu.Unlock()
	return s.deliver(ctx)
}

// OnConnectivityRestored marks the scheduler online and delivers pending work.
func (s *Scheduler) OnConnectivityRestored(ctx context.Context) Outcome {
	s.mu.Lock()
	s.online = true
	pending := s.queue.Len() > 0
	s.mu.Unlock()

	if !pending {
		return OutcomeIdle
	}
	s.log.Info("connectivity restored, delivering pending progress")
	return s.Flush(ctx)
}

// OnConnectivityLost marks the scheduler offline; deliveries wait for a restore.
func (s *Scheduler) OnConnectivityLost() {
	s.mu.Lock()
	s.online = false
	s.mu.Unlock()
}

// Restore loads the mirrored queue left by a previous process and schedules
// its delivery after the debounce window. It returns the number of pending
// entries afterwards.
func (s *Scheduler) Restore(ctx context.Context) int {
	loadCtx, cancel := context.WithTimeout(ctx, mirrorTimeout)
	entries, err := s.mirror.Load(loadCtx, s.subjectID)
	cancel()
	if err != nil {
		s.log.Warn("could not load mirrored queue", zap.Error(domain.StorageUnavailable(err)))
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	if len(entries) > 0 && s.queue.Len() == 0 {
		s.queue.Restore(entries)
	}
	n := s.queue.Len()
	if n > 0 {
		s.armLocked(s.cfg.DebounceDelay)
	}
	return n
}

// Resume restores the mirrored queue and delivers it when online.
// It returns the number of restored entries.
func (s *Scheduler) Resume(ctx context.Context) (int, Outcome) {
	n := s.Restore(ctx)
	if n == 0 {
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return 0, OutcomeClosed
		}
		return 0, OutcomeIdle
	}
	s.log.Info("resuming mirrored progress", zap.Int("entries", n))
	return n, s.Flush(ctx)
}

// Teardown is the unload path: if work is pending and the scheduler believes it
// is online, the latest snapshot goes out through the beacon and the queue is
// cleared optimistically. Offline, the mirror is kept for the next process.
// The scheduler is closed afterwards.
func (s *Scheduler) Teardown() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return OutcomeClosed
	}
	s.closed = true
	s.cancelTimerLocked()

	entry, ok := s.queue.Latest()
	if !ok {
		return OutcomeIdle
	}
	if !s.online || s.beaconer == nil {
		s.log.Info("teardown with pending progress, keeping mirror", zap.Bool("online", s.online))
		return OutcomeRetained
	}
	if err := s.beaconer.Beacon(entry.Snapshot); err != nil {
		s.log.Warn("teardown beacon failed, keeping mirror", zap.Error(err))
		return OutcomeRetained
	}
	s.queue.Clear()
	s.persistLocked()
	s.publishLocked(Signal{Outcome: OutcomeBeaconed, Snapshot: entry.Snapshot})
	return OutcomeBeaconed
}

// Close stops timers without delivering. Pending work stays in the mirror.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cancelTimerLocked()
}

// Discard drops pending work and the mirrored copy.
func (s *Scheduler) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelTimerLocked()
	s.queue.Clear()
	s.persistLocked()
}

// Latest returns the newest pending snapshot.
func (s *Scheduler) Latest() (domain.ProgressSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.queue.Latest()
	if !ok {
		return domain.ProgressSnapshot{}, false
	}
	return entry.Snapshot.Clone(), true
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		SubjectID:           s.subjectID,
		QueueLength:         s.queue.Len(),
		Online:              s.online,
		Sending:             s.sending,
		HasUnsavedChanges:   s.queue.Len() > 0,
		ConsecutiveTimeouts: s.timeouts,
	}
}

func (s *Scheduler) deliver(ctx context.Context) Outcome {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return OutcomeClosed
	}
	if s.sending {
		s.mu.Unlock()
		return OutcomeCoalesced
	}
	entry, ok := s.queue.Latest()
	if !ok {
		s.mu.Unlock()
		return OutcomeIdle
	}
	if !s.online {
		s.mu.Unlock()
		return OutcomeOffline
	}
	s.sending = true
	s.mu.Unlock()

	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	err := s.sender.Deliver(reqCtx, entry.Snapshot)
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sending = false
	return s.settleLocked(entry, err)
}

func (s *Scheduler) settleLocked(entry domain.PendingEntry, err error) Outcome {
	if err == nil {
		s.timeouts = 0
		s.retry.Reset()
		remaining := s.queue.ClearThrough(entry.Seq)
		s.persistLocked()
		if remaining > 0 && !s.closed && s.timer == nil {
			s.armLocked(s.cfg.DebounceDelay)
		}
		s.log.Debug("progress saved", zap.Uint64("seq", entry.Seq), zap.Int("remaining", remaining))
		s.publishLocked(Signal{Outcome: OutcomeSaved, Snapshot: entry.Snapshot})
		return OutcomeSaved
	}

	class, _ := domain.ClassOf(err)
	switch class {
	case domain.ClassOffline:
		s.online = false
		s.log.Info("offline, progress kept for later", zap.Error(err))
		s.publishLocked(Signal{Outcome: OutcomeOffline, Snapshot: entry.Snapshot})
		return OutcomeOffline

	case domain.ClassTimeout:
		s.timeouts++
		wait := s.retry.NextBackOff()
		if wait == backoff.Stop {
			wait = s.cfg.RetryMax
		}
		if !s.closed && s.timer == nil {
			s.armLocked(wait)
		}
		s.log.Warn("progress delivery timed out",
			zap.Int("consecutive", s.timeouts), zap.Duration("retryIn", wait), zap.Error(err))
		if s.timeouts >= s.cfg.SurfaceAfterTimeouts {
			s.publishLocked(Signal{Outcome: OutcomeTimeout, Snapshot: entry.Snapshot, Err: err})
		}
		return OutcomeTimeout

	case domain.ClassServerRejected:
		remaining := s.queue.ClearThrough(entry.Seq)
		s.persistLocked()
		// a newer snapshot may have been coalesced while this one was in flight
		if remaining > 0 && !s.closed && s.timer == nil {
			s.armLocked(s.cfg.DebounceDelay)
		}
		s.log.Warn("progress rejected by server", zap.Int("remaining", remaining), zap.Error(err))
		s.publishLocked(Signal{Outcome: OutcomeRejected, Snapshot: entry.Snapshot, Err: err})
		return OutcomeRejected

	default:
		wait := s.retry.NextBackOff()
		if wait == backoff.Stop {
			wait = s.cfg.RetryMax
		}
		if !s.closed && s.timer == nil {
			s.armLocked(wait)
		}
		s.log.Error("progress delivery failed", zap.Duration("retryIn", wait), zap.Error(err))
		s.publishLocked(Signal{Outcome: OutcomeFailed, Snapshot: entry.Snapshot, Err: err})
		return OutcomeFailed
	}
}

func (s *Scheduler) armLocked(d time.Duration) {
	s.cancelTimerLocked()
	gen := s.timerGen
	s.timer = s.clock.AfterFunc(d, func() { s.fire(gen) })
}

func (s *Scheduler) cancelTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerGen++
}

func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	if gen != s.timerGen || s.closed {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.mu.Unlock()
	s.deliver(context.Background())
}

// persistLocked mirrors the queue. Storage failures only degrade durability.
func (s *Scheduler) persistLocked() {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()

	var err error
	if s.queue.Len() == 0 {
		err = s.mirror.Discard(ctx, s.subjectID)
	} else {
		err = s.mirror.Save(ctx, s.subjectID, s.queue.Entries())
	}
	if err != nil {
		s.log.Warn("mirror write failed, continuing in memory", zap.Error(domain.StorageUnavailable(err)))
	}
}

func (s *Scheduler) publishLocked(sig Signal) {
	sig.SubjectID = s.subjectID
	sig.At = s.clock.Now()
	select {
	case s.signals <- sig:
	default:
		select {
		case <-s.signals:
		default:
		}
		select {
		case s.signals <- sig:
		default:
		}
	}
}
