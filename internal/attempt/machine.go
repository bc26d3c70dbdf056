// Package attempt drives a single quiz attempt on the client side: navigation,
// answers, autosave through the shared progress scheduler, the countdown and
// the single-flight submission.
package attempt

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"assessment-sync/internal/domain"
	"assessment-sync/internal/progress"
	"assessment-sync/internal/scoring"
)

var (
	ErrNotStarted     = errors.New("attempt not started")
	ErrAlreadyStarted = errors.New("attempt already started")
	ErrNotAnswering   = errors.New("attempt is not accepting answers")
	ErrCompleted      = errors.New("attempt completed")
	ErrSubmitInFlight = errors.New("submission already in flight")
)

// Client is the server side of an attempt.
type Client interface {
	StartAttempt(ctx context.Context, quizID, userID string) (domain.AttemptGrant, error)
	SubmitAttempt(ctx context.Context, attemptID string, answers map[string]domain.AnswerValue) (domain.ScoreResult, error)
}

// Schedulers hands out the per-subject progress scheduler used for autosave.
type Schedulers interface {
	Acquire(subjectID string) *progress.Scheduler
	Release(subjectID string) progress.Outcome
	Drop(subjectID string)
}

type Config struct {
	AutosaveInterval  time.Duration
	WarningThresholds []time.Duration
	SubmitTimeout     time.Duration
}

func DefaultConfig() Config {
	return Config{
		AutosaveInterval:  30 * time.Second,
		WarningThresholds: []time.Duration{5 * time.Minute, time.Minute},
		SubmitTimeout:     30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.AutosaveInterval <= 0 {
		c.AutosaveInterval = d.AutosaveInterval
	}
	if c.WarningThresholds == nil {
		c.WarningThresholds = d.WarningThresholds
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = d.SubmitTimeout
	}
	return c
}

type EventKind string

const (
	EventStarted      EventKind = "started"
	EventTimeWarning  EventKind = "time_warning"
	EventTimeUp       EventKind = "time_up"
	EventIncomplete   EventKind = "incomplete"
	EventSubmitted    EventKind = "submitted"
	EventSubmitFailed EventKind = "submit_failed"
)

// Event is an advisory notification for the UI layer.
type Event struct {
	Kind       EventKind
	Remaining  time.Duration
	Unanswered []string
	Result     *domain.ScoreResult
	Err        error
	At         time.Time
}

// QuestionStatus is one row of the review recap.
type QuestionStatus struct {
	Index      int
	QuestionID string
	Answered   bool
}

type Option func(*Machine)

func WithClock(c clockwork.Clock) Option {
	return func(m *Machine) { m.clock = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Machine) { m.log = l }
}

// Machine owns one attempt's state. All methods are safe for concurrent use.
type Machine struct {
	quizID     string
	userID     string
	client     Client
	schedulers Schedulers
	cfg        Config
	clock      clockwork.Clock
	log        *zap.Logger
	events     chan Event

	mu          sync.Mutex
	state       domain.AttemptState
	questionIDs []string
	questions   []domain.Question
	scheduler   *progress.Scheduler
	result      *domain.ScoreResult
	warned      map[time.Duration]bool
	starting    bool
	submitting  bool
	stop        chan struct{}
}

func NewMachine(quizID, userID string, client Client, schedulers Schedulers, cfg Config, opts ...Option) *Machine {
	m := &Machine{
		quizID:     quizID,
		userID:     userID,
		client:     client,
		schedulers: schedulers,
		cfg:        cfg.withDefaults(),
		clock:      clockwork.NewRealClock(),
		log:        zap.NewNop(),
		events:     make(chan Event, 32),
		state:      domain.AttemptState{Lifecycle: domain.LifecycleNotStarted},
		warned:     make(map[time.Duration]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With(zap.String("quiz", quizID), zap.String("user", userID))
	return m
}

// Events streams advisory events. Slow readers lose the oldest events.
func (m *Machine) Events() <-chan Event {
	return m.events
}

// Start asks the server for an attempt and begins answering.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state.Lifecycle != domain.LifecycleNotStarted || m.starting {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.starting = true
	m.mu.Unlock()

	grant, err := m.client.StartAttempt(ctx, m.quizID, m.userID)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.starting = false
	if err != nil {
		return fmt.Errorf("start attempt: %w", err)
	}
	m.beginLocked(grant, m.clock.Now(), false)
	m.log.Info("attempt started", zap.String("attempt", grant.AttemptID), zap.Int("timeLimit", grant.TimeLimitSeconds))
	return nil
}

// Resume rebuilds an attempt after a reload. Answers and position come from the
// attempt's pending autosave, if any.
func (m *Machine) Resume(grant domain.AttemptGrant, startedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Lifecycle != domain.LifecycleNotStarted || m.starting {
		return ErrAlreadyStarted
	}
	m.beginLocked(grant, startedAt, true)
	m.log.Info("attempt resumed", zap.String("attempt", grant.AttemptID), zap.Int("answers", len(m.state.Answers)))
	return nil
}

func (m *Machine) beginLocked(grant domain.AttemptGrant, startedAt time.Time, restore bool) {
	m.questionIDs = append([]string(nil), grant.QuestionIDs...)
	if len(m.questionIDs) == 0 {
		for _, q := range grant.Questions {
			m.questionIDs = append(m.questionIDs, q.ID)
		}
	}
	m.questions = append([]domain.Question(nil), grant.Questions...)
	m.state = domain.AttemptState{
		AttemptID:        grant.AttemptID,
		Answers:          make(map[string]domain.AnswerValue),
		StartedAt:        startedAt,
		TimeLimitSeconds: grant.TimeLimitSeconds,
		Lifecycle:        domain.LifecycleInProgress,
	}
	m.scheduler = m.schedulers.Acquire(domain.AttemptSubjectID(grant.AttemptID))
	if pending, ok := m.scheduler.Latest(); ok && restore {
		for id, v := range pending.Answers {
			m.state.Answers[id] = v.Clone()
		}
		if i := m.indexOf(pending.CurrentPosition); i > 0 {
			m.state.QuestionIndex = i
		}
	}

	m.stop = make(chan struct{})
	autosave := m.clock.NewTicker(m.cfg.AutosaveInterval)
	go m.autosaveLoop(m.stop, autosave, m.scheduler)
	if grant.TimeLimitSeconds > 0 {
		countdown := m.clock.NewTicker(time.Second)
		go m.countdownLoop(m.stop, countdown)
	}
	m.emitLocked(Event{Kind: EventStarted, Remaining: m.remainingLocked()})
}

// Answer upserts an answer and hands an autosave snapshot to the scheduler.
// An empty value clears the answer.
func (m *Machine) Answer(questionID string, value domain.AnswerValue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.answeringLocked(); err != nil {
		return err
	}
	if m.indexOf(questionID) < 0 {
		return fmt.Errorf("%w: %s", domain.ErrQuestionNotFound, questionID)
	}
	if value.IsEmpty() {
		delete(m.state.Answers, questionID)
	} else {
		if err := value.Validate(); err != nil {
			return err
		}
		m.state.Answers[questionID] = value.Clone()
	}
	if err := m.scheduler.NotifyMutation(m.snapshotLocked()); err != nil {
		m.log.Warn("autosave not queued", zap.Error(err))
	}
	return nil
}

// GoToQuestion moves to index, clamped to the question range. From review it
// returns to answering.
func (m *Machine) GoToQuestion(index int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state.Lifecycle {
	case domain.LifecycleInProgress, domain.LifecycleReviewing:
	case domain.LifecycleNotStarted:
		return 0, ErrNotStarted
	default:
		return m.state.QuestionIndex, ErrNotAnswering
	}
	if index >= len(m.questionIDs) {
		index = len(m.questionIDs) - 1
	}
	if index < 0 {
		index = 0
	}
	m.state.QuestionIndex = index
	m.state.Lifecycle = domain.LifecycleInProgress
	return index, nil
}

func (m *Machine) Next() (int, error) {
	return m.GoToQuestion(m.State().QuestionIndex + 1)
}

func (m *Machine) Prev() (int, error) {
	return m.GoToQuestion(m.State().QuestionIndex - 1)
}

// OpenReview switches to the read-only recap.
func (m *Machine) OpenReview() ([]QuestionStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.answeringLocked(); err != nil {
		return nil, err
	}
	m.state.Lifecycle = domain.LifecycleReviewing
	out := make([]QuestionStatus, len(m.questionIDs))
	for i, id := range m.questionIDs {
		_, answered := m.state.Answers[id]
		out[i] = QuestionStatus{Index: i, QuestionID: id, Answered: answered}
	}
	return out, nil
}

// ResumeAnswering leaves the review recap.
func (m *Machine) ResumeAnswering() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Lifecycle != domain.LifecycleReviewing {
		return ErrNotAnswering
	}
	m.state.Lifecycle = domain.LifecycleInProgress
	return nil
}

// Submit sends the answers for grading. While a submission is in flight further
// calls return ErrSubmitInFlight without touching the network; once completed
// the stored result is returned. A failed submission leaves the attempt in the
// submitting state so the caller can retry.
func (m *Machine) Submit(ctx context.Context) (domain.ScoreResult, error) {
	m.mu.Lock()
	switch {
	case m.state.Lifecycle == domain.LifecycleCompleted:
		res := *m.result
		m.mu.Unlock()
		return res, nil
	case m.submitting:
		m.mu.Unlock()
		return domain.ScoreResult{}, ErrSubmitInFlight
	case m.state.Lifecycle == domain.LifecycleNotStarted:
		m.mu.Unlock()
		return domain.ScoreResult{}, ErrNotStarted
	}
	m.submitting = true
	m.state.Lifecycle = domain.LifecycleSubmitting
	m.stopLoopsLocked()
	if m.scheduler != nil {
		m.scheduler.Close()
	}
	if missing := scoring.Unanswered(m.questionIDs, m.state.Answers); len(missing) > 0 {
		m.emitLocked(Event{Kind: EventIncomplete, Unanswered: missing})
	}
	attemptID := m.state.AttemptID
	answers := domain.CloneAnswers(m.state.Answers)
	m.mu.Unlock()

	submitCtx, cancel := context.WithTimeout(ctx, m.cfg.SubmitTimeout)
	res, err := m.client.SubmitAttempt(submitCtx, attemptID, answers)
	cancel()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitting = false
	if err != nil {
		m.log.Warn("submission failed", zap.String("attempt", attemptID), zap.Error(err))
		m.emitLocked(Event{Kind: EventSubmitFailed, Err: err})
		return domain.ScoreResult{}, fmt.Errorf("submit attempt: %w", err)
	}
	m.state.Lifecycle = domain.LifecycleCompleted
	m.result = &res
	m.schedulers.Drop(domain.AttemptSubjectID(attemptID))
	m.scheduler = nil
	m.log.Info("attempt submitted", zap.String("attempt", attemptID), zap.Float64("percent", res.Percent), zap.Bool("passed", res.Passed))
	m.emitLocked(Event{Kind: EventSubmitted, Result: &res})
	return res, nil
}

// Close stops the machine's timers without submitting and releases the
// autosave scheduler through its unload path.
func (m *Machine) Close() progress.Outcome {
	m.mu.Lock()
	m.stopLoopsLocked()
	attemptID := m.state.AttemptID
	sched := m.scheduler
	m.scheduler = nil
	m.mu.Unlock()
	if sched == nil {
		return progress.OutcomeIdle
	}
	return m.schedulers.Release(domain.AttemptSubjectID(attemptID))
}

// State returns a copy of the attempt state.
func (m *Machine) State() domain.AttemptState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state
	st.Answers = domain.CloneAnswers(m.state.Answers)
	return st
}

// Questions returns the public question list granted at start.
func (m *Machine) Questions() []domain.Question {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Question(nil), m.questions...)
}

// Remaining returns the time left, or 0 when the attempt is untimed.
func (m *Machine) Remaining() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remainingLocked()
}

// Result returns the graded result once completed.
func (m *Machine) Result() (domain.ScoreResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.result == nil {
		return domain.ScoreResult{}, false
	}
	return *m.result, true
}

func (m *Machine) answeringLocked() error {
	switch m.state.Lifecycle {
	case domain.LifecycleInProgress:
		return nil
	case domain.LifecycleNotStarted:
		return ErrNotStarted
	case domain.LifecycleCompleted:
		return ErrCompleted
	default:
		return ErrNotAnswering
	}
}

func (m *Machine) snapshotLocked() domain.ProgressSnapshot {
	answered := make([]string, 0, len(m.state.Answers))
	for id := range m.state.Answers {
		answered = append(answered, id)
	}
	sort.Strings(answered)
	current := ""
	if i := m.state.QuestionIndex; i >= 0 && i < len(m.questionIDs) {
		current = m.questionIDs[i]
	}
	s := domain.NewProgressSnapshot(domain.SubjectAttempt, domain.AttemptSubjectID(m.state.AttemptID),
		m.userID, current, answered, len(m.questionIDs), m.clock.Now())
	s.Answers = domain.CloneAnswers(m.state.Answers)
	return s
}

func (m *Machine) indexOf(questionID string) int {
	for i, id := range m.questionIDs {
		if id == questionID {
			return i
		}
	}
	return -1
}

func (m *Machine) remainingLocked() time.Duration {
	if m.state.TimeLimitSeconds <= 0 {
		return 0
	}
	left := time.Duration(m.state.TimeLimitSeconds)*time.Second - m.clock.Since(m.state.StartedAt)
	if left < 0 {
		return 0
	}
	return left
}

func (m *Machine) stopLoopsLocked() {
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
}

func (m *Machine) autosaveLoop(stop <-chan struct{}, ticker clockwork.Ticker, sched *progress.Scheduler) {
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			sched.Flush(context.Background())
		}
	}
}

func (m *Machine) countdownLoop(stop <-chan struct{}, ticker clockwork.Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			if m.tick() {
				if _, err := m.Submit(context.Background()); err != nil && !errors.Is(err, ErrSubmitInFlight) {
					m.log.Error("forced submission failed", zap.Error(err))
				}
				return
			}
		}
	}
}

// tick emits threshold warnings and reports whether time ran out.
func (m *Machine) tick() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state.Lifecycle {
	case domain.LifecycleInProgress, domain.LifecycleReviewing:
	default:
		return false
	}
	left := m.remainingLocked()
	limit := time.Duration(m.state.TimeLimitSeconds) * time.Second
	for _, th := range m.cfg.WarningThresholds {
		if th < limit && left <= th && left > 0 && !m.warned[th] {
			m.warned[th] = true
			m.emitLocked(Event{Kind: EventTimeWarning, Remaining: left})
		}
	}
	if left > 0 {
		return false
	}
	m.log.Info("time limit reached, submitting", zap.String("attempt", m.state.AttemptID))
	m.emitLocked(Event{Kind: EventTimeUp})
	return true
}

func (m *Machine) emitLocked(ev Event) {
	ev.At = m.clock.Now()
	select {
	case m.events <- ev:
	default:
		select {
		case <-m.events:
		default:
		}
		select {
		case m.events <- ev:
		default:
		}
	}
}
