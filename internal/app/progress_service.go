package app

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"assessment-sync/internal/domain"
	"assessment-sync/internal/scoring"
)

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// ProgressRepository stores the latest snapshot per subject and user.
type ProgressRepository interface {
	// Save stores rec unless a snapshot captured later is already stored. It
	// returns the previously stored percentage (0 when none) and whether rec
	// was applied.
	Save(ctx context.Context, rec domain.ProgressRecord) (prevPercent float64, applied bool, err error)
	Get(ctx context.Context, subjectID, userID string) (domain.ProgressRecord, error)
}

// AttemptRepository stores attempts. SaveAnswers and Complete return
// domain.ErrAttemptClosed once the attempt is submitted.
type AttemptRepository interface {
	Create(ctx context.Context, rec domain.AttemptRecord) error
	Get(ctx context.Context, attemptID string) (domain.AttemptRecord, error)
	// CountAttempts counts every attempt the user started on the quiz.
	CountAttempts(ctx context.Context, quizID, userID string) (int, error)
	// SaveAnswers stores an autosave. capturedAt is the client's clock, savedAt the server's.
	SaveAnswers(ctx context.Context, attemptID string, questionIndex int, answers map[string]domain.AnswerValue, capturedAt, savedAt time.Time) error
	Complete(ctx context.Context, attemptID string, answers map[string]domain.AnswerValue, result domain.ScoreResult, at time.Time) error
}

// FeedRepository abstracts how live feeds are kept (in-memory, Redis, etc).
type FeedRepository interface {
	GetOrCreate(subjectID string) *Feed
	Get(subjectID string) (*Feed, bool)
	DeleteIfEmpty(subjectID string)
}

// ProgressService is the server side of the sync channel: attempts, autosave,
// grading and generic progress updates.
type ProgressService struct {
	quizzes  QuizRepository
	attempts AttemptRepository
	progress ProgressRepository
	feeds    FeedRepository
	log      *zap.Logger
	now      func() time.Time
	newID    func() string
	submits  singleflight.Group
}

type ServiceOption func(*ProgressService)

// WithNow overrides the service clock.
func WithNow(now func() time.Time) ServiceOption {
	return func(s *ProgressService) { s.now = now }
}

// WithIDs overrides attempt id generation.
func WithIDs(newID func() string) ServiceOption {
	return func(s *ProgressService) { s.newID = newID }
}

func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *ProgressService) { s.log = l }
}

func NewProgressService(quizzes QuizRepository, attempts AttemptRepository, progress ProgressRepository, feeds FeedRepository, opts ...ServiceOption) *ProgressService {
	s := &ProgressService{
		quizzes:  quizzes,
		attempts: attempts,
		progress: progress,
		feeds:    feeds,
		log:      zap.NewNop(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartAttempt opens a new attempt. The attempt id is allocated here, never by
// the client. It fails with domain.ErrAttemptsExhausted once the quiz allows
// no further attempts for the user.
func (s *ProgressService) StartAttempt(ctx context.Context, quizID, userID string) (domain.AttemptGrant, error) {
	if userID == "" {
		return domain.AttemptGrant{}, fmt.Errorf("%w: missing user", domain.ErrInvalidSnapshot)
	}
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.AttemptGrant{}, err
	}
	taken, err := s.attempts.CountAttempts(ctx, quizID, userID)
	if err != nil {
		return domain.AttemptGrant{}, err
	}
	if !quiz.AllowsAttempt(taken) {
		return domain.AttemptGrant{}, domain.ErrAttemptsExhausted
	}

	now := s.now()
	rec := domain.AttemptRecord{
		ID:        s.newID(),
		QuizID:    quizID,
		UserID:    userID,
		Status:    domain.AttemptOpen,
		Answers:   map[string]domain.AnswerValue{},
		StartedAt: now,
		SavedAt:   now,
	}
	if err := s.attempts.Create(ctx, rec); err != nil {
		return domain.AttemptGrant{}, err
	}

	questions := make([]domain.Question, len(quiz.Questions))
	for i, q := range quiz.Questions {
		questions[i] = q.Public()
	}
	s.log.Info("attempt started", zap.String("attempt", rec.ID), zap.String("quiz", quizID), zap.String("user", userID))
	return domain.AttemptGrant{
		AttemptID:        rec.ID,
		QuizID:           quizID,
		TimeLimitSeconds: quiz.TimeLimitSeconds,
		QuestionCount:    len(quiz.Questions),
		QuestionIDs:      quiz.QuestionIDs(),
		Questions:        questions,
		StartedAt:        now,
		AttemptNumber:    taken + 1,
		AttemptsAllowed:  quiz.AttemptsAllowed,
	}, nil
}

// AutosaveAttempt stores an attempt's in-flight answers. Snapshots captured
// before the stored one are acknowledged without being applied. Both sides of
// that comparison come from the client clock.
func (s *ProgressService) AutosaveAttempt(ctx context.Context, attemptID, userID string, snapshot domain.ProgressSnapshot) (domain.ProgressAck, error) {
	if err := domain.ValidateSnapshot(snapshot); err != nil {
		return domain.ProgressAck{}, err
	}
	if snapshot.Kind != domain.SubjectAttempt || snapshot.SubjectID != domain.AttemptSubjectID(attemptID) {
		return domain.ProgressAck{}, fmt.Errorf("%w: subject %q does not belong to attempt %s", domain.ErrInvalidSnapshot, snapshot.SubjectID, attemptID)
	}
	if snapshot.UserID != userID {
		return domain.ProgressAck{}, domain.ErrAttemptOwner
	}

	rec, err := s.ownedAttempt(ctx, attemptID, userID)
	if err != nil {
		return domain.ProgressAck{}, err
	}
	if rec.Status == domain.AttemptSubmitted {
		return domain.ProgressAck{}, domain.ErrAttemptClosed
	}
	quiz, err := s.quizzes.GetQuiz(ctx, rec.QuizID)
	if err != nil {
		return domain.ProgressAck{}, err
	}
	if err := checkQuestions(quiz, snapshot.Answers); err != nil {
		return domain.ProgressAck{}, err
	}

	percent := domain.PercentOf(len(snapshot.Answers), len(quiz.Questions))
	ack := domain.ProgressAck{Acknowledged: true, Status: domain.StatusFor(len(snapshot.Answers), percent), PercentComplete: percent}
	if rec.CapturedAt != nil && snapshot.CapturedAt.Before(*rec.CapturedAt) {
		ack.Stale = true
		return ack, nil
	}

	index := 0
	for i, id := range quiz.QuestionIDs() {
		if id == snapshot.CurrentPosition {
			index = i
			break
		}
	}
	if err := s.attempts.SaveAnswers(ctx, attemptID, index, snapshot.Answers, snapshot.CapturedAt, s.now()); err != nil {
		return domain.ProgressAck{}, err
	}
	return ack, nil
}

// SubmitAttempt grades an attempt exactly once. Concurrent submissions of the
// same attempt share one grading run; a repeated submission with the same
// answers returns the stored result.
func (s *ProgressService) SubmitAttempt(ctx context.Context, attemptID, userID string, answers map[string]domain.AnswerValue) (domain.ScoreResult, error) {
	if err := domain.ValidateAnswers(answers); err != nil {
		return domain.ScoreResult{}, err
	}
	res, err, _ := s.submits.Do(attemptID+"/"+userID, func() (interface{}, error) {
		return s.submit(ctx, attemptID, userID, answers)
	})
	if err != nil {
		return domain.ScoreResult{}, err
	}
	return res.(domain.ScoreResult), nil
}

func (s *ProgressService) submit(ctx context.Context, attemptID, userID string, answers map[string]domain.AnswerValue) (domain.ScoreResult, error) {
	rec, err := s.ownedAttempt(ctx, attemptID, userID)
	if err != nil {
		return domain.ScoreResult{}, err
	}
	if rec.Status == domain.AttemptSubmitted {
		return replay(rec, answers)
	}
	quiz, err := s.quizzes.GetQuiz(ctx, rec.QuizID)
	if err != nil {
		return domain.ScoreResult{}, err
	}
	if err := checkQuestions(quiz, answers); err != nil {
		return domain.ScoreResult{}, err
	}

	result := scoring.Score(quiz.Questions, answers, quiz.PassingGrade, nil)
	if quiz.ShowCorrectAnswers {
		scoring.RevealAnswers(quiz.Questions, &result)
	}
	taken, err := s.attempts.CountAttempts(ctx, rec.QuizID, userID)
	if err != nil {
		return domain.ScoreResult{}, err
	}
	result.CanRetake = quiz.AllowsAttempt(taken)
	if err := s.attempts.Complete(ctx, attemptID, answers, result, s.now()); err != nil {
		if errors.Is(err, domain.ErrAttemptClosed) {
			// another instance graded it first
			if rec, getErr := s.attempts.Get(ctx, attemptID); getErr == nil {
				return replay(rec, answers)
			}
		}
		return domain.ScoreResult{}, err
	}
	s.log.Info("attempt graded",
		zap.String("attempt", attemptID),
		zap.Float64("earned", result.EarnedPoints),
		zap.Float64("total", result.TotalPoints),
		zap.Bool("passed", result.Passed))
	return result, nil
}

func replay(rec domain.AttemptRecord, answers map[string]domain.AnswerValue) (domain.ScoreResult, error) {
	if rec.Result == nil || !sameAnswers(rec.Answers, answers) {
		return domain.ScoreResult{}, domain.ErrAttemptClosed
	}
	return *rec.Result, nil
}

func sameAnswers(a, b map[string]domain.AnswerValue) bool {
	if len(a) != len(b) {
		return false
	}
	for id, v := range a {
		w, ok := b[id]
		if !ok || !reflect.DeepEqual(v.Clone(), w.Clone()) {
			return false
		}
	}
	return true
}

// UpdateProgress records a tutorial, video or simulation snapshot and reports
// the highest milestone it crossed.
func (s *ProgressService) UpdateProgress(ctx context.Context, userID string, snapshot domain.ProgressSnapshot) (domain.ProgressAck, error) {
	if err := domain.ValidateSnapshot(snapshot); err != nil {
		return domain.ProgressAck{}, err
	}
	if snapshot.Kind == domain.SubjectAttempt {
		return domain.ProgressAck{}, fmt.Errorf("%w: attempts autosave through their own route", domain.ErrInvalidSnapshot)
	}
	if snapshot.UserID != userID {
		return domain.ProgressAck{}, fmt.Errorf("%w: snapshot user does not match caller", domain.ErrInvalidSnapshot)
	}

	status := domain.StatusFor(len(snapshot.CompletedPositions), snapshot.PercentComplete)
	now := s.now()
	prev, applied, err := s.progress.Save(ctx, domain.ProgressRecord{
		Snapshot:  snapshot.Clone(),
		Status:    status,
		UpdatedAt: now,
	})
	if err != nil {
		return domain.ProgressAck{}, err
	}
	ack := domain.ProgressAck{Acknowledged: true, Status: status, PercentComplete: snapshot.PercentComplete}
	if !applied {
		ack.Stale = true
		return ack, nil
	}
	ack.Milestone = domain.CrossedMilestone(prev, snapshot.PercentComplete)
	if ack.Milestone > 0 {
		s.log.Info("milestone reached",
			zap.String("subject", snapshot.SubjectID), zap.String("user", userID), zap.Int("milestone", ack.Milestone))
	}

	if feed, ok := s.feeds.Get(snapshot.SubjectID); ok {
		feed.publish(domain.BoardEntry{
			UserID:          userID,
			CurrentPosition: snapshot.CurrentPosition,
			PercentComplete: snapshot.PercentComplete,
			Status:          status,
			Milestone:       ack.Milestone,
			UpdatedAt:       snapshot.CapturedAt,
		})
	}
	return ack, nil
}

// Apply routes a snapshot to the attempt autosave or the generic progress
// channel. Used by paths that only carry the snapshot, such as teardown beacons.
func (s *ProgressService) Apply(ctx context.Context, userID string, snapshot domain.ProgressSnapshot) (domain.ProgressAck, error) {
	if snapshot.Kind == domain.SubjectAttempt {
		attemptID, ok := domain.AttemptIDFromSubject(snapshot.SubjectID)
		if !ok {
			return domain.ProgressAck{}, fmt.Errorf("%w: attempt subject id %q", domain.ErrInvalidSnapshot, snapshot.SubjectID)
		}
		return s.AutosaveAttempt(ctx, attemptID, userID, snapshot)
	}
	return s.UpdateProgress(ctx, userID, snapshot)
}

// GetProgress returns the stored record for a subject and user.
func (s *ProgressService) GetProgress(ctx context.Context, subjectID, userID string) (domain.ProgressRecord, error) {
	return s.progress.Get(ctx, subjectID, userID)
}

// GetAttempt returns an attempt owned by userID.
func (s *ProgressService) GetAttempt(ctx context.Context, attemptID, userID string) (domain.AttemptRecord, error) {
	return s.ownedAttempt(ctx, attemptID, userID)
}

// Subscribe returns a channel that receives board updates for a subject.
// The caller must invoke the returned cancel function to avoid leaks.
func (s *ProgressService) Subscribe(_ context.Context, subjectID string) (<-chan domain.ProgressBoard, func(), error) {
	if subjectID == "" {
		return nil, nil, fmt.Errorf("%w: missing subject", domain.ErrInvalidSnapshot)
	}
	feed := s.feeds.GetOrCreate(subjectID)
	ch, cancel := feed.subscribe()
	return ch, func() {
		cancel()
		s.feeds.DeleteIfEmpty(subjectID)
	}, nil
}

func (s *ProgressService) ownedAttempt(ctx context.Context, attemptID, userID string) (domain.AttemptRecord, error) {
	rec, err := s.attempts.Get(ctx, attemptID)
	if err != nil {
		return domain.AttemptRecord{}, err
	}
	if rec.UserID != userID {
		return domain.AttemptRecord{}, domain.ErrAttemptOwner
	}
	return rec, nil
}

func checkQuestions(quiz domain.Quiz, answers map[string]domain.AnswerValue) error {
	known := make(map[string]struct{}, len(quiz.Questions))
	for _, q := range quiz.Questions {
		known[q.ID] = struct{}{}
	}
	for id := range answers {
		if _, ok := known[id]; !ok {
			return fmt.Errorf("%w: %s", domain.ErrQuestionNotFound, id)
		}
	}
	return nil
}
