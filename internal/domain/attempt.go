package domain

import "time"

// Lifecycle is the attempt state as seen by the client.
type Lifecycle string

const (
	LifecycleNotStarted Lifecycle = "not_started"
	LifecycleInProgress Lifecycle = "in_progress"
	LifecycleReviewing  Lifecycle = "reviewing"
	LifecycleSubmitting Lifecycle = "submitting"
	LifecycleCompleted  Lifecycle = "completed"
)

// AttemptState is owned by exactly one state machine.
type AttemptState struct {
	AttemptID        string                 `json:"attemptId"`
	QuestionIndex    int                    `json:"questionIndex"`
	Answers          map[string]AnswerValue `json:"answers"`
	StartedAt        time.Time              `json:"startedAt"`
	TimeLimitSeconds int                    `json:"timeLimitSeconds,omitempty"`
	Lifecycle        Lifecycle              `json:"lifecycle"`
}

// AttemptGrant is the server's answer to startAttempt.
type AttemptGrant struct {
	AttemptID        string     `json:"attemptId"`
	QuizID           string     `json:"quizId"`
	TimeLimitSeconds int        `json:"timeLimitSeconds"`
	QuestionCount    int        `json:"questionCount"`
	QuestionIDs      []string   `json:"questionIds"`
	Questions        []Question `json:"questions,omitempty"`
	StartedAt        time.Time  `json:"startedAt"`
	AttemptNumber    int        `json:"attemptNumber"`
	AttemptsAllowed  int        `json:"attemptsAllowed,omitempty"`
}

// QuestionScore is one row of the per-question breakdown.
type QuestionScore struct {
	QuestionID string       `json:"questionId"`
	Type       QuestionType `json:"type"`
	Points     float64      `json:"points"`
	Earned     float64      `json:"earned"`
	Answered   bool         `json:"answered"`
	Correct    bool         `json:"correct"`
	// Manual is set for free-text questions whose earned value comes from a grader.
	Manual bool `json:"manual,omitempty"`
	// CorrectAnswer is only filled when the quiz reveals answers after grading.
	CorrectAnswer *AnswerValue `json:"correctAnswer,omitempty"`
}

// ScoreResult is the aggregate produced by scoring.
type ScoreResult struct {
	EarnedPoints float64         `json:"earnedPoints"`
	TotalPoints  float64         `json:"totalPoints"`
	Percent      float64         `json:"percent"`
	Passed       bool            `json:"passed"`
	PassingGrade float64         `json:"passingGrade"`
	Breakdown    []QuestionScore `json:"perQuestionBreakdown,omitempty"`
	CanRetake    bool            `json:"canRetake"`
}

// ManualPoints extracts grader-supplied points from a breakdown so a result can
// be recomputed locally.
func (r ScoreResult) ManualPoints() map[string]float64 {
	out := make(map[string]float64)
	for _, row := range r.Breakdown {
		if row.Manual {
			out[row.QuestionID] = row.Earned
		}
	}
	return out
}

// AttemptStatus is the server-side attempt status.
type AttemptStatus string

const (
	AttemptOpen      AttemptStatus = "in_progress"
	AttemptSubmitted AttemptStatus = "submitted"
)

// AttemptRecord is the server-side attempt row.
type AttemptRecord struct {
	ID            string                 `json:"id"`
	QuizID        string                 `json:"quizId"`
	UserID        string                 `json:"userId"`
	Status        AttemptStatus          `json:"status"`
	QuestionIndex int                    `json:"questionIndex"`
	Answers       map[string]AnswerValue `json:"answers"`
	StartedAt     time.Time              `json:"startedAt"`
	SavedAt       time.Time              `json:"savedAt"`
	CapturedAt    *time.Time             `json:"capturedAt,omitempty"` // client clock of the last applied autosave
	SubmittedAt   *time.Time             `json:"submittedAt,omitempty"`
	Result        *ScoreResult           `json:"result,omitempty"`
}
