package domain

import (
	"math"
	"sort"
	"strings"
	"time"
)

// SubjectKind names the surface a snapshot was produced by.
type SubjectKind string

const (
	SubjectTutorial   SubjectKind = "tutorial"
	SubjectVideo      SubjectKind = "video"
	SubjectSimulation SubjectKind = "simulation"
	SubjectAttempt    SubjectKind = "attempt"
)

const attemptSubjectPrefix = "attempt:"

// AttemptSubjectID is the subject id used for a quiz attempt's autosave channel.
func AttemptSubjectID(attemptID string) string {
	return attemptSubjectPrefix + attemptID
}

// AttemptIDFromSubject reverses AttemptSubjectID.
func AttemptIDFromSubject(subjectID string) (string, bool) {
	if !strings.HasPrefix(subjectID, attemptSubjectPrefix) {
		return "", false
	}
	return strings.TrimPrefix(subjectID, attemptSubjectPrefix), true
}

// ProgressSnapshot is an immutable description of a subject's progress. The newest
// snapshot for a subject always replaces older ones in full.
type ProgressSnapshot struct {
	SubjectID          string                 `json:"subjectId" validate:"required,max=128"`
	Kind               SubjectKind            `json:"kind" validate:"required,oneof=tutorial video simulation attempt"`
	UserID             string                 `json:"userId" validate:"required,max=128"`
	CurrentPosition    string                 `json:"currentPosition" validate:"max=128"`
	CompletedPositions []string               `json:"completedPositions" validate:"dive,max=128"`
	PercentComplete    float64                `json:"percentComplete" validate:"gte=0,lte=100"`
	Answers            map[string]AnswerValue `json:"answers,omitempty"`
	CapturedAt         time.Time              `json:"capturedAt" validate:"required"`
}

// NewProgressSnapshot normalises the completed set (deduplicated, sorted) and
// derives PercentComplete from totalPositions when it is positive.
func NewProgressSnapshot(kind SubjectKind, subjectID, userID, current string, completed []string, totalPositions int, at time.Time) ProgressSnapshot {
	set := NormalizePositions(completed)
	return ProgressSnapshot{
		SubjectID:          subjectID,
		Kind:               kind,
		UserID:             userID,
		CurrentPosition:    current,
		CompletedPositions: set,
		PercentComplete:    PercentOf(len(set), totalPositions),
		CapturedAt:         at,
	}
}

// Clone deep-copies the snapshot.
func (s ProgressSnapshot) Clone() ProgressSnapshot {
	out := s
	out.CompletedPositions = append([]string(nil), s.CompletedPositions...)
	out.Answers = CloneAnswers(s.Answers)
	return out
}

// NormalizePositions returns a sorted, de-duplicated copy of ids.
func NormalizePositions(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// PercentOf returns part/total*100 rounded to one decimal, clamped to 100.
func PercentOf(part, total int) float64 {
	if total <= 0 {
		return 0
	}
	p := Round1(float64(part) / float64(total) * 100)
	if p > 100 {
		return 100
	}
	return p
}

// Round1 rounds to one decimal place.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// PendingEntry is a queued, not yet acknowledged snapshot.
type PendingEntry struct {
	Seq        uint64           `json:"seq"`
	Snapshot   ProgressSnapshot `json:"snapshot"`
	EnqueuedAt time.Time        `json:"enqueuedAt"`
}

// ProgressStatus is the coarse state derived from a tutorial's percentage.
type ProgressStatus string

const (
	StatusNotStarted ProgressStatus = "not_started"
	StatusInProgress ProgressStatus = "in_progress"
	StatusCompleted  ProgressStatus = "completed"
)

// StatusFor derives the status from the completed count and percentage.
func StatusFor(completed int, percent float64) ProgressStatus {
	switch {
	case percent >= 100:
		return StatusCompleted
	case completed == 0:
		return StatusNotStarted
	default:
		return StatusInProgress
	}
}

// ProgressRecord is the server-side row for one subject and user.
type ProgressRecord struct {
	Snapshot  ProgressSnapshot `json:"snapshot"`
	Status    ProgressStatus   `json:"status"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// ProgressAck is returned by updateProgress / autosaveProgress.
type ProgressAck struct {
	Acknowledged    bool           `json:"acknowledged"`
	Status          ProgressStatus `json:"status,omitempty"`
	PercentComplete float64        `json:"percentComplete"`
	Milestone       int            `json:"milestone,omitempty"`
	// Stale is set when a newer snapshot was already stored; the write was a no-op.
	Stale bool `json:"stale,omitempty"`
}

// Milestones are the celebrated completion percentages.
var Milestones = []int{25, 50, 75, 100}

// CrossedMilestone returns the highest milestone in (prev, next], or 0.
func CrossedMilestone(prev, next float64) int {
	reached := 0
	for _, m := range Milestones {
		if prev < float64(m) && next >= float64(m) {
			reached = m
		}
	}
	return reached
}
