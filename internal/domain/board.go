package domain

import "time"

// BoardEntry is one learner's row on a subject's live progress board.
type BoardEntry struct {
	UserID          string         `json:"userId"`
	CurrentPosition string         `json:"currentPosition"`
	PercentComplete float64        `json:"percentComplete"`
	Status          ProgressStatus `json:"status"`
	Milestone       int            `json:"milestone,omitempty"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// ProgressBoard is what live feed subscribers receive.
type ProgressBoard struct {
	SubjectID string       `json:"subjectId"`
	Entries   []BoardEntry `json:"entries"`
	UpdatedAt time.Time    `json:"updatedAt"`
}
