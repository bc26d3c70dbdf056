package domain

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateSnapshot checks a snapshot at a transport boundary.
func ValidateSnapshot(s ProgressSnapshot) error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if s.Kind != SubjectAttempt && len(s.Answers) > 0 {
		return fmt.Errorf("%w: answers are only accepted for attempt subjects", ErrInvalidSnapshot)
	}
	if s.Kind == SubjectAttempt {
		if _, ok := AttemptIDFromSubject(s.SubjectID); !ok {
			return fmt.Errorf("%w: attempt subject id %q", ErrInvalidSnapshot, s.SubjectID)
		}
	}
	return ValidateAnswers(s.Answers)
}

// ValidateAnswers checks every tagged answer in the map.
func ValidateAnswers(answers map[string]AnswerValue) error {
	for id, v := range answers {
		if id == "" {
			return fmt.Errorf("%w: empty question id", ErrInvalidAnswer)
		}
		if err := v.Validate(); err != nil {
			return fmt.Errorf("question %s: %w", id, err)
		}
	}
	return nil
}
