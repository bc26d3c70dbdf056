package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrQuestionNotFound indicates a submitted question ID is invalid.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrAttemptNotFound is returned for unknown attempt ids.
	ErrAttemptNotFound = errors.New("attempt not found")
	// ErrAttemptClosed is returned when an attempt was already submitted.
	ErrAttemptClosed = errors.New("attempt already submitted")
	// ErrAttemptsExhausted is returned when the quiz allows no further attempts.
	ErrAttemptsExhausted = errors.New("no attempts left for this quiz")
	// ErrAttemptOwner is returned when a user acts on someone else's attempt.
	ErrAttemptOwner = errors.New("attempt belongs to another user")
	// ErrInvalidAnswer flags a malformed AnswerValue.
	ErrInvalidAnswer = errors.New("invalid answer")
	// ErrInvalidSnapshot flags a snapshot that failed boundary validation.
	ErrInvalidSnapshot = errors.New("invalid progress snapshot")
	// ErrProgressNotFound is returned when no progress row exists yet.
	ErrProgressNotFound = errors.New("progress not found")
)

// DeliveryClass is the failure taxonomy of the sync channel.
type DeliveryClass string

const (
	ClassOffline                 DeliveryClass = "offline"
	ClassTimeout                 DeliveryClass = "timeout"
	ClassServerRejected          DeliveryClass = "server_rejected"
	ClassLocalStorageUnavailable DeliveryClass = "local_storage_unavailable"
)

// DeliveryError carries the failure class of a transport or storage call.
type DeliveryError struct {
	Class DeliveryClass
	// Status is the HTTP status when one was received.
	Status int
	Err    error
}

func (e *DeliveryError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d): %v", e.Class, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Offline wraps err as a connectivity failure.
func Offline(err error) error { return &DeliveryError{Class: ClassOffline, Err: err} }

// Timeout wraps err as a retryable timeout.
func Timeout(err error) error { return &DeliveryError{Class: ClassTimeout, Err: err} }

// Rejected wraps err as a non-retryable server rejection.
func Rejected(status int, err error) error {
	return &DeliveryError{Class: ClassServerRejected, Status: status, Err: err}
}

// StorageUnavailable wraps a durable storage failure.
func StorageUnavailable(err error) error {
	return &DeliveryError{Class: ClassLocalStorageUnavailable, Err: err}
}

// ClassOf returns the delivery class of err. Context deadline errors count as
// timeouts; unclassified errors report ok=false.
func ClassOf(err error) (DeliveryClass, bool) {
	if err == nil {
		return "", false
	}
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Class, true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout, true
	}
	return "", false
}
