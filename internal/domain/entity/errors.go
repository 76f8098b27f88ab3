package entity

import (
	"errors"
	"fmt"
)

var (
	ErrSourceUnavailable     = errors.New("source unavailable")
	ErrRecognitionFailure    = errors.New("recognition failure")
	ErrRecognizerUnavailable = errors.New("recognizer unavailable")
	ErrStoreFailure          = errors.New("store failure")
	ErrTaskNotFound          = errors.New("task not found")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrTaskFinished          = errors.New("task already finished")
)

// ProcessingError is a stage-aware error carrying one of the sentinel kinds above.
type ProcessingError struct {
	Kind    error
	Stage   string
	Message string
	Err     error
}

func NewProcessingError(kind error, stage, message string, err error) *ProcessingError {
	return &ProcessingError{Kind: kind, Stage: stage, Message: message, Err: err}
}

func (e *ProcessingError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%s: %s", e.Stage, e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is matches the error kind so callers can use errors.Is(err, ErrSourceUnavailable).
func (e *ProcessingError) Is(target error) bool {
	return e != nil && target == e.Kind
}

func (e *ProcessingError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
