package render

import (
	"errors"
	"fmt"
)

// Failure kinds. Match them with errors.Is.
var (
	// ErrValidation means the clip spec is malformed; nothing was rendered.
	ErrValidation = errors.New("invalid clip spec")
	// ErrNotFound means the spec or its declared output is missing.
	ErrNotFound = errors.New("not found")
	// ErrUnknownPipeline means the pipeline key has no backend module.
	ErrUnknownPipeline = errors.New("unknown pipeline")
	// ErrBackendExecution means the backend ran and failed.
	ErrBackendExecution = errors.New("backend execution failed")
	// ErrCapabilityMismatch means the backend lacks a mandatory flag.
	ErrCapabilityMismatch = errors.New("backend capability mismatch")
)

// Error is a classified render failure for one clip.
type Error struct {
	Kind   error
	ClipID string
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.ClipID, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.ClipID, e.Kind, e.Err)
}

func (e *Error) Is(target error) bool { return target == e.Kind }

func (e *Error) Unwrap() error { return e.Err }

// Kind returns the failure kind of err, or nil when err is not a render
// failure.
func Kind(err error) error {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return nil
}

func newError(kind error, clipID string, err error) *Error {
	return &Error{Kind: kind, ClipID: clipID, Err: err}
}
