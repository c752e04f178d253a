package study

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the store, designers, policy supporters and the
// network layer. Callers match with errors.Is.
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrCorruptState    = errors.New("corrupt state")
	ErrResourceBusy    = errors.New("resource busy")
	ErrTransport       = errors.New("transport failure")
)

// NotFoundError reports an unknown study or trial reference.
type NotFoundError struct {
	Kind string // "study" or "trial"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// Unwrap lets errors.Is(err, ErrNotFound) match.
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// StudyNotFound returns a NotFoundError for a study guid.
func StudyNotFound(guid string) error {
	return &NotFoundError{Kind: "study", ID: guid}
}

// TrialNotFound returns a NotFoundError for a trial within a study.
func TrialNotFound(guid string, id int) error {
	return &NotFoundError{Kind: "trial", ID: fmt.Sprintf("%s/%d", guid, id)}
}

// InvalidArgument wraps ErrInvalidArgument with a formatted reason.
func InvalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// CorruptState wraps ErrCorruptState with a formatted reason.
func CorruptState(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorruptState, fmt.Sprintf(format, args...))
}
