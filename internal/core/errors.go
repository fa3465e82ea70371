package core

import (
	"errors"
	"fmt"
)

// StageError is an expected, content-level failure inside a stage: a missing
// precondition, a dangling reference, an unknown task kind. Stages convert it
// to a status=ERROR delta at their own boundary; the driver never retries it.
type StageError struct {
	Stage   string
	Message string
	Cause   error
}

func (e *StageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Stage, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Stage, e.Message)
}

func (e *StageError) Unwrap() error { return e.Cause }

// TransientError wraps infrastructure failures (store timeouts, generation
// service unavailability) that the driver retries with backoff before
// escalating to terminal handling.
type TransientError struct {
	Op    string
	Cause error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure in %s: %v", e.Op, e.Cause)
}

func (e *TransientError) Unwrap() error { return e.Cause }

// ProtocolViolation marks a status the supervisor cannot route. Treated as
// terminal with a logged warning rather than crashing, so a corrupt status
// never hangs a story.
type ProtocolViolation struct {
	Status Status
}

func (e *ProtocolViolation) Error() string {
	return fmt.Sprintf("unroutable status %q", e.Status)
}

// ConsistencyError marks a checkpoint invoked without its required pending
// data, e.g. a deviation review with no pending proposal.
type ConsistencyError struct {
	Checkpoint string
	Message    string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("%s checkpoint: %s", e.Checkpoint, e.Message)
}

// ErrNotFound is returned by stores when a story or entity does not exist.
var ErrNotFound = errors.New("not found")

// IsTransient reports whether the driver should retry the failed invocation.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Transient wraps err as retryable unless it already carries a definitive
// classification.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &TransientError{Op: op, Cause: err}
}
