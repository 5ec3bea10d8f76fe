package processor

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/superj80820/streamproc/logstream"
)

// Sentinels for conditions that never carry per-occurrence structured
// data; callers use errors.Is against these.
var (
	ErrNotOpen             = errors.New("processor: controller not open")
	ErrAlreadyOpen         = errors.New("processor: controller already open")
	ErrTransientWrite      = errors.New("processor: writeEvent returned a transient failure")
	ErrTransientSideEffect = errors.New("processor: executeSideEffects returned a transient failure")
)

// RecoveryError is fatal: a snapshot exists for the controller's name but
// its position is not present in the log.
type RecoveryError struct {
	Position logstream.Position
}

func (e *RecoveryError) Error() string {
	return fmt.Sprintf("processor: snapshot position %d not found in log", int64(e.Position))
}

// ReprocessingMissingSourceError is fatal: the reader was exhausted
// before reaching lastSourceEventPosition, or a record past it appeared
// first.
type ReprocessingMissingSourceError struct {
	Target  logstream.Position
	Reached logstream.Position
}

func (e *ReprocessingMissingSourceError) Error() string {
	return fmt.Sprintf("processor: reprocessing could not reach source position %d (reached %d)", int64(e.Target), int64(e.Reached))
}

// HandlerError wraps any error returned by the user's StreamProcessor or
// EventProcessor from any phase. Fatal; the current record is not
// retried.
type HandlerError struct {
	Phase string
	Cause error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("processor: handler error in phase %s: %v", e.Phase, e.Cause)
}

func (e *HandlerError) Unwrap() error { return e.Cause }

func handlerErr(phase string, cause error) error {
	return &HandlerError{Phase: phase, Cause: cause}
}

// SnapshotError wraps a non-fatal failure during snapshot write; the
// writer is aborted and the controller keeps running.
type SnapshotError struct {
	Position logstream.Position
	Cause    error
}

func (e *SnapshotError) Error() string {
	return fmt.Sprintf("processor: snapshot write at position %d failed: %v", int64(e.Position), e.Cause)
}

func (e *SnapshotError) Unwrap() error { return e.Cause }
