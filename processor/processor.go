// Package processor implements the stream-processor controller: the
// event-loop state machine that drives a user-supplied StreamProcessor
// through reprocessing and live four-phase handling, and schedules
// periodic snapshots under the safety invariant. It is the Go rendering
// of the teacher's usecase/trading.tradingUseCase event loop, generalized
// from a single hard-coded trading pipeline into a reusable controller
// over any StreamProcessor.
package processor

import (
	"context"
	"io"

	"github.com/superj80820/streamproc/logstream"
)

// Phase is one of the controller's lifecycle states.
type Phase int

const (
	PhaseStarting Phase = iota
	PhaseReprocessing
	PhaseRunning
	PhaseSuspended
	PhaseClosing
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseStarting:
		return "STARTING"
	case PhaseReprocessing:
		return "REPROCESSING"
	case PhaseRunning:
		return "RUNNING"
	case PhaseSuspended:
		return "SUSPENDED"
	case PhaseClosing:
		return "CLOSING"
	case PhaseFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// EventFilter is a pure, side-effect-free predicate over a record. It
// must be deterministic for replay correctness: the controller invokes
// it identically during reprocessing and running.
type EventFilter func(logstream.Record) bool

// StateResource is the user processor's serializable state. The
// controller calls Reset at start, RestoreFrom during recovery,
// SerializeTo during snapshot capture; the handler mutates it during
// phase 4. No other component touches it.
type StateResource interface {
	Reset()
	SerializeTo(w io.Writer) error
	RestoreFrom(r io.Reader) error
}

// StreamProcessor is the user-supplied processor (component D): for each
// record it decides whether to produce an EventProcessor handler or skip,
// and it owns the recoverable StateResource.
type StreamProcessor interface {
	OnOpen(ctx context.Context) error
	// OnEvent returns nil to mean "skip this record".
	OnEvent(record logstream.Record) (EventProcessor, error)
	OnRecovered() error
	OnClose() error
	StateResource() StateResource
}

// EventProcessor is a single-use, per-record four-phase handler
// (component E): process -> executeSideEffects -> writeEvent ->
// updateState. The lifecycle ctx passed to Process is cancelled when the
// controller closes, which is Go's native stand-in for the spec's
// lifecycleCtx deferred-completion registration: a handler that needs to
// wait simply blocks on it, and Process can return as soon as its result
// is ready or ctx is cancelled. See DESIGN.md's Open Question resolution.
type EventProcessor interface {
	Process(ctx context.Context) error
	// ExecuteSideEffects returns false on a transient failure, which the
	// controller retries with cooperative yielding until true or close.
	ExecuteSideEffects(ctx context.Context) (bool, error)
	// WriteEvent appends the handler's output through w, which the
	// controller has already stamped with its producer ID and the source
	// record position, returning the assigned position (>= 0) or a
	// negative transient code.
	WriteEvent(ctx context.Context, w logstream.LogWriter) (logstream.Position, error)
	UpdateState(ctx context.Context) error
}
