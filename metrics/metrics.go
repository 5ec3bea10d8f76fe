// Package metrics defines the contract-only sink the controller emits
// counters and histograms through (component H). promsink provides the
// Prometheus-backed implementation; tests use a no-op or recording fake.
package metrics

import "time"

// Sink is implemented per controller instance; the metrics sink must be
// safe for this task's writes, with no other writer for a given metric,
// per the concurrency model.
type Sink interface {
	IncEventsProcessed(phase string)
	IncRetries(phase string)
	ObservePhaseLatency(phase string, d time.Duration)
	IncSnapshotOutcome(outcome string)
	SetPhase(phase string)
}

// Noop discards every observation; used by tests and by callers that
// don't need metrics wired.
type Noop struct{}

var _ Sink = Noop{}

func (Noop) IncEventsProcessed(phase string)            {}
func (Noop) IncRetries(phase string)                    {}
func (Noop) ObservePhaseLatency(phase string, d time.Duration) {}
func (Noop) IncSnapshotOutcome(outcome string)           {}
func (Noop) SetPhase(phase string)                       {}
