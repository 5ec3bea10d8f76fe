package processor

import (
	"time"

	"github.com/superj80820/streamproc/logstream"
)

// defaultSnapshotPeriod matches the teacher's EnableBackupSnapshot
// default cadence for periodic state capture.
const (
	defaultSnapshotPeriod = 30 * time.Second
	defaultRetryBackoff   = 50 * time.Millisecond
)

// SchedulingHint is a placeholder for the spec's CPU-bound/I-O-bound
// scheduling hint surface; Go's runtime scheduler has no equivalent knob
// to set per-goroutine, so WithSchedulingHints is accepted for interface
// parity with the spec's configuration table but is presently a no-op.
// See DESIGN.md's Open Question decision.
type SchedulingHint int

const (
	SchedulingCPUBound SchedulingHint = iota
	SchedulingIOBound
)

// Config holds a controller's options-struct configuration, matching the
// teacher's kit/orm.Option / mq.ObserverOption functional-options shape.
type Config struct {
	snapshotPeriod time.Duration
	retryBackoff   time.Duration
	readOnly       bool
	eventFilter    EventFilter
	schedulingHint SchedulingHint
}

func defaultConfig() Config {
	return Config{
		snapshotPeriod: defaultSnapshotPeriod,
		retryBackoff:   defaultRetryBackoff,
		eventFilter:    func(logstream.Record) bool { return true },
	}
}

// Option configures a Controller at construction time.
type Option func(*Config)

// WithSnapshotPeriod sets the duration between snapshot ticks.
func WithSnapshotPeriod(d time.Duration) Option {
	return func(c *Config) { c.snapshotPeriod = d }
}

// WithReadOnly marks the processor read-only: scanForLastSourceEvent and
// the write phase are both skipped.
func WithReadOnly(readOnly bool) Option {
	return func(c *Config) { c.readOnly = readOnly }
}

// WithEventFilter installs a predicate applied identically during
// reprocessing and running.
func WithEventFilter(filter EventFilter) Option {
	return func(c *Config) { c.eventFilter = filter }
}

// WithSchedulingHints accepts the spec's scheduling-hint surface; see the
// SchedulingHint doc comment for why it is currently inert.
func WithSchedulingHints(hint SchedulingHint) Option {
	return func(c *Config) { c.schedulingHint = hint }
}

// WithRetryBackoff sets the cooperative yield duration between phase 2/3
// retries. Not part of spec.md's configuration table; added because a
// real retry loop needs a concrete backoff, unlike the spec's abstract
// "yield the scheduler".
func WithRetryBackoff(d time.Duration) Option {
	return func(c *Config) { c.retryBackoff = d }
}
