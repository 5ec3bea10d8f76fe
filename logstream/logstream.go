// Package logstream defines the contract the controller uses to read and
// append to the durable, ordered record log it drives. Concrete adapters
// live in logstream/memorylog (tests) and logstream/kafkalog (production).
package logstream

import (
	"context"

	"github.com/pkg/errors"
)

// Position identifies a record's place in the log. -1 means "none" so it
// can be compared and stored alongside real positions without a separate
// boolean, matching how the teacher threads sentinel sequence IDs through
// plain int fields.
type Position int64

// NoPosition is the sentinel for "no position yet".
const NoPosition Position = -1

// Record is an immutable entry in the log.
type Record struct {
	Position             Position
	ProducerID           string
	SourceRecordPosition Position
	Payload              []byte
}

var (
	// ErrClosed is returned by a LogReader/LogWriter once Close has run.
	ErrClosed = errors.New("logstream: closed")
	// ErrSeekOutOfRange names a Seek target the log cannot satisfy (e.g.
	// pruned or beyond the head). Neither memorylog nor kafkalog returns
	// it: both report such a target by Seek returning false.
	ErrSeekOutOfRange = errors.New("logstream: seek position out of range")
)

// LogReader reads records from a log in position order.
type LogReader interface {
	// Seek positions the reader so the next Next() call returns the record
	// at position, if any. It returns false if the log has no record at
	// or beyond that position (e.g. empty log at its head).
	Seek(ctx context.Context, position Position) (bool, error)
	// HasNext reports whether a record is currently available without
	// blocking for new production.
	HasNext(ctx context.Context) (bool, error)
	// Next returns the next record, advancing the reader.
	Next(ctx context.Context) (Record, error)
	// CommitPosition returns the log's current commit position.
	CommitPosition(ctx context.Context) (Position, error)
	// RegisterOnCommitPositionUpdated registers fn to be invoked whenever
	// the commit position advances. The returned func deregisters it.
	RegisterOnCommitPositionUpdated(fn func(Position)) (unregister func())
	// Close releases the reader's resources. Idempotent.
	Close() error
}

// LogWriter appends records to the log on behalf of a single producer.
// ProducerID and SourceRecordPosition are fluent setters that stamp the
// next Append call; this mirrors the teacher's functional-options style
// applied to a single mutable builder instead of a fresh struct per call,
// because the controller reuses one writer across many records.
type LogWriter interface {
	ProducerID(id string) LogWriter
	SourceRecordPosition(pos Position) LogWriter
	// Append writes payload and returns the assigned position, or a
	// negative value on a transient failure (caller retries).
	Append(ctx context.Context, payload []byte) (Position, error)
	Close() error
}
