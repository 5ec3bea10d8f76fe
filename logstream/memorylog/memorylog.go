// Package memorylog is an in-process logstream implementation used by
// controller tests and local demos. It keeps every record in a slice
// guarded by a mutex and lets tests drive the commit position directly,
// which is the lever scenario S4 (the snapshot safety gate) needs.
package memorylog

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/superj80820/streamproc/logstream"
)

// Log is a position-indexed, in-memory record log. The zero value is not
// usable; construct with New.
type Log struct {
	lock    sync.RWMutex
	records []logstream.Record

	commitPosition logstream.Position

	observers map[*func(logstream.Position)]func(logstream.Position)
}

// New creates an empty log with commit position at NoPosition.
func New() *Log {
	return &Log{
		commitPosition: logstream.NoPosition,
		observers:      make(map[*func(logstream.Position)]func(logstream.Position)),
	}
}

// Append is a test/demo convenience that writes directly to the log
// without going through a LogWriter, returning the assigned position.
func (l *Log) Append(producerID string, sourceRecordPosition logstream.Position, payload []byte) logstream.Position {
	l.lock.Lock()
	defer l.lock.Unlock()

	position := logstream.Position(len(l.records))
	l.records = append(l.records, logstream.Record{
		Position:             position,
		ProducerID:           producerID,
		SourceRecordPosition: sourceRecordPosition,
		Payload:              payload,
	})
	return position
}

// AdvanceCommitPosition sets the commit position and notifies observers.
// It never moves the commit position backward.
func (l *Log) AdvanceCommitPosition(position logstream.Position) {
	l.lock.Lock()
	if position <= l.commitPosition {
		l.lock.Unlock()
		return
	}
	l.commitPosition = position
	observers := make([]func(logstream.Position), 0, len(l.observers))
	for _, fn := range l.observers {
		observers = append(observers, fn)
	}
	l.lock.Unlock()

	for _, fn := range observers {
		fn(position)
	}
}

// Reader opens a new LogReader over the log, independent of any other
// reader's cursor.
func (l *Log) Reader() logstream.LogReader {
	return &reader{log: l, cursor: 0}
}

// Writer opens a new LogWriter over the log.
func (l *Log) Writer() logstream.LogWriter {
	return &writer{log: l}
}

type reader struct {
	log    *Log
	cursor int // index into log.records of the next record to return

	closed bool
}

var _ logstream.LogReader = (*reader)(nil)

func (r *reader) Seek(ctx context.Context, position logstream.Position) (bool, error) {
	if r.closed {
		return false, logstream.ErrClosed
	}

	r.log.lock.RLock()
	defer r.log.lock.RUnlock()

	if position < 0 {
		r.cursor = 0
		return len(r.log.records) > 0, nil
	}
	if int(position) > len(r.log.records) {
		return false, nil
	}
	r.cursor = int(position)
	return r.cursor < len(r.log.records), nil
}

func (r *reader) HasNext(ctx context.Context) (bool, error) {
	if r.closed {
		return false, logstream.ErrClosed
	}

	r.log.lock.RLock()
	defer r.log.lock.RUnlock()

	return r.cursor < len(r.log.records), nil
}

func (r *reader) Next(ctx context.Context) (logstream.Record, error) {
	if r.closed {
		return logstream.Record{}, logstream.ErrClosed
	}

	r.log.lock.RLock()
	defer r.log.lock.RUnlock()

	if r.cursor >= len(r.log.records) {
		return logstream.Record{}, errors.New("memorylog: no record available")
	}
	record := r.log.records[r.cursor]
	r.cursor++
	return record, nil
}

func (r *reader) CommitPosition(ctx context.Context) (logstream.Position, error) {
	r.log.lock.RLock()
	defer r.log.lock.RUnlock()

	return r.log.commitPosition, nil
}

func (r *reader) RegisterOnCommitPositionUpdated(fn func(logstream.Position)) (unregister func()) {
	key := &fn
	r.log.lock.Lock()
	r.log.observers[key] = fn
	r.log.lock.Unlock()

	return func() {
		r.log.lock.Lock()
		delete(r.log.observers, key)
		r.log.lock.Unlock()
	}
}

func (r *reader) Close() error {
	r.closed = true
	return nil
}

type writer struct {
	log *Log

	producerID           string
	sourceRecordPosition logstream.Position

	closed bool
}

var _ logstream.LogWriter = (*writer)(nil)

func (w *writer) ProducerID(id string) logstream.LogWriter {
	w.producerID = id
	return w
}

func (w *writer) SourceRecordPosition(pos logstream.Position) logstream.LogWriter {
	w.sourceRecordPosition = pos
	return w
}

func (w *writer) Append(ctx context.Context, payload []byte) (logstream.Position, error) {
	if w.closed {
		return logstream.NoPosition, logstream.ErrClosed
	}
	return w.log.Append(w.producerID, w.sourceRecordPosition, payload), nil
}

func (w *writer) Close() error {
	w.closed = true
	return nil
}
