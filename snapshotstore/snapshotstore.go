// Package snapshotstore defines the contract for persisting opaque
// processor state keyed by (name, position). Concrete adapters live in
// snapshotstore/ormstore (database-backed) and snapshotstore/fsstore
// (filesystem-backed).
package snapshotstore

import (
	"context"

	"github.com/superj80820/streamproc/logstream"
)

// Snapshot is a durable serialization of a processor's state resource at
// a specific position.
type Snapshot struct {
	Name     string
	Position logstream.Position
	Blob     []byte
}

// Store persists and loads snapshots by controller name.
type Store interface {
	// LastSnapshot returns the most recent snapshot for name, or nil if
	// none exists.
	LastSnapshot(ctx context.Context, name string) (*Snapshot, error)
	// CreateSnapshot opens a writer that will persist a new snapshot for
	// (name, position) once committed.
	CreateSnapshot(ctx context.Context, name string, position logstream.Position) (Writer, error)
}

// Writer stages a snapshot write; it must be committed or aborted exactly
// once.
type Writer interface {
	// Write stores the state resource's already-serialized blob in the
	// pending snapshot and returns the number of bytes written.
	Write(blob []byte) (int64, error)
	// Commit makes the staged snapshot durable and visible atomically
	// (temp file + rename, or a database transaction commit).
	Commit(ctx context.Context) error
	// Abort discards a partially written snapshot. Safe to call after a
	// partial Write.
	Abort() error
}
