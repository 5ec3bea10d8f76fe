// Package fsstore persists snapshots to a local filesystem directory,
// one file per (name, position), written to a .tmp sibling and
// os.Rename'd into place so a reader never observes a partial snapshot.
// It is the filesystem analogue of ormstore's transaction commit, for
// deployments without a database.
package fsstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/superj80820/streamproc/logstream"
	"github.com/superj80820/streamproc/snapshotstore"
)

// Store persists snapshots under a root directory, one subdirectory per
// controller name.
type Store struct {
	dir string
}

// Open returns a Store rooted at dir, creating it if necessary.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create snapshot root dir failed")
	}
	return &Store{dir: dir}, nil
}

var _ snapshotstore.Store = (*Store)(nil)

func (s *Store) nameDir(name string) string {
	return filepath.Join(s.dir, name)
}

func (s *Store) LastSnapshot(ctx context.Context, name string) (*snapshotstore.Snapshot, error) {
	entries, err := os.ReadDir(s.nameDir(name))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "list snapshot dir failed")
	}

	var best logstream.Position = logstream.NoPosition
	var bestFile string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), ".tmp") {
			continue
		}
		position, ok := parsePosition(entry.Name())
		if !ok {
			continue
		}
		if position > best {
			best = position
			bestFile = entry.Name()
		}
	}
	if bestFile == "" {
		return nil, nil
	}

	blob, err := os.ReadFile(filepath.Join(s.nameDir(name), bestFile))
	if err != nil {
		return nil, errors.Wrap(err, "read snapshot file failed")
	}

	return &snapshotstore.Snapshot{
		Name:     name,
		Position: best,
		Blob:     blob,
	}, nil
}

func (s *Store) CreateSnapshot(ctx context.Context, name string, position logstream.Position) (snapshotstore.Writer, error) {
	dir := s.nameDir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create snapshot dir failed")
	}

	finalPath := filepath.Join(dir, fileName(position))
	tmpPath := finalPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, errors.Wrap(err, "create temp snapshot file failed")
	}

	return &writer{file: f, tmpPath: tmpPath, finalPath: finalPath}, nil
}

type writer struct {
	file      *os.File
	tmpPath   string
	finalPath string
	aborted   bool
}

var _ snapshotstore.Writer = (*writer)(nil)

func (w *writer) Write(blob []byte) (int64, error) {
	n, err := w.file.Write(blob)
	if err != nil {
		return int64(n), errors.Wrap(err, "write snapshot blob failed")
	}
	return int64(n), nil
}

func (w *writer) Commit(ctx context.Context) error {
	if err := w.file.Sync(); err != nil {
		return errors.Wrap(err, "fsync snapshot failed")
	}
	if err := w.file.Close(); err != nil {
		return errors.Wrap(err, "close snapshot file failed")
	}
	if err := os.Rename(w.tmpPath, w.finalPath); err != nil {
		return errors.Wrap(err, "rename snapshot into place failed")
	}
	return nil
}

func (w *writer) Abort() error {
	if w.aborted {
		return nil
	}
	w.aborted = true
	w.file.Close()
	return os.Remove(w.tmpPath)
}

func fileName(position logstream.Position) string {
	return fmt.Sprintf("%020d.snap", int64(position))
}

func parsePosition(name string) (logstream.Position, bool) {
	if !strings.HasSuffix(name, ".snap") {
		return 0, false
	}
	trimmed := strings.TrimSuffix(name, ".snap")
	value, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, false
	}
	return logstream.Position(value), true
}
