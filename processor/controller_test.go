package processor

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"sync"

	"github.com/superj80820/streamproc/logstream"
	"github.com/superj80820/streamproc/snapshotstore"
)

// counterState is a minimal StateResource used across the scenario
// tests: a single incrementing counter, serialized as 8 bytes.
type counterState struct {
	mu    sync.Mutex
	count int64
}

func (s *counterState) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count = 0
}

func (s *counterState) SerializeTo(w io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(s.count))
	_, err := w.Write(buf[:])
	return err
}

func (s *counterState) RestoreFrom(r io.Reader) error {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count = int64(binary.BigEndian.Uint64(buf[:]))
	return nil
}

func (s *counterState) Get() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// handlerBehavior configures a counterHandler's phase 2/3 responses so
// tests can script transient failures.
type handlerBehavior struct {
	sideEffectFailures int // number of leading false returns before true
	writeFailures      int // number of leading negative returns before success

	sideEffectCalls int
	writeCalls      int
	updateCalls     int
	processCalls    int
}

type counterProcessor struct {
	state *counterState

	onEventCalls []logstream.Record
	behavior     *handlerBehavior

	onOpenErr  error
	onEventErr error

	processErrAt  logstream.Position
	hasProcessErr bool
}

func newCounterProcessor() *counterProcessor {
	return &counterProcessor{
		state:    &counterState{},
		behavior: &handlerBehavior{},
	}
}

func (p *counterProcessor) OnOpen(ctx context.Context) error { return p.onOpenErr }
func (p *counterProcessor) OnRecovered() error                { return nil }
func (p *counterProcessor) OnClose() error                    { return nil }
func (p *counterProcessor) StateResource() StateResource       { return p.state }

func (p *counterProcessor) OnEvent(record logstream.Record) (EventProcessor, error) {
	p.onEventCalls = append(p.onEventCalls, record)
	if p.onEventErr != nil {
		return nil, p.onEventErr
	}
	h := &counterHandler{state: p.state, behavior: p.behavior}
	if p.hasProcessErr && record.Position == p.processErrAt {
		h.processErr = errProcessFailed
	}
	return h, nil
}

var errProcessFailed = errProcessFailedErr{}

type errProcessFailedErr struct{}

func (errProcessFailedErr) Error() string { return "process failed" }

// counterHandler is the per-record handler: phase 4 increments the
// shared counter; phases 2/3 honor handlerBehavior's scripted failures.
type counterHandler struct {
	state    *counterState
	behavior *handlerBehavior

	processErr error
}

func (h *counterHandler) Process(ctx context.Context) error {
	h.behavior.processCalls++
	return h.processErr
}

func (h *counterHandler) ExecuteSideEffects(ctx context.Context) (bool, error) {
	h.behavior.sideEffectCalls++
	if h.behavior.sideEffectCalls <= h.behavior.sideEffectFailures {
		return false, nil
	}
	return true, nil
}

func (h *counterHandler) WriteEvent(ctx context.Context, w logstream.LogWriter) (logstream.Position, error) {
	h.behavior.writeCalls++
	if h.behavior.writeCalls <= h.behavior.writeFailures {
		return -1, nil
	}
	return w.Append(ctx, []byte("ok"))
}

func (h *counterHandler) UpdateState(ctx context.Context) error {
	h.behavior.updateCalls++
	h.state.mu.Lock()
	h.state.count++
	h.state.mu.Unlock()
	return nil
}

// memSnapshotStore is a simple in-memory snapshotstore.Store fake that
// keeps only the latest snapshot per name, for tests that don't need a
// real adapter.
type memSnapshotStore struct {
	mu     sync.Mutex
	byName map[string]snapshotstore.Snapshot
}

func newMemSnapshotStore() *memSnapshotStore {
	return &memSnapshotStore{byName: make(map[string]snapshotstore.Snapshot)}
}

var _ snapshotstore.Store = (*memSnapshotStore)(nil)

func (s *memSnapshotStore) LastSnapshot(ctx context.Context, name string) (*snapshotstore.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.byName[name]
	if !ok {
		return nil, nil
	}
	snapCopy := snap
	return &snapCopy, nil
}

func (s *memSnapshotStore) CreateSnapshot(ctx context.Context, name string, position logstream.Position) (snapshotstore.Writer, error) {
	return &memSnapshotWriter{store: s, name: name, position: position}, nil
}

type memSnapshotWriter struct {
	store    *memSnapshotStore
	name     string
	position logstream.Position
	buf      bytes.Buffer
}

var _ snapshotstore.Writer = (*memSnapshotWriter)(nil)

func (w *memSnapshotWriter) Write(blob []byte) (int64, error) {
	n, err := w.buf.Write(blob)
	return int64(n), err
}

func (w *memSnapshotWriter) Commit(ctx context.Context) error {
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	w.store.byName[w.name] = snapshotstore.Snapshot{
		Name:     w.name,
		Position: w.position,
		Blob:     append([]byte(nil), w.buf.Bytes()...),
	}
	return nil
}

func (w *memSnapshotWriter) Abort() error { return nil }
