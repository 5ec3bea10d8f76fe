package processor

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	loggerKit "github.com/superj80820/streamproc/kit/logger"
	"github.com/superj80820/streamproc/kit/util"
	"github.com/superj80820/streamproc/logstream"
	"github.com/superj80820/streamproc/metrics"
	"github.com/superj80820/streamproc/snapshotstore"
	"golang.org/x/sync/errgroup"
)

// Controller is the stream-processor controller (component F). All of
// its mutable state in the table below is touched only from the single
// goroutine started by Open; external callers interact exclusively
// through channels (suspend/resume/close) or the failLock-guarded
// IsFailed/Err accessors, mirroring the teacher's
// tradingUseCase.errLock/err pair in exchange/usecase/trading/trading.go.
type Controller struct {
	name       string
	producerID string
	instanceID uuid.UUID

	reader logstream.LogReader
	writer logstream.LogWriter
	store  snapshotstore.Store
	sp     StreamProcessor

	cfg     Config
	metrics metrics.Sink
	logger  loggerKit.Logger

	// controller-task-owned state (§3 mutable-state table)
	phase                              Phase
	snapshotPosition                   logstream.Position
	lastSourceEventPosition            logstream.Position
	lastSuccessfullyProcessedPosition  logstream.Position
	lastWrittenPosition                logstream.Position
	currentRecord                      *logstream.Record
	currentHandler                     EventProcessor

	suspendCh chan struct{}
	resumeCh  chan struct{}
	wakeCh    chan struct{}
	tickCh    chan struct{}

	cancel    context.CancelFunc
	doneCh    chan struct{}
	closeOnce sync.Once
	opened    atomic.Bool

	failLock sync.Mutex
	failErr  error
}

// New constructs a Controller. The processor is not started until Open
// is called.
func New(
	name, producerID string,
	reader logstream.LogReader,
	writer logstream.LogWriter,
	store snapshotstore.Store,
	sp StreamProcessor,
	sink metrics.Sink,
	logger loggerKit.Logger,
	opts ...Option,
) *Controller {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if sink == nil {
		sink = metrics.Noop{}
	}

	return &Controller{
		name:                              name,
		producerID:                        producerID,
		instanceID:                        uuid.New(),
		reader:                            reader,
		writer:                            writer,
		store:                             store,
		sp:                                sp,
		cfg:                               cfg,
		metrics:                           sink,
		logger:                            logger,
		phase:                             PhaseStarting,
		snapshotPosition:                  logstream.NoPosition,
		lastSourceEventPosition:           logstream.NoPosition,
		lastSuccessfullyProcessedPosition: logstream.NoPosition,
		lastWrittenPosition:               logstream.NoPosition,
		suspendCh:                         make(chan struct{}, 1),
		resumeCh:                          make(chan struct{}, 1),
		wakeCh:                            make(chan struct{}, 1),
		tickCh:                            make(chan struct{}, 1),
		doneCh:                            make(chan struct{}),
	}
}

// Open runs STARTING synchronously (returning any recovery failure to
// the caller) then starts the controller's task goroutine. A Controller
// may be opened only once; a second call returns ErrAlreadyOpen.
func (c *Controller) Open(ctx context.Context) error {
	if !c.opened.CompareAndSwap(false, true) {
		return ErrAlreadyOpen
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	if err := c.start(runCtx); err != nil {
		cancel()
		c.closeSequence(context.Background(), err)
		close(c.doneCh)
		return err
	}

	go c.run(runCtx)
	return nil
}

// Wait blocks until the controller reaches a terminal state (closed, or
// FAILED), without itself requesting either - unlike Close, it never
// cancels the run loop. This is what a run.Group execute function blocks
// on: the group's interrupt function calls Close instead.
func (c *Controller) Wait(ctx context.Context) error {
	if !c.opened.Load() {
		return ErrNotOpen
	}
	select {
	case <-c.doneCh:
		return c.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Suspend requests the next read-gate check exit the loop. Advisory: it
// does not abort an in-flight four-phase sequence.
func (c *Controller) Suspend() error {
	if !c.opened.Load() {
		return ErrNotOpen
	}
	select {
	case c.suspendCh <- struct{}{}:
	default:
	}
	return nil
}

// Resume clears the suspend flag and submits one read iteration.
func (c *Controller) Resume() error {
	if !c.opened.Load() {
		return ErrNotOpen
	}
	select {
	case c.resumeCh <- struct{}{}:
	default:
	}
	return nil
}

// Close is cooperative: it cancels the run context and waits for the
// close sequence (final snapshot attempt, onClose, reader close) to
// finish. Idempotent.
func (c *Controller) Close(ctx context.Context) error {
	if !c.opened.Load() {
		return ErrNotOpen
	}
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
	})
	select {
	case <-c.doneCh:
	case <-ctx.Done():
		return ctx.Err()
	}
	return c.Err()
}

// IsFailed reports whether the controller has transitioned to FAILED.
// Safe to call from any goroutine.
func (c *Controller) IsFailed() bool {
	c.failLock.Lock()
	defer c.failLock.Unlock()
	return c.failErr != nil
}

// Err returns the terminal error, if any. Safe to call from any
// goroutine.
func (c *Controller) Err() error {
	c.failLock.Lock()
	defer c.failLock.Unlock()
	return c.failErr
}

func (c *Controller) fail(err error) {
	c.failLock.Lock()
	alreadyFailed := c.failErr != nil
	if !alreadyFailed {
		c.failErr = err
		c.phase = PhaseFailed
	}
	c.failLock.Unlock()

	if !alreadyFailed && c.logger != nil {
		fields := []loggerKit.Field{loggerKit.String("name", c.name)}
		if position, convErr := util.SafeInt64ToInt(int64(c.lastSuccessfullyProcessedPosition)); convErr == nil {
			fields = append(fields, loggerKit.Int("lastSuccessfullyProcessedPosition", position))
		}
		keyvals := append([]interface{}{"msg", "controller failed", "err", err}, loggerKit.KeyVals(fields...)...)
		c.logger.Log(keyvals...)
	}
}

func (c *Controller) setPhase(p Phase) {
	c.phase = p
	c.metrics.SetPhase(p.String())
}

// start implements §4.1 STARTING: reset state, load snapshot if present,
// seek the reader, call onOpen, then scanForLastSourceEvent.
func (c *Controller) start(ctx context.Context) error {
	c.setPhase(PhaseStarting)
	c.sp.StateResource().Reset()

	snap, err := c.store.LastSnapshot(ctx, c.name)
	if err != nil {
		return errors.Wrap(err, "load last snapshot failed")
	}
	if snap != nil {
		if err := c.sp.StateResource().RestoreFrom(bytes.NewReader(snap.Blob)); err != nil {
			return errors.Wrap(err, "restore state from snapshot failed")
		}
		c.snapshotPosition = snap.Position
		c.lastSuccessfullyProcessedPosition = snap.Position

		found, err := c.reader.Seek(ctx, snap.Position)
		if err != nil {
			return errors.Wrap(err, "seek to snapshot position failed")
		}
		if !found {
			return &RecoveryError{Position: snap.Position}
		}
		if _, err := c.reader.Seek(ctx, snap.Position+1); err != nil {
			return errors.Wrap(err, "seek past snapshot position failed")
		}
	} else {
		if _, err := c.reader.Seek(ctx, 0); err != nil {
			return errors.Wrap(err, "seek to log start failed")
		}
	}

	if err := c.sp.OnOpen(ctx); err != nil {
		return errors.Wrap(err, "onOpen failed")
	}

	if err := c.scanForLastSourceEvent(ctx); err != nil {
		return err
	}

	return nil
}

// scanForLastSourceEvent implements §4.1's bootstrap scan, skipped for
// read-only processors. It scans forward from the current reader
// position, computes lastSourceEventPosition, then resets the reader to
// snapshotPosition+1 so REPROCESSING can replay from the same point.
func (c *Controller) scanForLastSourceEvent(ctx context.Context) error {
	c.lastSourceEventPosition = c.snapshotPosition
	if c.cfg.readOnly {
		return nil
	}

	for {
		has, err := c.reader.HasNext(ctx)
		if err != nil {
			return errors.Wrap(err, "scan: hasNext failed")
		}
		if !has {
			break
		}
		record, err := c.reader.Next(ctx)
		if err != nil {
			return errors.Wrap(err, "scan: next failed")
		}
		if record.ProducerID == c.producerID && record.SourceRecordPosition > c.lastSourceEventPosition {
			c.lastSourceEventPosition = record.SourceRecordPosition
		}
	}

	if _, err := c.reader.Seek(ctx, c.snapshotPosition+1); err != nil {
		return errors.Wrap(err, "scan: reset reader failed")
	}
	return nil
}

// run is the controller's single task goroutine: REPROCESSING followed
// by the RUNNING loop, the snapshot ticker, the commit-position watcher,
// and suspend/resume/close, all funneled through this one goroutine so
// no locks are needed for the state table in §3.
func (c *Controller) run(ctx context.Context) {
	defer close(c.doneCh)

	if err := c.reprocess(ctx); err != nil {
		c.closeSequence(context.Background(), err)
		return
	}
	if err := c.sp.OnRecovered(); err != nil {
		c.closeSequence(context.Background(), errors.Wrap(err, "onRecovered failed"))
		return
	}

	c.setPhase(PhaseRunning)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		unregister := c.reader.RegisterOnCommitPositionUpdated(func(logstream.Position) {
			select {
			case c.wakeCh <- struct{}{}:
			case <-gctx.Done():
			default:
			}
		})
		<-gctx.Done()
		unregister()
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(c.cfg.snapshotPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				select {
				case c.tickCh <- struct{}{}:
				case <-gctx.Done():
					return nil
				default:
				}
			case <-gctx.Done():
				return nil
			}
		}
	})

	suspended := false
	for {
		if ctx.Err() != nil {
			c.closeSequence(context.Background(), nil)
			g.Wait()
			return
		}

		select {
		case <-c.suspendCh:
			suspended = true
			c.setPhase(PhaseSuspended)
		case <-c.resumeCh:
			suspended = false
			c.setPhase(PhaseRunning)
		case <-c.tickCh:
			c.maybeSnapshot(ctx)
		case <-ctx.Done():
			c.closeSequence(context.Background(), nil)
			g.Wait()
			return
		case <-c.wakeCh:
		default:
		}

		if suspended {
			select {
			case <-c.resumeCh:
				suspended = false
				c.setPhase(PhaseRunning)
			case <-ctx.Done():
				c.closeSequence(context.Background(), nil)
				g.Wait()
				return
			}
			continue
		}

		has, err := c.reader.HasNext(ctx)
		if err != nil {
			c.closeSequence(context.Background(), errors.Wrap(err, "hasNext failed"))
			g.Wait()
			return
		}
		if !has {
			select {
			case <-c.wakeCh:
			case <-c.tickCh:
				c.maybeSnapshot(ctx)
			case <-c.suspendCh:
				suspended = true
				c.setPhase(PhaseSuspended)
			case <-ctx.Done():
				c.closeSequence(context.Background(), nil)
				g.Wait()
				return
			}
			continue
		}

		record, err := c.reader.Next(ctx)
		if err != nil {
			c.closeSequence(context.Background(), errors.Wrap(err, "next failed"))
			g.Wait()
			return
		}
		if c.cfg.eventFilter != nil && !c.cfg.eventFilter(record) {
			continue
		}
		handler, err := c.sp.OnEvent(record)
		if err != nil {
			c.closeSequence(context.Background(), handlerErr("onEvent", err))
			g.Wait()
			return
		}
		if handler == nil {
			continue
		}

		c.currentRecord = &record
		c.currentHandler = handler
		if err := c.handleFourPhase(ctx, record, handler); err != nil {
			if ctx.Err() != nil && (errors.Is(err, ErrTransientSideEffect) || errors.Is(err, ErrTransientWrite)) {
				// Close interrupted a phase 2/3 retry: close normally.
				err = nil
			}
			c.closeSequence(context.Background(), err)
			g.Wait()
			return
		}
		c.currentHandler = nil
	}
}

// reprocess implements §4.1 REPROCESSING: phases 1 and 4 only, no
// side-effects, no writes, strictly in order up to lastSourceEventPosition.
func (c *Controller) reprocess(ctx context.Context) error {
	if c.lastSourceEventPosition <= c.snapshotPosition {
		return nil
	}

	c.setPhase(PhaseReprocessing)

	for {
		has, err := c.reader.HasNext(ctx)
		if err != nil {
			return errors.Wrap(err, "reprocess: hasNext failed")
		}
		if !has {
			return &ReprocessingMissingSourceError{
				Target:  c.lastSourceEventPosition,
				Reached: c.lastSuccessfullyProcessedPosition,
			}
		}

		record, err := c.reader.Next(ctx)
		if err != nil {
			return errors.Wrap(err, "reprocess: next failed")
		}
		if record.Position > c.lastSourceEventPosition {
			return &ReprocessingMissingSourceError{
				Target:  c.lastSourceEventPosition,
				Reached: c.lastSuccessfullyProcessedPosition,
			}
		}

		if c.cfg.eventFilter == nil || c.cfg.eventFilter(record) {
			handler, err := c.sp.OnEvent(record)
			if err != nil {
				return handlerErr("onEvent", err)
			}
			if handler != nil {
				if err := handler.Process(ctx); err != nil {
					return handlerErr("process", err)
				}
				if err := handler.UpdateState(ctx); err != nil {
					return handlerErr("updateState", err)
				}
			}
		}
		c.lastSuccessfullyProcessedPosition = record.Position

		if record.Position == c.lastSourceEventPosition {
			return nil
		}
	}
}

// handleFourPhase implements §4.2 for a single live record.
func (c *Controller) handleFourPhase(ctx context.Context, record logstream.Record, handler EventProcessor) error {
	start := time.Now()
	if err := handler.Process(ctx); err != nil {
		return handlerErr("process", err)
	}
	c.metrics.ObservePhaseLatency("process", time.Since(start))
	c.metrics.IncEventsProcessed("process")

	if err := c.retrySideEffects(ctx, handler); err != nil {
		return err
	}

	writtenPosition := logstream.NoPosition
	if !c.cfg.readOnly {
		pos, err := c.retryWriteEvent(ctx, record, handler)
		if err != nil {
			return err
		}
		writtenPosition = pos
	}

	if err := handler.UpdateState(ctx); err != nil {
		return handlerErr("updateState", err)
	}
	c.metrics.IncEventsProcessed("updateState")

	c.lastSuccessfullyProcessedPosition = record.Position
	if writtenPosition >= 0 {
		c.lastWrittenPosition = writtenPosition
	}
	return nil
}

// retrySideEffects implements phase 2's retry-until-success-or-close
// discipline: ExecuteSideEffects returning false yields the task and
// retries; ctx cancellation stops the retry without failing the
// controller.
func (c *Controller) retrySideEffects(ctx context.Context, handler EventProcessor) error {
	for {
		ok, err := handler.ExecuteSideEffects(ctx)
		if err != nil {
			return handlerErr("executeSideEffects", err)
		}
		if ok {
			c.metrics.IncEventsProcessed("executeSideEffects")
			return nil
		}
		c.metrics.IncRetries("executeSideEffects")
		select {
		case <-ctx.Done():
			return errors.Wrap(ErrTransientSideEffect, ctx.Err().Error())
		case <-time.After(c.cfg.retryBackoff):
		}
	}
}

// retryWriteEvent implements phase 3's retry discipline: a negative
// returned position is a transient failure retried with cooperative
// yielding; ctx cancellation stops the retry without failing.
func (c *Controller) retryWriteEvent(ctx context.Context, record logstream.Record, handler EventProcessor) (logstream.Position, error) {
	for {
		w := c.writer.ProducerID(c.producerID).SourceRecordPosition(record.Position)
		pos, err := handler.WriteEvent(ctx, w)
		if err != nil {
			return logstream.NoPosition, handlerErr("writeEvent", err)
		}
		if pos >= 0 {
			c.metrics.IncEventsProcessed("writeEvent")
			return pos, nil
		}
		c.metrics.IncRetries("writeEvent")
		select {
		case <-ctx.Done():
			return logstream.NoPosition, errors.Wrap(ErrTransientWrite, ctx.Err().Error())
		case <-time.After(c.cfg.retryBackoff):
		}
	}
}

// closeSequence implements §4.1 CLOSING/FAILED: a final snapshot attempt
// under the same gate as §4.3 (DESIGN.md's Open Question resolution),
// onClose, reader close, recording the terminal error if any.
func (c *Controller) closeSequence(ctx context.Context, cause error) {
	if cause != nil {
		c.fail(cause)
	} else {
		c.setPhase(PhaseClosing)
		c.maybeSnapshot(ctx)
	}

	if err := c.sp.OnClose(); err != nil && cause == nil {
		c.fail(errors.Wrap(err, "onClose failed"))
	}
	c.reader.Close()
	if c.writer != nil {
		c.writer.Close()
	}
}
