package processor

import (
	"bytes"
	"context"

	loggerKit "github.com/superj80820/streamproc/kit/logger"
	"github.com/superj80820/streamproc/kit/util"
)

// maybeSnapshot implements §4.3: a tick (periodic, or the CLOSING-time
// final attempt per DESIGN.md's Open Question resolution) snapshots only
// if there is new durable progress to capture. Any failure is logged and
// the writer aborted; it never fails the controller.
func (c *Controller) maybeSnapshot(ctx context.Context) {
	if c.phase != PhaseRunning && c.phase != PhaseClosing {
		return
	}
	if c.currentRecord == nil && c.phase == PhaseRunning {
		return
	}
	if c.lastSuccessfullyProcessedPosition <= c.snapshotPosition {
		return
	}

	commitPosition, err := c.reader.CommitPosition(ctx)
	if err != nil {
		c.logSnapshotError(&SnapshotError{Position: c.lastSuccessfullyProcessedPosition, Cause: err})
		return
	}
	if commitPosition < c.lastWrittenPosition {
		// written output not yet durable; skip this tick.
		c.metrics.IncSnapshotOutcome("skipped")
		return
	}

	target := c.lastSuccessfullyProcessedPosition
	writer, err := c.store.CreateSnapshot(ctx, c.name, target)
	if err != nil {
		c.logSnapshotError(&SnapshotError{Position: target, Cause: err})
		return
	}

	var buf bytes.Buffer
	if err := c.sp.StateResource().SerializeTo(&buf); err != nil {
		writer.Abort()
		c.logSnapshotError(&SnapshotError{Position: target, Cause: err})
		return
	}
	if _, err := writer.Write(buf.Bytes()); err != nil {
		writer.Abort()
		c.logSnapshotError(&SnapshotError{Position: target, Cause: err})
		return
	}
	if err := writer.Commit(ctx); err != nil {
		writer.Abort()
		c.logSnapshotError(&SnapshotError{Position: target, Cause: err})
		return
	}

	c.snapshotPosition = target
	c.metrics.IncSnapshotOutcome("written")
}

func (c *Controller) logSnapshotError(err *SnapshotError) {
	c.metrics.IncSnapshotOutcome("failed")
	if c.logger == nil {
		return
	}
	fields := []loggerKit.Field{loggerKit.String("name", c.name)}
	if position, convErr := util.SafeInt64ToInt(int64(err.Position)); convErr == nil {
		fields = append(fields, loggerKit.Int("position", position))
	}
	keyvals := append([]interface{}{"msg", "snapshot failed", "err", err.Cause}, loggerKit.KeyVals(fields...)...)
	c.logger.Log(keyvals...)
}
