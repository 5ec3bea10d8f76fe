package matchingdemo

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/superj80820/streamproc/logstream"
	"github.com/superj80820/streamproc/logstream/memorylog"
	"github.com/superj80820/streamproc/metrics"
	"github.com/superj80820/streamproc/processor"
	"github.com/superj80820/streamproc/snapshotstore"
)

func mustEncodeNewOrder(t *testing.T, orderID string, direction Direction, price, quantity decimal.Decimal, ts time.Time) []byte {
	t.Helper()
	payload, err := json.Marshal(command{
		Type:      commandNewOrder,
		OrderID:   orderID,
		Direction: direction,
		Price:     price,
		Quantity:  quantity,
		Timestamp: ts,
	})
	require.NoError(t, err)
	return payload
}

func mustEncodeCancel(t *testing.T, orderID string, ts time.Time) []byte {
	t.Helper()
	payload, err := EncodeCancelOrder(orderID, ts)
	require.NoError(t, err)
	return payload
}

func runHandler(t *testing.T, p *Processor, record logstream.Record) outputEvent {
	t.Helper()
	ctx := context.Background()

	h, err := p.OnEvent(record)
	require.NoError(t, err)
	require.NoError(t, h.Process(ctx))
	ok, err := h.ExecuteSideEffects(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	var captured []byte
	sink := writerFunc(func(ctx context.Context, payload []byte) (logstream.Position, error) {
		captured = payload
		return 0, nil
	})
	pos, err := h.WriteEvent(ctx, sink)
	require.NoError(t, err)
	require.GreaterOrEqual(t, int64(pos), int64(0))
	require.NoError(t, h.UpdateState(ctx))

	var out outputEvent
	require.NoError(t, json.Unmarshal(captured, &out))
	return out
}

// writerFunc adapts a plain func into a logstream.LogWriter so these unit
// tests can run a handler's WriteEvent phase without a real log.
type writerFunc func(ctx context.Context, payload []byte) (logstream.Position, error)

func (f writerFunc) ProducerID(string) logstream.LogWriter          { return f }
func (f writerFunc) SourceRecordPosition(logstream.Position) logstream.LogWriter { return f }
func (f writerFunc) Append(ctx context.Context, payload []byte) (logstream.Position, error) {
	return f(ctx, payload)
}
func (f writerFunc) Close() error { return nil }

func TestNewOrderRestsWhenBookIsEmpty(t *testing.T) {
	p := NewProcessor(NewState())
	ts := time.Unix(1000, 0).UTC()

	out := runHandler(t, p, logstream.Record{
		Position: 0,
		Payload:  mustEncodeNewOrder(t, "buy1", DirectionBuy, decimal.NewFromInt(10), decimal.NewFromInt(5), ts),
	})

	require.NotNil(t, out.MatchPlan)
	assert.Empty(t, out.MatchPlan.Fills)
	assert.Equal(t, StatusPending, out.MatchPlan.Taker.Status)
	assert.True(t, out.MatchPlan.Taker.UnfilledQuantity.Equal(decimal.NewFromInt(5)))
}

func TestNewOrderFullyMatchesAgainstRestingOrder(t *testing.T) {
	p := NewProcessor(NewState())
	ts := time.Unix(1000, 0).UTC()

	runHandler(t, p, logstream.Record{
		Position: 0,
		Payload:  mustEncodeNewOrder(t, "sell1", DirectionSell, decimal.NewFromInt(10), decimal.NewFromInt(5), ts),
	})

	out := runHandler(t, p, logstream.Record{
		Position: 1,
		Payload:  mustEncodeNewOrder(t, "buy1", DirectionBuy, decimal.NewFromInt(10), decimal.NewFromInt(5), ts),
	})

	require.Len(t, out.MatchPlan.Fills, 1)
	assert.True(t, out.MatchPlan.Fills[0].Quantity.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, StatusFullyFilled, out.MatchPlan.Taker.Status)
	assert.True(t, p.state.MarketPrice().Equal(decimal.NewFromInt(10)))

	_, _, found := p.state.Lookup("sell1")
	assert.False(t, found, "fully filled maker must be removed from the book")
}

func TestNewOrderPartiallyMatchesAndRests(t *testing.T) {
	p := NewProcessor(NewState())
	ts := time.Unix(1000, 0).UTC()

	runHandler(t, p, logstream.Record{
		Position: 0,
		Payload:  mustEncodeNewOrder(t, "sell1", DirectionSell, decimal.NewFromInt(10), decimal.NewFromInt(2), ts),
	})

	out := runHandler(t, p, logstream.Record{
		Position: 1,
		Payload:  mustEncodeNewOrder(t, "buy1", DirectionBuy, decimal.NewFromInt(10), decimal.NewFromInt(5), ts),
	})

	require.Len(t, out.MatchPlan.Fills, 1)
	assert.Equal(t, StatusPartialFilled, out.MatchPlan.Taker.Status)
	assert.True(t, out.MatchPlan.Taker.UnfilledQuantity.Equal(decimal.NewFromInt(3)))

	resting, _, found := p.state.Lookup("buy1")
	require.True(t, found)
	assert.True(t, resting.UnfilledQuantity.Equal(decimal.NewFromInt(3)))
}

func TestNewOrderDoesNotCrossOnPrice(t *testing.T) {
	p := NewProcessor(NewState())
	ts := time.Unix(1000, 0).UTC()

	runHandler(t, p, logstream.Record{
		Position: 0,
		Payload:  mustEncodeNewOrder(t, "sell1", DirectionSell, decimal.NewFromInt(12), decimal.NewFromInt(5), ts),
	})

	out := runHandler(t, p, logstream.Record{
		Position: 1,
		Payload:  mustEncodeNewOrder(t, "buy1", DirectionBuy, decimal.NewFromInt(10), decimal.NewFromInt(5), ts),
	})

	assert.Empty(t, out.MatchPlan.Fills)
	assert.Equal(t, StatusPending, out.MatchPlan.Taker.Status)
}

func TestCancelFullyCancelsUntouchedOrder(t *testing.T) {
	p := NewProcessor(NewState())
	ts := time.Unix(1000, 0).UTC()

	runHandler(t, p, logstream.Record{
		Position: 0,
		Payload:  mustEncodeNewOrder(t, "buy1", DirectionBuy, decimal.NewFromInt(10), decimal.NewFromInt(5), ts),
	})

	out := runHandler(t, p, logstream.Record{
		Position: 1,
		Payload:  mustEncodeCancel(t, "buy1", ts),
	})

	require.NotNil(t, out.CancelPlan)
	assert.Equal(t, StatusFullyCanceled, out.CancelPlan.Canceled.Status)

	_, _, found := p.state.Lookup("buy1")
	assert.False(t, found)
}

func TestCancelPartiallyFilledOrderIsPartialCanceled(t *testing.T) {
	p := NewProcessor(NewState())
	ts := time.Unix(1000, 0).UTC()

	runHandler(t, p, logstream.Record{
		Position: 0,
		Payload:  mustEncodeNewOrder(t, "sell1", DirectionSell, decimal.NewFromInt(10), decimal.NewFromInt(2), ts),
	})
	runHandler(t, p, logstream.Record{
		Position: 1,
		Payload:  mustEncodeNewOrder(t, "buy1", DirectionBuy, decimal.NewFromInt(10), decimal.NewFromInt(5), ts),
	})

	out := runHandler(t, p, logstream.Record{
		Position: 2,
		Payload:  mustEncodeCancel(t, "buy1", ts),
	})

	assert.Equal(t, StatusPartialCanceled, out.CancelPlan.Canceled.Status)
}

func TestCancelUnknownOrderFails(t *testing.T) {
	p := NewProcessor(NewState())
	h, err := p.OnEvent(logstream.Record{Position: 0, Payload: mustEncodeCancel(t, "missing", time.Now())})
	require.NoError(t, err)
	assert.Error(t, h.Process(context.Background()))
}

// TestControllerDrivesMatchingEndToEnd wires Processor into the real
// controller over an in-memory log, exercising the full process ->
// executeSideEffects -> writeEvent -> updateState loop against the order
// book rather than calling handler phases directly.
func TestControllerDrivesMatchingEndToEnd(t *testing.T) {
	log := memorylog.New()
	ts := time.Unix(1000, 0).UTC()
	log.Append("gateway", logstream.NoPosition, mustEncodeNewOrder(t, "sell1", DirectionSell, decimal.NewFromInt(10), decimal.NewFromInt(5), ts))
	log.Append("gateway", logstream.NoPosition, mustEncodeNewOrder(t, "buy1", DirectionBuy, decimal.NewFromInt(10), decimal.NewFromInt(5), ts))

	state := NewState()
	proc := NewProcessor(state)
	store := newTestSnapshotStore()

	ctrl := processor.New("matching-demo", "matcher", log.Reader(), log.Writer(), store, proc, metrics.Noop{}, nil,
		processor.WithEventFilter(func(r logstream.Record) bool { return r.ProducerID != "matcher" }),
		processor.WithSnapshotPeriod(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, ctrl.Open(ctx))
	require.Eventually(t, func() bool {
		_, _, found := state.Lookup("sell1")
		return !found
	}, time.Second, 5*time.Millisecond)

	assert.True(t, state.MarketPrice().Equal(decimal.NewFromInt(10)))
	require.NoError(t, ctrl.Close(context.Background()))
	assert.False(t, ctrl.IsFailed())
}

type testSnapshotStore struct {
	byName map[string]snapshotstore.Snapshot
}

func newTestSnapshotStore() *testSnapshotStore {
	return &testSnapshotStore{byName: make(map[string]snapshotstore.Snapshot)}
}

var _ snapshotstore.Store = (*testSnapshotStore)(nil)

func (s *testSnapshotStore) LastSnapshot(ctx context.Context, name string) (*snapshotstore.Snapshot, error) {
	snap, ok := s.byName[name]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

func (s *testSnapshotStore) CreateSnapshot(ctx context.Context, name string, position logstream.Position) (snapshotstore.Writer, error) {
	return &testSnapshotWriter{store: s, name: name, position: position}, nil
}

type testSnapshotWriter struct {
	store    *testSnapshotStore
	name     string
	position logstream.Position
	blob     []byte
}

func (w *testSnapshotWriter) Write(blob []byte) (int64, error) {
	w.blob = blob
	return int64(len(blob)), nil
}

func (w *testSnapshotWriter) Commit(ctx context.Context) error {
	w.store.byName[w.name] = snapshotstore.Snapshot{Name: w.name, Position: w.position, Blob: w.blob}
	return nil
}

func (w *testSnapshotWriter) Abort() error { return nil }
