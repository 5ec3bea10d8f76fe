package matchingdemo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/superj80820/streamproc/kit/util"
	"github.com/superj80820/streamproc/logstream"
	"github.com/superj80820/streamproc/processor"
)

// commandType selects which handler OnEvent builds for an input record,
// mirroring the teacher's domain.MatchingUseCase split between NewOrder
// and CancelOrder.
type commandType string

const (
	commandNewOrder    commandType = "new_order"
	commandCancelOrder commandType = "cancel_order"
)

// command is the JSON wire form of an input record's payload. OrderID and
// Timestamp are set by whoever builds the command (EncodeNewOrder,
// EncodeCancelOrder), not by the handler: Process must be a pure function
// of the record so reprocessing recomputes byte-identical plans, and
// neither a fresh ID nor time.Now() inside Process could ever do that.
type command struct {
	Type      commandType     `json:"type"`
	OrderID   string          `json:"order_id"`
	Direction Direction       `json:"direction,omitempty"`
	Price     decimal.Decimal `json:"price,omitempty"`
	Quantity  decimal.Decimal `json:"quantity,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// EncodeNewOrder builds the input-record payload for a new order,
// assigning its ID from the shared snowflake-backed generator the way the
// teacher's order-creation use case assigns domain.OrderEntity.ID before
// ever calling into matching. The ID travels with the record from here
// on, so Process only ever reads it back - it never mints one itself.
func EncodeNewOrder(ids *util.UniqueIDGenerate, direction Direction, price, quantity decimal.Decimal, ts time.Time) ([]byte, error) {
	cmd := command{
		Type:      commandNewOrder,
		OrderID:   ids.Generate().GetBase62(),
		Direction: direction,
		Price:     price,
		Quantity:  quantity,
		Timestamp: ts,
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, errors.Wrap(err, "encode new order command failed")
	}
	return payload, nil
}

// EncodeCancelOrder builds the input-record payload for a cancel command.
func EncodeCancelOrder(orderID string, ts time.Time) ([]byte, error) {
	payload, err := json.Marshal(command{Type: commandCancelOrder, OrderID: orderID, Timestamp: ts})
	if err != nil {
		return nil, errors.Wrap(err, "encode cancel order command failed")
	}
	return payload, nil
}

// fill is one maker order consumed while matching a taker order.
type fill struct {
	Price            decimal.Decimal `json:"price"`
	Quantity         decimal.Decimal `json:"quantity"`
	Maker            *Order          `json:"maker"`
	makerFullyFilled bool
}

// matchPlan is the read-only result of Process: everything UpdateState
// needs to mutate the book, computed without touching it. Keeping plan
// computation (Process) and book mutation (UpdateState) in separate
// phases is what lets reprocessing - which only replays Process and
// UpdateState, never ExecuteSideEffects or WriteEvent - reconstruct
// identical book state from the same input records.
type matchPlan struct {
	Taker       *Order          `json:"taker"`
	Fills       []fill          `json:"fills"`
	MarketPrice decimal.Decimal `json:"market_price"`
	restTaker   bool
}

// cancelPlan is the read-only result of processing a cancel command.
type cancelPlan struct {
	Canceled  *Order    `json:"canceled"`
	Direction Direction `json:"direction"`
}

// outputEvent is what WriteEvent appends: the durable record of what a
// command did. On recovery the controller reads only these records'
// producer ID and source record position to bound reprocessing; their
// payload is never handed back to OnEvent, because the EventFilter wired
// in cmd/streamprocd and in the end-to-end test drops records carrying
// the controller's own producer ID.
type outputEvent struct {
	Type       commandType `json:"type"`
	MatchPlan  *matchPlan  `json:"match_plan,omitempty"`
	CancelPlan *cancelPlan `json:"cancel_plan,omitempty"`
}

// Processor is the matching engine's StreamProcessor: it decodes each
// input record into a command and builds the matching four-phase
// handler for it, grounded on the teacher's matchingUseCase.NewOrder/
// CancelOrder dispatch.
type Processor struct {
	state *State
}

var _ processor.StreamProcessor = (*Processor)(nil)

// NewProcessor builds a Processor over state.
func NewProcessor(state *State) *Processor {
	return &Processor{state: state}
}

func (p *Processor) OnOpen(ctx context.Context) error       { return nil }
func (p *Processor) OnRecovered() error                     { return nil }
func (p *Processor) OnClose() error                         { return nil }
func (p *Processor) StateResource() processor.StateResource { return p.state }

func (p *Processor) OnEvent(record logstream.Record) (processor.EventProcessor, error) {
	var cmd command
	if err := json.Unmarshal(record.Payload, &cmd); err != nil {
		return nil, errors.Wrap(err, "decode command failed")
	}

	switch cmd.Type {
	case commandNewOrder:
		return &newOrderHandler{
			state:    p.state,
			cmd:      cmd,
			position: record.Position,
		}, nil
	case commandCancelOrder:
		return &cancelOrderHandler{state: p.state, cmd: cmd}, nil
	default:
		return nil, errors.Errorf("unknown command type %q", cmd.Type)
	}
}

// newOrderHandler is the four-phase handler for a single incoming order.
type newOrderHandler struct {
	state    *State
	cmd      command
	position logstream.Position

	plan *matchPlan
}

var _ processor.EventProcessor = (*newOrderHandler)(nil)

// Process walks the opposite book in priority order, exactly the loop in
// the teacher's matchingUseCase.processOrder, but against a read-only
// ordered() snapshot and into cloned maker copies: nothing here mutates
// the live book, so it is safe to run again during reprocessing.
func (h *newOrderHandler) Process(ctx context.Context) error {
	if h.cmd.Direction != DirectionBuy && h.cmd.Direction != DirectionSell {
		return errors.Errorf("unknown order direction %d", h.cmd.Direction)
	}

	ts := h.cmd.Timestamp
	taker := newOrder(h.cmd.OrderID, int64(h.position), h.cmd.Direction, h.cmd.Price, h.cmd.Quantity, ts)

	plan := &matchPlan{Taker: taker, MarketPrice: h.state.MarketPrice()}
	takerUnfilled := h.cmd.Quantity

	for _, maker := range h.state.OppositeOrdered(h.cmd.Direction) {
		if h.cmd.Direction == DirectionBuy && h.cmd.Price.Cmp(maker.Price) < 0 {
			break
		}
		if h.cmd.Direction == DirectionSell && h.cmd.Price.Cmp(maker.Price) > 0 {
			break
		}

		plan.MarketPrice = maker.Price
		matched := decimalMin(takerUnfilled, maker.UnfilledQuantity)

		makerCopy := maker.clone()
		makerCopy.UnfilledQuantity = maker.UnfilledQuantity.Sub(matched)
		makerCopy.UpdatedAt = ts
		fullyFilled := makerCopy.UnfilledQuantity.Equal(decimal.Zero)
		if fullyFilled {
			makerCopy.Status = StatusFullyFilled
		} else {
			makerCopy.Status = StatusPartialFilled
		}

		plan.Fills = append(plan.Fills, fill{
			Price:            maker.Price,
			Quantity:         matched,
			Maker:            makerCopy,
			makerFullyFilled: fullyFilled,
		})

		takerUnfilled = takerUnfilled.Sub(matched)
		if takerUnfilled.Equal(decimal.Zero) {
			taker.Status = StatusFullyFilled
			break
		}
	}

	taker.UnfilledQuantity = takerUnfilled
	taker.UpdatedAt = ts
	if takerUnfilled.GreaterThan(decimal.Zero) {
		if takerUnfilled.Cmp(h.cmd.Quantity) != 0 {
			taker.Status = StatusPartialFilled
		} else {
			taker.Status = StatusPending
		}
		plan.restTaker = true
	}

	h.plan = plan
	return nil
}

// ExecuteSideEffects has nothing to do: matching has no external
// dependency to call, unlike the teacher's trading use case which
// debits/credits user assets here. A real deployment would wire an
// account ledger call in this phase.
func (h *newOrderHandler) ExecuteSideEffects(ctx context.Context) (bool, error) {
	return true, nil
}

func (h *newOrderHandler) WriteEvent(ctx context.Context, w logstream.LogWriter) (logstream.Position, error) {
	payload, err := json.Marshal(outputEvent{Type: commandNewOrder, MatchPlan: h.plan})
	if err != nil {
		return logstream.NoPosition, errors.Wrap(err, "encode match plan failed")
	}
	return w.Append(ctx, payload)
}

func (h *newOrderHandler) UpdateState(ctx context.Context) error {
	h.state.ApplyMatch(h.cmd.Direction, h.plan)
	return nil
}

// cancelOrderHandler is the four-phase handler for a cancel command.
type cancelOrderHandler struct {
	state *State
	cmd   command

	plan *cancelPlan
}

var _ processor.EventProcessor = (*cancelOrderHandler)(nil)

// Process mirrors the teacher's matchingUseCase.CancelOrder: fully
// canceled unless the order already carries partial fills, in which case
// it is partially canceled.
func (h *cancelOrderHandler) Process(ctx context.Context) error {
	order, direction, found := h.state.Lookup(h.cmd.OrderID)
	if !found {
		return errors.Errorf("no resting order %q", h.cmd.OrderID)
	}

	canceled := order.clone()
	canceled.UpdatedAt = h.cmd.Timestamp
	canceled.Status = StatusFullyCanceled
	if canceled.UnfilledQuantity.Cmp(canceled.Quantity) != 0 {
		canceled.Status = StatusPartialCanceled
	}

	h.plan = &cancelPlan{Canceled: canceled, Direction: direction}
	return nil
}

func (h *cancelOrderHandler) ExecuteSideEffects(ctx context.Context) (bool, error) {
	return true, nil
}

func (h *cancelOrderHandler) WriteEvent(ctx context.Context, w logstream.LogWriter) (logstream.Position, error) {
	payload, err := json.Marshal(outputEvent{Type: commandCancelOrder, CancelPlan: h.plan})
	if err != nil {
		return logstream.NoPosition, errors.Wrap(err, "encode cancel plan failed")
	}
	return w.Append(ctx, payload)
}

func (h *cancelOrderHandler) UpdateState(ctx context.Context) error {
	h.state.ApplyCancel(h.plan.Direction, h.plan.Canceled)
	return nil
}

func decimalMin(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
