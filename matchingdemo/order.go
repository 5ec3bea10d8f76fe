// Package matchingdemo is the reference StreamProcessor used to exercise
// the controller against a non-trivial state resource: a price-time
// priority order book, grounded on the teacher's
// exchange/usecase/matching package. Incoming records are order
// commands; the book is the StateResource the controller recovers,
// reprocesses, and snapshots.
package matchingdemo

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction is which side of the book an order rests on.
type Direction int

const (
	DirectionUnknown Direction = iota
	DirectionBuy
	DirectionSell
)

// Status is an order's lifecycle state, mirroring domain.OrderStatusEnum.
type Status int

const (
	StatusUnknown Status = iota
	StatusPending
	StatusPartialFilled
	StatusFullyFilled
	StatusPartialCanceled
	StatusFullyCanceled
)

// Order is a single resting or taker order. SequenceID is the position of
// the input record that created it, used as the time-priority tiebreaker
// within a price level.
type Order struct {
	ID               string          `json:"id"`
	SequenceID       int64           `json:"sequence_id"`
	Direction        Direction       `json:"direction"`
	Price            decimal.Decimal `json:"price"`
	Quantity         decimal.Decimal `json:"quantity"`
	UnfilledQuantity decimal.Decimal `json:"unfilled_quantity"`
	Status           Status          `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func oppositeOf(direction Direction) Direction {
	if direction == DirectionBuy {
		return DirectionSell
	}
	return DirectionBuy
}

// clone copies an order so a match plan can describe a maker's post-fill
// state without mutating the resting order Process read it from.
func (o *Order) clone() *Order {
	cp := *o
	return &cp
}

func newOrder(id string, sequenceID int64, direction Direction, price, quantity decimal.Decimal, ts time.Time) *Order {
	return &Order{
		ID:               id,
		SequenceID:       sequenceID,
		Direction:        direction,
		Price:            price,
		Quantity:         quantity,
		UnfilledQuantity: quantity,
		Status:           StatusPending,
		CreatedAt:        ts,
		UpdatedAt:        ts,
	}
}

// MatchDetail is one fill produced while processing a taker order.
type MatchDetail struct {
	Price      decimal.Decimal `json:"price"`
	Quantity   decimal.Decimal `json:"quantity"`
	MakerOrder *Order          `json:"maker_order"`
}

// MatchResult is the full outcome of processing one taker order: the
// fills against resting maker orders, and the taker order's own final
// state (filled, partially filled, or resting).
type MatchResult struct {
	TakerOrder   *Order         `json:"taker_order"`
	MatchDetails []*MatchDetail `json:"match_details"`
	MarketPrice  decimal.Decimal `json:"market_price"`
}
