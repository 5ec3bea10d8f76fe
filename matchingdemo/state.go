package matchingdemo

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/superj80820/streamproc/processor"
)

// bookSnapshot is the JSON wire form of state: the controller's
// snapshotstore persists whatever SerializeTo writes, and RestoreFrom
// must reconstruct an identical book from it, so the snapshot captures
// every resting order rather than any derived summary.
type bookSnapshot struct {
	MarketPrice decimal.Decimal `json:"market_price"`
	BuyOrders   []*Order        `json:"buy_orders"`
	SellOrders  []*Order        `json:"sell_orders"`
}

// State is the matching engine's StateResource: the two sides of the
// book plus the last traded price. It is the single piece of data the
// controller recovers via RestoreFrom, replays into via UpdateState, and
// snapshots via SerializeTo, mirroring the teacher's
// matchingUseCase.orderBook/userAssets pairing collapsed here into just
// the order book half (the spec's State resource).
type State struct {
	mu sync.RWMutex

	marketPrice decimal.Decimal
	buy         *book
	sell        *book
	byID        map[string]*Order
}

var _ processor.StateResource = (*State)(nil)

// NewState builds an empty order book, ready for live processing or for
// RestoreFrom to repopulate from a snapshot.
func NewState() *State {
	return &State{
		buy:  newBook(DirectionBuy),
		sell: newBook(DirectionSell),
		byID: make(map[string]*Order),
	}
}

func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marketPrice = decimal.Zero
	s.buy = newBook(DirectionBuy)
	s.sell = newBook(DirectionSell)
	s.byID = make(map[string]*Order)
}

func (s *State) SerializeTo(w io.Writer) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := bookSnapshot{
		MarketPrice: s.marketPrice,
		BuyOrders:   s.buy.ordered(),
		SellOrders:  s.sell.ordered(),
	}
	return json.NewEncoder(w).Encode(snap)
}

func (s *State) RestoreFrom(r io.Reader) error {
	var snap bookSnapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return errors.Wrap(err, "decode order book snapshot failed")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.marketPrice = snap.MarketPrice
	s.buy = newBook(DirectionBuy)
	s.sell = newBook(DirectionSell)
	s.byID = make(map[string]*Order, len(snap.BuyOrders)+len(snap.SellOrders))
	for _, o := range snap.BuyOrders {
		s.buy.add(o)
		s.byID[o.ID] = o
	}
	for _, o := range snap.SellOrders {
		s.sell.add(o)
		s.byID[o.ID] = o
	}
	return nil
}

// OppositeOrdered returns the resting orders on the book opposite
// direction, best priority first: the candidate maker orders a taker
// order of this direction would match against.
func (s *State) OppositeOrdered(direction Direction) []*Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sideLocked(oppositeOf(direction)).ordered()
}

// Lookup finds a resting order by ID, on whichever side it rests.
func (s *State) Lookup(id string) (order *Order, direction Direction, found bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.byID[id]
	if !ok {
		return nil, DirectionUnknown, false
	}
	return o, o.Direction, true
}

// ApplyMatch mutates the book with a previously computed matchPlan: maker
// fills are written back or removed, the taker rests if it has remaining
// quantity, and the market price advances. Process computes the plan
// read-only; ApplyMatch is the only place that mutates the book, so it
// runs only from UpdateState (phase 4), never from Process (phase 1).
func (s *State) ApplyMatch(takerDirection Direction, plan *matchPlan) {
	s.mu.Lock()
	defer s.mu.Unlock()

	makerBook := s.sideLocked(oppositeOf(takerDirection))
	for _, f := range plan.Fills {
		if f.makerFullyFilled {
			makerBook.remove(f.Maker)
			delete(s.byID, f.Maker.ID)
			continue
		}
		makerBook.add(f.Maker)
		s.byID[f.Maker.ID] = f.Maker
	}

	s.marketPrice = plan.MarketPrice

	if plan.restTaker {
		takerBook := s.sideLocked(takerDirection)
		takerBook.add(plan.Taker)
		s.byID[plan.Taker.ID] = plan.Taker
	}
}

// ApplyCancel removes a resting order from its book and the ID index.
func (s *State) ApplyCancel(direction Direction, updated *Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sideLocked(direction).remove(updated)
	delete(s.byID, updated.ID)
}

// MarketPrice returns the last traded price, or a zero decimal before
// any match has occurred.
func (s *State) MarketPrice() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.marketPrice
}

// Depth returns up to maxDepth resting orders on the given side, best
// price first, for read-only inspection (e.g. an operator endpoint).
func (s *State) Depth(direction Direction, maxDepth int) []*Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sideLocked(direction).depth(maxDepth)
}

func (s *State) sideLocked(direction Direction) *book {
	if direction == DirectionBuy {
		return s.buy
	}
	return s.sell
}
