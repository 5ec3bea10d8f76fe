package matchingdemo

import (
	"github.com/shopspring/decimal"
	treemapKit "github.com/superj80820/streamproc/kit/util/treemap"
)

// book orders resting orders by price-time priority: best price first,
// then lowest sequence ID (earliest) on ties, exactly as the teacher's
// matching/enum.go directionEnum.compare does.
type book struct {
	direction Direction
	tree      *treemapKit.GenericTreeMap[bookKey, *Order]
}

// bookKey is the treemap key; kept distinct from Order so the comparator
// only ever looks at price and sequenceID. decimal.Decimal has no slice
// or map fields, so it satisfies Go's comparable constraint even though
// the tree's actual ordering comes entirely from the comparator below,
// never from bookKey equality.
type bookKey struct {
	sequenceID int64
	price      decimal.Decimal
}

// compareFor mirrors the teacher's matching/enum.go directionEnum.compare:
// buy orders sort by highest price first, sell orders by lowest price
// first, and earliest sequence ID breaks ties within a price level.
func compareFor(direction Direction) treemapKit.Comparator[bookKey] {
	return func(a, b bookKey) int {
		var cmp int
		switch direction {
		case DirectionBuy:
			cmp = b.price.Cmp(a.price)
		case DirectionSell:
			cmp = a.price.Cmp(b.price)
		default:
			panic("unknown direction")
		}
		if cmp != 0 {
			return cmp
		}
		switch {
		case a.sequenceID < b.sequenceID:
			return -1
		case a.sequenceID > b.sequenceID:
			return 1
		default:
			return 0
		}
	}
}

func newBook(direction Direction) *book {
	return &book{
		direction: direction,
		tree:      treemapKit.NewWith[bookKey, *Order](compareFor(direction)),
	}
}

func keyFor(o *Order) bookKey {
	return bookKey{sequenceID: o.SequenceID, price: o.Price}
}

func (b *book) add(o *Order) {
	b.tree.Put(keyFor(o), o)
}

func (b *book) remove(o *Order) {
	b.tree.Remove(keyFor(o))
}

func (b *book) empty() bool {
	return b.tree.Empty()
}

// best returns the highest-priority resting order, mirroring the
// teacher's orderBook.getFirst, which matching.processOrder calls
// repeatedly while a taker order still has unfilled quantity.
func (b *book) best() (*Order, bool) {
	if b.tree.Empty() {
		return nil, false
	}
	_, order := b.tree.Min()
	return order, true
}

// ordered returns a snapshot of resting orders in match priority order,
// without mutating the book: the matching algorithm runs a dry-run pass
// over this slice during Process, deferring the actual Put/Remove calls
// to UpdateState so reprocessing (Process + UpdateState, no side-effects,
// no writes) reconstructs identical book state.
func (b *book) ordered() []*Order {
	orders := make([]*Order, 0, b.tree.Size())
	b.tree.Each(func(_ bookKey, o *Order) {
		orders = append(orders, o)
	})
	return orders
}

func (b *book) depth(maxDepth int) []*Order {
	orders := b.ordered()
	if len(orders) > maxDepth {
		orders = orders[:maxDepth]
	}
	return orders
}
