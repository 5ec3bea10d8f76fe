package matchingdemo

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateSerializeRestoreRoundTrip(t *testing.T) {
	s := NewState()
	buy := newOrder("buy1", 1, DirectionBuy, decimal.NewFromInt(10), decimal.NewFromInt(5), time.Unix(0, 0).UTC())
	sell := newOrder("sell1", 2, DirectionSell, decimal.NewFromInt(11), decimal.NewFromInt(3), time.Unix(0, 0).UTC())
	s.ApplyMatch(DirectionBuy, &matchPlan{Taker: buy, MarketPrice: decimal.NewFromInt(10), restTaker: true})
	s.ApplyMatch(DirectionSell, &matchPlan{Taker: sell, MarketPrice: decimal.NewFromInt(11), restTaker: true})

	var buf bytes.Buffer
	require.NoError(t, s.SerializeTo(&buf))

	restored := NewState()
	require.NoError(t, restored.RestoreFrom(&buf))

	assert.True(t, restored.MarketPrice().Equal(decimal.NewFromInt(11)))

	got, _, found := restored.Lookup("buy1")
	require.True(t, found)
	assert.True(t, got.Price.Equal(decimal.NewFromInt(10)))

	gotSell, direction, found := restored.Lookup("sell1")
	require.True(t, found)
	assert.Equal(t, DirectionSell, direction)
	assert.True(t, gotSell.Quantity.Equal(decimal.NewFromInt(3)))

	assert.Len(t, restored.Depth(DirectionBuy, 10), 1)
	assert.Len(t, restored.Depth(DirectionSell, 10), 1)
}

func TestStateResetClearsBooksAndIndex(t *testing.T) {
	s := NewState()
	o := newOrder("o1", 1, DirectionBuy, decimal.NewFromInt(10), decimal.NewFromInt(1), time.Time{})
	s.ApplyMatch(DirectionBuy, &matchPlan{Taker: o, MarketPrice: decimal.NewFromInt(10), restTaker: true})

	s.Reset()

	_, _, found := s.Lookup("o1")
	assert.False(t, found)
	assert.True(t, s.MarketPrice().IsZero())
	assert.Empty(t, s.Depth(DirectionBuy, 10))
}
