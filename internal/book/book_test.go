package book

import (
	"testing"

	"clobsim/internal/order"
	"clobsim/internal/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func limitOrder(trader registry.ID, side order.Side, id, price int64, qty uint64, t uint64) order.Order {
	return order.Order{Side: side, OrderID: id, Price: price, Quantity: qty, Time: t, Trader: trader}
}

func TestInsertAndBest(t *testing.T) {
	b := New()
	trader := registry.NewID()

	o1 := limitOrder(trader, order.Bid, 1, 99, 100, 1)
	o2 := limitOrder(trader, order.Bid, 2, 100, 50, 2)
	b.Insert(&o1)
	b.Insert(&o2)

	best, ok := b.Best(order.Bid)
	require.True(t, ok)
	assert.Equal(t, int64(100), best.Price)

	_, ok = b.Best(order.Ask)
	assert.False(t, ok)
}

func TestInsertPanicsOnDuplicate(t *testing.T) {
	b := New()
	trader := registry.NewID()
	o1 := limitOrder(trader, order.Bid, 1, 99, 100, 1)
	o2 := limitOrder(trader, order.Bid, 1, 99, 50, 2)
	b.Insert(&o1)

	assert.Panics(t, func() { b.Insert(&o2) })
}

func TestEraseRemovesFromBothIndexes(t *testing.T) {
	b := New()
	trader := registry.NewID()
	o := limitOrder(trader, order.Bid, 1, 99, 100, 1)
	b.Insert(&o)

	got, err := b.Erase(trader, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(99), got.Price)
	assert.False(t, b.Exists(trader, 1))

	_, err = b.Erase(trader, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEraseEmptiesLevelFromTree(t *testing.T) {
	b := New()
	trader := registry.NewID()
	o := limitOrder(trader, order.Bid, 1, 99, 100, 1)
	b.Insert(&o)
	_, err := b.Erase(trader, 1)
	require.NoError(t, err)

	_, ok := b.Best(order.Bid)
	assert.False(t, ok)
}

func TestIterateMatchingFIFOWithinLevel(t *testing.T) {
	b := New()
	trader := registry.NewID()
	first := limitOrder(trader, order.Ask, 1, 100, 10, 1)
	second := limitOrder(trader, order.Ask, 2, 100, 10, 2)
	b.Insert(&first)
	b.Insert(&second)

	incoming := limitOrder(registry.NewID(), order.Bid, 3, 100, 5, 3)
	cursor := b.IterateMatching(&incoming)

	resting, ok := cursor.Next()
	require.True(t, ok)
	assert.Equal(t, int64(1), resting.OrderID)
}

func TestIterateMatchingEraseCurrentDoesNotRescan(t *testing.T) {
	b := New()
	trader := registry.NewID()
	first := limitOrder(trader, order.Ask, 1, 100, 10, 1)
	second := limitOrder(trader, order.Ask, 2, 100, 10, 2)
	b.Insert(&first)
	b.Insert(&second)

	incoming := limitOrder(registry.NewID(), order.Bid, 3, 100, 15, 3)
	cursor := b.IterateMatching(&incoming)

	o1, ok := cursor.Next()
	require.True(t, ok)
	assert.Equal(t, int64(1), o1.OrderID)
	cursor.EraseCurrent()

	o2, ok := cursor.Next()
	require.True(t, ok)
	assert.Equal(t, int64(2), o2.OrderID)
}

func TestIterateMatchingEraseCurrentEmptiesLeadingLevel(t *testing.T) {
	b := New()
	trader := registry.NewID()
	near := limitOrder(trader, order.Ask, 1, 100, 5, 1)
	far := limitOrder(trader, order.Ask, 2, 101, 5, 2)
	b.Insert(&near)
	b.Insert(&far)

	incoming := limitOrder(registry.NewID(), order.Bid, 3, 100, 5, 3)
	cursor := b.IterateMatching(&incoming)

	o1, ok := cursor.Next()
	require.True(t, ok)
	assert.Equal(t, int64(1), o1.OrderID)
	cursor.EraseCurrent()

	best, ok := b.Best(order.Ask)
	require.True(t, ok)
	assert.Equal(t, int64(101), best.Price)

	depth := b.AggregatedDepth(order.Ask)
	require.Len(t, depth, 1)
	assert.Equal(t, int64(101), depth[0].Price)
}

func TestAggregatedDepthOrdersBestFirst(t *testing.T) {
	b := New()
	trader := registry.NewID()
	o1 := limitOrder(trader, order.Bid, 1, 99, 100, 1)
	o2 := limitOrder(trader, order.Bid, 2, 100, 50, 2)
	b.Insert(&o1)
	b.Insert(&o2)

	depth := b.AggregatedDepth(order.Bid)
	require.Len(t, depth, 2)
	assert.Equal(t, int64(100), depth[0].Price)
	assert.Equal(t, int64(99), depth[1].Price)
}

func TestOrdersByTrader(t *testing.T) {
	b := New()
	a := registry.NewID()
	c := registry.NewID()
	o1 := limitOrder(a, order.Bid, 1, 99, 100, 1)
	o2 := limitOrder(c, order.Ask, 2, 101, 50, 2)
	b.Insert(&o1)
	b.Insert(&o2)

	got := b.OrdersByTrader(a)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].OrderID)
}

func TestCheckInvariantsDetectsCrossedBook(t *testing.T) {
	b := New()
	trader := registry.NewID()
	bid := limitOrder(trader, order.Bid, 1, 101, 10, 1)
	ask := limitOrder(trader, order.Ask, 2, 100, 10, 2)
	b.Insert(&bid)
	b.Insert(&ask)

	assert.Error(t, b.CheckInvariants())
}

func TestCheckInvariantsPassesOnHealthyBook(t *testing.T) {
	b := New()
	trader := registry.NewID()
	bid := limitOrder(trader, order.Bid, 1, 99, 10, 1)
	ask := limitOrder(trader, order.Ask, 2, 100, 10, 2)
	b.Insert(&bid)
	b.Insert(&ask)

	assert.NoError(t, b.CheckInvariants())
}
