// Package book implements the dual-indexed order container. It keeps
// two coordinated views over the same resting orders — a
// by-unique-key map for O(1) cancel/duplicate-id checks, and a
// per-side price/time ordered index for the match scan — and
// guarantees they never drift apart.
//
// One btree of price levels per side, ordered so the best level is
// always the btree minimum. Within a level, resting orders are kept
// in a container/list.List rather than a slice, because the match
// cursor must be able to erase the order it is currently looking at
// and continue without re-scanning — a linked-list Element gives that
// for free.
package book

import (
	"container/list"
	"errors"
	"fmt"

	"clobsim/internal/order"
	"clobsim/internal/registry"

	"github.com/tidwall/btree"
)

// ErrNotFound is returned by Erase when the (trader, orderId) key is
// not resting in the book.
var ErrNotFound = errors.New("order not found")

type uniqueKey struct {
	trader registry.ID
	id     int64
}

// priceLevel holds every resting order at one price on one side, in
// FIFO arrival order.
type priceLevel struct {
	price int64
	rest  list.List // list.Element.Value is *order.Order
}

type levels = btree.BTreeG[*priceLevel]

// Book is the dual-indexed container for a single instrument.
type Book struct {
	bids *levels
	asks *levels
	byID map[uniqueKey]*list.Element
	// location lets Erase find which side/level an order sits in
	// without a linear scan.
	location map[uniqueKey]*priceLevel
}

// New returns an empty book.
func New() *Book {
	return &Book{
		bids:     btree.NewBTreeG(func(a, b *priceLevel) bool { return a.price > b.price }),
		asks:     btree.NewBTreeG(func(a, b *priceLevel) bool { return a.price < b.price }),
		byID:     make(map[uniqueKey]*list.Element),
		location: make(map[uniqueKey]*priceLevel),
	}
}

func (b *Book) sideTree(side order.Side) *levels {
	if side == order.Bid {
		return b.bids
	}
	return b.asks
}

// opposite returns the tree holding the other side's resting orders —
// the one a match scan sweeps.
func (b *Book) opposite(side order.Side) *levels {
	if side == order.Bid {
		return b.asks
	}
	return b.bids
}

func key(o *order.Order) uniqueKey {
	return uniqueKey{trader: o.Trader, id: o.OrderID}
}

// Insert adds a (non-market) order to both indexes. The caller must
// have already checked for a duplicate key — Insert panics on one,
// since by the time we get here it is a corrupt-state programmer
// error, not a recoverable input error.
func (b *Book) Insert(o *order.Order) {
	k := key(o)
	if _, exists := b.byID[k]; exists {
		panic(fmt.Sprintf("book: duplicate insert for %v", k))
	}

	tree := b.sideTree(o.Side)
	lvl, ok := tree.GetMut(&priceLevel{price: o.Price})
	if !ok {
		lvl = &priceLevel{price: o.Price}
		tree.Set(lvl)
	}

	elem := lvl.rest.PushBack(o)
	b.byID[k] = elem
	b.location[k] = lvl
}

// Erase removes the order identified by (trader, id) from both
// indexes and returns it. ErrNotFound signals a cancel miss, which the
// matcher reports as cancelReject rather than treating as fatal.
func (b *Book) Erase(trader registry.ID, id int64) (order.Order, error) {
	k := uniqueKey{trader: trader, id: id}
	elem, ok := b.byID[k]
	if !ok {
		return order.Order{}, ErrNotFound
	}
	lvl := b.location[k]
	o := *elem.Value.(*order.Order)

	lvl.rest.Remove(elem)
	delete(b.byID, k)
	delete(b.location, k)

	if lvl.rest.Len() == 0 {
		b.sideTree(o.Side).Delete(lvl)
	}
	return o, nil
}

// Best returns the best resting order on the given side, or false if
// that side is empty.
func (b *Book) Best(side order.Side) (*order.Order, bool) {
	lvl, ok := b.sideTree(side).Min()
	if !ok || lvl.rest.Len() == 0 {
		return nil, false
	}
	return lvl.rest.Front().Value.(*order.Order), true
}

// Cursor walks the opposing side's resting orders in priority order,
// starting from the best price. It does not compare prices itself: it
// yields every opposing order, and the caller stops at the first one
// that does not cross the incoming order (see order.Order.Crosses).
// It supports erasing the order currently under the cursor and
// continuing, without re-scanning from the top.
type Cursor struct {
	b    *Book
	tree *levels
	lvl  *priceLevel
	elem *list.Element
}

// IterateMatching begins a traversal of the opposing side's resting
// orders, best-priced first, for the incoming order o.
func (b *Book) IterateMatching(o *order.Order) *Cursor {
	c := &Cursor{b: b, tree: b.opposite(o.Side)}
	c.seekLevel()
	return c
}

func (c *Cursor) seekLevel() {
	lvl, ok := c.tree.MinMut()
	if !ok {
		c.lvl = nil
		c.elem = nil
		return
	}
	c.lvl = lvl
	c.elem = lvl.rest.Front()
}

// Next returns the next resting order under the cursor, or false when
// the traversal is exhausted.
func (c *Cursor) Next() (*order.Order, bool) {
	for c.lvl != nil {
		if c.elem == nil {
			c.tree.Delete(c.lvl)
			c.seekLevel()
			continue
		}
		return c.elem.Value.(*order.Order), true
	}
	return nil, false
}

// Price returns the price level the cursor is currently positioned at.
func (c *Cursor) Price() int64 {
	return c.lvl.price
}

// Advance moves past the current element without erasing it (the
// resting order still has quantity left).
func (c *Cursor) Advance() {
	c.elem = c.elem.Next()
}

// EraseCurrent removes the order currently under the cursor (it has
// been fully filled) and advances to the next one, updating both of
// the book's indexes. It never re-scans from the top.
func (c *Cursor) EraseCurrent() {
	o := c.elem.Value.(*order.Order)
	k := key(o)
	next := c.elem.Next()

	c.lvl.rest.Remove(c.elem)
	delete(c.b.byID, k)
	delete(c.b.location, k)

	if c.lvl.rest.Len() == 0 {
		c.tree.Delete(c.lvl)
	}

	c.elem = next
}

// Level is one (price, aggregate quantity) pair, from AggregatedDepth.
type Level struct {
	Price    int64
	Quantity uint64
}

// AggregatedDepth returns the resting depth on one side, best price
// first, aggregated per price level — the shape observers' orderbook
// snapshots are built from.
func (b *Book) AggregatedDepth(side order.Side) []Level {
	var out []Level
	b.sideTree(side).Scan(func(lvl *priceLevel) bool {
		var total uint64
		for e := lvl.rest.Front(); e != nil; e = e.Next() {
			total += e.Value.(*order.Order).Quantity
		}
		out = append(out, Level{Price: lvl.price, Quantity: total})
		return true
	})
	return out
}

// Exists reports whether a resting order with this (trader, id) key is
// currently in the book — used by the matcher to reject duplicate
// order ids before attempting an insert.
func (b *Book) Exists(trader registry.ID, id int64) bool {
	_, ok := b.byID[uniqueKey{trader: trader, id: id}]
	return ok
}

// OrdersByTrader returns every order currently resting for the given
// trader. It is O(n) in book size and is only meant for the rare
// disconnect-purge path, never the hot match path.
func (b *Book) OrdersByTrader(trader registry.ID) []order.Order {
	var out []order.Order
	for k, elem := range b.byID {
		if k.trader == trader {
			out = append(out, *elem.Value.(*order.Order))
		}
	}
	return out
}

// CheckInvariants verifies that no resting order has been left at
// zero quantity and that the book is not crossed. Duplicate-key
// freedom and dual-index consistency hold structurally: Insert/Erase
// only ever touch both indexes together, and byID is a map. Any
// violation here indicates already-corrupt state, which the caller
// (the matcher) treats as fatal.
func (b *Book) CheckInvariants() error {
	var violation error
	b.bids.Scan(func(lvl *priceLevel) bool {
		for e := lvl.rest.Front(); e != nil; e = e.Next() {
			if e.Value.(*order.Order).Quantity == 0 {
				violation = fmt.Errorf("zero-quantity resting bid at %d", lvl.price)
				return false
			}
		}
		return true
	})
	if violation != nil {
		return violation
	}
	b.asks.Scan(func(lvl *priceLevel) bool {
		for e := lvl.rest.Front(); e != nil; e = e.Next() {
			if e.Value.(*order.Order).Quantity == 0 {
				violation = fmt.Errorf("zero-quantity resting ask at %d", lvl.price)
				return false
			}
		}
		return true
	})
	if violation != nil {
		return violation
	}

	bestBid, hasBid := b.bids.Min()
	bestAsk, hasAsk := b.asks.Min()
	if hasBid && hasAsk && bestBid.price >= bestAsk.price {
		return fmt.Errorf("book crossed: bid %d >= ask %d", bestBid.price, bestAsk.price)
	}
	return nil
}

// LevelQuantity returns the current aggregate resting quantity at one
// price on one side (0 if the level does not exist), used by the
// matcher to compute cascade deltas without re-walking the whole side.
func (b *Book) LevelQuantity(side order.Side, price int64) uint64 {
	lvl, ok := b.sideTree(side).Get(&priceLevel{price: price})
	if !ok {
		return 0
	}
	var total uint64
	for e := lvl.rest.Front(); e != nil; e = e.Next() {
		total += e.Value.(*order.Order).Quantity
	}
	return total
}
