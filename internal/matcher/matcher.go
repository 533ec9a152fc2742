// Package matcher implements the engine proper. It dispatches inbound
// trader/observer messages, runs the insert-and-match algorithm
// against the order book, and emits the outbound message sequence in
// the exact order the matching cascade produces them.
package matcher

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"clobsim/internal/book"
	"clobsim/internal/order"
	"clobsim/internal/protocol"
	"clobsim/internal/registry"

	"github.com/rs/zerolog/log"
)

// Engine is the single-instrument matching engine. All mutation of the
// book and the subscriber set is serialized through mu: a call to
// OnTraderMessage runs to completion, including every outbound
// message it produces, before the engine accepts the next one.
type Engine struct {
	mu    sync.Mutex
	book  *book.Book
	reg   *registry.Registry
	clock order.Clock

	subscribed map[registry.ID]bool
}

// New builds an engine around a participant registry. The registry is
// shared with internal/transport, which registers/unregisters
// participants as connections come and go.
func New(reg *registry.Registry) *Engine {
	return &Engine{
		book:       book.New(),
		reg:        reg,
		subscribed: make(map[registry.ID]bool),
	}
}

// Trade records one executed match, used only for logging — the wire
// effects of a trade are the two ExecutionReport frames sent directly
// to each side.
type Trade struct {
	TakerID  int64
	MakerID  int64
	Price    int64
	Quantity uint64
}

func (t Trade) String() string {
	return fmt.Sprintf("Trade{taker=%d maker=%d price=%d qty=%d}", t.TakerID, t.MakerID, t.Price, t.Quantity)
}

// cascade accumulates the set of (side, price) levels touched during a
// single insert-and-match call, so the final orderbook broadcast can
// be batched and ordered: ascending price, bid-side changes before
// ask-side.
type cascade struct {
	bidPrices map[int64]bool
	askPrices map[int64]bool
}

func newCascade() *cascade {
	return &cascade{bidPrices: make(map[int64]bool), askPrices: make(map[int64]bool)}
}

func (c *cascade) touch(side order.Side, price int64) {
	if side == order.Bid {
		c.bidPrices[price] = true
	} else {
		c.askPrices[price] = true
	}
}

// OnTraderMessage dispatches one decoded message from a trader
// connection.
func (e *Engine) OnTraderMessage(trader registry.ID, in protocol.Inbound) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch in.Message {
	case protocol.MsgCreateOrder:
		e.handleCreateOrder(trader, in)
	case protocol.MsgCancelOrder:
		e.handleCancelOrder(trader, in)
	default:
		e.sendError(trader, fmt.Sprintf("unknown message %q", in.Message))
	}
}

// OnClientMessage dispatches one decoded message from an observer
// connection. Observers have no trader-style state-changing commands;
// the only one is depth subscription.
func (e *Engine) OnClientMessage(observer registry.ID, in protocol.Inbound) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch in.Message {
	case protocol.MsgSubscribeDepth:
		e.subscribed[observer] = true
		e.sendSnapshot(observer)
	case protocol.MsgUnsubscribeDepth:
		delete(e.subscribed, observer)
	default:
		e.sendErrorToObserver(observer, fmt.Sprintf("unknown message %q", in.Message))
	}
}

// sendSnapshot delivers the full resting depth to a freshly-subscribed
// observer, so it starts from a known state rather than waiting for
// the next cascade's incremental deltas.
func (e *Engine) sendSnapshot(observer registry.ID) {
	for _, lvl := range e.book.AggregatedDepth(order.Bid) {
		e.sendDeltaTo(observer, order.Bid, lvl.Price, lvl.Quantity)
	}
	for _, lvl := range e.book.AggregatedDepth(order.Ask) {
		e.sendDeltaTo(observer, order.Ask, lvl.Price, lvl.Quantity)
	}
}

func (e *Engine) sendDeltaTo(observer registry.ID, side order.Side, price int64, qty uint64) {
	frame, err := protocol.Encode(protocol.OrderBookDelta{
		Price:    price,
		Side:     side.String(),
		Quantity: qty,
	})
	if err != nil {
		log.Error().Err(err).Msg("encode orderbook snapshot delta")
		return
	}
	e.reg.SendToObserver(observer, frame)
}

// OnTraderDisconnect purges every resting order belonging to a
// departed trader and broadcasts the resulting book deltas.
func (e *Engine) OnTraderDisconnect(trader registry.ID) {
	e.mu.Lock()
	defer e.mu.Unlock()

	resting := e.book.OrdersByTrader(trader)
	if len(resting) == 0 {
		return
	}

	c := newCascade()
	for _, o := range resting {
		if _, err := e.book.Erase(o.Trader, o.OrderID); err != nil {
			log.Error().Err(err).Int64("orderId", o.OrderID).Msg("purge: order vanished mid-sweep")
			continue
		}
		c.touch(o.Side, o.Price)
		e.send(trader, protocol.OrderCancelled{OrderID: o.OrderID})
	}
	e.flushCascade(c)
	e.assertInvariants()
}

func (e *Engine) handleCreateOrder(trader registry.ID, in protocol.Inbound) {
	switch in.OrderType {
	case protocol.OrderTypeLimit:
		e.handleCreateLimit(trader, in)
	case protocol.OrderTypeMarket:
		e.handleCreateMarket(trader, in)
	default:
		e.sendError(trader, fmt.Sprintf("unknown orderType %q", in.OrderType))
	}
}

func (e *Engine) handleCreateLimit(trader registry.ID, in protocol.Inbound) {
	o, err := order.NewLimit(trader, in, &e.clock)
	if err != nil {
		e.rejectCreate(trader, orderIDOrZero(in), err)
		return
	}

	// Duplicate-id precheck happens before any matching attempt.
	if e.book.Exists(trader, o.OrderID) {
		e.send(trader, protocol.CreateOrderReject{OrderID: o.OrderID, Reason: "DuplicateOrderId"})
		return
	}

	c := newCascade()
	e.insertAndMatch(&o, c)
	e.flushCascade(c)
	e.assertInvariants()
}

func (e *Engine) handleCreateMarket(trader registry.ID, in protocol.Inbound) {
	o, err := order.NewMarket(trader, in, &e.clock)
	if err != nil {
		e.rejectCreate(trader, orderIDOrZero(in), err)
		return
	}

	c := newCascade()
	e.insertAndMatch(&o, c)
	e.flushCascade(c)
	e.assertInvariants()
}

func (e *Engine) handleCancelOrder(trader registry.ID, in protocol.Inbound) {
	if in.OrderID == nil || *in.OrderID <= 0 {
		e.sendError(trader, "cancelOrder requires a positive orderId")
		return
	}
	id := *in.OrderID

	o, err := e.book.Erase(trader, id)
	if err != nil {
		e.send(trader, protocol.CancelReject{OrderID: id, Reason: "UnknownOrder"})
		return
	}

	e.send(trader, protocol.OrderCancelled{OrderID: id})

	c := newCascade()
	c.touch(o.Side, o.Price)
	e.flushCascade(c)
}

// insertAndMatch runs the match-then-rest algorithm for a single
// incoming order (limit or market). o is the aggressor; it lives on
// the caller's stack frame for the duration of the cascade and is
// only copied into the book if it rests.
func (e *Engine) insertAndMatch(o *order.Order, c *cascade) {
	cursor := e.book.IterateMatching(o)

	for o.Quantity > 0 {
		resting, ok := cursor.Next()
		if !ok {
			break
		}
		if !o.Crosses(*resting) {
			break
		}

		q := min(o.Quantity, resting.Quantity)
		o.Quantity -= q
		resting.Quantity -= q

		e.report(o, resting, q, resting.Price)
		log.Debug().Stringer("trade", Trade{TakerID: o.OrderID, MakerID: resting.OrderID, Price: resting.Price, Quantity: q}).Msg("matched")

		c.touch(resting.Side, resting.Price)

		if resting.Quantity == 0 {
			cursor.EraseCurrent()
		} else {
			cursor.Advance()
		}
	}

	if o.IsMarket {
		if o.Quantity > 0 {
			e.send(o.Trader, protocol.OrderUnfilled{OrderID: o.OrderID, Quantity: o.Quantity})
		}
		return
	}

	if o.Quantity > 0 {
		e.book.Insert(o)
		c.touch(o.Side, o.Price)
		e.send(o.Trader, protocol.OrderCreated{OrderID: o.OrderID})
	}
}

// report emits the paired orderExecuted frames for one fill. The
// execution price is always the resting (maker) order's price: the
// price-taker pays the maker's quote.
func (e *Engine) report(taker, maker *order.Order, qty uint64, price int64) {
	e.send(taker.Trader, protocol.ExecutionReport{
		OrderID:   taker.OrderID,
		Quantity:  qty,
		Remaining: taker.Quantity,
		Price:     price,
	})
	e.send(maker.Trader, protocol.ExecutionReport{
		OrderID:   maker.OrderID,
		Quantity:  qty,
		Remaining: maker.Quantity,
		Price:     price,
	})
}

// flushCascade broadcasts one orderbook delta per touched price level,
// ascending price, bid side before ask side — observers see one
// consistent post-match snapshot, never an intermediate state of the
// cascade.
func (e *Engine) flushCascade(c *cascade) {
	bids := sortedKeys(c.bidPrices)
	for _, price := range bids {
		e.broadcastLevel(order.Bid, price)
	}
	asks := sortedKeys(c.askPrices)
	for _, price := range asks {
		e.broadcastLevel(order.Ask, price)
	}
}

// broadcastLevel delivers one delta to every observer that has issued
// subscribeDepth. Unlike execution reports, book deltas are opt-in: a
// connected but unsubscribed observer must not be woken for every
// cascade.
func (e *Engine) broadcastLevel(side order.Side, price int64) {
	if len(e.subscribed) == 0 {
		return
	}
	qty := e.book.LevelQuantity(side, price)
	for observer := range e.subscribed {
		e.sendDeltaTo(observer, side, price, qty)
	}
}

func sortedKeys(m map[int64]bool) []int64 {
	out := make([]int64, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (e *Engine) rejectCreate(trader registry.ID, orderID int64, err error) {
	reason := "MalformedMessage"
	var r order.RejectReason
	if errors.As(err, &r) {
		reason = r.Kind()
	}
	e.send(trader, protocol.CreateOrderReject{OrderID: orderID, Reason: reason})
}

func (e *Engine) sendError(trader registry.ID, text string) {
	e.send(trader, protocol.Error{Text: text})
}

func (e *Engine) sendErrorToObserver(observer registry.ID, text string) {
	frame, err := protocol.Encode(protocol.Error{Text: text})
	if err != nil {
		log.Error().Err(err).Msg("encode error frame")
		return
	}
	e.reg.SendToObserver(observer, frame)
}

func (e *Engine) send(trader registry.ID, msg protocol.Outbound) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		log.Error().Err(err).Msg("encode outbound frame")
		return
	}
	e.reg.SendToTrader(trader, frame)
}

// assertInvariants checks book consistency at the end of every
// cascade. A violation here means the in-memory state is already
// corrupt: Fatal() logs and terminates the process rather than
// letting the engine continue on undefined state.
func (e *Engine) assertInvariants() {
	if err := e.book.CheckInvariants(); err != nil {
		log.Fatal().Err(err).Msg("book invariant violated, aborting")
	}
}

func orderIDOrZero(in protocol.Inbound) int64 {
	if in.OrderID == nil {
		return 0
	}
	return *in.OrderID
}
