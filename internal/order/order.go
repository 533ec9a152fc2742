// Package order holds the order record and its construction/
// validation rules. An Order is immutable after construction except
// for Quantity, which only ever decreases as fills occur.
package order

import (
	"fmt"
	"math"
	"sync/atomic"

	"clobsim/internal/protocol"
	"clobsim/internal/registry"
)

// Side is the domain-level BID/ASK distinction, kept separate from the
// wire tokens in internal/protocol so validation failures can name the
// offending token in the rejection text.
type Side int

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	if s == Bid {
		return protocol.SideBuy
	}
	return protocol.SideSell
}

// WireSide maps the accepted wire tokens, protocol.SideBuy and
// protocol.SideSell, onto the domain-level Side.
func WireSide(token string) (Side, error) {
	switch token {
	case protocol.SideBuy:
		return Bid, nil
	case protocol.SideSell:
		return Ask, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrWrongSide, token)
	}
}

// RejectReason names the outbound reason text for a validation error,
// letting the matcher map any construction failure straight onto a
// createOrderReject/cancelReject/error frame.
type RejectReason interface {
	error
	Kind() string
}

type kindError struct {
	kind string
	msg  string
}

func (e kindError) Error() string { return e.msg }
func (e kindError) Kind() string  { return e.kind }

// The four validation error kinds a createOrder message can fail with.
var (
	ErrWrongSide RejectReason = kindError{"WrongSide", "side must be BUY or SELL"}
	ErrOrderID   RejectReason = kindError{"OrderIdError", "orderId must be a positive integer"}
	ErrPrice     RejectReason = kindError{"PriceError", "price must be a positive integer"}
	ErrQuantity  RejectReason = kindError{"QuantityError", "quantity must be a positive integer"}
)

// Clock hands out a strictly increasing admission sequence number,
// substituting for a wall clock that may not be monotonic at
// sufficient resolution. Ties beyond this counter are impossible by
// construction.
type Clock struct {
	next atomic.Uint64
}

// Tick returns the next sequence number, starting at 1.
func (c *Clock) Tick() uint64 {
	return c.next.Add(1)
}

// Order is the resting/incoming order record. Trader is a weak
// reference: a registry.ID, not a Participant, so an order never
// keeps a connection alive.
type Order struct {
	IsMarket bool
	Side     Side
	OrderID  int64 // 0 for market orders, which never rest
	Price    int64 // ticks; synthetic +/-inf encoding for market orders
	Quantity uint64
	Time     uint64 // admission sequence number from Clock
	Trader   registry.ID
}

// marketBidPrice / marketAskPrice let the book's single comparator
// treat market and limit orders uniformly: a market BID always
// crosses any resting ask, a market ASK always crosses any resting
// bid.
const (
	marketBidPrice = math.MaxInt64
	marketAskPrice = math.MinInt64
)

// NewLimit validates a decoded createOrder/limit message and builds the
// resulting Order. The order is not yet admitted to the book — Time is
// assigned here from clk, captured at engine admission rather than at
// wire arrival.
func NewLimit(trader registry.ID, in protocol.Inbound, clk *Clock) (Order, error) {
	side, err := WireSide(in.Side)
	if err != nil {
		return Order{}, err
	}
	if in.OrderID == nil || *in.OrderID <= 0 {
		return Order{}, ErrOrderID
	}
	if in.Price == nil || *in.Price <= 0 {
		return Order{}, ErrPrice
	}
	if in.Quantity == nil || *in.Quantity == 0 {
		return Order{}, ErrQuantity
	}

	return Order{
		IsMarket: false,
		Side:     side,
		OrderID:  *in.OrderID,
		Price:    *in.Price,
		Quantity: *in.Quantity,
		Time:     clk.Tick(),
		Trader:   trader,
	}, nil
}

// NewMarket validates a decoded createOrder/market message. Market
// orders carry no order id — they never rest — and their price is the
// synthetic +/-infinity encoding.
func NewMarket(trader registry.ID, in protocol.Inbound, clk *Clock) (Order, error) {
	side, err := WireSide(in.Side)
	if err != nil {
		return Order{}, err
	}
	if in.Quantity == nil || *in.Quantity == 0 {
		return Order{}, ErrQuantity
	}

	price := int64(marketAskPrice)
	if side == Bid {
		price = marketBidPrice
	}

	return Order{
		IsMarket: true,
		Side:     side,
		OrderID:  0,
		Price:    price,
		Quantity: *in.Quantity,
		Time:     clk.Tick(),
		Trader:   trader,
	}, nil
}

// Crosses reports whether this order and the opposing resting order
// cross, i.e. whether a trade between them is possible at the resting
// order's price.
// Only meaningful when the two orders are on opposite sides.
func (o Order) Crosses(resting Order) bool {
	if o.Side == Bid {
		return o.Price >= resting.Price
	}
	return o.Price <= resting.Price
}

func (o Order) String() string {
	kind := "limit"
	if o.IsMarket {
		kind = "market"
	}
	return fmt.Sprintf("Order{id=%d side=%s type=%s price=%d qty=%d trader=%s}",
		o.OrderID, o.Side, kind, o.Price, o.Quantity, o.Trader)
}
