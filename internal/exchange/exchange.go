// Package exchange defines the execution target contract shared by the
// simulated ledger and real exchange accounts.
package exchange

import (
	"context"
	"errors"
	"time"
)

// Order sides on the exchange.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

var (
	ErrRateLimited       = errors.New("rate limited")
	ErrAuth              = errors.New("authentication failed")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrUnavailable       = errors.New("exchange unavailable")
	ErrUnknown           = errors.New("exchange error")
	ErrPriceUnavailable  = errors.New("price unavailable")
	ErrOrderNotFound     = errors.New("order not found")
)

// IsRetryable reports whether a failed call may succeed if repeated.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnavailable)
}

// IsAmbiguous reports whether a failed order may still have been accepted by
// the exchange: the request could have arrived before the connection broke or
// the deadline passed. Such orders must be looked up before they are sent
// again.
func IsAmbiguous(err error) bool {
	return errors.Is(err, ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

// RetryAfterError carries a server-requested wait on top of a classified error.
type RetryAfterError struct {
	Err   error
	After time.Duration
}

func (e *RetryAfterError) Error() string { return e.Err.Error() }
func (e *RetryAfterError) Unwrap() error { return e.Err }

// Order is a market order sent to an execution target. Price is the
// reference mark the decision was made on.
type Order struct {
	ClientID   string
	Coin       string
	Side       string
	Quantity   float64
	Price      float64
	Leverage   int
	ReduceOnly bool
}

// Fill is the executed part of an order.
type Fill struct {
	OrderID     string  `json:"order_id"`
	FilledQty   float64 `json:"filled_qty"`
	FilledPrice float64 `json:"filled_price"`
}

// Position sides as reported by an execution target.
const (
	PositionLong  = "long"
	PositionShort = "short"
)

// Position is an open position held on the execution target. Quantity is
// always positive.
type Position struct {
	Coin       string  `json:"coin"`
	Side       string  `json:"side"`
	Quantity   float64 `json:"quantity"`
	EntryPrice float64 `json:"entry_price"`
	Leverage   int     `json:"leverage"`
}

// Adapter is an execution target.
//
// LookupOrder finds an order by the client id it was sent with and returns
// its executed part. It returns ErrOrderNotFound when the order was never
// accepted or ended without a fill.
//
// Positions lists the open positions by coin. Targets without a remote book
// return nil.
type Adapter interface {
	GetMarkPrice(ctx context.Context, coin string) (float64, error)
	PlaceOrder(ctx context.Context, order Order) (*Fill, error)
	LookupOrder(ctx context.Context, coin, clientID string) (*Fill, error)
	Positions(ctx context.Context) (map[string]Position, error)
	ValidateCredentials(ctx context.Context) error
}

// Quote is the market view of one coin. Indicators is nil when no daily
// history was available.
type Quote struct {
	Coin       string      `json:"coin"`
	Price      float64     `json:"price"`
	Change24h  float64     `json:"change_24h"`
	Indicators *Indicators `json:"indicators,omitempty"`
}

// MarketSource supplies current quotes. Coins without data are left out of
// the result rather than failing the call.
type MarketSource interface {
	Quotes(ctx context.Context, coins []string) (map[string]Quote, error)
}
