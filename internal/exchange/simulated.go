package exchange

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Simulated fills every order at its reference price. It backs models that
// trade against the internal paper ledger.
type Simulated struct {
	market MarketSource
	seq    atomic.Int64
	fills  sync.Map // client id -> *Fill
}

var _ Adapter = (*Simulated)(nil)

// NewSimulated creates a paper execution target. market may be nil when only
// PlaceOrder is used.
func NewSimulated(market MarketSource) *Simulated {
	return &Simulated{market: market}
}

// GetMarkPrice returns the last quote of the coin.
func (s *Simulated) GetMarkPrice(ctx context.Context, coin string) (float64, error) {
	if s.market == nil {
		return 0, ErrPriceUnavailable
	}
	quotes, err := s.market.Quotes(ctx, []string{coin})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}
	q, ok := quotes[coin]
	if !ok || q.Price <= 0 {
		return 0, ErrPriceUnavailable
	}
	return q.Price, nil
}

// PlaceOrder fills the full quantity at the reference price.
func (s *Simulated) PlaceOrder(_ context.Context, order Order) (*Fill, error) {
	if order.Quantity <= 0 || order.Price <= 0 {
		return nil, fmt.Errorf("%w: invalid paper order", ErrUnknown)
	}
	fill := &Fill{
		OrderID:     fmt.Sprintf("PAPER-%d", s.seq.Add(1)),
		FilledQty:   order.Quantity,
		FilledPrice: order.Price,
	}
	if order.ClientID != "" {
		s.fills.Store(order.ClientID, fill)
	}
	return fill, nil
}

// LookupOrder returns the fill of a paper order sent with clientID.
func (s *Simulated) LookupOrder(_ context.Context, _, clientID string) (*Fill, error) {
	if v, ok := s.fills.Load(clientID); ok {
		return v.(*Fill), nil
	}
	return nil, ErrOrderNotFound
}

// Positions returns nil; paper positions exist only in the ledger.
func (s *Simulated) Positions(context.Context) (map[string]Position, error) {
	return nil, nil
}

// ValidateCredentials always succeeds; paper trading has no credentials.
func (s *Simulated) ValidateCredentials(context.Context) error {
	return nil
}
