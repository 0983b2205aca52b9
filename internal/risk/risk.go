// Package risk validates proposed orders against a model's risk policy.
package risk

import (
	"fmt"

	"ai-trade-bot-go/internal/models"
	"github.com/shopspring/decimal"
)

// QuantityPrecision is the number of decimals a clamped quantity keeps.
const QuantityPrecision = 8

// Rejection reasons.
const (
	ReasonPositionLimit = "position_limit_exceeded"
	ReasonRiskLimit     = "risk_limit_exceeded"
	ReasonNoPosition    = "no_position_to_close"
	ReasonInvalidOrder  = "invalid_order"
)

// Adjustment tags attached to clamped verdicts.
const (
	AdjustLeverage = "leverage_capped"
	AdjustQuantity = "quantity_reduced"
)

// Outcome is the kind of verdict.
type Outcome int

const (
	Accept Outcome = iota
	Clamp
	Reject
)

func (o Outcome) String() string {
	switch o {
	case Accept:
		return "accept"
	case Clamp:
		return "clamp"
	case Reject:
		return "reject"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// MarshalText renders the outcome by name in JSON summaries.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Policy holds the configured limits of one model. Each limit can be
// switched off on its own.
type Policy struct {
	MaxPositions         int
	PositionLimitEnabled bool
	MaxRiskPerTrade      float64 // fraction of equity, 0.05 = 5%
	RiskLimitEnabled     bool
	MaxLeverage          int
	LeverageCapEnabled   bool
}

// PolicyFor reads the policy out of a model row.
func PolicyFor(m models.Model) Policy {
	return Policy{
		MaxPositions:         m.MaxPositions,
		PositionLimitEnabled: m.PositionLimitEnabled,
		MaxRiskPerTrade:      m.MaxRiskPerTrade,
		RiskLimitEnabled:     m.RiskLimitEnabled,
		MaxLeverage:          m.MaxLeverage,
		LeverageCapEnabled:   m.LeverageCapEnabled,
	}
}

// Proposal is an order as requested, plus the account state it is judged against.
type Proposal struct {
	Coin          string
	Signal        models.Signal
	Quantity      float64
	Leverage      int
	Price         float64
	Equity        float64
	OpenPositions int
	HasPosition   bool
}

// Verdict is the evaluator's answer. Quantity and Leverage are the values the
// order must proceed with when the outcome is Accept or Clamp.
type Verdict struct {
	Outcome     Outcome  `json:"outcome"`
	Reason      string   `json:"reason,omitempty"`
	Quantity    float64  `json:"quantity"`
	Leverage    int      `json:"leverage"`
	Adjustments []string `json:"adjustments,omitempty"`
}

// Allowed reports whether the order may proceed.
func (v Verdict) Allowed() bool {
	return v.Outcome != Reject
}

func reject(reason string, p Proposal, lev int) Verdict {
	return Verdict{Outcome: Reject, Reason: reason, Quantity: p.Quantity, Leverage: lev}
}

// Evaluate applies the policy rules in order: position limit, leverage cap,
// risk per trade, close without position, order sanity.
func Evaluate(policy Policy, p Proposal) Verdict {
	lev := p.Leverage
	if lev < 1 {
		lev = 1
	}
	v := Verdict{Outcome: Accept, Quantity: p.Quantity, Leverage: lev}

	if p.Signal.IsOpen() {
		if policy.PositionLimitEnabled && !p.HasPosition && p.OpenPositions >= policy.MaxPositions {
			return reject(ReasonPositionLimit, p, lev)
		}

		if policy.LeverageCapEnabled && policy.MaxLeverage > 0 && v.Leverage > policy.MaxLeverage {
			v.Leverage = policy.MaxLeverage
			v.Outcome = Clamp
			v.Adjustments = append(v.Adjustments, AdjustLeverage)
		}

		if policy.RiskLimitEnabled && p.Quantity > 0 && p.Price > 0 {
			if p.Equity <= 0 {
				return reject(ReasonRiskLimit, p, v.Leverage)
			}
			if RiskFraction(p.Quantity, p.Price, v.Leverage, p.Equity) > policy.MaxRiskPerTrade {
				maxQty := MaxQuantity(policy.MaxRiskPerTrade, p.Equity, p.Price, v.Leverage)
				if maxQty <= 0 {
					return reject(ReasonRiskLimit, p, v.Leverage)
				}
				v.Quantity = maxQty
				v.Outcome = Clamp
				v.Adjustments = append(v.Adjustments, AdjustQuantity)
			}
		}
	}

	if p.Signal == models.SignalClose && !p.HasPosition {
		return reject(ReasonNoPosition, p, lev)
	}

	if p.Quantity <= 0 || p.Price <= 0 {
		return reject(ReasonInvalidOrder, p, lev)
	}

	return v
}

// MaxQuantity is the largest quantity, truncated to QuantityPrecision, whose
// notional stays within fraction of equity.
func MaxQuantity(fraction, equity, price float64, leverage int) float64 {
	if price <= 0 || leverage < 1 {
		return 0
	}
	raw := decimal.NewFromFloat(fraction).
		Mul(decimal.NewFromFloat(equity)).
		Div(decimal.NewFromFloat(price).Mul(decimal.NewFromInt(int64(leverage))))
	return raw.Truncate(QuantityPrecision).InexactFloat64()
}

// RiskFraction is notional divided by equity.
func RiskFraction(quantity, price float64, leverage int, equity float64) float64 {
	if equity <= 0 {
		return 0
	}
	return quantity * price * float64(leverage) / equity
}
