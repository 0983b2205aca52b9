// Package monitor scans open positions for stop-loss and take-profit triggers.
package monitor

import (
	"ai-trade-bot-go/internal/models"
)

// Thresholds are the protective limits of one model, as positive fractions
// (0.05 = 5%).
type Thresholds struct {
	StopLossEnabled   bool
	StopLossPct       float64
	TakeProfitEnabled bool
	TakeProfitPct     float64
}

// ThresholdsFor reads the thresholds out of a model row.
func ThresholdsFor(m models.Model) Thresholds {
	return Thresholds{
		StopLossEnabled:   m.StopLossEnabled,
		StopLossPct:       m.StopLossPct,
		TakeProfitEnabled: m.TakeProfitEnabled,
		TakeProfitPct:     m.TakeProfitPct,
	}
}

// Trigger is a synthesized close of a full position at its mark price.
type Trigger struct {
	Coin     string      `json:"coin"`
	Side     models.Side `json:"side"`
	Quantity float64     `json:"quantity"`
	Leverage int         `json:"leverage"`
	AvgEntry float64     `json:"avg_entry"`
	Mark     float64     `json:"mark"`
	Return   float64     `json:"return"`
	Reason   string      `json:"reason"`
}

// ReturnFraction is (mark - avg) / avg in the direction of the position.
func ReturnFraction(p models.Position, mark float64) float64 {
	if p.AvgEntry <= 0 {
		return 0
	}
	return (mark - p.AvgEntry) / p.AvgEntry * p.Side.Sign()
}

// Scan evaluates every position once. Positions without a usable mark are
// skipped. Stop-loss is checked first and wins when both limits are crossed.
func Scan(positions []models.Position, marks map[string]float64, th Thresholds) []Trigger {
	var triggers []Trigger
	for _, p := range positions {
		mark, ok := marks[p.Coin]
		if !ok || mark <= 0 || p.Quantity <= 0 {
			continue
		}

		ret := ReturnFraction(p, mark)
		var reason string
		switch {
		case th.StopLossEnabled && ret <= -th.StopLossPct:
			reason = models.ReasonStopLoss
		case th.TakeProfitEnabled && ret >= th.TakeProfitPct:
			reason = models.ReasonTakeProfit
		default:
			continue
		}

		triggers = append(triggers, Trigger{
			Coin:     p.Coin,
			Side:     p.Side,
			Quantity: p.Quantity,
			Leverage: p.Leverage,
			AvgEntry: p.AvgEntry,
			Mark:     mark,
			Return:   ret,
			Reason:   reason,
		})
	}
	return triggers
}
