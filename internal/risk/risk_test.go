package risk

import (
	"testing"

	"ai-trade-bot-go/internal/models"
	"github.com/stretchr/testify/assert"
)

func defaultPolicy() Policy {
	return Policy{
		MaxPositions:         3,
		PositionLimitEnabled: true,
		MaxRiskPerTrade:      0.05,
		RiskLimitEnabled:     true,
		MaxLeverage:          20,
		LeverageCapEnabled:   true,
	}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name     string
		policy   func(*Policy)
		proposal Proposal
		outcome  Outcome
		reason   string
		quantity float64
		leverage int
	}{
		{
			name:     "AcceptWithinLimits",
			proposal: Proposal{Coin: "BTC", Signal: models.SignalOpenLong, Quantity: 0.01, Leverage: 5, Price: 50000, Equity: 100000},
			outcome:  Accept,
			quantity: 0.01,
			leverage: 5,
		},
		{
			name:     "RejectFourthPosition",
			proposal: Proposal{Coin: "DOGE", Signal: models.SignalOpenLong, Quantity: 10, Leverage: 1, Price: 0.1, Equity: 100000, OpenPositions: 3},
			outcome:  Reject,
			reason:   ReasonPositionLimit,
		},
		{
			name:     "AddToExistingAtLimit",
			proposal: Proposal{Coin: "BTC", Signal: models.SignalOpenLong, Quantity: 0.01, Leverage: 1, Price: 50000, Equity: 100000, OpenPositions: 3, HasPosition: true},
			outcome:  Accept,
			quantity: 0.01,
			leverage: 1,
		},
		{
			name:     "PositionLimitDisabled",
			policy:   func(p *Policy) { p.PositionLimitEnabled = false },
			proposal: Proposal{Coin: "DOGE", Signal: models.SignalOpenShort, Quantity: 10, Leverage: 1, Price: 0.1, Equity: 100000, OpenPositions: 5},
			outcome:  Accept,
			quantity: 10,
			leverage: 1,
		},
		{
			name:     "ClampLeverage",
			proposal: Proposal{Coin: "ETH", Signal: models.SignalOpenLong, Quantity: 0.1, Leverage: 35, Price: 2000, Equity: 100000},
			outcome:  Clamp,
			quantity: 0.1,
			leverage: 20,
		},
		{
			name:     "ClampQuantity",
			proposal: Proposal{Coin: "BTC", Signal: models.SignalOpenLong, Quantity: 1, Leverage: 2, Price: 50000, Equity: 100000},
			outcome:  Clamp,
			quantity: 0.05,
			leverage: 2,
		},
		{
			name:     "RiskClampRoundsToZero",
			proposal: Proposal{Coin: "BTC", Signal: models.SignalOpenLong, Quantity: 1, Leverage: 1, Price: 1e12, Equity: 1},
			outcome:  Reject,
			reason:   ReasonRiskLimit,
		},
		{
			name:     "NoEquity",
			proposal: Proposal{Coin: "BTC", Signal: models.SignalOpenLong, Quantity: 1, Leverage: 1, Price: 100, Equity: 0},
			outcome:  Reject,
			reason:   ReasonRiskLimit,
		},
		{
			name:     "CloseWithoutPosition",
			proposal: Proposal{Coin: "SOL", Signal: models.SignalClose, Quantity: 1, Price: 100, Equity: 100000},
			outcome:  Reject,
			reason:   ReasonNoPosition,
		},
		{
			name:     "CloseIgnoresPositionAndRiskLimits",
			proposal: Proposal{Coin: "SOL", Signal: models.SignalClose, Quantity: 1000, Leverage: 50, Price: 100, Equity: 10, OpenPositions: 9, HasPosition: true},
			outcome:  Accept,
			quantity: 1000,
			leverage: 50,
		},
		{
			name:     "ZeroQuantity",
			proposal: Proposal{Coin: "BTC", Signal: models.SignalOpenLong, Quantity: 0, Leverage: 1, Price: 100, Equity: 1000},
			outcome:  Reject,
			reason:   ReasonInvalidOrder,
		},
		{
			name:     "ZeroPrice",
			proposal: Proposal{Coin: "BTC", Signal: models.SignalOpenShort, Quantity: 1, Leverage: 1, Price: 0, Equity: 1000},
			outcome:  Reject,
			reason:   ReasonInvalidOrder,
		},
		{
			name:     "LeverageBelowOneNormalized",
			proposal: Proposal{Coin: "BTC", Signal: models.SignalOpenLong, Quantity: 0.01, Leverage: 0, Price: 100, Equity: 1000},
			outcome:  Accept,
			quantity: 0.01,
			leverage: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := defaultPolicy()
			if tt.policy != nil {
				tt.policy(&policy)
			}

			v := Evaluate(policy, tt.proposal)

			assert.Equal(t, tt.outcome, v.Outcome)
			assert.Equal(t, tt.reason, v.Reason)
			if tt.outcome != Reject {
				assert.InDelta(t, tt.quantity, v.Quantity, 1e-9)
				assert.Equal(t, tt.leverage, v.Leverage)
			}
		})
	}
}

func TestEvaluate_ClampedOrderStaysWithinRiskFraction(t *testing.T) {
	policy := defaultPolicy()
	for _, price := range []float64{0.0731, 1.5, 97.3, 2345.67, 61234.5} {
		for _, lev := range []int{1, 3, 10, 20, 35} {
			v := Evaluate(policy, Proposal{
				Coin: "X", Signal: models.SignalOpenLong, Quantity: 1e6, Leverage: lev, Price: price, Equity: 12345.67,
			})
			if !v.Allowed() {
				continue
			}
			frac := RiskFraction(v.Quantity, price, v.Leverage, 12345.67)
			assert.LessOrEqual(t, frac, policy.MaxRiskPerTrade+1e-9, "price=%v lev=%d", price, lev)
			assert.LessOrEqual(t, v.Leverage, policy.MaxLeverage)
		}
	}
}

func TestEvaluate_LeverageClampReportsBothAdjustments(t *testing.T) {
	v := Evaluate(defaultPolicy(), Proposal{
		Coin: "BTC", Signal: models.SignalOpenLong, Quantity: 1, Leverage: 35, Price: 50000, Equity: 100000,
	})
	assert.Equal(t, Clamp, v.Outcome)
	assert.Equal(t, []string{AdjustLeverage, AdjustQuantity}, v.Adjustments)
	assert.Equal(t, 20, v.Leverage)
	assert.InDelta(t, 0.005, v.Quantity, 1e-12)
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "clamp", Clamp.String())
	text, err := Reject.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "reject", string(text))
}
