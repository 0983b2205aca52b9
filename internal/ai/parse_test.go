package ai

import (
	"testing"

	"ai-trade-bot-go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var coins = []string{"BTC", "ETH", "SOL"}

func TestParseDecisionSet_Canonical(t *testing.T) {
	content := "Here is my analysis.\n```json\n" + `{
  "market_analysis": {"trend": "up", "confidence": 80, "key_indicators": "RSI"},
  "key_levels": {"support": [1, 2], "resistance": [3, 4]},
  "trading_decisions": {
    "BTC": {"signal": "buy_to_enter", "quantity": 0.1, "leverage": 5, "confidence": 0.8, "justification": "breakout", "risk_assessment": "medium"},
    "ETH": {"signal": "close_position", "quantity": 0, "leverage": 1, "confidence": 0.6}
  },
  "final_recommendations": ["buy BTC", "close ETH"]
}` + "\n```"

	set, err := ParseDecisionSet(content, coins)
	require.NoError(t, err)

	assert.Equal(t, ShapeCanonical, set.Shape)
	assert.False(t, set.Fallback)
	assert.Equal(t, content, set.Raw)
	assert.Equal(t, []string{"buy BTC", "close ETH"}, set.FinalRecommendations)
	assert.Contains(t, string(set.MarketAnalysis), "trend")
	assert.JSONEq(t, `{"support": [1, 2], "resistance": [3, 4]}`, string(set.KeyLevels))

	require.Len(t, set.Decisions, 3)
	btc := set.Decisions["BTC"]
	assert.Equal(t, SignalBuyToEnter, btc.Signal)
	assert.Equal(t, 0.1, btc.Quantity)
	assert.Equal(t, 5, btc.Leverage)
	assert.Equal(t, "breakout", btc.Justification)
	assert.Equal(t, SignalClosePosition, set.Decisions["ETH"].Signal)
	assert.Equal(t, SignalHold, set.Decisions["SOL"].Signal, "missing coins hold")
}

func TestParseDecisionSet_Permissive(t *testing.T) {
	t.Run("FlatShapeWithStringsAndAliases", func(t *testing.T) {
		content := `{
		  "btc": {"signal": "LONG", "quantity": "0.25", "leverage": "10", "confidence": "0.7"},
		  "ETH": {"signal": "short", "quantity": 2},
		  "SOL": {"signal": "close"},
		  "DOGE": {"signal": "buy_to_enter", "quantity": 100}
		}`
		set, err := ParseDecisionSet(content, coins)
		require.NoError(t, err)

		assert.Equal(t, ShapePermissive, set.Shape)
		assert.Len(t, set.Decisions, 3, "untracked coins are dropped")
		assert.Equal(t, Decision{Signal: SignalBuyToEnter, Quantity: 0.25, Leverage: 10, Confidence: 0.7}, set.Decisions["BTC"])
		assert.Equal(t, SignalSellToEnter, set.Decisions["ETH"].Signal)
		assert.Equal(t, 1, set.Decisions["ETH"].Leverage)
		assert.Equal(t, SignalClosePosition, set.Decisions["SOL"].Signal)
		assert.Zero(t, set.Decisions["SOL"].Quantity)
	})

	t.Run("CanonicalWithBadFields", func(t *testing.T) {
		content := `{
		  "trading_decisions": {
		    "BTC": {"signal": "buy_to_enter", "quantity": "lots", "leverage": 3},
		    "ETH": {"signal": "moon", "quantity": 1},
		    "SOL": {"signal": "hold", "extra": true}
		  },
		  "final_recommendations": "be careful"
		}`
		set, err := ParseDecisionSet(content, coins)
		require.NoError(t, err)

		assert.Equal(t, ShapePermissive, set.Shape)
		for _, c := range coins {
			assert.Equal(t, SignalHold, set.Decisions[c].Signal, c)
		}
		assert.Equal(t, []string{"be careful"}, set.FinalRecommendations)
	})
}

func TestParseDecisionSet_Errors(t *testing.T) {
	_, err := ParseDecisionSet("   ", coins)
	assert.ErrorIs(t, err, ErrEmptyResponse)

	_, err = ParseDecisionSet("I cannot help with that.", coins)
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = ParseDecisionSet(`{"analysis": "bullish"}`, coins)
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = ParseDecisionSet("```json\n{\"BTC\": {\"signal\": \"buy\"\n```", coins)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestHoldAll(t *testing.T) {
	set := HoldAll(coins, "timeout")
	assert.True(t, set.Fallback)
	assert.Equal(t, "timeout", set.FallbackReason)
	assert.Len(t, set.Decisions, 3)
	for _, d := range set.Decisions {
		_, ok := d.Signal.OrderSignal()
		assert.False(t, ok)
	}
}

func TestSignalOrderSignal(t *testing.T) {
	tests := []struct {
		in   Signal
		want models.Signal
		ok   bool
	}{
		{SignalBuyToEnter, models.SignalOpenLong, true},
		{SignalSellToEnter, models.SignalOpenShort, true},
		{SignalClosePosition, models.SignalClose, true},
		{SignalHold, "", false},
		{Signal("x"), "", false},
	}
	for _, tt := range tests {
		got, ok := tt.in.OrderSignal()
		assert.Equal(t, tt.want, got)
		assert.Equal(t, tt.ok, ok)
	}
	assert.False(t, Signal("x").Valid())
}
