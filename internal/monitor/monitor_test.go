package monitor

import (
	"testing"

	"ai-trade-bot-go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaults = Thresholds{StopLossEnabled: true, StopLossPct: 0.05, TakeProfitEnabled: true, TakeProfitPct: 0.15}

func TestScan_StopLossScenario(t *testing.T) {
	positions := []models.Position{{Coin: "BTC", Side: models.SideLong, Quantity: 1, AvgEntry: 50000, Leverage: 1}}

	triggers := Scan(positions, map[string]float64{"BTC": 47400}, defaults)

	require.Len(t, triggers, 1)
	tr := triggers[0]
	assert.Equal(t, models.ReasonStopLoss, tr.Reason)
	assert.Equal(t, 47400.0, tr.Mark)
	assert.Equal(t, 1.0, tr.Quantity)
	assert.InDelta(t, -0.052, tr.Return, 1e-12)
}

func TestScan(t *testing.T) {
	long := func(coin string) models.Position {
		return models.Position{Coin: coin, Side: models.SideLong, Quantity: 2, AvgEntry: 100, Leverage: 1}
	}
	short := func(coin string) models.Position {
		return models.Position{Coin: coin, Side: models.SideShort, Quantity: 2, AvgEntry: 100, Leverage: 1}
	}

	tests := []struct {
		name     string
		position models.Position
		mark     float64
		th       func(*Thresholds)
		reason   string
	}{
		{name: "LongNoTrigger", position: long("A"), mark: 101},
		{name: "LongStopAtThreshold", position: long("A"), mark: 95, reason: models.ReasonStopLoss},
		{name: "LongTakeProfit", position: long("A"), mark: 116, reason: models.ReasonTakeProfit},
		{name: "ShortStopOnRise", position: short("A"), mark: 106, reason: models.ReasonStopLoss},
		{name: "ShortTakeProfitOnFall", position: short("A"), mark: 80, reason: models.ReasonTakeProfit},
		{name: "StopLossDisabled", position: long("A"), mark: 50, th: func(th *Thresholds) { th.StopLossEnabled = false }},
		{name: "TakeProfitDisabled", position: long("A"), mark: 200, th: func(th *Thresholds) { th.TakeProfitEnabled = false }},
		{
			// A gapped evaluation where both limits hold at once: stop-loss wins.
			name: "StopLossPreemptsTakeProfit", position: long("A"), mark: 90,
			th:     func(th *Thresholds) { th.TakeProfitPct = -0.2 },
			reason: models.ReasonStopLoss,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			th := defaults
			if tt.th != nil {
				tt.th(&th)
			}
			triggers := Scan([]models.Position{tt.position}, map[string]float64{"A": tt.mark}, th)
			if tt.reason == "" {
				assert.Empty(t, triggers)
				return
			}
			require.Len(t, triggers, 1)
			assert.Equal(t, tt.reason, triggers[0].Reason)
		})
	}
}

func TestScan_OneTriggerPerPositionAndMissingMarks(t *testing.T) {
	positions := []models.Position{
		{Coin: "BTC", Side: models.SideLong, Quantity: 1, AvgEntry: 100, Leverage: 1},
		{Coin: "ETH", Side: models.SideShort, Quantity: 1, AvgEntry: 100, Leverage: 1},
		{Coin: "SOL", Side: models.SideLong, Quantity: 1, AvgEntry: 100, Leverage: 1},
	}
	marks := map[string]float64{"BTC": 50, "ETH": 50, "SOL": 0}

	triggers := Scan(positions, marks, defaults)

	require.Len(t, triggers, 2)
	assert.Equal(t, "BTC", triggers[0].Coin)
	assert.Equal(t, models.ReasonStopLoss, triggers[0].Reason)
	assert.Equal(t, "ETH", triggers[1].Coin)
	assert.Equal(t, models.ReasonTakeProfit, triggers[1].Reason)
}
