package ledger

import (
	"context"
	"testing"

	"ai-trade-bot-go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot(t *testing.T) {
	ctx := context.Background()
	l := setupLedger(t, 100000)

	_, err := l.ApplyOrder(ctx, order(models.SignalOpenLong, "BTC", 1, 50000, 1))
	require.NoError(t, err)
	_, err = l.ApplyOrder(ctx, order(models.SignalOpenShort, "ETH", 2, 2000, 4))
	require.NoError(t, err)
	_, err = l.ApplyOrder(ctx, order(models.SignalOpenLong, "SOL", 10, 100, 2))
	require.NoError(t, err)

	snap, err := l.Snapshot(ctx, modelID, map[string]float64{"BTC": 51000, "ETH": 1900})
	require.NoError(t, err)

	assert.InDelta(t, 100000-50000-1000-500, snap.Cash, 1e-9)
	assert.InDelta(t, 51500, snap.MarginUsed, 1e-9)
	// BTC: +1000*1*1, ETH: (1900-2000)*2*-1*4 = +800, SOL unpriced.
	assert.InDelta(t, 1800, snap.UnrealizedPnL, 1e-9)
	assert.InDelta(t, snap.Cash+snap.MarginUsed+1800, snap.TotalEquity, 1e-9)
	assert.Equal(t, []string{"SOL"}, snap.Unpriced)
	assert.Len(t, snap.Positions, 3)
	for _, p := range snap.Positions {
		assert.Equal(t, p.Coin != "SOL", p.Priced, p.Coin)
	}

	require.NoError(t, l.RecordSnapshot(ctx, "cycle-1", snap))
	var rows []models.PortfolioSnapshot
	require.NoError(t, l.db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, 3, rows[0].OpenPositions)
	assert.Equal(t, "cycle-1", rows[0].CycleID)
}

func TestSnapshot_FlatAccountEquityIsCash(t *testing.T) {
	l := setupLedger(t, 2500)
	snap, err := l.Snapshot(context.Background(), modelID, nil)
	require.NoError(t, err)
	assert.Equal(t, 2500.0, snap.TotalEquity)
	assert.Empty(t, snap.Positions)
}

func TestUnrealizedPnL(t *testing.T) {
	long := models.Position{Side: models.SideLong, Quantity: 2, AvgEntry: 100, Leverage: 3}
	short := models.Position{Side: models.SideShort, Quantity: 2, AvgEntry: 100, Leverage: 0}
	assert.InDelta(t, 60, UnrealizedPnL(long, 110), 1e-12)
	assert.InDelta(t, -20, UnrealizedPnL(short, 110), 1e-12)
}
