package trader

import (
	"context"
	"fmt"
	"testing"
	"time"

	"ai-trade-bot-go/internal/ai"
	"ai-trade-bot-go/internal/config"
	"ai-trade-bot-go/internal/exchange"
	"ai-trade-bot-go/internal/models"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestEngine_TickSkipsWhileCycleRuns(t *testing.T) {
	h := setupEngine(t, alphaConfig(), nil)
	r := h.engine.runner(h.model.ID, h.model.Name)
	require.True(t, r.tryAcquire())

	h.engine.tick(context.Background(), r)
	h.engine.tick(context.Background(), r)

	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.SkippedTicks.WithLabelValues("alpha")))
	h.market.AssertNotCalled(t, "Quotes", mock.Anything, mock.Anything)
	h.client.AssertNotCalled(t, "Decide", mock.Anything, mock.Anything)

	// A manual run waits for the slot instead of skipping.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := h.engine.ExecuteNow(ctx, h.model.ID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	r.release()
}

func TestEngine_TickRunsCycle(t *testing.T) {
	h := setupEngine(t, alphaConfig(), nil)
	h.market.On("Quotes", mock.Anything, mock.Anything).
		Return(quotes(map[string]float64{"BTC": 50000}), nil)
	h.client.On("Decide", mock.Anything, mock.Anything).Return(decisions(nil), nil)

	r := h.engine.runner(h.model.ID, h.model.Name)
	h.engine.tick(context.Background(), r)
	h.engine.wg.Wait()

	last := r.lastOutcome()
	require.NotNil(t, last)
	assert.Equal(t, TriggerScheduled, last.Trigger)
	assert.True(t, last.Completed())
	assert.False(t, r.busy())
}

func TestEngine_ExecuteNow(t *testing.T) {
	h := setupEngine(t, alphaConfig(), nil)
	h.market.On("Quotes", mock.Anything, mock.Anything).
		Return(quotes(map[string]float64{"BTC": 50000, "ETH": 3000}), nil)
	h.client.On("Decide", mock.Anything, mock.Anything).Return(decisions(map[string]ai.Decision{
		"ETH": {Signal: ai.SignalSellToEnter, Quantity: 0.5, Leverage: 2},
	}), nil)

	out, err := h.engine.ExecuteNow(context.Background(), h.model.ID)
	require.NoError(t, err)
	assert.Equal(t, TriggerManual, out.Trigger)
	require.NotNil(t, out.Snapshot)
	assert.InDelta(t, 100000.0, out.Snapshot.TotalEquity, 1e-9)
	assert.InDelta(t, 750.0, out.Snapshot.MarginUsed, 1e-9)

	status, err := h.engine.Status(context.Background())
	require.NoError(t, err)
	require.Len(t, status, 1)
	assert.Equal(t, out.CycleID, status[0].LastCycleID)
	assert.Equal(t, "completed", status[0].LastResult)
	assert.False(t, status[0].Running)

	_, err = h.engine.ExecuteNow(context.Background(), 999)
	assert.ErrorIs(t, err, ErrModelNotFound)
}

func TestEngine_SyncSchedules(t *testing.T) {
	h := setupEngine(t, alphaConfig(), nil)
	ctx := context.Background()
	defer h.engine.Shutdown()

	require.NoError(t, h.engine.Sync(ctx))
	status, err := h.engine.Status(ctx)
	require.NoError(t, err)
	require.Len(t, status, 1)
	assert.True(t, status[0].Scheduled)
	assert.Equal(t, "3m0s", status[0].Interval)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ActiveRunners))

	require.NoError(t, h.db.Model(&models.Model{}).Where("id = ?", h.model.ID).
		Update("interval_seconds", 60).Error)
	require.NoError(t, h.engine.Sync(ctx))
	assert.Equal(t, time.Minute, h.engine.runner(h.model.ID, "").interval)

	require.NoError(t, h.db.Model(&models.Model{}).Where("id = ?", h.model.ID).
		Update("auto_trading", false).Error)
	require.NoError(t, h.engine.Sync(ctx))
	status, err = h.engine.Status(ctx)
	require.NoError(t, err)
	assert.False(t, status[0].Scheduled)
	assert.Equal(t, 0.0, testutil.ToFloat64(h.metrics.ActiveRunners))
}

func TestEngine_SyncSkipsDisabledLiveModel(t *testing.T) {
	mc := alphaConfig()
	mc.Mode = config.ModeLive
	h := setupEngine(t, mc, new(MockAdapter))
	defer h.engine.Shutdown()
	require.NoError(t, h.db.Model(&models.Model{}).Where("id = ?", h.model.ID).
		Updates(map[string]interface{}{"live_disabled": true, "live_disabled_reason": "auth"}).Error)

	require.NoError(t, h.engine.Sync(context.Background()))
	status, err := h.engine.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, status[0].Scheduled)
	assert.True(t, status[0].LiveDisabled)
}

func TestEngine_ValidateCredentials(t *testing.T) {
	mc := alphaConfig()
	mc.Mode = config.ModeLive
	mc.ExchangeCredential = "key:secret"
	adapter := new(MockAdapter)
	h := setupEngine(t, mc, adapter)
	ctx := context.Background()
	defer h.engine.Shutdown()

	adapter.On("ValidateCredentials", mock.Anything).
		Return(fmt.Errorf("%w: code -2015", exchange.ErrAuth)).Once()
	err := h.engine.ValidateCredentials(ctx, h.model.ID)
	assert.ErrorIs(t, err, exchange.ErrAuth)

	m, err := h.engine.Model(ctx, h.model.ID)
	require.NoError(t, err)
	assert.True(t, m.LiveDisabled)

	adapter.On("ValidateCredentials", mock.Anything).Return(nil).Once()
	require.NoError(t, h.engine.ValidateCredentials(ctx, h.model.ID))

	m, err = h.engine.Model(ctx, h.model.ID)
	require.NoError(t, err)
	assert.False(t, m.LiveDisabled)
	assert.Empty(t, m.LiveDisabledReason)

	status, err := h.engine.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status[0].Scheduled)
	adapter.AssertExpectations(t)
}

func TestEngine_Portfolio(t *testing.T) {
	h := setupEngine(t, alphaConfig(), nil)
	h.open(t, "BTC", models.SignalOpenLong, 1, 50000, 2)
	h.market.On("Quotes", mock.Anything, []string{"BTC"}).
		Return(quotes(map[string]float64{"BTC": 51000}), nil)

	snap, err := h.engine.Portfolio(context.Background(), h.model.ID)
	require.NoError(t, err)
	assert.InDelta(t, 75000.0, snap.Cash, 1e-9)
	assert.InDelta(t, 25000.0, snap.MarginUsed, 1e-9)
	assert.InDelta(t, 2000.0, snap.UnrealizedPnL, 1e-9)
	assert.InDelta(t, 102000.0, snap.TotalEquity, 1e-9)

	_, err = h.engine.Portfolio(context.Background(), 42)
	assert.ErrorIs(t, err, ErrModelNotFound)
}

func TestEngine_ModelByName(t *testing.T) {
	h := setupEngine(t, alphaConfig(), nil)

	m, err := h.engine.ModelByName(context.Background(), "alpha")
	require.NoError(t, err)
	assert.Equal(t, h.model.ID, m.ID)

	_, err = h.engine.ModelByName(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrModelNotFound)
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}

func TestEngine_PortfolioOfSandboxModelUsesTestnetPrices(t *testing.T) {
	mc := alphaConfig()
	mc.Mode = config.ModeLive
	mc.Sandbox = config.Bool(true)
	adapter := new(MockQuotingAdapter)
	h := setupEngine(t, mc, adapter)
	h.open(t, "BTC", models.SignalOpenLong, 1, 50000, 1)
	adapter.On("Quotes", mock.Anything, []string{"BTC"}).
		Return(quotes(map[string]float64{"BTC": 50500}), nil)

	snap, err := h.engine.Portfolio(context.Background(), h.model.ID)
	require.NoError(t, err)
	assert.InDelta(t, 500.0, snap.UnrealizedPnL, 1e-9)
	h.market.AssertNotCalled(t, "Quotes", mock.Anything, mock.Anything)
}
