package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ai-trade-bot-go/internal/database"
	"ai-trade-bot-go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupHandler(t *testing.T) (*APIHandler, *gorm.DB, http.Handler) {
	t.Helper()
	db, err := database.NewDatabase("file::memory:")
	require.NoError(t, err)

	h := NewAPIHandler(zap.NewNop(), db)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return now }

	mux := http.NewServeMux()
	h.Routes(mux)
	return h, db, mux
}

func get(t *testing.T, handler http.Handler, path string, v any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if rec.Code == http.StatusOK && v != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
	}
	return rec.Code
}

func TestStatisticsHandler(t *testing.T) {
	h, db, handler := setupHandler(t)
	now := h.now()

	trades := []models.Trade{
		{ModelID: 1, OrderID: "o1", Coin: "BTC", Signal: models.SignalOpenLong, Side: models.SideLong, Timestamp: now.Add(-time.Hour)},
		{ModelID: 1, OrderID: "o2", Coin: "BTC", Signal: models.SignalClose, Side: models.SideLong, RealizedPnL: 150, Timestamp: now.Add(-time.Hour)},
		{ModelID: 1, OrderID: "o3", Coin: "ETH", Signal: models.SignalClose, Side: models.SideShort, RealizedPnL: -50, Timestamp: now.Add(-48 * time.Hour)},
		{ModelID: 1, OrderID: "o4", Coin: "SOL", Signal: models.SignalClose, Side: models.SideLong, RealizedPnL: 20, Timestamp: now.Add(-72 * time.Hour)},
		{ModelID: 2, OrderID: "o5", Coin: "SOL", Signal: models.SignalClose, Side: models.SideLong, RealizedPnL: 999, Timestamp: now},
	}
	require.NoError(t, db.Create(&trades).Error)

	var resp StatisticsResponse
	require.Equal(t, http.StatusOK, get(t, handler, "/api/statistics?model_id=1", &resp))

	assert.Equal(t, int64(3), resp.AllTime.TotalTrades)
	assert.Equal(t, int64(2), resp.AllTime.ProfitableTrades)
	assert.InDelta(t, 2.0/3.0, resp.AllTime.WinRate, 1e-9)
	assert.InDelta(t, 120.0, resp.AllTime.TotalProfit, 1e-9)

	assert.Equal(t, int64(1), resp.Since24h.TotalTrades)
	assert.Equal(t, 1.0, resp.Since24h.WinRate)
	assert.Equal(t, 150.0, resp.Since24h.TotalProfit)
}

func TestTradesHandler(t *testing.T) {
	h, db, handler := setupHandler(t)
	now := h.now()
	for i, coin := range []string{"BTC", "ETH", "SOL"} {
		require.NoError(t, db.Create(&models.Trade{
			ModelID:   1,
			OrderID:   coin,
			Coin:      coin,
			Signal:    models.SignalOpenLong,
			Side:      models.SideLong,
			Timestamp: now.Add(time.Duration(i) * time.Minute),
		}).Error)
	}

	var trades []models.Trade
	require.Equal(t, http.StatusOK, get(t, handler, "/api/trades?model_id=1&limit=2", &trades))
	require.Len(t, trades, 2)
	assert.Equal(t, "SOL", trades[0].Coin)
	assert.Equal(t, "ETH", trades[1].Coin)

	assert.Equal(t, http.StatusBadRequest, get(t, handler, "/api/trades", nil))
	assert.Equal(t, http.StatusBadRequest, get(t, handler, "/api/trades?model_id=x", nil))
}

func TestSnapshotsAndConversations(t *testing.T) {
	_, db, handler := setupHandler(t)
	require.NoError(t, db.Create(&[]models.PortfolioSnapshot{
		{ModelID: 1, CycleID: "c1", TotalEquity: 10000, CreatedAt: time.Now().Add(-time.Minute)},
		{ModelID: 1, CycleID: "c2", TotalEquity: 10100, CreatedAt: time.Now()},
	}).Error)
	require.NoError(t, db.Create(&[]models.Conversation{
		{ModelID: 1, CycleID: "c1", State: "completed"},
		{ModelID: 1, CycleID: "c2", State: "timeout"},
	}).Error)

	var snaps []models.PortfolioSnapshot
	require.Equal(t, http.StatusOK, get(t, handler, "/api/snapshots?model_id=1", &snaps))
	require.Len(t, snaps, 2)
	assert.Equal(t, "c1", snaps[0].CycleID)

	var convs []models.Conversation
	require.Equal(t, http.StatusOK, get(t, handler, "/api/conversations?model_id=1&limit=1", &convs))
	require.Len(t, convs, 1)
	assert.Equal(t, "timeout", convs[0].State)

	var none []models.Conversation
	require.Equal(t, http.StatusOK, get(t, handler, "/api/conversations?model_id=2", &none))
	assert.Empty(t, none)
}

func TestModelsHandler(t *testing.T) {
	_, db, handler := setupHandler(t)
	require.NoError(t, db.Create(&models.Model{Name: "alpha", Mode: "simulated", Coins: "BTC", InitialCapital: 1000}).Error)

	var all []models.Model
	require.Equal(t, http.StatusOK, get(t, handler, "/api/models", &all))
	require.Len(t, all, 1)
	assert.Equal(t, "alpha", all[0].Name)
}
