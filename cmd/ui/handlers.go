package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"ai-trade-bot-go/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultLimit = 100

// APIHandler holds dependencies for the API endpoints.
type APIHandler struct {
	log *zap.Logger
	db  *gorm.DB
	now func() time.Time
}

// NewAPIHandler creates a new APIHandler.
func NewAPIHandler(log *zap.Logger, db *gorm.DB) *APIHandler {
	return &APIHandler{log: log, db: db, now: time.Now}
}

// Routes registers the dashboard endpoints on mux.
func (h *APIHandler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/models", h.ModelsHandler)
	mux.HandleFunc("GET /api/trades", h.TradesHandler)
	mux.HandleFunc("GET /api/statistics", h.StatisticsHandler)
	mux.HandleFunc("GET /api/snapshots", h.SnapshotsHandler)
	mux.HandleFunc("GET /api/conversations", h.ConversationsHandler)
}

// ModelsHandler lists the configured models.
func (h *APIHandler) ModelsHandler(w http.ResponseWriter, r *http.Request) {
	var all []models.Model
	if err := h.db.WithContext(r.Context()).Order("id").Find(&all).Error; err != nil {
		h.fail(w, "Failed to get models", err)
		return
	}
	h.writeJSON(w, all)
}

// TradesHandler returns the trades of a model, most recent first.
func (h *APIHandler) TradesHandler(w http.ResponseWriter, r *http.Request) {
	q, ok := h.scoped(w, r)
	if !ok {
		return
	}
	var trades []models.Trade
	if err := q.Order("timestamp desc").Limit(limit(r)).Find(&trades).Error; err != nil {
		h.fail(w, "Failed to get trades", err)
		return
	}
	h.writeJSON(w, trades)
}

// StatsDetail holds calculated statistics for a given period.
type StatsDetail struct {
	TotalTrades      int64   `json:"total_trades"`
	ProfitableTrades int64   `json:"profitable_trades"`
	WinRate          float64 `json:"win_rate"`
	TotalProfit      float64 `json:"total_profit"`
}

func (s *StatsDetail) add(t models.Trade) {
	s.TotalTrades++
	if t.RealizedPnL > 0 {
		s.ProfitableTrades++
	}
	s.TotalProfit += t.RealizedPnL
}

func (s *StatsDetail) finish() {
	if s.TotalTrades > 0 {
		s.WinRate = float64(s.ProfitableTrades) / float64(s.TotalTrades)
	}
}

// StatisticsResponse is the structure for the /api/statistics endpoint.
type StatisticsResponse struct {
	Since24h StatsDetail `json:"since_24h"`
	AllTime  StatsDetail `json:"all_time"`
}

// StatisticsHandler calculates win rate and realized profit over closing
// trades.
func (h *APIHandler) StatisticsHandler(w http.ResponseWriter, r *http.Request) {
	q, ok := h.scoped(w, r)
	if !ok {
		return
	}
	var closes []models.Trade
	if err := q.Where("signal = ?", models.SignalClose).Find(&closes).Error; err != nil {
		h.fail(w, "Failed to calculate statistics", err)
		return
	}

	since24h := h.now().Add(-24 * time.Hour)
	var resp StatisticsResponse
	for _, t := range closes {
		resp.AllTime.add(t)
		if t.Timestamp.After(since24h) {
			resp.Since24h.add(t)
		}
	}
	resp.AllTime.finish()
	resp.Since24h.finish()
	h.writeJSON(w, resp)
}

// SnapshotsHandler returns the account value history of a model, oldest first.
func (h *APIHandler) SnapshotsHandler(w http.ResponseWriter, r *http.Request) {
	q, ok := h.scoped(w, r)
	if !ok {
		return
	}
	var snaps []models.PortfolioSnapshot
	if err := q.Order("created_at asc").Find(&snaps).Error; err != nil {
		h.fail(w, "Failed to get snapshots", err)
		return
	}
	h.writeJSON(w, snaps)
}

// ConversationsHandler returns recent cycle records of a model.
func (h *APIHandler) ConversationsHandler(w http.ResponseWriter, r *http.Request) {
	q, ok := h.scoped(w, r)
	if !ok {
		return
	}
	var convs []models.Conversation
	if err := q.Order("id desc").Limit(limit(r)).Find(&convs).Error; err != nil {
		h.fail(w, "Failed to get conversations", err)
		return
	}
	h.writeJSON(w, convs)
}

// scoped returns a query filtered on the model_id parameter.
func (h *APIHandler) scoped(w http.ResponseWriter, r *http.Request) (*gorm.DB, bool) {
	id, err := strconv.ParseUint(r.URL.Query().Get("model_id"), 10, 64)
	if err != nil || id == 0 {
		http.Error(w, "model_id is required", http.StatusBadRequest)
		return nil, false
	}
	return h.db.WithContext(r.Context()).Where("model_id = ?", id), true
}

func limit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 || n > 1000 {
		return defaultLimit
	}
	return n
}

func (h *APIHandler) fail(w http.ResponseWriter, msg string, err error) {
	h.log.Error(msg, zap.Error(err))
	http.Error(w, msg, http.StatusInternalServerError)
}

func (h *APIHandler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to write response", zap.Error(err))
	}
}
