package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Model is a configured trading account: one AI decision source paired with
// one execution target. Rows are written from configuration; the engine only
// touches the Live* status fields.
type Model struct {
	gorm.Model
	Name            string  `gorm:"uniqueIndex;not null" json:"name"`
	InitialCapital  float64 `gorm:"not null" json:"initial_capital"`
	Mode            string  `gorm:"not null" json:"mode"`
	Sandbox         bool    `json:"sandbox"`
	Coins           string  `gorm:"not null" json:"coins"` // comma separated
	IntervalSeconds int     `json:"interval_seconds"`
	AutoTrading     bool    `json:"auto_trading"`
	SystemPrompt    string  `json:"system_prompt"`

	AIBaseURL          string `json:"ai_base_url"`
	AIModel            string `json:"ai_model"`
	AIKey              string `json:"-"`
	ExchangeCredential string `json:"-"`

	MaxPositions         int     `json:"max_positions"`
	PositionLimitEnabled bool    `json:"position_limit_enabled"`
	MaxRiskPerTrade      float64 `json:"max_risk_per_trade"`
	RiskLimitEnabled     bool    `json:"risk_limit_enabled"`
	MaxLeverage          int     `json:"max_leverage"`
	LeverageCapEnabled   bool    `json:"leverage_cap_enabled"`
	StopLossPct          float64 `json:"stop_loss_pct"`
	StopLossEnabled      bool    `json:"stop_loss_enabled"`
	TakeProfitPct        float64 `json:"take_profit_pct"`
	TakeProfitEnabled    bool    `json:"take_profit_enabled"`

	LiveDisabled       bool   `json:"live_disabled"`
	LiveDisabledReason string `json:"live_disabled_reason,omitempty"`
}

// CoinList returns the tracked coins.
func (m Model) CoinList() []string {
	var coins []string
	for _, c := range strings.Split(m.Coins, ",") {
		if c = strings.TrimSpace(c); c != "" {
			coins = append(coins, c)
		}
	}
	return coins
}

// Interval returns the trading cadence.
func (m Model) Interval() time.Duration {
	return time.Duration(m.IntervalSeconds) * time.Second
}

// IsLive reports whether orders go to a real exchange account.
func (m Model) IsLive() bool {
	return m.Mode == "live"
}
