package models

import "time"

// PortfolioSnapshot is one point of a model's account value history.
type PortfolioSnapshot struct {
	ID             uint      `gorm:"primarykey" json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	ModelID        uint      `gorm:"index;not null" json:"model_id"`
	CycleID        string    `gorm:"index" json:"cycle_id"`
	Cash           float64   `json:"cash"`
	MarginUsed     float64   `json:"margin_used"`
	PositionsValue float64   `json:"positions_value"`
	RealizedPnL    float64   `gorm:"column:realized_pnl" json:"realized_pnl"`
	UnrealizedPnL  float64   `gorm:"column:unrealized_pnl" json:"unrealized_pnl"`
	TotalEquity    float64   `json:"total_equity"`
	OpenPositions  int       `json:"open_positions"`
}

// Conversation records the prompt, the AI response and a summary of one cycle.
type Conversation struct {
	ID          uint      `gorm:"primarykey" json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	ModelID     uint      `gorm:"index;not null" json:"model_id"`
	CycleID     string    `gorm:"uniqueIndex" json:"cycle_id"`
	Trigger     string    `json:"trigger"` // scheduled or manual
	State       string    `json:"state"`
	Prompt      string    `gorm:"type:text" json:"prompt"`
	AIResponse  string    `gorm:"type:text" json:"ai_response"`
	SummaryJSON string    `gorm:"type:text" json:"summary_json"`
}
