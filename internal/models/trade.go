package models

import "time"

// Signal is the kind of state change an order applies.
type Signal string

const (
	SignalOpenLong  Signal = "open_long"
	SignalOpenShort Signal = "open_short"
	SignalClose     Signal = "close"
)

// IsOpen reports whether the signal opens or adds to a position.
func (s Signal) IsOpen() bool {
	return s == SignalOpenLong || s == SignalOpenShort
}

// Side returns the position side an open signal produces.
func (s Signal) Side() Side {
	if s == SignalOpenShort {
		return SideShort
	}
	return SideLong
}

// Trade reasons.
const (
	ReasonAI         = "ai"
	ReasonStopLoss   = "stop_loss"
	ReasonTakeProfit = "take_profit"
	ReasonManual     = "manual"
)

// Trade is an executed state change. Rows are append-only.
type Trade struct {
	ID          uint      `gorm:"primarykey" json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	ModelID     uint      `gorm:"index;not null" json:"model_id"`
	OrderID     string    `gorm:"uniqueIndex;not null" json:"order_id"`
	Coin        string    `gorm:"not null" json:"coin"`
	Signal      Signal    `gorm:"not null" json:"signal"`
	Side        Side      `gorm:"not null" json:"side"`
	Quantity    float64   `json:"quantity"`
	Price       float64   `json:"price"`
	Leverage    int       `json:"leverage"`
	RealizedPnL float64   `gorm:"column:realized_pnl" json:"realized_pnl"`
	Reason      string    `json:"reason"`
	Simulated   bool      `json:"simulated"`
	Timestamp   time.Time `gorm:"index" json:"timestamp"`
}
