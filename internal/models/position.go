package models

import (
	"time"

	"gorm.io/gorm"
)

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Sign is +1 for long and -1 for short.
func (s Side) Sign() float64 {
	if s == SideShort {
		return -1
	}
	return 1
}

// Position is an open position of one model in one coin.
// There is at most one row per (model, coin); the row is removed when the
// quantity reaches zero.
type Position struct {
	gorm.Model
	ModelID  uint      `gorm:"uniqueIndex:idx_model_coin;not null" json:"model_id"`
	Coin     string    `gorm:"uniqueIndex:idx_model_coin;not null" json:"coin"`
	Side     Side      `gorm:"not null" json:"side"`
	Quantity float64   `gorm:"not null" json:"quantity"`
	AvgEntry float64   `gorm:"not null" json:"avg_entry"`
	Leverage int       `gorm:"not null;default:1" json:"leverage"`
	OpenedAt time.Time `json:"opened_at"`
}

// Margin is the cash locked by the position.
func (p Position) Margin() float64 {
	lev := p.Leverage
	if lev < 1 {
		lev = 1
	}
	return p.Quantity * p.AvgEntry / float64(lev)
}
