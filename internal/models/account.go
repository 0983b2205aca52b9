package models

import "gorm.io/gorm"

// Account is the cash ledger of a model.
type Account struct {
	gorm.Model
	ModelID     uint    `gorm:"uniqueIndex;not null" json:"model_id"`
	Cash        float64 `gorm:"not null" json:"cash"`
	RealizedPnL float64 `gorm:"column:realized_pnl" json:"realized_pnl"`
}
