package database

import (
	"errors"
	"fmt"
	"strings"

	"ai-trade-bot-go/internal/config"
	"ai-trade-bot-go/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDatabase creates a new database connection and performs auto-migration.
func NewDatabase(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// sqlite allows one writer; a single connection keeps ledger transactions serialized.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// AutoMigrate creates or updates the schema. Existing ledger rows are kept.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Model{},
		&models.Account{},
		&models.Position{},
		&models.Trade{},
		&models.PortfolioSnapshot{},
		&models.Conversation{},
	); err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}
	return nil
}

// SeedModels upserts the configured models by name and opens a cash account
// for each new one.
func SeedModels(db *gorm.DB, cfg *config.Config) ([]models.Model, error) {
	seeded := make([]models.Model, 0, len(cfg.Models))
	for _, mc := range cfg.Models {
		mc.ApplyDefaults()
		if mc.Name == "" {
			return nil, errors.New("model without a name in configuration")
		}

		row := FromConfig(mc)
		var existing models.Model
		err := db.Where("name = ?", mc.Name).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := db.Transaction(func(tx *gorm.DB) error {
				if err := tx.Create(&row).Error; err != nil {
					return err
				}
				return tx.Create(&models.Account{ModelID: row.ID, Cash: row.InitialCapital}).Error
			}); err != nil {
				return nil, fmt.Errorf("failed to create model '%s': %w", mc.Name, err)
			}
		case err != nil:
			return nil, fmt.Errorf("failed to look up model '%s': %w", mc.Name, err)
		default:
			row.ID = existing.ID
			row.CreatedAt = existing.CreatedAt
			// A changed credential counts as a reconfiguration and re-arms live trading.
			if existing.ExchangeCredential == row.ExchangeCredential && existing.Mode == row.Mode {
				row.LiveDisabled = existing.LiveDisabled
				row.LiveDisabledReason = existing.LiveDisabledReason
			}
			// Save writes zero values too, so toggles switched off in config stick.
			if err := db.Save(&row).Error; err != nil {
				return nil, fmt.Errorf("failed to update model '%s': %w", mc.Name, err)
			}
		}
		seeded = append(seeded, row)
	}
	return seeded, nil
}

// FromConfig maps a model config to its row.
func FromConfig(mc config.ModelConfig) models.Model {
	return models.Model{
		Name:                 mc.Name,
		InitialCapital:       mc.InitialCapital,
		Mode:                 mc.Mode,
		Sandbox:              config.Enabled(mc.Sandbox),
		Coins:                strings.Join(mc.Coins, ","),
		IntervalSeconds:      mc.IntervalSeconds,
		AutoTrading:          config.Enabled(mc.AutoTrading),
		SystemPrompt:         mc.SystemPrompt,
		AIBaseURL:            mc.AIBaseURL,
		AIModel:              mc.AIModel,
		AIKey:                mc.AIKey,
		ExchangeCredential:   mc.ExchangeCredential,
		MaxPositions:         mc.Risk.MaxPositions,
		PositionLimitEnabled: config.Enabled(mc.Risk.PositionLimitEnabled),
		MaxRiskPerTrade:      mc.Risk.MaxRiskPerTrade,
		RiskLimitEnabled:     config.Enabled(mc.Risk.RiskLimitEnabled),
		MaxLeverage:          mc.Risk.MaxLeverage,
		LeverageCapEnabled:   config.Enabled(mc.Risk.LeverageCapEnabled),
		StopLossPct:          mc.Risk.StopLossPct,
		StopLossEnabled:      config.Enabled(mc.Risk.StopLossEnabled),
		TakeProfitPct:        mc.Risk.TakeProfitPct,
		TakeProfitEnabled:    config.Enabled(mc.Risk.TakeProfitEnabled),
	}
}

// SetLiveDisabled updates the live trading status fields of a model.
func SetLiveDisabled(db *gorm.DB, modelID uint, disabled bool, reason string) error {
	return db.Model(&models.Model{}).Where("id = ?", modelID).
		Updates(map[string]interface{}{"live_disabled": disabled, "live_disabled_reason": reason}).Error
}
