package database

import (
	"testing"

	"ai-trade-bot-go/internal/config"
	"ai-trade-bot-go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedModels(t *testing.T) {
	db, err := NewDatabase("file::memory:")
	require.NoError(t, err)

	cfg := &config.Config{Models: []config.ModelConfig{
		{Name: "alpha", Coins: []string{"btc", "eth"}, InitialCapital: 5000},
		{Name: "beta", Mode: config.ModeLive, ExchangeCredential: "enc-1"},
	}}

	seeded, err := SeedModels(db, cfg)
	require.NoError(t, err)
	require.Len(t, seeded, 2)
	assert.Equal(t, []string{"BTC", "ETH"}, seeded[0].CoinList())
	assert.True(t, seeded[0].StopLossEnabled)
	assert.Equal(t, 20, seeded[0].MaxLeverage)

	var acct models.Account
	require.NoError(t, db.Where("model_id = ?", seeded[0].ID).First(&acct).Error)
	assert.Equal(t, 5000.0, acct.Cash)

	t.Run("ReseedKeepsAccountAndLiveStatus", func(t *testing.T) {
		require.NoError(t, SetLiveDisabled(db, seeded[1].ID, true, "auth"))
		acct.Cash = 1234
		require.NoError(t, db.Save(&acct).Error)

		cfg.Models[0].Risk.StopLossEnabled = config.Bool(false)
		again, err := SeedModels(db, cfg)
		require.NoError(t, err)
		assert.Equal(t, seeded[0].ID, again[0].ID)
		assert.False(t, again[0].StopLossEnabled)
		assert.True(t, again[1].LiveDisabled)

		var count int64
		db.Model(&models.Account{}).Count(&count)
		assert.Equal(t, int64(2), count)
		var reloaded models.Account
		require.NoError(t, db.Where("model_id = ?", seeded[0].ID).First(&reloaded).Error)
		assert.Equal(t, 1234.0, reloaded.Cash)
	})

	t.Run("NewCredentialReenablesLive", func(t *testing.T) {
		cfg.Models[1].ExchangeCredential = "enc-2"
		again, err := SeedModels(db, cfg)
		require.NoError(t, err)
		assert.False(t, again[1].LiveDisabled)
	})
}

func TestSeedModels_RequiresName(t *testing.T) {
	db, err := NewDatabase("file::memory:")
	require.NoError(t, err)
	_, err = SeedModels(db, &config.Config{Models: []config.ModelConfig{{}}})
	assert.Error(t, err)
}
