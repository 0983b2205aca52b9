package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Execution modes a model can trade in.
const (
	ModeSimulated = "simulated"
	ModeLive      = "live"
)

// Config holds all configuration for the application.
type Config struct {
	Binance  Binance       `mapstructure:"binance"`
	AI       AI            `mapstructure:"ai"`
	Engine   Engine        `mapstructure:"engine"`
	Logger   Logger        `mapstructure:"logger"`
	Server   Server        `mapstructure:"server"`
	Database Database      `mapstructure:"database"`
	Security Security      `mapstructure:"security"`
	Models   []ModelConfig `mapstructure:"models"`
}

// Binance holds the configuration for the Binance futures API.
type Binance struct {
	// BaseURL replaces the production and testnet endpoints when set.
	BaseURL        string  `mapstructure:"base_url"`
	QuoteAsset     string  `mapstructure:"quote_asset"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
	MarketRetries  int     `mapstructure:"market_retries"`
	// IndicatorDays is the number of daily klines fetched for the technical
	// indicators of each quote. Zero disables them.
	IndicatorDays int `mapstructure:"indicator_days"`
}

// AI holds the defaults for the completion API clients.
type AI struct {
	BaseURL        string  `mapstructure:"base_url"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	Attempts       int     `mapstructure:"attempts"`
	RetryDelayMs   int     `mapstructure:"retry_delay_ms"`
	Temperature    float64 `mapstructure:"temperature"`
	MaxTokens      int     `mapstructure:"max_tokens"`
	RecentTrades   int     `mapstructure:"recent_trades"`
	RateLimit      float64 `mapstructure:"rate_limit"`
}

// Engine holds the cycle orchestration settings.
type Engine struct {
	CycleTimeoutSeconds int `mapstructure:"cycle_timeout_seconds"`
	ExecutionAttempts   int `mapstructure:"execution_attempts"`
	BackoffBaseMs       int `mapstructure:"backoff_base_ms"`
	BackoffMaxMs        int `mapstructure:"backoff_max_ms"`
	SyncIntervalSeconds int `mapstructure:"sync_interval_seconds"`
}

// Server holds the configuration for the HTTP servers.
type Server struct {
	Port   int `mapstructure:"port"`
	UIPort int `mapstructure:"ui_port"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Security holds the secret used to decrypt stored credentials.
type Security struct {
	SecretKey string `mapstructure:"secret_key"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ModelConfig describes one trading model: an AI source paired with an
// execution target.
type ModelConfig struct {
	Name            string   `mapstructure:"name"`
	InitialCapital  float64  `mapstructure:"initial_capital"`
	Mode            string   `mapstructure:"mode"`
	Sandbox         *bool    `mapstructure:"sandbox"`
	Coins           []string `mapstructure:"coins"`
	IntervalSeconds int      `mapstructure:"interval_seconds"`
	AutoTrading     *bool    `mapstructure:"auto_trading"`
	SystemPrompt    string   `mapstructure:"system_prompt"`

	AIBaseURL string `mapstructure:"ai_base_url"`
	AIModel   string `mapstructure:"ai_model"`
	// AIKey and ExchangeCredential are stored encrypted, see internal/credentials.
	AIKey              string `mapstructure:"ai_key"`
	ExchangeCredential string `mapstructure:"exchange_credential"`

	Risk Risk `mapstructure:"risk"`
}

// Risk is the per-model risk policy. Nil toggles mean "enabled".
type Risk struct {
	MaxPositions         int     `mapstructure:"max_positions"`
	PositionLimitEnabled *bool   `mapstructure:"position_limit_enabled"`
	MaxRiskPerTrade      float64 `mapstructure:"max_risk_per_trade"`
	RiskLimitEnabled     *bool   `mapstructure:"risk_limit_enabled"`
	MaxLeverage          int     `mapstructure:"max_leverage"`
	LeverageCapEnabled   *bool   `mapstructure:"leverage_cap_enabled"`
	StopLossPct          float64 `mapstructure:"stop_loss_pct"`
	StopLossEnabled      *bool   `mapstructure:"stop_loss_enabled"`
	TakeProfitPct        float64 `mapstructure:"take_profit_pct"`
	TakeProfitEnabled    *bool   `mapstructure:"take_profit_enabled"`
}

// DefaultCoins is the tracked coin set used when a model lists none.
var DefaultCoins = []string{"BTC", "ETH", "SOL", "BNB", "XRP", "DOGE"}

// ApplyDefaults fills zero values of a model config. viper defaults do not
// reach into list elements, so this runs after Unmarshal.
func (m *ModelConfig) ApplyDefaults() {
	if m.InitialCapital <= 0 {
		m.InitialCapital = 10000
	}
	if m.Mode == "" {
		m.Mode = ModeSimulated
	}
	if m.Sandbox == nil {
		m.Sandbox = Bool(true)
	}
	if len(m.Coins) == 0 {
		m.Coins = append([]string(nil), DefaultCoins...)
	}
	for i, c := range m.Coins {
		m.Coins[i] = strings.ToUpper(strings.TrimSpace(c))
	}
	if m.IntervalSeconds <= 0 {
		m.IntervalSeconds = 180
	}
	if m.AutoTrading == nil {
		m.AutoTrading = Bool(true)
	}
	if m.Risk.MaxPositions <= 0 {
		m.Risk.MaxPositions = 3
	}
	if m.Risk.MaxRiskPerTrade <= 0 {
		m.Risk.MaxRiskPerTrade = 0.05
	}
	if m.Risk.MaxLeverage <= 0 {
		m.Risk.MaxLeverage = 20
	}
	if m.Risk.StopLossPct <= 0 {
		m.Risk.StopLossPct = 0.05
	}
	if m.Risk.TakeProfitPct <= 0 {
		m.Risk.TakeProfitPct = 0.15
	}
}

// Interval returns the trading cadence.
func (m ModelConfig) Interval() time.Duration {
	return time.Duration(m.IntervalSeconds) * time.Second
}

// Enabled reports a toggle value, treating nil as enabled.
func Enabled(b *bool) bool {
	return b == nil || *b
}

// Bool returns a pointer to b.
func Bool(b bool) *bool {
	return &b
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yml")

	// Allow environment variables to override config file
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err = v.ReadInConfig(); err != nil {
		return
	}

	if err = v.Unmarshal(&config); err != nil {
		return
	}
	for i := range config.Models {
		config.Models[i].ApplyDefaults()
	}
	return
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("binance.quote_asset", "USDT")
	v.SetDefault("binance.rate_limit", 20) // requests per second
	v.SetDefault("binance.rate_limit_burst", 5)
	v.SetDefault("binance.market_retries", 3)
	v.SetDefault("binance.indicator_days", 15)

	v.SetDefault("ai.base_url", "https://api.openai.com")
	v.SetDefault("ai.timeout_seconds", 60)
	v.SetDefault("ai.attempts", 2)
	v.SetDefault("ai.retry_delay_ms", 1000)
	v.SetDefault("ai.temperature", 0.7)
	v.SetDefault("ai.max_tokens", 2000)
	v.SetDefault("ai.recent_trades", 10)
	v.SetDefault("ai.rate_limit", 2)

	v.SetDefault("engine.cycle_timeout_seconds", 300)
	v.SetDefault("engine.execution_attempts", 3)
	v.SetDefault("engine.backoff_base_ms", 500)
	v.SetDefault("engine.backoff_max_ms", 8000)
	v.SetDefault("engine.sync_interval_seconds", 60)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.ui_port", 8081)
	v.SetDefault("database.dsn", "trading_bot.db")
}
