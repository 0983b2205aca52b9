package main

import (
	"fmt"

	"ai-trade-bot-go/internal/binance"
	"ai-trade-bot-go/internal/config"
	"ai-trade-bot-go/internal/credentials"
	"ai-trade-bot-go/internal/database"
	"ai-trade-bot-go/internal/logger"
	"ai-trade-bot-go/internal/metrics"
	"ai-trade-bot-go/internal/trader"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var configDir string

var rootCmd = &cobra.Command{
	Use:   "trader",
	Short: "AI driven crypto futures trading engine",
	Long: `Trader runs one decision loop per configured model. Every cycle it
fetches market data, asks the model's AI for decisions, validates them
against the model's risk policy and executes them on a simulated ledger
or a Binance futures account.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configDir, "config", "c", "./configs", "directory holding config.yml")
}

// app is the wired application shared by the subcommands.
type app struct {
	cfg      config.Config
	log      *zap.Logger
	db       *gorm.DB
	market   *binance.RestClient
	registry *prometheus.Registry
	engine   *trader.Engine
}

func bootstrap() (*app, error) {
	cfg, err := config.LoadConfig(configDir)
	if err != nil {
		return nil, fmt.Errorf("could not load config: %w", err)
	}

	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		return nil, fmt.Errorf("could not initialize logger: %w", err)
	}
	log.Info("Configuration loaded", zap.Int("models", len(cfg.Models)))

	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := database.SeedModels(db, &cfg); err != nil {
		return nil, err
	}
	log.Info("Database connection successful and schema migrated.")

	var cipher *credentials.Cipher
	if cfg.Security.SecretKey != "" {
		if cipher, err = credentials.NewCipher(cfg.Security.SecretKey); err != nil {
			return nil, err
		}
	} else {
		log.Warn("No secret key configured, stored credentials are read as plaintext")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	met := metrics.NewMetrics(reg)

	// Production market data is public and shared. Sandbox models read
	// quotes through their own testnet client instead.
	market := binance.NewRestClient(&cfg.Binance, binance.Credentials{}, false, log.Named("market"))

	engine := trader.NewEngine(log, &cfg, db, trader.Deps{
		Market:   market,
		Adapters: trader.NewAdapterFactory(&cfg, cipher, market, log),
		Clients:  trader.NewClientFactory(&cfg, cipher, met, log),
		Metrics:  met,
	})

	return &app{
		cfg:      cfg,
		log:      log,
		db:       db,
		market:   market,
		registry: reg,
		engine:   engine,
	}, nil
}
