package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ai-trade-bot-go/internal/trader"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduled decision loops and the control API",
	RunE:  runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	a, err := bootstrap()
	if err != nil {
		return err
	}
	log := a.log
	defer log.Sync()

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	if _, err := a.market.GetExchangeInfo(ctx); err != nil {
		log.Warn("Binance API not reachable, cycles will fail until it is", zap.Error(err))
	} else {
		log.Info("Successfully connected to Binance API.")
	}

	api := trader.NewAPIServer(a.engine, a.cfg.Server.Port, a.registry, log)
	api.Start()

	if err := a.engine.Run(ctx); err != nil {
		log.Error("Trading engine stopped", zap.Error(err))
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := api.Stop(shutdownCtx); err != nil {
		log.Error("API server shutdown failed", zap.Error(err))
	}

	log.Info("Bot has been shut down.")
	return nil
}
