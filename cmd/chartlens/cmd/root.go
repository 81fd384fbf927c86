package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"chartlens/internal/app"
	"chartlens/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "chartlens",
	Short: "Technical-analysis detection engine for crypto candles",
	Long: `chartlens finds trend lines, candlestick patterns, divergences, MACD crossovers
and support/resistance levels in OHLCV candles.

Candles come from Binance USD-M futures, a local cache, or a CSV file.

Examples:
  chartlens analyze divergence --symbol BTCUSDT --interval 1h --from 2024-01-01
  chartlens analyze patterns --file candles.csv
  chartlens scan --symbol ETHUSDT --interval 4h
  chartlens serve --config chartlens.toml`,
	SilenceUsage: true,
}

var (
	configPath string
	logLevel   string
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (.toml, .yaml); defaults plus CHARTLENS_* env when empty")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

// withApp builds the application, hands it to fn and closes it afterwards.
// SIGINT/SIGTERM cancel ctx.
func withApp(fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
