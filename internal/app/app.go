package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tuscoin/internal/alerting"
	"tuscoin/internal/config"
	"tuscoin/internal/oracle"
	"tuscoin/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	if a.Config.Alerting.Enabled {
		return alerting.NewLogNotifier(a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if !a.Config.Database.Enabled() {
		return nil, nil, nil
	}

	store, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

func (a *App) oracleOptions() oracle.Options {
	cfg := a.Config.Oracle
	opts := oracle.DefaultOptions()
	opts.InitialPrice = decimal.NewFromFloat(cfg.InitialPrice)
	opts.MinPrice = decimal.NewFromFloat(cfg.MinPrice)
	opts.MaxPrice = decimal.NewFromFloat(cfg.MaxPrice)
	opts.MaxStep = decimal.NewFromFloat(cfg.MaxStep)
	opts.RetentionDays = cfg.RetentionDays
	opts.LegacyDays = cfg.LegacyDays
	return opts
}

func (a *App) cryptoRatios() (btc, eth decimal.Decimal, err error) {
	btc, err = decimal.NewFromString(a.Config.Rates.BTCPerCoin)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("rates.btc_per_coin: %w", err)
	}
	eth, err = decimal.NewFromString(a.Config.Rates.ETHPerCoin)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("rates.eth_per_coin: %w", err)
	}
	return btc, eth, nil
}

// ExportOptions hold parameters for exporting price history.
type ExportOptions struct {
	From         *time.Time
	To           *time.Time
	PNGPath      string
	CSVPath      string
	PortfolioPNG string
	MaxPoints    int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit  int
	Alerts bool
	Ledger bool
}

// BackfillOptions configure the archive backfill job.
type BackfillOptions struct {
	Days    int
	DryRun  bool
	Workers int
}
