// Package api exposes the ledger, prices and session over HTTP for the UI.
package api

import (
	"context"
	"iter"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tuscoin/internal/asset"
	"tuscoin/internal/engine"
	"tuscoin/internal/ledger"
	"tuscoin/internal/oracle"
	"tuscoin/internal/rates"
	"tuscoin/internal/session"
)

// Trader runs ledger operations.
type Trader interface {
	Buy(ctx context.Context, fiat decimal.Decimal) (engine.Result, error)
	Sell(ctx context.Context, coins decimal.Decimal) (engine.Result, error)
	Exchange(ctx context.Context, from asset.Asset, amount decimal.Decimal, to asset.Asset) (engine.Result, error)
	Deposit(ctx context.Context, fiat decimal.Decimal) (ledger.Account, error)
}

// PriceFeed reads the oracle.
type PriceFeed interface {
	CurrentPrice() decimal.Decimal
	History(days int) iter.Seq[oracle.PriceSample]
}

// RateSource freezes the current rates.
type RateSource interface {
	Snapshot() rates.Snapshot
}

// Sessions manages authentication.
type Sessions interface {
	State() session.State
	Login(ctx context.Context, email, password string) (session.State, error)
	Logout(ctx context.Context) error
	Register(ctx context.Context, username, email, password string) error
}

// TickerControl pauses and resumes the price ticker.
type TickerControl interface {
	Pause() bool
	Resume() bool
	Running() bool
}

// Deps are the collaborators the handlers use. Ticker may be nil.
type Deps struct {
	Trader        Trader
	Ledger        ledger.Store
	Prices        PriceFeed
	Rates         RateSource
	Sessions      Sessions
	Ticker        TickerControl
	RetentionDays int
	Logger        zerolog.Logger
}

// Server holds the handlers' dependencies.
type Server struct {
	deps   Deps
	logger zerolog.Logger
}

// New builds the fiber application with every route mounted under /api.
func New(deps Deps, allowOrigins []string) *fiber.App {
	s := &Server{deps: deps, logger: deps.Logger.With().Str("component", "api").Logger()}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	app.Use(cors.New(corsConfig(allowOrigins)))

	r := app.Group("/api")
	r.Get("/price", s.getPrice)
	r.Get("/price/history", s.getPriceHistory)
	r.Get("/rates", s.getRates)
	r.Get("/quote", s.getQuote)
	r.Get("/account", s.getAccount)
	r.Get("/transactions", s.getTransactions)

	r.Post("/deposit", s.postDeposit)
	r.Post("/buy", s.postBuy)
	r.Post("/sell", s.postSell)
	r.Post("/exchange", s.postExchange)

	r.Get("/auth", s.getAuth)
	r.Post("/auth/register", s.postRegister)
	r.Post("/auth/login", s.postLogin)
	r.Post("/auth/logout", s.postLogout)

	r.Get("/ticker", s.getTicker)
	r.Post("/ticker/pause", s.postTickerPause)
	r.Post("/ticker/resume", s.postTickerResume)

	return app
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.ConfigDefault
	if len(origins) > 0 {
		cfg.AllowOrigins = strings.Join(origins, ",")
	}
	return cfg
}
