package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tuscoin/internal/asset"
	"tuscoin/internal/broadcast"
	"tuscoin/internal/ledger"
	"tuscoin/internal/rates"
)

// RateSource freezes the exchange rates for one operation.
type RateSource interface {
	Snapshot() rates.Snapshot
}

// Options configures an Engine.
type Options struct {
	Store    ledger.Store
	Rates    RateSource
	Notifier broadcast.Notifier
	Logger   zerolog.Logger
	Now      func() time.Time
	NewID    func() string
}

// Engine validates and applies ledger operations. Mutations are serialized;
// subscribers notified from inside an operation must not call back into the
// engine's mutators.
type Engine struct {
	store    ledger.Store
	rates    RateSource
	notifier broadcast.Notifier
	logger   zerolog.Logger
	now      func() time.Time
	newID    func() string

	mu sync.Mutex
}

// New constructs an Engine.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("engine: store is required")
	}
	if opts.Rates == nil {
		return nil, errors.New("engine: rate source is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.NewString() }
	}
	return &Engine{
		store:    opts.Store,
		rates:    opts.Rates,
		notifier: opts.Notifier,
		logger:   opts.Logger.With().Str("component", "engine").Logger(),
		now:      opts.Now,
		newID:    opts.NewID,
	}, nil
}

// Result is what a successful operation hands back.
type Result struct {
	Account     ledger.Account
	Transaction *ledger.Transaction
}

// Buy spends fiat on coins at the current price.
func (e *Engine) Buy(ctx context.Context, fiat decimal.Decimal) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	log := e.logger.With().Str("op", "buy").Str("fiat", fiat.String()).Logger()

	if fiat.Sign() <= 0 {
		return e.reject(log, &ledger.InvalidAmountError{Asset: asset.Euro, Amount: fiat, Minimum: asset.Euro.Minimum()})
	}
	store, release, err := e.pin()
	if err != nil {
		log.Error().Err(err).Msg("ledger unavailable")
		return Result{}, err
	}
	defer release()
	acc, err := store.Read(ctx)
	if err != nil {
		log.Error().Err(err).Msg("read account failed")
		return Result{}, err
	}
	if fiat.GreaterThan(acc.Fiat) {
		return e.reject(log, &ledger.InsufficientFundsError{Asset: asset.Euro, Requested: fiat, Available: acc.Fiat})
	}

	price := e.rates.Snapshot().Price
	coins := fiat.DivRound(price, 18)
	tx := ledger.Transaction{
		Kind:       ledger.KindBuy,
		FiatAmount: fiat,
		CoinAmount: coins,
		UnitPrice:  price,
	}
	delta := ledger.Delta{asset.Euro: fiat.Neg(), asset.Arvirium: coins}
	return e.commit(ctx, log, store, delta, tx)
}

// Sell converts coins back into fiat at the current price.
func (e *Engine) Sell(ctx context.Context, coins decimal.Decimal) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	log := e.logger.With().Str("op", "sell").Str("coins", coins.String()).Logger()

	minimum := asset.Arvirium.Minimum()
	if coins.Sign() <= 0 || coins.LessThan(minimum) {
		return e.reject(log, &ledger.InvalidAmountError{Asset: asset.Arvirium, Amount: coins, Minimum: minimum})
	}
	store, release, err := e.pin()
	if err != nil {
		log.Error().Err(err).Msg("ledger unavailable")
		return Result{}, err
	}
	defer release()
	acc, err := store.Read(ctx)
	if err != nil {
		log.Error().Err(err).Msg("read account failed")
		return Result{}, err
	}
	if coins.GreaterThan(acc.Coin) {
		return e.reject(log, &ledger.InsufficientFundsError{Asset: asset.Arvirium, Requested: coins, Available: acc.Coin})
	}

	price := e.rates.Snapshot().Price
	fiat := coins.Mul(price)
	tx := ledger.Transaction{
		Kind:       ledger.KindSell,
		FiatAmount: fiat,
		CoinAmount: coins,
		UnitPrice:  price,
	}
	delta := ledger.Delta{asset.Arvirium: coins.Neg(), asset.Euro: fiat}
	return e.commit(ctx, log, store, delta, tx)
}

// Exchange converts amount of from into to through euro.
func (e *Engine) Exchange(ctx context.Context, from asset.Asset, amount decimal.Decimal, to asset.Asset) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	log := e.logger.With().
		Str("op", "exchange").
		Str("from", from.Symbol()).
		Str("to", to.Symbol()).
		Str("amount", amount.String()).
		Logger()

	if !from.Valid() || !to.Valid() {
		return e.reject(log, fmt.Errorf("exchange: unknown asset %q or %q", from, to))
	}
	if from == to {
		return e.reject(log, &ledger.SameAssetError{Asset: from})
	}
	if amount.Sign() <= 0 || amount.LessThan(from.Minimum()) {
		return e.reject(log, &ledger.InvalidAmountError{Asset: from, Amount: amount, Minimum: from.Minimum()})
	}
	store, release, err := e.pin()
	if err != nil {
		log.Error().Err(err).Msg("ledger unavailable")
		return Result{}, err
	}
	defer release()
	acc, err := store.Read(ctx)
	if err != nil {
		log.Error().Err(err).Msg("read account failed")
		return Result{}, err
	}
	if available := acc.BalanceOf(from); amount.GreaterThan(available) {
		return e.reject(log, &ledger.InsufficientFundsError{Asset: from, Requested: amount, Available: available})
	}

	snap := e.rates.Snapshot()
	result := snap.Convert(amount, from, to)
	if result.LessThan(to.Minimum()) {
		return e.reject(log, &ledger.DustResultError{Asset: to, Amount: result, Minimum: to.Minimum()})
	}

	tx := ledger.Transaction{
		Kind:         ledger.KindExchange,
		SourceAsset:  from,
		SourceAmount: amount,
		TargetAsset:  to,
		TargetAmount: result,
		UnitPrice:    snap.Price,
	}
	delta := ledger.Delta{from: amount.Neg(), to: result}
	return e.commit(ctx, log, store, delta, tx)
}

// Deposit tops up the euro balance. Deposits are not logged as transactions.
func (e *Engine) Deposit(ctx context.Context, fiat decimal.Decimal) (ledger.Account, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	log := e.logger.With().Str("op", "deposit").Str("fiat", fiat.String()).Logger()

	if fiat.Sign() <= 0 {
		_, err := e.reject(log, &ledger.InvalidAmountError{Asset: asset.Euro, Amount: fiat, Minimum: asset.Euro.Minimum()})
		return ledger.Account{}, err
	}
	store, release, err := e.pin()
	if err != nil {
		log.Error().Err(err).Msg("ledger unavailable")
		return ledger.Account{}, err
	}
	defer release()
	acc, err := store.ApplyDelta(ctx, ledger.Delta{asset.Euro: fiat})
	if err != nil {
		log.Error().Err(err).Msg("deposit failed")
		return ledger.Account{}, err
	}
	log.Info().Str("balance", acc.Fiat.StringFixed(2)).Msg("deposit applied")
	e.publish(broadcast.BalancesChanged, acc)
	return acc, nil
}

// pin resolves the backend once for the whole operation.
func (e *Engine) pin() (ledger.Store, func(), error) {
	if p, ok := e.store.(ledger.Pinner); ok {
		return p.Pin()
	}
	return e.store, func() {}, nil
}

func (e *Engine) commit(ctx context.Context, log zerolog.Logger, store ledger.Store, delta ledger.Delta, tx ledger.Transaction) (Result, error) {
	tx.ID = e.newID()
	tx.Timestamp = e.now().UTC()

	if _, err := store.ApplyDelta(ctx, delta); err != nil {
		log.Error().Err(err).Msg("apply delta failed")
		return Result{}, err
	}
	if err := store.AppendTransaction(ctx, tx); err != nil {
		if _, rerr := store.ApplyDelta(ctx, delta.Inverse()); rerr != nil {
			log.Error().Err(rerr).Msg("failed to revert delta after append failure")
		}
		log.Error().Err(err).Msg("append transaction failed")
		return Result{}, err
	}

	acc, err := store.Read(ctx)
	if err != nil {
		log.Error().Err(err).Msg("read account failed")
		return Result{}, err
	}

	log.Info().Str("tx_id", tx.ID).Msg("operation applied")
	e.publish(broadcast.BalancesChanged, acc)
	e.publish(broadcast.TransactionAdded, tx)
	return Result{Account: acc, Transaction: &tx}, nil
}

func (e *Engine) reject(log zerolog.Logger, err error) (Result, error) {
	log.Warn().Err(err).Msg("operation rejected")
	return Result{}, err
}

func (e *Engine) publish(kind broadcast.Kind, payload any) {
	if e.notifier != nil {
		e.notifier.Publish(kind, payload)
	}
}
