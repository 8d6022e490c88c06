package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"tuscoin/internal/api"
	"tuscoin/internal/broadcast"
	"tuscoin/internal/events/kafka"
	"tuscoin/internal/oracle"
	"tuscoin/internal/scheduler"
	"tuscoin/internal/service"
	"tuscoin/internal/storage"
	"tuscoin/internal/stream"
)

// tickerControl binds pause/resume to the run context.
type tickerControl struct {
	ctx    context.Context
	ticker *scheduler.Ticker
}

func (t tickerControl) Pause() bool   { return t.ticker.Stop() }
func (t tickerControl) Resume() bool  { return t.ticker.Start(t.ctx) }
func (t tickerControl) Running() bool { return t.ticker.Running() }

// Run executes the long-running service: price ticker, HTTP API, websocket
// stream and optional Kafka fan-out.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := a.openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	var sampleStore storage.PriceSampleStore
	var alertStore storage.AlertStore
	if rt.store != nil {
		sampleStore = rt.store
		alertStore = rt.store
	} else {
		a.Logger.Warn().Msg("database.dsn not configured; price archive disabled")
	}

	sched := scheduler.New(scheduler.Options{
		Interval:        a.Config.Scheduler.Interval,
		AlignToStart:    a.Config.Scheduler.AlignToBucket,
		StartupDelay:    a.Config.Scheduler.StartupDelay,
		FireImmediately: a.Config.Scheduler.FireImmediately,
	}, a.Logger)
	svc := service.New(a.Config, sched, rt.oracle, sampleStore, alertStore, a.newNotifier(), a.Logger)
	ticker := scheduler.NewTicker(sched, svc.ProcessTick)

	if a.Config.Kafka.Enabled() {
		publisher := kafka.NewPublisher(a.Config.Kafka, a.Logger)
		sub := publisher.Attach(rt.bus)
		defer func() {
			sub.Unsubscribe()
			if err := publisher.Close(); err != nil {
				a.Logger.Warn().Err(err).Msg("close kafka writer")
			}
		}()
	}

	hub := stream.NewHub(stream.Options{
		AllowOrigins: a.Config.Server.AllowOrigins,
		Snapshot:     rt.snapshotEvents,
		Logger:       a.Logger,
	})
	defer hub.Attach(rt.bus).Unsubscribe()

	httpApp := api.New(api.Deps{
		Trader:        rt.engine,
		Ledger:        rt.sessions,
		Prices:        rt.oracle,
		Rates:         rt.rates,
		Sessions:      rt.sessions,
		Ticker:        tickerControl{ctx: ctx, ticker: ticker},
		RetentionDays: a.Config.Oracle.RetentionDays,
		Logger:        a.Logger,
	}, a.Config.Server.AllowOrigins)

	errCh := make(chan error, 2)
	go func() {
		a.Logger.Info().Str("addr", a.Config.Server.Addr).Msg("api listening")
		errCh <- httpApp.Listen(a.Config.Server.Addr)
	}()
	go func() {
		errCh <- hub.Serve(ctx, a.Config.Server.StreamAddr)
	}()

	ticker.Start(ctx)
	a.Logger.Info().Msg("tuscoin service started")

	select {
	case <-ctx.Done():
	case err = <-errCh:
		if err != nil {
			a.Logger.Error().Err(err).Msg("listener failed")
		}
		cancel()
	}

	ticker.Stop()
	if serr := httpApp.ShutdownWithTimeout(5 * time.Second); serr != nil {
		a.Logger.Warn().Err(serr).Msg("api shutdown")
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.Logger.Info().Msg("tuscoin service stopped")
	return nil
}

// snapshotEvents is what a freshly connected stream client receives.
func (rt *runtime) snapshotEvents() []broadcast.Event {
	now := time.Now().UTC()
	out := []broadcast.Event{
		{Kind: broadcast.AuthChanged, At: now, Payload: rt.sessions.State()},
		{Kind: broadcast.PriceChanged, At: now, Payload: oracle.PriceSample{Timestamp: now, Price: rt.oracle.CurrentPrice()}},
	}
	acc, err := rt.sessions.Read(context.Background())
	if err == nil {
		out = append(out, broadcast.Event{Kind: broadcast.BalancesChanged, At: now, Payload: acc})
	}
	return out
}
