package app

import (
	"context"
	"fmt"
	"time"

	"tuscoin/internal/broadcast"
	"tuscoin/internal/engine"
	"tuscoin/internal/localstore"
	"tuscoin/internal/oracle"
	"tuscoin/internal/rates"
	"tuscoin/internal/remote"
	"tuscoin/internal/service"
	"tuscoin/internal/session"
	"tuscoin/internal/storage"
)

// runtime is the object graph every command works against.
type runtime struct {
	kv       *localstore.Store
	bus      *broadcast.Broadcaster
	oracle   *oracle.Oracle
	rates    *rates.Table
	sessions *session.Manager
	engine   *engine.Engine
	store    *storage.Store

	closers []func()
}

// openRuntime wires the local store, price oracle, rates, session and engine.
// The archive is attached when a database is configured.
func (a *App) openRuntime(ctx context.Context) (*runtime, error) {
	kv, err := localstore.Open(a.Config.Local.Path)
	if err != nil {
		return nil, err
	}
	rt := &runtime{kv: kv, bus: broadcast.New(a.Logger)}
	rt.closers = append(rt.closers, func() {
		if err := kv.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("close local store")
		}
	})

	fail := func(err error) (*runtime, error) {
		rt.Close()
		return nil, err
	}

	rt.oracle, err = oracle.New(ctx, a.oracleOptions(), kv, rt.bus, a.Logger)
	if err != nil {
		return fail(fmt.Errorf("load price oracle: %w", err))
	}

	btc, eth, err := a.cryptoRatios()
	if err != nil {
		return fail(err)
	}
	rt.rates = rates.New(rt.oracle, btc, eth)

	var client *remote.Client
	if a.Config.Remote.Enabled() {
		client = remote.NewClient(a.Config.Remote.BaseURL, a.Config.Remote.Timeout, a.Logger)
	}
	rt.sessions = session.NewManager(session.Options{
		KV:          kv,
		Remote:      client,
		Notifier:    rt.bus,
		SyncTimeout: a.Config.Remote.SyncTimeout,
		Logger:      a.Logger,
	})
	if err := rt.sessions.Restore(ctx); err != nil {
		return fail(err)
	}

	rt.engine, err = engine.New(engine.Options{
		Store:    rt.sessions,
		Rates:    rt.rates,
		Notifier: rt.bus,
		Logger:   a.Logger,
	})
	if err != nil {
		return fail(err)
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return fail(err)
	}
	if store != nil {
		rt.store = store
		rt.closers = append(rt.closers, closeStore)
		archiver := service.NewLedgerArchiver(store, rt.owner, 5*time.Second, a.Logger)
		archiver.Attach(rt.bus)
	}

	return rt, nil
}

// owner names whose ledger is active, for archived rows.
func (rt *runtime) owner() string {
	if st := rt.sessions.State(); st.User != nil {
		return st.User.ID
	}
	return service.AnonymousOwner
}

// Close drains remote sync calls and releases stores in reverse order.
func (rt *runtime) Close() {
	if rt.sessions != nil {
		rt.sessions.Wait()
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}
