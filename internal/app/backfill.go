package app

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"tuscoin/internal/service"
	"tuscoin/internal/storage"
)

// Backfill copies the locally retained price history and the active ledger's
// log into the PostgreSQL archive. Upserts make it safe to repeat.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	if opts.Days <= 0 || opts.Days > a.Config.Oracle.RetentionDays {
		return errors.New("--days 超出本地保留范围")
	}
	if !opts.DryRun && !a.Config.Database.Enabled() {
		return errors.New("database.dsn 未配置，无法回填")
	}
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}

	return a.withRuntime(ctx, func(rt *runtime) error {
		var samples []storage.PriceSample
		previous := decimal.Zero
		for s := range rt.oracle.History(opts.Days) {
			change := decimal.Zero
			if !previous.IsZero() {
				change = s.Price.Sub(previous).Div(previous).Mul(decimal.NewFromInt(100)).Round(4)
			}
			samples = append(samples, storage.PriceSample{
				Bucket:        s.Timestamp,
				Price:         s.Price,
				PreviousPrice: previous,
				ChangePct:     change,
				CreatedAt:     s.Timestamp,
			})
			previous = s.Price
		}

		acc, err := rt.sessions.Read(ctx)
		if err != nil {
			return err
		}
		owner := rt.owner()

		if opts.DryRun {
			a.Logger.Warn().
				Int("samples", len(samples)).
				Int("transactions", len(acc.Transactions)).
				Msg("回填 dry-run：不会写入数据库")
			return nil
		}

		var processed, failed atomic.Int64
		g := new(errgroup.Group)
		g.SetLimit(workers)
		run := func(job func(context.Context) error) {
			g.Go(func() error {
				if err := job(ctx); err != nil {
					failed.Add(1)
					a.Logger.Error().Err(err).Msg("回填失败")
					return nil
				}
				processed.Add(1)
				return nil
			})
		}

		for _, sample := range samples {
			if ctx.Err() != nil {
				break
			}
			run(func(ctx context.Context) error { return rt.store.UpsertPriceSample(ctx, sample) })
		}
		for _, tx := range acc.Transactions {
			if ctx.Err() != nil {
				break
			}
			entry := service.EntryFromTransaction(owner, tx)
			run(func(ctx context.Context) error { return rt.store.ArchiveTransaction(ctx, entry) })
		}
		_ = g.Wait()

		if err := ctx.Err(); err != nil {
			return err
		}
		a.Logger.Info().Int64("processed", processed.Load()).Int64("failed", failed.Load()).Msg("回填完成")
		if failed.Load() > 0 {
			return errors.New("部分记录回填失败，请检查日志")
		}
		return nil
	})
}
