package app

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"tuscoin/internal/analytics"
	"tuscoin/internal/asset"
	"tuscoin/internal/engine"
	"tuscoin/internal/ledger"
	"tuscoin/internal/service"
	"tuscoin/internal/storage"
)

// withRuntime opens the runtime for a single command.
func (a *App) withRuntime(ctx context.Context, fn func(rt *runtime) error) error {
	rt, err := a.openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt)
}

func parseAmount(raw string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	return v, nil
}

// Balance prints balances, portfolio value and profit/loss.
func (a *App) Balance(ctx context.Context) error {
	return a.withRuntime(ctx, func(rt *runtime) error {
		acc, err := rt.sessions.Read(ctx)
		if err != nil {
			return err
		}
		snap := rt.rates.Snapshot()
		portfolio := analytics.ComputePortfolio(acc, snap)
		pl := analytics.ComputeProfitLoss(acc, snap.Price)

		a.printSession(rt)
		w := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "Asset\tBalance\tValue (EUR)\tShare%")
		for _, h := range portfolio.Holdings {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", h.Symbol, h.Asset.Format(h.Balance), formatDecimal(h.Value, 2), formatDecimal(h.Share, 2))
		}
		fmt.Fprintf(w, "Total\t\t%s\t\n", formatDecimal(portfolio.Total, 2))
		if err := w.Flush(); err != nil {
			return err
		}

		fmt.Fprintf(a.Out, "\nPrice: €%s  Invested: €%s  Sold: €%s  P/L: €%s (%s%%)\n",
			formatDecimal(snap.Price, 2), formatDecimal(pl.Invested, 2), formatDecimal(pl.Sold, 2),
			formatDecimal(pl.Result, 2), formatDecimal(pl.ResultPct, 2))
		return nil
	})
}

// Deposit tops up the euro balance.
func (a *App) Deposit(ctx context.Context, raw string) error {
	amount, err := parseAmount(raw)
	if err != nil {
		return err
	}
	return a.withRuntime(ctx, func(rt *runtime) error {
		acc, err := rt.engine.Deposit(ctx, amount)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "Deposited €%s. Balance: €%s\n", formatDecimal(amount, 2), formatDecimal(acc.Fiat, 2))
		return nil
	})
}

// Buy spends euro on coins.
func (a *App) Buy(ctx context.Context, raw string) error {
	amount, err := parseAmount(raw)
	if err != nil {
		return err
	}
	return a.withRuntime(ctx, func(rt *runtime) error {
		res, err := rt.engine.Buy(ctx, amount)
		if err != nil {
			return err
		}
		return a.printResult(res)
	})
}

// Sell converts coins back into euro.
func (a *App) Sell(ctx context.Context, raw string) error {
	coins, err := parseAmount(raw)
	if err != nil {
		return err
	}
	return a.withRuntime(ctx, func(rt *runtime) error {
		res, err := rt.engine.Sell(ctx, coins)
		if err != nil {
			return err
		}
		return a.printResult(res)
	})
}

// Exchange converts between any two assets.
func (a *App) Exchange(ctx context.Context, fromRaw, toRaw, raw string) error {
	from, to, amount, err := parseConversion(fromRaw, toRaw, raw)
	if err != nil {
		return err
	}
	return a.withRuntime(ctx, func(rt *runtime) error {
		res, err := rt.engine.Exchange(ctx, from, amount, to)
		if err != nil {
			return err
		}
		return a.printResult(res)
	})
}

// Quote previews a conversion.
func (a *App) Quote(ctx context.Context, fromRaw, toRaw, raw string) error {
	from, to, amount, err := parseConversion(fromRaw, toRaw, raw)
	if err != nil {
		return err
	}
	return a.withRuntime(ctx, func(rt *runtime) error {
		q := rt.rates.Snapshot().Quote(amount, from, to)
		fmt.Fprintf(a.Out, "%s %s = %s %s (1 %s = %s %s)\n",
			from.Format(q.Amount), from.Symbol(), to.Format(q.Result), to.Symbol(),
			from.Symbol(), q.Rate.String(), to.Symbol())
		if q.BelowMinimum {
			fmt.Fprintf(a.Out, "warning: minimum for %s is %s\n", from.Symbol(), from.Format(from.Minimum()))
		}
		if q.Dust {
			fmt.Fprintf(a.Out, "warning: result below the %s minimum %s, exchange would be rejected\n", to.Symbol(), to.Format(to.Minimum()))
		}
		return nil
	})
}

// Rates prints the euro rate of every asset and the pair rates against ARV.
func (a *App) Rates(ctx context.Context) error {
	return a.withRuntime(ctx, func(rt *runtime) error {
		snap := rt.rates.Snapshot()
		w := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "Asset\tEUR per unit\tper 1 ARV")
		for _, as := range asset.All {
			fmt.Fprintf(w, "%s\t%s\t%s\n", as.Symbol(), snap.Rate(as).Round(8).String(), snap.PairRate(asset.Arvirium, as).String())
		}
		return w.Flush()
	})
}

// Price prints the current price; with tick it first advances the walk once,
// archiving and alerting as the service would.
func (a *App) Price(ctx context.Context, tick bool) error {
	return a.withRuntime(ctx, func(rt *runtime) error {
		previous := rt.oracle.CurrentPrice()
		if tick {
			var sampleStore storage.PriceSampleStore
			var alertStore storage.AlertStore
			if rt.store != nil {
				sampleStore, alertStore = rt.store, rt.store
			}
			svc := service.New(a.Config, nil, rt.oracle, sampleStore, alertStore, a.newNotifier(), a.Logger)
			bucket := time.Now().UTC().Truncate(a.Config.Scheduler.Interval)
			if err := svc.ProcessTick(ctx, bucket); err != nil {
				return err
			}
		}
		current := rt.oracle.CurrentPrice()
		if tick {
			fmt.Fprintf(a.Out, "ARV: €%s (was €%s)\n", formatDecimal(current, 2), formatDecimal(previous, 2))
			return nil
		}
		fmt.Fprintf(a.Out, "ARV: €%s\n", formatDecimal(current, 2))
		return nil
	})
}

// History prints the locally retained samples of the last days.
func (a *App) History(ctx context.Context, days int) error {
	if days <= 0 || days > a.Config.Oracle.RetentionDays {
		return fmt.Errorf("--days must be between 1 and %d", a.Config.Oracle.RetentionDays)
	}
	return a.withRuntime(ctx, func(rt *runtime) error {
		w := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "Time (UTC)\tPrice")
		n := 0
		for s := range rt.oracle.History(days) {
			fmt.Fprintf(w, "%s\t%s\n", s.Timestamp.UTC().Format(time.RFC3339), formatDecimal(s.Price, 2))
			n++
		}
		if n == 0 {
			fmt.Fprintln(a.Out, "no samples in window")
			return nil
		}
		return w.Flush()
	})
}

// Transactions prints the active ledger's log, newest first.
func (a *App) Transactions(ctx context.Context, limit int) error {
	return a.withRuntime(ctx, func(rt *runtime) error {
		acc, err := rt.sessions.Read(ctx)
		if err != nil {
			return err
		}
		if len(acc.Transactions) == 0 {
			fmt.Fprintln(a.Out, "no transactions")
			return nil
		}
		txs := acc.Transactions
		if limit > 0 && len(txs) > limit {
			txs = txs[:limit]
		}
		w := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "Time (UTC)\tType\tDetail\tPrice")
		for _, tx := range txs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", tx.Timestamp.UTC().Format(time.RFC3339), tx.Kind, describe(tx), formatDecimal(tx.UnitPrice, 2))
		}
		return w.Flush()
	})
}

// Login authenticates against the account service.
func (a *App) Login(ctx context.Context, email, password string) error {
	return a.withRuntime(ctx, func(rt *runtime) error {
		if _, err := rt.sessions.Login(ctx, email, password); err != nil {
			return err
		}
		a.printSession(rt)
		return nil
	})
}

// Logout drops the saved session.
func (a *App) Logout(ctx context.Context) error {
	return a.withRuntime(ctx, func(rt *runtime) error {
		if err := rt.sessions.Logout(ctx); err != nil {
			return err
		}
		a.printSession(rt)
		return nil
	})
}

// Register creates a remote account without logging in.
func (a *App) Register(ctx context.Context, username, email, password string) error {
	return a.withRuntime(ctx, func(rt *runtime) error {
		if err := rt.sessions.Register(ctx, username, email, password); err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "Registered %s. Log in with: tuscoin login --email %s\n", username, email)
		return nil
	})
}

func (a *App) printSession(rt *runtime) {
	st := rt.sessions.State()
	if st.User == nil {
		fmt.Fprintln(a.Out, "Session: anonymous")
		return
	}
	fmt.Fprintf(a.Out, "Session: %s <%s>\n", st.User.Username, st.User.Email)
}

func (a *App) printResult(res engine.Result) error {
	if res.Transaction != nil {
		tx := *res.Transaction
		fmt.Fprintf(a.Out, "%s %s at €%s (id %s)\n", tx.Kind, describe(tx), formatDecimal(tx.UnitPrice, 2), tx.ID)
	}
	acc := res.Account
	fmt.Fprintf(a.Out, "Balances: %s ARV, €%s, %s BTC, %s ETH\n",
		asset.Arvirium.Format(acc.Coin), formatDecimal(acc.Fiat, 2),
		asset.Bitcoin.Format(acc.Bitcoin), asset.Ethereum.Format(acc.Ethereum))
	return nil
}

func describe(tx ledger.Transaction) string {
	if tx.Kind == ledger.KindExchange {
		return fmt.Sprintf("%s %s -> %s %s",
			tx.SourceAsset.Format(tx.SourceAmount), tx.SourceAsset.Symbol(),
			tx.TargetAsset.Format(tx.TargetAmount), tx.TargetAsset.Symbol())
	}
	return fmt.Sprintf("%s ARV for €%s", asset.Arvirium.Format(tx.CoinAmount), formatDecimal(tx.FiatAmount, 2))
}

func parseConversion(fromRaw, toRaw, raw string) (asset.Asset, asset.Asset, decimal.Decimal, error) {
	from, err := asset.Parse(fromRaw)
	if err != nil {
		return "", "", decimal.Zero, err
	}
	to, err := asset.Parse(toRaw)
	if err != nil {
		return "", "", decimal.Zero, err
	}
	amount, err := parseAmount(raw)
	if err != nil {
		return "", "", decimal.Zero, err
	}
	return from, to, amount, nil
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
