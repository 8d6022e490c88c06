package app

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"
)

// Show prints recent archived samples, alerts or ledger rows. Without a
// database it falls back to the locally retained price history.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	return a.withRuntime(ctx, func(rt *runtime) error {
		if rt.store == nil {
			if opts.Alerts || opts.Ledger {
				return fmt.Errorf("database not configured; cannot show archived alerts or ledger")
			}
			return a.showLocal(rt, opts.Limit)
		}

		switch {
		case opts.Alerts:
			return a.showAlerts(ctx, rt, opts.Limit)
		case opts.Ledger:
			return a.showLedger(ctx, rt, opts.Limit)
		}

		total, err := rt.store.CountSamples(ctx)
		if err != nil {
			return err
		}
		samples, err := rt.store.ListRecentSamples(ctx, opts.Limit)
		if err != nil {
			return err
		}
		if len(samples) == 0 {
			fmt.Fprintln(a.Out, "no samples found")
			return nil
		}

		writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Time (UTC)\tPrice\tPrevious\tChange%")
		for _, sample := range samples {
			fmt.Fprintf(
				writer,
				"%s\t%s\t%s\t%s\n",
				sample.Bucket.UTC().Format(time.RFC3339),
				formatDecimal(sample.Price, 2),
				formatDecimal(sample.PreviousPrice, 2),
				formatDecimal(sample.ChangePct, 3),
			)
		}
		if err := writer.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "\n%d of %d archived samples\n", len(samples), total)
		return nil
	})
}

func (a *App) showLocal(rt *runtime, limit int) error {
	samples := rt.oracle.LegacyView()
	if len(samples) == 0 {
		fmt.Fprintln(a.Out, "no samples found")
		return nil
	}
	if len(samples) > limit {
		samples = samples[len(samples)-limit:]
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tPrice")
	for i := len(samples) - 1; i >= 0; i-- {
		fmt.Fprintf(writer, "%s\t%s\n", samples[i].Timestamp.UTC().Format(time.RFC3339), formatDecimal(samples[i].Price, 2))
	}
	return writer.Flush()
}

func (a *App) showAlerts(ctx context.Context, rt *runtime, limit int) error {
	alerts, err := rt.store.ListRecentAlerts(ctx, limit)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(a.Out, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Sampled (UTC)\tPrice\tReference\tChange%\tThreshold%\tDirection\tChannels")
	for _, alert := range alerts {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			alert.SampleTS.UTC().Format(time.RFC3339),
			formatDecimal(alert.Price, 2),
			formatDecimal(alert.Reference, 2),
			formatDecimal(alert.ChangePct, 2),
			formatDecimal(alert.ThresholdPct, 2),
			alert.Direction,
			sanitizeInline(strings.Join(alert.Channels, ",")),
		)
	}
	return writer.Flush()
}

func (a *App) showLedger(ctx context.Context, rt *runtime, limit int) error {
	entries, err := rt.store.ListLedgerEntries(ctx, rt.owner(), limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(a.Out, "no archived transactions")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Executed (UTC)\tKind\tFiat\tCoins\tSource\tTarget\tPrice")
	for _, e := range entries {
		source, target := "", ""
		if e.SourceAsset != "" {
			source = e.SourceAmount.String() + " " + e.SourceAsset
			target = e.TargetAmount.String() + " " + e.TargetAsset
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ExecutedAt.UTC().Format(time.RFC3339),
			e.Kind,
			formatDecimal(e.FiatAmount, 2),
			e.CoinAmount.String(),
			source,
			target,
			formatDecimal(e.UnitPrice, 2),
		)
	}
	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
