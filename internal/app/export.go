package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"tuscoin/internal/analytics"
)

// exportRow is one price point, from the archive or the local history.
type exportRow struct {
	At        time.Time
	Price     decimal.Decimal
	ChangePct decimal.Decimal
}

// Export renders price history as CSV and/or PNG and the portfolio as a pie.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" && opts.PortfolioPNG == "" {
		return errors.New("at least one of --csv, --png or --portfolio-png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scheduler.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	return a.withRuntime(ctx, func(rt *runtime) error {
		if opts.PortfolioPNG != "" {
			acc, err := rt.sessions.Read(ctx)
			if err != nil {
				return err
			}
			portfolio := analytics.ComputePortfolio(acc, rt.rates.Snapshot())
			if err := writePortfolioPNG(opts.PortfolioPNG, portfolio); err != nil {
				return err
			}
			a.Logger.Info().Str("path", opts.PortfolioPNG).Msg("portfolio chart written")
		}

		if opts.CSVPath == "" && opts.PNGPath == "" {
			return nil
		}

		rows, err := a.loadRows(ctx, rt, from, to)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			a.Logger.Info().Msg("no samples found for export window")
			return nil
		}

		downsampled := downsampleRows(rows, opts.MaxPoints)
		a.Logger.Info().Int("total", len(rows)).Int("exported", len(downsampled)).Msg("exporting samples")

		if opts.CSVPath != "" {
			if err := writeRowsCSV(opts.CSVPath, downsampled); err != nil {
				return err
			}
		}

		if opts.PNGPath != "" {
			if err := writeRowsPNG(opts.PNGPath, downsampled); err != nil {
				return err
			}
		}
		return nil
	})
}

func (a *App) loadRows(ctx context.Context, rt *runtime, from, to time.Time) ([]exportRow, error) {
	if rt.store != nil {
		samples, err := rt.store.ListSamplesBetween(ctx, from, to)
		if err != nil {
			return nil, err
		}
		rows := make([]exportRow, 0, len(samples))
		for _, s := range samples {
			rows = append(rows, exportRow{At: s.Bucket, Price: s.Price, ChangePct: s.ChangePct})
		}
		return rows, nil
	}

	var rows []exportRow
	previous := decimal.Zero
	for s := range rt.oracle.History(a.Config.Oracle.RetentionDays) {
		if s.Timestamp.Before(from) || !s.Timestamp.Before(to) {
			previous = s.Price
			continue
		}
		change := decimal.Zero
		if !previous.IsZero() {
			change = s.Price.Sub(previous).Div(previous).Mul(decimal.NewFromInt(100)).Round(4)
		}
		rows = append(rows, exportRow{At: s.Timestamp, Price: s.Price, ChangePct: change})
		previous = s.Price
	}
	return rows, nil
}

func downsampleRows(rows []exportRow, max int) []exportRow {
	if max <= 0 || len(rows) <= max {
		return rows
	}
	if max == 1 {
		return rows[len(rows)-1:]
	}

	result := make([]exportRow, 0, max)
	step := float64(len(rows)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(rows) {
			idx = len(rows) - 1
		}
		result = append(result, rows[idx])
	}
	return result
}

func writeRowsCSV(path string, rows []exportRow) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"timestamp", "price_eur", "change_pct"}); err != nil {
		return err
	}
	for _, row := range rows {
		record := []string{
			row.At.UTC().Format(time.RFC3339),
			row.Price.StringFixed(2),
			row.ChangePct.String(),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeRowsPNG(path string, rows []exportRow) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(rows))
	price := make([]float64, len(rows))
	change := make([]float64, len(rows))
	for i, row := range rows {
		x[i] = row.At
		price[i] = row.Price.InexactFloat64()
		change[i] = row.ChangePct.InexactFloat64()
	}

	priceSeries := chart.TimeSeries{Name: "ARV (EUR)", XValues: x, YValues: price}
	series := []chart.Series{
		priceSeries,
		chart.TimeSeries{
			Name:    "Change %",
			XValues: x,
			YValues: change,
			YAxis:   chart.YAxisSecondary,
		},
	}
	if len(rows) >= smaPeriod {
		series = append(series, &chart.SMASeries{Name: fmt.Sprintf("SMA(%d)", smaPeriod), InnerSeries: priceSeries, Period: smaPeriod})
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price (EUR)",
			ValueFormatter: priceFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Change (%)",
			ValueFormatter: priceFormatter,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

const smaPeriod = 10

func writePortfolioPNG(path string, portfolio analytics.Portfolio) error {
	var values []chart.Value
	for _, h := range portfolio.Holdings {
		if !h.Value.IsPositive() {
			continue
		}
		values = append(values, chart.Value{
			Value: h.Value.InexactFloat64(),
			Label: fmt.Sprintf("%s €%s (%s%%)", h.Symbol, h.Value.StringFixed(2), h.Share.StringFixed(1)),
		})
	}
	if len(values) == 0 {
		return errors.New("portfolio is empty; nothing to chart")
	}

	if err := ensureDir(path); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	pie := chart.PieChart{
		Title:  fmt.Sprintf("Portfolio €%s", portfolio.Total.StringFixed(2)),
		Width:  720,
		Height: 720,
		Values: values,
	}
	return pie.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
