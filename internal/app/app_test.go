package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tuscoin/internal/config"
)

func testApp(t *testing.T) (*App, *bytes.Buffer) {
	t.Helper()
	cfg := &config.Config{}
	cfg.Local.Path = filepath.Join(t.TempDir(), "tuscoin.db")
	cfg.Scheduler.Interval = 30 * time.Second
	cfg.Oracle = config.OracleConfig{
		InitialPrice:  15,
		MinPrice:      5,
		MaxPrice:      25,
		MaxStep:       0.5,
		RetentionDays: 90,
		LegacyDays:    7,
	}
	cfg.Rates = config.RatesConfig{BTCPerCoin: "0.0000012", ETHPerCoin: "0.000018"}
	cfg.Remote.SyncTimeout = time.Second
	cfg.Export.MaxDataPoints = 100
	cfg.Alerting.Window = time.Hour

	var out bytes.Buffer
	a := NewApp(cfg, zerolog.Nop())
	a.Out = &out
	return a, &out
}

func TestLedgerCommandsPersistAcrossRuns(t *testing.T) {
	a, out := testApp(t)
	ctx := context.Background()

	if err := a.Deposit(ctx, "100"); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := a.Buy(ctx, "30"); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if err := a.Exchange(ctx, "eur", "btc", "10"); err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if err := a.Sell(ctx, "50"); err == nil {
		t.Fatal("selling more coins than held must fail")
	}

	out.Reset()
	if err := a.Balance(ctx); err != nil {
		t.Fatalf("balance: %v", err)
	}
	for _, want := range []string{"Session: anonymous", "ARV", "2.00", "60.00", "8.00000000e-07", "Invested: €30.00"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("balance output missing %q:\n%s", want, out.String())
		}
	}

	out.Reset()
	if err := a.Transactions(ctx, 0); err != nil {
		t.Fatalf("transactions: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 || !strings.Contains(lines[1], "exchange") || !strings.Contains(lines[2], "buy") {
		t.Fatalf("expected newest-first log of two entries:\n%s", out.String())
	}
}

func TestQuoteWarnsOnDust(t *testing.T) {
	a, out := testApp(t)
	if err := a.Quote(context.Background(), "eur", "btc", "0.01"); err != nil {
		t.Fatalf("quote: %v", err)
	}
	if !strings.Contains(out.String(), "would be rejected") {
		t.Fatalf("expected dust warning:\n%s", out.String())
	}
}

func TestPriceTickAndExport(t *testing.T) {
	a, out := testApp(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := a.Price(ctx, true); err != nil {
			t.Fatalf("tick: %v", err)
		}
	}
	if !strings.Contains(out.String(), "(was €") {
		t.Fatalf("tick output: %s", out.String())
	}
	if err := a.Deposit(ctx, "50"); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := a.Buy(ctx, "20"); err != nil {
		t.Fatalf("buy: %v", err)
	}

	dir := t.TempDir()
	csvPath := filepath.Join(dir, "out", "prices.csv")
	piePath := filepath.Join(dir, "out", "portfolio.png")
	if err := a.Export(ctx, ExportOptions{CSVPath: csvPath, PortfolioPNG: piePath}); err != nil {
		t.Fatalf("export: %v", err)
	}

	f, err := os.Open(csvPath)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 4 || records[0][1] != "price_eur" {
		t.Fatalf("unexpected csv %v", records)
	}

	info, err := os.Stat(piePath)
	if err != nil || info.Size() == 0 {
		t.Fatalf("portfolio chart not written: %v", err)
	}
}

func TestExportRequiresTarget(t *testing.T) {
	a, _ := testApp(t)
	if err := a.Export(context.Background(), ExportOptions{}); err == nil {
		t.Fatal("expected error without output paths")
	}
}

func TestShowFallsBackToLocalHistory(t *testing.T) {
	a, out := testApp(t)
	ctx := context.Background()
	if err := a.Price(ctx, true); err != nil {
		t.Fatalf("tick: %v", err)
	}
	out.Reset()
	if err := a.Show(ctx, ShowOptions{Limit: 5}); err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.HasPrefix(out.String(), "Time (UTC)") {
		t.Fatalf("unexpected show output:\n%s", out.String())
	}
	if err := a.Show(ctx, ShowOptions{Limit: 5, Alerts: true}); err == nil {
		t.Fatal("alerts need a database")
	}
}

func TestSimulateAlert(t *testing.T) {
	var text string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		_ = json.NewDecoder(r.Body).Decode(&payload)
		text = payload["text"]
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	a, _ := testApp(t)
	if err := a.SimulateAlert(context.Background(), decimal.NewFromInt(15), decimal.NewFromInt(17)); err == nil {
		t.Fatal("alerting disabled should be reported")
	}

	a.Config.Alerting.Enabled = true
	a.Config.Alerting.ThresholdPct = 5
	a.Config.Alerting.Telegram = config.TelegramConfig{Enabled: true, BotToken: "t", ChatID: "c", APIBase: srv.URL}
	if err := a.SimulateAlert(context.Background(), decimal.NewFromInt(15), decimal.NewFromInt(17)); err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if !strings.Contains(text, "Direction: up") || !strings.Contains(text, "Reference: €15.00") {
		t.Fatalf("unexpected alert text %q", text)
	}
}
