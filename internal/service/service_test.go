package service

import (
	"context"
	"errors"
	"iter"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tuscoin/internal/alerting"
	"tuscoin/internal/broadcast"
	"tuscoin/internal/config"
	"tuscoin/internal/ledger"
	"tuscoin/internal/oracle"
	"tuscoin/internal/storage"
)

var t0 = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

type scriptedTicker struct {
	price   decimal.Decimal
	next    []decimal.Decimal
	now     time.Time
	history []oracle.PriceSample
}

func (s *scriptedTicker) CurrentPrice() decimal.Decimal { return s.price }

func (s *scriptedTicker) Tick(context.Context) oracle.PriceSample {
	s.price, s.next = s.next[0], s.next[1:]
	s.now = s.now.Add(time.Minute)
	sample := oracle.PriceSample{Timestamp: s.now, Price: s.price}
	s.history = append(s.history, sample)
	return sample
}

func (s *scriptedTicker) History(int) iter.Seq[oracle.PriceSample] {
	snapshot := append([]oracle.PriceSample(nil), s.history...)
	return func(yield func(oracle.PriceSample) bool) {
		for _, sample := range snapshot {
			if !yield(sample) {
				return
			}
		}
	}
}

type memoryStore struct {
	samples   []storage.PriceSample
	alerts    []storage.AlertRecord
	lockTaken bool
	lockCalls int
	upsertErr error
	pruned    []time.Time
}

func (m *memoryStore) UpsertPriceSample(_ context.Context, s storage.PriceSample) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.samples = append(m.samples, s)
	return nil
}

func (m *memoryStore) ListSamplesBetween(context.Context, time.Time, time.Time) ([]storage.PriceSample, error) {
	return m.samples, nil
}

func (m *memoryStore) ListRecentSamples(context.Context, int) ([]storage.PriceSample, error) {
	return m.samples, nil
}

func (m *memoryStore) SampleAtOrBefore(_ context.Context, ts time.Time) (storage.PriceSample, bool, error) {
	for i := len(m.samples) - 1; i >= 0; i-- {
		if !m.samples[i].Bucket.After(ts) {
			return m.samples[i], true, nil
		}
	}
	return storage.PriceSample{}, false, nil
}

func (m *memoryStore) CountSamples(context.Context) (int64, error) { return int64(len(m.samples)), nil }

func (m *memoryStore) DeleteSamplesBefore(_ context.Context, cutoff time.Time) error {
	m.pruned = append(m.pruned, cutoff)
	return nil
}

func (m *memoryStore) InsertAlert(_ context.Context, a storage.AlertRecord) (storage.AlertRecord, error) {
	a.ID = int64(len(m.alerts) + 1)
	m.alerts = append(m.alerts, a)
	return a, nil
}

func (m *memoryStore) ListRecentAlerts(context.Context, int) ([]storage.AlertRecord, error) {
	return m.alerts, nil
}

func (m *memoryStore) LastAlert(context.Context) (storage.AlertRecord, bool, error) {
	if len(m.alerts) == 0 {
		return storage.AlertRecord{}, false, nil
	}
	return m.alerts[len(m.alerts)-1], true, nil
}

func (m *memoryStore) DeleteAlertsBefore(context.Context, time.Time) error { return nil }

func (m *memoryStore) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	m.lockCalls++
	if m.lockTaken {
		return nil, false, nil
	}
	return func() {}, true, nil
}

type recordingNotifier struct {
	notes []alerting.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n alerting.Notification) error {
	r.notes = append(r.notes, n)
	return nil
}

func alertConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Alerting.Enabled = true
	cfg.Alerting.ThresholdPct = 5
	cfg.Alerting.Window = 2 * time.Minute
	cfg.Alerting.Cooldown = 10 * time.Minute
	cfg.Alerting.Channels = []string{"telegram"}
	cfg.Scheduler.AdvisoryLockKey = 42
	return cfg
}

func prices(values ...string) []decimal.Decimal {
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		out[i] = decimal.RequireFromString(v)
	}
	return out
}

func TestProcessTickArchivesSample(t *testing.T) {
	ticker := &scriptedTicker{price: decimal.NewFromInt(15), next: prices("15.30"), now: t0}
	store := &memoryStore{}
	svc := New(alertConfig(), nil, ticker, store, store, nil, zerolog.Nop())

	if err := svc.ProcessTick(context.Background(), t0); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(store.samples) != 1 {
		t.Fatalf("expected one archived sample, got %d", len(store.samples))
	}
	got := store.samples[0]
	if !got.Price.Equal(decimal.RequireFromString("15.30")) || !got.PreviousPrice.Equal(decimal.NewFromInt(15)) {
		t.Fatalf("unexpected sample %+v", got)
	}
	if !got.ChangePct.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("change pct = %s", got.ChangePct)
	}
	if store.lockCalls != 1 {
		t.Fatalf("expected lock attempt, got %d", store.lockCalls)
	}
}

func TestArchivePrunedHourly(t *testing.T) {
	cfg := alertConfig()
	cfg.Oracle.RetentionDays = 90
	ticker := &scriptedTicker{price: decimal.NewFromInt(15), next: prices("15", "15", "15"), now: t0}
	store := &memoryStore{}
	svc := New(cfg, nil, ticker, store, store, nil, zerolog.Nop())

	for i := 0; i < 3; i++ {
		if err := svc.ProcessTick(context.Background(), t0); err != nil {
			t.Fatalf("tick: %v", err)
		}
	}
	if len(store.pruned) != 1 {
		t.Fatalf("expected a single prune within the hour, got %d", len(store.pruned))
	}
	if want := t0.Add(time.Minute).Add(-90 * day); !store.pruned[0].Equal(want) {
		t.Fatalf("cutoff = %s, want %s", store.pruned[0], want)
	}
}

func TestProcessTickSkipsWhenLockHeld(t *testing.T) {
	ticker := &scriptedTicker{price: decimal.NewFromInt(15), next: prices("15.30"), now: t0}
	store := &memoryStore{lockTaken: true}
	svc := New(alertConfig(), nil, ticker, store, store, nil, zerolog.Nop())

	if err := svc.ProcessTick(context.Background(), t0); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(store.samples) != 0 || !ticker.price.Equal(decimal.NewFromInt(15)) {
		t.Fatal("tick must not run without the lock")
	}
}

func TestArchiveFailureDoesNotFailTick(t *testing.T) {
	ticker := &scriptedTicker{price: decimal.NewFromInt(15), next: prices("15.10"), now: t0}
	store := &memoryStore{upsertErr: errors.New("db down")}
	svc := New(alertConfig(), nil, ticker, store, store, nil, zerolog.Nop())

	if err := svc.ProcessTick(context.Background(), t0); err != nil {
		t.Fatalf("archive errors should be logged only: %v", err)
	}
}

func TestPriceMoveAlertWithCooldown(t *testing.T) {
	// 15 -> 15.2 -> 16.5 (+10% over two minutes) -> 17.5 (cooldown)
	ticker := &scriptedTicker{price: decimal.NewFromInt(15), next: prices("15.00", "15.20", "16.50", "17.50"), now: t0}
	store := &memoryStore{}
	notifier := &recordingNotifier{}
	svc := New(alertConfig(), nil, ticker, store, store, notifier, zerolog.Nop())

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		bucket := t0.Add(time.Duration(i+1) * time.Minute)
		if err := svc.ProcessTick(ctx, bucket); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}

	if len(notifier.notes) != 1 {
		t.Fatalf("expected exactly one alert, got %d", len(notifier.notes))
	}
	note := notifier.notes[0]
	if note.Direction != "up" || !note.Reference.Equal(decimal.NewFromInt(15)) {
		t.Fatalf("unexpected notification %+v", note)
	}
	if !note.ChangePct.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("change pct = %s", note.ChangePct)
	}
	if len(store.alerts) != 1 || store.alerts[0].Direction != "up" {
		t.Fatalf("alert not persisted: %+v", store.alerts)
	}
}

func TestAlertUsesLocalHistoryWithoutArchive(t *testing.T) {
	ticker := &scriptedTicker{price: decimal.NewFromInt(15), next: prices("15.00", "15.00", "13.50"), now: t0}
	notifier := &recordingNotifier{}
	svc := New(alertConfig(), nil, ticker, nil, nil, notifier, zerolog.Nop())

	for i := 0; i < 3; i++ {
		if err := svc.ProcessTick(context.Background(), t0); err != nil {
			t.Fatalf("tick: %v", err)
		}
	}
	if len(notifier.notes) != 1 || notifier.notes[0].Direction != "down" {
		t.Fatalf("expected one down alert, got %+v", notifier.notes)
	}
}

func TestAlertsDisabled(t *testing.T) {
	cfg := alertConfig()
	cfg.Alerting.Enabled = false
	ticker := &scriptedTicker{price: decimal.NewFromInt(15), next: prices("15", "15", "25"), now: t0}
	notifier := &recordingNotifier{}
	svc := New(cfg, nil, ticker, nil, nil, notifier, zerolog.Nop())

	for i := 0; i < 3; i++ {
		_ = svc.ProcessTick(context.Background(), t0)
	}
	if len(notifier.notes) != 0 {
		t.Fatalf("alerts disabled but got %d", len(notifier.notes))
	}
}

type archiveSpy struct {
	entries []storage.LedgerEntry
}

func (a *archiveSpy) ArchiveTransaction(_ context.Context, e storage.LedgerEntry) error {
	a.entries = append(a.entries, e)
	return nil
}

func (a *archiveSpy) ListLedgerEntries(context.Context, string, int) ([]storage.LedgerEntry, error) {
	return a.entries, nil
}

func TestLedgerArchiverSubscribes(t *testing.T) {
	spy := &archiveSpy{}
	b := broadcast.New(zerolog.Nop())
	NewLedgerArchiver(spy, func() string { return "u-1" }, time.Second, zerolog.Nop()).Attach(b)

	tx := ledger.Transaction{ID: "tx-1", Kind: ledger.KindBuy, Timestamp: t0, FiatAmount: decimal.NewFromInt(30), CoinAmount: decimal.NewFromInt(2), UnitPrice: decimal.NewFromInt(15)}
	b.Publish(broadcast.BalancesChanged, ledger.Account{})
	b.Publish(broadcast.TransactionAdded, tx)

	if len(spy.entries) != 1 {
		t.Fatalf("expected one archived entry, got %d", len(spy.entries))
	}
	got := spy.entries[0]
	if got.TxID != "tx-1" || got.Owner != "u-1" || got.Kind != "buy" || !got.CoinAmount.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("unexpected entry %+v", got)
	}
}
