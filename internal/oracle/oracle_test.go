package oracle

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tuscoin/internal/broadcast"
)

type memKV map[string]string

func (m memKV) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}

func (m memKV) SetMany(_ context.Context, values map[string]string) error {
	for k, v := range values {
		m[k] = v
	}
	return nil
}

type fixedRand []float64

func (f *fixedRand) Float64() float64 {
	v := (*f)[0]
	if len(*f) > 1 {
		*f = (*f)[1:]
	}
	return v
}

type recorder struct {
	kinds    []broadcast.Kind
	payloads []any
}

func (r *recorder) Publish(kind broadcast.Kind, payload any) {
	r.kinds = append(r.kinds, kind)
	r.payloads = append(r.payloads, payload)
}

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func newTestOracle(t *testing.T, kv KV, rnd Rand, c *clock, n broadcast.Notifier) *Oracle {
	t.Helper()
	opts := DefaultOptions()
	opts.Rand = rnd
	opts.Now = c.Now
	o, err := New(context.Background(), opts, kv, n, zerolog.Nop())
	if err != nil {
		t.Fatalf("new oracle: %v", err)
	}
	return o
}

func TestInitialPrice(t *testing.T) {
	c := &clock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	o := newTestOracle(t, memKV{}, &fixedRand{0.5}, c, nil)
	if !o.CurrentPrice().Equal(decimal.NewFromInt(15)) {
		t.Fatalf("price = %s, want 15", o.CurrentPrice())
	}
}

func TestTickMovesWithinStepAndRounds(t *testing.T) {
	c := &clock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	rec := &recorder{}
	kv := memKV{}
	o := newTestOracle(t, kv, &fixedRand{0.8}, c, rec)

	s := o.Tick(context.Background())

	// 0.8 - 0.5 = 0.3 step
	if !s.Price.Equal(decimal.RequireFromString("15.3")) {
		t.Fatalf("price = %s, want 15.3", s.Price)
	}
	if s.Price.Exponent() < -2 {
		t.Fatalf("price %s has more than 2 decimals", s.Price)
	}
	if len(rec.kinds) != 1 || rec.kinds[0] != broadcast.PriceChanged {
		t.Fatalf("expected one priceChanged, got %v", rec.kinds)
	}
	if kv[KeyPrice] != "15.3" {
		t.Fatalf("persisted price = %q", kv[KeyPrice])
	}
}

func TestTickClampsToBounds(t *testing.T) {
	c := &clock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	kv := memKV{KeyPrice: "24.8"}
	o := newTestOracle(t, kv, &fixedRand{0.99}, c, nil)
	if p := o.Tick(context.Background()).Price; !p.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("price = %s, want clamp at 25", p)
	}

	kv = memKV{KeyPrice: "5.2"}
	o = newTestOracle(t, kv, &fixedRand{0.0}, c, nil)
	if p := o.Tick(context.Background()).Price; !p.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("price = %s, want clamp at 5", p)
	}
}

func TestManyTicksStayInRange(t *testing.T) {
	c := &clock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	o := newTestOracle(t, nil, nil, c, nil)
	lo, hi := decimal.NewFromInt(5), decimal.NewFromInt(25)
	for i := 0; i < 2000; i++ {
		c.t = c.t.Add(30 * time.Second)
		p := o.Tick(context.Background()).Price
		if p.LessThan(lo) || p.GreaterThan(hi) {
			t.Fatalf("tick %d out of range: %s", i, p)
		}
	}
}

func TestHistoryRetentionAndWindow(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := &clock{t: start}
	o := newTestOracle(t, memKV{}, &fixedRand{0.5}, c, nil)

	for i := 0; i < 100; i++ {
		c.t = start.Add(time.Duration(i) * day)
		o.Tick(context.Background())
	}

	var all []PriceSample
	for s := range o.History(365) {
		all = append(all, s)
	}
	if len(all) != 91 {
		t.Fatalf("retained %d samples, want 91", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].Timestamp.Before(all[i-1].Timestamp) {
			t.Fatal("history is not ordered oldest first")
		}
	}

	count := 0
	seq := o.History(7)
	for range seq {
		count++
	}
	again := 0
	for range seq {
		again++
	}
	if count != 8 || again != count {
		t.Fatalf("7-day window yielded %d then %d samples, want 8 twice", count, again)
	}
	if len(o.LegacyView()) != 8 {
		t.Fatalf("legacy view = %d samples", len(o.LegacyView()))
	}
}

func TestHistoryStopsEarly(t *testing.T) {
	c := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	o := newTestOracle(t, nil, &fixedRand{0.5}, c, nil)
	for i := 0; i < 5; i++ {
		o.Tick(context.Background())
	}
	n := 0
	for range o.History(1) {
		n++
		if n == 2 {
			break
		}
	}
	if n != 2 {
		t.Fatalf("n = %d", n)
	}
}

func TestLoadsExtendedHistory(t *testing.T) {
	now := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	records := []sampleRecord{
		{Timestamp: now.Add(-2 * day).UnixMilli(), Date: "3/8/2024", Price: decimal.RequireFromString("14.5")},
		{Timestamp: now.Add(-day).UnixMilli(), Date: "3/9/2024", Price: decimal.RequireFromString("14.75")},
	}
	raw, _ := json.Marshal(records)
	kv := memKV{KeyPrice: "14.75", KeyHistory: string(raw)}

	o := newTestOracle(t, kv, &fixedRand{0.5}, &clock{t: now}, nil)
	if !o.CurrentPrice().Equal(decimal.RequireFromString("14.75")) {
		t.Fatalf("price = %s", o.CurrentPrice())
	}
	n := 0
	for range o.History(90) {
		n++
	}
	if n != 2 {
		t.Fatalf("loaded %d samples, want 2", n)
	}
}

func TestMigratesLegacyHistory(t *testing.T) {
	now := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	kv := memKV{KeyLegacyHistory: `[{"date":"3/8/2024","price":14.1},{"date":"3/9/2024","price":14.6},{"date":"3/10/2024","price":15.2}]`}

	o := newTestOracle(t, kv, &fixedRand{0.5}, &clock{t: now}, nil)

	var got []PriceSample
	for s := range o.History(90) {
		got = append(got, s)
	}
	if len(got) != 3 {
		t.Fatalf("migrated %d samples, want 3", len(got))
	}
	if !got[2].Timestamp.Equal(now) || !got[0].Timestamp.Equal(now.Add(-2*day)) {
		t.Fatalf("unexpected synthetic timestamps: %v .. %v", got[0].Timestamp, got[2].Timestamp)
	}
	if !got[1].Price.Equal(decimal.RequireFromString("14.6")) {
		t.Fatalf("price = %s", got[1].Price)
	}
}

func TestPersistWritesLegacyView(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := &clock{t: start}
	kv := memKV{}
	o := newTestOracle(t, kv, &fixedRand{0.5}, c, nil)
	for i := 0; i < 10; i++ {
		c.t = start.Add(time.Duration(i) * day)
		o.Tick(context.Background())
	}

	var legacy []legacyRecord
	if err := json.Unmarshal([]byte(kv[KeyLegacyHistory]), &legacy); err != nil {
		t.Fatalf("decode legacy: %v", err)
	}
	if len(legacy) != 8 {
		t.Fatalf("legacy entries = %d, want 8", len(legacy))
	}
	var extended []sampleRecord
	if err := json.Unmarshal([]byte(kv[KeyHistory]), &extended); err != nil {
		t.Fatalf("decode extended: %v", err)
	}
	if len(extended) != 10 {
		t.Fatalf("extended entries = %d, want 10", len(extended))
	}
}

type constRand float64

func (c constRand) Float64() float64 { return float64(c) }

// parkedKV holds the first write until release is closed.
type parkedKV struct {
	mu      sync.Mutex
	data    map[string]string
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (p *parkedKV) Get(_ context.Context, key string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.data[key]
	return v, ok, nil
}

func (p *parkedKV) SetMany(_ context.Context, values map[string]string) error {
	p.once.Do(func() {
		close(p.entered)
		<-p.release
	})
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, v := range values {
		p.data[k] = v
	}
	return nil
}

func TestOverlappingTicksPersistNewestPrice(t *testing.T) {
	c := &clock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	kv := &parkedKV{data: map[string]string{}, entered: make(chan struct{}), release: make(chan struct{})}
	o := newTestOracle(t, kv, constRand(0.9), c, nil)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); o.Tick(context.Background()) }()
	<-kv.entered
	go func() { defer wg.Done(); o.Tick(context.Background()) }()
	time.Sleep(50 * time.Millisecond)
	close(kv.release)
	wg.Wait()

	saved, _, _ := kv.Get(context.Background(), KeyPrice)
	if saved != o.CurrentPrice().String() || saved != "15.8" {
		t.Fatalf("persisted price %q, current %s", saved, o.CurrentPrice())
	}
}
