package oracle

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tuscoin/internal/broadcast"
)

const day = 24 * time.Hour

// PriceSample is one point of the price history.
type PriceSample struct {
	Timestamp time.Time
	Price     decimal.Decimal
}

// Rand supplies uniform floats in [0, 1). *rand.Rand from math/rand/v2 fits.
type Rand interface {
	Float64() float64
}

// Options tune the random walk.
type Options struct {
	InitialPrice  decimal.Decimal
	MinPrice      decimal.Decimal
	MaxPrice      decimal.Decimal
	MaxStep       decimal.Decimal
	RetentionDays int
	LegacyDays    int
	Rand          Rand
	Now           func() time.Time
}

// DefaultOptions mirror the web build: start at 15, walk ±0.5, clamp to [5, 25],
// keep 90 days and a 7-day legacy view.
func DefaultOptions() Options {
	return Options{
		InitialPrice:  decimal.NewFromInt(15),
		MinPrice:      decimal.NewFromInt(5),
		MaxPrice:      decimal.NewFromInt(25),
		MaxStep:       decimal.NewFromFloat(0.5),
		RetentionDays: 90,
		LegacyDays:    7,
	}
}

// Oracle owns the current coin price and its rolling history.
type Oracle struct {
	opts     Options
	kv       KV
	notifier broadcast.Notifier
	logger   zerolog.Logger

	mu      sync.RWMutex
	price   decimal.Decimal
	samples []PriceSample
}

// New constructs an oracle and loads persisted state from kv when given.
func New(ctx context.Context, opts Options, kv KV, notifier broadcast.Notifier, logger zerolog.Logger) (*Oracle, error) {
	defaults := DefaultOptions()
	if opts.InitialPrice.IsZero() {
		opts.InitialPrice = defaults.InitialPrice
	}
	if opts.MinPrice.IsZero() {
		opts.MinPrice = defaults.MinPrice
	}
	if opts.MaxPrice.IsZero() {
		opts.MaxPrice = defaults.MaxPrice
	}
	if opts.MaxStep.IsZero() {
		opts.MaxStep = defaults.MaxStep
	}
	if opts.RetentionDays <= 0 {
		opts.RetentionDays = defaults.RetentionDays
	}
	if opts.LegacyDays <= 0 {
		opts.LegacyDays = defaults.LegacyDays
	}
	if opts.Rand == nil {
		opts.Rand = defaultRand()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	o := &Oracle{
		opts:     opts,
		kv:       kv,
		notifier: notifier,
		logger:   logger.With().Str("component", "oracle").Logger(),
		price:    opts.InitialPrice,
	}

	if kv != nil {
		st, err := loadState(ctx, kv, opts.Now())
		if err != nil {
			return nil, err
		}
		if st.price != nil {
			o.price = *st.price
		}
		o.samples = st.samples
	}
	o.price = o.clamp(o.price)
	o.samples = o.evict(o.samples, opts.Now())
	return o, nil
}

// CurrentPrice returns the last computed price.
func (o *Oracle) CurrentPrice() decimal.Decimal {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.price
}

// Tick advances the random walk by one step, records and persists the sample
// and publishes priceChanged.
func (o *Oracle) Tick(ctx context.Context) PriceSample {
	o.mu.Lock()
	change := decimal.NewFromFloat(o.opts.Rand.Float64() - 0.5).Mul(o.opts.MaxStep.Mul(decimal.NewFromInt(2)))
	now := o.opts.Now().UTC()
	previous := o.price
	o.price = o.clamp(previous.Add(change).Round(2))
	sample := PriceSample{Timestamp: now, Price: o.price}
	o.samples = o.evict(append(o.samples, sample), now)

	// Persisted under the lock so overlapping ticks land in order.
	if o.kv != nil {
		if err := saveState(ctx, o.kv, sample.Price, o.samples, now, o.opts.LegacyDays); err != nil {
			o.logger.Error().Err(err).Msg("failed to persist price state")
		}
	}
	o.mu.Unlock()

	o.logger.Debug().
		Str("previous", previous.StringFixed(2)).
		Str("price", sample.Price.StringFixed(2)).
		Msg("price ticked")

	if o.notifier != nil {
		o.notifier.Publish(broadcast.PriceChanged, sample)
	}
	return sample
}

// History yields retained samples no older than days, oldest first. The
// sequence reads a snapshot taken when History is called and may be ranged
// over any number of times.
func (o *Oracle) History(days int) iter.Seq[PriceSample] {
	o.mu.RLock()
	snapshot := o.snapshotLocked()
	o.mu.RUnlock()
	cutoff := o.opts.Now().Add(-time.Duration(days) * day)

	return func(yield func(PriceSample) bool) {
		for _, s := range snapshot {
			if s.Timestamp.Before(cutoff) {
				continue
			}
			if !yield(s) {
				return
			}
		}
	}
}

// LegacyView is the derived short window older consumers read.
func (o *Oracle) LegacyView() []PriceSample {
	var out []PriceSample
	for s := range o.History(o.opts.LegacyDays) {
		out = append(out, s)
	}
	return out
}

func (o *Oracle) snapshotLocked() []PriceSample {
	return append([]PriceSample(nil), o.samples...)
}

func (o *Oracle) clamp(p decimal.Decimal) decimal.Decimal {
	if p.LessThan(o.opts.MinPrice) {
		return o.opts.MinPrice
	}
	if p.GreaterThan(o.opts.MaxPrice) {
		return o.opts.MaxPrice
	}
	return p
}

func (o *Oracle) evict(samples []PriceSample, now time.Time) []PriceSample {
	cutoff := now.Add(-time.Duration(o.opts.RetentionDays) * day)
	kept := samples[:0]
	for _, s := range samples {
		if !s.Timestamp.Before(cutoff) {
			kept = append(kept, s)
		}
	}
	return kept
}
