package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"
)

// Keys shared with the web build's local storage layout.
const (
	KeyPrice         = "coinPrice"
	KeyHistory       = "extendedPriceHistory"
	KeyLegacyHistory = "priceHistory"
	legacyDateLayout = "1/2/2006"
)

// KV is the subset of the local store the oracle persists through.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	SetMany(ctx context.Context, values map[string]string) error
}

type sampleRecord struct {
	Timestamp int64           `json:"timestamp"`
	Date      string          `json:"date"`
	Price     decimal.Decimal `json:"price"`
}

type legacyRecord struct {
	Date  string          `json:"date"`
	Price decimal.Decimal `json:"price"`
}

type state struct {
	price   *decimal.Decimal
	samples []PriceSample
}

func loadState(ctx context.Context, kv KV, now time.Time) (state, error) {
	var st state

	raw, ok, err := kv.Get(ctx, KeyPrice)
	if err != nil {
		return st, fmt.Errorf("read %s: %w", KeyPrice, err)
	}
	if ok && raw != "" {
		p, err := decimal.NewFromString(raw)
		if err != nil {
			return st, fmt.Errorf("parse %s %q: %w", KeyPrice, raw, err)
		}
		st.price = &p
	}

	raw, ok, err = kv.Get(ctx, KeyHistory)
	if err != nil {
		return st, fmt.Errorf("read %s: %w", KeyHistory, err)
	}
	if ok && raw != "" {
		var records []sampleRecord
		if err := json.Unmarshal([]byte(raw), &records); err != nil {
			return st, fmt.Errorf("decode %s: %w", KeyHistory, err)
		}
		for _, r := range records {
			st.samples = append(st.samples, PriceSample{
				Timestamp: time.UnixMilli(r.Timestamp).UTC(),
				Price:     r.Price,
			})
		}
	}
	if len(st.samples) > 0 {
		return st, nil
	}

	raw, ok, err = kv.Get(ctx, KeyLegacyHistory)
	if err != nil {
		return st, fmt.Errorf("read %s: %w", KeyLegacyHistory, err)
	}
	if !ok || raw == "" {
		return st, nil
	}
	var legacy []legacyRecord
	if err := json.Unmarshal([]byte(raw), &legacy); err != nil {
		return st, fmt.Errorf("decode %s: %w", KeyLegacyHistory, err)
	}
	st.samples = migrateLegacy(legacy, now)
	return st, nil
}

// migrateLegacy gives each legacy entry a synthetic daily timestamp so the
// newest lands on now.
func migrateLegacy(legacy []legacyRecord, now time.Time) []PriceSample {
	out := make([]PriceSample, 0, len(legacy))
	n := len(legacy)
	for i, r := range legacy {
		out = append(out, PriceSample{
			Timestamp: now.Add(-time.Duration(n-1-i) * day).UTC(),
			Price:     r.Price,
		})
	}
	return out
}

func saveState(ctx context.Context, kv KV, price decimal.Decimal, samples []PriceSample, now time.Time, legacyDays int) error {
	records := make([]sampleRecord, 0, len(samples))
	var legacy []legacyRecord
	cutoff := now.Add(-time.Duration(legacyDays) * day)
	for _, s := range samples {
		records = append(records, sampleRecord{
			Timestamp: s.Timestamp.UnixMilli(),
			Date:      s.Timestamp.Format(legacyDateLayout),
			Price:     s.Price,
		})
		if !s.Timestamp.Before(cutoff) {
			legacy = append(legacy, legacyRecord{Date: s.Timestamp.Format(legacyDateLayout), Price: s.Price})
		}
	}

	history, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode %s: %w", KeyHistory, err)
	}
	if legacy == nil {
		legacy = []legacyRecord{}
	}
	legacyRaw, err := json.Marshal(legacy)
	if err != nil {
		return fmt.Errorf("encode %s: %w", KeyLegacyHistory, err)
	}

	return kv.SetMany(ctx, map[string]string{
		KeyPrice:         price.String(),
		KeyHistory:       string(history),
		KeyLegacyHistory: string(legacyRaw),
	})
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }

func defaultRand() Rand { return globalRand{} }
