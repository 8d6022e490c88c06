package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"tuscoin/internal/config"
)

func TestUnconfiguredStore(t *testing.T) {
	var s *Store
	ctx := context.Background()

	if err := s.UpsertPriceSample(ctx, PriceSample{Bucket: time.Now()}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("upsert err = %v", err)
	}
	if _, _, err := s.TryAdvisoryLock(ctx, 1); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("lock err = %v", err)
	}
	if err := s.ArchiveTransaction(ctx, LedgerEntry{TxID: "x"}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("archive err = %v", err)
	}
	if _, _, err := s.LastAlert(ctx); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("last alert err = %v", err)
	}
	s.Close()
}

func TestNewPoolRequiresDSN(t *testing.T) {
	if _, err := NewPool(context.Background(), config.DatabaseConfig{}); err == nil {
		t.Fatal("empty dsn should be rejected")
	}
}

func TestParseDecimals(t *testing.T) {
	values, err := parseDecimals("15.25", "-0.5", "0")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if values[0].String() != "15.25" || values[1].String() != "-0.5" || !values[2].IsZero() {
		t.Fatalf("unexpected values %v", values)
	}
	if _, err := parseDecimals("NaN?"); err == nil {
		t.Fatal("garbage should fail")
	}
}
