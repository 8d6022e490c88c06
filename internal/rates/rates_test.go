package rates

import (
	"testing"

	"github.com/shopspring/decimal"

	"tuscoin/internal/asset"
)

type fixedPrice string

func (p fixedPrice) CurrentPrice() decimal.Decimal { return decimal.RequireFromString(string(p)) }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRatesAtFifteen(t *testing.T) {
	table := New(fixedPrice("15"), decimal.Zero, decimal.Zero)
	r := table.Rates()

	cases := map[asset.Asset]string{
		asset.Euro:     "1",
		asset.Arvirium: "15",
		asset.Bitcoin:  "12500000",
		asset.Ethereum: "833333.333333333333333333",
	}
	for a, want := range cases {
		got := r[a]
		if a == asset.Ethereum {
			if got.Sub(dec(want)).Abs().GreaterThan(dec("0.000001")) {
				t.Errorf("%s rate = %s, want ~%s", a, got, want)
			}
			continue
		}
		if !got.Equal(dec(want)) {
			t.Errorf("%s rate = %s, want %s", a, got, want)
		}
	}
}

func TestConvert(t *testing.T) {
	table := New(fixedPrice("15"), decimal.Zero, decimal.Zero)

	tests := []struct {
		name   string
		amount string
		from   asset.Asset
		to     asset.Asset
		want   string
	}{
		{"coin to btc", "1", asset.Arvirium, asset.Bitcoin, "0.0000012"},
		{"coin to eth", "1", asset.Arvirium, asset.Ethereum, "0.000018"},
		{"coin to euro", "2", asset.Arvirium, asset.Euro, "30"},
		{"euro to coin rounds", "10", asset.Euro, asset.Arvirium, "0.67"},
		{"btc to coin", "0.0000012", asset.Bitcoin, asset.Arvirium, "1"},
		{"btc to eth", "1", asset.Bitcoin, asset.Ethereum, "15"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := table.Convert(dec(tt.amount), tt.from, tt.to)
			if !got.Equal(dec(tt.want)) {
				t.Fatalf("convert = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestConvertIdentity(t *testing.T) {
	table := New(fixedPrice("17.33"), decimal.Zero, decimal.Zero)
	amount := dec("0.123456789")
	for _, a := range asset.All {
		if got := table.Convert(amount, a, a); !got.Equal(amount) {
			t.Fatalf("%s identity = %s, want %s unchanged", a, got, amount)
		}
	}
}

func TestRoundTripBound(t *testing.T) {
	half := dec("0.5")
	slack := dec("1e-15")
	amounts := []string{"0.01", "1", "3.33", "127.45", "0.00000123", "0.5"}

	for _, price := range []string{"5", "12.37", "15.01", "25"} {
		snap := New(fixedPrice(price), decimal.Zero, decimal.Zero).Snapshot()
		for _, a := range asset.All {
			for _, b := range asset.All {
				if a == b {
					continue
				}
				for _, raw := range amounts {
					amount := a.Round(dec(raw))
					back := snap.Convert(snap.Convert(amount, a, b), b, a)

					bound := half.Mul(decimal.New(1, -b.Precision())).
						Mul(snap.Rate(b)).DivRound(snap.Rate(a), divisionPlaces).
						Add(half.Mul(decimal.New(1, -a.Precision()))).
						Add(slack)
					if diff := back.Sub(amount).Abs(); diff.GreaterThan(bound) {
						t.Errorf("price %s %s %s->%s->%s: drift %s exceeds %s", price, amount, a, b, a, diff, bound)
					}
				}
			}
		}
	}
}

func TestPairRateAndQuote(t *testing.T) {
	snap := New(fixedPrice("15"), decimal.Zero, decimal.Zero).Snapshot()

	if r := snap.PairRate(asset.Arvirium, asset.Bitcoin); !r.Equal(dec("0.0000012")) {
		t.Fatalf("pair rate = %s", r)
	}

	q := snap.Quote(dec("0.000000005"), asset.Bitcoin, asset.Arvirium)
	if !q.BelowMinimum {
		t.Fatal("half a satoshi should be below the source minimum")
	}

	q = snap.Quote(dec("0.01"), asset.Euro, asset.Bitcoin)
	if !q.Dust || !q.Result.IsZero() {
		t.Fatalf("one cent to btc should be dust, got %s dust=%v", q.Result, q.Dust)
	}

	q = snap.Quote(dec("1"), asset.Arvirium, asset.Bitcoin)
	if q.Dust || q.BelowMinimum || !q.Result.Equal(dec("0.0000012")) {
		t.Fatalf("unexpected quote %+v", q)
	}
}
