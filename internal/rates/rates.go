package rates

import (
	"github.com/shopspring/decimal"

	"tuscoin/internal/asset"
)

// divisionPlaces bounds intermediate quotients; results are rounded to the
// target asset precision afterwards.
const divisionPlaces = 18

// Default fabricated ratios of the coin against the two crypto assets.
var (
	DefaultBTCPerCoin = decimal.RequireFromString("0.0000012")
	DefaultETHPerCoin = decimal.RequireFromString("0.000018")
)

// PriceSource supplies the current coin price in euro.
type PriceSource interface {
	CurrentPrice() decimal.Decimal
}

// Table derives euro rates for every asset from the coin price.
type Table struct {
	source     PriceSource
	btcPerCoin decimal.Decimal
	ethPerCoin decimal.Decimal
}

// New builds a table. Zero ratios fall back to the defaults.
func New(source PriceSource, btcPerCoin, ethPerCoin decimal.Decimal) *Table {
	if btcPerCoin.Sign() <= 0 {
		btcPerCoin = DefaultBTCPerCoin
	}
	if ethPerCoin.Sign() <= 0 {
		ethPerCoin = DefaultETHPerCoin
	}
	return &Table{source: source, btcPerCoin: btcPerCoin, ethPerCoin: ethPerCoin}
}

// Snapshot freezes the rates at the current price so one operation converts
// with a single consistent set.
func (t *Table) Snapshot() Snapshot {
	return t.At(t.source.CurrentPrice())
}

// At computes rates for an explicit coin price.
func (t *Table) At(price decimal.Decimal) Snapshot {
	return Snapshot{
		Price: price,
		values: map[asset.Asset]decimal.Decimal{
			asset.Euro:     decimal.NewFromInt(1),
			asset.Arvirium: price,
			asset.Bitcoin:  price.DivRound(t.btcPerCoin, divisionPlaces),
			asset.Ethereum: price.DivRound(t.ethPerCoin, divisionPlaces),
		},
	}
}

// Rates returns the euro value of one unit of each asset.
func (t *Table) Rates() map[asset.Asset]decimal.Decimal {
	return t.Snapshot().Rates()
}

// Convert converts amount at the current price.
func (t *Table) Convert(amount decimal.Decimal, from, to asset.Asset) decimal.Decimal {
	return t.Snapshot().Convert(amount, from, to)
}

// Snapshot is an immutable rate set.
type Snapshot struct {
	Price  decimal.Decimal
	values map[asset.Asset]decimal.Decimal
}

// Rates returns a copy of the euro rates.
func (s Snapshot) Rates() map[asset.Asset]decimal.Decimal {
	out := make(map[asset.Asset]decimal.Decimal, len(s.values))
	for a, v := range s.values {
		out[a] = v
	}
	return out
}

// Rate is the euro value of one unit of a.
func (s Snapshot) Rate(a asset.Asset) decimal.Decimal {
	return s.values[a]
}

// Convert routes through euro and rounds to the target precision. Identical
// assets short-circuit and return amount unchanged.
//
// A round trip A→B→A deviates from the input by at most
// ½·10^-p(B)·rate(B)/rate(A) + ½·10^-p(A), where p is the asset precision.
func (s Snapshot) Convert(amount decimal.Decimal, from, to asset.Asset) decimal.Decimal {
	if from == to {
		return amount
	}
	target := s.values[to]
	if target.IsZero() {
		return decimal.Zero
	}
	euro := amount.Mul(s.values[from])
	return to.Round(euro.DivRound(target, divisionPlaces))
}

// PairRate is the display rate "1 from = x to", unrounded to asset precision.
func (s Snapshot) PairRate(from, to asset.Asset) decimal.Decimal {
	if from == to {
		return decimal.NewFromInt(1)
	}
	target := s.values[to]
	if target.IsZero() {
		return decimal.Zero
	}
	return s.values[from].DivRound(target, divisionPlaces)
}

// Quote previews an exchange without touching any balance.
type Quote struct {
	From   asset.Asset
	To     asset.Asset
	Amount decimal.Decimal
	Result decimal.Decimal
	Rate   decimal.Decimal
	// BelowMinimum is set when Amount is under the source minimum.
	BelowMinimum bool
	// Dust is set when Result is under the target minimum.
	Dust bool
}

// Quote converts amount and reports whether the exchange would be rejected
// for size.
func (s Snapshot) Quote(amount decimal.Decimal, from, to asset.Asset) Quote {
	result := s.Convert(amount, from, to)
	return Quote{
		From:         from,
		To:           to,
		Amount:       amount,
		Result:       result,
		Rate:         s.PairRate(from, to),
		BelowMinimum: amount.LessThan(from.Minimum()),
		Dust:         result.LessThan(to.Minimum()),
	}
}
