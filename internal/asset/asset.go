package asset

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Asset identifies one balance-tracked unit.
type Asset string

const (
	Arvirium Asset = "arvirium"
	Euro     Asset = "euro"
	Bitcoin  Asset = "bitcoin"
	Ethereum Asset = "ethereum"
)

// All lists the assets in display order.
var All = []Asset{Arvirium, Euro, Bitcoin, Ethereum}

var (
	minBitcoin  = decimal.New(1, -8)
	minEthereum = decimal.New(1, -6)
	minDefault  = decimal.New(1, -2)

	btcScientificBelow = decimal.New(1, -5)
	ethScientificBelow = decimal.New(1, -4)
)

// Parse resolves an asset name or ticker symbol, case-insensitive.
func Parse(v string) (Asset, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "arvirium", "arv", "coin", "tuscoin":
		return Arvirium, nil
	case "euro", "eur", "fiat":
		return Euro, nil
	case "bitcoin", "btc":
		return Bitcoin, nil
	case "ethereum", "eth":
		return Ethereum, nil
	}
	return "", fmt.Errorf("unknown asset %q", v)
}

// Valid reports whether a is one of the four known assets.
func (a Asset) Valid() bool {
	switch a {
	case Arvirium, Euro, Bitcoin, Ethereum:
		return true
	}
	return false
}

// Precision is the canonical number of decimal places.
func (a Asset) Precision() int32 {
	switch a {
	case Bitcoin:
		return 8
	case Ethereum:
		return 6
	default:
		return 2
	}
}

// Minimum is the smallest amount accepted in an operation.
func (a Asset) Minimum() decimal.Decimal {
	switch a {
	case Bitcoin:
		return minBitcoin
	case Ethereum:
		return minEthereum
	default:
		return minDefault
	}
}

// Symbol returns the ticker.
func (a Asset) Symbol() string {
	switch a {
	case Arvirium:
		return "ARV"
	case Euro:
		return "EUR"
	case Bitcoin:
		return "BTC"
	case Ethereum:
		return "ETH"
	default:
		return strings.ToUpper(string(a))
	}
}

// Round rounds v to the asset precision.
func (a Asset) Round(v decimal.Decimal) decimal.Decimal {
	return v.Round(a.Precision())
}

// Format renders v for display. Tiny BTC and ETH amounts switch to
// scientific notation so they do not collapse to zero.
func (a Asset) Format(v decimal.Decimal) string {
	switch a {
	case Bitcoin:
		if !v.IsZero() && v.Abs().LessThan(btcScientificBelow) {
			return strconv.FormatFloat(v.InexactFloat64(), 'e', 8, 64)
		}
	case Ethereum:
		if !v.IsZero() && v.Abs().LessThan(ethScientificBelow) {
			return strconv.FormatFloat(v.InexactFloat64(), 'e', 6, 64)
		}
	}
	return v.StringFixed(a.Precision())
}

func (a Asset) String() string {
	return string(a)
}
