package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"tuscoin/internal/asset"
)

// Kind classifies a transaction.
type Kind string

const (
	KindBuy      Kind = "buy"
	KindSell     Kind = "sell"
	KindExchange Kind = "exchange"
)

// Transaction is the immutable record of one completed operation.
// Buy and sell entries fill the fiat/coin/price fields, exchange entries
// fill both legs.
type Transaction struct {
	ID        string
	Timestamp time.Time
	Kind      Kind

	FiatAmount decimal.Decimal
	CoinAmount decimal.Decimal
	UnitPrice  decimal.Decimal

	SourceAsset  asset.Asset
	SourceAmount decimal.Decimal
	TargetAsset  asset.Asset
	TargetAmount decimal.Decimal
}

// CoinLeg returns the signed coin movement of the transaction.
func (t Transaction) CoinLeg() decimal.Decimal {
	switch t.Kind {
	case KindBuy:
		return t.CoinAmount
	case KindSell:
		return t.CoinAmount.Neg()
	case KindExchange:
		switch {
		case t.SourceAsset == asset.Arvirium:
			return t.SourceAmount.Neg()
		case t.TargetAsset == asset.Arvirium:
			return t.TargetAmount
		}
	}
	return decimal.Zero
}

// Account is a snapshot of balances plus the transaction log, newest first.
type Account struct {
	Coin         decimal.Decimal
	Fiat         decimal.Decimal
	Bitcoin      decimal.Decimal
	Ethereum     decimal.Decimal
	Transactions []Transaction
}

// BalanceOf returns the balance held in a.
func (acc Account) BalanceOf(a asset.Asset) decimal.Decimal {
	switch a {
	case asset.Arvirium:
		return acc.Coin
	case asset.Euro:
		return acc.Fiat
	case asset.Bitcoin:
		return acc.Bitcoin
	case asset.Ethereum:
		return acc.Ethereum
	}
	return decimal.Zero
}

func (acc *Account) setBalance(a asset.Asset, v decimal.Decimal) {
	switch a {
	case asset.Arvirium:
		acc.Coin = v
	case asset.Euro:
		acc.Fiat = v
	case asset.Bitcoin:
		acc.Bitcoin = v
	case asset.Ethereum:
		acc.Ethereum = v
	}
}

// Clone returns a deep copy so callers cannot alias the store's log.
func (acc Account) Clone() Account {
	out := acc
	out.Transactions = append([]Transaction(nil), acc.Transactions...)
	return out
}

// Delta maps assets to signed balance changes.
type Delta map[asset.Asset]decimal.Decimal

// Inverse negates every entry.
func (d Delta) Inverse() Delta {
	out := make(Delta, len(d))
	for a, v := range d {
		out[a] = v.Neg()
	}
	return out
}

// Store is the single persistence contract every ledger mutation routes through.
type Store interface {
	Read(ctx context.Context) (Account, error)
	ApplyDelta(ctx context.Context, delta Delta) (Account, error)
	AppendTransaction(ctx context.Context, tx Transaction) error
}

// Pinner is implemented by stores that route to a switchable backend. Pin
// returns the backend active now and keeps it active until release is called,
// so one operation never spans two backends.
type Pinner interface {
	Pin() (store Store, release func(), err error)
}

// KV is the string-keyed persistence the local variants write through.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	SetMany(ctx context.Context, values map[string]string) error
}
