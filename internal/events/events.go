// Package events renders broadcaster events and ledger state as the JSON
// documents the HTTP API, the websocket stream and Kafka consumers share.
package events

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tuscoin/internal/asset"
	"tuscoin/internal/broadcast"
	"tuscoin/internal/ledger"
	"tuscoin/internal/oracle"
	"tuscoin/internal/session"
)

// Envelope wraps one event for the wire.
type Envelope struct {
	ID      string    `json:"id"`
	Kind    string    `json:"kind"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload"`
}

// PriceView is a price sample.
type PriceView struct {
	Price     string    `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// BalancesView lists balances. Values carry at least the asset's display
// precision and never lose stored digits.
type BalancesView struct {
	Coins    string `json:"coins"`
	Fiat     string `json:"fiat"`
	Bitcoin  string `json:"bitcoin"`
	Ethereum string `json:"ethereum"`
}

// TransactionView is one log entry.
type TransactionView struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Timestamp    time.Time `json:"timestamp"`
	FiatAmount   string    `json:"fiatAmount,omitempty"`
	CoinAmount   string    `json:"coinAmount,omitempty"`
	UnitPrice    string    `json:"unitPrice"`
	SourceAsset  string    `json:"sourceAsset,omitempty"`
	SourceAmount string    `json:"sourceAmount,omitempty"`
	TargetAsset  string    `json:"targetAsset,omitempty"`
	TargetAmount string    `json:"targetAmount,omitempty"`
}

// Price renders a sample.
func Price(s oracle.PriceSample) PriceView {
	return PriceView{Price: s.Price.StringFixed(2), Timestamp: s.Timestamp.UTC()}
}

// Balances renders the balances of acc.
func Balances(acc ledger.Account) BalancesView {
	return BalancesView{
		Coins:    plain(asset.Arvirium, acc.Coin),
		Fiat:     plain(asset.Euro, acc.Fiat),
		Bitcoin:  plain(asset.Bitcoin, acc.Bitcoin),
		Ethereum: plain(asset.Ethereum, acc.Ethereum),
	}
}

// Transaction renders one transaction.
func Transaction(tx ledger.Transaction) TransactionView {
	view := TransactionView{
		ID:        tx.ID,
		Type:      string(tx.Kind),
		Timestamp: tx.Timestamp.UTC(),
		UnitPrice: tx.UnitPrice.StringFixed(2),
	}
	switch tx.Kind {
	case ledger.KindExchange:
		view.SourceAsset = string(tx.SourceAsset)
		view.SourceAmount = plain(tx.SourceAsset, tx.SourceAmount)
		view.TargetAsset = string(tx.TargetAsset)
		view.TargetAmount = plain(tx.TargetAsset, tx.TargetAmount)
	default:
		view.FiatAmount = plain(asset.Euro, tx.FiatAmount)
		view.CoinAmount = plain(asset.Arvirium, tx.CoinAmount)
	}
	return view
}

// Transactions renders a log, preserving order.
func Transactions(txs []ledger.Transaction) []TransactionView {
	out := make([]TransactionView, 0, len(txs))
	for _, tx := range txs {
		out = append(out, Transaction(tx))
	}
	return out
}

// Encode turns a broadcaster event into its wire envelope.
func Encode(ev broadcast.Event) (Envelope, error) {
	env := Envelope{ID: uuid.NewString(), Kind: string(ev.Kind), At: ev.At.UTC()}
	switch p := ev.Payload.(type) {
	case oracle.PriceSample:
		env.Payload = Price(p)
	case ledger.Account:
		env.Payload = Balances(p)
	case ledger.Transaction:
		env.Payload = Transaction(p)
	case session.State:
		env.Payload = p
	default:
		return Envelope{}, fmt.Errorf("events: unsupported payload %T for %s", ev.Payload, ev.Kind)
	}
	return env, nil
}

func plain(a asset.Asset, v decimal.Decimal) string {
	if !v.Equal(a.Round(v)) {
		return v.String()
	}
	return v.StringFixed(a.Precision())
}
