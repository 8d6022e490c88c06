package analytics

import (
	"github.com/shopspring/decimal"

	"tuscoin/internal/asset"
	"tuscoin/internal/ledger"
	"tuscoin/internal/rates"
)

var hundred = decimal.NewFromInt(100)

// ProfitLoss summarizes the coin position against fiat spent and received.
type ProfitLoss struct {
	Invested     decimal.Decimal `json:"invested"`
	Sold         decimal.Decimal `json:"sold"`
	Holdings     decimal.Decimal `json:"holdings"`
	CurrentValue decimal.Decimal `json:"currentValue"`
	Result       decimal.Decimal `json:"result"`
	ResultPct    decimal.Decimal `json:"resultPct"`
	Buys         int             `json:"buys"`
	Sells        int             `json:"sells"`
}

// ComputeProfitLoss values current holdings at price and nets them against
// buy and sell flows: result = holdings·price + sold − invested.
func ComputeProfitLoss(acc ledger.Account, price decimal.Decimal) ProfitLoss {
	var pl ProfitLoss
	for _, tx := range acc.Transactions {
		switch tx.Kind {
		case ledger.KindBuy:
			pl.Invested = pl.Invested.Add(tx.FiatAmount)
			pl.Buys++
		case ledger.KindSell:
			pl.Sold = pl.Sold.Add(tx.FiatAmount)
			pl.Sells++
		}
	}
	pl.Holdings = acc.Coin
	pl.CurrentValue = acc.Coin.Mul(price)
	pl.Result = pl.CurrentValue.Add(pl.Sold).Sub(pl.Invested)
	if pl.Invested.IsPositive() {
		pl.ResultPct = pl.Result.Div(pl.Invested).Mul(hundred).Round(2)
	}
	return pl
}

// Holding is one line of the portfolio.
type Holding struct {
	Asset   asset.Asset     `json:"asset"`
	Symbol  string          `json:"symbol"`
	Balance decimal.Decimal `json:"balance"`
	Value   decimal.Decimal `json:"value"`
	Share   decimal.Decimal `json:"share"`
}

// Portfolio values every balance in euro.
type Portfolio struct {
	Holdings []Holding       `json:"holdings"`
	Total    decimal.Decimal `json:"total"`
}

// ComputePortfolio values each asset at snap; share is the percentage of the
// total, rounded to 2 places.
func ComputePortfolio(acc ledger.Account, snap rates.Snapshot) Portfolio {
	var p Portfolio
	for _, a := range asset.All {
		balance := acc.BalanceOf(a)
		value := balance.Mul(snap.Rate(a)).Round(2)
		p.Holdings = append(p.Holdings, Holding{Asset: a, Symbol: a.Symbol(), Balance: balance, Value: value})
		p.Total = p.Total.Add(value)
	}
	if p.Total.IsPositive() {
		for i := range p.Holdings {
			p.Holdings[i].Share = p.Holdings[i].Value.Div(p.Total).Mul(hundred).Round(2)
		}
	}
	return p
}
