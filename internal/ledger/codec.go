package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tuscoin/internal/asset"
)

// txRecord is the persisted shape of a transaction. Field names follow the
// keys the browser build wrote so existing histories keep loading.
type txRecord struct {
	ID           string           `json:"id,omitempty"`
	Timestamp    int64            `json:"timestamp,omitempty"`
	Date         string           `json:"date,omitempty"`
	Type         string           `json:"type,omitempty"`
	Amount       *decimal.Decimal `json:"amount,omitempty"`
	Coins        *decimal.Decimal `json:"coins,omitempty"`
	Price        *decimal.Decimal `json:"price,omitempty"`
	FromCurrency string           `json:"fromCurrency,omitempty"`
	FromAmount   *decimal.Decimal `json:"fromAmount,omitempty"`
	ToCurrency   string           `json:"toCurrency,omitempty"`
	ToAmount     *decimal.Decimal `json:"toAmount,omitempty"`
}

var legacyDateLayouts = []string{
	"1/2/2006, 3:04:05 PM",
	"02/01/2006, 15:04:05",
	"02.01.2006, 15:04:05",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

func ptr(d decimal.Decimal) *decimal.Decimal { return &d }

func deref(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

func encodeTransaction(tx Transaction) txRecord {
	rec := txRecord{
		ID:        tx.ID,
		Timestamp: tx.Timestamp.UnixMilli(),
		Date:      tx.Timestamp.UTC().Format(time.RFC3339),
		Type:      string(tx.Kind),
	}
	switch tx.Kind {
	case KindExchange:
		rec.FromCurrency = string(tx.SourceAsset)
		rec.FromAmount = ptr(tx.SourceAmount)
		rec.ToCurrency = string(tx.TargetAsset)
		rec.ToAmount = ptr(tx.TargetAmount)
	default:
		rec.Amount = ptr(tx.FiatAmount)
		rec.Coins = ptr(tx.CoinAmount)
		rec.Price = ptr(tx.UnitPrice)
	}
	return rec
}

func decodeTransaction(rec txRecord) (Transaction, error) {
	tx := Transaction{ID: rec.ID}

	switch {
	case rec.Timestamp > 0:
		tx.Timestamp = time.UnixMilli(rec.Timestamp).UTC()
	case rec.Date != "":
		for _, layout := range legacyDateLayouts {
			if ts, err := time.Parse(layout, rec.Date); err == nil {
				tx.Timestamp = ts.UTC()
				break
			}
		}
	}

	switch rec.Type {
	case "", string(KindBuy):
		tx.Kind = KindBuy
	case string(KindSell):
		tx.Kind = KindSell
	case string(KindExchange):
		tx.Kind = KindExchange
	default:
		return Transaction{}, fmt.Errorf("unknown transaction type %q", rec.Type)
	}

	if tx.Kind == KindExchange {
		src, err := asset.Parse(rec.FromCurrency)
		if err != nil {
			return Transaction{}, fmt.Errorf("decode exchange source: %w", err)
		}
		dst, err := asset.Parse(rec.ToCurrency)
		if err != nil {
			return Transaction{}, fmt.Errorf("decode exchange target: %w", err)
		}
		tx.SourceAsset = src
		tx.SourceAmount = deref(rec.FromAmount)
		tx.TargetAsset = dst
		tx.TargetAmount = deref(rec.ToAmount)
		return tx, nil
	}

	tx.FiatAmount = deref(rec.Amount)
	tx.CoinAmount = deref(rec.Coins)
	tx.UnitPrice = deref(rec.Price)
	return tx, nil
}

func marshalTransactions(txs []Transaction) (string, error) {
	records := make([]txRecord, 0, len(txs))
	for _, tx := range txs {
		records = append(records, encodeTransaction(tx))
	}
	raw, err := json.Marshal(records)
	if err != nil {
		return "", fmt.Errorf("marshal transactions: %w", err)
	}
	return string(raw), nil
}

func unmarshalTransactions(raw string) ([]Transaction, error) {
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var records []*txRecord
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return nil, fmt.Errorf("unmarshal transactions: %w", err)
	}
	txs := make([]Transaction, 0, len(records))
	for _, rec := range records {
		if rec == nil {
			continue
		}
		tx, err := decodeTransaction(*rec)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}
