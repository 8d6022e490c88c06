package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceSample is one archived oracle tick.
type PriceSample struct {
	Bucket        time.Time
	Price         decimal.Decimal
	PreviousPrice decimal.Decimal
	ChangePct     decimal.Decimal
	CreatedAt     time.Time
}

// AlertRecord captures an emitted price-move alert for de-duplication/auditing.
type AlertRecord struct {
	ID           int64
	SampleTS     time.Time
	Price        decimal.Decimal
	ReferenceTS  time.Time
	Reference    decimal.Decimal
	ChangePct    decimal.Decimal
	ThresholdPct decimal.Decimal
	Direction    string
	Channels     []string
	CreatedAt    time.Time
}

// LedgerEntry is an archived ledger transaction. Owner is "anonymous" or a
// remote user id.
type LedgerEntry struct {
	TxID         string
	Owner        string
	Kind         string
	ExecutedAt   time.Time
	FiatAmount   decimal.Decimal
	CoinAmount   decimal.Decimal
	UnitPrice    decimal.Decimal
	SourceAsset  string
	SourceAmount decimal.Decimal
	TargetAsset  string
	TargetAmount decimal.Decimal
	CreatedAt    time.Time
}
