package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tuscoin/internal/broadcast"
	"tuscoin/internal/ledger"
	"tuscoin/internal/storage"
)

// AnonymousOwner tags archived entries made without a session.
const AnonymousOwner = "anonymous"

// LedgerArchiver copies every committed transaction into the archive.
type LedgerArchiver struct {
	archive storage.LedgerArchive
	owner   func() string
	timeout time.Duration
	logger  zerolog.Logger
}

// NewLedgerArchiver constructs the archiver. owner reports who the active
// ledger belongs to when the event fires.
func NewLedgerArchiver(archive storage.LedgerArchive, owner func() string, timeout time.Duration, logger zerolog.Logger) *LedgerArchiver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if owner == nil {
		owner = func() string { return AnonymousOwner }
	}
	return &LedgerArchiver{
		archive: archive,
		owner:   owner,
		timeout: timeout,
		logger:  logger.With().Str("component", "ledger_archive").Logger(),
	}
}

// Attach subscribes the archiver to transactionAdded.
func (a *LedgerArchiver) Attach(b *broadcast.Broadcaster) *broadcast.Subscription {
	return b.Subscribe(broadcast.TransactionAdded, a.Handle)
}

// Handle archives one transactionAdded event. Failures are logged and returned
// to the broadcaster, which only logs them.
func (a *LedgerArchiver) Handle(ev broadcast.Event) error {
	tx, ok := ev.Payload.(ledger.Transaction)
	if !ok {
		return fmt.Errorf("unexpected payload %T", ev.Payload)
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	entry := EntryFromTransaction(a.owner(), tx)
	if err := a.archive.ArchiveTransaction(ctx, entry); err != nil {
		a.logger.Error().Err(err).Str("tx_id", tx.ID).Msg("failed to archive transaction")
		return err
	}
	return nil
}

// EntryFromTransaction maps a ledger transaction onto its archive row.
func EntryFromTransaction(owner string, tx ledger.Transaction) storage.LedgerEntry {
	return storage.LedgerEntry{
		TxID:         tx.ID,
		Owner:        owner,
		Kind:         string(tx.Kind),
		ExecutedAt:   tx.Timestamp,
		FiatAmount:   tx.FiatAmount,
		CoinAmount:   tx.CoinAmount,
		UnitPrice:    tx.UnitPrice,
		SourceAsset:  string(tx.SourceAsset),
		SourceAmount: tx.SourceAmount,
		TargetAsset:  string(tx.TargetAsset),
		TargetAmount: tx.TargetAmount,
	}
}
