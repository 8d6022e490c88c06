package ledger

import (
	"context"

	"github.com/shopspring/decimal"

	"tuscoin/internal/asset"
)

// Syncer mirrors local mutations to a remote account service. Implementations
// must not block and must not report failures back into the ledger: remote
// persistence is advisory.
type Syncer interface {
	SyncCoins(delta decimal.Decimal)
	SyncTransaction(tx Transaction)
}

// UserPrefix is the key namespace of an authenticated user's local cache.
func UserPrefix(userID string) string {
	return "user:" + userID + ":"
}

// AuthenticatedStore is the authenticated variant: the user's local namespace
// is updated synchronously and coin movements are mirrored remotely.
type AuthenticatedStore struct {
	*LocalStore
	UserID string
	sync   Syncer
}

// NewAuthenticated wraps a user-scoped LocalStore.
func NewAuthenticated(local *LocalStore, userID string, sync Syncer) *AuthenticatedStore {
	return &AuthenticatedStore{LocalStore: local, UserID: userID, sync: sync}
}

// ApplyDelta applies locally then mirrors the coin component.
func (s *AuthenticatedStore) ApplyDelta(ctx context.Context, delta Delta) (Account, error) {
	acc, err := s.LocalStore.ApplyDelta(ctx, delta)
	if err != nil {
		return Account{}, err
	}
	if coins, ok := delta[asset.Arvirium]; ok && !coins.IsZero() && s.sync != nil {
		s.sync.SyncCoins(coins)
	}
	return acc, nil
}

// AppendTransaction appends locally then mirrors entries that move the coin.
func (s *AuthenticatedStore) AppendTransaction(ctx context.Context, tx Transaction) error {
	if err := s.LocalStore.AppendTransaction(ctx, tx); err != nil {
		return err
	}
	if s.sync != nil && !tx.CoinLeg().IsZero() {
		s.sync.SyncTransaction(tx)
	}
	return nil
}

var _ Store = (*AuthenticatedStore)(nil)
