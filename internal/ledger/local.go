package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"tuscoin/internal/asset"
)

// Canonical local keys.
const (
	KeyCoin         = "totalCoins"
	KeyFiat         = "mainBalance"
	KeyBitcoin      = "btcBalance"
	KeyEthereum     = "ethBalance"
	KeyTransactions = "transactions"
)

func balanceKey(a asset.Asset) string {
	switch a {
	case asset.Arvirium:
		return KeyCoin
	case asset.Euro:
		return KeyFiat
	case asset.Bitcoin:
		return KeyBitcoin
	case asset.Ethereum:
		return KeyEthereum
	}
	return ""
}

// LocalStore keeps an account in memory and writes every mutation through to
// a KV under an optional key prefix. With an empty prefix it is the anonymous
// variant.
type LocalStore struct {
	kv     KV
	prefix string

	mu      sync.RWMutex
	account Account
	found   bool
}

// OpenLocal loads the account stored under prefix.
func OpenLocal(ctx context.Context, kv KV, prefix string) (*LocalStore, error) {
	s := &LocalStore{kv: kv, prefix: prefix}
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Prefix returns the key namespace of the store.
func (s *LocalStore) Prefix() string {
	return s.prefix
}

func (s *LocalStore) key(k string) string {
	return s.prefix + k
}

func (s *LocalStore) load(ctx context.Context) error {
	var acc Account
	found := false
	for _, a := range asset.All {
		v, ok, err := s.readDecimal(ctx, balanceKey(a))
		if err != nil {
			return err
		}
		found = found || ok
		acc.setBalance(a, v)
	}

	raw, ok, err := s.kv.Get(ctx, s.key(KeyTransactions))
	found = found || ok
	if err != nil {
		return fmt.Errorf("read %s: %w", s.key(KeyTransactions), err)
	}
	txs, err := unmarshalTransactions(raw)
	if err != nil {
		return err
	}
	acc.Transactions = txs

	s.mu.Lock()
	s.account = acc
	s.found = found
	s.mu.Unlock()
	return nil
}

// Existed reports whether any key of the namespace was present when the store
// was opened.
func (s *LocalStore) Existed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.found
}

func (s *LocalStore) readDecimal(ctx context.Context, k string) (decimal.Decimal, bool, error) {
	raw, ok, err := s.kv.Get(ctx, s.key(k))
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("read %s: %w", s.key(k), err)
	}
	if !ok || raw == "" {
		return decimal.Zero, ok, nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("parse %s: %w", s.key(k), err)
	}
	return v, true, nil
}

// Read returns a copy of the current account.
func (s *LocalStore) Read(ctx context.Context) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.account.Clone(), nil
}

// ApplyDelta adds every delta to its balance and persists the touched keys in
// one batch. Coin, BTC and ETH may not go negative; fiat is not checked here.
func (s *LocalStore) ApplyDelta(ctx context.Context, delta Delta) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for a := range delta {
		if !a.Valid() {
			return Account{}, fmt.Errorf("apply delta: unknown asset %q", a)
		}
	}

	next := s.account
	values := make(map[string]string, len(delta))
	for _, a := range asset.All {
		d, ok := delta[a]
		if !ok {
			continue
		}
		current := s.account.BalanceOf(a)
		updated := current.Add(d)
		if a != asset.Euro && updated.IsNegative() {
			return Account{}, &InsufficientFundsError{Asset: a, Requested: d.Neg(), Available: current}
		}
		next.setBalance(a, updated)
		values[s.key(balanceKey(a))] = updated.String()
	}
	if len(values) > 0 {
		if err := s.kv.SetMany(ctx, values); err != nil {
			return Account{}, &PersistenceError{Op: "apply delta", Err: err}
		}
	}
	s.account = next
	return s.account.Clone(), nil
}

// AppendTransaction prepends tx to the log and persists it.
func (s *LocalStore) AppendTransaction(ctx context.Context, tx Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	txs := make([]Transaction, 0, len(s.account.Transactions)+1)
	txs = append(txs, tx)
	txs = append(txs, s.account.Transactions...)

	raw, err := marshalTransactions(txs)
	if err != nil {
		return err
	}
	if err := s.kv.SetMany(ctx, map[string]string{s.key(KeyTransactions): raw}); err != nil {
		return &PersistenceError{Op: "append transaction", Err: err}
	}
	s.account.Transactions = txs
	return nil
}

// Replace overwrites balances and log in one batch. Used when seeding a user
// namespace from the authoritative backend.
func (s *LocalStore) Replace(ctx context.Context, acc Account) error {
	raw, err := marshalTransactions(acc.Transactions)
	if err != nil {
		return err
	}
	values := map[string]string{s.key(KeyTransactions): raw}
	for _, a := range asset.All {
		values[s.key(balanceKey(a))] = acc.BalanceOf(a).String()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.SetMany(ctx, values); err != nil {
		return &PersistenceError{Op: "replace account", Err: err}
	}
	s.account = acc.Clone()
	return nil
}

var _ Store = (*LocalStore)(nil)
