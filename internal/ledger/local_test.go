package ledger

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tuscoin/internal/asset"
)

type memKV struct {
	mu      sync.Mutex
	values  map[string]string
	failSet error
}

func newMemKV() *memKV {
	return &memKV{values: make(map[string]string)}
}

func (m *memKV) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memKV) SetMany(ctx context.Context, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSet != nil {
		return m.failSet
	}
	for k, v := range values {
		m.values[k] = v
	}
	return nil
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestLocalStoreLoadsCanonicalKeys(t *testing.T) {
	kv := newMemKV()
	kv.values[KeyFiat] = "100.5"
	kv.values[KeyCoin] = "2"
	kv.values[KeyBitcoin] = "0.00000120"
	kv.values[KeyTransactions] = `[{"date":"3/14/2025, 10:22:01 AM","amount":30,"coins":2,"price":15}]`

	store, err := OpenLocal(context.Background(), kv, "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	acc, _ := store.Read(context.Background())
	if !acc.Fiat.Equal(dec("100.5")) || !acc.Coin.Equal(dec("2")) || !acc.Bitcoin.Equal(dec("0.0000012")) {
		t.Fatalf("unexpected balances: %+v", acc)
	}
	if !acc.Ethereum.IsZero() {
		t.Fatalf("missing key should load as zero, got %s", acc.Ethereum)
	}
	if len(acc.Transactions) != 1 {
		t.Fatalf("expected 1 legacy transaction, got %d", len(acc.Transactions))
	}
	tx := acc.Transactions[0]
	if tx.Kind != KindBuy || !tx.UnitPrice.Equal(dec("15")) || !tx.CoinAmount.Equal(dec("2")) {
		t.Fatalf("legacy record decoded wrong: %+v", tx)
	}
	if tx.Timestamp.IsZero() {
		t.Fatal("legacy locale date should parse")
	}
}

func TestExistedTracksNamespace(t *testing.T) {
	kv := newMemKV()
	kv.values[UserPrefix("u1")+KeyFiat] = "0"

	fresh, err := OpenLocal(context.Background(), kv, UserPrefix("u2"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if fresh.Existed() {
		t.Fatal("namespace without keys should not exist")
	}
	known, err := OpenLocal(context.Background(), kv, UserPrefix("u1"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !known.Existed() {
		t.Fatal("namespace with a zero balance key should exist")
	}
}

func TestApplyDeltaWritesThrough(t *testing.T) {
	kv := newMemKV()
	store, err := OpenLocal(context.Background(), kv, "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	acc, err := store.ApplyDelta(context.Background(), Delta{asset.Euro: dec("50"), asset.Ethereum: dec("0.5")})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !acc.Fiat.Equal(dec("50")) || !acc.Ethereum.Equal(dec("0.5")) {
		t.Fatalf("unexpected account: %+v", acc)
	}
	if kv.values[KeyFiat] != "50" || kv.values[KeyEthereum] != "0.5" {
		t.Fatalf("values not persisted: %#v", kv.values)
	}
	if _, ok := kv.values[KeyCoin]; ok {
		t.Fatal("untouched balance should not be written")
	}
}

func TestApplyDeltaRejectsNegativeCrypto(t *testing.T) {
	kv := newMemKV()
	store, _ := OpenLocal(context.Background(), kv, "")

	for _, a := range []asset.Asset{asset.Arvirium, asset.Bitcoin, asset.Ethereum} {
		_, err := store.ApplyDelta(context.Background(), Delta{a: dec("-0.01")})
		var insufficient *InsufficientFundsError
		if !errors.As(err, &insufficient) {
			t.Fatalf("%s: expected InsufficientFundsError, got %v", a, err)
		}
		if insufficient.Asset != a {
			t.Fatalf("error should name %s, got %s", a, insufficient.Asset)
		}
	}

	// fiat is validated by the engine, not clamped by the store
	acc, err := store.ApplyDelta(context.Background(), Delta{asset.Euro: dec("-1")})
	if err != nil {
		t.Fatalf("fiat delta should not be rejected by the store: %v", err)
	}
	if !acc.Fiat.Equal(dec("-1")) {
		t.Fatalf("fiat = %s, want -1", acc.Fiat)
	}
}

func TestApplyDeltaIsAllOrNothing(t *testing.T) {
	kv := newMemKV()
	store, _ := OpenLocal(context.Background(), kv, "")
	if _, err := store.ApplyDelta(context.Background(), Delta{asset.Euro: dec("10")}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err := store.ApplyDelta(context.Background(), Delta{asset.Euro: dec("5"), asset.Bitcoin: dec("-1")})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	acc, _ := store.Read(context.Background())
	if !acc.Fiat.Equal(dec("10")) {
		t.Fatalf("partial delta applied: fiat = %s", acc.Fiat)
	}

	kv.failSet = errors.New("disk full")
	_, err = store.ApplyDelta(context.Background(), Delta{asset.Euro: dec("5")})
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	acc, _ = store.Read(context.Background())
	if !acc.Fiat.Equal(dec("10")) {
		t.Fatalf("failed write must not change memory: fiat = %s", acc.Fiat)
	}
}

func TestAppendTransactionNewestFirst(t *testing.T) {
	kv := newMemKV()
	store, _ := OpenLocal(context.Background(), kv, "")

	first := Transaction{ID: "a", Timestamp: time.UnixMilli(1000), Kind: KindBuy, FiatAmount: dec("30"), CoinAmount: dec("2"), UnitPrice: dec("15")}
	second := Transaction{ID: "b", Timestamp: time.UnixMilli(2000), Kind: KindExchange,
		SourceAsset: asset.Arvirium, SourceAmount: dec("1"), TargetAsset: asset.Bitcoin, TargetAmount: dec("0.0000012")}

	if err := store.AppendTransaction(context.Background(), first); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.AppendTransaction(context.Background(), second); err != nil {
		t.Fatalf("append: %v", err)
	}

	reopened, err := OpenLocal(context.Background(), kv, "")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	acc, _ := reopened.Read(context.Background())
	if len(acc.Transactions) != 2 || acc.Transactions[0].ID != "b" || acc.Transactions[1].ID != "a" {
		t.Fatalf("unexpected log order: %+v", acc.Transactions)
	}
	ex := acc.Transactions[0]
	if ex.SourceAsset != asset.Arvirium || ex.TargetAsset != asset.Bitcoin || !ex.TargetAmount.Equal(dec("0.0000012")) {
		t.Fatalf("exchange legs lost: %+v", ex)
	}
	if !strings.Contains(kv.values[KeyTransactions], `"fromCurrency":"arvirium"`) {
		t.Fatalf("exchange should persist with legacy field names: %s", kv.values[KeyTransactions])
	}
}

func TestReadReturnsCopy(t *testing.T) {
	kv := newMemKV()
	store, _ := OpenLocal(context.Background(), kv, "")
	_ = store.AppendTransaction(context.Background(), Transaction{ID: "a", Kind: KindBuy})

	acc, _ := store.Read(context.Background())
	acc.Transactions[0].ID = "mutated"

	again, _ := store.Read(context.Background())
	if again.Transactions[0].ID != "a" {
		t.Fatal("Read must not expose the internal log")
	}
}

type recordingSyncer struct {
	coins []decimal.Decimal
	txs   []Transaction
}

func (r *recordingSyncer) SyncCoins(delta decimal.Decimal) { r.coins = append(r.coins, delta) }
func (r *recordingSyncer) SyncTransaction(tx Transaction)  { r.txs = append(r.txs, tx) }

func TestAuthenticatedStoreMirrorsCoinMovements(t *testing.T) {
	kv := newMemKV()
	local, err := OpenLocal(context.Background(), kv, UserPrefix("42"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	syncer := &recordingSyncer{}
	store := NewAuthenticated(local, "42", syncer)

	if _, err := store.ApplyDelta(context.Background(), Delta{asset.Euro: dec("-30"), asset.Arvirium: dec("2")}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, err := store.ApplyDelta(context.Background(), Delta{asset.Euro: dec("5")}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(syncer.coins) != 1 || !syncer.coins[0].Equal(dec("2")) {
		t.Fatalf("expected one coin sync of 2, got %v", syncer.coins)
	}
	if kv.values["user:42:"+KeyCoin] != "2" {
		t.Fatalf("user namespace not written: %#v", kv.values)
	}
	if _, ok := kv.values[KeyCoin]; ok {
		t.Fatal("authenticated store must not touch anonymous keys")
	}

	_ = store.AppendTransaction(context.Background(), Transaction{Kind: KindExchange, SourceAsset: asset.Euro, SourceAmount: dec("1"), TargetAsset: asset.Bitcoin, TargetAmount: dec("0.00000008")})
	_ = store.AppendTransaction(context.Background(), Transaction{Kind: KindBuy, FiatAmount: dec("30"), CoinAmount: dec("2"), UnitPrice: dec("15")})
	if len(syncer.txs) != 1 || syncer.txs[0].Kind != KindBuy {
		t.Fatalf("only coin-moving transactions are mirrored, got %+v", syncer.txs)
	}
}
