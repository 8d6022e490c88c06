package remote

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tuscoin/internal/asset"
	"tuscoin/internal/ledger"
)

// Syncer mirrors local coin movements to the service without blocking the
// caller. Calls reach the service one at a time in the order they were made,
// since the service rejects a subtract that exceeds its balance. Failures are
// logged; local state is never rolled back.
type Syncer struct {
	client  *Client
	token   string
	timeout time.Duration
	logger  zerolog.Logger

	mu      sync.Mutex
	queue   []syncCall
	running bool
	wg      sync.WaitGroup
}

type syncCall struct {
	op   string
	call func(ctx context.Context) error
}

// NewSyncer binds a client to a session token.
func NewSyncer(client *Client, token string, timeout time.Duration, logger zerolog.Logger) *Syncer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Syncer{
		client:  client,
		token:   token,
		timeout: timeout,
		logger:  logger.With().Str("component", "remote_sync").Logger(),
	}
}

// SyncCoins pushes a signed coin delta.
func (s *Syncer) SyncCoins(delta decimal.Decimal) {
	op := CoinAdd
	if delta.IsNegative() {
		op = CoinSubtract
	}
	amount := delta.Abs()
	s.spawn("update coins", func(ctx context.Context) error {
		_, err := s.client.UpdateCoins(ctx, s.token, amount, op)
		return err
	})
}

// SyncTransaction pushes the coin leg of tx.
func (s *Syncer) SyncTransaction(tx ledger.Transaction) {
	remoteTx := FromLedger(tx)
	s.spawn("add transaction", func(ctx context.Context) error {
		return s.client.AddTransaction(ctx, s.token, remoteTx)
	})
}

// Wait blocks until the queue is drained.
func (s *Syncer) Wait() {
	s.wg.Wait()
}

// spawn queues call behind every earlier one and starts the worker when idle.
func (s *Syncer) spawn(op string, call func(ctx context.Context) error) {
	s.wg.Add(1)
	s.mu.Lock()
	s.queue = append(s.queue, syncCall{op: op, call: call})
	if !s.running {
		s.running = true
		go s.drain()
	}
	s.mu.Unlock()
}

func (s *Syncer) drain() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.running = false
			s.mu.Unlock()
			return
		}
		next := s.queue[0]
		s.queue[0] = syncCall{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.run(next)
		s.wg.Done()
	}
}

func (s *Syncer) run(c syncCall) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := c.call(ctx); err != nil {
		perr := &ledger.PersistenceError{Op: "remote " + c.op, Err: err}
		s.logger.Warn().Err(perr).Msg("remote sync failed, local state kept")
		return
	}
	s.logger.Debug().Str("op", c.op).Msg("remote sync ok")
}

// FromLedger reduces a ledger entry to the service's {type, amount, price}.
func FromLedger(tx ledger.Transaction) Transaction {
	return Transaction{
		Type:      string(tx.Kind),
		Amount:    tx.CoinLeg().Abs(),
		Price:     tx.UnitPrice,
		Timestamp: tx.Timestamp,
	}
}

// ToLedger expands a remote record into a ledger entry. The service keeps no
// counter leg for exchanges, so those are recorded as euro into coin at the
// stored price.
func ToLedger(tx Transaction) ledger.Transaction {
	id := tx.ID
	if id == "" {
		id = uuid.NewString()
	}
	out := ledger.Transaction{
		ID:        id,
		Timestamp: tx.Timestamp.UTC(),
		UnitPrice: tx.Price,
	}
	switch tx.Type {
	case string(ledger.KindSell):
		out.Kind = ledger.KindSell
		out.CoinAmount = tx.Amount
		out.FiatAmount = tx.Amount.Mul(tx.Price)
	case string(ledger.KindExchange):
		out.Kind = ledger.KindExchange
		out.SourceAsset = asset.Euro
		out.SourceAmount = tx.Amount.Mul(tx.Price)
		out.TargetAsset = asset.Arvirium
		out.TargetAmount = tx.Amount
	default:
		out.Kind = ledger.KindBuy
		out.CoinAmount = tx.Amount
		out.FiatAmount = tx.Amount.Mul(tx.Price)
	}
	return out
}

var _ ledger.Syncer = (*Syncer)(nil)
