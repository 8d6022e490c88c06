package broadcast

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Kind names an event stream.
type Kind string

const (
	PriceChanged     Kind = "priceChanged"
	BalancesChanged  Kind = "balancesChanged"
	TransactionAdded Kind = "transactionAdded"
	AuthChanged      Kind = "authChanged"
)

// Kinds lists every event kind.
var Kinds = []Kind{PriceChanged, BalancesChanged, TransactionAdded, AuthChanged}

// Event is delivered to subscribers.
type Event struct {
	Kind    Kind
	At      time.Time
	Payload any
}

// Handler reacts to an event. A returned error is logged and does not stop
// delivery to the remaining handlers.
type Handler func(Event) error

// Notifier is the publishing side modules depend on.
type Notifier interface {
	Publish(kind Kind, payload any)
}

type subscriber struct {
	id      uint64
	kind    Kind
	all     bool
	handler Handler
}

// Broadcaster fans events out synchronously, in subscription order.
type Broadcaster struct {
	logger zerolog.Logger
	now    func() time.Time

	mu     sync.RWMutex
	nextID uint64
	subs   []subscriber
}

// New constructs a broadcaster.
func New(logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		logger: logger.With().Str("component", "broadcast").Logger(),
		now:    time.Now,
	}
}

// Subscription is returned by Subscribe; Unsubscribe is idempotent.
type Subscription struct {
	b    *Broadcaster
	id   uint64
	once sync.Once
}

// Unsubscribe removes the handler.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.b == nil {
		return
	}
	s.once.Do(func() { s.b.remove(s.id) })
}

// Subscribe registers handler for one event kind.
func (b *Broadcaster) Subscribe(kind Kind, handler Handler) *Subscription {
	return b.add(subscriber{kind: kind, handler: handler})
}

// SubscribeAll registers handler for every event kind.
func (b *Broadcaster) SubscribeAll(handler Handler) *Subscription {
	return b.add(subscriber{all: true, handler: handler})
}

func (b *Broadcaster) add(sub subscriber) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub.id = b.nextID
	b.subs = append(b.subs, sub)
	return &Subscription{b: b, id: sub.id}
}

func (b *Broadcaster) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish invokes every current subscriber of kind. Handlers run on the
// caller's goroutine; a handler may subscribe or unsubscribe without
// affecting the delivery already in progress.
func (b *Broadcaster) Publish(kind Kind, payload any) {
	b.mu.RLock()
	targets := make([]subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.all || sub.kind == kind {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	ev := Event{Kind: kind, At: b.now().UTC(), Payload: payload}
	for _, sub := range targets {
		if err := b.deliver(sub, ev); err != nil {
			b.logger.Error().Err(err).Str("event", string(kind)).Uint64("subscriber", sub.id).Msg("subscriber failed")
		}
	}
}

func (b *Broadcaster) deliver(sub subscriber, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return sub.handler(ev)
}

var _ Notifier = (*Broadcaster)(nil)
