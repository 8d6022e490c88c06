package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"tuscoin/internal/broadcast"
	"tuscoin/internal/oracle"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestPublisherMirrorsEvents(t *testing.T) {
	w := &fakeWriter{}
	p := NewPublisherWithWriter(w, time.Second, zerolog.Nop())
	b := broadcast.New(zerolog.Nop())
	p.Attach(b)

	b.Publish(broadcast.PriceChanged, oracle.PriceSample{Timestamp: time.Now(), Price: decimal.RequireFromString("14.8")})

	if len(w.messages) != 1 {
		t.Fatalf("expected one message, got %d", len(w.messages))
	}
	msg := w.messages[0]
	if string(msg.Key) != string(broadcast.PriceChanged) {
		t.Fatalf("key = %q", msg.Key)
	}
	var decoded struct {
		Kind    string `json:"kind"`
		Payload struct {
			Price string `json:"price"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Kind != "priceChanged" || decoded.Payload.Price != "14.80" {
		t.Fatalf("unexpected message %s", msg.Value)
	}
	if len(msg.Headers) != 1 || msg.Headers[0].Key != "event-id" {
		t.Fatalf("missing event id header: %+v", msg.Headers)
	}

	if err := p.Close(); err != nil || !w.closed {
		t.Fatal("close should reach the writer")
	}
}

func TestPublisherWriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := NewPublisherWithWriter(w, time.Second, zerolog.Nop())

	err := p.Handle(broadcast.Event{Kind: broadcast.PriceChanged, Payload: oracle.PriceSample{Price: decimal.NewFromInt(15)}})
	if err == nil {
		t.Fatal("expected write error")
	}
}
