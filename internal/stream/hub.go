// Package stream pushes broadcaster events to browser clients over websockets.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"tuscoin/internal/broadcast"
	"tuscoin/internal/events"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 32
)

// Options configures a Hub.
type Options struct {
	AllowOrigins []string
	PingInterval time.Duration
	// Snapshot returns the events replayed to a client right after it connects.
	// It runs under the hub lock and must not publish synchronously.
	Snapshot func() []broadcast.Event
	Logger   zerolog.Logger
}

// Hub tracks connected clients and fans events out to them. Slow clients whose
// buffer fills up are disconnected rather than blocking the publisher.
type Hub struct {
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	snapshot     func() []broadcast.Event
	logger       zerolog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub constructs a hub.
func NewHub(opts Options) *Hub {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	h := &Hub{
		pingInterval: opts.PingInterval,
		snapshot:     opts.Snapshot,
		logger:       opts.Logger.With().Str("component", "stream").Logger(),
		clients:      make(map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(opts.AllowOrigins),
	}
	return h
}

// Attach subscribes the hub to every event kind.
func (h *Hub) Attach(b *broadcast.Broadcaster) *broadcast.Subscription {
	return b.SubscribeAll(h.Handle)
}

// Handle encodes ev once and queues it for every client.
func (h *Hub) Handle(ev broadcast.Event) error {
	payload, err := encode(ev)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			h.logger.Warn().Str("remote", c.conn.RemoteAddr().String()).Msg("client too slow, disconnecting")
			h.dropLocked(c)
		}
	}
	return nil
}

// Clients reports the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	// The snapshot is taken and queued while holding the lock so events
	// published meanwhile wait in Handle and follow it.
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	if h.snapshot != nil {
		for _, ev := range h.snapshot() {
			payload, err := encode(ev)
			if err != nil {
				h.logger.Warn().Err(err).Msg("skip snapshot event")
				continue
			}
			select {
			case c.send <- payload:
			default:
				h.logger.Warn().Msg("snapshot exceeds client buffer")
			}
		}
	}
	h.mu.Unlock()

	h.logger.Debug().Str("remote", conn.RemoteAddr().String()).Msg("client connected")
	go h.writePump(c)
	go h.readPump(c)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.dropLocked(c)
	}
}

// Serve runs an HTTP server exposing the hub at /ws until ctx is done.
func (h *Hub) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", h)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		h.logger.Info().Str("addr", addr).Msg("stream listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		h.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(c)
}

func (h *Hub) dropLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(h.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.drop(c)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				h.drop(c)
				return
			}
		}
	}
}

// readPump discards client frames; it exists to process control messages and
// notice disconnects.
func (h *Hub) readPump(c *client) {
	defer h.drop(c)

	pongWait := h.pingInterval * 2
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Msg("client read failed")
			}
			return
		}
	}
}

func encode(ev broadcast.Event) ([]byte, error) {
	env, err := events.Encode(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}
