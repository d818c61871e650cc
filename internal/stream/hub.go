// Package stream broadcasts rendered lines to websocket clients.
//
// Every connected client has a bounded queue. A client that falls behind by
// more than its queue is disconnected rather than slowing down the bus
// callback that feeds the hub.
package stream

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	defaultQueueSize    = 256
	defaultWriteTimeout = 5 * time.Second
)

type client struct {
	send chan string
	once sync.Once
}

func (c *client) close() { c.once.Do(func() { close(c.send) }) }

// Hub is a render.Sink and an [http.Handler] serving the websocket endpoint.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool

	queueSize      int
	writeTimeout   time.Duration
	originPatterns []string
}

// Option configures a [Hub].
type Option func(*Hub)

// WithQueueSize sets the per-client queue length.
func WithQueueSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

// WithWriteTimeout bounds a single frame write.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

// WithOriginPatterns allows cross-origin browser clients matching patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Hub) { h.originPatterns = patterns }
}

// NewHub returns an empty hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		clients:      make(map[*client]struct{}),
		queueSize:    defaultQueueSize,
		writeTimeout: defaultWriteTimeout,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Emit queues line for every client. It never blocks.
func (h *Hub) Emit(line string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- line:
		default:
			slog.Warn("stream: dropping slow client", "queue", h.queueSize)
			delete(h.clients, c)
			c.close()
		}
	}
	return nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
	return nil
}

// ServeHTTP upgrades the request and streams lines until the client leaves,
// falls behind, or the hub closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		slog.Debug("stream: upgrade failed", "err", err)
		return
	}
	defer conn.CloseNow()

	c := &client{send: make(chan string, h.queueSize)}
	if !h.register(c) {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer h.unregister(c)

	// Clients only listen; CloseRead handles control frames and cancels ctx
	// when the peer goes away.
	ctx := conn.CloseRead(r.Context())
	slog.Debug("stream: client connected", "remote", r.RemoteAddr)

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-c.send:
			if !ok {
				conn.Close(websocket.StatusPolicyViolation, "too slow or server closing")
				return
			}
			if err := h.write(ctx, conn, line); err != nil {
				slog.Debug("stream: write failed", "remote", r.RemoteAddr, "err", err)
				return
			}
		}
	}
}

func (h *Hub) write(ctx context.Context, conn *websocket.Conn, line string) error {
	ctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, []byte(line))
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
}
