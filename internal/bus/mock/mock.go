// Package mock provides an in-memory [bus.Client] for unit tests.
//
// Tests push traffic with [Client.Deliver]; it calls the subscribed
// [bus.MessageFunc] synchronously, like the real client's ordered delivery.
//
//	c := &mock.Client{}
//	_ = c.Connect(ctx)
//	_ = c.Subscribe(ctx, hermes.Subscriptions, fn)
//	c.Deliver("hermes/tts/say", []byte(`{"text":"hi"}`), time.Now())
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/hermeswatch/internal/bus"
)

var _ bus.Client = (*Client)(nil)

// Client is a mock [bus.Client]. Exported *Error fields control failures;
// call counters record usage. It is safe for concurrent use.
type Client struct {
	mu sync.Mutex

	// ConnectError is returned by Connect.
	ConnectError error

	// SubscribeError is returned by Subscribe.
	SubscribeError error

	ConnectCalls   int
	SubscribeCalls int
	CloseCalls     int

	// Filters holds the filters of the last Subscribe call.
	Filters []string

	connected bool
	fn        bus.MessageFunc

	// subscribed is closed by the first successful Subscribe.
	subscribed     chan struct{}
	subscribedOnce sync.Once
}

func (c *Client) init() {
	if c.subscribed == nil {
		c.subscribed = make(chan struct{})
	}
}

// Connect implements [bus.Client].
func (c *Client) Connect(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.init()
	c.ConnectCalls++
	if c.ConnectError != nil {
		return c.ConnectError
	}
	c.connected = true
	return nil
}

// Subscribe implements [bus.Client].
func (c *Client) Subscribe(_ context.Context, filters []string, fn bus.MessageFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.init()
	c.SubscribeCalls++
	if c.SubscribeError != nil {
		return c.SubscribeError
	}
	c.Filters = append([]string(nil), filters...)
	c.fn = fn
	c.subscribedOnce.Do(func() { close(c.subscribed) })
	return nil
}

// IsConnected implements [bus.Client].
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// SetConnected changes what IsConnected reports.
func (c *Client) SetConnected(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = v
}

// Close implements [bus.Client].
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CloseCalls++
	c.connected = false
	return nil
}

// Subscribed returns a channel closed once Subscribe has succeeded.
func (c *Client) Subscribed() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.init()
	return c.subscribed
}

// Deliver hands one message to the subscriber. It reports false when nothing
// is subscribed.
func (c *Client) Deliver(topic string, payload []byte, at time.Time) bool {
	c.mu.Lock()
	fn := c.fn
	c.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(topic, payload, at)
	return true
}

// Calls returns the call counters under the lock.
func (c *Client) Calls() (connects, subscribes, closes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ConnectCalls, c.SubscribeCalls, c.CloseCalls
}
