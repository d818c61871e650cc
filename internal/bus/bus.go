// Package bus connects to the MQTT broker carrying Hermes traffic.
//
// [Client] is the narrow capability the application needs; [MQTT] implements
// it with the Eclipse Paho client. Messages are delivered in arrival order on
// a single goroutine, so handlers run sequentially.
package bus

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MessageFunc receives one inbound message. at is the arrival time.
type MessageFunc func(topic string, payload []byte, at time.Time)

// Client is an MQTT subscriber.
type Client interface {
	// Connect blocks until the broker accepts the connection or ctx ends.
	Connect(ctx context.Context) error

	// Subscribe registers fn for every filter. Subscriptions are restored
	// after an automatic reconnect.
	Subscribe(ctx context.Context, filters []string, fn MessageFunc) error

	IsConnected() bool
	Close() error
}

// Config holds connection settings.
type Config struct {
	// Broker is the broker URL, e.g. "tcp://rhasspy-master:1883" or
	// "ssl://host:8883".
	Broker   string
	ClientID string
	Username string
	Password string

	// TLS enables TLS. CACerts optionally names a PEM bundle used instead of
	// the system roots to verify the broker.
	TLS     bool
	CACerts string

	KeepAlive      time.Duration
	ConnectTimeout time.Duration
}

// ErrNotConnected is returned by Subscribe before Connect succeeded.
var ErrNotConnected = errors.New("bus: not connected")

// MQTT is the Paho-backed [Client].
type MQTT struct {
	cfg    Config
	client mqtt.Client

	mu      sync.Mutex
	filters []string
	fn      MessageFunc
}

var _ Client = (*MQTT)(nil)

// NewMQTT builds a client. It does not connect.
func NewMQTT(cfg Config) (*MQTT, error) {
	if cfg.Broker == "" {
		return nil, errors.New("bus: broker is required")
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 60 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}

	m := &MQTT{cfg: cfg}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetKeepAlive(cfg.KeepAlive)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetOrderMatters(true)
	opts.SetOnConnectHandler(m.onConnect)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		slog.Warn("bus: connection lost", "broker", cfg.Broker, "err", err)
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		slog.Info("bus: reconnecting", "broker", cfg.Broker)
	})

	if cfg.TLS {
		tc, err := tlsConfig(cfg.CACerts)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tc)
	}

	m.client = mqtt.NewClient(opts)
	return m, nil
}

func tlsConfig(caFile string) (*tls.Config, error) {
	tc := &tls.Config{MinVersion: tls.VersionTLS12}
	if caFile == "" {
		return tc, nil
	}
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("bus: read CA certificates: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("bus: no certificates found in %s", caFile)
	}
	tc.RootCAs = pool
	return tc, nil
}

// Connect implements [Client].
func (m *MQTT) Connect(ctx context.Context) error {
	if err := wait(ctx, m.client.Connect()); err != nil {
		return fmt.Errorf("bus: connect to %s: %w", m.cfg.Broker, err)
	}
	return nil
}

// Subscribe implements [Client].
func (m *MQTT) Subscribe(ctx context.Context, filters []string, fn MessageFunc) error {
	m.mu.Lock()
	m.filters = append([]string(nil), filters...)
	m.fn = fn
	m.mu.Unlock()

	if !m.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	return m.subscribe(ctx)
}

func (m *MQTT) subscribe(ctx context.Context) error {
	m.mu.Lock()
	filters, fn := m.filters, m.fn
	m.mu.Unlock()
	if len(filters) == 0 {
		return nil
	}

	set := make(map[string]byte, len(filters))
	for _, f := range filters {
		set[f] = 0
	}
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		fn(msg.Topic(), msg.Payload(), time.Now())
	}
	if err := wait(ctx, m.client.SubscribeMultiple(set, handler)); err != nil {
		return fmt.Errorf("bus: subscribe: %w", err)
	}
	slog.Debug("bus: subscribed", "filters", filters)
	return nil
}

// onConnect runs on every (re)connect. With a clean session the broker has
// forgotten our subscriptions, so they are placed again.
func (m *MQTT) onConnect(mqtt.Client) {
	slog.Info("bus: connected", "broker", m.cfg.Broker)
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ConnectTimeout)
	defer cancel()
	if err := m.subscribe(ctx); err != nil {
		slog.Error("bus: resubscribe failed", "err", err)
	}
}

// IsConnected implements [Client].
func (m *MQTT) IsConnected() bool {
	return m.client.IsConnected()
}

// Close implements [Client].
func (m *MQTT) Close() error {
	m.client.Disconnect(250)
	slog.Info("bus: disconnected", "broker", m.cfg.Broker)
	return nil
}

func wait(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
