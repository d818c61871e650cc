// Package app wires the hermeswatch subsystems into a running application.
//
// New builds the archive store, audio demultiplexer, recorder, renderer and
// output sinks from the config. RunLive connects to the broker and feeds
// every message through the router until the context ends; Search replays
// the archive instead. Close tears everything down.
//
// For testing, inject doubles via functional options (WithBus, WithStdout,
// WithMetrics). When an option is not provided, New creates the real
// implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/hermeswatch/internal/archive"
	"github.com/MrWong99/hermeswatch/internal/bus"
	"github.com/MrWong99/hermeswatch/internal/config"
	"github.com/MrWong99/hermeswatch/internal/demux"
	"github.com/MrWong99/hermeswatch/internal/health"
	"github.com/MrWong99/hermeswatch/internal/hermes"
	"github.com/MrWong99/hermeswatch/internal/observe"
	"github.com/MrWong99/hermeswatch/internal/recorder"
	"github.com/MrWong99/hermeswatch/internal/render"
	"github.com/MrWong99/hermeswatch/internal/replay"
	"github.com/MrWong99/hermeswatch/internal/stream"
)

// shutdownTimeout bounds the HTTP server's graceful shutdown.
const shutdownTimeout = 5 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config

	store    *archive.Store
	demux    *demux.Demux
	recorder *recorder.Recorder
	printer  *render.Printer
	router   *hermes.Router
	hub      *stream.Hub
	bus      bus.Client
	metrics  *observe.Metrics
	watcher  *config.Watcher

	stdout         io.Writer
	loc            *time.Location
	searchOnly     bool
	extraSinks     []render.Sink
	metricsHandler http.Handler

	// closers run in order during Close.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithBus injects a bus client instead of creating an MQTT client from
// config.
func WithBus(c bus.Client) Option {
	return func(a *App) { a.bus = c }
}

// WithStdout replaces os.Stdout as the standard output sink.
func WithStdout(w io.Writer) Option {
	return func(a *App) { a.stdout = w }
}

// WithSinks adds sinks that receive every rendered line.
func WithSinks(s ...render.Sink) Option {
	return func(a *App) { a.extraSinks = append(a.extraSinks, s...) }
}

// WithMetrics overrides [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler replaces the promhttp handler served at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLocation sets the time zone in which replayed records report their
// time. Record names are always UTC. Default: local.
func WithLocation(loc *time.Location) Option {
	return func(a *App) { a.loc = loc }
}

// ForSearch builds an App that only replays: the archive must already exist
// and no websocket hub is created, since no HTTP server runs. RunLive fails.
func ForSearch() Option {
	return func(a *App) { a.searchOnly = true }
}

// WithWatcher runs w alongside RunLive. Reloads reach the app through
// [App.Reconfigure], which the watcher callback is expected to call.
func WithWatcher(w *config.Watcher) Option {
	return func(a *App) { a.watcher = w }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg. Nothing touches the network until RunLive.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, stdout: os.Stdout}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.metricsHandler == nil {
		a.metricsHandler = promhttp.Handler()
	}

	// ── 1. Archive ───────────────────────────────────────────────────────
	var storeOpts []archive.Option
	if a.loc != nil {
		storeOpts = append(storeOpts, archive.WithLocation(a.loc))
	}
	open := archive.Open
	if a.searchOnly {
		open = archive.OpenExisting
	}
	store, err := open(cfg.Store.Dir, storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("app: open archive: %w", err)
	}
	a.store = store

	// ── 2. Output ────────────────────────────────────────────────────────
	if err := a.initOutput(); err != nil {
		a.Close()
		return nil, fmt.Errorf("app: init output: %w", err)
	}

	// ── 3. Recorder + router ─────────────────────────────────────────────
	a.demux = demux.New()
	a.recorder = recorder.New(store, a.demux,
		recorder.WithNotifier(a.printer),
		recorder.WithMetrics(a.metrics),
		recorder.WithRecording(false),
	)
	a.router = hermes.NewRouter(pipeline{printer: a.printer, recorder: a.recorder})

	return a, nil
}

func (a *App) initOutput() error {
	format, err := render.ParseFormat(string(a.cfg.Output.Format))
	if err != nil {
		return err
	}

	var sinks render.MultiSink
	if !a.cfg.Output.NoStdout {
		sinks = append(sinks, render.NewWriterSink(a.stdout))
	}
	if a.cfg.Output.File != "" {
		fs, err := render.OpenFileSink(a.cfg.Output.File)
		if err != nil {
			return err
		}
		sinks = append(sinks, fs)
		a.closers = append(a.closers, fs.Close)
	}
	if a.cfg.Server.ListenAddr != "" && !a.searchOnly {
		a.hub = stream.NewHub()
		sinks = append(sinks, a.hub)
		a.closers = append(a.closers, a.hub.Close)
	}
	sinks = append(sinks, a.extraSinks...)

	a.printer = render.NewPrinter(a.newRenderer(format), sinks)
	return nil
}

func (a *App) newRenderer(format render.Format) *render.Renderer {
	return render.New(format, render.WithOutput(a.stdout))
}

// ─── Pipeline ────────────────────────────────────────────────────────────────

// pipeline is the router's handler: every message is rendered, then handed
// to the recorder, which persists it only while recording.
type pipeline struct {
	printer  *render.Printer
	recorder *recorder.Recorder
}

func (p pipeline) HandleMessage(ctx context.Context, msg hermes.Message) error {
	return errors.Join(
		p.printer.HandleMessage(ctx, msg),
		p.recorder.HandleMessage(ctx, msg),
	)
}

func (p pipeline) HandleAudio(ctx context.Context, ev hermes.AudioEvent) error {
	return p.recorder.HandleAudio(ctx, ev)
}

// Dispatch routes one inbound message. Failures are logged and counted; they
// never stop ingestion.
func (a *App) Dispatch(ctx context.Context, topic string, payload []byte, at time.Time) {
	route, err := a.router.Dispatch(ctx, topic, payload, at)
	a.metrics.RecordMessage(ctx, route.String())
	if route == hermes.RouteIgnore {
		slog.Debug("ignoring message", "topic", topic)
	}
	if err != nil {
		class := hermes.ErrorClass(err)
		a.metrics.RecordError(ctx, class)
		level := slog.LevelWarn
		if class == "storage" && !errors.Is(err, hermes.ErrDuplicate) {
			level = slog.LevelError
		}
		msg := "failed to handle message"
		if errors.Is(err, archive.ErrTopicField) {
			msg = "message rendered but not recorded"
		}
		slog.Log(ctx, level, msg, "topic", topic, "route", route, "class", class, "err", err)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// RunLive connects to the broker, subscribes to the Hermes topics and blocks
// until ctx is cancelled. With recording set, messages and completed audio
// flows are persisted as well as rendered. Only a failure to connect or
// subscribe is returned; a cancelled ctx yields nil.
func (a *App) RunLive(ctx context.Context, recording bool) error {
	if a.searchOnly {
		return errors.New("app: RunLive on a search-only app")
	}
	if a.bus == nil {
		c, err := bus.NewMQTT(a.busConfig())
		if err != nil {
			return fmt.Errorf("app: %w", err)
		}
		a.bus = c
	}
	a.closers = append(a.closers, a.bus.Close)
	a.recorder.SetRecording(recording)

	slog.Info("connecting to broker", "broker", a.cfg.MQTT.Broker, "client_id", a.cfg.MQTT.ClientID)
	if err := a.bus.Connect(ctx); err != nil {
		return fmt.Errorf("app: connect %s: %w", a.cfg.MQTT.Broker, err)
	}

	// Callbacks run on the client's delivery goroutine and outlive no ctx of
	// their own, so they inherit the run context's values but not its
	// cancellation; a message that arrived is always finished.
	msgCtx := context.WithoutCancel(ctx)
	err := a.bus.Subscribe(ctx, hermes.Subscriptions, func(topic string, payload []byte, at time.Time) {
		a.Dispatch(msgCtx, topic, payload, at)
	})
	if err != nil {
		return fmt.Errorf("app: subscribe: %w", err)
	}

	mode := "live"
	if recording {
		mode = "record"
	}
	slog.Info("watching hermes traffic", "mode", mode, "store", a.store.Dir(), "listen_addr", a.cfg.Server.ListenAddr)

	g, gctx := errgroup.WithContext(ctx)
	if a.cfg.Server.ListenAddr != "" {
		g.Go(func() error { return a.serveHTTP(gctx) })
	}
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	err = g.Wait()

	if keys := a.demux.Keys(); len(keys) > 0 {
		slog.Warn("discarding unfinished audio flows", "count", len(keys))
	}
	return err
}

func (a *App) busConfig() bus.Config {
	m := a.cfg.MQTT
	return bus.Config{
		Broker:    m.Broker,
		ClientID:  m.ClientID,
		Username:  m.Username,
		Password:  m.Password,
		TLS:       m.TLS,
		CACerts:   m.CACerts,
		KeepAlive: m.KeepAlive,
	}
}

// Handler returns the HTTP side surface: /healthz, /readyz, /metrics and,
// when a listen address is configured, /stream.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	connected := func() bool { return a.bus != nil && a.bus.IsConnected() }
	health.New(health.MQTT(connected), health.Store(a.store.Dir())).Register(mux)
	mux.Handle("GET /metrics", a.metricsHandler)
	if a.hub != nil {
		mux.Handle("GET /stream", a.hub)
	}
	return observe.Middleware(a.metrics)(mux)
}

func (a *App) serveHTTP(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("app: http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if a.hub != nil {
		a.hub.Close()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http server shutdown", "err", err)
	}
	return nil
}

// ─── Search ──────────────────────────────────────────────────────────────────

// Search replays every record in [start, stop] through the renderer.
func (a *App) Search(ctx context.Context, start, stop time.Time) (replay.Summary, error) {
	eng := replay.New(a.store, a.printer, replay.WithMetrics(a.metrics))
	sum, err := eng.Run(ctx, start, stop)
	if err != nil {
		return sum, fmt.Errorf("app: search: %w", err)
	}
	slog.Info("search finished",
		"messages", sum.Messages, "audio", sum.Audio,
		"skipped", sum.Skipped, "faults", sum.Faults)
	return sum, nil
}

// ─── Reconfigure ─────────────────────────────────────────────────────────────

// Reconfigure applies the live-reloadable part of d. The log level belongs
// to the process logger and is handled by the caller.
func (a *App) Reconfigure(d config.ConfigDiff) {
	if d.FormatChanged {
		format, err := render.ParseFormat(string(d.NewFormat))
		if err != nil {
			slog.Warn("ignoring output format change", "err", err)
		} else {
			a.printer.SetRenderer(a.newRenderer(format))
			slog.Info("output format changed", "format", format)
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes take effect after restart", "keys", d.RestartRequired)
	}
}

// Recorder exposes the recorder, e.g. to toggle recording at runtime.
func (a *App) Recorder() *recorder.Recorder { return a.recorder }

// ─── Close ───────────────────────────────────────────────────────────────────

// Close releases the bus connection, output files and stream clients.
// Calling it more than once is harmless.
func (a *App) Close() error {
	var errs []error
	a.stopOnce.Do(func() {
		for _, c := range a.closers {
			if err := c(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
