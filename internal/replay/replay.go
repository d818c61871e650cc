// Package replay re-emits archived records in chronological order through
// the same handlers that render live traffic.
package replay

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/hermeswatch/internal/archive"
	"github.com/MrWong99/hermeswatch/internal/hermes"
	"github.com/MrWong99/hermeswatch/internal/observe"
)

// Handler receives replayed events.
type Handler interface {
	HandleMessage(ctx context.Context, msg hermes.Message) error
	AudioSaved(ctx context.Context, ev hermes.AudioSaved) error
}

// Summary counts what a run produced.
type Summary struct {
	Messages int
	Audio    int

	// Skipped counts well-formed records outside the requested range.
	Skipped int

	// Faults counts records that could not be replayed: unparseable names,
	// unreadable or malformed content, and handler errors.
	Faults int
}

// Events returns Messages + Audio.
func (s Summary) Events() int { return s.Messages + s.Audio }

// Engine replays a [archive.Store].
type Engine struct {
	store   *archive.Store
	handler Handler
	metrics *observe.Metrics
}

// Option configures an [Engine].
type Option func(*Engine)

// WithMetrics overrides [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New returns an engine that feeds h from store.
func New(store *archive.Store, h Handler, opts ...Option) *Engine {
	e := &Engine{store: store, handler: h}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	return e
}

// Run emits every record whose timestamp lies in [start, stop], in ascending
// file-name order. Faulty records are logged, counted and skipped. Only a
// listing failure or ctx cancellation ends the run early.
func (e *Engine) Run(ctx context.Context, start, stop time.Time) (sum Summary, err error) {
	ctx, span := observe.StartSpan(ctx, "replay.run", trace.WithAttributes(
		attribute.String("start", start.Format(time.RFC3339Nano)),
		attribute.String("stop", stop.Format(time.RFC3339Nano)),
	))
	defer func() {
		span.SetAttributes(
			attribute.Int("messages", sum.Messages),
			attribute.Int("audio", sum.Audio),
			attribute.Int("faults", sum.Faults),
		)
		observe.EndSpan(span, err)
	}()
	log := observe.Logger(ctx)

	if stop.Before(start) {
		return sum, fmt.Errorf("replay: stop %s is before start %s", stop, start)
	}

	listing, err := e.store.List()
	if err != nil {
		return sum, fmt.Errorf("replay: %w", err)
	}
	for _, f := range listing.Faults {
		sum.Faults++
		e.fault(ctx, f)
		log.Warn("replay: skipping record", "err", f)
	}

	for _, entry := range listing.Entries {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if entry.Time.Before(start) || entry.Time.After(stop) {
			sum.Skipped++
			continue
		}

		switch entry.Kind {
		case archive.KindAudio:
			err = e.handler.AudioSaved(ctx, hermes.AudioSaved{
				Filename: entry.Name,
				Site:     entry.Site,
				Flow:     entry.Flow,
				Time:     entry.Time,
			})
		case archive.KindMessage:
			var msg hermes.Message
			if msg, err = e.store.ReadMessage(entry); err == nil {
				err = e.handler.HandleMessage(ctx, msg)
			}
		}
		if err != nil {
			sum.Faults++
			e.fault(ctx, err)
			log.Warn("replay: record failed", "file", entry.Name, "err", err)
			err = nil
			continue
		}

		if entry.Kind == archive.KindAudio {
			sum.Audio++
		} else {
			sum.Messages++
		}
		e.metrics.RecordReplayEvent(ctx, entry.Kind.String())
	}

	log.Info("replay finished",
		"messages", sum.Messages,
		"audio", sum.Audio,
		"skipped", sum.Skipped,
		"faults", sum.Faults,
	)
	return sum, nil
}

func (e *Engine) fault(ctx context.Context, err error) {
	e.metrics.RecordError(ctx, hermes.ErrorClass(err))
}
