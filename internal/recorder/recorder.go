// Package recorder persists classified Hermes traffic: message payloads as
// JSON records and completed audio flows as WAV records.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/hermeswatch/internal/archive"
	"github.com/MrWong99/hermeswatch/internal/demux"
	"github.com/MrWong99/hermeswatch/internal/hermes"
	"github.com/MrWong99/hermeswatch/internal/observe"
	"github.com/MrWong99/hermeswatch/pkg/audio"
)

// AudioNotifier is told about every audio record written.
type AudioNotifier interface {
	AudioSaved(ctx context.Context, ev hermes.AudioSaved) error
}

// Recorder implements [hermes.Handler] for the persistence path. It owns the
// demultiplexer's buffers; nothing else appends to or flushes them.
//
// When recording is disabled every call is a no-op, so the same handler chain
// serves live-only and recording sessions.
type Recorder struct {
	store    *archive.Store
	demux    *demux.Demux
	notifier AudioNotifier
	metrics  *observe.Metrics

	recording atomic.Bool
}

// Option configures a [Recorder].
type Option func(*Recorder)

// WithNotifier sets the receiver of [hermes.AudioSaved] events.
func WithNotifier(n AudioNotifier) Option {
	return func(r *Recorder) { r.notifier = n }
}

// WithMetrics overrides [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Recorder) { r.metrics = m }
}

// WithRecording sets the initial recording state. Default: enabled.
func WithRecording(on bool) Option {
	return func(r *Recorder) { r.recording.Store(on) }
}

// New returns a recorder writing to store and buffering audio in d.
func New(store *archive.Store, d *demux.Demux, opts ...Option) *Recorder {
	r := &Recorder{store: store, demux: d}
	r.recording.Store(true)
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// SetRecording enables or disables persistence.
func (r *Recorder) SetRecording(on bool) { r.recording.Store(on) }

// Recording reports whether persistence is enabled.
func (r *Recorder) Recording() bool { return r.recording.Load() }

// HandleMessage persists msg. A textCaptured message additionally ends the
// record flow of the site named in its payload; the message record is
// written first so it sorts before the audio on a timestamp tie.
func (r *Recorder) HandleMessage(ctx context.Context, msg hermes.Message) error {
	if !r.Recording() {
		return nil
	}

	var errs []error
	if _, err := r.store.WriteMessage(msg); err != nil {
		errs = append(errs, fmt.Errorf("recorder: persist %s: %w", msg.Topic, err))
	} else {
		r.metrics.RecordWrite(ctx, archive.KindMessage.String())
	}

	if msg.Topic == hermes.TopicTextCaptured {
		site := msg.SiteID()
		if !hermes.ValidSite(site) {
			errs = append(errs, fmt.Errorf("%w: recorder: textCaptured with invalid siteId %q", hermes.ErrFormat, site))
		} else if err := r.flush(ctx, hermes.FlowKey{Site: site, Flow: hermes.FlowRecord}, msg.Time); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HandleAudio buffers chunks and flushes on terminal markers.
func (r *Recorder) HandleAudio(ctx context.Context, ev hermes.AudioEvent) error {
	if !r.Recording() {
		return nil
	}

	switch ev.Mark {
	case hermes.MarkChunk:
		if n := r.demux.Append(ev.Key, ev.Data); n == 1 {
			r.metrics.OpenFlows.Add(ctx, 1)
		}
		r.metrics.RecordChunk(ctx, string(ev.Key.Flow))
		return nil
	case hermes.MarkEnd:
		return r.flush(ctx, ev.Key, ev.Time)
	default:
		return fmt.Errorf("%w: recorder: unknown audio mark %d on %s", hermes.ErrFormat, ev.Mark, ev.Topic)
	}
}

// flush merges the buffered chunks of key, writes them as one audio record
// stamped at, and notifies. The buffer is gone afterwards whatever the
// outcome.
func (r *Recorder) flush(ctx context.Context, key hermes.FlowKey, at time.Time) (err error) {
	ctx, span := observe.StartSpan(ctx, "recorder.flush", trace.WithAttributes(
		attribute.String("site", key.Site),
		attribute.String("flow", string(key.Flow)),
	))
	defer func() { observe.EndSpan(span, err) }()
	start := time.Now()

	chunks, err := r.demux.Flush(key)
	if err != nil {
		return fmt.Errorf("recorder: %w", err)
	}
	r.metrics.OpenFlows.Add(ctx, -1)
	span.SetAttributes(attribute.Int("chunks", len(chunks)))

	wav, clip, err := audio.MergeBytes(chunks)
	switch {
	case errors.Is(err, audio.ErrNoChunks):
		return fmt.Errorf("%w: recorder: %s: %w", hermes.ErrIntegrity, key, err)
	case errors.Is(err, audio.ErrInvalidWAV):
		return fmt.Errorf("%w: recorder: %s: %w", hermes.ErrFormat, key, err)
	case err != nil:
		return fmt.Errorf("recorder: merge %s: %w", key, err)
	}

	name, err := r.store.WriteAudio(at, key, wav)
	if err != nil {
		return fmt.Errorf("recorder: write %s: %w", key, err)
	}
	r.metrics.RecordWrite(ctx, archive.KindAudio.String())
	r.metrics.RecordFlush(ctx, time.Since(start))

	observe.Logger(ctx).Debug("audio flow saved",
		"site", key.Site,
		"flow", key.Flow,
		"file", name,
		"frames", clip.Frames(),
		"format", clip.Format.String(),
	)

	if r.notifier == nil {
		return nil
	}
	return r.notifier.AudioSaved(ctx, hermes.AudioSaved{
		Filename: name,
		Site:     key.Site,
		Flow:     key.Flow,
		Time:     at,
		Frames:   clip.Frames(),
	})
}
