// Package render turns Hermes messages into one-line log text, either as
// coloured prose per topic or as the raw topic and payload.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/MrWong99/hermeswatch/internal/hermes"
)

// Format selects how messages are rendered.
type Format string

const (
	FormatHuman Format = "human"
	FormatRaw   Format = "raw"
)

// ParseFormat validates s.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatHuman, FormatRaw:
		return f, nil
	}
	return "", fmt.Errorf("render: unknown output format %q (want human or raw)", s)
}

// TimeLayout is the layout of the timestamp that prefixes every line.
const TimeLayout = "2006-01-02 15:04:05"

// missing stands in for payload fields that are absent.
const missing = "?"

// Renderer renders messages. It is safe for concurrent use.
type Renderer struct {
	format Format
	st     styles
}

// Option configures a [Renderer].
type Option func(*rendererOptions)

type rendererOptions struct {
	out     io.Writer
	profile *termenv.Profile
}

// WithOutput detects the colour profile from w, typically os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(o *rendererOptions) { o.out = w }
}

// WithColorProfile forces a colour profile. termenv.Ascii disables colour.
func WithColorProfile(p termenv.Profile) Option {
	return func(o *rendererOptions) { o.profile = &p }
}

// New returns a renderer for format. Without options colour is disabled.
func New(format Format, opts ...Option) *Renderer {
	o := rendererOptions{out: io.Discard}
	for _, fn := range opts {
		fn(&o)
	}
	var lr *lipgloss.Renderer
	if o.profile != nil {
		lr = lipgloss.NewRenderer(o.out, termenv.WithProfile(*o.profile))
		lr.SetColorProfile(*o.profile)
	} else if o.out == io.Discard {
		lr = lipgloss.NewRenderer(o.out, termenv.WithProfile(termenv.Ascii))
		lr.SetColorProfile(termenv.Ascii)
	} else {
		lr = lipgloss.NewRenderer(o.out)
	}
	return &Renderer{format: format, st: newStyles(lr)}
}

// Format returns the renderer's output format.
func (r *Renderer) Format() Format { return r.format }

// Render returns the line for msg, prefixed with its timestamp.
func (r *Renderer) Render(msg hermes.Message) string {
	if r.format == FormatRaw {
		return stamp(msg.Time) + msg.Topic + " - " + rawPayload(msg.Payload)
	}
	return stamp(msg.Time) + r.human(msg)
}

// RenderAudio returns the line announcing a saved audio record.
func (r *Renderer) RenderAudio(ev hermes.AudioSaved) string {
	return fmt.Sprintf("%s[Audio] %s wav file saved for site %s. name = %s",
		stamp(ev.Time), ev.Flow, ev.Site, ev.Filename)
}

func stamp(t time.Time) string {
	return "[" + t.Format(TimeLayout) + "] "
}

func rawPayload(p map[string]any) string {
	if p == nil {
		return "{}"
	}
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Sprint(p)
	}
	return string(b)
}

func (r *Renderer) human(msg hermes.Message) string {
	for _, t := range templates {
		if hermes.MatchTopic(t.pattern, msg.Topic) {
			return t.render(r.st, fields{msg.Payload}, msg.Topic)
		}
	}
	slog.Debug("render: unknown topic", "topic", msg.Topic)
	return r.st.tag("[UNKNOWN]", colorRed) + " message on topic " + msg.Topic
}

// fields reads payload values for templates. Lookups never fail: anything
// absent or of the wrong shape renders as "?".
type fields struct {
	m map[string]any
}

// get walks path through nested objects and formats the leaf.
func (f fields) get(path ...string) string {
	v, ok := lookup(f.m, path...)
	if !ok {
		return missing
	}
	return format(v)
}

func (f fields) list(key string) []fields {
	v, ok := lookup(f.m, key)
	if !ok {
		return nil
	}
	items, _ := v.([]any)
	out := make([]fields, 0, len(items))
	for _, it := range items {
		if m, ok := it.(map[string]any); ok {
			out = append(out, fields{m})
		}
	}
	return out
}

func lookup(m map[string]any, path ...string) (any, bool) {
	var cur any = m
	for _, k := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = obj[k]; !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

func format(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return missing
		}
		return string(b)
	default:
		return fmt.Sprint(x)
	}
}
