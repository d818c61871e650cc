package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/hermeswatch/internal/hermes"
)

// Sink receives rendered lines.
type Sink interface {
	Emit(line string) error
}

// WriterSink writes one line per Emit to w.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink returns a sink writing to w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (s *WriterSink) Emit(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.w, line+"\n")
	return err
}

// FileSink appends lines to a file. The file is created if needed and never
// truncated.
type FileSink struct {
	WriterSink
	f *os.File
}

// OpenFileSink opens path for appending.
func OpenFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("render: open output file: %w", err)
	}
	return &FileSink{WriterSink: WriterSink{w: f}, f: f}, nil
}

// Close closes the file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// MultiSink emits every line to all of its sinks. A failing sink does not
// keep the line from the others.
type MultiSink []Sink

func (m MultiSink) Emit(line string) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(line); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Printer renders messages and audio events and emits them to a sink. It
// serves as the display half of the live pipeline and as the replay handler.
type Printer struct {
	r    atomic.Pointer[Renderer]
	sink Sink
}

// NewPrinter returns a printer.
func NewPrinter(r *Renderer, sink Sink) *Printer {
	p := &Printer{sink: sink}
	p.r.Store(r)
	return p
}

// SetRenderer swaps the renderer used for subsequent lines.
func (p *Printer) SetRenderer(r *Renderer) { p.r.Store(r) }

// Renderer returns the current renderer.
func (p *Printer) Renderer() *Renderer { return p.r.Load() }

// HandleMessage renders and emits msg.
func (p *Printer) HandleMessage(_ context.Context, msg hermes.Message) error {
	return p.emit(p.r.Load().Render(msg))
}

// AudioSaved renders and emits an audio record announcement.
func (p *Printer) AudioSaved(_ context.Context, ev hermes.AudioSaved) error {
	return p.emit(p.r.Load().RenderAudio(ev))
}

func (p *Printer) emit(line string) error {
	if err := p.sink.Emit(line); err != nil {
		return fmt.Errorf("render: emit: %w", err)
	}
	return nil
}
