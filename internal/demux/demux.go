// Package demux separates interleaved audio-server chunks into independent
// per-site, per-direction buffers.
//
// Each [hermes.FlowKey] owns at most one open buffer. A buffer is created by
// the first chunk, grows in arrival order, and is handed over in full and
// removed by [Demux.Flush]. Different keys never block each other beyond the
// brief registry lookup.
package demux

import (
	"fmt"
	"sync"

	"github.com/MrWong99/hermeswatch/internal/hermes"
)

// flow is one open buffer. Once closed it is no longer in the registry and
// must not be appended to.
type flow struct {
	mu     sync.Mutex
	chunks [][]byte
	closed bool
}

// Demux is the registry of open audio flows. All methods are safe for
// concurrent use.
type Demux struct {
	mu    sync.Mutex
	flows map[hermes.FlowKey]*flow
}

// New returns an empty demultiplexer.
func New() *Demux {
	return &Demux{flows: make(map[hermes.FlowKey]*flow)}
}

// Append adds a copy of chunk to the flow for key, opening the flow if it is
// idle. It returns the number of chunks buffered for key afterwards.
func (d *Demux) Append(key hermes.FlowKey, chunk []byte) int {
	c := make([]byte, len(chunk))
	copy(c, chunk)

	for {
		f := d.lookup(key, true)
		f.mu.Lock()
		if f.closed {
			// Lost a race with Flush; the next lookup opens a fresh flow.
			f.mu.Unlock()
			continue
		}
		f.chunks = append(f.chunks, c)
		n := len(f.chunks)
		f.mu.Unlock()
		return n
	}
}

// Flush removes the flow for key and returns its chunks in arrival order.
// Flushing an idle key returns an error wrapping [hermes.ErrIntegrity].
func (d *Demux) Flush(key hermes.FlowKey) ([][]byte, error) {
	d.mu.Lock()
	f, ok := d.flows[key]
	if ok {
		delete(d.flows, key)
	}
	d.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: flush of idle flow %s", hermes.ErrIntegrity, key)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	chunks := f.chunks
	f.chunks = nil
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: flush of empty flow %s", hermes.ErrIntegrity, key)
	}
	return chunks, nil
}

// Len returns the number of chunks buffered for key, 0 when idle.
func (d *Demux) Len(key hermes.FlowKey) int {
	f := d.lookup(key, false)
	if f == nil {
		return 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chunks)
}

// Open returns the number of flows currently accumulating.
func (d *Demux) Open() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.flows)
}

// Keys returns the keys of all open flows in no particular order.
func (d *Demux) Keys() []hermes.FlowKey {
	d.mu.Lock()
	defer d.mu.Unlock()
	keys := make([]hermes.FlowKey, 0, len(d.flows))
	for k := range d.flows {
		keys = append(keys, k)
	}
	return keys
}

func (d *Demux) lookup(key hermes.FlowKey, create bool) *flow {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.flows[key]
	if !ok && create {
		f = &flow{}
		d.flows[key] = f
	}
	return f
}
