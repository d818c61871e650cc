// Package hermes holds the domain types shared by the watcher: bus messages,
// audio flows and their events, the error taxonomy, and the topic router that
// classifies inbound Hermes traffic.
package hermes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// TopicField is the key under which the original topic is embedded into a
// persisted message payload.
const TopicField = "topic"

// Message is one non-audio Hermes message.
type Message struct {
	// Topic is the MQTT topic the message arrived on.
	Topic string

	// Payload is the decoded JSON object. Numbers are kept as [json.Number]
	// so they survive a persist/replay round trip unchanged.
	Payload map[string]any

	// Time is the capture time: arrival time for live traffic, the
	// file-encoded time for replayed records.
	Time time.Time
}

// SiteID returns the payload's "siteId" field, or "" when absent or not a
// string.
func (m Message) SiteID() string {
	s, _ := m.Payload["siteId"].(string)
	return s
}

// DecodePayload parses a JSON object. Anything else (arrays, scalars,
// invalid JSON, trailing data) fails with an error wrapping [ErrFormat].
func DecodePayload(b []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode payload: %w", ErrFormat, err)
	}
	if payload == nil {
		return nil, fmt.Errorf("%w: payload is not a JSON object", ErrFormat)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after payload", ErrFormat)
	}
	return payload, nil
}
