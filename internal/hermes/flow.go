package hermes

import (
	"strings"
	"time"
)

// FlowKind is the direction of an audio stream relative to a site.
type FlowKind string

const (
	// FlowRecord is audio captured by the site's microphone.
	FlowRecord FlowKind = "record"

	// FlowPlay is synthesized audio played on the site's speaker.
	FlowPlay FlowKind = "play"
)

// IsValid reports whether f is a recognised flow kind.
func (f FlowKind) IsValid() bool {
	return f == FlowRecord || f == FlowPlay
}

// FlowKey identifies one audio flow.
type FlowKey struct {
	Site string
	Flow FlowKind
}

func (k FlowKey) String() string {
	return k.Site + "/" + string(k.Flow)
}

// ValidSite reports whether site can be embedded into a record file name.
// Underscores are allowed because names are parsed from both ends; path
// separators, NUL and the empty string are not.
func ValidSite(site string) bool {
	return site != "" && site != "." && site != ".." &&
		!strings.ContainsAny(site, "/\\\x00")
}

// AudioMark says what an audio-server message does to its flow.
type AudioMark int

const (
	// MarkChunk appends the payload to the flow.
	MarkChunk AudioMark = iota

	// MarkEnd terminates the flow and triggers a flush.
	MarkEnd
)

func (m AudioMark) String() string {
	if m == MarkEnd {
		return "end"
	}
	return "chunk"
}

// AudioEvent is one audio-server message after classification.
type AudioEvent struct {
	Key  FlowKey
	Mark AudioMark

	// Data is the raw payload, a small WAV container for chunks. It is only
	// valid for the duration of the callback; consumers that keep it must
	// copy it.
	Data []byte

	Time  time.Time
	Topic string
}

// AudioSaved is emitted when a completed flow has been written to disk, and
// again for every audio record found during replay.
type AudioSaved struct {
	Filename string
	Site     string
	Flow     FlowKind
	Time     time.Time

	// Frames is the number of frames written. Zero for replayed records,
	// which are not decoded.
	Frames int
}
