package archive

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/hermeswatch/internal/hermes"
)

// Kind distinguishes the two record types.
type Kind int

const (
	KindMessage Kind = iota
	KindAudio
)

func (k Kind) String() string {
	if k == KindAudio {
		return "audio"
	}
	return "message"
}

const (
	// stampLayout has a dot only because Go layouts need one before the
	// fractional digits; it is stripped from file names.
	stampLayout = "20060102150405.000000"
	stampLen    = 20

	extMessage = ".json"
	extAudio   = ".wav"
	delim      = "_"
)

// Entry describes one record file. It is derived from the name alone.
type Entry struct {
	Name string
	Kind Kind
	Time time.Time

	// Site and Flow are set for audio records only.
	Site string
	Flow hermes.FlowKind
}

// FormatStamp renders t in UTC as a 20-digit, fixed-width, lexically
// sortable timestamp with microsecond precision (YYYYMMDDhhmmssffffff).
// Local wall-clock time would repeat an hour when daylight saving ends.
func FormatStamp(t time.Time) string {
	s := t.UTC().Format(stampLayout)
	return s[:14] + s[15:]
}

// ParseStamp is the inverse of [FormatStamp]; the result is in UTC.
func ParseStamp(s string) (time.Time, error) {
	if len(s) != stampLen || strings.IndexFunc(s, notDigit) >= 0 {
		return time.Time{}, fmt.Errorf("%w: malformed timestamp %q", hermes.ErrIntegrity, s)
	}
	t, err := time.Parse(stampLayout, s[:14]+"."+s[14:])
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp %q: %w", hermes.ErrIntegrity, s, err)
	}
	return t, nil
}

func notDigit(r rune) bool { return r < '0' || r > '9' }

// MessageName returns the file name of a message record captured at t.
func MessageName(t time.Time) string {
	return FormatStamp(t) + extMessage
}

// AudioName returns the file name of an audio record captured at t.
func AudioName(t time.Time, site string, flow hermes.FlowKind) string {
	return FormatStamp(t) + delim + site + delim + string(flow) + extAudio
}

// errUnknownKind is returned by ParseName for files that are not records.
var errUnknownKind = errors.New("archive: not a record file")

// ParseName decodes a record file name.
//
// Audio names are split from both ends: the first 20 characters are the
// timestamp and the last delimited field is the flow kind, so the site in
// between may itself contain the delimiter.
func ParseName(name string) (Entry, error) {
	switch {
	case strings.HasSuffix(name, extMessage):
		stem := strings.TrimSuffix(name, extMessage)
		t, err := ParseStamp(stem)
		if err != nil {
			return Entry{}, fmt.Errorf("%s: %w", name, err)
		}
		return Entry{Name: name, Kind: KindMessage, Time: t}, nil

	case strings.HasSuffix(name, extAudio):
		stem := strings.TrimSuffix(name, extAudio)
		if len(stem) < stampLen+len(delim) || stem[stampLen:stampLen+len(delim)] != delim {
			return Entry{}, fmt.Errorf("%w: %s: malformed audio record name", hermes.ErrIntegrity, name)
		}
		t, err := ParseStamp(stem[:stampLen])
		if err != nil {
			return Entry{}, fmt.Errorf("%s: %w", name, err)
		}
		rest := stem[stampLen+len(delim):]
		i := strings.LastIndex(rest, delim)
		if i <= 0 {
			return Entry{}, fmt.Errorf("%w: %s: missing site or flow", hermes.ErrIntegrity, name)
		}
		site, flow := rest[:i], hermes.FlowKind(rest[i+len(delim):])
		if !flow.IsValid() {
			return Entry{}, fmt.Errorf("%w: %s: unknown flow %q", hermes.ErrIntegrity, name, flow)
		}
		return Entry{Name: name, Kind: KindAudio, Time: t, Site: site, Flow: flow}, nil
	}
	return Entry{}, errUnknownKind
}
