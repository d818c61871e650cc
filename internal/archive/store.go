// Package archive persists Hermes traffic as flat, timestamp-named files and
// lists them back for replay.
//
// Every record is one file. Message records are JSON objects holding the
// original payload plus a "topic" field; audio records are finished WAV
// files. File names start with a fixed-width UTC microsecond timestamp so
// that a plain lexical sort of the directory is chronological.
//
// Writes go to a hidden temporary file that is then linked into place, so a
// concurrent reader never observes a partially written record, and an
// existing record is never overwritten.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MrWong99/hermeswatch/internal/hermes"
)

// ErrTopicField is returned by [Store.WriteMessage] for a payload that
// already has a "topic" key. Nothing is written for such a message.
var ErrTopicField = fmt.Errorf("%w: payload already has a %q field", hermes.ErrFormat, hermes.TopicField)

// Store is a directory of records. It is safe for concurrent use: each
// record occupies its own uniquely named file.
type Store struct {
	dir string
	loc *time.Location
}

// Option configures a [Store].
type Option func(*Store)

// WithLocation sets the time zone in which listed records report their
// time. File names are always UTC; the default is [time.Local].
func WithLocation(loc *time.Location) Option {
	return func(s *Store) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// Open returns a store rooted at dir, creating the directory if needed.
func Open(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: archive: empty directory", hermes.ErrStorage)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: archive: create %q: %w", hermes.ErrStorage, dir, err)
	}
	return newStore(dir, opts), nil
}

// OpenExisting returns a store rooted at dir, which must already exist.
// Readers use it so that a mistyped path fails instead of replaying an
// empty archive.
func OpenExisting(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: archive: empty directory", hermes.ErrStorage)
	}
	fi, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: archive: %w", hermes.ErrStorage, err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("%w: archive: %q is not a directory", hermes.ErrStorage, dir)
	}
	return newStore(dir, opts), nil
}

func newStore(dir string, opts []Option) *Store {
	s := &Store{dir: dir, loc: time.Local}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Dir returns the store's root directory.
func (s *Store) Dir() string { return s.dir }

// Location returns the time zone of listed record times.
func (s *Store) Location() *time.Location { return s.loc }

// Path returns the absolute location of the named record.
func (s *Store) Path(name string) string { return filepath.Join(s.dir, name) }

// WriteMessage persists msg as payload ∪ {"topic": msg.Topic} and returns
// the record name. A payload that already carries a "topic" key is not
// persisted at all and fails with [ErrTopicField].
func (s *Store) WriteMessage(msg hermes.Message) (string, error) {
	if _, clash := msg.Payload[hermes.TopicField]; clash {
		return "", fmt.Errorf("record on %q not persisted: %w", msg.Topic, ErrTopicField)
	}

	record := make(map[string]any, len(msg.Payload)+1)
	for k, v := range msg.Payload {
		record[k] = v
	}
	record[hermes.TopicField] = msg.Topic

	data, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("%w: encode record for %q: %w", hermes.ErrFormat, msg.Topic, err)
	}

	name := MessageName(msg.Time)
	if err := s.writeFile(name, data); err != nil {
		return "", err
	}
	return name, nil
}

// WriteAudio persists a finished WAV file for one flow and returns the
// record name.
func (s *Store) WriteAudio(t time.Time, key hermes.FlowKey, wav []byte) (string, error) {
	if !hermes.ValidSite(key.Site) {
		return "", fmt.Errorf("%w: site %q cannot be used in a file name", hermes.ErrFormat, key.Site)
	}
	if !key.Flow.IsValid() {
		return "", fmt.Errorf("%w: unknown flow %q", hermes.ErrFormat, key.Flow)
	}
	name := AudioName(t, key.Site, key.Flow)
	if err := s.writeFile(name, wav); err != nil {
		return "", err
	}
	return name, nil
}

// writeFile makes data visible under name atomically and without replacing
// an existing file.
func (s *Store) writeFile(name string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, "."+name+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp for %s: %w", hermes.ErrStorage, name, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write %s: %w", hermes.ErrStorage, name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: sync %s: %w", hermes.ErrStorage, name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", hermes.ErrStorage, name, err)
	}

	final := s.Path(name)
	err = os.Link(tmpName, final)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrExist):
		return fmt.Errorf("%w: %s", hermes.ErrDuplicate, name)
	}

	// Some filesystems do not support hard links. Fall back to rename after
	// checking for an existing record; this leaves a small race window.
	if _, statErr := os.Lstat(final); statErr == nil {
		return fmt.Errorf("%w: %s", hermes.ErrDuplicate, name)
	}
	if err := os.Rename(tmpName, final); err != nil {
		return fmt.Errorf("%w: publish %s: %w", hermes.ErrStorage, name, err)
	}
	return nil
}

// Listing is the result of [Store.List].
type Listing struct {
	// Entries are the parseable records in lexical name order.
	Entries []Entry

	// Faults holds one [hermes.ErrIntegrity] error per record-like file
	// whose name could not be parsed.
	Faults []error
}

// List reads the directory and returns every record in name order. Hidden
// files (including in-flight temporaries) and files that are not records are
// skipped.
func (s *Store) List() (Listing, error) {
	des, err := os.ReadDir(s.dir)
	if err != nil {
		return Listing{}, fmt.Errorf("%w: list %q: %w", hermes.ErrStorage, s.dir, err)
	}

	// os.ReadDir already sorts by file name.
	var l Listing
	for _, de := range des {
		name := de.Name()
		if de.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		e, err := ParseName(name)
		if errors.Is(err, errUnknownKind) {
			slog.Debug("archive: skipping non-record file", "name", name)
			continue
		}
		if err != nil {
			l.Faults = append(l.Faults, err)
			continue
		}
		e.Time = e.Time.In(s.loc)
		l.Entries = append(l.Entries, e)
	}
	return l, nil
}

// ReadMessage loads a message record and rebuilds the original message: the
// embedded topic is removed from the payload and the time comes from the
// file name.
func (s *Store) ReadMessage(e Entry) (hermes.Message, error) {
	if e.Kind != KindMessage {
		return hermes.Message{}, fmt.Errorf("archive: %s is not a message record", e.Name)
	}
	data, err := os.ReadFile(s.Path(e.Name))
	if err != nil {
		return hermes.Message{}, fmt.Errorf("%w: read %s: %w", hermes.ErrStorage, e.Name, err)
	}
	payload, err := hermes.DecodePayload(data)
	if err != nil {
		return hermes.Message{}, fmt.Errorf("%s: %w", e.Name, err)
	}
	topic, ok := payload[hermes.TopicField].(string)
	if !ok || topic == "" {
		return hermes.Message{}, fmt.Errorf("%w: %s has no topic field", hermes.ErrFormat, e.Name)
	}
	delete(payload, hermes.TopicField)
	return hermes.Message{Topic: topic, Payload: payload, Time: e.Time}, nil
}
