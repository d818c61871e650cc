package archive_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/MrWong99/hermeswatch/internal/archive"
	"github.com/MrWong99/hermeswatch/internal/hermes"
)

func openStore(t *testing.T) *archive.Store {
	t.Helper()
	s, err := archive.Open(t.TempDir(), archive.WithLocation(time.UTC))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func mustPayload(t *testing.T, raw string) map[string]any {
	t.Helper()
	p, err := hermes.DecodePayload([]byte(raw))
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	return p
}

func TestOpen_CreatesDirectory(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "nested", "archives")
	if _, err := archive.Open(dir); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		t.Fatalf("directory not created: %v", err)
	}
}

func TestOpen_EmptyDir(t *testing.T) {
	t.Parallel()
	if _, err := archive.Open(""); !errors.Is(err, hermes.ErrStorage) {
		t.Errorf("Open(\"\") error = %v, want ErrStorage", err)
	}
}

func TestOpenExisting(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s, err := archive.OpenExisting(dir)
	if err != nil {
		t.Fatalf("OpenExisting: %v", err)
	}
	if s.Dir() != dir {
		t.Errorf("Dir = %q, want %q", s.Dir(), dir)
	}

	missing := filepath.Join(dir, "typo-archive")
	if _, err := archive.OpenExisting(missing); !errors.Is(err, hermes.ErrStorage) {
		t.Errorf("missing dir: error = %v, want ErrStorage", err)
	}
	if _, err := os.Stat(missing); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("OpenExisting created %s", missing)
	}

	file := filepath.Join(dir, "plain")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := archive.OpenExisting(file); !errors.Is(err, hermes.ErrStorage) {
		t.Errorf("regular file: error = %v, want ErrStorage", err)
	}
}

func TestWriteMessage_StoresPayloadAndTopic(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	at := time.Date(2020, 5, 10, 12, 0, 0, 0, time.UTC)
	msg := hermes.Message{
		Topic:   "hermes/nlu/intentParsed",
		Payload: mustPayload(t, `{"intent":{"intentName":"Weather","confidenceScore":0.9},"input":"what's the weather"}`),
		Time:    at,
	}

	name, err := s.WriteMessage(msg)
	if err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	if name != "20200510120000000000.json" {
		t.Errorf("name = %q", name)
	}

	raw, err := os.ReadFile(s.Path(name))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var stored map[string]any
	if err := json.Unmarshal(raw, &stored); err != nil {
		t.Fatalf("stored record is not JSON: %v", err)
	}
	if stored["topic"] != "hermes/nlu/intentParsed" {
		t.Errorf("topic = %v", stored["topic"])
	}
	if stored["input"] != "what's the weather" {
		t.Errorf("input = %v", stored["input"])
	}
	if _, ok := stored["intent"].(map[string]any); !ok {
		t.Errorf("intent missing: %v", stored)
	}
	if _, ok := msg.Payload["topic"]; ok {
		t.Error("WriteMessage mutated the caller's payload")
	}
}

func TestWriteThenRead_RoundTrip(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	msg := hermes.Message{
		Topic:   "hermes/intent/GetWeather",
		Payload: mustPayload(t, `{"siteId":"kitchen","slots":[{"slotName":"city","value":{"value":"Paris"},"confidenceScore":1}],"big":12345678901234567890}`),
		Time:    time.Date(2020, 5, 10, 12, 0, 0, 42000, time.UTC),
	}
	name, err := s.WriteMessage(msg)
	if err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	e, err := archive.ParseName(name)
	if err != nil {
		t.Fatalf("ParseName: %v", err)
	}
	got, err := s.ReadMessage(e)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if got.Topic != msg.Topic {
		t.Errorf("topic = %q, want %q", got.Topic, msg.Topic)
	}
	if !got.Time.Equal(msg.Time) {
		t.Errorf("time = %v, want %v", got.Time, msg.Time)
	}
	if !reflect.DeepEqual(got.Payload, msg.Payload) {
		t.Errorf("payload = %#v, want %#v", got.Payload, msg.Payload)
	}
}

func TestWriteMessage_RejectsTopicField(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	_, err := s.WriteMessage(hermes.Message{
		Topic:   "hermes/tts/say",
		Payload: map[string]any{"topic": "shadowed"},
		Time:    time.Now(),
	})
	if !errors.Is(err, archive.ErrTopicField) || !errors.Is(err, hermes.ErrFormat) {
		t.Errorf("error = %v, want ErrTopicField wrapping ErrFormat", err)
	}
	if err != nil && !strings.Contains(err.Error(), "not persisted") {
		t.Errorf("error %q does not say the record was dropped", err)
	}
	if l, _ := s.List(); len(l.Entries) != 0 {
		t.Errorf("entries = %v, want none", l.Entries)
	}
}

func TestWriteMessage_DuplicateKeepsFirst(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	at := time.Date(2020, 5, 10, 12, 0, 0, 0, time.UTC)

	if _, err := s.WriteMessage(hermes.Message{Topic: "a/first", Payload: map[string]any{}, Time: at}); err != nil {
		t.Fatalf("first write: %v", err)
	}
	_, err := s.WriteMessage(hermes.Message{Topic: "a/second", Payload: map[string]any{}, Time: at})
	if !errors.Is(err, hermes.ErrDuplicate) || !errors.Is(err, hermes.ErrStorage) {
		t.Fatalf("second write error = %v, want ErrDuplicate", err)
	}

	l, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(l.Entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(l.Entries))
	}
	got, err := s.ReadMessage(l.Entries[0])
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if got.Topic != "a/first" {
		t.Errorf("topic = %q, first record was overwritten", got.Topic)
	}
}

func TestWriteAudio(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	at := time.Date(2020, 4, 29, 19, 50, 55, 646804000, time.UTC)

	name, err := s.WriteAudio(at, hermes.FlowKey{Site: "bureau", Flow: hermes.FlowPlay}, []byte("RIFF...."))
	if err != nil {
		t.Fatalf("WriteAudio: %v", err)
	}
	if name != "20200429195055646804_bureau_play.wav" {
		t.Errorf("name = %q", name)
	}
	if b, _ := os.ReadFile(s.Path(name)); string(b) != "RIFF...." {
		t.Errorf("content = %q", b)
	}
}

func TestWriteAudio_RejectsBadKeys(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	for _, key := range []hermes.FlowKey{
		{Site: "", Flow: hermes.FlowPlay},
		{Site: "../etc", Flow: hermes.FlowPlay},
		{Site: "kitchen", Flow: "sing"},
	} {
		if _, err := s.WriteAudio(time.Now(), key, nil); !errors.Is(err, hermes.ErrFormat) {
			t.Errorf("WriteAudio(%v) error = %v, want ErrFormat", key, err)
		}
	}
}

func TestList_SortsAndSkips(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	dir := s.Dir()

	files := []string{
		"20200510120002000000.json",
		"20200510120000000000_kitchen_play.wav",
		"20200510120001000000.json",
		"bogus.json",
		".20200510120003000000.json.123.tmp",
		"README.md",
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, f), []byte(`{}`), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "subdir"), 0o755); err != nil {
		t.Fatal(err)
	}

	l, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var names []string
	for _, e := range l.Entries {
		names = append(names, e.Name)
	}
	want := []string{
		"20200510120000000000_kitchen_play.wav",
		"20200510120001000000.json",
		"20200510120002000000.json",
	}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("entries = %v, want %v", names, want)
	}
	if len(l.Faults) != 1 || !errors.Is(l.Faults[0], hermes.ErrIntegrity) {
		t.Errorf("faults = %v, want one integrity fault for bogus.json", l.Faults)
	}
}

func TestList_ChronologicalAcrossDSTFallBack(t *testing.T) {
	t.Parallel()
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	s, err := archive.Open(t.TempDir(), archive.WithLocation(ny))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	// 01:30 EDT, 01:10 EST and 01:30 EST on 2020-11-01.
	times := []time.Time{
		time.Date(2020, 11, 1, 5, 30, 0, 0, time.UTC),
		time.Date(2020, 11, 1, 6, 10, 0, 0, time.UTC),
		time.Date(2020, 11, 1, 6, 30, 0, 0, time.UTC),
	}
	for i, at := range times {
		msg := hermes.Message{Topic: "hermes/tts/say", Payload: map[string]any{"n": i}, Time: at.In(ny)}
		if _, err := s.WriteMessage(msg); err != nil {
			t.Fatalf("WriteMessage %d: %v", i, err)
		}
	}

	l, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(l.Entries) != len(times) {
		t.Fatalf("entries = %d, want %d", len(l.Entries), len(times))
	}
	for i, e := range l.Entries {
		if !e.Time.Equal(times[i]) {
			t.Errorf("entry %d (%s) time = %s, want %s", i, e.Name, e.Time.UTC(), times[i])
		}
		if e.Time.Location() != ny {
			t.Errorf("entry %d location = %s, want America/New_York", i, e.Time.Location())
		}
	}
	if l.Entries[0].Name != "20201101053000000000.json" {
		t.Errorf("first name = %s, want UTC stamp", l.Entries[0].Name)
	}
}

func TestList_NoLeftoverTempFiles(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	if _, err := s.WriteMessage(hermes.Message{Topic: "x/y", Payload: map[string]any{}, Time: time.Now()}); err != nil {
		t.Fatal(err)
	}
	des, err := os.ReadDir(s.Dir())
	if err != nil {
		t.Fatal(err)
	}
	if len(des) != 1 {
		t.Errorf("directory has %d entries, want exactly the record", len(des))
	}
}

func TestReadMessage_Faults(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	write := func(name, body string) archive.Entry {
		t.Helper()
		if err := os.WriteFile(s.Path(name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		e, err := archive.ParseName(name)
		if err != nil {
			t.Fatal(err)
		}
		return e
	}

	if _, err := s.ReadMessage(write("20200510120000000000.json", `{"siteId":"x"}`)); !errors.Is(err, hermes.ErrFormat) {
		t.Errorf("missing topic: error = %v, want ErrFormat", err)
	}
	if _, err := s.ReadMessage(write("20200510120001000000.json", `not json`)); !errors.Is(err, hermes.ErrFormat) {
		t.Errorf("bad json: error = %v, want ErrFormat", err)
	}

	gone, _ := archive.ParseName("20200510120002000000.json")
	if _, err := s.ReadMessage(gone); !errors.Is(err, hermes.ErrStorage) {
		t.Errorf("missing file: error = %v, want ErrStorage", err)
	}
}
