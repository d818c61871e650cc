package hermes

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Well-known topics.
const (
	TopicTextCaptured   = "hermes/asr/textCaptured"
	TopicAudioServerAll = "hermes/audioServer/#"
)

// Subscriptions is the fixed set of topic filters the watcher subscribes to.
var Subscriptions = []string{
	"hermes/hotword/#",
	"hermes/asr/#",
	"hermes/nlu/#",
	"hermes/intent/#",
	"hermes/tts/#",
	"hermes/dialogueManager/#",
	TopicAudioServerAll,
}

// Route is the destination of an inbound message.
type Route int

const (
	// RouteMessage sends the message to the recorder and the renderer.
	RouteMessage Route = iota

	// RouteAudio sends the message to the audio demultiplexer.
	RouteAudio

	// RouteIgnore drops the message.
	RouteIgnore
)

func (r Route) String() string {
	switch r {
	case RouteMessage:
		return "message"
	case RouteAudio:
		return "audio"
	default:
		return "ignore"
	}
}

// Rule maps a topic filter to a route. Audio rules also name the flow and
// what the message does to it.
type Rule struct {
	// Pattern is an MQTT topic filter (+ and # wildcards).
	Pattern string
	Route   Route
	Flow    FlowKind
	Mark    AudioMark
}

// DefaultRules is the classification table. Order matters: the first match
// wins and the trailing "#" makes the table total.
var DefaultRules = []Rule{
	{Pattern: "hermes/audioServer/+/audioFrame", Route: RouteAudio, Flow: FlowRecord, Mark: MarkChunk},
	{Pattern: "hermes/audioServer/+/playBytesStreaming/#", Route: RouteAudio, Flow: FlowPlay, Mark: MarkChunk},
	{Pattern: "hermes/audioServer/+/playBytes/#", Route: RouteAudio, Flow: FlowPlay, Mark: MarkEnd},
	{Pattern: "hermes/audioServer/+/streamFinished", Route: RouteAudio, Flow: FlowPlay, Mark: MarkEnd},
	{Pattern: TopicAudioServerAll, Route: RouteIgnore},
	{Pattern: "#", Route: RouteMessage},
}

// Handler consumes classified traffic.
type Handler interface {
	HandleMessage(ctx context.Context, msg Message) error
	HandleAudio(ctx context.Context, ev AudioEvent) error
}

// Router classifies inbound messages with an ordered rule table and hands
// them to a [Handler]. It neither persists nor renders.
type Router struct {
	rules   []Rule
	handler Handler
}

// NewRouter returns a router over rules, or [DefaultRules] when none are
// given.
func NewRouter(h Handler, rules ...Rule) *Router {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	return &Router{rules: rules, handler: h}
}

// Classify returns the first rule matching topic. A topic no rule matches is
// routed as a message.
func (r *Router) Classify(topic string) Rule {
	for _, rule := range r.rules {
		if MatchTopic(rule.Pattern, topic) {
			return rule
		}
	}
	return Rule{Pattern: "#", Route: RouteMessage}
}

// Dispatch classifies one inbound message and forwards it. Errors from
// decoding and from the handler are returned; the router keeps no state, so
// a failed message never affects the next one.
func (r *Router) Dispatch(ctx context.Context, topic string, payload []byte, at time.Time) (Route, error) {
	rule := r.Classify(topic)
	switch rule.Route {
	case RouteAudio:
		site := topicLevel(topic, 2)
		if !ValidSite(site) {
			return rule.Route, fmt.Errorf("%w: invalid site %q in topic %q", ErrFormat, site, topic)
		}
		return rule.Route, r.handler.HandleAudio(ctx, AudioEvent{
			Key:   FlowKey{Site: site, Flow: rule.Flow},
			Mark:  rule.Mark,
			Data:  payload,
			Time:  at,
			Topic: topic,
		})

	case RouteMessage:
		p, err := DecodePayload(payload)
		if err != nil {
			return rule.Route, fmt.Errorf("topic %q: %w", topic, err)
		}
		return rule.Route, r.handler.HandleMessage(ctx, Message{Topic: topic, Payload: p, Time: at})

	default:
		return rule.Route, nil
	}
}

// MatchTopic reports whether topic matches the MQTT topic filter pattern.
// "+" matches exactly one level; a trailing "#" matches the parent level and
// any number of levels below it.
func MatchTopic(pattern, topic string) bool {
	pl := strings.Split(pattern, "/")
	tl := strings.Split(topic, "/")
	for i, p := range pl {
		if p == "#" {
			return i == len(pl)-1
		}
		if i >= len(tl) {
			return false
		}
		if p != "+" && p != tl[i] {
			return false
		}
	}
	return len(pl) == len(tl)
}

func topicLevel(topic string, n int) string {
	levels := strings.SplitN(topic, "/", n+2)
	if n < len(levels) {
		return levels[n]
	}
	return ""
}
