package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// ANSI colour indices.
const (
	colorRed     = lipgloss.Color("1")
	colorGreen   = lipgloss.Color("2")
	colorYellow  = lipgloss.Color("3")
	colorMagenta = lipgloss.Color("5")
	colorCyan    = lipgloss.Color("6")
	colorWhite   = lipgloss.Color("7")
)

type styles struct {
	r *lipgloss.Renderer
}

func newStyles(r *lipgloss.Renderer) styles { return styles{r: r} }

// tag colours a component label such as "[Asr]".
func (s styles) tag(text string, c lipgloss.Color) string {
	return s.r.NewStyle().Foreground(c).Render(text)
}

// site highlights a site id.
func (s styles) site(text string) string {
	return s.r.NewStyle().Foreground(colorWhite).Bold(true).Render(text)
}

// bold renders text bold in colour c.
func (s styles) bold(text string, c lipgloss.Color) string {
	return s.r.NewStyle().Foreground(c).Bold(true).Render(text)
}

type template struct {
	pattern string
	render  func(s styles, f fields, topic string) string
}

// templates is checked in order; the first matching pattern wins.
var templates = []template{
	// Hotword.
	{"hermes/hotword/toggleOn", func(s styles, f fields, _ string) string {
		return s.tag("[hotword]", colorMagenta) + " was asked to toggle itself 'on' on site " + s.site(f.get("siteId"))
	}},
	{"hermes/hotword/toggleOff", func(s styles, f fields, _ string) string {
		return s.tag("[hotword]", colorMagenta) + " was asked to toggle itself 'off' on site " + s.site(f.get("siteId"))
	}},
	{"hermes/hotword/+/detected", func(s styles, f fields, _ string) string {
		return fmt.Sprintf("%s detected on site %s, for model %s",
			s.tag("[hotword]", colorYellow), s.site(f.get("siteId")), f.get("modelId"))
	}},

	// ASR.
	{"hermes/asr/stopListening", func(s styles, f fields, _ string) string {
		return s.tag("[Asr]", colorMagenta) + " was asked to stop listening on site " + s.site(f.get("siteId"))
	}},
	{"hermes/asr/startListening", func(s styles, f fields, _ string) string {
		return s.tag("[Asr]", colorMagenta) + " was asked to listen on site " + s.site(f.get("siteId"))
	}},
	{"hermes/asr/textCaptured", func(s styles, f fields, _ string) string {
		return fmt.Sprintf("%s captured text '%s' in %ss on site %s",
			s.tag("[Asr]", colorYellow), s.bold(f.get("text"), colorGreen), f.get("seconds"), s.site(f.get("siteId")))
	}},

	// Dialogue manager.
	{"hermes/dialogueManager/sessionStarted", func(s styles, f fields, _ string) string {
		return fmt.Sprintf("%s session with id %s was started on site %s.",
			s.tag("[Dialogue]", colorYellow), f.get("sessionId"), s.site(f.get("siteId")))
	}},
	{"hermes/dialogueManager/sessionEnded", func(s styles, f fields, _ string) string {
		return fmt.Sprintf("%s session with id %s was ended on site %s. Reason: %s",
			s.tag("[Dialogue]", colorYellow), f.get("sessionId"), s.site(f.get("siteId")), f.get("termination", "reason"))
	}},
	{"hermes/dialogueManager/endSession", func(s styles, f fields, _ string) string {
		return fmt.Sprintf("%s was ask to end session with id %s by saying '%s'",
			s.tag("[Dialogue]", colorMagenta), f.get("sessionId"), f.get("text"))
	}},

	// NLU.
	{"hermes/nlu/query", func(s styles, f fields, _ string) string {
		return fmt.Sprintf("%s was asked to parse input '%s'", s.tag("[Nlu]", colorMagenta), f.get("input"))
	}},
	{"hermes/nlu/intentNotRecognized", func(s styles, f fields, _ string) string {
		return s.tag("[Nlu]", colorYellow) + " Intent not recognized for " + s.bold(f.get("input"), colorRed)
	}},
	{"hermes/nlu/intentParsed", func(s styles, f fields, _ string) string {
		return fmt.Sprintf("%s Detected intent %s with confidence score %s for input '%s'",
			s.tag("[Nlu]", colorYellow), s.bold(f.get("intent", "intentName"), colorGreen),
			f.get("intent", "confidenceScore"), f.get("input"))
	}},

	// Intents.
	{"hermes/intent/#", func(s styles, f fields, _ string) string {
		var b strings.Builder
		fmt.Fprintf(&b, "%s Intent %s with confidence score %s on site %s",
			s.tag("[Nlu]", colorYellow), s.bold(f.get("intent", "intentName"), colorGreen),
			f.get("intent", "confidenceScore"), s.site(f.get("siteId")))
		if slots := f.list("slots"); len(slots) > 0 {
			b.WriteString("\n           with slots : ")
			for _, slot := range slots {
				fmt.Fprintf(&b, "\n               %s => %s (confidenceScore=%s)",
					s.bold(slot.get("slotName"), colorCyan), slot.get("value", "value"), slot.get("confidenceScore"))
			}
		}
		return b.String()
	}},

	// TTS.
	{"hermes/tts/say", func(s styles, f fields, _ string) string {
		return fmt.Sprintf("%s was asked to say '%s' in %s on site %s",
			s.tag("[Tts]", colorYellow), s.bold(f.get("text"), colorGreen), f.get("lang"), s.site(f.get("siteId")))
	}},
	{"hermes/tts/sayFinished", func(s styles, f fields, _ string) string {
		return fmt.Sprintf("%s finished speaking with id '%s'", s.tag("[Tts]", colorCyan), f.get("sessionId"))
	}},
}
