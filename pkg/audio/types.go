// Package audio decodes, conforms and merges the RIFF/WAVE containers that
// Hermes audio servers publish, one small container per MQTT message.
//
// The package lives under pkg/ because it has no dependency on the bus or the
// archive: anything holding a list of WAV byte slices can merge them.
package audio

import "fmt"

// Format describes the PCM layout of a clip.
type Format struct {
	// SampleRate in Hz (e.g., 16000 for microphone input, 22050 for TTS output).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// SampleWidth is the number of bytes per sample per channel (1–4).
	SampleWidth int
}

// FrameSize returns the number of bytes that make up one frame (one sample
// for every channel).
func (f Format) FrameSize() int {
	return f.Channels * f.SampleWidth
}

// String renders the format as e.g. "44100Hz/1ch/16bit".
func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch/%dbit", f.SampleRate, f.Channels, f.SampleWidth*8)
}

// Clip is decoded PCM audio together with its format. Data always holds a
// whole number of frames.
type Clip struct {
	Format Format
	Data   []byte
}

// Frames returns the number of frames in the clip.
func (c Clip) Frames() int {
	fs := c.Format.FrameSize()
	if fs == 0 {
		return 0
	}
	return len(c.Data) / fs
}
