package audio

import (
	"encoding/binary"
	"log/slog"
	"sync"
)

// FormatConverter conforms clips to a target format. Only 16-bit PCM is
// converted; clips of any other width pass through unchanged and a warning
// is logged once. Create one per merge; not designed for shared use across
// goroutines.
type FormatConverter struct {
	Target Format

	warnedMismatch sync.Once
	warnedWidth    sync.Once
}

// Convert returns c in the target format. If the formats already match the
// clip is returned unchanged (zero allocation). Conversion order: resample
// first, then channel convert.
func (fc *FormatConverter) Convert(c Clip) Clip {
	if c.Format == fc.Target {
		return c
	}
	if c.Format.SampleWidth != 2 || fc.Target.SampleWidth != 2 {
		fc.warnedWidth.Do(func() {
			slog.Warn("audio: cannot convert non-16-bit clip, appending as-is",
				"from", c.Format.String(),
				"to", fc.Target.String(),
			)
		})
		return c
	}

	fc.warnedMismatch.Do(func() {
		slog.Warn("audio: chunk format differs from first chunk, converting",
			"from", c.Format.String(),
			"to", fc.Target.String(),
		)
	})

	pcm := c.Data
	channels := c.Format.Channels
	if c.Format.SampleRate != fc.Target.SampleRate {
		pcm = Resample16(pcm, channels, c.Format.SampleRate, fc.Target.SampleRate)
	}
	if channels != fc.Target.Channels {
		pcm = Remix16(pcm, channels, fc.Target.Channels)
	}
	return Clip{Format: fc.Target, Data: pcm}
}

// Remix16 converts interleaved little-endian int16 PCM from one channel
// count to another. Downmixing averages all input channels; upmixing copies
// the averaged sample to every output channel.
func Remix16(pcm []byte, from, to int) []byte {
	if from <= 0 || to <= 0 || from == to {
		return pcm
	}
	frames := len(pcm) / (2 * from)
	out := make([]byte, frames*2*to)
	for i := range frames {
		var sum int32
		for ch := range from {
			sum += int32(int16(binary.LittleEndian.Uint16(pcm[(i*from+ch)*2:])))
		}
		v := uint16(clamp16(sum / int32(from)))
		for ch := range to {
			binary.LittleEndian.PutUint16(out[(i*to+ch)*2:], v)
		}
	}
	return out
}

// Resample16 resamples interleaved little-endian int16 PCM with the given
// channel count from srcRate to dstRate using linear interpolation. If the
// rates are equal or invalid the input is returned unchanged.
func Resample16(pcm []byte, channels, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || channels <= 0 || srcRate == dstRate {
		return pcm
	}
	frameSize := 2 * channels
	srcFrames := len(pcm) / frameSize
	if srcFrames == 0 {
		return nil
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	sample := func(frame, ch int) float64 {
		return float64(int16(binary.LittleEndian.Uint16(pcm[frame*frameSize+ch*2:])))
	}

	out := make([]byte, dstFrames*frameSize)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		next := idx + 1
		if next >= srcFrames {
			next = idx
		}
		for ch := range channels {
			v := sample(idx, ch)*(1-frac) + sample(next, ch)*frac
			binary.LittleEndian.PutUint16(out[i*frameSize+ch*2:], uint16(clamp16(int32(v))))
		}
	}
	return out
}

func clamp16(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
