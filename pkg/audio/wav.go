package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrInvalidWAV is returned by [Decode] when the input is not a well-formed
// RIFF/WAVE PCM container.
var ErrInvalidWAV = errors.New("audio: invalid WAV container")

const (
	wavFormatPCM        = 0x0001
	wavFormatExtensible = 0xFFFE

	// riffHeaderSize covers "RIFF", the size field, and "WAVE".
	riffHeaderSize = 12
)

// Decode parses a RIFF/WAVE container and returns its PCM payload.
//
// Chunks are walked rather than assuming a fixed 44-byte header because
// encoders are free to insert LIST or fact chunks before "data". A data
// chunk that claims more bytes than are present is clamped to what is
// available, and a trailing partial frame is dropped.
func Decode(wav []byte) (Clip, error) {
	if len(wav) < riffHeaderSize {
		return Clip{}, fmt.Errorf("%w: %d bytes is too short", ErrInvalidWAV, len(wav))
	}
	if string(wav[0:4]) != "RIFF" {
		return Clip{}, fmt.Errorf("%w: missing RIFF header", ErrInvalidWAV)
	}
	if string(wav[8:12]) != "WAVE" {
		return Clip{}, fmt.Errorf("%w: missing WAVE identifier", ErrInvalidWAV)
	}

	var (
		format   Format
		foundFmt bool
	)
	offset := riffHeaderSize
	for offset+8 <= len(wav) {
		id := string(wav[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))
		body := offset + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(wav) {
				return Clip{}, fmt.Errorf("%w: truncated fmt chunk", ErrInvalidWAV)
			}
			f, err := parseFmt(wav[body : body+16])
			if err != nil {
				return Clip{}, err
			}
			format = f
			foundFmt = true

		case "data":
			if !foundFmt {
				return Clip{}, fmt.Errorf("%w: data chunk before fmt chunk", ErrInvalidWAV)
			}
			end := body + size
			if end > len(wav) || end < body {
				end = len(wav)
			}
			data := wav[body:end]
			data = data[:len(data)-len(data)%format.FrameSize()]
			return Clip{Format: format, Data: data}, nil
		}

		// Chunks are word-aligned.
		offset = body + size
		if size%2 != 0 {
			offset++
		}
	}
	return Clip{}, fmt.Errorf("%w: missing data chunk", ErrInvalidWAV)
}

func parseFmt(b []byte) (Format, error) {
	tag := binary.LittleEndian.Uint16(b[0:2])
	if tag != wavFormatPCM && tag != wavFormatExtensible {
		return Format{}, fmt.Errorf("%w: unsupported format tag 0x%04x", ErrInvalidWAV, tag)
	}
	f := Format{
		Channels:   int(binary.LittleEndian.Uint16(b[2:4])),
		SampleRate: int(binary.LittleEndian.Uint32(b[4:8])),
	}
	bits := int(binary.LittleEndian.Uint16(b[14:16]))
	if f.Channels <= 0 || f.SampleRate <= 0 {
		return Format{}, fmt.Errorf("%w: channels=%d rate=%d", ErrInvalidWAV, f.Channels, f.SampleRate)
	}
	if bits <= 0 || bits > 32 || bits%8 != 0 {
		return Format{}, fmt.Errorf("%w: unsupported sample width %d bits", ErrInvalidWAV, bits)
	}
	f.SampleWidth = bits / 8
	return f, nil
}

// Encode writes c as a canonical 44-byte-header PCM WAV file.
func Encode(w io.Writer, c Clip) error {
	f := c.Format
	if f.FrameSize() <= 0 || f.SampleRate <= 0 {
		return fmt.Errorf("audio: encode: invalid format %s", f)
	}
	dataLen := len(c.Data)
	pad := dataLen % 2

	var hdr [44]byte
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(36+dataLen+pad))
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)
	binary.LittleEndian.PutUint16(hdr[20:22], wavFormatPCM)
	binary.LittleEndian.PutUint16(hdr[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(f.SampleRate*f.FrameSize()))
	binary.LittleEndian.PutUint16(hdr[32:34], uint16(f.FrameSize()))
	binary.LittleEndian.PutUint16(hdr[34:36], uint16(f.SampleWidth*8))
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], uint32(dataLen))

	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("audio: encode header: %w", err)
	}
	if _, err := w.Write(c.Data); err != nil {
		return fmt.Errorf("audio: encode data: %w", err)
	}
	if pad != 0 {
		if _, err := w.Write([]byte{0}); err != nil {
			return fmt.Errorf("audio: encode pad: %w", err)
		}
	}
	return nil
}

// EncodeBytes is [Encode] into a fresh byte slice.
func EncodeBytes(c Clip) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(44 + len(c.Data) + 1)
	if err := Encode(&buf, c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
