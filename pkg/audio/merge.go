package audio

import (
	"errors"
	"fmt"
)

// ErrNoChunks is returned by [Merge] when there is nothing to merge.
var ErrNoChunks = errors.New("audio: no chunks to merge")

// Merge decodes every chunk and concatenates their frames, in input order,
// into a single clip carrying the first chunk's format.
//
// Chunks are expected to share one format. A 16-bit chunk that does not is
// conformed to the first chunk's format; other mismatches are appended
// unchanged. Any chunk that is not a well-formed container fails the whole
// merge with an error wrapping [ErrInvalidWAV].
func Merge(chunks [][]byte) (Clip, error) {
	if len(chunks) == 0 {
		return Clip{}, ErrNoChunks
	}

	first, err := Decode(chunks[0])
	if err != nil {
		return Clip{}, fmt.Errorf("chunk 0: %w", err)
	}

	size := 0
	for _, c := range chunks {
		size += len(c)
	}
	data := make([]byte, 0, size)
	data = append(data, first.Data...)

	conv := FormatConverter{Target: first.Format}
	for i, raw := range chunks[1:] {
		clip, err := Decode(raw)
		if err != nil {
			return Clip{}, fmt.Errorf("chunk %d: %w", i+1, err)
		}
		data = append(data, conv.Convert(clip).Data...)
	}

	return Clip{Format: first.Format, Data: data}, nil
}

// MergeBytes is [Merge] followed by [EncodeBytes]. The returned clip carries
// the merged PCM so callers can log frame counts without re-decoding.
func MergeBytes(chunks [][]byte) ([]byte, Clip, error) {
	clip, err := Merge(chunks)
	if err != nil {
		return nil, Clip{}, err
	}
	wav, err := EncodeBytes(clip)
	if err != nil {
		return nil, Clip{}, err
	}
	return wav, clip, nil
}
