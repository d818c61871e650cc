package hermes

import (
	"errors"
	"fmt"
)

// Error classes. Every error returned by the recording and replay pipeline
// wraps exactly one of these so callers can classify it with [errors.Is].
var (
	// ErrFormat marks a unit whose bytes could not be understood: a chunk
	// that is not a WAV container or a payload that is not a JSON object.
	ErrFormat = errors.New("format error")

	// ErrIntegrity marks a unit that is well-formed but inconsistent: a flush
	// with no buffered chunks or a record name without a parseable timestamp.
	ErrIntegrity = errors.New("integrity error")

	// ErrStorage marks a filesystem failure while writing or reading records.
	ErrStorage = errors.New("storage error")

	// ErrDuplicate is returned when a record with the same name already
	// exists. The existing record is left untouched.
	ErrDuplicate = fmt.Errorf("%w: record already exists", ErrStorage)
)

// ErrorClass returns "format", "integrity", "storage" or "other" for err.
// It is used as a metric attribute.
func ErrorClass(err error) string {
	switch {
	case errors.Is(err, ErrFormat):
		return "format"
	case errors.Is(err, ErrIntegrity):
		return "integrity"
	case errors.Is(err, ErrStorage):
		return "storage"
	default:
		return "other"
	}
}
