package image

import "errors"

// Decode failure classes. Callers distinguish bad bytes, unknown formats and
// payloads that exceed configured limits; everything else is a caller bug.
var (
	ErrMalformed   = errors.New("malformed image payload")
	ErrUnsupported = errors.New("unsupported image format")
	ErrTooLarge    = errors.New("image exceeds configured limits")
)

// ValidationResult captures the outcome of payload validation.
type ValidationResult struct {
	IsValid  bool
	Format   string
	Width    int
	Height   int
	FileSize int64
	Err      error
}
