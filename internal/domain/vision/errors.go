package vision

import (
	"errors"
	"fmt"
)

var (
	// ErrResourceExhausted signals that no native context became free
	// within the configured acquire timeout.
	ErrResourceExhausted = errors.New("no native context available")

	// ErrPoolClosed signals acquisition after shutdown began.
	ErrPoolClosed = errors.New("context pool closed")
)

// StageError reports which pipeline stage failed and why. Remaining stages
// are skipped and partial results are discarded.
type StageError struct {
	Stage string
	Cause error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Cause)
}

func (e *StageError) Unwrap() error {
	return e.Cause
}
