package dispatch

import (
	"context"
	"errors"

	domainimage "argus-vision-server/internal/domain/image"
	"argus-vision-server/internal/domain/vision"
)

var (
	// ErrOverloaded is returned immediately when the queue is full.
	ErrOverloaded = errors.New("dispatch: queue full, request rejected")

	// ErrClosed is returned for requests submitted after shutdown began.
	ErrClosed = errors.New("dispatch: dispatcher closed")
)

// Classify collapses any error a request can fail with into its ErrorKind.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrOverloaded):
		return KindOverloaded
	case errors.Is(err, ErrClosed):
		return KindOverloaded
	case errors.Is(err, domainimage.ErrMalformed):
		return KindMalformed
	case errors.Is(err, domainimage.ErrUnsupported):
		return KindUnsupported
	case errors.Is(err, domainimage.ErrTooLarge):
		return KindTooLarge
	case errors.Is(err, vision.ErrResourceExhausted):
		return KindResourceExhausted
	case errors.Is(err, vision.ErrPoolClosed):
		return KindOverloaded
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindTimeout
	}

	var stageErr *vision.StageError
	if errors.As(err, &stageErr) {
		// A deadline that fired inside a stage is still a timeout to the
		// caller.
		if errors.Is(stageErr.Cause, context.DeadlineExceeded) ||
			errors.Is(stageErr.Cause, context.Canceled) {
			return KindTimeout
		}
		return KindProcessing
	}

	return KindInternal
}
