package dispatch

import (
	"argus-vision-server/internal/domain/vision"
)

// Request is one unit of analysis work handed to the dispatcher. ID is
// assigned by the dispatcher when the caller leaves it empty.
type Request struct {
	ID          string
	Data        []byte
	ContentType string
}

// ErrorKind classifies a failed request for transport mapping. Every failure
// a request can observe collapses into exactly one kind.
type ErrorKind string

const (
	KindNone              ErrorKind = ""
	KindMalformed         ErrorKind = "decode_malformed"
	KindUnsupported       ErrorKind = "decode_unsupported"
	KindTooLarge          ErrorKind = "decode_too_large"
	KindOverloaded        ErrorKind = "overloaded"
	KindResourceExhausted ErrorKind = "resource_exhausted"
	KindTimeout           ErrorKind = "timeout"
	KindProcessing        ErrorKind = "processing"
	KindInternal          ErrorKind = "internal"
)

// Outcome is the single terminal state of a request: either Result is set,
// or Err and its Kind are.
type Outcome struct {
	Result *vision.Result
	Err    error
	Kind   ErrorKind
}

// SlotState tracks where a worker slot currently is in the request
// lifecycle.
type SlotState int32

const (
	SlotIdle SlotState = iota
	SlotDecoding
	SlotAwaitingContext
	SlotProcessing
	SlotCompleting
)

func (s SlotState) String() string {
	switch s {
	case SlotIdle:
		return "idle"
	case SlotDecoding:
		return "decoding"
	case SlotAwaitingContext:
		return "awaiting_context"
	case SlotProcessing:
		return "processing"
	case SlotCompleting:
		return "completing"
	default:
		return "unknown"
	}
}

// Stats is a point-in-time snapshot of dispatcher load.
type Stats struct {
	Workers       int   `json:"workers"`
	Busy          int   `json:"busy"`
	QueueDepth    int   `json:"queue_depth"`
	QueueCapacity int   `json:"queue_capacity"`
	Accepted      int64 `json:"accepted"`
	Rejected      int64 `json:"rejected"`
	Completed     int64 `json:"completed"`
	Failed        int64 `json:"failed"`
	TimedOut      int64 `json:"timed_out"`
}
