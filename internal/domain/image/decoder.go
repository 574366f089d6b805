package image

import (
	"sync/atomic"

	"argus-vision-server/internal/platform/config"
	"argus-vision-server/internal/utils"
)

// Decoder turns validated byte payloads into Decoded images. Decoding is
// synchronous and CPU-bound; it never touches a pooled native context.
type Decoder struct {
	validator *Validator
	logger    *utils.Logger
}

// NewDecoder constructs a decoder with the given security limits.
func NewDecoder(cfg *config.SecurityConfig, logger *utils.Logger) *Decoder {
	return &Decoder{
		validator: NewValidator(cfg, logger),
		logger:    logger,
	}
}

// Decoded owns a pixel buffer for exactly one pipeline execution. Close
// releases the buffer and is safe to call more than once.
type Decoded struct {
	Width    int
	Height   int
	Channels int
	Format   string

	px     pixelData
	closed atomic.Bool
}

// Close releases the pixel buffer. Only the first call has any effect.
func (d *Decoded) Close() error {
	if d == nil {
		return nil
	}
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	return d.px.release()
}

// Closed reports whether the pixel buffer has been released.
func (d *Decoded) Closed() bool {
	return d.closed.Load()
}

// Decode validates the payload and, only on success, materialises the pixel
// buffer. A failed decode never yields a partially constructed image.
func (d *Decoder) Decode(raw []byte, declaredFormat string) (*Decoded, error) {
	result := d.validator.Validate(raw, declaredFormat)
	if !result.IsValid {
		return nil, result.Err
	}

	decoded, err := materialize(raw, result)
	if err != nil {
		return nil, err
	}
	return decoded, nil
}
