package image

import (
	"bytes"
	"fmt"
	"image"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"argus-vision-server/internal/platform/config"
	"argus-vision-server/internal/utils"
)

// Validator performs layered checks against incoming image payloads. It only
// ever inspects headers; no pixel memory is allocated on the rejection paths.
type Validator struct {
	config *config.SecurityConfig
	logger *utils.Logger
}

// NewValidator constructs a new validator instance.
func NewValidator(cfg *config.SecurityConfig, logger *utils.Logger) *Validator {
	return &Validator{
		config: cfg,
		logger: logger,
	}
}

var imageSignatures = map[string][]byte{
	"jpeg": {0xFF, 0xD8},
	"jpg":  {0xFF, 0xD8},
	"png":  {0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A},
	"gif":  {0x47, 0x49, 0x46, 0x38},
	"webp": {0x52, 0x49, 0x46, 0x46},
	"bmp":  {0x42, 0x4D},
}

// NormalizeFormat maps MIME types and file extensions onto the short format
// names used throughout the pipeline ("image/png" -> "png").
func NormalizeFormat(declared string) string {
	f := strings.ToLower(strings.TrimSpace(declared))
	f = strings.TrimPrefix(f, "image/")
	f = strings.TrimPrefix(f, ".")
	if idx := strings.Index(f, ";"); idx >= 0 {
		f = strings.TrimSpace(f[:idx])
	}
	return f
}

// Validate checks raw bytes against the declared format and the configured
// size and dimension limits.
func (v *Validator) Validate(raw []byte, declaredFormat string) ValidationResult {
	result := ValidationResult{IsValid: false}
	declaredFormat = NormalizeFormat(declaredFormat)

	if len(raw) == 0 {
		result.Err = fmt.Errorf("%w: empty payload", ErrMalformed)
		return result
	}

	if int64(len(raw)) > v.config.MaxFileSize {
		result.Err = fmt.Errorf(
			"%w: %d bytes (max %d bytes)",
			ErrTooLarge, len(raw), v.config.MaxFileSize,
		)
		v.logger.WarnTag("VISION",
			"rejected oversized payload: size=%d max_size=%d format=%s",
			len(raw), v.config.MaxFileSize, declaredFormat)
		return result
	}

	if declaredFormat != "" && !v.isFormatAllowed(declaredFormat) {
		result.Err = fmt.Errorf("%w: %s", ErrUnsupported, declaredFormat)
		return result
	}

	if declaredFormat != "" && !v.matchesSignature(raw, declaredFormat) {
		actualHeader := fmt.Sprintf("%x", raw[:min(len(raw), 16)])
		v.logger.WarnTag("VISION",
			"file signature mismatch: declared_format=%s actual_header=%s",
			declaredFormat, actualHeader)
		result.Err = fmt.Errorf(
			"%w: payload does not match declared format %s",
			ErrMalformed, declaredFormat,
		)
		return result
	}

	// DecodeConfig reads the header only, so dimension limits are enforced
	// before any pixel buffer exists.
	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		if err == image.ErrFormat {
			result.Err = fmt.Errorf("%w: unrecognised image data", ErrUnsupported)
		} else {
			result.Err = fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return result
	}
	if !v.isFormatAllowed(format) {
		result.Err = fmt.Errorf("%w: %s", ErrUnsupported, format)
		return result
	}

	if cfg.Width > v.config.MaxWidth || cfg.Height > v.config.MaxHeight {
		result.Err = fmt.Errorf(
			"%w: %dx%d (max %dx%d)",
			ErrTooLarge, cfg.Width, cfg.Height, v.config.MaxWidth, v.config.MaxHeight,
		)
		return result
	}
	if v.config.MaxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > v.config.MaxPixels {
		result.Err = fmt.Errorf(
			"%w: %d pixels (max %d)",
			ErrTooLarge, int64(cfg.Width)*int64(cfg.Height), v.config.MaxPixels,
		)
		return result
	}

	result.IsValid = true
	result.Format = format
	result.Width = cfg.Width
	result.Height = cfg.Height
	result.FileSize = int64(len(raw))
	return result
}

func (v *Validator) isFormatAllowed(format string) bool {
	if v.config == nil || len(v.config.AllowedFormats) == 0 {
		return true
	}
	if format == "" {
		return true
	}

	format = strings.ToLower(format)
	for _, allowed := range v.config.AllowedFormats {
		if strings.ToLower(allowed) == format {
			return true
		}
	}
	return false
}

func (v *Validator) matchesSignature(raw []byte, format string) bool {
	signature, ok := imageSignatures[strings.ToLower(format)]
	if !ok || len(signature) == 0 {
		return true
	}
	if len(raw) < len(signature) {
		return false
	}
	return bytes.Equal(signature, raw[:len(signature)])
}
