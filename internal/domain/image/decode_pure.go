//go:build !gocv
// +build !gocv

package image

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
)

// pixelData is the pure-Go pixel representation used when the binary is
// built without the gocv tag.
type pixelData struct {
	gray *image.Gray
}

func (p *pixelData) release() error {
	p.gray = nil
	return nil
}

// Gray exposes the grayscale pixel buffer to pipeline stages.
func (d *Decoded) Gray() *image.Gray {
	return d.px.gray
}

func materialize(raw []byte, result ValidationResult) (*Decoded, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	bounds := img.Bounds()
	gray, ok := img.(*image.Gray)
	if !ok {
		gray = image.NewGray(bounds)
		draw.Draw(gray, bounds, img, bounds.Min, draw.Src)
	}

	return &Decoded{
		Width:    bounds.Dx(),
		Height:   bounds.Dy(),
		Channels: 1,
		Format:   result.Format,
		px:       pixelData{gray: gray},
	}, nil
}
