//go:build gocv
// +build gocv

package image

import (
	"fmt"

	"gocv.io/x/gocv"
)

// pixelData wraps the native OpenCV buffer. The Mat is owned by exactly one
// pipeline execution and released through Decoded.Close.
type pixelData struct {
	mat gocv.Mat
}

func (p *pixelData) release() error {
	if p.mat.Ptr() == nil {
		return nil
	}
	return p.mat.Close()
}

// Mat exposes the native pixel buffer to pipeline stages.
func (d *Decoded) Mat() gocv.Mat {
	return d.px.mat
}

func materialize(raw []byte, result ValidationResult) (*Decoded, error) {
	mat, err := gocv.IMDecode(raw, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if mat.Empty() {
		mat.Close()
		return nil, fmt.Errorf("%w: native decode produced no pixels", ErrMalformed)
	}

	return &Decoded{
		Width:    mat.Cols(),
		Height:   mat.Rows(),
		Channels: mat.Channels(),
		Format:   result.Format,
		px:       pixelData{mat: mat},
	}, nil
}
