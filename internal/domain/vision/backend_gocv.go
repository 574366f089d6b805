//go:build gocv
// +build gocv

package vision

import (
	"context"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// nativeState owns the OpenCV working Mats reused across executions. The
// exclusive checkout discipline of the pool makes this safe without locks.
type nativeState struct {
	gray  gocv.Mat
	blur  gocv.Mat
	edges gocv.Mat
}

func initNativeState() (nativeState, error) {
	return nativeState{
		gray:  gocv.NewMat(),
		blur:  gocv.NewMat(),
		edges: gocv.NewMat(),
	}, nil
}

func (s *nativeState) release() error {
	var firstErr error
	for _, mat := range []*gocv.Mat{&s.gray, &s.blur, &s.edges} {
		if mat.Ptr() == nil {
			continue
		}
		if err := mat.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// execPixels points at the context-owned Mats the current execution wrote.
type execPixels struct {
	gray  *gocv.Mat
	edges *gocv.Mat
}

func (s *normalizeStage) Run(ctx context.Context, ex *Execution) error {
	mat := ex.Image.Mat()
	if mat.Empty() {
		return fmt.Errorf("pixel buffer already released")
	}

	state := &ex.Context.state
	if mat.Channels() > 1 {
		gocv.CvtColor(mat, &state.gray, gocv.ColorBGRToGray)
	} else {
		mat.CopyTo(&state.gray)
	}

	w, h := mat.Cols(), mat.Rows()
	if m := maxInt(w, h); s.cfg.MaxSide > 0 && m > s.cfg.MaxSide {
		scale := float64(s.cfg.MaxSide) / float64(m)
		ww := maxInt(1, int(float64(w)*scale))
		wh := maxInt(1, int(float64(h)*scale))
		gocv.Resize(state.gray, &state.gray, image.Pt(ww, wh), 0, 0, gocv.InterpolationArea)
	}

	ex.Width = state.gray.Cols()
	ex.Height = state.gray.Rows()
	ex.invScale = float64(w) / float64(ex.Width)
	ex.px = execPixels{gray: &state.gray}
	return nil
}

func (s *transformStage) Run(ctx context.Context, ex *Execution) error {
	if ex.px.gray == nil {
		return fmt.Errorf("no normalised image: stage order broken")
	}

	state := &ex.Context.state
	kernel := 2*s.cfg.BlurRadius + 1
	if kernel < 1 {
		kernel = 1
	}
	gocv.GaussianBlur(*ex.px.gray, &state.blur, image.Pt(kernel, kernel), 0, 0, gocv.BorderDefault)

	low := float32(s.cfg.EdgeThreshold)
	gocv.Canny(state.blur, &state.edges, low, low*3)

	ex.px.edges = &state.edges
	return nil
}

func (s *analyzeStage) Run(ctx context.Context, ex *Execution) error {
	if ex.px.edges == nil {
		return fmt.Errorf("no edge map: stage order broken")
	}

	contours := gocv.FindContours(*ex.px.edges, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	w, h := ex.Width, ex.Height
	minArea := int(s.cfg.MinRegionRatio * float64(w*h))
	if minArea < 1 {
		minArea = 1
	}

	regions := make([]Region, 0, contours.Size())
	for i := 0; i < contours.Size(); i++ {
		c := contours.At(i)
		rect := gocv.BoundingRect(c)
		bw, bh := rect.Dx(), rect.Dy()
		if bw*bh < minArea || bh == 0 {
			continue
		}
		aspect := float64(bw) / float64(bh)
		if aspect < s.cfg.MinAspect || aspect > s.cfg.MaxAspect {
			continue
		}

		score := gocv.ContourArea(c) / float64(bw*bh)
		if score > 1 {
			score = 1
		}

		inv := ex.invScale
		ox := int(float64(rect.Min.X) * inv)
		oy := int(float64(rect.Min.Y) * inv)
		ow := maxInt(1, int(float64(bw)*inv))
		oh := maxInt(1, int(float64(bh)*inv))

		regions = append(regions, Region{
			X:      ox,
			Y:      oy,
			Width:  ow,
			Height: oh,
			Area:   ow * oh,
			Score:  score,
		})
	}

	sortRegions(regions)
	ex.Regions = regions
	return nil
}
