//go:build !gocv
// +build !gocv

package vision

import (
	"context"
	"fmt"
)

// nativeState is the pure-Go stand-in for native library state: a reusable
// scratch arena sized for the largest image the context has processed.
type nativeState struct {
	buf []byte
}

func initNativeState() (nativeState, error) {
	return nativeState{}, nil
}

func (s *nativeState) release() error {
	s.buf = nil
	return nil
}

// scratch returns an n-byte working buffer owned by this context. Exclusive
// checkout makes reuse across executions safe.
func (nc *NativeContext) scratch(n int) []byte {
	if cap(nc.state.buf) < n {
		nc.state.buf = make([]byte, n)
	}
	return nc.state.buf[:n]
}

// execPixels holds the working planes of one execution. All slices alias the
// owning context's scratch arena.
type execPixels struct {
	gray  []byte
	edges []byte
	tmp   []byte
}

func (s *normalizeStage) Run(ctx context.Context, ex *Execution) error {
	src := ex.Image.Gray()
	if src == nil {
		return fmt.Errorf("pixel buffer already released")
	}

	w, h := ex.Image.Width, ex.Image.Height
	scale := 1.0
	if m := maxInt(w, h); s.cfg.MaxSide > 0 && m > s.cfg.MaxSide {
		scale = float64(s.cfg.MaxSide) / float64(m)
	}
	ww := maxInt(1, int(float64(w)*scale))
	wh := maxInt(1, int(float64(h)*scale))

	n := ww * wh
	buf := ex.Context.scratch(3 * n)
	gray := buf[:n]
	edges := buf[n : 2*n]
	tmp := buf[2*n : 3*n]

	minX, minY := src.Rect.Min.X, src.Rect.Min.Y
	for y := 0; y < wh; y++ {
		sy := y * h / wh
		row := gray[y*ww:]
		for x := 0; x < ww; x++ {
			sx := x * w / ww
			row[x] = src.GrayAt(minX+sx, minY+sy).Y
		}
	}

	ex.Width, ex.Height = ww, wh
	ex.invScale = float64(w) / float64(ww)
	ex.px = execPixels{gray: gray, edges: edges, tmp: tmp}
	return nil
}

func (s *transformStage) Run(ctx context.Context, ex *Execution) error {
	if ex.px.gray == nil {
		return fmt.Errorf("no normalised image: stage order broken")
	}

	w, h := ex.Width, ex.Height
	radius := s.cfg.BlurRadius
	if radius < 0 {
		radius = 0
	}

	boxBlur(ex.px.gray, ex.px.tmp, w, h, radius)
	gradientMagnitude(ex.px.tmp, ex.px.edges, w, h)
	return nil
}

func (s *analyzeStage) Run(ctx context.Context, ex *Execution) error {
	if ex.px.edges == nil {
		return fmt.Errorf("no edge map: stage order broken")
	}

	w, h := ex.Width, ex.Height
	edges := ex.px.edges
	threshold := byte(s.cfg.EdgeThreshold)

	minArea := int(s.cfg.MinRegionRatio * float64(w*h))
	if minArea < 1 {
		minArea = 1
	}

	visited := make([]bool, w*h)
	stack := make([]int, 0, 256)
	regions := make([]Region, 0, 8)

	for start := range edges {
		if edges[start] < threshold || visited[start] {
			continue
		}

		// Flood fill one 8-connected component of edge pixels.
		minX, minY := w, h
		maxX, maxY := 0, 0
		count := 0
		stack = append(stack[:0], start)
		visited[start] = true

		for len(stack) > 0 {
			p := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := p%w, p/w
			count++
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}

			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= w || ny >= h {
						continue
					}
					np := ny*w + nx
					if !visited[np] && edges[np] >= threshold {
						visited[np] = true
						stack = append(stack, np)
					}
				}
			}
		}

		bw := maxX - minX + 1
		bh := maxY - minY + 1
		if bw*bh < minArea {
			continue
		}
		aspect := float64(bw) / float64(bh)
		if aspect < s.cfg.MinAspect || aspect > s.cfg.MaxAspect {
			continue
		}

		score := float64(count) / float64(bw*bh)
		if score > 1 {
			score = 1
		}

		inv := ex.invScale
		ox := int(float64(minX) * inv)
		oy := int(float64(minY) * inv)
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

// boxBlur writes a (2r+1)^2 mean filter of src into dst. A zero radius
// copies the image unchanged.
func boxBlur(src, dst []byte, w, h, radius int) {
	if radius == 0 {
		copy(dst, src)
		return
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sum, count := 0, 0
			for dy := -radius; dy <= radius; dy++ {
				ny := y + dy
				if ny < 0 || ny >= h {
					continue
				}
				for dx := -radius; dx <= radius; dx++ {
					nx := x + dx
					if nx < 0 || nx >= w {
						continue
					}
					sum += int(src[ny*w+nx])
					count++
				}
			}
			dst[y*w+x] = byte(sum / count)
		}
	}
}

// gradientMagnitude approximates edge strength with central differences.
// Border pixels are forced to zero.
func gradientMagnitude(src, dst []byte, w, h int) {
	for i := range dst {
		dst[i] = 0
	}
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			gx := (int(src[y*w+x+1]) - int(src[y*w+x-1])) / 2
			gy := (int(src[(y+1)*w+x]) - int(src[(y-1)*w+x])) / 2
			if gx < 0 {
				gx = -gx
			}
			if gy < 0 {
				gy = -gy
			}
			mag := gx + gy
			if mag > 255 {
				mag = 255
			}
			dst[y*w+x] = byte(mag)
		}
	}
}
