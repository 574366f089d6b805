package vision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	domainimage "argus-vision-server/internal/domain/image"
	"argus-vision-server/internal/platform/config"
)

func testPipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		MaxSide:        64,
		BlurRadius:     1,
		EdgeThreshold:  48,
		MinRegionRatio: 0.001,
		MinAspect:      0.1,
		MaxAspect:      10.0,
	}
}

func testDecoder(t *testing.T) *domainimage.Decoder {
	t.Helper()
	return domainimage.NewDecoder(&config.SecurityConfig{
		MaxFileSize:    1 << 20,
		MaxWidth:       512,
		MaxHeight:      512,
		MaxPixels:      512 * 512,
		AllowedFormats: []string{"png", "jpeg", "jpg"},
	}, testLogger(t))
}

// encodeSquarePNG renders a dark frame with one bright square, the simplest
// scene the analyze stage should report as a single region.
func encodeSquarePNG(t *testing.T, w, h int, square image.Rectangle) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if image.Pt(x, y).In(square) {
				img.SetGray(x, y, color.Gray{Y: 235})
			} else {
				img.SetGray(x, y, color.Gray{Y: 20})
			}
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

func decodeSquare(t *testing.T, w, h int, square image.Rectangle) *domainimage.Decoded {
	t.Helper()
	decoded, err := testDecoder(t).Decode(encodeSquarePNG(t, w, h, square), "png")
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	t.Cleanup(func() { decoded.Close() })
	return decoded
}

func acquireContext(t *testing.T, pool *ContextPool) *NativeContext {
	t.Helper()
	nc, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	t.Cleanup(func() { pool.Release(nc) })
	return nc
}

type fakeStage struct {
	name string
	run  func(ctx context.Context, ex *Execution) error
}

func (s *fakeStage) Name() string { return s.name }

func (s *fakeStage) Run(ctx context.Context, ex *Execution) error {
	if s.run == nil {
		return nil
	}
	return s.run(ctx, ex)
}

func TestPipeline_DetectsBrightSquare(t *testing.T) {
	logger := testLogger(t)
	pool := NewContextPool(PoolConfig{MaxSize: 1, AcquireTimeout: time.Second}, logger)
	defer pool.Close()

	square := image.Rect(16, 16, 48, 48)
	decoded := decodeSquare(t, 64, 64, square)
	nc := acquireContext(t, pool)

	pipeline := NewPipeline(testPipelineConfig(), logger)
	result, err := pipeline.Run(context.Background(), decoded, nc)
	if err != nil {
		t.Fatalf("pipeline failed: %v", err)
	}

	if result.Width != 64 || result.Height != 64 {
		t.Errorf("result dimensions %dx%d, want 64x64", result.Width, result.Height)
	}
	if len(result.Stages) != 3 {
		t.Fatalf("expected 3 stage timings, got %d", len(result.Stages))
	}
	wantOrder := []string{StageNormalize, StageTransform, StageAnalyze}
	for i, timing := range result.Stages {
		if timing.Name != wantOrder[i] {
			t.Errorf("stage %d is %q, want %q", i, timing.Name, wantOrder[i])
		}
	}
	if len(result.Regions) == 0 {
		t.Fatal("expected at least one detected region")
	}

	// The largest region should cover the square, give or take blur spread.
	top := result.Regions[0]
	const tolerance = 8
	if top.X < square.Min.X-tolerance || top.X > square.Min.X+tolerance ||
		top.Y < square.Min.Y-tolerance || top.Y > square.Min.Y+tolerance {
		t.Errorf("region origin (%d,%d) far from square origin (%d,%d)",
			top.X, top.Y, square.Min.X, square.Min.Y)
	}
	if top.Width < square.Dx()-tolerance || top.Width > square.Dx()+tolerance ||
		top.Height < square.Dy()-tolerance || top.Height > square.Dy()+tolerance {
		t.Errorf("region size %dx%d far from square size %dx%d",
			top.Width, top.Height, square.Dx(), square.Dy())
	}
	if top.Score <= 0 || top.Score > 1 {
		t.Errorf("score %f out of (0,1]", top.Score)
	}
	if top.Area <= 0 {
		t.Errorf("area %d must be positive", top.Area)
	}
}

func TestPipeline_DownscalesAndMapsBack(t *testing.T) {
	logger := testLogger(t)
	pool := NewContextPool(PoolConfig{MaxSize: 1, AcquireTimeout: time.Second}, logger)
	defer pool.Close()

	// MaxSide 32 forces a 2x downscale of the 64x64 input. Region
	// coordinates must still come back in original pixels.
	cfg := testPipelineConfig()
	cfg.MaxSide = 32

	square := image.Rect(16, 16, 48, 48)
	decoded := decodeSquare(t, 64, 64, square)
	nc := acquireContext(t, pool)

	result, err := NewPipeline(cfg, logger).Run(context.Background(), decoded, nc)
	if err != nil {
		t.Fatalf("pipeline failed: %v", err)
	}
	if result.Width != 64 || result.Height != 64 {
		t.Errorf("result reports working dimensions %dx%d, want original 64x64",
			result.Width, result.Height)
	}
	if len(result.Regions) == 0 {
		t.Fatal("expected at least one detected region")
	}

	top := result.Regions[0]
	const tolerance = 10
	if top.X < square.Min.X-tolerance || top.X+top.Width > square.Max.X+tolerance {
		t.Errorf("region x span [%d,%d] not near square span [%d,%d]",
			top.X, top.X+top.Width, square.Min.X, square.Max.X)
	}
	if top.Y < square.Min.Y-tolerance || top.Y+top.Height > square.Max.Y+tolerance {
		t.Errorf("region y span [%d,%d] not near square span [%d,%d]",
			top.Y, top.Y+top.Height, square.Min.Y, square.Max.Y)
	}
}

func TestPipeline_BlankImageYieldsNoRegions(t *testing.T) {
	logger := testLogger(t)
	pool := NewContextPool(PoolConfig{MaxSize: 1, AcquireTimeout: time.Second}, logger)
	defer pool.Close()

	decoded := decodeSquare(t, 64, 64, image.Rectangle{})
	nc := acquireContext(t, pool)

	result, err := NewPipeline(testPipelineConfig(), logger).Run(context.Background(), decoded, nc)
	if err != nil {
		t.Fatalf("pipeline failed: %v", err)
	}
	if result.Regions == nil {
		t.Fatal("regions must be an empty slice, not nil")
	}
	if len(result.Regions) != 0 {
		t.Errorf("expected no regions on a blank frame, got %d", len(result.Regions))
	}
}

func TestPipeline_StageFailure(t *testing.T) {
	logger := testLogger(t)
	pool := NewContextPool(PoolConfig{MaxSize: 1, AcquireTimeout: time.Second}, logger)
	defer pool.Close()

	decoded := decodeSquare(t, 32, 32, image.Rect(8, 8, 24, 24))
	nc := acquireContext(t, pool)

	cause := fmt.Errorf("histogram buffer overflow")
	pipeline := NewPipelineWithStages(logger,
		&fakeStage{name: "normalize"},
		&fakeStage{name: "transform", run: func(ctx context.Context, ex *Execution) error {
			return cause
		}},
		&fakeStage{name: "analyze", run: func(ctx context.Context, ex *Execution) error {
			t.Error("analyze must not run after transform failed")
			return nil
		}},
	)

	result, err := pipeline.Run(context.Background(), decoded, nc)
	if result != nil {
		t.Errorf("expected nil result on stage failure, got %+v", result)
	}

	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("expected *StageError, got %T: %v", err, err)
	}
	if stageErr.Stage != "transform" {
		t.Errorf("stage error names %q, want %q", stageErr.Stage, "transform")
	}
	if !errors.Is(err, cause) {
		t.Errorf("stage error does not wrap the cause: %v", err)
	}
}

func TestPipeline_DeadlineBetweenStages(t *testing.T) {
	logger := testLogger(t)
	pool := NewContextPool(PoolConfig{MaxSize: 1, AcquireTimeout: time.Second}, logger)
	defer pool.Close()

	decoded := decodeSquare(t, 32, 32, image.Rect(8, 8, 24, 24))
	nc := acquireContext(t, pool)

	pipeline := NewPipelineWithStages(logger,
		&fakeStage{name: "slow", run: func(ctx context.Context, ex *Execution) error {
			time.Sleep(50 * time.Millisecond)
			return nil
		}},
		&fakeStage{name: "after", run: func(ctx context.Context, ex *Execution) error {
			t.Error("stage must not start past the deadline")
			return nil
		}},
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	result, err := pipeline.Run(ctx, decoded, nc)
	if result != nil {
		t.Errorf("expected nil result past the deadline, got %+v", result)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestPipeline_RejectsClosedImage(t *testing.T) {
	logger := testLogger(t)
	pool := NewContextPool(PoolConfig{MaxSize: 1, AcquireTimeout: time.Second}, logger)
	defer pool.Close()

	decoded := decodeSquare(t, 32, 32, image.Rect(8, 8, 24, 24))
	decoded.Close()
	nc := acquireContext(t, pool)

	if _, err := NewPipeline(testPipelineConfig(), logger).Run(context.Background(), decoded, nc); err == nil {
		t.Fatal("expected an error for a closed image")
	}
}
