package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	domainimage "argus-vision-server/internal/domain/image"
	"argus-vision-server/internal/domain/vision"
	"argus-vision-server/internal/platform/config"
	"argus-vision-server/internal/utils"
)

func testLogger(t *testing.T) *utils.Logger {
	t.Helper()
	logger, err := utils.NewLogger(&utils.LogCfg{
		LogLevel: "error",
		LogDir:   t.TempDir(),
		LogFile:  "test.log",
	})
	if err != nil {
		t.Fatalf("failed to create test logger: %v", err)
	}
	t.Cleanup(func() { logger.Close() })
	return logger
}

func testDecoder(t *testing.T, logger *utils.Logger) *domainimage.Decoder {
	t.Helper()
	return domainimage.NewDecoder(&config.SecurityConfig{
		MaxFileSize:    1 << 20,
		MaxWidth:       512,
		MaxHeight:      512,
		MaxPixels:      512 * 512,
		AllowedFormats: []string{"png", "jpeg", "jpg"},
	}, logger)
}

func encodePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 32, 32))
	for y := 8; y < 24; y++ {
		for x := 8; x < 24; x++ {
			img.SetGray(x, y, color.Gray{Y: 230})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

type stubStage struct {
	name string
	run  func(ctx context.Context, ex *vision.Execution) error
}

func (s *stubStage) Name() string { return s.name }

func (s *stubStage) Run(ctx context.Context, ex *vision.Execution) error {
	if s.run == nil {
		return nil
	}
	return s.run(ctx, ex)
}

type harness struct {
	dispatcher *Dispatcher
	pool       *vision.ContextPool
}

func newHarness(t *testing.T, poolSize, queueBound int, timeout time.Duration, stages ...vision.Stage) *harness {
	t.Helper()
	logger := testLogger(t)
	pool := vision.NewContextPool(vision.PoolConfig{
		MaxSize:        poolSize,
		AcquireTimeout: time.Second,
	}, logger)
	t.Cleanup(func() { pool.Close() })

	if len(stages) == 0 {
		stages = []vision.Stage{&stubStage{name: "noop", run: func(ctx context.Context, ex *vision.Execution) error {
			ex.Regions = []vision.Region{{X: 8, Y: 8, Width: 16, Height: 16, Area: 256, Score: 0.9}}
			return nil
		}}}
	}

	d := NewDispatcher(
		config.DispatchConfig{QueueBound: queueBound, RequestTimeout: config.Duration(timeout)},
		testDecoder(t, logger),
		pool,
		vision.NewPipelineWithStages(logger, stages...),
		logger,
	)
	t.Cleanup(func() { d.Close() })
	return &harness{dispatcher: d, pool: pool}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDispatcher_ProcessSuccess(t *testing.T) {
	h := newHarness(t, 2, 8, time.Second)

	result, err := h.dispatcher.Process(context.Background(), Request{Data: encodePNG(t), ContentType: "png"})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if result.RequestID == "" {
		t.Error("expected an assigned request id")
	}
	if len(result.Regions) != 1 {
		t.Errorf("expected 1 region, got %d", len(result.Regions))
	}

	st := h.dispatcher.Stats()
	if st.Accepted != 1 || st.Completed != 1 || st.Failed != 0 {
		t.Errorf("unexpected stats: %+v", st)
	}
}

func TestDispatcher_KeepsCallerRequestID(t *testing.T) {
	h := newHarness(t, 1, 4, time.Second)

	result, err := h.dispatcher.Process(context.Background(), Request{
		ID:          "req-caller-7",
		Data:        encodePNG(t),
		ContentType: "png",
	})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if result.RequestID != "req-caller-7" {
		t.Errorf("request id rewritten to %q", result.RequestID)
	}
}

func TestDispatcher_OverloadFastFail(t *testing.T) {
	release := make(chan struct{})
	blocking := &stubStage{name: "block", run: func(ctx context.Context, ex *vision.Execution) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}}

	h := newHarness(t, 1, 1, 5*time.Second, blocking)
	png := encodePNG(t)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.dispatcher.Process(context.Background(), Request{Data: png, ContentType: "png"})
		}()
	}

	// One request on the worker, one parked in the queue.
	waitFor(t, "worker busy and queue full", func() bool {
		st := h.dispatcher.Stats()
		return st.Busy == 1 && st.QueueDepth == 1
	})

	start := time.Now()
	_, err := h.dispatcher.Process(context.Background(), Request{Data: png, ContentType: "png"})
	if !errors.Is(err, ErrOverloaded) {
		t.Fatalf("expected ErrOverloaded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("overload rejection took %v, expected fast fail", elapsed)
	}
	if kind := Classify(err); kind != KindOverloaded {
		t.Errorf("classified as %q, want %q", kind, KindOverloaded)
	}

	close(release)
	wg.Wait()

	if st := h.dispatcher.Stats(); st.Rejected != 1 {
		t.Errorf("expected 1 rejection, got %d", st.Rejected)
	}
}

func TestDispatcher_TimeoutOnSlowStage(t *testing.T) {
	finished := make(chan struct{})
	slow := &stubStage{name: "slow", run: func(ctx context.Context, ex *vision.Execution) error {
		time.Sleep(150 * time.Millisecond)
		close(finished)
		return nil
	}}

	h := newHarness(t, 1, 4, 20*time.Millisecond, slow)

	_, err := h.dispatcher.Process(context.Background(), Request{Data: encodePNG(t), ContentType: "png"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if kind := Classify(err); kind != KindTimeout {
		t.Errorf("classified as %q, want %q", kind, KindTimeout)
	}

	// Once the stage drains, its context must be back in the pool.
	<-finished
	waitFor(t, "context release", func() bool {
		_, inUse, _ := h.pool.Stats()
		return inUse == 0
	})
	if st := h.dispatcher.Stats(); st.TimedOut != 1 {
		t.Errorf("expected 1 timeout, got %d", st.TimedOut)
	}
}

func TestDispatcher_DecodeErrorSkipsPool(t *testing.T) {
	h := newHarness(t, 2, 8, time.Second)

	_, err := h.dispatcher.Process(context.Background(), Request{
		Data:        []byte("definitely not an image"),
		ContentType: "png",
	})
	if !errors.Is(err, domainimage.ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
	if kind := Classify(err); kind != KindMalformed {
		t.Errorf("classified as %q, want %q", kind, KindMalformed)
	}

	// No native context is ever touched for an invalid payload.
	if created, _, _ := h.pool.Stats(); created != 0 {
		t.Errorf("decode failure leaked %d native contexts", created)
	}
}

func TestDispatcher_StageFaultReleasesContext(t *testing.T) {
	faulty := &stubStage{name: "analyze", run: func(ctx context.Context, ex *vision.Execution) error {
		return fmt.Errorf("label map corrupt")
	}}
	h := newHarness(t, 1, 4, time.Second, faulty)

	_, err := h.dispatcher.Process(context.Background(), Request{Data: encodePNG(t), ContentType: "png"})
	var stageErr *vision.StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("expected *StageError, got %v", err)
	}
	if kind := Classify(err); kind != KindProcessing {
		t.Errorf("classified as %q, want %q", kind, KindProcessing)
	}

	_, inUse, available := h.pool.Stats()
	if inUse != 0 || available != 1 {
		t.Errorf("context not returned after fault: inUse=%d available=%d", inUse, available)
	}
}

func TestDispatcher_PanickingStageFailsOneRequest(t *testing.T) {
	boom := &stubStage{name: "boom", run: func(ctx context.Context, ex *vision.Execution) error {
		panic("stage exploded")
	}}
	h := newHarness(t, 1, 4, time.Second, boom)

	_, err := h.dispatcher.Process(context.Background(), Request{Data: encodePNG(t), ContentType: "png"})
	if err == nil {
		t.Fatal("expected an error from a panicking stage")
	}
	if kind := Classify(err); kind != KindInternal {
		t.Errorf("classified as %q, want %q", kind, KindInternal)
	}

	waitFor(t, "context release after panic", func() bool {
		_, inUse, _ := h.pool.Stats()
		return inUse == 0
	})
}

func TestDispatcher_SerializesOnSingleContext(t *testing.T) {
	var inFlight, peak atomic.Int64
	counting := &stubStage{name: "count", run: func(ctx context.Context, ex *vision.Execution) error {
		cur := inFlight.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	}}

	h := newHarness(t, 1, 8, 5*time.Second, counting)
	png := encodePNG(t)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.dispatcher.Process(context.Background(), Request{Data: png, ContentType: "png"}); err != nil {
				t.Errorf("process failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := peak.Load(); got != 1 {
		t.Errorf("pipeline concurrency peaked at %d with a single context", got)
	}
}

func TestDispatcher_ClosedRejects(t *testing.T) {
	h := newHarness(t, 1, 4, time.Second)
	if err := h.dispatcher.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	_, err := h.dispatcher.Process(context.Background(), Request{Data: encodePNG(t), ContentType: "png"})
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, KindNone},
		{"overloaded", ErrOverloaded, KindOverloaded},
		{"malformed", fmt.Errorf("decode: %w", domainimage.ErrMalformed), KindMalformed},
		{"unsupported", domainimage.ErrUnsupported, KindUnsupported},
		{"too large", domainimage.ErrTooLarge, KindTooLarge},
		{"exhausted", vision.ErrResourceExhausted, KindResourceExhausted},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"stage fault", &vision.StageError{Stage: "transform", Cause: fmt.Errorf("bad kernel")}, KindProcessing},
		{"stage deadline", &vision.StageError{Stage: "analyze", Cause: context.DeadlineExceeded}, KindTimeout},
		{"unknown", fmt.Errorf("who knows"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestDispatcher_ZeroQueueBoundRejectsUnlessIdle(t *testing.T) {
	release := make(chan struct{})
	blocking := &stubStage{name: "blocking", run: func(ctx context.Context, ex *vision.Execution) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}}
	h := newHarness(t, 1, 0, 5*time.Second, blocking)

	if got := h.dispatcher.Stats().QueueCapacity; got != 0 {
		t.Fatalf("queue capacity = %d, want 0", got)
	}

	payload := encodePNG(t)
	firstDone := make(chan error, 1)
	go func() {
		_, err := h.dispatcher.Process(context.Background(), Request{Data: payload, ContentType: "png"})
		firstDone <- err
	}()
	waitFor(t, "worker to pick up the first request", func() bool {
		return h.dispatcher.Stats().Busy == 1
	})

	_, err := h.dispatcher.Process(context.Background(), Request{Data: payload, ContentType: "png"})
	if !errors.Is(err, ErrOverloaded) {
		t.Fatalf("second request got %v, want ErrOverloaded", err)
	}

	close(release)
	if err := <-firstDone; err != nil {
		t.Fatalf("first request failed: %v", err)
	}
}

func TestDispatcher_DefaultsRequestTimeout(t *testing.T) {
	logger := testLogger(t)
	pool := vision.NewContextPool(vision.PoolConfig{
		MaxSize:        1,
		AcquireTimeout: time.Second,
	}, logger)
	t.Cleanup(func() { pool.Close() })

	noop := &stubStage{name: "noop"}
	d := NewDispatcher(
		config.DispatchConfig{},
		testDecoder(t, logger),
		pool,
		vision.NewPipelineWithStages(logger, noop),
		logger,
	)
	t.Cleanup(func() { d.Close() })

	result, err := d.Process(context.Background(), Request{Data: encodePNG(t), ContentType: "png"})
	if err != nil {
		t.Fatalf("zero-value dispatch config should still process: %v", err)
	}
	if result == nil || result.RequestID == "" {
		t.Fatal("expected a populated result")
	}
}
