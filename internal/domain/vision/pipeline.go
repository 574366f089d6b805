package vision

import (
	"context"
	"fmt"
	"time"

	domainimage "argus-vision-server/internal/domain/image"
	"argus-vision-server/internal/platform/config"
	"argus-vision-server/internal/utils"
)

// Stage is one discrete transformation or analysis step. Stages may read the
// execution's native context for the duration of the call but must not
// retain it afterwards.
type Stage interface {
	Name() string
	Run(ctx context.Context, ex *Execution) error
}

// Execution carries the working state of a single pipeline run. It is owned
// by exactly one worker and never shared.
type Execution struct {
	Image   *domainimage.Decoded
	Context *NativeContext
	Regions []Region

	// Working dimensions after normalisation; invScale maps working
	// coordinates back to original pixels.
	Width    int
	Height   int
	invScale float64

	px execPixels
}

// Pipeline applies an ordered sequence of stages to a decoded image.
type Pipeline struct {
	stages []Stage
	logger *utils.Logger
}

// NewPipeline builds the default normalize/transform/analyze pipeline.
func NewPipeline(cfg config.PipelineConfig, logger *utils.Logger) *Pipeline {
	return &Pipeline{
		stages: DefaultStages(cfg),
		logger: logger,
	}
}

// NewPipelineWithStages builds a pipeline from an explicit stage list.
func NewPipelineWithStages(logger *utils.Logger, stages ...Stage) *Pipeline {
	return &Pipeline{
		stages: stages,
		logger: logger,
	}
}

// Run executes every stage in order against the decoded image, using the
// checked-out native context. Cancellation is cooperative: the deadline is
// checked at each stage boundary, a stage already running is allowed to
// finish and its output is discarded.
func (p *Pipeline) Run(ctx context.Context, img *domainimage.Decoded, nc *NativeContext) (*Result, error) {
	if img == nil || img.Closed() {
		return nil, fmt.Errorf("decoded image required")
	}
	if nc == nil {
		return nil, fmt.Errorf("native context required")
	}

	ex := &Execution{
		Image:    img,
		Context:  nc,
		Width:    img.Width,
		Height:   img.Height,
		invScale: 1.0,
	}

	start := time.Now()
	timings := make([]StageTiming, 0, len(p.stages))

	for _, stage := range p.stages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		stageStart := time.Now()
		if err := stage.Run(ctx, ex); err != nil {
			return nil, &StageError{Stage: stage.Name(), Cause: err}
		}
		elapsed := time.Since(stageStart)
		timings = append(timings, StageTiming{
			Name:       stage.Name(),
			DurationMS: float64(elapsed.Microseconds()) / 1000.0,
		})
		p.logger.DebugTag("TIMING", "stage %s finished in %v", stage.Name(), elapsed)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	regions := ex.Regions
	if regions == nil {
		regions = []Region{}
	}

	return &Result{
		Width:     img.Width,
		Height:    img.Height,
		Regions:   regions,
		Stages:    timings,
		ElapsedMS: float64(time.Since(start).Microseconds()) / 1000.0,
	}, nil
}
