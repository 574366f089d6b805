package vision

import (
	"sort"

	"argus-vision-server/internal/platform/config"
)

// Stage names are part of the error surface: a failed run reports the stage
// it died in.
const (
	StageNormalize = "normalize"
	StageTransform = "transform"
	StageAnalyze   = "analyze"
)

// DefaultStages returns the standard analysis sequence. Each stage consumes
// the working state left by the previous one.
func DefaultStages(cfg config.PipelineConfig) []Stage {
	return []Stage{
		&normalizeStage{cfg: cfg},
		&transformStage{cfg: cfg},
		&analyzeStage{cfg: cfg},
	}
}

// normalizeStage downsamples the image to the configured working size and
// converts it to grayscale.
type normalizeStage struct {
	cfg config.PipelineConfig
}

func (s *normalizeStage) Name() string { return StageNormalize }

// transformStage suppresses noise and extracts an edge map from the
// normalised image.
type transformStage struct {
	cfg config.PipelineConfig
}

func (s *transformStage) Name() string { return StageTransform }

// analyzeStage thresholds the edge map and emits bounding regions in
// original-image coordinates.
type analyzeStage struct {
	cfg config.PipelineConfig
}

func (s *analyzeStage) Name() string { return StageAnalyze }

// sortRegions orders detections largest-first with a stable positional
// tie-break so results are deterministic.
func sortRegions(regions []Region) {
	sort.Slice(regions, func(i, j int) bool {
		if regions[i].Area != regions[j].Area {
			return regions[i].Area > regions[j].Area
		}
		if regions[i].Y != regions[j].Y {
			return regions[i].Y < regions[j].Y
		}
		return regions[i].X < regions[j].X
	})
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
