package vision

// Region is one detected area of interest.
//
// Coordinate contract (part of the wire format): origin is the top-left
// corner of the original image, x grows right, y grows down, all values are
// whole pixels of the original (pre-normalisation) image. Score is the fill
// ratio of detected pixels inside the bounding box, clamped to [0, 1].
type Region struct {
	X      int     `json:"x"`
	Y      int     `json:"y"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Area   int     `json:"area"`
	Score  float64 `json:"score"`
}

// StageTiming records how long a single pipeline stage ran.
type StageTiming struct {
	Name       string  `json:"name"`
	DurationMS float64 `json:"duration_ms"`
}

// Result is the structured output of one pipeline execution. It is immutable
// once produced and owned by the request lifecycle.
type Result struct {
	RequestID string        `json:"request_id"`
	Width     int           `json:"width"`
	Height    int           `json:"height"`
	Regions   []Region      `json:"regions"`
	Stages    []StageTiming `json:"stages"`
	ElapsedMS float64       `json:"elapsed_ms"`
}
