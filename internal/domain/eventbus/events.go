package eventbus

// 事件类型定义
const (
	// 视觉分析相关事件
	EventVisionCompleted = "vision:completed"
	EventVisionFailed    = "vision:failed"
	EventVisionRejected  = "vision:rejected"

	// 录制相关事件
	EventRecordStarted = "record:started"
	EventRecordStopped = "record:stopped"
	EventRecordError   = "record:error"

	// 系统事件
	EventSystemError = "system:error"
	EventSystemInfo  = "system:info"
)

// 事件数据结构
type VisionEventData struct {
	RequestID string  `json:"request_id"`
	Regions   int     `json:"regions"`
	ElapsedMS float64 `json:"elapsed_ms"`
	Kind      string  `json:"kind,omitempty"`
	Error     string  `json:"error,omitempty"`
}

type RecordEventData struct {
	Path      string `json:"path,omitempty"`
	Cameras   []int  `json:"cameras,omitempty"`
	ElapsedMS float64 `json:"elapsed_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}

type SystemEventData struct {
	Level   string      `json:"level"` // error, warn, info
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}
