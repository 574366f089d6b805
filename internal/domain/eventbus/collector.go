package eventbus

import (
	"sync"
	"sync/atomic"
)

// StatsCollector 订阅观测事件并累计计数，供状态接口读取
type StatsCollector struct {
	visionCompleted atomic.Int64
	visionFailed    atomic.Int64
	visionRejected  atomic.Int64
	recordSessions  atomic.Int64
	recordErrors    atomic.Int64

	mu        sync.Mutex
	lastError string
}

// EventStats 事件计数快照
type EventStats struct {
	VisionCompleted int64  `json:"vision_completed"`
	VisionFailed    int64  `json:"vision_failed"`
	VisionRejected  int64  `json:"vision_rejected"`
	RecordSessions  int64  `json:"record_sessions"`
	RecordErrors    int64  `json:"record_errors"`
	LastError       string `json:"last_error,omitempty"`
}

var (
	collector     *StatsCollector
	collectorOnce sync.Once
	setupOnce     sync.Once
)

// Collector 获取统计收集器实例
func Collector() *StatsCollector {
	collectorOnce.Do(func() {
		collector = &StatsCollector{}
	})
	return collector
}

// Snapshot 返回当前事件计数
func (c *StatsCollector) Snapshot() EventStats {
	c.mu.Lock()
	lastErr := c.lastError
	c.mu.Unlock()
	return EventStats{
		VisionCompleted: c.visionCompleted.Load(),
		VisionFailed:    c.visionFailed.Load(),
		VisionRejected:  c.visionRejected.Load(),
		RecordSessions:  c.recordSessions.Load(),
		RecordErrors:    c.recordErrors.Load(),
		LastError:       lastErr,
	}
}

func (c *StatsCollector) noteError(msg string) {
	if msg == "" {
		return
	}
	c.mu.Lock()
	c.lastError = msg
	c.mu.Unlock()
}

// SetupEventHandlers 注册默认事件处理器，重复调用只生效一次
func SetupEventHandlers() {
	setupOnce.Do(setupEventHandlers)
}

func setupEventHandlers() {
	c := Collector()

	_ = SubscribeAsync(EventVisionCompleted, func(data VisionEventData) {
		c.visionCompleted.Add(1)
	})

	_ = SubscribeAsync(EventVisionFailed, func(data VisionEventData) {
		c.visionFailed.Add(1)
		c.noteError(data.Error)
	})

	_ = SubscribeAsync(EventVisionRejected, func(data VisionEventData) {
		c.visionRejected.Add(1)
	})

	_ = SubscribeAsync(EventRecordStarted, func(data RecordEventData) {
		c.recordSessions.Add(1)
	})

	_ = SubscribeAsync(EventRecordError, func(data RecordEventData) {
		c.recordErrors.Add(1)
		c.noteError(data.Error)
	})

	_ = SubscribeAsync(EventSystemError, func(data SystemEventData) {
		c.noteError(data.Message)
	})
}
