package system

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"argus-vision-server/internal/domain/dispatch"
	"argus-vision-server/internal/domain/eventbus"
	"argus-vision-server/internal/domain/record"
	"argus-vision-server/internal/domain/vision"
	"argus-vision-server/internal/platform/config"
	"argus-vision-server/internal/platform/errors"
	httptransport "argus-vision-server/internal/transport/http"
	"argus-vision-server/internal/utils"
)

// Service exposes health and load information about the running server.
type Service struct {
	logger     *utils.Logger
	config     *config.Config
	pool       *vision.ContextPool
	dispatcher *dispatch.Dispatcher
	recorder   *record.Recorder
	startedAt  time.Time
}

// PoolStatus 上下文池状态
type PoolStatus struct {
	Capacity  int   `json:"capacity"`
	Created   int64 `json:"created"`
	InUse     int64 `json:"in_use"`
	Available int64 `json:"available"`
}

// HostStatus 主机资源状态
type HostStatus struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemPercent float64 `json:"mem_percent"`
	MemUsedMB  uint64  `json:"mem_used_mb"`
	MemTotalMB uint64  `json:"mem_total_mb"`
}

// StatusResponse GET /status 的 data 结构
type StatusResponse struct {
	UptimeSeconds float64             `json:"uptime_seconds"`
	Pool          PoolStatus          `json:"pool"`
	Dispatch      dispatch.Stats      `json:"dispatch"`
	Record        record.Status       `json:"record"`
	Events        eventbus.EventStats `json:"events"`
	Host          *HostStatus         `json:"host,omitempty"`
}

// NewService 创建系统状态服务
func NewService(cfg *config.Config, logger *utils.Logger, pool *vision.ContextPool, dispatcher *dispatch.Dispatcher, recorder *record.Recorder) (*Service, error) {
	if cfg == nil {
		return nil, errors.New(errors.KindConfig, "system.new", "config is required")
	}
	if pool == nil || dispatcher == nil {
		return nil, errors.New(errors.KindConfig, "system.new", "pool and dispatcher are required")
	}

	return &Service{
		logger:     logger,
		config:     cfg,
		pool:       pool,
		dispatcher: dispatcher,
		recorder:   recorder,
		startedAt:  time.Now(),
	}, nil
}

// Register 注册系统状态路由
func (s *Service) Register(ctx context.Context, router *gin.RouterGroup) error {
	router.GET("/status", s.handleStatus)
	s.logger.InfoTag("HTTP", "系统状态路由注册完成")
	return nil
}

func (s *Service) handleStatus(c *gin.Context) {
	created, inUse, available := s.pool.Stats()

	resp := StatusResponse{
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
		Pool: PoolStatus{
			Capacity:  s.pool.Capacity(),
			Created:   created,
			InUse:     inUse,
			Available: available,
		},
		Dispatch: s.dispatcher.Stats(),
		Events:   eventbus.Collector().Snapshot(),
		Host:     hostStatus(),
	}
	if s.recorder != nil {
		resp.Record = s.recorder.Status()
	}

	httptransport.RespondSuccess(c, http.StatusOK, resp, "")
}

// hostStatus is best effort; a probe failure just omits the host block.
func hostStatus() *HostStatus {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return nil
	}
	st := &HostStatus{
		MemPercent: vm.UsedPercent,
		MemUsedMB:  vm.Used / 1024 / 1024,
		MemTotalMB: vm.Total / 1024 / 1024,
	}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		st.CPUPercent = percents[0]
	}
	return st
}
