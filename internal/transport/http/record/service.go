package record

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	domainrecord "argus-vision-server/internal/domain/record"
	"argus-vision-server/internal/platform/config"
	platformerrors "argus-vision-server/internal/platform/errors"
	httptransport "argus-vision-server/internal/transport/http"
	"argus-vision-server/internal/utils"
)

// Service 录制控制的HTTP传输层实现
type Service struct {
	logger   *utils.Logger
	config   *config.Config
	recorder *domainrecord.Recorder
}

// NewService 创建录制控制服务
func NewService(cfg *config.Config, logger *utils.Logger, recorder *domainrecord.Recorder) (*Service, error) {
	if cfg == nil {
		return nil, platformerrors.New(platformerrors.KindConfig, "record.new", "config is required")
	}
	if recorder == nil {
		return nil, platformerrors.New(platformerrors.KindConfig, "record.new", "recorder is required")
	}

	return &Service{
		logger:   logger,
		config:   cfg,
		recorder: recorder,
	}, nil
}

// Register 注册录制控制路由
func (s *Service) Register(ctx context.Context, router *gin.RouterGroup) error {
	router.POST("/record/start", s.handleStart)
	router.POST("/record/stop", s.handleStop)
	router.GET("/record/status", s.handleStatus)

	s.logger.InfoTag("HTTP", "录制控制路由注册完成")
	return nil
}

// handleStart starts a background capture session. Starting while one is
// already running answers 409.
func (s *Service) handleStart(c *gin.Context) {
	if err := s.recorder.Start(); err != nil {
		switch {
		case errors.Is(err, domainrecord.ErrAlreadyRecording):
			httptransport.RespondError(c, http.StatusConflict, err.Error(), nil)
		case errors.Is(err, domainrecord.ErrDisabled):
			httptransport.RespondError(c, http.StatusServiceUnavailable, err.Error(), nil)
		default:
			httptransport.RespondError(c, http.StatusInternalServerError, err.Error(), nil)
		}
		return
	}
	httptransport.RespondSuccess(c, http.StatusAccepted, s.recorder.Status(), "录制已开始")
}

// handleStop signals the running session; the file finalizes in the
// background. Stopping with nothing running answers 409.
func (s *Service) handleStop(c *gin.Context) {
	if err := s.recorder.Stop(); err != nil {
		if errors.Is(err, domainrecord.ErrNotRecording) {
			httptransport.RespondError(c, http.StatusConflict, err.Error(), nil)
			return
		}
		httptransport.RespondError(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	httptransport.RespondSuccess(c, http.StatusAccepted, s.recorder.Status(), "停止请求已发送")
}

func (s *Service) handleStatus(c *gin.Context) {
	httptransport.RespondSuccess(c, http.StatusOK, s.recorder.Status(), "")
}
