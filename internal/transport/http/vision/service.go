package vision

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"argus-vision-server/internal/domain/dispatch"
	domainimage "argus-vision-server/internal/domain/image"
	"argus-vision-server/internal/platform/config"
	"argus-vision-server/internal/platform/errors"
	httptransport "argus-vision-server/internal/transport/http"
	"argus-vision-server/internal/utils"
)

// Service Vision服务的HTTP传输层实现
type Service struct {
	logger     *utils.Logger
	config     *config.Config
	dispatcher *dispatch.Dispatcher
}

// NewService 创建新的Vision服务实例
func NewService(cfg *config.Config, logger *utils.Logger, dispatcher *dispatch.Dispatcher) (*Service, error) {
	if cfg == nil {
		return nil, errors.New(errors.KindConfig, "vision.new", "config is required")
	}
	if logger == nil {
		return nil, errors.New(errors.KindConfig, "vision.new", "logger is required")
	}
	if dispatcher == nil {
		return nil, errors.New(errors.KindConfig, "vision.new", "dispatcher is required")
	}

	return &Service{
		logger:     logger,
		config:     cfg,
		dispatcher: dispatcher,
	}, nil
}

// Register 注册Vision相关的HTTP路由
func (s *Service) Register(ctx context.Context, router *gin.RouterGroup) error {
	router.GET("/vision", s.handleGet)
	router.POST("/vision/analyze", s.handleAnalyze)
	router.OPTIONS("/vision/analyze", s.handleOptions)

	s.logger.InfoTag("HTTP", "Vision服务路由注册完成")
	return nil
}

func (s *Service) handleOptions(c *gin.Context) {
	c.Status(http.StatusOK)
}

// handleGet 处理GET请求（状态检查）
func (s *Service) handleGet(c *gin.Context) {
	st := s.dispatcher.Stats()
	c.String(http.StatusOK,
		"Vision 接口运行正常：%d 个 worker，队列 %d/%d，已完成 %d",
		st.Workers, st.QueueDepth, st.QueueCapacity, st.Completed)
}

// handleAnalyze 处理POST请求（图片分析）
//
// The body may be a raw image or multipart/form-data with an "image" (or
// "file") part. Failures map onto status codes by kind: invalid payloads
// are 400, a saturated service 503, expired deadlines 504.
func (s *Service) handleAnalyze(c *gin.Context) {
	data, format, err := s.readImage(c)
	if err != nil {
		s.logger.Warn("Vision请求解析失败: %v", err)
		httptransport.RespondError(c, http.StatusBadRequest, err.Error(), nil)
		return
	}

	req := dispatch.Request{
		ID:          c.GetHeader("X-Request-Id"),
		Data:        data,
		ContentType: format,
	}

	result, err := s.dispatcher.Process(c.Request.Context(), req)
	if err != nil {
		kind := dispatch.Classify(err)
		status := httptransport.StatusForKind(kind)
		s.logger.Warn("Vision分析失败 (%s): %v", kind, err)
		httptransport.RespondError(c, status, err.Error(), AnalyzeErrorData{
			RequestID: req.ID,
			Kind:      string(kind),
			Error:     err.Error(),
		})
		return
	}

	s.logger.Debug("Vision分析完成: request=%s regions=%d elapsed=%.1fms",
		result.RequestID, len(result.Regions), result.ElapsedMS)
	httptransport.RespondSuccess(c, http.StatusOK, result, "分析完成")
}

// readImage pulls the image bytes and declared format out of the request.
func (s *Service) readImage(c *gin.Context) ([]byte, string, error) {
	contentType := c.ContentType()
	maxSize := s.config.Security.MaxFileSize

	if strings.HasPrefix(contentType, "multipart/form-data") {
		return s.readMultipart(c, maxSize)
	}

	// Raw body upload; the declared format rides on Content-Type.
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("read request body: %w", err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("request body is empty")
	}
	return data, domainimage.NormalizeFormat(contentType), nil
}

func (s *Service) readMultipart(c *gin.Context, maxSize int64) ([]byte, string, error) {
	if err := c.Request.ParseMultipartForm(maxSize); err != nil {
		return nil, "", fmt.Errorf("parse multipart form: %w", err)
	}

	file, header, err := c.Request.FormFile("image")
	if err != nil {
		file, header, err = c.Request.FormFile("file")
	}
	if err != nil {
		return nil, "", fmt.Errorf("image field is required: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("read uploaded file: %w", err)
	}

	// Multipart parts default to application/octet-stream; fall back to the
	// filename extension for those.
	format := domainimage.NormalizeFormat(header.Header.Get("Content-Type"))
	if format == "" || format == "application/octet-stream" {
		format = strings.TrimPrefix(filepath.Ext(header.Filename), ".")
	}
	return data, format, nil
}
