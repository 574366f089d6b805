package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"argus-vision-server/internal/domain/dispatch"
	"argus-vision-server/internal/domain/eventbus"
	domainimage "argus-vision-server/internal/domain/image"
	domainrecord "argus-vision-server/internal/domain/record"
	domainvision "argus-vision-server/internal/domain/vision"
	platformconfig "argus-vision-server/internal/platform/config"
	platformerrors "argus-vision-server/internal/platform/errors"
	platformlogging "argus-vision-server/internal/platform/logging"
	httptransport "argus-vision-server/internal/transport/http"
	httprecord "argus-vision-server/internal/transport/http/record"
	httpsystem "argus-vision-server/internal/transport/http/system"
	httpvision "argus-vision-server/internal/transport/http/vision"
	"argus-vision-server/internal/utils"
)

type stepFn func(context.Context, *appState) error

type initStep struct {
	ID        string
	Title     string
	DependsOn []string
	Kind      platformerrors.Kind
	Execute   stepFn
}

type appState struct {
	config      *platformconfig.Config
	configPath  string
	logProvider *platformlogging.Logger
	logger      *utils.Logger
	slogger     *slog.Logger
	pool        *domainvision.ContextPool
	pipeline    *domainvision.Pipeline
	decoder     *domainimage.Decoder
	dispatcher  *dispatch.Dispatcher
	recorder    *domainrecord.Recorder
}

// Run 启动整个服务生命周期，负责加载配置、初始化依赖和优雅关停。
func Run(ctx context.Context) error {
	state := &appState{}

	steps := InitGraph()
	if err := executeInitSteps(ctx, steps, state); err != nil {
		return err
	}

	config := state.config
	logger := state.logger
	if config == nil || logger == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"bootstrap state validation",
			"config/logger not initialised",
		)
	}
	if state.dispatcher == nil || state.pool == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"bootstrap state validation",
			"dispatcher/pool not initialised",
		)
	}

	logBootstrapGraph(steps, logger)

	rootCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	signalCtx, stop := signal.NotifyContext(rootCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(rootCtx)

	if _, err := startHTTPServer(state, group, groupCtx); err != nil {
		cancel()
		return fmt.Errorf("启动 Http 服务失败: %w", err)
	}

	err := waitForShutdown(signalCtx, cancel, logger, group)

	// 关闭顺序：先停止接收请求，再释放原生资源
	if closeErr := state.dispatcher.Close(); closeErr != nil {
		logger.ErrorTag("引导", "分发器未正常关闭: %v", closeErr)
	}
	if closeErr := state.pool.Close(); closeErr != nil {
		logger.ErrorTag("引导", "上下文池未正常关闭: %v", closeErr)
	}
	if state.recorder != nil {
		if closeErr := state.recorder.Close(); closeErr != nil {
			logger.ErrorTag("引导", "录制器未正常关闭: %v", closeErr)
		}
	}
	eventbus.Shutdown()

	if err != nil {
		logger.Close()
		return err
	}

	logger.InfoTag("引导", "服务已完全退出")
	logger.Close()
	return nil
}

func logBootstrapGraph(steps []initStep, logger *utils.Logger) {
	if logger == nil {
		return
	}
	logger.InfoTag("引导", "初始化依赖关系概览")

	stepNames := map[string]string{
		"config:load":          "加载配置",
		"logging:init-provider": "初始化日志提供者",
		"vision:init-pool":     "初始化上下文池",
		"vision:init-pipeline": "初始化处理管道",
		"dispatch:init":        "初始化请求分发器",
		"record:init":          "初始化录制器",
	}

	for _, step := range steps {
		if name, ok := stepNames[step.ID]; ok {
			logger.InfoTag("引导", name)
		}
	}
	logger.InfoTag("引导", "启动服务")
}

func executeInitSteps(ctx context.Context, steps []initStep, state *appState) error {
	if state == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"execute init steps",
			"nil bootstrap state",
		)
	}

	completed := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := completed[dep]; !ok {
				return platformerrors.New(
					platformerrors.KindBootstrap,
					step.ID,
					fmt.Sprintf("dependency %s not satisfied", dep),
				)
			}
		}
		if step.Execute == nil {
			return platformerrors.New(
				platformerrors.KindBootstrap,
				step.ID,
				"missing execute function",
			)
		}
		if err := step.Execute(ctx, state); err != nil {
			var typed *platformerrors.Error
			if errors.As(err, &typed) {
				return err
			}

			kind := step.Kind
			if kind == "" {
				kind = platformerrors.KindBootstrap
			}
			return platformerrors.Wrap(kind, step.ID, "bootstrap step failed", err)
		}
		completed[step.ID] = struct{}{}
	}
	return nil
}

func InitGraph() []initStep {
	return []initStep{
		{
			ID:      "config:load",
			Title:   "Load configuration",
			Kind:    platformerrors.KindConfig,
			Execute: loadConfigStep,
		},
		{
			ID:        "logging:init-provider",
			Title:     "Initialise logging provider",
			DependsOn: []string{"config:load"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initLoggingStep,
		},
		{
			ID:        "vision:init-pool",
			Title:     "Initialise native context pool",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindVision,
			Execute:   initPoolStep,
		},
		{
			ID:        "vision:init-pipeline",
			Title:     "Initialise processing pipeline",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindVision,
			Execute:   initPipelineStep,
		},
		{
			ID:        "dispatch:init",
			Title:     "Initialise request dispatcher",
			DependsOn: []string{"vision:init-pool", "vision:init-pipeline"},
			Kind:      platformerrors.KindVision,
			Execute:   initDispatcherStep,
		},
		{
			ID:        "record:init",
			Title:     "Initialise recorder",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindRecord,
			Execute:   initRecorderStep,
		},
	}
}

func loadConfigStep(_ context.Context, state *appState) error {
	result, err := platformconfig.NewLoader().WithDotEnv(true).Load()
	if err != nil {
		return err
	}
	state.config = result.Config
	state.configPath = result.Path
	if state.configPath == "" {
		state.configPath = "defaults"
	}
	return nil
}

func initLoggingStep(_ context.Context, state *appState) error {
	if state == nil || state.config == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"logging:init-provider",
			"config not loaded",
		)
	}

	logProvider, err := platformlogging.New(platformlogging.Config{
		Level:    state.config.Log.Level,
		Dir:      state.config.Log.Dir,
		Filename: state.config.Log.File,
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "logging:init-provider", "failed to initialize logging provider", err)
	}

	state.logProvider = logProvider
	state.logger = logProvider.Tagged()
	state.slogger = logProvider.Slog()
	utils.DefaultLogger = state.logger

	state.logger.InfoTag(
		"引导",
		"日志模块就绪 [%s] %s",
		state.config.Log.Level,
		state.configPath,
	)

	// 设置事件处理器
	eventbus.SetupEventHandlers()

	return nil
}

func initPoolStep(_ context.Context, state *appState) error {
	if state == nil || state.config == nil || state.logger == nil {
		return platformerrors.New(platformerrors.KindBootstrap, "vision:init-pool", "missing config/logger")
	}

	state.pool = domainvision.NewContextPool(domainvision.PoolConfig{
		MaxSize:        state.config.Vision.PoolSize,
		AcquireTimeout: state.config.Vision.AcquireTimeout.Std(),
	}, state.logger)

	state.logger.InfoTag("引导", "上下文池就绪，容量 %d", state.pool.Capacity())
	return nil
}

func initPipelineStep(_ context.Context, state *appState) error {
	if state == nil || state.config == nil || state.logger == nil {
		return platformerrors.New(platformerrors.KindBootstrap, "vision:init-pipeline", "missing config/logger")
	}

	state.pipeline = domainvision.NewPipeline(state.config.Vision.Pipeline, state.logger)
	state.decoder = domainimage.NewDecoder(&state.config.Security, state.logger)
	return nil
}

func initDispatcherStep(_ context.Context, state *appState) error {
	if state == nil || state.pool == nil || state.pipeline == nil || state.decoder == nil {
		return platformerrors.New(platformerrors.KindBootstrap, "dispatch:init", "missing pool/pipeline/decoder")
	}

	state.dispatcher = dispatch.NewDispatcher(
		state.config.Dispatch,
		state.decoder,
		state.pool,
		state.pipeline,
		state.logger,
	)
	return nil
}

func initRecorderStep(_ context.Context, state *appState) error {
	if state == nil || state.config == nil || state.logger == nil {
		return platformerrors.New(platformerrors.KindBootstrap, "record:init", "missing config/logger")
	}

	state.recorder = domainrecord.NewRecorder(state.config.Record, state.logger)
	if !state.config.Record.Enabled {
		state.logger.InfoTag("引导", "录制功能未启用")
	}
	return nil
}

func startHTTPServer(
	state *appState,
	g *errgroup.Group,
	groupCtx context.Context,
) (*http.Server, error) {
	config := state.config
	logger := state.logger

	httpRouter, err := httptransport.Build(httptransport.Options{
		Config: config,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	router := httpRouter.Engine
	apiGroup := httpRouter.API

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, httptransport.APIResponse{
			Success: false,
			Data:    gin.H{},
			Message: "not found",
			Code:    http.StatusNotFound,
		})
	})

	visionService, err := httpvision.NewService(config, logger, state.dispatcher)
	if err != nil {
		logger.ErrorTag("视觉", "Vision 服务初始化失败: %v", err)
		return nil, platformerrors.Wrap(platformerrors.KindVision, "vision:new-service", "failed to create vision service", err)
	}

	systemService, err := httpsystem.NewService(config, logger, state.pool, state.dispatcher, state.recorder)
	if err != nil {
		logger.ErrorTag("HTTP", "系统状态服务初始化失败: %v", err)
		return nil, platformerrors.Wrap(platformerrors.KindTransport, "system:new-service", "failed to create system service", err)
	}

	recordService, err := httprecord.NewService(config, logger, state.recorder)
	if err != nil {
		logger.ErrorTag("录制", "录制服务初始化失败: %v", err)
		return nil, platformerrors.Wrap(platformerrors.KindRecord, "record:new-service", "failed to create record service", err)
	}

	visionService.Register(groupCtx, apiGroup)
	systemService.Register(groupCtx, apiGroup)
	recordService.Register(groupCtx, apiGroup)

	httpServer := &http.Server{
		Addr:    config.Server.IP + ":" + strconv.Itoa(config.Server.Port),
		Handler: router,
	}

	g.Go(func() error {
		logger.InfoTag("HTTP", "Gin 服务已启动，访问地址 http://localhost:%d", config.Server.Port)
		logger.InfoTag("HTTP", "分析接口: POST http://localhost:%d/api/vision/analyze", config.Server.Port)

		go func() {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.ErrorTag("HTTP", "HTTP 服务关闭失败: %v", err)
			} else {
				logger.InfoTag("HTTP", "HTTP 服务已优雅关闭")
			}
		}()

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorTag("HTTP", "HTTP 服务启动失败: %v", err)
			return err
		}
		return nil
	})

	return httpServer, nil
}

func waitForShutdown(
	ctx context.Context,
	cancel context.CancelFunc,
	logger *utils.Logger,
	g *errgroup.Group,
) error {
	<-ctx.Done()
	logger.InfoTag("引导", "收到系统信号 %v，正在进行资源清理", context.Cause(ctx))

	cancel()

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.ErrorTag("引导", "服务关闭过程中出现错误: %v", err)
			return err
		}
		logger.InfoTag("引导", "所有服务已成功关闭")
	case <-time.After(15 * time.Second):
		timeoutErr := errors.New("服务关闭超时")
		logger.ErrorTag("引导", "服务关闭超时，已强制退出")
		return timeoutErr
	}
	return nil
}
