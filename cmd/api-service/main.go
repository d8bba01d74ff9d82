package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"gavel/internal/common/broker"
	"gavel/internal/common/cache"
	"gavel/internal/common/db"
	commonmw "gavel/internal/common/http/middleware"
	"gavel/internal/common/storage"
	"gavel/internal/listener"
	problemCtrl "gavel/internal/problem/controller"
	problemRepo "gavel/internal/problem/repository"
	submissionRepo "gavel/internal/submission/repository"
	"gavel/internal/submit/controller"
	"gavel/internal/submit/service"
	"gavel/internal/submit/stream"
	"gavel/pkg/utils/logger"
)

const defaultConfigPath = "configs/api_service.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()
	ctx := context.Background()

	mysqlDB, err := db.NewMySQL(appCfg.Database)
	if err != nil {
		logger.Error(ctx, "init database failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mysqlDB.Close()
	}()

	redisCache, err := cache.NewRedis(appCfg.Redis)
	if err != nil {
		logger.Error(ctx, "init redis failed", zap.Error(err))
		return
	}
	defer func() {
		_ = redisCache.Close()
	}()

	objStorage, err := storage.NewMinio(appCfg.Minio)
	if err != nil {
		logger.Error(ctx, "init minio failed", zap.Error(err))
		return
	}

	brokerClient, err := broker.NewClient(appCfg.Broker)
	if err != nil {
		logger.Error(ctx, "init broker failed", zap.Error(err))
		return
	}
	defer func() {
		_ = brokerClient.Close()
	}()
	publisher, err := broker.NewPublisher(brokerClient)
	if err != nil {
		logger.Error(ctx, "init publisher failed", zap.Error(err))
		return
	}

	subRepo := submissionRepo.NewSubmissionRepository(mysqlDB)
	probRepo := problemRepo.NewProblemRepository(mysqlDB, redisCache)
	mirror := submissionRepo.NewStatusMirror(redisCache)
	hub := stream.NewHub()

	submitService, err := service.NewSubmitService(service.Config{
		SubmissionRepo:  subRepo,
		ProblemRepo:     probRepo,
		StatusMirror:    mirror,
		Storage:         objStorage,
		Publisher:       publisher,
		SourceKeyPrefix: appCfg.Submit.SourceKeyPrefix,
		MaxCodeBytes:    appCfg.Submit.MaxCodeBytes,
		BatchLimit:      appCfg.Submit.BatchLimit,
		ReconcileAge:    appCfg.Submit.ReconcileAge,
		Timeouts:        appCfg.Submit.Timeouts,
	})
	if err != nil {
		logger.Error(ctx, "init submit service failed", zap.Error(err))
		return
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := startListeners(runCtx, brokerClient, appCfg.Listeners, subRepo, mirror, hub); err != nil {
		logger.Error(ctx, "start listeners failed", zap.Error(err))
		return
	}
	go submitService.RunReconciler(runCtx, appCfg.Submit.ReconcileTick)

	httpServer := buildHTTPServer(appCfg.Server, submitService, probRepo, hub)
	netListener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(ctx, "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "api http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(netListener)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "http server stopped", zap.Error(err))
		}
	case <-runCtx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "http server shutdown failed", zap.Error(err))
	}
}

func startListeners(ctx context.Context, client *broker.Client, cfg ListenerConfig,
	repo submissionRepo.SubmissionRepository, mirror *submissionRepo.StatusMirror, hub *stream.Hub) error {

	statusListener, err := listener.NewStatusListener(repo, mirror, hub)
	if err != nil {
		return err
	}
	resultListener, err := listener.NewResultListener(repo, mirror, hub)
	if err != nil {
		return err
	}

	statusConsumer, err := broker.NewConsumer(client, broker.ConsumerConfig{
		Queue:      broker.QueueStatus,
		Tag:        "api-status-listener",
		Prefetch:   cfg.Prefetch,
		MaxRetries: cfg.MaxRetries,
	})
	if err != nil {
		return err
	}
	resultConsumer, err := broker.NewConsumer(client, broker.ConsumerConfig{
		Queue:      broker.QueueResults,
		Tag:        "api-result-listener",
		Prefetch:   cfg.Prefetch,
		MaxRetries: cfg.MaxRetries,
	})
	if err != nil {
		return err
	}

	go runConsumer(ctx, statusConsumer, statusListener.Handle, "status")
	go runConsumer(ctx, resultConsumer, resultListener.Handle, "result")
	return nil
}

func runConsumer(ctx context.Context, consumer *broker.Consumer, handler broker.Handler, name string) {
	if err := consumer.Run(ctx, handler); err != nil && ctx.Err() == nil {
		logger.Error(ctx, "listener stopped", zap.String("listener", name), zap.Error(err))
	}
}

func buildHTTPServer(cfg ServerConfig, submitService *service.SubmitService,
	probRepo problemRepo.ProblemRepository, hub *stream.Hub) *http.Server {

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(requestLogger())

	controller.NewSubmitController(submitService, hub).RegisterRoutes(router)
	problemCtrl.NewProblemController(probRepo).RegisterRoutes(router)

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
