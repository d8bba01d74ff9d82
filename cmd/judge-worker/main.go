package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"gavel/internal/common/broker"
	"gavel/internal/judge/engine"
	"gavel/internal/judge/service"
	"gavel/pkg/utils/logger"
)

const defaultConfigPath = "configs/judge_worker.yaml"

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

	judgeService, err := service.NewJudgeService(service.Config{
		Client:        brokerClient,
		Publisher:     publisher,
		Engine:        engine.NewLocalEngine(appCfg.Engine.WorkDir),
		Slots:         appCfg.Worker.Slots,
		MaxDeliveries: appCfg.Worker.MaxDeliveries,
		MaxRetries:    appCfg.Worker.MaxRetries,
	})
	if err != nil {
		logger.Error(ctx, "init judge service failed", zap.Error(err))
		return
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info(ctx, "judge worker started", zap.Int("slots", appCfg.Worker.Slots))
	if err := judgeService.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(ctx, "judge worker stopped", zap.Error(err))
		return
	}
	logger.Info(ctx, "judge worker shut down")
}
