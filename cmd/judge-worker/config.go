package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"gavel/internal/common/broker"
	"gavel/pkg/utils/logger"
)

// EngineConfig holds execution backend settings.
type EngineConfig struct {
	WorkDir string `yaml:"workDir"`
}

// WorkerConfig holds consumer pool settings.
type WorkerConfig struct {
	Slots         int   `yaml:"slots"`
	MaxDeliveries int64 `yaml:"maxDeliveries"`
	MaxRetries    int32 `yaml:"maxRetries"`
}

// AppConfig holds judge-worker configuration.
type AppConfig struct {
	Logger logger.Config `yaml:"logger"`
	Broker broker.Config `yaml:"broker"`
	Engine EngineConfig  `yaml:"engine"`
	Worker WorkerConfig  `yaml:"worker"`
}

func loadAppConfig(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file failed: %w", err)
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file failed: %w", err)
	}
	if cfg.Broker.URL == "" {
		return nil, fmt.Errorf("broker url is required")
	}
	if cfg.Worker.Slots == 0 {
		cfg.Worker.Slots = 1
	}
	if cfg.Worker.MaxDeliveries == 0 {
		cfg.Worker.MaxDeliveries = 5
	}
	if cfg.Worker.MaxRetries == 0 {
		cfg.Worker.MaxRetries = 3
	}
	return &cfg, nil
}
