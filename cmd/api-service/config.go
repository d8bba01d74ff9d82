package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"gavel/internal/common/broker"
	"gavel/internal/common/cache"
	"gavel/internal/common/db"
	"gavel/internal/common/storage"
	"gavel/internal/submit/service"
	"gavel/pkg/utils/logger"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8080"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// SubmitConfig holds submission intake settings.
type SubmitConfig struct {
	SourceKeyPrefix string                `yaml:"sourceKeyPrefix"`
	MaxCodeBytes    int                   `yaml:"maxCodeBytes"`
	BatchLimit      int                   `yaml:"batchLimit"`
	ReconcileAge    time.Duration         `yaml:"reconcileAge"`
	ReconcileTick   time.Duration         `yaml:"reconcileTick"`
	Timeouts        service.TimeoutConfig `yaml:"timeouts"`
}

// ListenerConfig holds status/result consumer settings.
type ListenerConfig struct {
	Prefetch   int   `yaml:"prefetch"`
	MaxRetries int32 `yaml:"maxRetries"`
}

// AppConfig holds api-service configuration.
type AppConfig struct {
	Server    ServerConfig        `yaml:"server"`
	Logger    logger.Config       `yaml:"logger"`
	Database  db.MySQLConfig      `yaml:"database"`
	Redis     cache.RedisConfig   `yaml:"redis"`
	Broker    broker.Config       `yaml:"broker"`
	Minio     storage.MinioConfig `yaml:"minio"`
	Submit    SubmitConfig        `yaml:"submit"`
	Listeners ListenerConfig      `yaml:"listeners"`
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

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}

	if cfg.Submit.MaxCodeBytes == 0 {
		cfg.Submit.MaxCodeBytes = 256 * 1024
	}
	if cfg.Submit.BatchLimit == 0 {
		cfg.Submit.BatchLimit = 200
	}
	if cfg.Submit.ReconcileAge == 0 {
		cfg.Submit.ReconcileAge = 30 * time.Second
	}
	if cfg.Submit.ReconcileTick == 0 {
		cfg.Submit.ReconcileTick = 15 * time.Second
	}
	if cfg.Submit.Timeouts.DB == 0 {
		cfg.Submit.Timeouts.DB = 3 * time.Second
	}
	if cfg.Submit.Timeouts.Cache == 0 {
		cfg.Submit.Timeouts.Cache = 1 * time.Second
	}
	if cfg.Submit.Timeouts.Broker == 0 {
		cfg.Submit.Timeouts.Broker = 5 * time.Second
	}
	if cfg.Submit.Timeouts.Storage == 0 {
		cfg.Submit.Timeouts.Storage = 5 * time.Second
	}

	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if cfg.Broker.URL == "" {
		return nil, fmt.Errorf("broker url is required")
	}
	if cfg.Minio.Endpoint == "" || cfg.Minio.Bucket == "" {
		return nil, fmt.Errorf("minio endpoint and bucket are required")
	}
	return &cfg, nil
}
