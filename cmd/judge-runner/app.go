package main

import (
	"context"
	"fmt"

	"judgerunner/internal/common/cache"
	"judgerunner/internal/common/mq"
	"judgerunner/internal/judge/repository"
	"judgerunner/internal/judge/sandbox/engine"
	"judgerunner/internal/judge/sandbox/profile"
	"judgerunner/internal/judge/service"
	"judgerunner/internal/judge/toolchain"
	"judgerunner/pkg/utils/logger"

	"go.uber.org/zap"
)

// app holds the wired runner and whatever it must release on exit.
type app struct {
	cfg     *AppConfig
	svc     *service.Service
	reports *repository.ReportRepository
	// checks back /readyz, keyed by backend name.
	checks  map[string]func(context.Context) error
	closers []func() error
}

func newApp(cfgPath string) (*app, error) {
	cfg, err := loadAppConfig(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load app config failed: %w", err)
	}
	if err := logger.Init(cfg.Logger); err != nil {
		return nil, fmt.Errorf("init logger failed: %w", err)
	}
	a := &app{cfg: cfg, checks: make(map[string]func(context.Context) error)}
	a.closers = append(a.closers, func() error {
		_ = logger.Sync()
		return nil
	})

	var (
		lock       cache.LockOps
		publishers repository.Fanout
	)
	if cfg.Redis.Enabled {
		redisCache, err := cache.NewRedisCacheWithConfig(&cfg.Redis.RedisConfig)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init redis failed: %w", err)
		}
		a.closers = append(a.closers, redisCache.Close)
		a.checks["redis"] = redisCache.Ping
		lock = redisCache
		a.reports = repository.NewReportRepository(redisCache, cfg.Reports.TTL)
		publishers = append(publishers, a.reports)
	}
	if cfg.Kafka.Enabled {
		producer, err := mq.NewKafkaProducer(cfg.Kafka.KafkaConfig)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init kafka failed: %w", err)
		}
		a.closers = append(a.closers, producer.Close)
		a.checks["kafka"] = producer.Ping
		publishers = append(publishers, repository.NewMQReportPublisher(producer, cfg.Kafka.ReportTopic))
	}

	catalog, err := profile.NewCatalog(cfg.Languages)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load language catalog failed: %w", err)
	}

	svcCfg := service.Config{
		Catalog:      catalog,
		Installer:    toolchain.NewInstaller(cfg.Toolchain, lock),
		Engine:       engine.NewEngine(cfg.Sandbox.Config),
		Permits:      service.NewPermits(cfg.Runner.Permits, cfg.Runner.PermitWait),
		Driver:       cfg.Sandbox.Driver,
		Baseline:     cfg.Runner.Budget,
		ScratchRoot:  cfg.Runner.ScratchRoot,
		MaxCodeBytes: cfg.Runner.MaxCodeBytes,
		MaxLineBytes: cfg.Runner.MaxLineBytes,
		MaxTestCases: cfg.Runner.MaxTestCases,
	}
	if len(publishers) > 0 {
		svcCfg.Publisher = publishers
	}
	svc, err := service.NewService(svcCfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init judge service failed: %w", err)
	}
	a.svc = svc
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn(context.Background(), "close resource failed", zap.Error(err))
		}
	}
	a.closers = nil
}
