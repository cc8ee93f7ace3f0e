package main

import (
	"fmt"
	"os"
	"time"

	"judgerunner/internal/common/cache"
	commonmw "judgerunner/internal/common/http/middleware"
	"judgerunner/internal/common/mq"
	"judgerunner/internal/judge/sandbox/engine"
	"judgerunner/internal/judge/sandbox/profile"
	"judgerunner/internal/judge/service"
	"judgerunner/internal/judge/stopwatch"
	"judgerunner/internal/judge/toolchain"
	"judgerunner/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8090"
	defaultReadTimeout     = 5 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 30 * time.Second
	readinessTimeout       = 2 * time.Second
	defaultPermitWait      = 30 * time.Second
	defaultMaxCodeBytes    = 256 * 1024
	defaultReportTopic     = "judge.reports"
	defaultReportTTL       = time.Hour

	// installSteps is how many installer runs a cold request may wait on:
	// plugin add and install, for the language and again for the driver.
	installSteps      = 4
	writeTimeoutSlack = 30 * time.Second
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// RunnerConfig holds judge session settings.
type RunnerConfig struct {
	Permits      int              `yaml:"permits"`
	PermitWait   time.Duration    `yaml:"permitWait"`
	Budget       stopwatch.Timers `yaml:"budget"`
	ScratchRoot  string           `yaml:"scratchRoot"`
	MaxCodeBytes int              `yaml:"maxCodeBytes"`
	MaxLineBytes int              `yaml:"maxLineBytes"`
	MaxTestCases int              `yaml:"maxTestCases"`
}

// SandboxConfig holds launcher settings and the judge driver.
type SandboxConfig struct {
	engine.Config `yaml:",inline"`
	Driver        service.DriverConfig `yaml:"driver"`
}

// RedisConfig makes redis optional.
type RedisConfig struct {
	Enabled           bool `yaml:"enabled"`
	cache.RedisConfig `yaml:",inline"`
}

// KafkaConfig makes report events optional.
type KafkaConfig struct {
	Enabled        bool   `yaml:"enabled"`
	ReportTopic    string `yaml:"reportTopic"`
	mq.KafkaConfig `yaml:",inline"`
}

// ReportConfig controls report storage in redis.
type ReportConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// AppConfig holds judge-runner config.
type AppConfig struct {
	Server    ServerConfig             `yaml:"server"`
	Logger    logger.Config            `yaml:"logger"`
	Runner    RunnerConfig             `yaml:"runner"`
	Toolchain toolchain.Config         `yaml:"toolchain"`
	Sandbox   SandboxConfig            `yaml:"sandbox"`
	Languages []profile.LanguageSpec   `yaml:"languages"`
	Redis     RedisConfig              `yaml:"redis"`
	Kafka     KafkaConfig              `yaml:"kafka"`
	Reports   ReportConfig             `yaml:"reports"`
	RateLimit commonmw.RateLimitConfig `yaml:"rateLimit"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func defaultAppConfig() AppConfig {
	return AppConfig{
		Server: ServerConfig{
			Addr:         defaultHTTPAddr,
			ReadTimeout: defaultReadTimeout,
			IdleTimeout: defaultIdleTimeout,
		},
		Logger: logger.Config{Level: "info", Format: "json", OutputPath: "stdout"},
		Runner: RunnerConfig{
			Permits:    4,
			PermitWait: defaultPermitWait,
			Budget: stopwatch.Timers{
				Run:     10 * time.Second,
				Compile: 10 * time.Second,
				Judge:   5 * time.Second,
			},
			MaxCodeBytes: defaultMaxCodeBytes,
		},
		Toolchain: toolchain.DefaultConfig(),
		Sandbox: SandboxConfig{
			Config: engine.Config{SharedMounts: engine.DefaultSharedMounts()},
		},
		Kafka:   KafkaConfig{ReportTopic: defaultReportTopic},
		Reports: ReportConfig{TTL: defaultReportTTL},
	}
}

func loadAppConfig(path string) (*AppConfig, error) {
	cfg := defaultAppConfig()
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Languages) == 0 {
		return nil, fmt.Errorf("at least one language is required")
	}
	if cfg.Sandbox.Driver.Cmd == "" {
		return nil, fmt.Errorf("sandbox.driver.cmd is required")
	}
	if cfg.Redis.Enabled {
		if cfg.Redis.Addr == "" {
			return nil, fmt.Errorf("redis addr is required")
		}
		applyRedisDefaults(&cfg.Redis.RedisConfig)
	}
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Runner.Permits <= 0 {
		cfg.Runner.Permits = 1
	}
	if cfg.Kafka.ReportTopic == "" {
		cfg.Kafka.ReportTopic = defaultReportTopic
	}
	if cfg.Toolchain.Timeout <= 0 {
		cfg.Toolchain.Timeout = toolchain.DefaultConfig().Timeout
	}
	if cfg.Server.WriteTimeout <= 0 {
		cfg.Server.WriteTimeout = requestDeadline(&cfg)
	}
	return &cfg, nil
}

// requestDeadline is the longest a run request can take when none of its
// toolchains are installed yet.
func requestDeadline(cfg *AppConfig) time.Duration {
	var extra time.Duration
	for _, lang := range cfg.Languages {
		if t := lang.ExtraTime.Total(); t > extra {
			extra = t
		}
	}
	return installSteps*cfg.Toolchain.Timeout +
		cfg.Runner.PermitWait +
		cfg.Runner.Budget.Total() +
		extra +
		writeTimeoutSlack
}

func applyRedisDefaults(cfg *cache.RedisConfig) {
	if cfg == nil {
		return
	}
	defaults := cache.DefaultRedisConfig()
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.MinRetryBackoff == 0 {
		cfg.MinRetryBackoff = defaults.MinRetryBackoff
	}
	if cfg.MaxRetryBackoff == 0 {
		cfg.MaxRetryBackoff = defaults.MaxRetryBackoff
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = defaults.PoolSize
	}
	if cfg.MinIdleConns == 0 {
		cfg.MinIdleConns = defaults.MinIdleConns
	}
	if cfg.PoolTimeout == 0 {
		cfg.PoolTimeout = defaults.PoolTimeout
	}
}
