package service

import (
	"context"
	"fmt"
	"os"
	"time"

	"judgerunner/internal/judge/metrics"
	"judgerunner/internal/judge/model"
	"judgerunner/internal/judge/sandbox/engine"
	"judgerunner/internal/judge/sandbox/profile"
	"judgerunner/internal/judge/sandbox/spec"
	"judgerunner/internal/judge/stopwatch"
	appErr "judgerunner/pkg/errors"
	"judgerunner/pkg/utils/contextkey"
	"judgerunner/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultMaxTestCases = 50
	defaultMaxLineBytes = 1 << 20
	defaultPublishWait  = 3 * time.Second
)

// ToolchainInstaller makes a language toolchain available on the host.
type ToolchainInstaller interface {
	Ensure(ctx context.Context, lang profile.LanguageSpec, version string) (string, error)
}

// ReportPublisher receives an event for every finished session.
type ReportPublisher interface {
	PublishReport(ctx context.Context, event model.ReportEvent) error
}

// DriverConfig describes the program that hosts judge code.
type DriverConfig struct {
	// Language is the catalogue entry whose toolchain runs the driver.
	Language string `yaml:"language"`
	Version  string `yaml:"version"`
	// Cmd is the driver command template. The JSON payload is appended as
	// the last argument.
	Cmd    string           `yaml:"cmd"`
	Env    []string         `yaml:"env"`
	Mounts []spec.MountSpec `yaml:"mounts"`
}

// Service runs judge sessions.
type Service struct {
	catalog      *profile.Catalog
	installer    ToolchainInstaller
	engine       engine.Engine
	permits      *Permits
	publisher    ReportPublisher
	driver       profile.LanguageSpec
	driverVer    string
	baseline     stopwatch.Timers
	scratchRoot  string
	maxCodeBytes int
	maxLineBytes int
	maxTestCases int
	publishWait  time.Duration
	observe      StateObserver
}

// Config holds service dependencies and settings.
type Config struct {
	Catalog   *profile.Catalog
	Installer ToolchainInstaller
	Engine    engine.Engine
	Permits   *Permits
	// Publisher is optional.
	Publisher ReportPublisher
	Driver    DriverConfig
	// Baseline is the per-phase budget before language extras are added.
	Baseline     stopwatch.Timers
	ScratchRoot  string
	MaxCodeBytes int
	MaxLineBytes int
	MaxTestCases int
	PublishWait  time.Duration
	// OnStateChange is optional.
	OnStateChange StateObserver
}

// NewService creates a new judge service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("language catalog is required")
	}
	if cfg.Installer == nil {
		return nil, fmt.Errorf("toolchain installer is required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("sandbox engine is required")
	}
	if cfg.Permits == nil {
		return nil, fmt.Errorf("permits are required")
	}
	if cfg.Driver.Cmd == "" {
		return nil, fmt.Errorf("judge driver command is required")
	}
	base, err := cfg.Catalog.Get(cfg.Driver.Language)
	if err != nil {
		return nil, fmt.Errorf("judge driver language: %w", err)
	}
	driver := base
	driver.RunCmdTpl = cfg.Driver.Cmd
	driver.CompileCmdTpl = ""
	driver.Env = append(append([]string(nil), base.Env...), cfg.Driver.Env...)
	driver.ExtraMounts = append(append([]spec.MountSpec(nil), base.ExtraMounts...), cfg.Driver.Mounts...)

	scratch := cfg.ScratchRoot
	if scratch == "" {
		scratch = os.TempDir()
	}
	maxTestCases := cfg.MaxTestCases
	if maxTestCases <= 0 {
		maxTestCases = defaultMaxTestCases
	}
	maxLine := cfg.MaxLineBytes
	if maxLine <= 0 {
		maxLine = defaultMaxLineBytes
	}
	publishWait := cfg.PublishWait
	if publishWait <= 0 {
		publishWait = defaultPublishWait
	}
	return &Service{
		catalog:      cfg.Catalog,
		installer:    cfg.Installer,
		engine:       cfg.Engine,
		permits:      cfg.Permits,
		publisher:    cfg.Publisher,
		driver:       driver,
		driverVer:    cfg.Driver.Version,
		baseline:     cfg.Baseline,
		scratchRoot:  scratch,
		maxCodeBytes: cfg.MaxCodeBytes,
		maxLineBytes: maxLine,
		maxTestCases: maxTestCases,
		publishWait:  publishWait,
		observe:      cfg.OnStateChange,
	}, nil
}

// Languages lists the catalogue.
func (s *Service) Languages() []profile.LanguageSpec {
	return s.catalog.List()
}

// Install pre-warms the toolchain for a language and returns its directory.
func (s *Service) Install(ctx context.Context, language, version string) (string, error) {
	lang, err := s.catalog.Get(language)
	if err != nil {
		return "", err
	}
	return s.installer.Ensure(ctx, lang, version)
}

// Execute runs one judge session. Hard failures come back as typed errors;
// the returned report then holds whatever the session gathered before
// failing. A timeout is not an error.
func (s *Service) Execute(ctx context.Context, req model.ExecutionRequest) (model.ExecutionReport, error) {
	if err := req.Validate(s.maxCodeBytes); err != nil {
		return model.ExecutionReport{}, err
	}
	lang, err := s.catalog.Get(req.Language)
	if err != nil {
		return model.ExecutionReport{}, err
	}

	sess := newSession(s, req, lang)
	ctx = context.WithValue(ctx, contextkey.SessionID, sess.id)
	start := time.Now()
	report, err := sess.run(ctx)
	report.SessionID = sess.id
	report.Runtime = float32(time.Since(start).Seconds())
	s.finish(ctx, sess, report, err)
	return report, err
}

func (s *Service) finish(ctx context.Context, sess *session, report model.ExecutionReport, err error) {
	state := sess.currentState()
	metrics.SessionsTotal.WithLabelValues(sess.lang.ID, state.String()).Inc()
	metrics.SessionRuntime.WithLabelValues(sess.lang.ID).Observe(float64(report.Runtime))
	for _, phase := range stopwatch.Phases {
		metrics.PhaseDuration.WithLabelValues(sess.lang.ID, phase.String()).Observe(report.Timers.Get(phase).Seconds())
	}

	fields := []zap.Field{
		zap.String("language", sess.lang.ID),
		zap.String("version", sess.version),
		zap.String("state", state.String()),
		zap.Bool("pass", report.Tests.Pass),
		zap.Bool("timed_out", report.TimedOut),
		zap.Int("test_cases", len(report.Tests.TestCases)),
		zap.Float32("runtime", report.Runtime),
	}
	if err != nil {
		logger.Warn(ctx, "judge session aborted", append(fields, zap.Error(err))...)
	} else {
		logger.Info(ctx, "judge session finished", fields...)
	}

	if s.publisher == nil {
		return
	}
	event := model.ReportEvent{
		SessionID:  sess.id,
		Language:   sess.lang.ID,
		Version:    sess.version,
		State:      state.String(),
		Pass:       report.Tests.Pass,
		TimedOut:   report.TimedOut,
		TestCases:  len(report.Tests.TestCases),
		Runtime:    report.Runtime,
		FinishedAt: time.Now().Unix(),
	}
	if err != nil {
		event.ErrorCode = int(appErr.GetCode(err))
		event.ErrorMessage = err.Error()
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishWait)
	defer cancel()
	if perr := s.publisher.PublishReport(pubCtx, event); perr != nil {
		logger.Warn(ctx, "publish report event failed", zap.Error(perr))
	}
}

func newSessionID() string {
	return uuid.NewString()
}
