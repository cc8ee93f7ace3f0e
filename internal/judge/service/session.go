package service

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"sync"

	"judgerunner/internal/judge/metrics"
	"judgerunner/internal/judge/model"
	"judgerunner/internal/judge/protocol"
	"judgerunner/internal/judge/sandbox/engine"
	"judgerunner/internal/judge/sandbox/profile"
	"judgerunner/internal/judge/sandbox/result"
	"judgerunner/internal/judge/sandbox/spec"
	"judgerunner/internal/judge/stopwatch"
	appErr "judgerunner/pkg/errors"
	"judgerunner/pkg/utils/logger"

	"go.uber.org/zap"
)

type session struct {
	svc     *Service
	id      string
	req     model.ExecutionRequest
	lang    profile.LanguageSpec
	version string

	mu    sync.Mutex
	state State

	// Set during installing, read by the stream goroutine.
	toolchain       string
	driverToolchain string
	workDir         string

	// Owned by the stream goroutine until stopwatch.Measure returns.
	testCases []protocol.TestCase
	pass      bool
	stderr    string
}

func newSession(s *Service, req model.ExecutionRequest, lang profile.LanguageSpec) *session {
	return &session{
		svc:     s,
		id:      newSessionID(),
		req:     req,
		lang:    lang,
		version: lang.ResolveVersion(req.Version),
		state:   StateInstalling,
	}
}

func (s *session) setState(ctx context.Context, state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	logger.Debug(ctx, "judge session state", zap.String("state", state.String()))
	if s.svc.observe != nil {
		s.svc.observe(s.id, state)
	}
}

func (s *session) currentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *session) report(outcome stopwatch.Outcome[struct{}], timers stopwatch.Timers) model.ExecutionReport {
	return model.ExecutionReport{
		Tests: model.JudgeResult{
			Pass:      s.pass && !outcome.TimedOut,
			TestCases: s.testCases,
		},
		Stderr:   s.stderr,
		TimedOut: outcome.TimedOut,
		Timers:   timers,
	}
}

func (s *session) abort(ctx context.Context, report model.ExecutionReport, err error) (model.ExecutionReport, error) {
	s.setState(ctx, StateAborted)
	return report, err
}

func (s *session) run(ctx context.Context) (model.ExecutionReport, error) {
	s.setState(ctx, StateInstalling)
	toolchain, err := s.svc.installer.Ensure(ctx, s.lang, s.req.Version)
	if err != nil {
		return s.abort(ctx, model.ExecutionReport{}, appErr.Wrap(err, appErr.ToolchainInstallFailed))
	}
	driverToolchain, err := s.svc.installer.Ensure(ctx, s.svc.driver, s.svc.driverVer)
	if err != nil {
		return s.abort(ctx, model.ExecutionReport{}, appErr.Wrap(err, appErr.ToolchainInstallFailed))
	}
	s.toolchain = toolchain
	s.driverToolchain = driverToolchain

	s.setState(ctx, StateSpawning)
	release, err := s.svc.permits.Acquire(ctx)
	if err != nil {
		return s.abort(ctx, model.ExecutionReport{}, err)
	}
	defer release()

	if s.lang.CompileEnabled() {
		dir, err := os.MkdirTemp(s.svc.scratchRoot, "session-")
		if err != nil {
			return s.abort(ctx, model.ExecutionReport{}, appErr.Wrapf(err, appErr.JudgeSystemError, "create scratch dir"))
		}
		defer os.RemoveAll(dir)
		s.workDir = dir
	}

	budget := s.svc.baseline.Plus(s.lang.ExtraTime)
	outcome, timers := stopwatch.Measure(ctx, budget, stopwatch.Judge, s.drive)
	report := s.report(outcome, timers)
	switch {
	case outcome.Err != nil:
		return s.abort(ctx, report, outcome.Err)
	case outcome.TimedOut:
		s.setState(ctx, StateTimedOut)
	case report.Tests.Pass:
		s.setState(ctx, StatePassed)
	default:
		s.setState(ctx, StateFailed)
	}
	return report, nil
}

// drive runs the judge driver and answers its requests until it exits.
func (s *session) drive(ctx context.Context, sw *stopwatch.Switch) (struct{}, error) {
	payload, err := json.Marshal(protocol.DriverPayload{
		Language: s.lang.ID,
		Code:     s.req.Code,
		Judge:    s.req.Judge,
	})
	if err != nil {
		return struct{}{}, appErr.Wrapf(err, appErr.JudgeSystemError, "encode driver payload")
	}
	cmd, err := s.svc.driver.RunCmd(s.driverToolchain)
	if err != nil {
		return struct{}{}, appErr.Wrapf(err, appErr.SandboxSpawnFailed, "render driver command")
	}
	drv, err := s.svc.engine.StartDriver(ctx, spec.RunSpec{
		Toolchain:  s.driverToolchain,
		Cmd:        append(cmd, protocol.PayloadPath),
		Env:        s.svc.driver.RenderEnv(s.driverToolchain),
		Files:      []spec.FileSpec{{Path: protocol.PayloadPath, Data: payload}},
		BindMounts: s.svc.driver.ExtraMounts,
	})
	if err != nil {
		return struct{}{}, err
	}
	s.setState(ctx, StateStreaming)

	streamErr := s.stream(ctx, sw, drv)
	out, finishErr := drv.Finish(context.WithoutCancel(ctx))
	s.stderr = out.Stderr
	if streamErr != nil {
		return struct{}{}, streamErr
	}
	if finishErr != nil && ctx.Err() == nil {
		return struct{}{}, finishErr
	}
	return struct{}{}, nil
}

func (s *session) stream(ctx context.Context, sw *stopwatch.Switch, drv engine.Driver) error {
	reader := bufio.NewReader(drv.Stdout())
	for {
		line, err := readLine(reader, s.svc.maxLineBytes)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		msg, err := protocol.Decode(line)
		if err != nil {
			return err
		}
		switch m := msg.(type) {
		case protocol.RunRequest:
			res, err := s.runCandidate(ctx, sw, m)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			out, err := protocol.EncodeLine(res)
			if err != nil {
				return appErr.Wrapf(err, appErr.JudgeSystemError, "encode run result")
			}
			if _, err := drv.Stdin().Write(out); err != nil {
				logger.Warn(ctx, "judge driver stopped reading", zap.Error(err))
			}
		case protocol.TestCase:
			if len(s.testCases) >= s.svc.maxTestCases {
				return appErr.New(appErr.TooManyTestCases).
					WithMessagef("judge produced more than %d test cases", s.svc.maxTestCases)
			}
			s.testCases = append(s.testCases, m)
		case protocol.FinalVerdict:
			s.pass = m.Pass
		}
	}
}

// runCandidate compiles and runs the candidate once, charging the compile
// and run phases, and leaves the stopwatch back in the judge phase.
func (s *session) runCandidate(ctx context.Context, sw *stopwatch.Switch, req protocol.RunRequest) (protocol.RunResult, error) {
	base := spec.RunSpec{
		Toolchain:  s.toolchain,
		WorkDir:    s.workDir,
		Env:        s.lang.RenderEnv(s.toolchain),
		BindMounts: s.lang.ExtraMounts,
	}
	source := []spec.FileSpec{{Path: s.lang.SourcePath(), Data: []byte(req.Code)}}

	if s.lang.CompileEnabled() {
		cmd, err := s.lang.CompileCmd(s.toolchain)
		if err != nil {
			return protocol.RunResult{}, appErr.Wrapf(err, appErr.SandboxSpawnFailed, "render compile command")
		}
		if err := sw.Enter(ctx, stopwatch.Compile); err != nil {
			return protocol.RunResult{}, err
		}
		compile := base
		compile.Cmd = cmd
		compile.Files = source
		res, err := s.svc.engine.Run(ctx, compile)
		if err != nil {
			return protocol.RunResult{}, err
		}
		if !res.Status.Success() {
			metrics.CandidateRuns.WithLabelValues(s.lang.ID, "compile_failed").Inc()
			out := toRunResult(res)
			out.CompileFailed = true
			return out, sw.Enter(ctx, stopwatch.Judge)
		}
		source = nil
	}

	cmd, err := s.lang.RunCmd(s.toolchain)
	if err != nil {
		return protocol.RunResult{}, appErr.Wrapf(err, appErr.SandboxSpawnFailed, "render run command")
	}
	if err := sw.Enter(ctx, stopwatch.Run); err != nil {
		return protocol.RunResult{}, err
	}
	run := base
	run.Cmd = cmd
	run.Files = source
	if req.Input != nil {
		run.Stdin = []byte(*req.Input)
	}
	res, err := s.svc.engine.Run(ctx, run)
	if err != nil {
		return protocol.RunResult{}, err
	}
	outcome := "ok"
	if !res.Status.Success() {
		outcome = "nonzero"
	}
	metrics.CandidateRuns.WithLabelValues(s.lang.ID, outcome).Inc()
	return toRunResult(res), sw.Enter(ctx, stopwatch.Judge)
}

func toRunResult(res result.RunResult) protocol.RunResult {
	out := protocol.RunResult{
		Stdout:          res.Stdout,
		Stderr:          res.Stderr,
		StdoutTruncated: res.StdoutTruncated,
		StderrTruncated: res.StderrTruncated,
		Runtime:         res.Runtime.Seconds(),
	}
	if res.Status.Code != nil {
		code := *res.Status.Code
		out.ExitCode = &code
	}
	if res.Status.Signal != nil {
		sig := int(*res.Status.Signal)
		out.Signal = &sig
	}
	return out
}

// readLine returns the next newline-terminated line, or the final
// unterminated one, refusing lines longer than max.
func readLine(r *bufio.Reader, max int) ([]byte, error) {
	var line []byte
	for {
		chunk, err := r.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > max {
			return nil, appErr.New(appErr.JudgeProtocolError).
				WithMessagef("judge line exceeds %d bytes", max)
		}
		switch {
		case err == nil:
			return line, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if len(line) == 0 {
				return nil, io.EOF
			}
			return line, nil
		default:
			return nil, err
		}
	}
}
