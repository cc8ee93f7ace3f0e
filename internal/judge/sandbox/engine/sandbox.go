package engine

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"judgerunner/internal/judge/sandbox/pipe"
	"judgerunner/internal/judge/sandbox/process"
	"judgerunner/internal/judge/sandbox/result"
	"judgerunner/internal/judge/sandbox/spec"
	appErr "judgerunner/pkg/errors"
	"judgerunner/pkg/utils/logger"

	"go.uber.org/zap"
)

type engine struct {
	cfg Config
}

// NewEngine creates a sandbox engine.
func NewEngine(cfg Config) Engine {
	return &engine{cfg: cfg.withDefaults()}
}

func (e *engine) limits(l spec.ResourceLimit) spec.ResourceLimit {
	if l.StdoutBytes <= 0 {
		l.StdoutBytes = e.cfg.StdoutMaxBytes
	}
	if l.StderrBytes <= 0 {
		l.StderrBytes = e.cfg.StderrMaxBytes
	}
	return l
}

func (e *engine) Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error) {
	cmd, err := e.command(runSpec)
	if err != nil {
		return result.RunResult{}, appErr.Wrapf(err, appErr.SandboxSpawnFailed, "build sandbox command")
	}
	limits := e.limits(runSpec.Limits)
	cmd.Output(process.Stdout, limits.StdoutBytes).Output(process.Stderr, limits.StderrBytes)

	child, err := cmd.Spawn()
	if err != nil {
		return result.RunResult{}, err
	}
	defer child.Close()

	res, err := child.Wait(ctx)
	if err != nil {
		return result.RunResult{}, err
	}
	logger.Debug(ctx, "sandbox run finished",
		zap.Strings("cmd", runSpec.Cmd),
		zap.String("status", res.Status.String()),
		zap.Duration("runtime", res.Runtime),
	)
	return result.RunResult{
		Status:          res.Status,
		Stdout:          res.Output(process.Stdout),
		Stderr:          res.Output(process.Stderr),
		StdoutTruncated: res.Truncated[process.Stdout],
		StderrTruncated: res.Truncated[process.Stderr],
		Runtime:         res.Runtime,
	}, nil
}

func (e *engine) StartDriver(ctx context.Context, runSpec spec.RunSpec) (Driver, error) {
	cmd, err := e.command(runSpec)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.SandboxSpawnFailed, "build driver command")
	}
	cmd.InputPipe(process.Stdin).OutputPipe(process.Stdout).OutputPipe(process.Stderr)

	child, err := cmd.Spawn()
	if err != nil {
		return nil, err
	}
	stderr, err := pipe.NewReader(child.OutputPipe(process.Stderr), e.limits(runSpec.Limits).StderrBytes)
	if err != nil {
		child.Close()
		return nil, appErr.Wrapf(err, appErr.SandboxSpawnFailed, "attach driver stderr")
	}
	d := &driver{
		child:  child,
		stdin:  child.InputPipe(process.Stdin),
		stdout: child.OutputPipe(process.Stdout),
		stderr: stderr,
		grace:  e.cfg.DriverGrace,
	}
	d.stop = context.AfterFunc(ctx, child.Kill)
	return d, nil
}

type driver struct {
	child  *process.Child
	stdin  *os.File
	stdout *os.File
	stderr *pipe.Reader
	grace  time.Duration
	stop   func() bool

	once sync.Once
	out  result.DriverOutput
	err  error
}

func (d *driver) Stdin() io.WriteCloser { return d.stdin }

func (d *driver) Stdout() io.Reader { return d.stdout }

func (d *driver) Finish(ctx context.Context) (result.DriverOutput, error) {
	d.once.Do(func() {
		d.out, d.err = d.finish(ctx)
	})
	return d.out, d.err
}

func (d *driver) finish(ctx context.Context) (result.DriverOutput, error) {
	d.stop()
	defer d.child.Close()
	_ = d.stdin.Close()

	waitCtx, cancel := context.WithTimeout(ctx, d.grace)
	status, err := d.child.WaitExit(waitCtx)
	cancel()
	if err != nil {
		// WaitExit killed and reaped the driver; the status is final now.
		status, _ = d.child.WaitExit(context.Background())
	}
	_ = d.stdout.Close()

	drainCtx, cancel := context.WithTimeout(ctx, d.grace)
	out, err := d.stderr.Wait(drainCtx)
	cancel()
	if err != nil {
		// Something outside the sandbox still holds the write end.
		d.stderr.Close()
		out, _ = d.stderr.Wait(context.Background())
	}

	stderr, err := process.DecodeOutput(process.Stderr, out.Bytes, out.Truncated)
	if err != nil {
		return result.DriverOutput{Status: status}, err
	}
	return result.DriverOutput{Stderr: stderr, Truncated: out.Truncated, Status: status}, nil
}
