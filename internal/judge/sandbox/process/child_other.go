//go:build !linux

package process

import (
	"context"
	"fmt"
	"os"

	appErr "judgerunner/pkg/errors"
)

// Child is unavailable off linux.
type Child struct{}

func (c *Cmd) Spawn() (*Child, error) {
	return nil, appErr.Wrapf(fmt.Errorf("process spawning is only supported on linux"), appErr.SandboxSpawnFailed, "spawn %s", c.Path)
}

func (ch *Child) Pid() int { return 0 }

func (ch *Child) InputPipe(fd int) *os.File { return nil }

func (ch *Child) OutputPipe(fd int) *os.File { return nil }

func (ch *Child) Exited() <-chan struct{} { return nil }

func (ch *Child) Wait(ctx context.Context) (Result, error) {
	return Result{}, fmt.Errorf("process spawning is only supported on linux")
}

func (ch *Child) WaitExit(ctx context.Context) (ExitStatus, error) {
	return ExitStatus{}, fmt.Errorf("process spawning is only supported on linux")
}

func (ch *Child) Kill() {}

func (ch *Child) Close() {}
