//go:build linux

package process

import (
	"context"
	"errors"
	"strings"
	"syscall"
	"testing"
	"time"

	appErr "judgerunner/pkg/errors"

	"golang.org/x/sys/unix"
)

func runShell(t *testing.T, script string, configure func(*Cmd)) Result {
	t.Helper()
	cmd := Command("/bin/sh", "-c", script)
	if configure != nil {
		configure(cmd)
	}
	child, err := cmd.Spawn()
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	defer child.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := child.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	return res
}

func TestSpawnCapturesStdoutAndStderr(t *testing.T) {
	res := runShell(t, "echo out; echo err >&2", func(c *Cmd) {
		c.Output(Stdout, 1024).Output(Stderr, 1024)
	})
	if !res.Status.Success() {
		t.Fatalf("expected success, got %s", res.Status)
	}
	if res.Output(Stdout) != "out\n" || res.Output(Stderr) != "err\n" {
		t.Fatalf("unexpected outputs: %q %q", res.Output(Stdout), res.Output(Stderr))
	}
}

func TestSpawnExtraDescriptors(t *testing.T) {
	res := runShell(t, "cat <&7; cat <&12 >&9", func(c *Cmd) {
		c.Input(7, []byte("seven ")).Input(12, []byte("twelve")).Output(Stdout, 1024).Output(9, 1024)
	})
	if res.Output(Stdout) != "seven " {
		t.Fatalf("expected fd 7 on stdout, got %q", res.Output(Stdout))
	}
	if res.Output(9) != "twelve" {
		t.Fatalf("expected fd 12 on fd 9, got %q", res.Output(9))
	}
}

func TestSpawnStreamsStdin(t *testing.T) {
	res := runShell(t, "cat", func(c *Cmd) {
		c.Stream(Stdin, []byte("from stdin")).Output(Stdout, 1024)
	})
	if res.Output(Stdout) != "from stdin" {
		t.Fatalf("expected stdin echoed, got %q", res.Output(Stdout))
	}
}

func TestSpawnUnconfiguredDescriptorIsClosed(t *testing.T) {
	res := runShell(t, "if : >&5 2>/dev/null; then echo open; else echo closed; fi", func(c *Cmd) {
		c.Input(6, []byte("x")).Output(Stdout, 64)
	})
	if strings.TrimSpace(res.Output(Stdout)) != "closed" {
		t.Fatalf("expected fd 5 closed in child, got %q", res.Output(Stdout))
	}
}

func TestExitStatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		script     string
		wantCode   int
		wantSignal syscall.Signal
	}{
		{name: "zero", script: "exit 0", wantCode: 0},
		{name: "plain", script: "exit 3", wantCode: 3},
		{name: "shell signal convention", script: "exit 137", wantSignal: syscall.SIGKILL},
		{name: "raw high code", script: "exit 200", wantCode: 200},
		{name: "killed by signal", script: "kill -TERM $$", wantSignal: syscall.SIGTERM},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := runShell(t, tt.script, nil)
			if tt.wantSignal != 0 {
				if res.Status.Signal == nil || *res.Status.Signal != tt.wantSignal {
					t.Fatalf("expected signal %d, got %s", tt.wantSignal, res.Status)
				}
				return
			}
			if res.Status.Code == nil || *res.Status.Code != tt.wantCode {
				t.Fatalf("expected code %d, got %s", tt.wantCode, res.Status)
			}
		})
	}
}

func TestOutputTruncation(t *testing.T) {
	res := runShell(t, "head -c 100000 /dev/zero | tr '\\0' 'a'", func(c *Cmd) {
		c.Output(Stdout, 1000)
	})
	if len(res.Output(Stdout)) != 1000 || !res.Truncated[Stdout] {
		t.Fatalf("expected 1000 truncated bytes, got %d truncated=%v", len(res.Output(Stdout)), res.Truncated[Stdout])
	}
}

func TestInvalidUTF8Output(t *testing.T) {
	cmd := Command("/bin/sh", "-c", `printf '\377\376'`).Output(Stdout, 64)
	child, err := cmd.Spawn()
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	defer child.Close()
	_, err = child.Wait(context.Background())
	if !appErr.Is(err, appErr.OutputEncodingError) {
		t.Fatalf("expected encoding error, got %v", err)
	}
}

func TestCancelKillsAndReaps(t *testing.T) {
	child, err := Command("/bin/sleep", "10").Spawn()
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	pid := child.Pid()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = child.Wait(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("cancellation took too long")
	}
	child.Close()

	time.Sleep(50 * time.Millisecond)
	if err := unix.Kill(pid, 0); !errors.Is(err, unix.ESRCH) {
		t.Fatalf("expected pid %d to be gone, got %v", pid, err)
	}
}

func TestCloseWithoutWaitReaps(t *testing.T) {
	child, err := Command("/bin/sleep", "10").Spawn()
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	pid := child.Pid()
	child.Close()
	child.Close()

	if err := unix.Kill(pid, 0); !errors.Is(err, unix.ESRCH) {
		t.Fatalf("expected pid %d to be reaped, got %v", pid, err)
	}
}

func TestInputTooLargeForPipe(t *testing.T) {
	huge := make([]byte, 64<<20)
	_, err := Command("/bin/true").Input(3, huge).Spawn()
	if !appErr.Is(err, appErr.SandboxSpawnFailed) {
		t.Fatalf("expected spawn failure, got %v", err)
	}
}
