//go:build linux

package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"judgerunner/internal/judge/sandbox/pipe"
	appErr "judgerunner/pkg/errors"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

const defaultPipeSize = 64 * 1024

// Child is a running process spawned from a Cmd.
type Child struct {
	pid   int
	group bool
	start time.Time

	readers  map[int]*pipe.Reader
	writers  map[int]*pipe.Writer
	inPipes  map[int]*os.File
	outPipes map[int]*os.File

	// mu orders signal delivery against reaping so a kill never hits a
	// recycled pid.
	mu            sync.Mutex
	reaped        bool
	waiterStarted bool
	status        unix.WaitStatus
	runtime       time.Duration
	done          chan struct{}

	closeOnce sync.Once
}

// Spawn starts the child. Pipes for every configured descriptor are created
// first; Input data is written before the child runs.
func (c *Cmd) Spawn() (*Child, error) {
	if c.err != nil {
		return nil, appErr.Wrapf(c.err, appErr.SandboxSpawnFailed, "invalid command")
	}
	path := c.Path
	if !strings.Contains(path, "/") {
		resolved, err := exec.LookPath(path)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.SandboxSpawnFailed, "resolve %s", path)
		}
		path = resolved
	}

	child := &Child{
		group:    c.NewProcessGroup,
		readers:  make(map[int]*pipe.Reader),
		writers:  make(map[int]*pipe.Writer),
		inPipes:  make(map[int]*os.File),
		outPipes: make(map[int]*os.File),
		done:     make(chan struct{}),
	}

	// childEnds are closed in the parent once the child holds them.
	var childEnds []*os.File
	var parentEnds []*os.File
	streams := make(map[int]*os.File)
	outputs := make(map[int]*os.File)
	cleanup := func() {
		for _, f := range childEnds {
			f.Close()
		}
		for _, f := range parentEnds {
			f.Close()
		}
	}

	maxFd := Stderr
	for fd := range c.fds {
		if fd > maxFd {
			maxFd = fd
		}
	}
	files := make([]uintptr, maxFd+1)
	for i := range files {
		files[i] = ^uintptr(0)
	}

	devNull, err := os.Open(os.DevNull)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.SandboxSpawnFailed, "open %s", os.DevNull)
	}
	childEnds = append(childEnds, devNull)
	for fd := Stdin; fd <= Stderr; fd++ {
		files[fd] = devNull.Fd()
	}

	for _, fd := range c.sortedFds() {
		s := c.fds[fd]
		r, w, err := pipe.New()
		if err != nil {
			cleanup()
			return nil, appErr.Wrapf(err, appErr.SandboxSpawnFailed, "pipe for fd %d", fd)
		}
		switch s.kind {
		case fdInput:
			childEnds = append(childEnds, r)
			files[fd] = r.Fd()
			err = writeAll(w, s.data)
			w.Close()
			if err != nil {
				cleanup()
				return nil, appErr.Wrapf(err, appErr.SandboxSpawnFailed, "write input fd %d", fd)
			}
		case fdStream:
			childEnds = append(childEnds, r)
			parentEnds = append(parentEnds, w)
			files[fd] = r.Fd()
			streams[fd] = w
		case fdInputPipe:
			childEnds = append(childEnds, r)
			parentEnds = append(parentEnds, w)
			files[fd] = r.Fd()
			child.inPipes[fd] = w
		case fdOutput:
			childEnds = append(childEnds, w)
			parentEnds = append(parentEnds, r)
			files[fd] = w.Fd()
			outputs[fd] = r
		case fdOutputPipe:
			childEnds = append(childEnds, w)
			parentEnds = append(parentEnds, r)
			files[fd] = w.Fd()
			child.outPipes[fd] = r
		}
	}

	attr := &syscall.ProcAttr{
		Dir:   c.Dir,
		Env:   c.Env,
		Files: files,
		Sys: &syscall.SysProcAttr{
			Setpgid:   c.NewProcessGroup,
			Pdeathsig: syscall.SIGKILL,
		},
	}
	if attr.Env == nil {
		attr.Env = []string{}
	}
	pid, err := syscall.ForkExec(path, c.Args, attr)
	if err != nil {
		cleanup()
		return nil, appErr.Wrapf(err, appErr.SandboxSpawnFailed, "spawn %s", c.Path)
	}
	child.pid = pid
	child.start = time.Now()
	for _, f := range childEnds {
		f.Close()
	}

	var setupErr error
	for fd, w := range streams {
		writer, err := pipe.NewWriter(w, c.fds[fd].data)
		if err != nil {
			setupErr = err
			continue
		}
		child.writers[fd] = writer
	}
	for fd, r := range outputs {
		reader, err := pipe.NewReader(r, c.fds[fd].max)
		if err != nil {
			setupErr = err
			continue
		}
		child.readers[fd] = reader
	}
	for fd, f := range child.inPipes {
		nf, err := pipe.NonBlocking(f)
		if err != nil {
			setupErr = err
			continue
		}
		child.inPipes[fd] = nf
	}
	for fd, f := range child.outPipes {
		nf, err := pipe.NonBlocking(f)
		if err != nil {
			setupErr = err
			continue
		}
		child.outPipes[fd] = nf
	}
	if setupErr != nil {
		child.Close()
		return nil, appErr.Wrapf(setupErr, appErr.SandboxSpawnFailed, "attach pipes")
	}
	return child, nil
}

// writeAll fills a fresh pipe without blocking. Data larger than the pipe
// buffer grows the buffer first and fails if it still does not fit.
func writeAll(w *os.File, data []byte) error {
	fd := int(w.Fd())
	if len(data) > defaultPipeSize {
		_, _ = unix.FcntlInt(uintptr(fd), unix.F_SETPIPE_SZ, len(data))
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return err
	}
	for len(data) > 0 {
		n, err := unix.Write(fd, data)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if errors.Is(err, unix.EAGAIN) {
				return fmt.Errorf("input of %d bytes does not fit in the pipe buffer", len(data))
			}
			return err
		}
		data = data[n:]
	}
	return nil
}

// Pid returns the child's process id.
func (ch *Child) Pid() int {
	return ch.pid
}

// InputPipe returns the parent's write end for a descriptor registered with
// Cmd.InputPipe. The caller owns it.
func (ch *Child) InputPipe(fd int) *os.File {
	return ch.inPipes[fd]
}

// OutputPipe returns the parent's read end for a descriptor registered with
// Cmd.OutputPipe. The caller owns it.
func (ch *Child) OutputPipe(fd int) *os.File {
	return ch.outPipes[fd]
}

// Exited is closed once the child has been reaped.
func (ch *Child) Exited() <-chan struct{} {
	return ch.done
}

// Wait waits for the child to exit, then drains every captured output. If
// ctx ends first the child is killed and reaped and ctx.Err() is returned.
func (ch *Child) Wait(ctx context.Context) (Result, error) {
	if err := ch.waitExit(ctx); err != nil {
		return Result{}, err
	}

	outs := make(map[int]pipe.Output, len(ch.readers))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for fd, reader := range ch.readers {
		fd, reader := fd, reader
		g.Go(func() error {
			out, err := reader.Wait(gctx)
			if err != nil {
				return fmt.Errorf("drain fd %d: %w", fd, err)
			}
			mu.Lock()
			outs[fd] = out
			mu.Unlock()
			return nil
		})
	}
	for _, writer := range ch.writers {
		writer := writer
		g.Go(func() error {
			_, err := writer.Wait(gctx)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		ch.Close()
		return Result{}, err
	}

	res := Result{
		Status:    ch.exitStatus(),
		Outputs:   make(map[int]string, len(outs)),
		Truncated: make(map[int]bool, len(outs)),
		Runtime:   ch.runtime,
	}
	for fd, out := range outs {
		s, err := DecodeOutput(fd, out.Bytes, out.Truncated)
		if err != nil {
			return res, err
		}
		res.Outputs[fd] = s
		res.Truncated[fd] = out.Truncated
	}
	return res, nil
}

// WaitExit waits for the child to exit without draining outputs.
func (ch *Child) WaitExit(ctx context.Context) (ExitStatus, error) {
	if err := ch.waitExit(ctx); err != nil {
		return ExitStatus{}, err
	}
	return ch.exitStatus(), nil
}

func (ch *Child) waitExit(ctx context.Context) error {
	ch.mu.Lock()
	if !ch.reaped && !ch.waiterStarted {
		var ws unix.WaitStatus
		wpid, err := unix.Wait4(ch.pid, &ws, unix.WNOHANG, nil)
		switch {
		case err == nil && wpid == ch.pid:
			ch.finishLocked(ws)
		case err != nil && !errors.Is(err, unix.EINTR):
			ch.mu.Unlock()
			return appErr.Wrapf(err, appErr.SandboxSpawnFailed, "wait for pid %d", ch.pid)
		default:
			ch.waiterStarted = true
			go ch.waiter()
		}
	}
	ch.mu.Unlock()

	select {
	case <-ch.done:
		return nil
	default:
	}
	select {
	case <-ch.done:
		return nil
	case <-ctx.Done():
		ch.Kill()
		<-ch.done
		return ctx.Err()
	}
}

// waiter blocks its own thread until the child exits. It peeks with WNOWAIT
// and only reaps under mu, after which the pid is never signalled again.
func (ch *Child) waiter() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var info unix.Siginfo
	for {
		err := unix.Waitid(unix.P_PID, ch.pid, &info, unix.WEXITED|unix.WNOWAIT, nil)
		if err == nil {
			break
		}
		if !errors.Is(err, unix.EINTR) {
			panic(fmt.Sprintf("waitid pid %d: %v", ch.pid, err))
		}
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	var ws unix.WaitStatus
	for {
		_, err := unix.Wait4(ch.pid, &ws, 0, nil)
		if err == nil {
			break
		}
		if !errors.Is(err, unix.EINTR) {
			panic(fmt.Sprintf("wait4 pid %d: %v", ch.pid, err))
		}
	}
	ch.finishLocked(ws)
}

func (ch *Child) finishLocked(ws unix.WaitStatus) {
	ch.status = ws
	ch.runtime = time.Since(ch.start)
	ch.reaped = true
	close(ch.done)
}

func (ch *Child) exitStatus() ExitStatus {
	if ch.status.Signaled() {
		return StatusFromSignal(ch.status.Signal())
	}
	return StatusFromCode(ch.status.ExitStatus())
}

// Kill sends SIGKILL to the child, and its group when it has one, unless it
// has already been reaped.
func (ch *Child) Kill() {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.reaped {
		return
	}
	if ch.group {
		_ = unix.Kill(-ch.pid, unix.SIGKILL)
	}
	_ = unix.Kill(ch.pid, unix.SIGKILL)
}

// Close kills the child if it has not been reaped, reaps it, and releases
// every pipe. It is safe to call more than once.
func (ch *Child) Close() {
	ch.closeOnce.Do(func() {
		ch.Kill()
		ch.mu.Lock()
		if !ch.reaped && !ch.waiterStarted {
			var ws unix.WaitStatus
			for {
				_, err := unix.Wait4(ch.pid, &ws, 0, nil)
				if err == nil || !errors.Is(err, unix.EINTR) {
					break
				}
			}
			ch.finishLocked(ws)
		}
		ch.mu.Unlock()
		<-ch.done

		for _, w := range ch.writers {
			w.Close()
		}
		for _, r := range ch.readers {
			r.Close()
		}
		for _, f := range ch.inPipes {
			f.Close()
		}
		for _, f := range ch.outPipes {
			f.Close()
		}
	})
}
