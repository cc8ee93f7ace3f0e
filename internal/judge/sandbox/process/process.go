// Package process spawns sandboxed children with an arbitrary set of piped
// file descriptors and observes their exit without blocking callers.
package process

import (
	"fmt"
	"sort"
	"syscall"
	"time"
	"unicode/utf8"

	appErr "judgerunner/pkg/errors"
)

// Well-known descriptor numbers.
const (
	Stdin  = 0
	Stdout = 1
	Stderr = 2
)

// ExitStatus is either a plain exit code or a terminating signal.
type ExitStatus struct {
	Code   *int
	Signal *syscall.Signal
}

// StatusFromCode maps a raw exit code. Codes above 128 are read as the
// shell convention 128+signal when that names a valid signal.
func StatusFromCode(code int) ExitStatus {
	if code > 128 {
		if sig := code - 128; sig >= 1 && sig <= 64 {
			s := syscall.Signal(sig)
			return ExitStatus{Signal: &s}
		}
	}
	return ExitStatus{Code: &code}
}

// StatusFromSignal reports a child killed directly by sig.
func StatusFromSignal(sig syscall.Signal) ExitStatus {
	return ExitStatus{Signal: &sig}
}

// Success reports a zero exit code.
func (s ExitStatus) Success() bool {
	return s.Code != nil && *s.Code == 0
}

func (s ExitStatus) String() string {
	switch {
	case s.Signal != nil:
		return fmt.Sprintf("signal %d", int(*s.Signal))
	case s.Code != nil:
		return fmt.Sprintf("exit code %d", *s.Code)
	default:
		return "unknown"
	}
}

// Result is what a finished child left behind.
type Result struct {
	Status    ExitStatus
	Outputs   map[int]string
	Truncated map[int]bool
	Runtime   time.Duration
}

// Output returns the decoded output captured on fd.
func (r Result) Output(fd int) string {
	return r.Outputs[fd]
}

type fdKind int

const (
	fdInput fdKind = iota
	fdStream
	fdOutput
	fdInputPipe
	fdOutputPipe
)

type fdSpec struct {
	kind fdKind
	data []byte
	max  int
}

// Cmd describes a child to spawn. Descriptors 0-2 default to /dev/null;
// any other descriptor not configured is closed in the child.
type Cmd struct {
	Path string
	Args []string
	Env  []string
	Dir  string
	// NewProcessGroup puts the child in its own group so kills reach
	// everything it forked.
	NewProcessGroup bool

	fds map[int]fdSpec
	err error
}

// Command returns a Cmd running path with args.
func Command(path string, args ...string) *Cmd {
	return &Cmd{
		Path:            path,
		Args:            append([]string{path}, args...),
		NewProcessGroup: true,
		fds:             make(map[int]fdSpec),
	}
}

// Input hands data to the child on fd. The data is written in full before
// the child starts, so it must fit in a pipe buffer.
func (c *Cmd) Input(fd int, data []byte) *Cmd {
	return c.set(fd, fdSpec{kind: fdInput, data: data})
}

// Stream writes data to fd after the child starts.
func (c *Cmd) Stream(fd int, data []byte) *Cmd {
	return c.set(fd, fdSpec{kind: fdStream, data: data})
}

// Output captures up to max bytes written to fd.
func (c *Cmd) Output(fd int, max int) *Cmd {
	return c.set(fd, fdSpec{kind: fdOutput, max: max})
}

// InputPipe leaves the write end of fd to the caller via Child.InputPipe.
func (c *Cmd) InputPipe(fd int) *Cmd {
	return c.set(fd, fdSpec{kind: fdInputPipe})
}

// OutputPipe leaves the read end of fd to the caller via Child.OutputPipe.
func (c *Cmd) OutputPipe(fd int) *Cmd {
	return c.set(fd, fdSpec{kind: fdOutputPipe})
}

func (c *Cmd) set(fd int, s fdSpec) *Cmd {
	if c.err != nil {
		return c
	}
	if fd < 0 {
		c.err = fmt.Errorf("invalid fd %d", fd)
		return c
	}
	if _, ok := c.fds[fd]; ok {
		c.err = fmt.Errorf("fd %d configured twice", fd)
		return c
	}
	c.fds[fd] = s
	return c
}

func (c *Cmd) sortedFds() []int {
	fds := make([]int, 0, len(c.fds))
	for fd := range c.fds {
		fds = append(fds, fd)
	}
	sort.Ints(fds)
	return fds
}

// DecodeOutput converts bytes captured on fd to a string. A rune cut in half
// by truncation is dropped; any other invalid UTF-8 is an error.
func DecodeOutput(fd int, b []byte, truncated bool) (string, error) {
	if truncated {
		b = trimPartialRune(b)
	}
	if !utf8.Valid(b) {
		return "", appErr.New(appErr.OutputEncodingError).
			WithMessagef("output on fd %d is not valid UTF-8", fd).
			WithDetail("fd", fd)
	}
	return string(b), nil
}

// trimPartialRune drops a multi-byte sequence cut short by truncation.
func trimPartialRune(b []byte) []byte {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if !utf8.FullRune(b[i:]) {
				return b[:i]
			}
			break
		}
	}
	return b
}
