//go:build linux

package pipe

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// New creates a close-on-exec pipe. Both ends are blocking until handed to
// NewReader or NewWriter, so the end given to a child stays blocking.
func New() (r, w *os.File, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		return nil, nil, fmt.Errorf("create pipe: %w", err)
	}
	return os.NewFile(uintptr(fds[0]), "|0"), os.NewFile(uintptr(fds[1]), "|1"), nil
}

// NonBlocking re-opens f as a non-blocking descriptor owned by the runtime
// poller and closes the original.
func NonBlocking(f *os.File) (*os.File, error) {
	defer f.Close()
	fd, err := unix.FcntlInt(f.Fd(), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("dup pipe fd: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("set pipe non-blocking: %w", err)
	}
	return os.NewFile(uintptr(fd), f.Name()), nil
}
