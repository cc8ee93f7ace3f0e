//go:build !linux

package pipe

import "os"

// New creates a pipe.
func New() (r, w *os.File, err error) {
	return os.Pipe()
}

// NonBlocking returns f unchanged.
func NonBlocking(f *os.File) (*os.File, error) {
	return f, nil
}
