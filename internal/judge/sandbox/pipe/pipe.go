// Package pipe implements bounded, non-blocking pipe readers and writers for
// talking to sandboxed children.
package pipe

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"syscall"
	"time"
)

const readChunk = 32 * 1024

// Output is what a Reader collected before the peer closed its end.
type Output struct {
	Bytes     []byte
	Truncated bool
}

// Reader drains one pipe read end until EOF, keeping at most max bytes.
type Reader struct {
	f    *os.File
	max  int
	done chan struct{}
	out  Output
	err  error

	closeOnce sync.Once
}

// NewReader takes ownership of f and starts draining it in the background.
// Bytes past max are discarded and mark the output truncated; reading carries
// on until the writer closes so the writer never stalls on a full pipe.
func NewReader(f *os.File, max int) (*Reader, error) {
	if max < 0 {
		max = 0
	}
	pf, err := NonBlocking(f)
	if err != nil {
		return nil, err
	}
	r := &Reader{f: pf, max: max, done: make(chan struct{})}
	go r.drain()
	return r, nil
}

func (r *Reader) drain() {
	defer close(r.done)
	defer r.f.Close()
	buf := make([]byte, readChunk)
	for {
		n, err := r.f.Read(buf)
		if n > 0 {
			keep := n
			if room := r.max - len(r.out.Bytes); keep > room {
				keep = room
				r.out.Truncated = true
			}
			r.out.Bytes = append(r.out.Bytes, buf[:keep]...)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.err = err
			}
			return
		}
	}
}

// Wait blocks until the peer closes its end or ctx ends.
func (r *Reader) Wait(ctx context.Context) (Output, error) {
	select {
	case <-r.done:
		return r.out, r.err
	case <-ctx.Done():
		return Output{}, ctx.Err()
	}
}

// Done is closed once the reader reached EOF or failed.
func (r *Reader) Done() <-chan struct{} {
	return r.done
}

// Close abandons the read. Pending Wait calls return with whatever was
// collected so far and os.ErrDeadlineExceeded.
func (r *Reader) Close() {
	r.closeOnce.Do(func() {
		_ = r.f.SetReadDeadline(time.Now())
	})
	<-r.done
}

// WriteResult reports how much of the buffer reached the peer.
type WriteResult struct {
	Written           int
	PrematurelyClosed bool
}

// Writer flushes a byte buffer into a pipe write end in the background.
type Writer struct {
	f    *os.File
	data []byte
	done chan struct{}
	res  WriteResult
	err  error

	closeOnce sync.Once
}

// NewWriter takes ownership of f, writes data into it and closes it.
func NewWriter(f *os.File, data []byte) (*Writer, error) {
	pf, err := NonBlocking(f)
	if err != nil {
		return nil, err
	}
	w := &Writer{f: pf, data: data, done: make(chan struct{})}
	go w.flush()
	return w, nil
}

func (w *Writer) flush() {
	defer close(w.done)
	defer w.f.Close()
	n, err := w.f.Write(w.data)
	w.res.Written = n
	if err != nil {
		if errors.Is(err, syscall.EPIPE) {
			w.res.PrematurelyClosed = true
			return
		}
		w.err = err
	}
}

// Wait blocks until the buffer is flushed, the peer went away, or ctx ends.
func (w *Writer) Wait(ctx context.Context) (WriteResult, error) {
	select {
	case <-w.done:
		return w.res, w.err
	case <-ctx.Done():
		return WriteResult{}, ctx.Err()
	}
}

// Close abandons any unflushed data.
func (w *Writer) Close() {
	w.closeOnce.Do(func() {
		_ = w.f.SetWriteDeadline(time.Now())
	})
	<-w.done
}
