package pipe

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestReaderBounds(t *testing.T) {
	tests := []struct {
		name          string
		input         []byte
		max           int
		wantBytes     []byte
		wantTruncated bool
	}{
		{name: "empty", input: nil, max: 16, wantBytes: nil},
		{name: "under limit", input: []byte("hello"), max: 16, wantBytes: []byte("hello")},
		{name: "at limit", input: []byte("0123456789"), max: 10, wantBytes: []byte("0123456789")},
		{name: "over limit", input: []byte("0123456789abcdef"), max: 10, wantBytes: []byte("0123456789"), wantTruncated: true},
		{name: "much larger than pipe buffer", input: bytes.Repeat([]byte("x"), 512*1024), max: 1024, wantBytes: bytes.Repeat([]byte("x"), 1024), wantTruncated: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, w, err := New()
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			reader, err := NewReader(r, tt.max)
			if err != nil {
				t.Fatalf("NewReader failed: %v", err)
			}
			go func() {
				_, _ = w.Write(tt.input)
				w.Close()
			}()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			out, err := reader.Wait(ctx)
			if err != nil {
				t.Fatalf("Wait failed: %v", err)
			}
			if !bytes.Equal(out.Bytes, tt.wantBytes) {
				t.Fatalf("expected %d bytes, got %d", len(tt.wantBytes), len(out.Bytes))
			}
			if out.Truncated != tt.wantTruncated {
				t.Fatalf("expected truncated=%v, got %v", tt.wantTruncated, out.Truncated)
			}
		})
	}
}

func TestReaderWaitsForWriterClose(t *testing.T) {
	r, w, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	reader, err := NewReader(r, 64)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	if _, err := w.Write([]byte("partial")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := reader.Wait(ctx); err == nil {
		t.Fatalf("expected reader to stay pending while writer is open")
	}

	w.Close()
	out, err := reader.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if string(out.Bytes) != "partial" {
		t.Fatalf("expected partial, got %q", out.Bytes)
	}
}

func TestWriterFlushes(t *testing.T) {
	r, w, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	payload := bytes.Repeat([]byte("judge"), 100*1024)
	reader, err := NewReader(r, len(payload))
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	writer, err := NewWriter(w, payload)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}

	res, err := writer.Wait(context.Background())
	if err != nil {
		t.Fatalf("writer Wait failed: %v", err)
	}
	if res.PrematurelyClosed || res.Written != len(payload) {
		t.Fatalf("unexpected write result: %+v", res)
	}
	out, err := reader.Wait(context.Background())
	if err != nil {
		t.Fatalf("reader Wait failed: %v", err)
	}
	if !bytes.Equal(out.Bytes, payload) || out.Truncated {
		t.Fatalf("payload mismatch: got %d bytes, truncated=%v", len(out.Bytes), out.Truncated)
	}
}

func TestWriterPrematureClose(t *testing.T) {
	r, w, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	r.Close()

	writer, err := NewWriter(w, []byte("nobody is listening"))
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	res, err := writer.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if !res.PrematurelyClosed {
		t.Fatalf("expected premature close, got %+v", res)
	}
}
