// Package engine launches commands inside a bubblewrap-style sandbox.
package engine

import (
	"context"
	"io"

	"judgerunner/internal/judge/sandbox/result"
	"judgerunner/internal/judge/sandbox/spec"
)

// Engine executes a RunSpec inside an isolated sandbox.
type Engine interface {
	// Run executes one launch to completion.
	Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error)
	// StartDriver launches a long-lived judge driver with piped stdio. The
	// driver is killed when ctx ends.
	StartDriver(ctx context.Context, runSpec spec.RunSpec) (Driver, error)
}

// Driver is a running judge driver.
type Driver interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader
	// Finish closes stdio, gives the driver a short grace period to exit,
	// kills it if needed and returns its stderr.
	Finish(ctx context.Context) (result.DriverOutput, error)
}
