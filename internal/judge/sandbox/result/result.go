// Package result defines sandbox execution results.
package result

import (
	"time"

	"judgerunner/internal/judge/sandbox/process"
)

// RunResult captures one finished sandboxed launch.
type RunResult struct {
	Status          process.ExitStatus
	Stdout          string
	Stderr          string
	StdoutTruncated bool
	StderrTruncated bool
	Runtime         time.Duration
}

// DriverOutput is what a judge driver left on stderr.
type DriverOutput struct {
	Stderr    string
	Truncated bool
	Status    process.ExitStatus
}
