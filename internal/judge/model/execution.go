// Package model defines the runner's request and report types.
package model

import (
	"encoding/json"
	"strings"

	"judgerunner/internal/judge/protocol"
	"judgerunner/internal/judge/stopwatch"
	appErr "judgerunner/pkg/errors"
)

// ExecutionRequest asks for one judged evaluation of candidate code.
type ExecutionRequest struct {
	Language string `json:"language"`
	// Version defaults to the language's latest version when empty.
	Version string `json:"version"`
	Code    string `json:"code"`
	Judge   string `json:"judge"`
}

// Validate checks required fields and the code size limit.
func (r ExecutionRequest) Validate(maxCodeBytes int) error {
	if strings.TrimSpace(r.Language) == "" {
		return appErr.New(appErr.RequiredFieldEmpty).WithMessage("language is required")
	}
	if r.Judge == "" {
		return appErr.New(appErr.RequiredFieldEmpty).WithMessage("judge is required")
	}
	if maxCodeBytes > 0 && len(r.Code) > maxCodeBytes {
		return appErr.New(appErr.CodeTooLarge).
			WithMessagef("code is %d bytes, limit is %d", len(r.Code), maxCodeBytes)
	}
	if maxCodeBytes > 0 && len(r.Judge) > maxCodeBytes {
		return appErr.New(appErr.CodeTooLarge).
			WithMessagef("judge is %d bytes, limit is %d", len(r.Judge), maxCodeBytes)
	}
	return nil
}

// JudgeResult is what the judge reported.
type JudgeResult struct {
	Pass      bool                `json:"pass"`
	TestCases []protocol.TestCase `json:"test_cases"`
}

// MarshalJSON always emits test_cases as an array.
func (r JudgeResult) MarshalJSON() ([]byte, error) {
	type plain JudgeResult
	if r.TestCases == nil {
		r.TestCases = []protocol.TestCase{}
	}
	return json.Marshal(plain(r))
}

// ExecutionReport is the final output of an evaluation.
type ExecutionReport struct {
	// SessionID identifies the session's stored report event.
	SessionID string           `json:"session_id,omitempty"`
	Tests     JudgeResult      `json:"tests"`
	Stderr    string           `json:"stderr"`
	TimedOut  bool             `json:"timed_out"`
	Runtime   float32          `json:"runtime"`
	Timers    stopwatch.Timers `json:"timers"`
}
