// Package protocol defines the newline-delimited JSON messages exchanged with
// a judge driver.
//
// Driver lines carry no discriminant. Decode tries RunRequest, then TestCase,
// then FinalVerdict, and takes the first shape whose required fields are
// present with the right types. Unknown fields are ignored.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	appErr "judgerunner/pkg/errors"
)

// PassState classifies a single test case.
type PassState string

const (
	Pass    PassState = "Pass"
	Fail    PassState = "Fail"
	Info    PassState = "Info"
	Warning PassState = "Warning"
)

// Valid reports whether p is one of the known states.
func (p PassState) Valid() bool {
	switch p {
	case Pass, Fail, Info, Warning:
		return true
	}
	return false
}

// Message is one decoded driver line.
type Message interface {
	message()
}

// RunRequest asks the runner to execute candidate code once.
type RunRequest struct {
	Code  string  `json:"code"`
	Input *string `json:"input"`
}

// TestCase is one entry of the judge's result list. ResultDisplay is passed
// through untouched.
type TestCase struct {
	Name          *string         `json:"name,omitempty"`
	PassState     PassState       `json:"pass_state"`
	ResultDisplay json.RawMessage `json:"result_display"`
}

// FinalVerdict carries the overall outcome.
type FinalVerdict struct {
	Pass bool `json:"pass"`
}

func (RunRequest) message()   {}
func (TestCase) message()     {}
func (FinalVerdict) message() {}

// Decode parses one driver line.
func Decode(line []byte) (Message, error) {
	line = bytes.TrimSpace(line)
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil || fields == nil {
		return nil, protocolError(line, "line is not a JSON object")
	}
	if msg, ok := decodeRunRequest(fields); ok {
		return msg, nil
	}
	if msg, ok := decodeTestCase(fields); ok {
		return msg, nil
	}
	if msg, ok := decodeFinalVerdict(fields); ok {
		return msg, nil
	}
	return nil, protocolError(line, "line matches no known message")
}

func decodeRunRequest(fields map[string]json.RawMessage) (RunRequest, bool) {
	var req RunRequest
	raw, ok := fields["code"]
	if !ok || !decodeString(raw, &req.Code) {
		return req, false
	}
	if raw, ok := fields["input"]; ok && !isNull(raw) {
		var input string
		if !decodeString(raw, &input) {
			return req, false
		}
		req.Input = &input
	}
	return req, true
}

func decodeTestCase(fields map[string]json.RawMessage) (TestCase, bool) {
	var tc TestCase
	raw, ok := fields["pass_state"]
	if !ok {
		return tc, false
	}
	var state string
	if !decodeString(raw, &state) || !PassState(state).Valid() {
		return tc, false
	}
	tc.PassState = PassState(state)
	display, ok := fields["result_display"]
	if !ok {
		return tc, false
	}
	tc.ResultDisplay = append(json.RawMessage(nil), display...)
	if raw, ok := fields["name"]; ok && !isNull(raw) {
		var name string
		if !decodeString(raw, &name) {
			return tc, false
		}
		tc.Name = &name
	}
	return tc, true
}

func decodeFinalVerdict(fields map[string]json.RawMessage) (FinalVerdict, bool) {
	var v FinalVerdict
	raw, ok := fields["pass"]
	if !ok || isNull(raw) {
		return v, false
	}
	if err := json.Unmarshal(raw, &v.Pass); err != nil {
		return v, false
	}
	return v, true
}

func decodeString(raw json.RawMessage, dst *string) bool {
	if isNull(raw) {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func protocolError(line []byte, reason string) error {
	const preview = 200
	shown := line
	if len(shown) > preview {
		shown = shown[:preview]
	}
	return appErr.New(appErr.JudgeProtocolError).
		WithMessage(reason).
		WithDetail("line", string(shown))
}

// RunResult answers a RunRequest.
type RunResult struct {
	Stdout          string  `json:"stdout"`
	Stderr          string  `json:"stderr"`
	ExitCode        *int    `json:"exit_code"`
	Signal          *int    `json:"signal"`
	StdoutTruncated bool    `json:"stdout_truncated"`
	StderrTruncated bool    `json:"stderr_truncated"`
	CompileFailed   bool    `json:"compile_failed"`
	Runtime         float64 `json:"runtime"`
}

// PayloadPath is where the driver payload is materialised inside the
// sandbox. The driver receives this path as its last argument.
const PayloadPath = "/tmp/judge-payload.json"

// DriverPayload is the JSON document a judge driver starts with.
type DriverPayload struct {
	Language string `json:"language"`
	Code     string `json:"code"`
	Judge    string `json:"judge"`
}

// EncodeLine marshals v followed by a newline.
func EncodeLine(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode protocol line: %w", err)
	}
	return append(data, '\n'), nil
}
