package protocol

import (
	"encoding/json"
	"testing"

	appErr "judgerunner/pkg/errors"
)

func TestDecodePrecedence(t *testing.T) {
	tests := []struct {
		name string
		line string
		want string
	}{
		{name: "run request", line: `{"code":"1+1","input":null}`, want: "run"},
		{name: "run request with input", line: `{"code":"print(input())","input":"x"}`, want: "run"},
		{name: "run request without input", line: `{"code":"1"}`, want: "run"},
		{name: "code wins over test case fields", line: `{"code":"1","pass_state":"Pass","result_display":{}}`, want: "run"},
		{name: "code wins over pass", line: `{"code":"1","pass":true}`, want: "run"},
		{name: "test case", line: `{"name":"t1","pass_state":"Fail","result_display":{"expected":"2"}}`, want: "test"},
		{name: "test case wins over pass", line: `{"pass_state":"Info","result_display":"note","pass":false}`, want: "test"},
		{name: "test case null display", line: `{"pass_state":"Warning","result_display":null}`, want: "test"},
		{name: "final verdict", line: `{"pass":true}`, want: "verdict"},
		{name: "bad code type falls through", line: `{"code":5,"pass":false}`, want: "verdict"},
		{name: "unknown pass state falls through", line: `{"pass_state":"Maybe","result_display":1,"pass":true}`, want: "verdict"},
		{name: "extra fields ignored", line: `{"pass":false,"extra":[1,2]}`, want: "verdict"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.line))
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			var got string
			switch msg.(type) {
			case RunRequest:
				got = "run"
			case TestCase:
				got = "test"
			case FinalVerdict:
				got = "verdict"
			}
			if got != tt.want {
				t.Fatalf("expected %s, got %s (%T)", tt.want, got, msg)
			}
		})
	}
}

func TestDecodeRejects(t *testing.T) {
	lines := []string{
		``,
		`not json`,
		`[1,2]`,
		`"string"`,
		`{}`,
		`{"pass_state":"Pass"}`,
		`{"pass":"yes"}`,
		`{"input":"x"}`,
	}
	for _, line := range lines {
		if _, err := Decode([]byte(line)); !appErr.Is(err, appErr.JudgeProtocolError) {
			t.Fatalf("line %q: expected protocol error, got %v", line, err)
		}
	}
}

func TestDecodeFields(t *testing.T) {
	msg, err := Decode([]byte(`{"name":"sum","pass_state":"Pass","result_display":{"diff":[1, 2]}}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	tc := msg.(TestCase)
	if tc.Name == nil || *tc.Name != "sum" || tc.PassState != Pass {
		t.Fatalf("unexpected test case: %+v", tc)
	}
	if string(tc.ResultDisplay) != `{"diff":[1, 2]}` {
		t.Fatalf("result display must pass through untouched, got %s", tc.ResultDisplay)
	}

	msg, err = Decode([]byte(`{"code":"x","input":"stdin data"}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	req := msg.(RunRequest)
	if req.Input == nil || *req.Input != "stdin data" {
		t.Fatalf("unexpected run request: %+v", req)
	}
}

func TestEncodeRunResult(t *testing.T) {
	code := 0
	line, err := EncodeLine(RunResult{Stdout: "2\n", ExitCode: &code, Runtime: 0.5})
	if err != nil {
		t.Fatalf("EncodeLine failed: %v", err)
	}
	if line[len(line)-1] != '\n' {
		t.Fatalf("expected trailing newline")
	}
	var decoded map[string]any
	if err := json.Unmarshal(line, &decoded); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if decoded["signal"] != nil || decoded["exit_code"].(float64) != 0 || decoded["stdout"] != "2\n" {
		t.Fatalf("unexpected encoding: %s", line)
	}
}
