package runnerclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"judgerunner/internal/judge/model"
	appErr "judgerunner/pkg/errors"
	"judgerunner/pkg/utils/contextkey"
)

func TestRunDecodesReport(t *testing.T) {
	var gotReq model.ExecutionRequest
	var gotTrace string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != runPath || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		gotTrace = r.Header.Get(traceIDHeader)
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_, _ = w.Write([]byte(`{"code":10000,"message":"Success","data":{"session_id":"s1","tests":{"pass":true,"test_cases":[]},"stderr":"","timed_out":false,"runtime":0.5,"timers":{"run":0.1,"compile":0,"judge":0.4}}}`))
	}))
	defer srv.Close()

	ctx := context.WithValue(context.Background(), contextkey.TraceID, "trace-1")
	report, err := New(srv.URL+"/", time.Second).Run(ctx, model.ExecutionRequest{Language: "python", Code: "1", Judge: "j"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !report.Tests.Pass || report.SessionID != "s1" || report.Timers.Judge != 400*time.Millisecond {
		t.Fatalf("unexpected report: %+v", report)
	}
	if gotReq.Language != "python" || gotTrace != "trace-1" {
		t.Fatalf("unexpected request %+v trace %q", gotReq, gotTrace)
	}
}

func TestRunPropagatesRunnerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"code":13100,"message":"Judge queue is full"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, time.Second).Run(context.Background(), model.ExecutionRequest{})
	if !appErr.Is(err, appErr.JudgeQueueFull) {
		t.Fatalf("expected JudgeQueueFull, got %v", err)
	}
}

func TestRunnerUnavailable(t *testing.T) {
	closed := httptest.NewServer(http.NotFoundHandler())
	addr := closed.URL
	closed.Close()

	garbage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>bad gateway</html>"))
	}))
	defer garbage.Close()

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	cases := []struct {
		name    string
		url     string
		timeout time.Duration
	}{
		{name: "connection refused", url: addr, timeout: time.Second},
		{name: "non-envelope body", url: garbage.URL, timeout: time.Second},
		{name: "timeout", url: slow.URL, timeout: 50 * time.Millisecond},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.url, tc.timeout).Run(context.Background(), model.ExecutionRequest{Language: "python"})
			if !appErr.Is(err, appErr.RunnerUnavailable) {
				t.Fatalf("expected RunnerUnavailable, got %v", err)
			}
		})
	}
}

func TestLanguages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":10000,"message":"Success","data":[{"id":"python","name":"Python","latest_version":"3.12.1","source_file":"main.py"}]}`))
	}))
	defer srv.Close()

	langs, err := New(srv.URL, time.Second).Languages(context.Background())
	if err != nil {
		t.Fatalf("languages: %v", err)
	}
	if len(langs) != 1 || langs[0].ID != "python" || langs[0].LatestVersion != "3.12.1" {
		t.Fatalf("unexpected languages: %+v", langs)
	}
}
