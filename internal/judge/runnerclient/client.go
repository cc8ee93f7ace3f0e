// Package runnerclient calls a remote judge runner over HTTP.
package runnerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"judgerunner/internal/judge/model"
	"judgerunner/internal/judge/sandbox/profile"
	appErr "judgerunner/pkg/errors"
	"judgerunner/pkg/utils/contextkey"
)

const (
	runPath       = "/api/v1/judge/run"
	languagesPath = "/api/v1/judge/languages"

	traceIDHeader = "X-Trace-Id"
)

// Client calls a judge runner.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
}

// New creates a client. timeout bounds each call, including the judge
// session itself, so it should exceed the runner's total phase budget.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		http:    &http.Client{},
	}
}

type envelope struct {
	Code    appErr.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Data    json.RawMessage  `json:"data"`
}

// Run executes a request remotely. Failing to reach the runner is reported
// as RunnerUnavailable, never as a failed test.
func (c *Client) Run(ctx context.Context, req model.ExecutionRequest) (model.ExecutionReport, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return model.ExecutionReport{}, fmt.Errorf("marshal request failed: %w", err)
	}
	var report model.ExecutionReport
	if err := c.do(ctx, http.MethodPost, runPath, body, &report); err != nil {
		return model.ExecutionReport{}, err
	}
	return report, nil
}

// Languages lists the runner's catalogue.
func (c *Client) Languages(ctx context.Context) ([]profile.LanguageSpec, error) {
	var langs []profile.LanguageSpec
	if err := c.do(ctx, http.MethodGet, languagesPath, nil, &langs); err != nil {
		return nil, err
	}
	return langs, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if traceID, ok := ctx.Value(contextkey.TraceID).(string); ok && traceID != "" {
		req.Header.Set(traceIDHeader, traceID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return appErr.Wrapf(err, appErr.RunnerUnavailable, "runner request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return appErr.Wrapf(err, appErr.RunnerUnavailable, "read runner response failed")
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return appErr.New(appErr.RunnerUnavailable).
			WithMessagef("runner returned status %d with undecodable body", resp.StatusCode)
	}
	if env.Code != appErr.Success {
		return appErr.New(env.Code).WithMessage(env.Message).WithDetail("http_status", resp.StatusCode)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return appErr.Wrapf(err, appErr.RunnerUnavailable, "decode runner payload failed")
	}
	return nil
}
