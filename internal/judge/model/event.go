package model

// ReportEvent is published after every session, finished or aborted.
type ReportEvent struct {
	SessionID    string  `json:"session_id"`
	Language     string  `json:"language"`
	Version      string  `json:"version"`
	State        string  `json:"state"`
	Pass         bool    `json:"pass"`
	TimedOut     bool    `json:"timed_out"`
	TestCases    int     `json:"test_cases"`
	Runtime      float32 `json:"runtime"`
	ErrorCode    int     `json:"error_code,omitempty"`
	ErrorMessage string  `json:"error_message,omitempty"`
	FinishedAt   int64   `json:"finished_at"`
}
