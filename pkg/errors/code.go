package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 13000-13099: Execution request errors
// 13100-13199: Sandbox & toolchain errors
// 13200-13299: Judge protocol errors
// 13300-13399: Runner transport errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200
	LockFailed ErrorCode = 10203

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	RequiredFieldEmpty ErrorCode = 10303

	// ========== Execution Request Errors (13000-13099) ==========

	CodeTooLarge         ErrorCode = 13002
	LanguageNotSupported ErrorCode = 13003

	// ========== Sandbox & Toolchain Errors (13100-13199) ==========

	JudgeQueueFull         ErrorCode = 13100
	JudgeSystemError       ErrorCode = 13101
	ToolchainInstallFailed ErrorCode = 13110
	SandboxSpawnFailed     ErrorCode = 13111
	OutputEncodingError    ErrorCode = 13112

	// ========== Judge Protocol Errors (13200-13299) ==========

	JudgeProtocolError ErrorCode = 13200
	TooManyTestCases   ErrorCode = 13201

	// ========== Runner Transport Errors (13300-13399) ==========

	RunnerUnavailable ErrorCode = 13300
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	// Cache
	CacheError: "Cache operation failed",
	LockFailed: "Failed to acquire lock",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	RequiredFieldEmpty: "Required field is empty",

	// Execution request
	CodeTooLarge:         "Code is too large",
	LanguageNotSupported: "Programming language not supported",

	// Sandbox & toolchain
	JudgeQueueFull:         "Judge queue is full, please try again later",
	JudgeSystemError:       "Judge system error",
	ToolchainInstallFailed: "Toolchain installation failed",
	SandboxSpawnFailed:     "Failed to start sandboxed process",
	OutputEncodingError:    "Process output is not valid UTF-8",

	// Judge protocol
	JudgeProtocolError: "Judge sent a malformed message",
	TooManyTestCases:   "Judge produced too many test cases",

	// Runner transport
	RunnerUnavailable: "Runner unavailable",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == NotFound:
		return 404
	case c == LanguageNotSupported, c == CodeTooLarge:
		return 400
	case c == TooManyRequests, c == JudgeQueueFull:
		return 429
	case c == ServiceUnavailable, c == RunnerUnavailable:
		return 503
	case c == Timeout:
		return 504
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams:
		return 400
	case c >= 13200 && c < 13300: // Judge misbehaved
		return 422
	default:
		return 500
	}
}
