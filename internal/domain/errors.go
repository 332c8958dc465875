package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the domain layer.
var (
	// ErrTransport covers connection refused, DNS failure, and per-attempt
	// timeouts. Always retryable up to the policy limit.
	ErrTransport = fmt.Errorf("transport failure")
	// ErrServer covers retryable 5xx responses from the API.
	ErrServer          = fmt.Errorf("server error")
	ErrRateLimit       = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid     = fmt.Errorf("authentication failed")
	ErrContextOverflow = fmt.Errorf("context window exceeded")
	// ErrDecode marks a malformed SSE data line. Non-fatal: it is surfaced
	// inline as an EventError and the stream continues.
	ErrDecode = fmt.Errorf("stream decode failed")
	// ErrStreamAborted marks a stream that closed without a Done event and
	// without producing any delta.
	ErrStreamAborted = fmt.Errorf("stream aborted")
	ErrCancelled     = fmt.Errorf("dispatch cancelled")
	ErrInvalidInput  = fmt.Errorf("invalid input")
	ErrBatchFailed   = fmt.Errorf("batch job failed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Client.Chat")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryableError reports whether err is a transient error that may succeed
// on retry: transport failures, 5xx responses, and rate limits.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrServer) || errors.Is(err, ErrRateLimit)
}

// ErrorFromStatus maps an HTTP status code plus response body excerpt to a
// domain error, so retry policy and circuit breaking can classify API
// failures with errors.Is.
func ErrorFromStatus(statusCode int, body []byte) error {
	detail := fmt.Sprintf("API error %d: %s", statusCode, body)

	switch {
	case statusCode == 429:
		return fmt.Errorf("%w: %s", ErrRateLimit, detail)
	case statusCode == 401 || statusCode == 403:
		return fmt.Errorf("%w: %s", ErrAuthInvalid, detail)
	case statusCode == 413:
		return fmt.Errorf("%w: %s", ErrContextOverflow, detail)
	case statusCode >= 500:
		return fmt.Errorf("%w: %s", ErrServer, detail)
	default:
		return fmt.Errorf("%s", detail)
	}
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

// Error codes. Every sentinel error maps to exactly one code.
const (
	CodeUnknown         ErrorCode = "UNKNOWN"
	CodeTransport       ErrorCode = "TRANSPORT"
	CodeServer          ErrorCode = "SERVER_ERROR"
	CodeRateLimit       ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid     ErrorCode = "AUTH_INVALID"
	CodeContextOverflow ErrorCode = "CONTEXT_OVERFLOW"
	CodeDecode          ErrorCode = "DECODE"
	CodeStreamAborted   ErrorCode = "STREAM_ABORTED"
	CodeCancelled       ErrorCode = "CANCELLED"
	CodeInvalidInput    ErrorCode = "INVALID_INPUT"
	CodeBatchFailed     ErrorCode = "BATCH_FAILED"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrTransport:       CodeTransport,
	ErrServer:          CodeServer,
	ErrRateLimit:       CodeRateLimit,
	ErrAuthInvalid:     CodeAuthInvalid,
	ErrContextOverflow: CodeContextOverflow,
	ErrDecode:          CodeDecode,
	ErrStreamAborted:   CodeStreamAborted,
	ErrCancelled:       CodeCancelled,
	ErrInvalidInput:    CodeInvalidInput,
	ErrBatchFailed:     CodeBatchFailed,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	// Fast path: direct sentinel lookup.
	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}

	// Walk the error chain with errors.Is.
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}
