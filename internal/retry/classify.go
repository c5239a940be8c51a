package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
)

// ErrorType is the failure taxonomy used to decide whether to retry.
type ErrorType string

// Failure categories.
const (
	ErrorTimeout    ErrorType = "timeout"
	ErrorRateLimit  ErrorType = "rate_limit"
	ErrorServer     ErrorType = "server_error"
	ErrorClient     ErrorType = "client_error"
	ErrorAuth       ErrorType = "auth_error"
	ErrorValidation ErrorType = "validation_error"
	ErrorNetwork    ErrorType = "network_error"
	ErrorUnknown    ErrorType = "unknown"
)

// Retryable reports whether a failure of this type may succeed on retry.
// Unknown failures are retried.
func (t ErrorType) Retryable() bool {
	switch t {
	case ErrorClient, ErrorAuth, ErrorValidation:
		return false
	default:
		return true
	}
}

// StatusCoder is implemented by errors that carry an HTTP status code.
type StatusCoder interface {
	HTTPStatus() int
}

var statusPattern = regexp.MustCompile(`(?i)\b(?:http|status(?:[ _]?code)?|code|error)\b[\s:=#/-]*([1-5]\d{2})\b`)

var messagePatterns = []struct {
	kind    ErrorType
	needles []string
}{
	{ErrorTimeout, []string{"timeout", "timed out", "deadline exceeded", "etimedout"}},
	{ErrorRateLimit, []string{"rate limit", "rate-limit", "ratelimit", "too many requests", "quota exceeded"}},
	{ErrorAuth, []string{"unauthorized", "unauthorised", "forbidden", "invalid api key", "authentication", "permission denied"}},
	{ErrorValidation, []string{"validation", "invalid input", "invalid parameter", "schema", "unprocessable"}},
	{ErrorServer, []string{"internal server error", "bad gateway", "service unavailable", "server error"}},
	{ErrorNetwork, []string{
		"econnreset", "econnrefused", "enotfound", "connection refused", "connection reset",
		"no such host", "network", "socket hang up", "broken pipe", "unexpected eof",
	}},
	{ErrorClient, []string{"bad request", "not found", "method not allowed", "payment required"}},
}

// Classify maps an error onto the failure taxonomy. It is a pure function of
// the error's type and message.
func Classify(err error) ErrorType {
	if err == nil {
		return ErrorUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorTimeout
	}
	var coder StatusCoder
	if errors.As(err, &coder) {
		if t, ok := classifyStatus(coder.HTTPStatus()); ok {
			return t
		}
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrorNetwork
	}

	// An embedded status code outranks message keywords.
	msg := strings.ToLower(err.Error())
	if m := statusPattern.FindStringSubmatch(msg); m != nil {
		code, convErr := strconv.Atoi(m[1])
		if convErr == nil {
			if t, ok := classifyStatus(code); ok {
				return t
			}
		}
	}
	for _, p := range messagePatterns {
		for _, needle := range p.needles {
			if strings.Contains(msg, needle) {
				return p.kind
			}
		}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrorNetwork
	}
	return ErrorUnknown
}

func classifyStatus(code int) (ErrorType, bool) {
	switch {
	case code == http.StatusTooManyRequests:
		return ErrorRateLimit, true
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return ErrorTimeout, true
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrorAuth, true
	case code == http.StatusUnprocessableEntity:
		return ErrorValidation, true
	case code >= 400 && code < 500:
		return ErrorClient, true
	case code >= 500 && code < 600:
		return ErrorServer, true
	default:
		return "", false
	}
}
