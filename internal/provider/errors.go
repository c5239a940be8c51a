package provider

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// StatusOK is the provider's success code for envelopes and tasks.
const StatusOK = 20000

// Error is a failed provider call. StatusCode is the HTTP status of the
// response or, for envelope failures, the HTTP equivalent of ProviderCode.
type Error struct {
	Endpoint     string
	StatusCode   int
	ProviderCode int
	Message      string
	retryAfter   time.Duration
}

func (e *Error) Error() string {
	if e.ProviderCode != 0 {
		return fmt.Sprintf("provider %s: status %d (code %d): %s", e.Endpoint, e.StatusCode, e.ProviderCode, e.Message)
	}
	return fmt.Sprintf("provider %s: status %d: %s", e.Endpoint, e.StatusCode, e.Message)
}

// HTTPStatus lets the retry classifier read the status without parsing.
func (e *Error) HTTPStatus() int {
	return e.StatusCode
}

// RetryAfter returns the server-supplied delay, if any.
func (e *Error) RetryAfter() (time.Duration, bool) {
	return e.retryAfter, e.retryAfter > 0
}

// httpStatusForCode maps a five-digit provider code to an HTTP status.
// 40202 is the provider's rate-limit code and 405xx codes reject the payload.
func httpStatusForCode(code int) int {
	switch {
	case code == StatusOK:
		return http.StatusOK
	case code == 40202 || code == 40209:
		return http.StatusTooManyRequests
	case code/100 == 405:
		return http.StatusUnprocessableEntity
	case code >= 10000 && code <= 99999:
		return code / 100
	default:
		return http.StatusBadGateway
	}
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
