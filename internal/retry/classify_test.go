package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

type statusErr int

func (e statusErr) Error() string   { return "provider error" }
func (e statusErr) HTTPStatus() int { return int(e) }

type timeoutNetErr struct{}

func (timeoutNetErr) Error() string   { return "i/o" }
func (timeoutNetErr) Timeout() bool   { return true }
func (timeoutNetErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"nil", nil, ErrorUnknown},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), ErrorTimeout},
		{"net timeout", timeoutNetErr{}, ErrorTimeout},
		{"timeout text", errors.New("Request Timed Out"), ErrorTimeout},
		{"typed 429", statusErr(429), ErrorRateLimit},
		{"typed 503", statusErr(503), ErrorServer},
		{"typed 404", statusErr(404), ErrorClient},
		{"typed 401", statusErr(401), ErrorAuth},
		{"typed 422", statusErr(422), ErrorValidation},
		{"embedded 429 mixed case", errors.New("Upstream returned STATUS 429"), ErrorRateLimit},
		{"embedded 503", errors.New("http 503 from provider"), ErrorServer},
		{"embedded 400", errors.New("Status Code: 400"), ErrorClient},
		{"embedded 403", errors.New("code=403"), ErrorAuth},
		{"4xx outranks timeout text", errors.New("HTTP 400: invalid timeout parameter"), ErrorClient},
		{"401 outranks timed out text", errors.New("status 401: session timed out"), ErrorAuth},
		{"5xx with timeout text", errors.New("status 500: upstream timed out"), ErrorServer},
		{"wrapped eof", fmt.Errorf("read body: %w", io.EOF), ErrorNetwork},
		{"unexpected eof", fmt.Errorf("decode: %w", io.ErrUnexpectedEOF), ErrorNetwork},
		{"eof inside a word", errors.New("update thereof failed"), ErrorUnknown},
		{"rate limit text", errors.New("Rate limit exceeded for account"), ErrorRateLimit},
		{"auth text", errors.New("Invalid API key supplied"), ErrorAuth},
		{"validation text", errors.New("schema validation failed: keyword required"), ErrorValidation},
		{"server text", errors.New("Bad Gateway"), ErrorServer},
		{"network text", errors.New("dial tcp: connection refused"), ErrorNetwork},
		{"net op error", &net.OpError{Op: "read", Err: errors.New("boom")}, ErrorNetwork},
		{"unrecognized", errors.New("something odd happened"), ErrorUnknown},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, Classify(tt.err))
			require.Equal(t, Classify(tt.err), Classify(tt.err))
		})
	}
}

func TestRetryable(t *testing.T) {
	t.Parallel()

	for _, typ := range []ErrorType{ErrorTimeout, ErrorRateLimit, ErrorServer, ErrorNetwork, ErrorUnknown} {
		require.True(t, typ.Retryable(), typ)
	}
	for _, typ := range []ErrorType{ErrorClient, ErrorAuth, ErrorValidation} {
		require.False(t, typ.Retryable(), typ)
	}
}
