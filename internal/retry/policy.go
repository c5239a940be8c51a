// Package retry runs operations with bounded exponential backoff and classifies
// failures into retryable and terminal categories.
package retry

import (
	"errors"
	"math"
	"time"
)

// Policy shapes the backoff curve. It is a value type; copies never alias.
type Policy struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	BackoffMultiplier float64
	MaxDelay          time.Duration
}

// DefaultPolicy is used for provider calls when nothing is configured.
var DefaultPolicy = Policy{
	MaxAttempts:       3,
	InitialDelay:      time.Second,
	BackoffMultiplier: 2,
	MaxDelay:          30 * time.Second,
}

// Validate rejects policies that cannot produce a sane schedule.
func (p Policy) Validate() error {
	switch {
	case p.MaxAttempts < 1:
		return errors.New("retry: max attempts must be >= 1")
	case p.InitialDelay < 0:
		return errors.New("retry: initial delay must be >= 0")
	case p.MaxDelay < 0:
		return errors.New("retry: max delay must be >= 0")
	case p.BackoffMultiplier < 1:
		return errors.New("retry: backoff multiplier must be >= 1")
	}
	return nil
}

// Backoff returns the wait before retrying after the given zero-based attempt:
// min(InitialDelay * BackoffMultiplier^attempt, MaxDelay).
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(p.InitialDelay) * math.Pow(p.BackoffMultiplier, float64(attempt))
	if p.MaxDelay > 0 && (delay > float64(p.MaxDelay) || math.IsInf(delay, 0) || math.IsNaN(delay)) {
		return p.MaxDelay
	}
	if delay > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}
