package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Attempt describes a failed attempt that is about to be retried.
type Attempt struct {
	Name string
	// Number is the 1-based attempt that just failed.
	Number    int
	ErrorType ErrorType
	Delay     time.Duration
	Err       error
}

// Hinter is implemented by errors that carry an explicit server-side retry
// delay, e.g. a Retry-After header on a 429 response.
type Hinter interface {
	RetryAfter() (time.Duration, bool)
}

// Error is returned when an operation gives up.
type Error struct {
	Name     string
	Attempts int
	Type     ErrorType
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s) [%s]: %v", e.Name, e.Attempts, e.Type, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Option customizes a single Do call.
type Option func(*options)

type options struct {
	onRetry func(context.Context, Attempt)
	sleep   func(context.Context, time.Duration) error
	logger  *zap.Logger
}

// WithOnRetry registers a callback invoked before each backoff sleep.
func WithOnRetry(fn func(context.Context, Attempt)) Option {
	return func(o *options) {
		prev := o.onRetry
		if prev == nil {
			o.onRetry = fn
			return
		}
		o.onRetry = func(ctx context.Context, a Attempt) {
			prev(ctx, a)
			fn(ctx, a)
		}
	}
}

// WithLogger logs each retry decision.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithSleep replaces the context-aware sleep, mostly for tests.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(o *options) {
		o.sleep = fn
	}
}

// Do runs action until it succeeds, fails with a terminal error, or the policy
// runs out of attempts.
func Do[T any](
	ctx context.Context,
	policy Policy,
	name string,
	action func(ctx context.Context) (T, error),
	opts ...Option,
) (T, error) {
	var zero T
	if err := policy.Validate(); err != nil {
		return zero, err
	}
	o := options{sleep: sleepContext, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	var lastErr error
	var lastType ErrorType
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		result, err := action(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		lastType = Classify(err)

		if ctx.Err() != nil {
			return zero, &Error{Name: name, Attempts: attempt + 1, Type: lastType, Err: errors.Join(err, ctx.Err())}
		}
		if !lastType.Retryable() {
			o.logger.Debug("terminal failure",
				zap.String("operation", name),
				zap.Int("attempt", attempt+1),
				zap.String("error_type", string(lastType)),
				zap.Error(err),
			)
			return zero, &Error{Name: name, Attempts: attempt + 1, Type: lastType, Err: err}
		}
		if attempt == policy.MaxAttempts-1 {
			break
		}

		delay := delayFor(policy, attempt, err)
		o.logger.Warn("retrying operation",
			zap.String("operation", name),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", policy.MaxAttempts),
			zap.String("error_type", string(lastType)),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if o.onRetry != nil {
			o.onRetry(ctx, Attempt{Name: name, Number: attempt + 1, ErrorType: lastType, Delay: delay, Err: err})
		}
		if err := o.sleep(ctx, delay); err != nil {
			return zero, &Error{Name: name, Attempts: attempt + 1, Type: lastType, Err: errors.Join(lastErr, err)}
		}
	}
	return zero, &Error{Name: name, Attempts: policy.MaxAttempts, Type: lastType, Err: lastErr}
}

func delayFor(policy Policy, attempt int, err error) time.Duration {
	var hinter Hinter
	if errors.As(err, &hinter) {
		if hint, ok := hinter.RetryAfter(); ok && hint > 0 {
			return hint
		}
	}
	return policy.Backoff(attempt)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
