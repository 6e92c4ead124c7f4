// Package retry absorbs transient failures by re-executing a whole
// operation, bounded by an attempt budget.
//
// The wrapped operation must be safe to run again from scratch: the policy
// never resumes partial work, it only re-invokes the operation.
package retry

import (
	"context"
	"time"

	goretry "github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// Policy is a plain configuration value. The zero value tries once.
type Policy struct {
	// MaxRetries is the number of re-executions after the first try.
	MaxRetries int
	// Delay is the pause before each re-execution.
	Delay time.Duration
	// Transient reports whether a failure should be retried. A nil
	// classifier treats every failure as transient; call sites narrow it.
	Transient func(error) bool
}

// Attempts is the total number of tries the policy allows.
func (p Policy) Attempts() int {
	if p.MaxRetries < 0 {
		return 1
	}
	return p.MaxRetries + 1
}

func (p Policy) transient(err error) bool {
	if p.Transient == nil {
		return true
	}
	return p.Transient(err)
}

// Func is an operation already closed over its arguments.
type Func[T any] func(ctx context.Context) (T, error)

// Retry describes one re-execution about to happen.
type Retry struct {
	Name string
	// Attempt is the 1-based number of the try that just failed.
	Attempt int
	Err     error
}

type settings struct {
	name     string
	logger   *zap.Logger
	observer func(Retry)
}

// Option customizes one Do or Wrap call.
type Option func(*settings)

// WithName labels the operation in logs.
func WithName(name string) Option {
	return func(s *settings) { s.name = name }
}

// WithLogger sets the logger that records every retry.
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithObserver registers fn to be called before each re-execution.
func WithObserver(fn func(Retry)) Option {
	return func(s *settings) { s.observer = fn }
}

// Do executes op under the policy. It returns the first success. A failure
// the policy does not consider transient is returned at once without using
// the budget; once the budget is exhausted the last transient failure is
// returned unchanged. Cancelling ctx interrupts the delay between tries.
func Do[T any](ctx context.Context, p Policy, op Func[T], opts ...Option) (T, error) {
	s := settings{name: "operation", logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&s)
	}

	maxRetries := p.Attempts() - 1
	delay := p.Delay
	if delay < 0 {
		delay = 0
	}
	backoff := goretry.WithMaxRetries(uint64(maxRetries), goretry.BackoffFunc(func() (time.Duration, bool) {
		return delay, false
	}))

	attempt := 0
	return goretry.DoValue(ctx, backoff, func(ctx context.Context) (T, error) {
		attempt++
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if !p.transient(err) {
			return v, err
		}
		if attempt > maxRetries {
			s.logger.Error("All attempts failed.",
				zap.String("operation", s.name),
				zap.Int("attempts", attempt),
				zap.Error(err))
			return v, goretry.RetryableError(err)
		}
		s.logger.Warn("Attempt failed, retrying.",
			zap.String("operation", s.name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxRetries+1),
			zap.Duration("delay", delay),
			zap.Error(err))
		if s.observer != nil {
			s.observer(Retry{Name: s.name, Attempt: attempt, Err: err})
		}
		return v, goretry.RetryableError(err)
	})
}

// Wrap returns op guarded by the policy, so it can be handed around and
// invoked later like the original.
func Wrap[T any](p Policy, op Func[T], opts ...Option) Func[T] {
	return func(ctx context.Context) (T, error) {
		return Do(ctx, p, op, opts...)
	}
}

// Run is Do for operations without a result.
func Run(ctx context.Context, p Policy, op func(ctx context.Context) error, opts ...Option) error {
	_, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, opts...)
	return err
}
