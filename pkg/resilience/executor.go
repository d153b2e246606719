package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/mapfeed/mapfeed-indexer/pkg/logger"
	"github.com/mapfeed/mapfeed-indexer/pkg/logger/slogx"
)

const (
	DefaultMaxAttempts      = 3
	DefaultInitialDelay     = 1 * time.Second
	DefaultFailureThreshold = 5
	DefaultResetTimeout     = 30 * time.Second
)

// Config parameterizes one Executor. Zero values fall back to defaults.
type Config struct {
	MaxAttempts      int           `mapstructure:"max_attempts"`
	InitialDelay     time.Duration `mapstructure:"initial_delay"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = DefaultInitialDelay
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = DefaultResetTimeout
	}
	return c
}

// Permanent marks err as non-retryable. The Executor surfaces it immediately
// without consuming further attempts or breaker budget.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Executor applies one uniform retry-and-breaker policy to every call it
// guards: bounded exponential backoff around each operation, all attempts
// gated by a shared circuit breaker.
type Executor struct {
	breaker      *Breaker
	maxAttempts  int
	initialDelay time.Duration
}

func NewExecutor(conf Config) *Executor {
	conf = conf.withDefaults()
	return &Executor{
		breaker:      NewBreaker(conf.FailureThreshold, conf.ResetTimeout),
		maxAttempts:  conf.MaxAttempts,
		initialDelay: conf.InitialDelay,
	}
}

// Breaker exposes the underlying breaker for health reporting.
func (e *Executor) Breaker() *Breaker {
	return e.breaker
}

// Do runs fn under the executor policy. ErrCircuitOpen and errors marked with
// Permanent are surfaced immediately; everything else is retried with
// doubling delays up to the configured attempt budget.
func (e *Executor) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(e.newExponentialBackOff(), uint64(e.maxAttempts-1)),
		ctx,
	)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		if err := e.breaker.Allow(); err != nil {
			// fail fast, no database touch and no retry
			return backoff.Permanent(err)
		}

		err := fn(ctx)
		if err == nil {
			e.breaker.Success()
			return nil
		}

		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			// non-recoverable by policy, does not count against the breaker
			return err
		}

		e.breaker.Failure()
		logger.WarnContext(ctx, "Operation failed, will retry if attempts remain",
			slogx.String("op", op),
			slogx.Int("attempt", attempt),
			slogx.Int("max_attempts", e.maxAttempts),
			slogx.Error(err),
		)
		return err
	}, policy)

	return errors.WithStack(err)
}

func (e *Executor) newExponentialBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.initialDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	return bo
}
