package errors

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	MaxAttempts  int           // total attempts including the first
	InitialDelay time.Duration // delay before the second attempt
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64 // 0-1
	// Retryable decides whether a failure should be tried again. Nil means
	// IsRetryable.
	Retryable func(err error) bool
}

// DefaultRetryConfig returns sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.2,
	}
}

// Retrier runs operations with bounded attempts and exponential backoff.
type Retrier struct {
	config RetryConfig

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRetrier creates a new retrier.
func NewRetrier(config RetryConfig) *Retrier {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.Multiplier < 1 {
		config.Multiplier = 1
	}
	if config.Retryable == nil {
		config.Retryable = IsRetryable
	}
	return &Retrier{
		config: config,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NewDefaultRetrier creates a retrier with default configuration.
func NewDefaultRetrier() *Retrier {
	return NewRetrier(DefaultRetryConfig())
}

// RetryFunc is a function that can be retried.
type RetryFunc func(ctx context.Context, attempt int) error

// RetryResult holds the result of a retry operation.
type RetryResult struct {
	Attempts  int
	LastError error
	Duration  time.Duration
	Success   bool
}

// Do executes fn until it succeeds, the predicate rejects the failure, the
// attempts run out or ctx is done. attempt starts at 1.
func (r *Retrier) Do(ctx context.Context, operation, url string, fn RetryFunc) *RetryResult {
	result := &RetryResult{}
	start := time.Now()
	delay := r.config.InitialDelay

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		result.Attempts = attempt

		err := fn(ctx, attempt)
		if err == nil {
			result.Success = true
			result.LastError = nil
			result.Duration = time.Since(start)
			return result
		}
		result.LastError = err

		if ctx.Err() != nil {
			result.LastError = NewCancelledError(url, operation)
			break
		}
		if attempt == r.config.MaxAttempts || !r.config.Retryable(err) {
			break
		}

		if delay > 0 {
			timer := time.NewTimer(r.jitter(delay))
			select {
			case <-ctx.Done():
				timer.Stop()
				result.LastError = NewCancelledError(url, operation)
				result.Duration = time.Since(start)
				return result
			case <-timer.C:
			}
		}
		delay = r.nextDelay(delay)
	}

	result.Duration = time.Since(start)
	return result
}

func (r *Retrier) jitter(base time.Duration) time.Duration {
	if r.config.Jitter <= 0 {
		return base
	}
	r.mu.Lock()
	f := r.rng.Float64()
	r.mu.Unlock()

	j := r.config.Jitter * float64(base)
	return time.Duration(float64(base) + f*2*j - j)
}

func (r *Retrier) nextDelay(current time.Duration) time.Duration {
	next := time.Duration(float64(current) * r.config.Multiplier)
	if r.config.MaxDelay > 0 && next > r.config.MaxDelay {
		return r.config.MaxDelay
	}
	return next
}

// DoWithResult executes a function that returns a value and error.
func DoWithResult[T any](ctx context.Context, r *Retrier, operation, url string, fn func(ctx context.Context, attempt int) (T, error)) (T, *RetryResult) {
	var result T
	res := r.Do(ctx, operation, url, func(ctx context.Context, attempt int) error {
		v, err := fn(ctx, attempt)
		if err == nil {
			result = v
		}
		return err
	})
	return result, res
}
