package connection

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var errNoAttempts = errors.New("retry policy: MaxAttempts must be > 0")

// RetryPolicy bounds how often and how fast an operation is retried.
// It is passed by value into the components that retry; nothing wraps
// calls implicitly.
type RetryPolicy struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Initial     time.Duration `yaml:"initial"`
	Max         time.Duration `yaml:"max"`
	Multiplier  float64       `yaml:"multiplier"`
	Jitter      float64       `yaml:"jitter"`
}

// DefaultRetryPolicy returns five attempts with 1s..10s exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		Initial:     InitialBackoff,
		Max:         MaxBackoff,
		Multiplier:  BackoffMultiplier,
		Jitter:      JitterFactor,
	}
}

// Validate reports configuration errors.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts <= 0 {
		return errNoAttempts
	}
	if p.Initial < 0 || p.Max < 0 {
		return fmt.Errorf("retry policy: negative delay")
	}
	return nil
}

// Delay returns the base delay (without jitter) before the given retry.
// attempt is 1-based: Delay(1) is the wait after the first failure.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	p = p.normalized()
	d := p.Initial
	for i := 1; i < attempt; i++ {
		d = min(time.Duration(float64(d)*p.Multiplier), p.Max)
	}
	return d
}

// Do calls fn up to MaxAttempts times, sleeping the backoff delay between
// attempts. It stops early when ctx is done or when retryable reports false
// for the returned error. A nil retryable retries every error.
// The attempt number passed to fn starts at 1.
func (p RetryPolicy) Do(ctx context.Context, retryable func(error) bool, fn func(attempt int) error) error {
	if p.MaxAttempts <= 0 {
		return errNoAttempts
	}

	b := p.Backoff()
	for {
		err := fn(b.Retries() + 1)
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		wait, ok := b.Next()
		if !ok {
			return err
		}
		if serr := Sleep(ctx, wait); serr != nil {
			return serr
		}
	}
}

// Sleep waits for d or until ctx is done, whichever comes first.
// It returns ctx.Err() if the context ended the wait.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	}
}
