package connection

import (
	"math/rand"
	"time"
)

// Default retry timing.
const (
	InitialBackoff    = 1 * time.Second
	MaxBackoff        = 10 * time.Second
	BackoffMultiplier = 2.0

	// JitterFactor is the largest jitter as a fraction of the base delay.
	JitterFactor = 0.25
)

// Backoff walks the waits between the attempts of one retry sequence.
// It is not safe for concurrent use; each sequence takes its own.
type Backoff struct {
	policy  RetryPolicy
	base    time.Duration
	retries int
	rng     *rand.Rand
}

// Backoff starts a new retry sequence for p. Unset timing fields fall back
// to the package defaults and Max is raised to Initial when lower.
func (p RetryPolicy) Backoff() *Backoff {
	p = p.normalized()
	return &Backoff{
		policy: p,
		base:   p.Initial,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.Initial <= 0 {
		p.Initial = InitialBackoff
	}
	if p.Max <= 0 {
		p.Max = MaxBackoff
	}
	if p.Max < p.Initial {
		p.Max = p.Initial
	}
	if p.Multiplier <= 1 {
		p.Multiplier = BackoffMultiplier
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	return p
}

// Next returns the jittered wait before the next attempt. ok is false once
// the policy's MaxAttempts are used up.
func (b *Backoff) Next() (wait time.Duration, ok bool) {
	if b.retries+1 >= b.policy.MaxAttempts {
		return 0, false
	}
	b.retries++
	wait = b.base
	if b.policy.Jitter > 0 {
		wait += time.Duration(float64(wait) * b.policy.Jitter * b.rng.Float64())
	}
	b.base = min(time.Duration(float64(b.base)*b.policy.Multiplier), b.policy.Max)
	return wait, true
}

// Retries is the number of waits handed out so far.
func (b *Backoff) Retries() int {
	return b.retries
}
