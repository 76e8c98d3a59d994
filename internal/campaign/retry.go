package campaign

import "time"

// RetryPolicy is the per-item redelivery policy: exponential backoff with a
// hard cap on both delay and attempt count.
type RetryPolicy struct {
	Base        time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

func (p *RetryPolicy) normalize() {
	if p.Base <= 0 {
		p.Base = 30 * time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Minute
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
}

// Delay returns the wait before retry number attempt (0-based): base doubled
// per attempt, capped at MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Exhausted reports whether an item that already failed retryCount times is
// out of attempts.
func (p RetryPolicy) Exhausted(retryCount int) bool {
	return retryCount >= p.MaxAttempts
}
