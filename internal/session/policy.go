package session

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// minReconnectDelay floors every reconnect delay.
const minReconnectDelay = 10 * time.Millisecond

// ReconnectPolicy bounds automatic reconnection after an unexpected drop.
// MaxAttempts <= 0 retries forever with the delay capped at MaxDelay.
// The zero value selects DefaultReconnectPolicy.
type ReconnectPolicy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64
	MaxAttempts  int
}

func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
		Jitter:       0.2,
		MaxAttempts:  5,
	}
}

func (p ReconnectPolicy) normalized() ReconnectPolicy {
	if p == (ReconnectPolicy{}) {
		return DefaultReconnectPolicy()
	}
	if p.InitialDelay < minReconnectDelay {
		p.InitialDelay = minReconnectDelay
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		p.Jitter = 0
	}
	return p
}

// backOff returns a fresh delay schedule for one reconnect cycle.
func (p ReconnectPolicy) backOff() backoff.BackOff {
	p = p.normalized()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	b.MaxInterval = p.MaxDelay
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.Jitter
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (p ReconnectPolicy) exhausted(attempts int) bool {
	return p.MaxAttempts > 0 && attempts >= p.MaxAttempts
}
