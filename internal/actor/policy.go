package actor

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RestartPolicy decides whether and when a failed actor is restarted.
type RestartPolicy interface {
	// NextDelay returns the wait before restart attempt n (1-based). ok=false means give up.
	NextDelay(attempt int) (delay time.Duration, ok bool)
	// Reset is called after a successful build.
	Reset()
}

// ExponentialPolicy backs off exponentially between restarts.
type ExponentialPolicy struct {
	b           *backoff.ExponentialBackOff
	maxAttempts int
}

// ExponentialConfig configures an ExponentialPolicy. Zero values use the defaults.
type ExponentialConfig struct {
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
	MaxAttempts         int // 0 = unlimited
}

// NewExponentialPolicy creates an exponential restart policy.
func NewExponentialPolicy(cfg ExponentialConfig) *ExponentialPolicy {
	b := backoff.NewExponentialBackOff()
	if cfg.InitialInterval > 0 {
		b.InitialInterval = cfg.InitialInterval
	}
	if cfg.MaxInterval > 0 {
		b.MaxInterval = cfg.MaxInterval
	}
	if cfg.Multiplier > 0 {
		b.Multiplier = cfg.Multiplier
	}
	if cfg.RandomizationFactor > 0 {
		b.RandomizationFactor = cfg.RandomizationFactor
	}
	b.Reset()
	return &ExponentialPolicy{b: b, maxAttempts: cfg.MaxAttempts}
}

func (p *ExponentialPolicy) NextDelay(attempt int) (time.Duration, bool) {
	if p.maxAttempts > 0 && attempt > p.maxAttempts {
		return 0, false
	}
	d := p.b.NextBackOff()
	if d == backoff.Stop {
		return 0, false
	}
	return d, true
}

func (p *ExponentialPolicy) Reset() { p.b.Reset() }

// ConstantPolicy waits the same delay before every restart.
type ConstantPolicy struct {
	Delay       time.Duration
	MaxAttempts int // 0 = unlimited
}

func (p ConstantPolicy) NextDelay(attempt int) (time.Duration, bool) {
	if p.MaxAttempts > 0 && attempt > p.MaxAttempts {
		return 0, false
	}
	return p.Delay, true
}

func (p ConstantPolicy) Reset() {}

// NeverRestart stops the actor on its first failure.
type NeverRestart struct{}

func (NeverRestart) NextDelay(int) (time.Duration, bool) { return 0, false }

func (NeverRestart) Reset() {}
