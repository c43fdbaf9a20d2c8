package relayer

import (
	"time"

	"go-bridge/internal/config"
)

// RetryPolicy is the exponential backoff schedule for failed dispatches.
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   int64
}

// PolicyFromConfig fills defaults for unset fields.
func PolicyFromConfig(cfg config.RelayerConfig) RetryPolicy {
	p := RetryPolicy{
		MaxRetries:   cfg.MaxRetries,
		InitialDelay: time.Duration(cfg.InitialDelayMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.MaxDelayMs) * time.Millisecond,
		Multiplier:   cfg.Multiplier,
	}
	if p.MaxRetries <= 0 {
		p.MaxRetries = 3
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 10 * time.Second
	}
	if p.Multiplier <= 1 {
		p.Multiplier = 2
	}
	return p
}

// Delay returns the wait before retrying after the given failed attempt
// (0-based): initialDelay * multiplier^attempt, capped at maxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	delay := p.InitialDelay
	for i := 0; i < attempt; i++ {
		delay *= time.Duration(p.Multiplier)
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}
