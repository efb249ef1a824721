package recovery

import (
	"math"
	"math/rand"
	"time"
)

// Strategy decides how long to wait before a retry attempt.
type Strategy interface {
	// Delay returns the wait before the given attempt, starting at 1.
	Delay(attempt int) time.Duration
}

// LinearBackoff waits the same interval before every attempt.
type LinearBackoff struct {
	Interval time.Duration
}

func NewLinearBackoff(interval time.Duration) *LinearBackoff {
	return &LinearBackoff{Interval: interval}
}

func (l *LinearBackoff) Delay(int) time.Duration {
	return l.Interval
}

// ExponentialBackoff multiplies the delay on every attempt up to MaxDelay,
// with optional proportional jitter.
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// Jitter spreads each delay by up to ±Jitter of its value (0.2 = ±20%).
	Jitter float64
}

func NewExponentialBackoff(initialDelay, maxDelay time.Duration, multiplier float64) *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialDelay: initialDelay,
		MaxDelay:     maxDelay,
		Multiplier:   multiplier,
	}
}

func (e *ExponentialBackoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(e.InitialDelay) * math.Pow(e.Multiplier, float64(attempt-1))
	if max := float64(e.MaxDelay); e.MaxDelay > 0 && delay > max {
		delay = max
	}
	if e.Jitter > 0 {
		delay *= 1 - e.Jitter + 2*e.Jitter*rand.Float64()
	}
	return time.Duration(delay)
}

// NewStrategy builds a strategy by name: "linear" or "exponential".
func NewStrategy(name string, interval, maxDelay time.Duration, multiplier float64) Strategy {
	if name == "exponential" {
		return NewExponentialBackoff(interval, maxDelay, multiplier)
	}
	return NewLinearBackoff(interval)
}
