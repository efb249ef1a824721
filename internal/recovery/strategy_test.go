package recovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLinearBackoff(t *testing.T) {
	l := NewLinearBackoff(5 * time.Second)
	for attempt := 1; attempt <= 4; attempt++ {
		assert.Equal(t, 5*time.Second, l.Delay(attempt))
	}
}

func TestExponentialBackoff(t *testing.T) {
	e := NewExponentialBackoff(time.Second, 5*time.Second, 2)

	assert.Equal(t, time.Second, e.Delay(1))
	assert.Equal(t, 2*time.Second, e.Delay(2))
	assert.Equal(t, 4*time.Second, e.Delay(3))
	assert.Equal(t, 5*time.Second, e.Delay(4), "capped at max delay")
	assert.Equal(t, time.Second, e.Delay(0), "attempts below one use the initial delay")
}

func TestExponentialBackoffJitter(t *testing.T) {
	e := NewExponentialBackoff(time.Second, time.Minute, 2)
	e.Jitter = 0.2

	for i := 0; i < 50; i++ {
		d := e.Delay(2)
		assert.GreaterOrEqual(t, d, 1600*time.Millisecond)
		assert.LessOrEqual(t, d, 2400*time.Millisecond)
	}
}

func TestNewStrategy(t *testing.T) {
	assert.IsType(t, &LinearBackoff{}, NewStrategy("linear", time.Second, time.Minute, 2))
	assert.IsType(t, &ExponentialBackoff{}, NewStrategy("exponential", time.Second, time.Minute, 2))
	assert.IsType(t, &LinearBackoff{}, NewStrategy("", time.Second, time.Minute, 2))
}
