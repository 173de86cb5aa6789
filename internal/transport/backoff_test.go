package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicyDelaySchedule(t *testing.T) {
	p := DefaultRetryPolicy()

	assert.Equal(t, 1*time.Second, p.NextDelay(0))
	assert.Equal(t, 2*time.Second, p.NextDelay(1))
	assert.Equal(t, 4*time.Second, p.NextDelay(2))
	assert.Equal(t, 8*time.Second, p.NextDelay(3))
}

func TestRetryPolicyDelayCap(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, p.MaxDelay, p.NextDelay(20))
}

func TestRetryPolicyBackOffSchedule(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, Multiplier: 2.0, MaxDelay: time.Second}
	b := p.NewBackOff()

	assert.Equal(t, 100*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 200*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 400*time.Millisecond, b.NextBackOff())
}
