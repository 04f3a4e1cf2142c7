package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicyBackoff(t *testing.T) {
	t.Run("exponential doubles per attempt", func(t *testing.T) {
		p := RetryPolicy{MaxAttempts: 3, BackoffBase: 2 * time.Second, BackoffKind: BackoffExponential}
		assert.Equal(t, 2*time.Second, p.Backoff(1))
		assert.Equal(t, 4*time.Second, p.Backoff(2))
		assert.Equal(t, 8*time.Second, p.Backoff(3))
	})

	t.Run("fixed stays at base", func(t *testing.T) {
		p := RetryPolicy{MaxAttempts: 3, BackoffBase: 2 * time.Second, BackoffKind: BackoffFixed}
		assert.Equal(t, 2*time.Second, p.Backoff(1))
		assert.Equal(t, 2*time.Second, p.Backoff(3))
	})

	t.Run("attempts below one are treated as the first", func(t *testing.T) {
		p := RetryPolicy{BackoffBase: time.Second, BackoffKind: BackoffExponential}
		assert.Equal(t, time.Second, p.Backoff(0))
		assert.Equal(t, time.Second, p.Backoff(-3))
	})
}
