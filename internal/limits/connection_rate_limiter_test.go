package limits

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestPerIPBurst(t *testing.T) {
	l := NewConnectionRateLimiter(ConnectionRateLimiterConfig{
		IPBurst:     3,
		IPRate:      0.001,
		GlobalBurst: 100,
		GlobalRate:  100,
		Logger:      zerolog.Nop(),
	})
	defer l.Stop()

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("10.0.0.1"), "within burst")
	}
	assert.False(t, l.Allow("10.0.0.1"), "burst exhausted")

	// A different IP has its own bucket.
	assert.True(t, l.Allow("10.0.0.2"))
}

func TestGlobalBurst(t *testing.T) {
	l := NewConnectionRateLimiter(ConnectionRateLimiterConfig{
		IPBurst:     100,
		IPRate:      100,
		GlobalBurst: 2,
		GlobalRate:  0.001,
		Logger:      zerolog.Nop(),
	})
	defer l.Stop()

	assert.True(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.2"))
	assert.False(t, l.Allow("10.0.0.3"), "global budget exhausted")
}

func TestDefaultsApplied(t *testing.T) {
	l := NewConnectionRateLimiter(ConnectionRateLimiterConfig{Logger: zerolog.Nop()})
	defer l.Stop()

	for i := 0; i < 10; i++ {
		assert.True(t, l.Allow("10.0.0.1"))
	}
	assert.False(t, l.Allow("10.0.0.1"))
}
