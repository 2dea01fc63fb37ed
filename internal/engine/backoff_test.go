package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelay(t *testing.T) {
	base := time.Second

	assert.Equal(t, 1*time.Second, backoffDelay(base, 1))
	assert.Equal(t, 2*time.Second, backoffDelay(base, 2))
	assert.Equal(t, 4*time.Second, backoffDelay(base, 3))

	// Degenerate attempt counts clamp instead of misbehaving.
	assert.Equal(t, 1*time.Second, backoffDelay(base, 0))
	assert.Equal(t, base<<20, backoffDelay(base, 100))
}

func TestClampDuration(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, clampDuration(time.Millisecond, 100*time.Millisecond, 5*time.Second))
	assert.Equal(t, 5*time.Second, clampDuration(time.Minute, 100*time.Millisecond, 5*time.Second))
	assert.Equal(t, time.Second, clampDuration(time.Second, 100*time.Millisecond, 5*time.Second))
}
