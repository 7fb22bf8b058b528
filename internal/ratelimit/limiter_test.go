package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlidingWindowLimiter_AdmitsUnderCap(t *testing.T) {
	l := NewSlidingWindowLimiter(50*time.Millisecond, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Acquire(ctx, 1))
	}
	assert.Equal(t, 3, l.Count())
}

func TestSlidingWindowLimiter_BlocksThenAdmitsAfterEviction(t *testing.T) {
	l := NewSlidingWindowLimiter(30*time.Millisecond, 1)
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, 1))

	start := time.Now()
	require.NoError(t, l.Acquire(ctx, 1))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestSlidingWindowLimiter_RespectsContextCancellation(t *testing.T) {
	l := NewSlidingWindowLimiter(time.Second, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	require.NoError(t, l.Acquire(context.Background(), 1))
	err := l.Acquire(ctx, 1)
	assert.Error(t, err)
}

func TestManager_UsesPresetByExchangeName(t *testing.T) {
	m := NewManager()
	m.Register("test-exchange", Preset{Window: 20 * time.Millisecond, Cap: 2})

	ctx := context.Background()
	require.NoError(t, m.Acquire(ctx, "test-exchange", 1))
	require.NoError(t, m.Acquire(ctx, "test-exchange", 1))

	start := time.Now()
	require.NoError(t, m.Acquire(ctx, "test-exchange", 1))
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
}
