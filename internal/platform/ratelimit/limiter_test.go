package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowEnforcesBurst(t *testing.T) {
	l := New(1, 1)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "ip:1", 3, time.Hour)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, err := l.Allow(ctx, "ip:1", 3, time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.Allow(ctx, "ip:2", 3, time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAllowRejectsBadLimit(t *testing.T) {
	_, err := New(1, 1).Allow(context.Background(), "k", 0, time.Second)
	assert.Error(t, err)
}

func TestWaitCancelled(t *testing.T) {
	l := New(0.001, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	require.NoError(t, l.Wait(ctx, "analysis"))
	assert.Error(t, l.Wait(ctx, "analysis"))
}
