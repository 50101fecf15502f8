package concurrency

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledLimiterAlwaysGrants(t *testing.T) {
	l := NewLimiter(nil, "voiceload", 0, 0)
	assert.False(t, l.Enabled())

	ok, err := l.Acquire(context.Background(), "outbound_agent")
	require.NoError(t, err)
	assert.True(t, ok)

	release, err := l.Wait(context.Background(), "outbound_agent", 0)
	require.NoError(t, err)
	assert.NoError(t, release(context.Background()))
}

func TestNilLimiterIsDisabled(t *testing.T) {
	var l *Limiter
	assert.False(t, l.Enabled())
}

func TestLimiterKey(t *testing.T) {
	l := NewLimiter(nil, "voiceload", 4, 0)
	assert.Equal(t, "voiceload:agent:outbound_agent:active", l.key("outbound_agent"))
}
