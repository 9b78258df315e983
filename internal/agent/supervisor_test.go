package agent

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupervisorRunStopsOnContextCancel(t *testing.T) {
	allowlist, err := NewAllowlist("", nil)
	require.NoError(t, err)
	exec := NewExecutor(time.Second, 0, allowlist)

	// An unreachable server-url means connectOnce always fails fast,
	// exercising only the backoff/cancel path.
	sup := NewSupervisor("ws://127.0.0.1:1/no-such-listener", "agent-1", 20*time.Millisecond, exec, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}

	assert.False(t, sup.Status().Connected)
}

func TestNewSupervisorDefaultsBackoff(t *testing.T) {
	allowlist, err := NewAllowlist("", nil)
	require.NoError(t, err)
	exec := NewExecutor(time.Second, 0, allowlist)

	sup := NewSupervisor("ws://example.com", "agent-1", 0, exec, zerolog.Nop())
	assert.Equal(t, 5*time.Second, sup.backoff)
}
