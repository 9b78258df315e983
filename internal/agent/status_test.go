package agent

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusStoreSnapshot(t *testing.T) {
	s := newStatus()

	snap := s.snapshot()
	assert.False(t, snap.Connected)
	assert.Empty(t, snap.LastError)

	s.setConnected(true)
	snap = s.snapshot()
	assert.True(t, snap.Connected)

	s.setError(errors.New("boom"))
	snap = s.snapshot()
	assert.Equal(t, "boom", snap.LastError)

	// Reconnecting clears the last error.
	s.setConnected(true)
	snap = s.snapshot()
	assert.Empty(t, snap.LastError)
}
