package agent

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowlistEmptyAllowsEverything(t *testing.T) {
	a, err := NewAllowlist("", nil)
	require.NoError(t, err)
	assert.True(t, a.Allowed("anything.example.com"))
	assert.True(t, a.Allowed(""))
}

func TestAllowlistGlobMatching(t *testing.T) {
	a, err := NewAllowlist("", []string{"*.internal.example.com", "api.example.com"})
	require.NoError(t, err)

	assert.True(t, a.Allowed("svc.internal.example.com"))
	assert.True(t, a.Allowed("api.example.com"))
	assert.False(t, a.Allowed("evil.example.org"))
	assert.False(t, a.Allowed("internal.example.com"))
}

func TestAllowlistAddRemove(t *testing.T) {
	a, err := NewAllowlist("", nil)
	require.NoError(t, err)

	require.NoError(t, a.Add("api.example.com"))
	assert.True(t, a.Allowed("api.example.com"))
	assert.False(t, a.Allowed("other.example.com"))

	require.NoError(t, a.Remove("api.example.com"))
	// Removing the only pattern returns to the allow-all default.
	assert.True(t, a.Allowed("other.example.com"))
}

func TestAllowlistPersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "allowlist.json")

	a, err := NewAllowlist(path, []string{"api.example.com"})
	require.NoError(t, err)
	require.NoError(t, a.Add("*.internal.example.com"))

	reloaded, err := NewAllowlist(path, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"api.example.com", "*.internal.example.com"}, reloaded.Patterns())
}

func TestAllowlistAddRejectsEmptyPattern(t *testing.T) {
	a, err := NewAllowlist("", nil)
	require.NoError(t, err)
	assert.Error(t, a.Add("   "))
}
