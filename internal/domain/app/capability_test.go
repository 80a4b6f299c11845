package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapabilityString(t *testing.T) {
	tests := []struct {
		c        Capability
		expected string
	}{
		{CapNetwork, "NETWORK"},
		{CapFilesystem, "FILESYSTEM"},
		{CapSystemInfo, "SYSTEM_INFO"},
		{CapHighFramerate, "HIGH_FRAMERATE"},
		{CapPersistentState, "PERSISTENT_STATE"},
		{Capability(0), "Capability(0)"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.c.String())
		})
	}
}

func TestParseCapabilities(t *testing.T) {
	caps, err := ParseCapabilities([]string{"network", " FILESYSTEM "})
	require.NoError(t, err)

	assert.True(t, caps.Has(CapNetwork))
	assert.True(t, caps.Has(CapFilesystem))
	assert.False(t, caps.Has(CapSystemInfo))
	assert.Equal(t, []string{"FILESYSTEM", "NETWORK"}, caps.Names())

	_, err = ParseCapabilities([]string{"GPU"})
	assert.Error(t, err)
}

func TestCapabilitiesHasAny(t *testing.T) {
	caps := NewCapabilities(CapSystemInfo, CapHighFramerate)

	assert.True(t, caps.HasAny(CapNetwork, CapHighFramerate))
	assert.False(t, caps.HasAny(CapNetwork, CapFilesystem))
	assert.Equal(t, "none", Capabilities(0).String())
	assert.Equal(t, "HIGH_FRAMERATE,SYSTEM_INFO", caps.String())
}
