package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 2, cfg.GC.GrowthFactor)
	assert.False(t, cfg.GC.Stress)
	assert.True(t, cfg.VM.CharSubtraction)
	assert.False(t, cfg.VM.Trace)
}

func TestLoadMissingFileKeepsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ember.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[gc]
growth_factor = 4
stress = true

[vm]
char_subtraction = false
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.GC.GrowthFactor)
	assert.True(t, cfg.GC.Stress)
	assert.False(t, cfg.VM.CharSubtraction)
	assert.False(t, cfg.VM.Trace, "unset fields keep their defaults")
}

func TestGrowthFactorFloor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ember.toml")
	require.NoError(t, os.WriteFile(path, []byte("[gc]\ngrowth_factor = 1\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.GC.GrowthFactor)
}

func TestLoadRejectsBadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ember.toml")
	require.NoError(t, os.WriteFile(path, []byte("[gc\n"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}
