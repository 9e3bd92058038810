package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
backend:
  base_url: http://annotations.internal:9000
brush:
  size: 24
zoom:
  max: 5
autosave:
  debounce: 2s
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://annotations.internal:9000", cfg.Backend.BaseURL)
	assert.Equal(t, 24.0, cfg.Brush.Size)
	assert.Equal(t, 5.0, cfg.Zoom.Max)
	assert.Equal(t, 2*time.Second, cfg.Autosave.Debounce)

	// untouched keys keep their defaults
	assert.Equal(t, 1.0, cfg.Zoom.Min)
	assert.Equal(t, 0.1, cfg.Zoom.Step)
	assert.Equal(t, 5*time.Second, cfg.Autosave.RetryBackoff)
	assert.Equal(t, 2, cfg.Markers.Stride)
	assert.Equal(t, "#00ff00", cfg.Brush.ObjectColor)
}

func TestLoadEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  mode: debug\n"), 0644))
	t.Setenv("SEGANNOTATOR_LOG_MODE", "release")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "release", cfg.Log.Mode)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 1500*time.Millisecond, cfg.Autosave.Debounce)
	assert.Equal(t, 6.0, cfg.Markers.ObjectSize)
	assert.Equal(t, 4.0, cfg.Markers.BackgroundSize)
	assert.Equal(t, "memory", cfg.DevServer.Storage)
}
