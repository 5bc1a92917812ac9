package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "ES", c.Instrument.Symbol)
	assert.InDelta(t, 0.25, c.Instrument.Tick, 1e-9)
	assert.Equal(t, "active", c.Mode)
	assert.True(t, c.AllowLongs)
	assert.True(t, c.AllowShorts)
	assert.Equal(t, 1, c.Quantity)
	assert.Equal(t, 930, c.Session.StartHHmm)
	assert.Equal(t, 1600, c.Session.EndHHmm)
	assert.InDelta(t, 1.2, c.Tune.Value, 1e-9)
	assert.True(t, c.Tune.Auto)
	assert.Equal(t, "info", c.Logging.Level)
}

func TestLoadOverridesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fms.yaml")
	yaml := `
instrument:
  symbol: NQ
  tick: 0.25
mode: conservative
allow_shorts: false
tune:
  value: 0.8
  auto: false
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "NQ", c.Instrument.Symbol)
	assert.Equal(t, "conservative", c.Mode)
	assert.False(t, c.AllowShorts)
	assert.True(t, c.AllowLongs) // untouched default survives
	assert.InDelta(t, 0.8, c.Tune.Value, 1e-9)
	assert.False(t, c.Tune.Auto)
}

func TestLoadRejectsBadMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fms.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mode: yolo\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsAnalysisWithoutURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fms.yaml")
	require.NoError(t, os.WriteFile(path, []byte("analysis:\n  enabled: true\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/fms.yaml")
	assert.Error(t, err)
}
