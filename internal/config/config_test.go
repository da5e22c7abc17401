package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsApplied(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "30m", cfg.Interval.Trading)
	assert.Equal(t, "1d", cfg.Interval.HTF)
	assert.Equal(t, 1, cfg.PLdot.Displacement)
	assert.Equal(t, 3, cfg.Envelope.Period)
	assert.Equal(t, 1.5, cfg.Envelope.Multiplier)
	assert.Equal(t, 1.5, cfg.Pattern.MinRR)
	assert.Equal(t, "*/15 * * * *", cfg.Scheduler.Cron)
	assert.Equal(t, 2000, cfg.Cache.MaxSize)
	assert.Equal(t, 0.5, cfg.Signal.MinConfidenceNotify)
	assert.Equal(t, 0.65, cfg.Signal.MinConfidenceAct)
}

func TestLoadOverridesAndRepairsZeroValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
interval:
  trading: 1h
envelope:
  multiplier: 2.0
scheduler:
  cron: "*/5 * * * *"
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "1h", cfg.Interval.Trading)
	assert.Equal(t, 2.0, cfg.Envelope.Multiplier)
	assert.Equal(t, "*/5 * * * *", cfg.Scheduler.Cron)
	// unset keys fall back to defaults
	assert.Equal(t, "1d", cfg.Interval.HTF)
	assert.Equal(t, 3, cfg.Envelope.Period)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
