package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "cof-trader/internal/errors"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 52, cfg.FairValue.WindowSize)
	assert.Equal(t, 5, cfg.FairValue.Splits())
	assert.Equal(t, 30, cfg.FairValue.SmoothingPoints)
	assert.Equal(t, 2.0, cfg.Signal.EntryThreshold)
	assert.Equal(t, 0.5, cfg.Signal.ExitThreshold)
	assert.Equal(t, 0.2, cfg.Signal.LiquidityThreshold)
	assert.Equal(t, 50.0, cfg.Position.MaxLoss)
	assert.Equal(t, 2.5, cfg.Position.DoubleThreshold)
	assert.Equal(t, 2.0, cfg.Position.MaxPositionSize)
	assert.Equal(t, 252.0, cfg.Performance.PeriodsPerYear)
	assert.Equal(t, []string{"cof"}, cfg.Data.Instruments)
	assert.True(t, cfg.Output.Persist)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"window too small", func(c *Config) { c.FairValue.WindowSize = 4 }, "fair_value.window_size"},
		{"smoothing range inverted", func(c *Config) { c.FairValue.SmoothingMax = 1 }, "fair_value.smoothing_max"},
		{"too many folds", func(c *Config) { c.FairValue.NSplits = 30 }, "fair_value.n_splits"},
		{"exit above entry", func(c *Config) { c.Signal.ExitThreshold = 3 }, "signal.exit_threshold"},
		{"min periods above window", func(c *Config) { c.Signal.MinPeriods = 60 }, "signal.min_periods"},
		{"non-positive stop", func(c *Config) { c.Position.MaxLoss = 0 }, "position.max_loss"},
		{"cap below one unit", func(c *Config) { c.Position.MaxPositionSize = 0.5 }, "position.max_position_size"},
		{"double below entry", func(c *Config) { c.Position.DoubleThreshold = 1.5 }, "position.double_threshold"},
		{"negative weight", func(c *Config) { c.Performance.Weights = map[string]float64{"cof": -1} }, "performance.weights.cof"},
		{"unknown liquidity column", func(c *Config) { c.FairValue.LiquidityColumn = "vix" }, "fair_value.liquidity_column"},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"no instruments", func(c *Config) { c.Data.Instruments = nil }, "data.instruments"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, domainerrors.Is(err, domainerrors.ErrConfigInvalid))

			var ve *domainerrors.ValidationError
			require.True(t, domainerrors.As(err, &ve))
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestProperty_SplitsFitWindow(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("automatic fold count stays within bounds", prop.ForAll(
		func(window int) bool {
			c := FairValueConfig{WindowSize: window}
			k := c.Splits()
			return k >= 2 && k <= 10 && window >= 2*k
		},
		gen.IntRange(8, 5000),
	))

	properties.TestingRun(t)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.toml")
	content := `
[data]
path = "input.xlsx"
instruments = ["cof", "sofr_ois"]

[fair_value]
window_size = 104
workers = 2

[signal]
entry_threshold = 1.5
exit_threshold = 0.25

[position]
double_threshold = 2.0

[performance.weights]
cof = 0.6
sofr_ois = 0.4
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "input.xlsx", cfg.Data.Path)
	assert.Equal(t, []string{"cof", "sofr_ois"}, cfg.Data.Instruments)
	assert.Equal(t, 104, cfg.FairValue.WindowSize)
	assert.Equal(t, 10, cfg.FairValue.Splits())
	assert.Equal(t, 2, cfg.FairValue.WorkerCount())
	assert.Equal(t, 1.5, cfg.Signal.EntryThreshold)
	assert.Equal(t, 0.6, cfg.Performance.Weights["cof"])
	// Untouched keys keep their defaults.
	assert.Equal(t, 50.0, cfg.Position.MaxLoss)
	assert.Equal(t, "cftc_positions", cfg.Data.PositioningColumn)
}

func TestLoadFileKeepsInstrumentCase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `[data]
instruments = ["1Y COF", "YE COF", "1Y2Y COF"]

[performance.weights]
"1Y COF" = 0.5
"YE COF" = 0.3
"1y2y cof" = 0.2
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"1Y COF": 0.5, "YE COF": 0.3, "1Y2Y COF": 0.2}, cfg.Performance.Weights)
}

func TestLoadFileInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[signal]\nexit_threshold = 5.0\n"), 0600))

	_, err := LoadFile(path)
	assert.True(t, domainerrors.Is(err, domainerrors.ErrConfigInvalid))

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestLoadCreatesTemplate(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "config.toml"))
	assert.Equal(t, filepath.Join(dir, "cof.db"), cfg.Output.DBPath)

	// The template itself loads cleanly.
	again, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, cfg.FairValue, again.FairValue)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("COF_WORKERS", "3")
	t.Setenv("COF_DATA_PATH", "/tmp/in.csv")
	t.Setenv("COF_LOG_LEVEL", "debug")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.FairValue.Workers)
	assert.Equal(t, "/tmp/in.csv", cfg.Data.Path)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestWriteTemplate(t *testing.T) {
	dir := t.TempDir()

	path, err := WriteTemplate(dir, false)
	require.NoError(t, err)
	assert.FileExists(t, path)

	_, err = WriteTemplate(dir, false)
	assert.Error(t, err)

	_, err = WriteTemplate(dir, true)
	assert.NoError(t, err)
}
