package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cof-trader/internal/models"
)

func TestLogWindowSkipCarriesWindow(t *testing.T) {
	var buf bytes.Buffer
	logger := WithWindow(WithInstrument(zerolog.New(&buf), "cof"), "cof@2024-01-05")

	LogWindowSkip(logger, models.SkipMonotonicity, fmt.Errorf("decreasing cost"))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "window_skip", entry["event"])
	assert.Equal(t, "cof", entry["instrument"])
	assert.Equal(t, "cof@2024-01-05", entry["window"])
	assert.Equal(t, string(models.SkipMonotonicity), entry["reason"])
	assert.Equal(t, "decreasing cost", entry["error"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("verbose"))
}

func TestNewLoggerWithoutWritersDiscards(t *testing.T) {
	logger := NewLoggerWithConfig(LogConfig{Level: "debug"})
	logger.Info().Msg("dropped")
	assert.Equal(t, zerolog.DebugLevel, logger.GetLevel())
}
