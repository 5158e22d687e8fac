package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFixture writes a weekly CSV with two instruments and a config that
// keeps every window monotone.
func writeFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	var csv strings.Builder
	csv.WriteString("date,cftc_positions,cof_1y,cof_2y,spread\n")
	start := time.Date(2018, 1, 5, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 70; i++ {
		pos := float64((i * 37) % 101)
		fmt.Fprintf(&csv, "%s,%g,%.6f,%.6f,%.6f\n",
			start.AddDate(0, 0, 7*i).Format("2006-01-02"),
			pos,
			0.5+0.01*pos+0.004*math.Sin(float64(i)*1.7),
			0.6+0.01*pos+0.004*math.Sin(float64(i)*1.7+1),
			0.01*math.Cos(float64(i)*0.3),
		)
	}
	dataPath := filepath.Join(dir, "cof.csv")
	require.NoError(t, os.WriteFile(dataPath, []byte(csv.String()), 0600))

	cfg := fmt.Sprintf(`[data]
path = %q
instruments = ["cof_1y", "cof_2y"]
liquidity_columns = ["spread"]

[fair_value]
window_size = 30
n_splits = 3
smoothing_min = 0.01
smoothing_max = 100.0
smoothing_points = 5
workers = 2

[signal]
z_window = 20
min_periods = 5
stress_window = 20
entry_threshold = 1.0
exit_threshold = 0.2
liquidity_threshold = 10.0

[position]
double_threshold = 1.5
initial_capital = 100.0

[output]
dir = %q
db_path = %q
metrics_file = %q
`, dataPath, filepath.Join(dir, "results"), filepath.Join(dir, "cof.db"), filepath.Join(dir, "cof.prom"))

	cfgPath := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0600))
	return cfgPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd(zerolog.Nop())
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRunCommandWritesOutputsAndPersists(t *testing.T) {
	cfgPath := writeFixture(t)
	dir := filepath.Dir(cfgPath)

	out, err := execute(t, "run", "--config", cfgPath, "--json", "--follow")
	require.NoError(t, err)

	var result struct {
		RunID     string `json:"run_id"`
		Summaries []struct {
			Instrument string `json:"instrument"`
			Periods    int    `json:"periods"`
		} `json:"summaries"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.NotEmpty(t, result.RunID)
	require.Len(t, result.Summaries, 2)
	assert.Equal(t, "cof_1y", result.Summaries[0].Instrument)
	assert.Equal(t, "cof_2y", result.Summaries[1].Instrument)
	assert.Equal(t, 40, result.Summaries[0].Periods)

	for _, name := range []string{"cof_1y_fair_value.csv", "cof_1y_signals.csv", "cof_1y_trades.csv", "cof_2y_equity.csv"} {
		assert.FileExists(t, filepath.Join(dir, "results", name))
	}
	assert.FileExists(t, filepath.Join(dir, "cof.prom"))

	out, err = execute(t, "history", "--config", cfgPath, "--json")
	require.NoError(t, err)
	assert.Contains(t, out, result.RunID)
}

func TestRunCommandRestrictsInstruments(t *testing.T) {
	cfgPath := writeFixture(t)

	out, err := execute(t, "run", "--config", cfgPath, "--json", "--instrument", "cof_2y")
	require.NoError(t, err)
	assert.Contains(t, out, `"cof_2y"`)
	assert.NotContains(t, out, `"cof_1y"`)
}

func TestPredictCommandRejectsUnknownInstrument(t *testing.T) {
	cfgPath := writeFixture(t)

	_, err := execute(t, "predict", "--config", cfgPath, "--instrument", "cof_5y", "--positioning", "50")
	assert.Error(t, err)
}

func TestHelpCommandsNeedNoConfig(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	out, err := execute(t, "examples")
	require.NoError(t, err)
	assert.Contains(t, out, "coftrader portfolio --weight")

	out, err = execute(t, "commands")
	require.NoError(t, err)
	assert.Contains(t, out, "history trades <run-id>")
}
