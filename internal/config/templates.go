package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Financing-rate fair-value trader configuration

[data]
# Excel workbook (.xlsx) or CSV file with one row per period
path = ""
# Sheet to read when path is a workbook
sheet = "Data"
date_column = "date"
positioning_column = "cftc_positions"
# One financing-cost column per instrument
instruments = ["cof"]
liquidity_columns = ["fed_funds_sofr_spread"]
# Columns whose sign is flipped on load
negate_columns = []

[align]
# Longest run of missing values that is forward-filled
max_gap = 3

[fair_value]
window_size = 52
# 0 selects min(10, window_size/10)
n_splits = 0
smoothing_min = 1e4
smoothing_max = 1e7
smoothing_points = 30
stability_threshold = 0.1
probe_points = 1000
liquidity_adjust = true
liquidity_column = ""
# 0 uses one worker per CPU
workers = 0

[signal]
z_window = 52
min_periods = 10
stress_window = 52
entry_threshold = 2.0
exit_threshold = 0.5
liquidity_threshold = 0.2
disable_liquidity_gate = false

[position]
# Stop-loss in price units
max_loss = 50.0
double_threshold = 2.5
max_position_size = 2.0
transaction_cost = 0.0001
initial_capital = 0.0

[performance]
periods_per_year = 252

[performance.weights]

[output]
dir = "results"
db_path = ""
metrics_file = ""
persist = true

[logging]
level = "info"
file = false
file_path = ""
`

// createTemplateConfig writes the template config file if it does not exist.
func createTemplateConfig(configDir, name string) error {
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name+".toml")
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	return os.WriteFile(path, []byte(configTemplate), 0600)
}

// WriteTemplate writes the template config into configDir, replacing any
// existing file only when force is set.
func WriteTemplate(configDir string, force bool) (string, error) {
	path := filepath.Join(configDir, "config.toml")
	if !force {
		if _, err := os.Stat(path); err == nil {
			return path, fmt.Errorf("%s already exists", path)
		}
	}
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}
	return path, os.WriteFile(path, []byte(configTemplate), 0600)
}
