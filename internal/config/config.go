// Package config provides configuration management for the fair-value trading engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/creasty/defaults"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Data        DataConfig        `mapstructure:"data" json:"data"`
	Align       AlignConfig       `mapstructure:"align" json:"align"`
	FairValue   FairValueConfig   `mapstructure:"fair_value" json:"fair_value"`
	Signal      SignalConfig      `mapstructure:"signal" json:"signal"`
	Position    PositionConfig    `mapstructure:"position" json:"position"`
	Performance PerformanceConfig `mapstructure:"performance" json:"performance"`
	Output      OutputConfig      `mapstructure:"output" json:"output"`
	Logging     LoggingConfig     `mapstructure:"logging" json:"logging"`
}

// DataConfig describes the input table.
type DataConfig struct {
	Path              string   `mapstructure:"path" json:"path"`
	Sheet             string   `mapstructure:"sheet" json:"sheet" default:"Data"`
	DateColumn        string   `mapstructure:"date_column" json:"date_column" default:"date" validate:"required"`
	PositioningColumn string   `mapstructure:"positioning_column" json:"positioning_column" default:"cftc_positions" validate:"required"`
	Instruments       []string `mapstructure:"instruments" json:"instruments" default:"[\"cof\"]" validate:"min=1,dive,required"`
	LiquidityColumns  []string `mapstructure:"liquidity_columns" json:"liquidity_columns" default:"[\"fed_funds_sofr_spread\"]" validate:"min=1,dive,required"`
	NegateColumns     []string `mapstructure:"negate_columns" json:"negate_columns"`
}

// AlignConfig configures the aligner.
type AlignConfig struct {
	// MaxGap is the longest run of consecutive missing values that is forward-filled.
	MaxGap int `mapstructure:"max_gap" json:"max_gap" default:"3" validate:"gte=0"`
}

// FairValueConfig configures the rolling cross-validated curve fit.
type FairValueConfig struct {
	WindowSize int `mapstructure:"window_size" json:"window_size" default:"52" validate:"gte=8"`
	// NSplits of 0 selects min(10, window_size/10).
	NSplits            int     `mapstructure:"n_splits" json:"n_splits" validate:"gte=0"`
	SmoothingMin       float64 `mapstructure:"smoothing_min" json:"smoothing_min" default:"10000" validate:"gt=0"`
	SmoothingMax       float64 `mapstructure:"smoothing_max" json:"smoothing_max" default:"10000000" validate:"gtfield=SmoothingMin"`
	SmoothingPoints    int     `mapstructure:"smoothing_points" json:"smoothing_points" default:"30" validate:"gte=1"`
	StabilityThreshold float64 `mapstructure:"stability_threshold" json:"stability_threshold" default:"0.1" validate:"gt=0"`
	ProbePoints        int     `mapstructure:"probe_points" json:"probe_points" default:"1000" validate:"gte=2"`
	LiquidityAdjust    bool    `mapstructure:"liquidity_adjust" json:"liquidity_adjust" default:"true"`
	// LiquidityColumn names the indicator used for the adjustment; empty means
	// the first configured liquidity column.
	LiquidityColumn string `mapstructure:"liquidity_column" json:"liquidity_column"`
	// Workers bounds the cross-validation fan-out; 0 means one per CPU.
	Workers int `mapstructure:"workers" json:"workers" validate:"gte=0"`
}

// Splits returns the effective number of cross-validation folds.
func (c FairValueConfig) Splits() int {
	if c.NSplits > 0 {
		return c.NSplits
	}
	k := c.WindowSize / 10
	if k > 10 {
		k = 10
	}
	if k < 2 {
		k = 2
	}
	return k
}

// WorkerCount returns the effective worker count.
func (c FairValueConfig) WorkerCount() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.NumCPU()
}

// SignalConfig configures signal generation.
type SignalConfig struct {
	ZWindow            int     `mapstructure:"z_window" json:"z_window" default:"52" validate:"gte=2"`
	MinPeriods         int     `mapstructure:"min_periods" json:"min_periods" default:"10" validate:"gte=2,ltefield=ZWindow"`
	StressWindow       int     `mapstructure:"stress_window" json:"stress_window" default:"52" validate:"gte=2"`
	EntryThreshold     float64 `mapstructure:"entry_threshold" json:"entry_threshold" default:"2.0" validate:"gt=0"`
	ExitThreshold      float64 `mapstructure:"exit_threshold" json:"exit_threshold" default:"0.5" validate:"gte=0,ltfield=EntryThreshold"`
	LiquidityThreshold float64 `mapstructure:"liquidity_threshold" json:"liquidity_threshold" default:"0.2"`
	// DisableLiquidityGate turns off both the entry gate and the liquidity exit.
	DisableLiquidityGate bool `mapstructure:"disable_liquidity_gate" json:"disable_liquidity_gate"`
}

// PositionConfig configures sizing and risk management.
type PositionConfig struct {
	MaxLoss         float64 `mapstructure:"max_loss" json:"max_loss" default:"50" validate:"gt=0"`
	DoubleThreshold float64 `mapstructure:"double_threshold" json:"double_threshold" default:"2.5" validate:"gt=0"`
	MaxPositionSize float64 `mapstructure:"max_position_size" json:"max_position_size" default:"2.0" validate:"gte=1"`
	TransactionCost float64 `mapstructure:"transaction_cost" json:"transaction_cost" default:"0.0001" validate:"gte=0,lt=1"`
	InitialCapital  float64 `mapstructure:"initial_capital" json:"initial_capital" validate:"gte=0"`
}

// PerformanceConfig configures performance reporting.
type PerformanceConfig struct {
	PeriodsPerYear float64 `mapstructure:"periods_per_year" json:"periods_per_year" default:"252" validate:"gt=0"`
	// Weights are portfolio weights per instrument; empty means equal weights.
	Weights map[string]float64 `mapstructure:"weights" json:"weights"`
}

// OutputConfig configures result sinks.
type OutputConfig struct {
	Dir         string `mapstructure:"dir" json:"dir" default:"results"`
	DBPath      string `mapstructure:"db_path" json:"db_path"`
	MetricsFile string `mapstructure:"metrics_file" json:"metrics_file"`
	Persist     bool   `mapstructure:"persist" json:"persist" default:"true"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level    string `mapstructure:"level" json:"level" default:"info" validate:"oneof=debug info warn error"`
	File     bool   `mapstructure:"file" json:"file"`
	FilePath string `mapstructure:"file_path" json:"file_path"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/cof-trader"
	}
	return filepath.Join(home, ".config", "cof-trader")
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		// Tags are static; a failure here is a programming error.
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return cfg
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := Default()

	if err := loadConfigFile(configDir, "config", cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.restoreWeightKeys()

	if cfg.Output.DBPath == "" {
		cfg.Output.DBPath = filepath.Join(configDir, "cof.db")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadFile loads a single TOML file on top of the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	cfg.restoreWeightKeys()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// restoreWeightKeys maps portfolio weight keys, which viper lowercases, back
// to the configured instrument names.
func (c *Config) restoreWeightKeys() {
	if len(c.Performance.Weights) == 0 {
		return
	}
	weights := make(map[string]float64, len(c.Performance.Weights))
	for name, w := range c.Performance.Weights {
		for _, inst := range c.Data.Instruments {
			if strings.EqualFold(inst, name) {
				name = inst
				break
			}
		}
		weights[name] = w
	}
	c.Performance.Weights = weights
}

func loadConfigFile(configDir, name string, target interface{}) error {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found, create template and keep defaults
			return createTemplateConfig(configDir, name)
		}
		return err
	}

	return v.Unmarshal(target)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("COF_DATA_PATH"); v != "" {
		cfg.Data.Path = v
	}
	if v := os.Getenv("COF_DB_PATH"); v != "" {
		cfg.Output.DBPath = v
	}
	if v := os.Getenv("COF_OUTPUT_DIR"); v != "" {
		cfg.Output.Dir = v
	}
	if v := os.Getenv("COF_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("COF_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.FairValue.Workers = n
		}
	}
}
