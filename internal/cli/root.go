// Package cli provides the command-line interface for the fair-value trading engine.
package cli

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"cof-trader/internal/config"
	"cof-trader/internal/logging"
	"cof-trader/internal/store"
)

// Version information
const (
	Version   = "0.3.0"
	BuildDate = "2024-06-01"
)

// App holds the application dependencies.
type App struct {
	Config    *config.Config
	ConfigDir string
	Logger    zerolog.Logger
	Store     store.ResultStore
}

// NewRootCmd creates the root command for the CLI. Configuration is loaded
// before any subcommand runs, from --config (a directory or a .toml file)
// or the default directory.
func NewRootCmd(logger zerolog.Logger) *cobra.Command {
	app := &App{Logger: logger}

	rootCmd := &cobra.Command{
		Use:   "coftrader",
		Short: "Financing-rate fair-value mean-reversion backtester",
		Long: `coftrader fits a rolling, cross-validated monotone fair-value curve of
financing cost against futures positioning, turns deviations from fair value
into liquidity-gated mean-reversion signals, and backtests them.

Use 'coftrader config init' to write a template configuration.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.load(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if app.Store != nil {
				return app.Store.Close()
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory or .toml file (default: ~/.config/cof-trader)")
	rootCmd.PersistentFlags().String("data", "", "input workbook or CSV (overrides data.path)")
	rootCmd.PersistentFlags().Int("workers", 0, "cross-validation workers (overrides fair_value.workers)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	addCoreCommands(rootCmd, app)
	addBacktestCommands(rootCmd, app)
	addHistoryCommands(rootCmd, app)
	addHelpCommands(rootCmd, app)

	return rootCmd
}

// load resolves configuration and logging for every command.
func (app *App) load(cmd *cobra.Command) error {
	path, _ := cmd.Flags().GetString("config")

	var (
		cfg *config.Config
		err error
	)
	switch {
	case strings.HasSuffix(path, ".toml"):
		app.ConfigDir = filepath.Dir(path)
		cfg, err = config.LoadFile(path)
	case helpCommands[cmd.Name()]:
		// These must work before a valid configuration exists.
		app.ConfigDir = path
		if app.ConfigDir == "" {
			app.ConfigDir = config.DefaultConfigDir()
		}
		app.Config = config.Default()
		return nil
	default:
		app.ConfigDir = path
		if app.ConfigDir == "" {
			app.ConfigDir = config.DefaultConfigDir()
		}
		cfg, err = config.Load(app.ConfigDir)
	}
	if err != nil {
		return err
	}

	if data, _ := cmd.Flags().GetString("data"); data != "" {
		cfg.Data.Path = data
	}
	if workers, _ := cmd.Flags().GetInt("workers"); workers > 0 {
		cfg.FairValue.Workers = workers
	}
	if cfg.Output.DBPath == "" {
		cfg.Output.DBPath = filepath.Join(app.ConfigDir, "cof.db")
	}
	app.Config = cfg

	logCfg := logging.DefaultLogConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.File = cfg.Logging.File
	if cfg.Logging.FilePath != "" {
		logCfg.FilePath = cfg.Logging.FilePath
	}
	logCfg.Out = cmd.ErrOrStderr()
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		logCfg.Level = "debug"
	}
	app.Logger = logging.NewLoggerWithConfig(logCfg)
	return nil
}

// openStore opens the result database on first use.
func (app *App) openStore() (store.ResultStore, error) {
	if app.Store != nil {
		return app.Store, nil
	}
	if err := os.MkdirAll(filepath.Dir(app.Config.Output.DBPath), 0700); err != nil {
		return nil, err
	}
	s, err := store.NewSQLiteStore(app.Config.Output.DBPath)
	if err != nil {
		return nil, err
	}
	app.Store = s
	app.Logger.Debug().Str("path", app.Config.Output.DBPath).Msg("SQLite store initialized")
	return s, nil
}

// addCoreCommands adds core utility commands.
func addCoreCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("coftrader v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and manage application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			return showConfig(output, app.Config)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": app.ConfigDir})
			} else {
				output.Println(app.ConfigDir)
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				output.JSON(map[string]bool{"valid": true})
			} else {
				output.Success("✓ Configuration is valid")
			}
			return nil
		},
	})

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a template configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			force, _ := cmd.Flags().GetBool("force")
			path, err := config.WriteTemplate(app.ConfigDir, force)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]string{"path": path})
			}
			output.Success("✓ Wrote %s", path)
			return nil
		},
	}
	initCmd.Flags().Bool("force", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)

	return cmd
}

func showConfig(output *Output, cfg *config.Config) error {
	output.Bold("Data")
	output.Printf("  Path:             %s\n", cfg.Data.Path)
	output.Printf("  Sheet:            %s\n", cfg.Data.Sheet)
	output.Printf("  Positioning:      %s\n", cfg.Data.PositioningColumn)
	output.Printf("  Instruments:      %s\n", strings.Join(cfg.Data.Instruments, ", "))
	output.Printf("  Liquidity:        %s\n", strings.Join(cfg.Data.LiquidityColumns, ", "))
	output.Printf("  Max gap:          %d\n", cfg.Align.MaxGap)
	output.Println()

	output.Bold("Fair Value")
	output.Printf("  Window:           %d\n", cfg.FairValue.WindowSize)
	output.Printf("  Folds:            %d\n", cfg.FairValue.Splits())
	output.Printf("  Smoothing:        %s to %s (%d points)\n",
		FormatLambda(cfg.FairValue.SmoothingMin), FormatLambda(cfg.FairValue.SmoothingMax), cfg.FairValue.SmoothingPoints)
	output.Printf("  Stability:        %.3f\n", cfg.FairValue.StabilityThreshold)
	output.Printf("  Liquidity adjust: %v\n", cfg.FairValue.LiquidityAdjust)
	output.Printf("  Workers:          %d\n", cfg.FairValue.WorkerCount())
	output.Println()

	output.Bold("Signals")
	output.Printf("  Z window:         %d (min %d)\n", cfg.Signal.ZWindow, cfg.Signal.MinPeriods)
	output.Printf("  Entry / exit:     %.2f / %.2f\n", cfg.Signal.EntryThreshold, cfg.Signal.ExitThreshold)
	output.Printf("  Liquidity gate:   %.2f (disabled: %v)\n", cfg.Signal.LiquidityThreshold, cfg.Signal.DisableLiquidityGate)
	output.Println()

	output.Bold("Position")
	output.Printf("  Max loss:         %.2f\n", cfg.Position.MaxLoss)
	output.Printf("  Double threshold: %.2f\n", cfg.Position.DoubleThreshold)
	output.Printf("  Max size:         %.1f\n", cfg.Position.MaxPositionSize)
	output.Printf("  Cost:             %g\n", cfg.Position.TransactionCost)
	output.Printf("  Initial capital:  %s\n", FormatNumber(cfg.Position.InitialCapital, 2))
	output.Println()

	output.Bold("Output")
	output.Printf("  Directory:        %s\n", cfg.Output.Dir)
	output.Printf("  Database:         %s (persist: %v)\n", cfg.Output.DBPath, cfg.Output.Persist)
	output.Printf("  Metrics file:     %s\n", cfg.Output.MetricsFile)

	return nil
}
