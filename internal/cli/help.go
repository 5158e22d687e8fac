package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

// addHelpCommands adds help and documentation commands.
func addHelpCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newCommandsCmd(app))
	rootCmd.AddCommand(newExamplesCmd(app))
	rootCmd.AddCommand(newQuickstartCmd(app))
}

// helpCommands never need a loaded configuration.
var helpCommands = map[string]bool{
	"commands":   true,
	"examples":   true,
	"quickstart": true,
	"init":       true,
	"path":       true,
}

type commandRef struct {
	cmd  string
	desc string
}

func newCommandsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "commands",
		Short: "List all commands by category",
		Long:  "Display all available commands organized by category.",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			output.Bold("coftrader Commands")
			output.Println()

			categories := []struct {
				name     string
				commands []commandRef
			}{
				{
					name: "Backtesting",
					commands: []commandRef{
						{"run", "Backtest every configured instrument"},
						{"run --follow", "Stream trades and skipped windows"},
						{"run --chart", "Draw equity curves"},
						{"portfolio", "Weighted multi-instrument portfolio"},
						{"grid", "Entry/exit threshold grid search"},
						{"predict --positioning <v>", "Fair value at a hypothetical positioning"},
					},
				},
				{
					name: "History",
					commands: []commandRef{
						{"history", "List saved runs"},
						{"history show <run-id>", "Per-instrument summaries of a run"},
						{"history trades <run-id>", "Trade ledger of a run"},
					},
				},
				{
					name: "Configuration",
					commands: []commandRef{
						{"config init", "Write a template config.toml"},
						{"config show", "Show the resolved configuration"},
						{"config validate", "Validate the configuration"},
						{"config path", "Show the configuration directory"},
					},
				},
				{
					name: "Help",
					commands: []commandRef{
						{"help <command>", "Detailed help"},
						{"commands", "List all commands"},
						{"examples", "Common workflows"},
						{"quickstart", "New user guide"},
						{"version", "Version information"},
					},
				},
			}

			for _, cat := range categories {
				output.Bold(cat.name)
				for _, c := range cat.commands {
					output.Printf("  %-34s %s\n", output.Cyan(c.cmd), c.desc)
				}
				output.Println()
			}

			output.Dim("Use 'coftrader help <command>' for detailed help on any command")
			return nil
		},
	}
}

func newExamplesCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "examples",
		Short: "Show common workflow examples",
		Long:  "Display examples of common backtesting workflows.",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			output.Bold("Common Workflow Examples")
			output.Println()

			examples := []struct {
				title    string
				commands []string
			}{
				{
					title: "First Backtest",
					commands: []string{
						"coftrader config init                 # Write config.toml",
						"coftrader run --data cof.xlsx         # Backtest the workbook",
						"coftrader run --chart                 # Add equity charts",
					},
				},
				{
					title: "Watch a Long Run",
					commands: []string{
						"coftrader run --follow --debug        # Stream trades, log every window",
						"coftrader run --workers 4             # Limit cross-validation workers",
					},
				},
				{
					title: "Several Tenors",
					commands: []string{
						"coftrader run --instrument cof_1y,cof_2y",
						"coftrader portfolio                   # Equal weights",
						"coftrader portfolio --weight cof_1y=0.7,cof_2y=0.3",
					},
				},
				{
					title: "Tune Thresholds",
					commands: []string{
						"coftrader grid --entry 1.5,2,2.5 --exit 0,0.5 --top 5",
						"coftrader grid --instrument cof_2y --json",
					},
				},
				{
					title: "What-if Fair Value",
					commands: []string{
						"coftrader predict --positioning 150000",
						"coftrader predict --positioning -80000 --liquidity 0.15",
					},
				},
				{
					title: "Review Saved Runs",
					commands: []string{
						"coftrader history                     # Recent runs",
						"coftrader history show <run-id>",
						"coftrader history trades <run-id> --reason STOP_LOSS",
					},
				},
			}

			for _, ex := range examples {
				output.Bold(ex.title)
				for _, c := range ex.commands {
					parts := strings.SplitN(c, "#", 2)
					if len(parts) == 2 {
						output.Printf("  %s %s\n", output.Cyan(strings.TrimSpace(parts[0])), output.DimText(strings.TrimSpace(parts[1])))
					} else {
						output.Printf("  %s\n", output.Cyan(c))
					}
				}
				output.Println()
			}

			return nil
		},
	}
}

func newQuickstartCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "quickstart",
		Short: "New user guide",
		Long:  "Step-by-step guide for new users.",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			output.Bold("coftrader - Quick Start Guide")
			output.Println()

			steps := []struct {
				title string
				desc  string
				cmd   string
			}{
				{
					title: "Write a Configuration",
					desc:  "Creates config.toml in the configuration directory.",
					cmd:   "coftrader config init",
				},
				{
					title: "Point at Your Data",
					desc:  "Set data.path, the positioning column and one cost column per instrument.",
					cmd:   "coftrader config path  # Shows config directory",
				},
				{
					title: "Check the Settings",
					desc:  "Window size, smoothing grid and thresholds are validated together.",
					cmd:   "coftrader config validate",
				},
				{
					title: "Run the Backtest",
					desc:  "Fits every window, simulates positions and writes CSVs to output.dir.",
					cmd:   "coftrader run",
				},
				{
					title: "Compare Thresholds",
					desc:  "Reuses one fair-value fit across every entry/exit pair.",
					cmd:   "coftrader grid",
				},
			}

			for i, s := range steps {
				output.Printf("%s Step %d: %s\n", output.Cyan("→"), i+1, output.BoldText(s.title))
				output.Printf("  %s\n", s.desc)
				output.Printf("  %s\n\n", output.DimText(s.cmd))
			}

			output.Bold("Outputs")
			output.Println()
			output.Printf("  %s - fitted value, deviation and lambda per window\n", output.Cyan("<instrument>_fair_value.csv"))
			output.Printf("  %s - z-score, stress and signal per period\n", output.Cyan("<instrument>_signals.csv"))
			output.Printf("  %s - closed trades\n", output.Cyan("<instrument>_trades.csv"))
			output.Printf("  %s - mark-to-market equity\n", output.Cyan("<instrument>_equity.csv"))
			output.Println()

			output.Bold("Important Notes")
			output.Println()
			output.Printf("  %s max_loss is in price units, not percent\n", output.Yellow("⚠"))
			output.Printf("  %s Unstable windows are kept and reported, not skipped\n", output.Yellow("⚠"))

			return nil
		},
	}
}
