package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"cof-trader/internal/backtest"
	"cof-trader/internal/dataio"
	"cof-trader/internal/errors"
	"cof-trader/internal/metrics"
	"cof-trader/internal/models"
	"cof-trader/internal/notify"
	"cof-trader/internal/performance"
	"cof-trader/internal/store"
	"cof-trader/pkg/utils"
)

func addBacktestCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newRunCmd(app))
	rootCmd.AddCommand(newPortfolioCmd(app))
	rootCmd.AddCommand(newGridCmd(app))
	rootCmd.AddCommand(newPredictCmd(app))
}

// loadSeries reads the input table, optionally restricted to instruments.
func (app *App) loadSeries(instruments []string) ([]*models.Series, error) {
	dataCfg := app.Config.Data
	if len(instruments) > 0 {
		dataCfg.Instruments = instruments
	}
	return dataio.Load(dataCfg)
}

// execute runs every instrument and writes CSV outputs, the run record and
// the metrics textfile as configured.
func (app *App) execute(cmd *cobra.Command, instruments []string) ([]*backtest.Result, *backtest.Runner, string, error) {
	series, err := app.loadSeries(instruments)
	if err != nil {
		return nil, nil, "", err
	}

	recorder := metrics.NewRecorder()
	observer := backtest.Observers{recorder}
	// Only run and portfolio define --follow.
	if follow, _ := cmd.Flags().GetBool("follow"); follow {
		terminal := notify.NewTerminal(cmd.ErrOrStderr(), 256)
		terminal.Start(cmd.Context())
		defer terminal.Close()
		observer = append(observer, terminal)
	}

	runner, err := backtest.New(app.Config, app.Logger, backtest.WithObserver(observer))
	if err != nil {
		return nil, nil, "", err
	}

	results, err := runner.RunAll(cmd.Context(), series)
	if err != nil {
		return nil, nil, "", err
	}

	if app.Config.Output.Dir != "" {
		for _, res := range results {
			if err := writeOutputs(app.Config.Output.Dir, res); err != nil {
				return nil, nil, "", fmt.Errorf("writing outputs for %s: %w", res.Instrument, err)
			}
		}
	}

	var runID string
	if app.Config.Output.Persist {
		if runID, err = app.persist(cmd.Context(), results); err != nil {
			return nil, nil, "", fmt.Errorf("persisting run: %w", err)
		}
	}

	if app.Config.Output.MetricsFile != "" {
		if err := recorder.WriteTextfile(app.Config.Output.MetricsFile); err != nil {
			return nil, nil, "", fmt.Errorf("writing metrics: %w", err)
		}
	}
	return results, runner, runID, nil
}

func writeOutputs(dir string, res *backtest.Result) error {
	base := filepath.Join(dir, res.Instrument)
	files := []struct {
		suffix string
		write  func(io.Writer) error
	}{
		{"_fair_value.csv", func(w io.Writer) error { return dataio.WriteFairValues(w, res.FairValue.Outcomes) }},
		{"_signals.csv", func(w io.Writer) error { return dataio.WriteSignals(w, res.Signals) }},
		{"_trades.csv", func(w io.Writer) error { return dataio.WriteTrades(w, res.Trades) }},
		{"_equity.csv", func(w io.Writer) error { return dataio.WriteMarks(w, res.Marks) }},
	}
	for _, f := range files {
		if err := dataio.WriteFile(base+f.suffix, f.write); err != nil {
			return err
		}
	}
	return nil
}

func (app *App) persist(ctx context.Context, results []*backtest.Result) (string, error) {
	s, err := app.openStore()
	if err != nil {
		return "", err
	}
	cfgJSON, err := json.Marshal(app.Config)
	if err != nil {
		return "", err
	}

	run := &store.Run{
		CreatedAt: time.Now().UTC(),
		Source:    app.Config.Data.Path,
		Config:    string(cfgJSON),
	}
	for _, res := range results {
		run.Instruments = append(run.Instruments, store.InstrumentRun{
			Instrument:    res.Instrument,
			LiquidityBeta: res.FairValue.LiquidityBeta,
			Outcomes:      res.FairValue.Outcomes,
			Trades:        res.Trades,
			Summary:       res.Summary,
		})
	}
	// Another process may hold the database briefly.
	retry := utils.DefaultRetryConfig()
	retry.Retryable = store.IsBusy
	if err := utils.Retry(ctx, retry, func() error { return s.SaveRun(ctx, run) }); err != nil {
		return "", err
	}
	return run.ID, nil
}

func newRunCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Backtest the configured instruments",
		Long: `Run the full pipeline for every configured instrument: align the input,
fit the rolling fair-value curve, generate signals, simulate positions and
report performance. CSV outputs are written to output.dir.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			instruments, _ := cmd.Flags().GetStringSlice("instrument")
			chart, _ := cmd.Flags().GetBool("chart")

			results, _, runID, err := app.execute(cmd, instruments)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				summaries := make([]performance.Summary, 0, len(results))
				for _, res := range results {
					summaries = append(summaries, res.Summary)
				}
				return output.JSON(map[string]interface{}{"run_id": runID, "summaries": summaries})
			}

			for _, res := range results {
				displayResult(output, res)
				if chart {
					output.Println(performance.EquityChart(res.Marks, 60, 12))
				}
			}
			if runID != "" {
				output.Dim("Run %s saved to %s", runID, app.Config.Output.DBPath)
			}
			return nil
		},
	}
	cmd.Flags().StringSlice("instrument", nil, "instruments to run (default: data.instruments)")
	cmd.Flags().Bool("chart", false, "draw an ASCII equity chart")
	cmd.Flags().Bool("follow", false, "print trades and skipped windows as they happen")
	return cmd
}

func displayResult(output *Output, res *backtest.Result) {
	s := res.Summary
	fv := res.FairValue
	skipped := len(fv.Outcomes) - fv.Fitted()

	lines := []string{
		fmt.Sprintf("Windows:        %d fitted, %d skipped, %d unstable", fv.Fitted(), skipped, len(fv.Warnings)),
		fmt.Sprintf("Liquidity beta: %s (%s)", FormatRatio(fv.LiquidityBeta), fv.LiquidityColumn),
		fmt.Sprintf("Trades:         %d (%d wins, %d losses)", s.NumTrades, s.Wins, s.Losses),
		fmt.Sprintf("Total PnL:      %s", output.FormatPnL(s.TotalPnL)),
		fmt.Sprintf("Total return:   %s", FormatNumber(s.TotalReturn, 4)),
		fmt.Sprintf("Sharpe:         %s", FormatRatio(s.SharpeRatio)),
		fmt.Sprintf("Max drawdown:   %s", FormatNumber(s.MaxDrawdown, 4)),
		fmt.Sprintf("Win rate:       %s", FormatPercent(s.WinRate)),
		fmt.Sprintf("Win/loss:       %s", FormatRatio(s.WinLossRatio)),
		fmt.Sprintf("Avg duration:   %s", FormatDuration(s.AvgDuration)),
	}
	if res.OpenPosition != nil {
		p := res.OpenPosition
		lines = append(lines, fmt.Sprintf("Open position:  %s %.1f @ %s since %s",
			output.Direction(p.Direction), p.Size, FormatNumber(p.AvgEntry, 4), FormatDate(p.EntryDate)))
	}
	output.Box(strings.ToUpper(res.Instrument), lines)

	if len(res.Trades) == 0 {
		return
	}
	table := NewTable(output, "Entry", "Exit", "Side", "Sizes", "Entry Px", "Exit Px", "PnL", "Reason")
	for _, t := range res.Trades {
		sizes := make([]string, len(t.SizePath))
		for i, v := range t.SizePath {
			sizes[i] = fmt.Sprintf("%.1f", v)
		}
		table.AddRow(
			FormatDate(t.EntryDate),
			FormatDate(t.ExitDate),
			output.Direction(t.Direction),
			strings.Join(sizes, "→"),
			FormatNumber(t.EntryPrice, 4),
			FormatNumber(t.ExitPrice, 4),
			output.FormatPnL(t.PnL),
			string(t.ExitReason),
		)
	}
	table.Render()
	output.Println()
}

func newPortfolioCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "portfolio",
		Short: "Backtest all instruments and combine them into a weighted portfolio",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			weights, _ := cmd.Flags().GetStringToString("weight")

			w, err := parseWeights(weights)
			if err != nil {
				return err
			}

			results, runner, _, err := app.execute(cmd, nil)
			if err != nil {
				return err
			}
			ps, err := runner.Portfolio(results, w)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(ps)
			}

			table := NewTable(output, "Instrument", "Weight", "Trades", "PnL", "Sharpe", "Max DD")
			for _, res := range results {
				table.AddRow(
					res.Instrument,
					fmt.Sprintf("%.3f", ps.Weights[res.Instrument]),
					fmt.Sprintf("%d", res.Summary.NumTrades),
					output.FormatPnL(res.Summary.TotalPnL),
					FormatRatio(res.Summary.SharpeRatio),
					FormatNumber(res.Summary.MaxDrawdown, 4),
				)
			}
			table.Render()
			output.Println()
			output.Box("PORTFOLIO", []string{
				fmt.Sprintf("Total return:      %s", FormatNumber(ps.TotalReturn, 4)),
				fmt.Sprintf("Annualized return: %s", FormatNumber(ps.AnnualizedReturn, 4)),
				fmt.Sprintf("Volatility:        %s", FormatNumber(ps.Volatility, 4)),
				fmt.Sprintf("Sharpe:            %s", FormatRatio(ps.SharpeRatio)),
				fmt.Sprintf("Max drawdown:      %s", FormatNumber(ps.MaxDrawdown, 4)),
			})
			return nil
		},
	}
	cmd.Flags().StringToString("weight", nil, "portfolio weights, e.g. --weight cof_1y=0.6,cof_2y=0.4")
	cmd.Flags().Bool("follow", false, "print trades and skipped windows as they happen")
	return cmd
}

func parseWeights(raw map[string]string) (map[string]float64, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]float64, len(raw))
	for k, v := range raw {
		var f float64
		if _, err := fmt.Sscanf(v, "%g", &f); err != nil || f < 0 || math.IsNaN(f) {
			return nil, errors.NewValidationError("weight."+k, v, "must be a non-negative number")
		}
		out[k] = f
	}
	return out, nil
}

func newGridCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grid",
		Short: "Search entry/exit thresholds ranked by Sharpe ratio",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			instrument, _ := cmd.Flags().GetString("instrument")
			entries, _ := cmd.Flags().GetFloat64Slice("entry")
			exits, _ := cmd.Flags().GetFloat64Slice("exit")
			top, _ := cmd.Flags().GetInt("top")

			if instrument == "" {
				instrument = app.Config.Data.Instruments[0]
			}
			series, err := app.loadSeries([]string{instrument})
			if err != nil {
				return err
			}
			runner, err := backtest.New(app.Config, app.Logger)
			if err != nil {
				return err
			}
			points, err := runner.GridSearch(cmd.Context(), series[0], entries, exits)
			if err != nil {
				return err
			}
			if top > 0 && len(points) > top {
				points = points[:top]
			}

			if output.IsJSON() {
				return output.JSON(points)
			}
			output.Bold("Threshold search: %s", instrument)
			table := NewTable(output, "Entry", "Exit", "Trades", "PnL", "Sharpe", "Max DD", "Win Rate")
			for _, p := range points {
				table.AddRow(
					fmt.Sprintf("%.2f", p.EntryThreshold),
					fmt.Sprintf("%.2f", p.ExitThreshold),
					fmt.Sprintf("%d", p.Summary.NumTrades),
					output.FormatPnL(p.Summary.TotalPnL),
					FormatRatio(p.Summary.SharpeRatio),
					FormatNumber(p.Summary.MaxDrawdown, 4),
					FormatPercent(p.Summary.WinRate),
				)
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().String("instrument", "", "instrument to search (default: first configured)")
	cmd.Flags().Float64Slice("entry", []float64{1.5, 2.0, 2.5}, "entry thresholds")
	cmd.Flags().Float64Slice("exit", []float64{0.0, 0.5, 1.0}, "exit thresholds")
	cmd.Flags().Int("top", 10, "rows to show (0 for all)")
	return cmd
}

func newPredictCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Fair value at a hypothetical positioning level",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			instrument, _ := cmd.Flags().GetString("instrument")
			positioning, _ := cmd.Flags().GetFloat64("positioning")

			liquidity := math.NaN()
			if cmd.Flags().Changed("liquidity") {
				liquidity, _ = cmd.Flags().GetFloat64("liquidity")
			}
			if instrument == "" {
				instrument = app.Config.Data.Instruments[0]
			}

			series, err := app.loadSeries([]string{instrument})
			if err != nil {
				return err
			}
			runner, err := backtest.New(app.Config, app.Logger)
			if err != nil {
				return err
			}
			res, err := runner.Run(cmd.Context(), series[0])
			if err != nil {
				return err
			}
			pred, err := runner.Predict(res, positioning, liquidity)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(pred)
			}
			output.Box("FAIR VALUE: "+strings.ToUpper(instrument), []string{
				fmt.Sprintf("Positioning: %s", FormatNumber(pred.Positioning, 2)),
				fmt.Sprintf("Liquidity:   %s", FormatNumber(pred.Liquidity, 4)),
				fmt.Sprintf("Predicted:   %s", FormatNumber(pred.Predicted, 4)),
				fmt.Sprintf("Current:     %s", FormatNumber(pred.Current, 4)),
				fmt.Sprintf("Deviation:   %s", FormatNumber(pred.Deviation, 4)),
				fmt.Sprintf("Z-score:     %s", FormatRatio(pred.ZScore)),
				fmt.Sprintf("Signal:      %s", output.Direction(pred.Direction)),
			})
			return nil
		},
	}
	cmd.Flags().String("instrument", "", "instrument (default: first configured)")
	cmd.Flags().Float64("positioning", 0, "hypothetical positioning value")
	cmd.Flags().Float64("liquidity", 0, "liquidity indicator level (default: latest observed)")
	cmd.MarkFlagRequired("positioning")
	return cmd
}
