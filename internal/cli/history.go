package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"cof-trader/internal/models"
	"cof-trader/internal/store"
)

func addHistoryCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Browse persisted backtest runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			limit, _ := cmd.Flags().GetInt("limit")

			s, err := app.openStore()
			if err != nil {
				return err
			}
			runs, err := s.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(runs)
			}
			if len(runs) == 0 {
				output.Info("No runs recorded in %s", app.Config.Output.DBPath)
				return nil
			}
			table := NewTable(output, "Run", "Created", "Instruments", "Trades", "PnL")
			for _, r := range runs {
				table.AddRow(
					r.ID,
					r.CreatedAt.Local().Format("2006-01-02 15:04"),
					TruncateString(strings.Join(r.Instruments, ","), 40),
					fmt.Sprintf("%d", r.NumTrades),
					output.FormatPnL(r.TotalPnL),
				)
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "number of runs to list")

	cmd.AddCommand(newHistoryShowCmd(app))
	cmd.AddCommand(newHistoryTradesCmd(app))
	rootCmd.AddCommand(cmd)
}

func newHistoryShowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the performance summaries of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			s, err := app.openStore()
			if err != nil {
				return err
			}
			summaries, err := s.GetSummaries(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(summaries)
			}
			if len(summaries) == 0 {
				output.Warning("Run %s not found", args[0])
				return nil
			}

			names := make([]string, 0, len(summaries))
			for name := range summaries {
				names = append(names, name)
			}
			sort.Strings(names)

			table := NewTable(output, "Instrument", "Trades", "PnL", "Sharpe", "Max DD", "Win Rate", "Avg Hold")
			for _, name := range names {
				sum := summaries[name]
				table.AddRow(
					name,
					fmt.Sprintf("%d", sum.NumTrades),
					output.FormatPnL(sum.TotalPnL),
					FormatRatio(sum.SharpeRatio),
					FormatNumber(sum.MaxDrawdown, 4),
					FormatPercent(sum.WinRate),
					FormatDuration(sum.AvgDuration),
				)
			}
			table.Render()
			return nil
		},
	}
}

func newHistoryTradesCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trades <run-id>",
		Short: "List the trade ledger of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			instrument, _ := cmd.Flags().GetString("instrument")
			reason, _ := cmd.Flags().GetString("reason")

			s, err := app.openStore()
			if err != nil {
				return err
			}
			trades, err := s.GetTrades(cmd.Context(), store.TradeFilter{
				RunID:      args[0],
				Instrument: instrument,
				ExitReason: models.ExitReason(strings.ToUpper(reason)),
			})
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(trades)
			}
			table := NewTable(output, "ID", "Entry", "Exit", "Side", "PnL", "Reason")
			for _, t := range trades {
				table.AddRow(
					t.ID,
					FormatDate(t.EntryDate),
					FormatDate(t.ExitDate),
					output.Direction(t.Direction),
					output.FormatPnL(t.PnL),
					string(t.ExitReason),
				)
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().String("instrument", "", "filter by instrument")
	cmd.Flags().String("reason", "", "filter by exit reason (SIGNAL_REVERSAL, STOP_LOSS, LIQUIDITY_GATE)")
	return cmd
}
