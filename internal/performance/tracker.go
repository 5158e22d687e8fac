// Package performance derives risk and return statistics from a trade ledger
// and its mark-to-market equity series. Every function here is a read-only
// view over its inputs.
package performance

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"

	"cof-trader/internal/config"
	"cof-trader/internal/models"
)

// Summary is the performance report of one instrument.
type Summary struct {
	Instrument       string                    `json:"instrument"`
	Periods          int                       `json:"periods"`
	NumTrades        int                       `json:"num_trades"`
	Wins             int                       `json:"wins"`
	Losses           int                       `json:"losses"`
	TotalPnL         float64                   `json:"total_pnl"`
	FinalEquity      float64                   `json:"final_equity"`
	TotalReturn      float64                   `json:"total_return"`
	AnnualizedReturn float64                   `json:"annualized_return"`
	Volatility       float64                   `json:"volatility"`
	SharpeRatio      float64                   `json:"sharpe_ratio"`
	MaxDrawdown      float64                   `json:"max_drawdown"`
	WinRate          float64                   `json:"win_rate"`
	AvgWin           float64                   `json:"avg_win"`
	AvgLoss          float64                   `json:"avg_loss"`
	WinLossRatio     float64                   `json:"win_loss_ratio"`
	ProfitFactor     float64                   `json:"profit_factor"`
	AvgDuration      time.Duration             `json:"avg_duration"`
	AvgWinDuration   time.Duration             `json:"avg_win_duration"`
	AvgLossDuration  time.Duration             `json:"avg_loss_duration"`
	AvgPeriods       float64                   `json:"avg_periods"`
	ExitReasons      map[models.ExitReason]int `json:"exit_reasons"`
	OpenPosition     bool                      `json:"open_position"`
}

// Tracker computes performance summaries.
type Tracker struct {
	periodsPerYear float64
	initialCapital float64
}

// NewTracker creates a Tracker. Returns are relative to equity when
// initialCapital is positive and absolute PnL changes otherwise.
func NewTracker(cfg config.PerformanceConfig, initialCapital float64) *Tracker {
	ppy := cfg.PeriodsPerYear
	if ppy <= 0 {
		ppy = 252
	}
	return &Tracker{periodsPerYear: ppy, initialCapital: initialCapital}
}

// Summarize builds the report for one instrument.
func (t *Tracker) Summarize(instrument string, trades []models.Trade, marks []models.MarkPoint) Summary {
	s := Summary{
		Instrument:  instrument,
		Periods:     len(marks),
		NumTrades:   len(trades),
		FinalEquity: t.initialCapital,
		ExitReasons: make(map[models.ExitReason]int),
	}

	if len(marks) > 0 {
		last := marks[len(marks)-1]
		s.FinalEquity = last.Equity
		s.OpenPosition = last.Direction != models.Flat
	}
	s.TotalReturn = s.FinalEquity - t.initialCapital
	if t.initialCapital > 0 {
		s.TotalReturn /= t.initialCapital
	}

	returns := t.Returns(marks)
	s.SharpeRatio = Sharpe(returns, t.periodsPerYear)
	if len(returns) > 0 {
		mean, std := stat.MeanStdDev(returns, nil)
		s.AnnualizedReturn = mean * t.periodsPerYear
		if len(returns) > 1 {
			s.Volatility = std * math.Sqrt(t.periodsPerYear)
		}
	}
	s.MaxDrawdown = MaxDrawdown(Equity(marks))

	t.tradeStats(&s, trades)
	return s
}

func (t *Tracker) tradeStats(s *Summary, trades []models.Trade) {
	if len(trades) == 0 {
		return
	}

	var wins, losses []float64
	var winDur, lossDur, allDur time.Duration
	var periods int
	for _, tr := range trades {
		s.TotalPnL += tr.PnL
		s.ExitReasons[tr.ExitReason]++
		allDur += tr.Duration
		periods += tr.Periods
		switch {
		case tr.PnL > 0:
			wins = append(wins, tr.PnL)
			winDur += tr.Duration
		case tr.PnL < 0:
			losses = append(losses, tr.PnL)
			lossDur += tr.Duration
		}
	}

	s.Wins, s.Losses = len(wins), len(losses)
	s.WinRate = float64(len(wins)) / float64(len(trades))
	s.AvgDuration = allDur / time.Duration(len(trades))
	s.AvgPeriods = float64(periods) / float64(len(trades))

	if len(wins) > 0 {
		s.AvgWin = stat.Mean(wins, nil)
		s.AvgWinDuration = winDur / time.Duration(len(wins))
	}
	if len(losses) > 0 {
		s.AvgLoss = stat.Mean(losses, nil)
		s.AvgLossDuration = lossDur / time.Duration(len(losses))
	}
	if s.AvgLoss != 0 {
		s.WinLossRatio = s.AvgWin / math.Abs(s.AvgLoss)
		s.ProfitFactor = s.AvgWin * float64(len(wins)) / (math.Abs(s.AvgLoss) * float64(len(losses)))
	}
}

// Equity extracts the equity column of a mark series.
func Equity(marks []models.MarkPoint) []float64 {
	eq := make([]float64, len(marks))
	for i, m := range marks {
		eq[i] = m.Equity
	}
	return eq
}

// Returns computes per-period returns from the mark series.
func (t *Tracker) Returns(marks []models.MarkPoint) []float64 {
	if len(marks) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(marks)-1)
	for i := 1; i < len(marks); i++ {
		prev, cur := marks[i-1].Equity, marks[i].Equity
		if t.initialCapital > 0 {
			if prev <= 0 {
				continue
			}
			returns = append(returns, (cur-prev)/prev)
			continue
		}
		returns = append(returns, cur-prev)
	}
	return returns
}

// Sharpe returns mean/std of returns scaled by the square root of the
// number of periods per year. Flat or too-short series score zero.
func Sharpe(returns []float64, periodsPerYear float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean, std := stat.MeanStdDev(returns, nil)
	if std == 0 || math.IsNaN(std) {
		return 0
	}
	return mean / std * math.Sqrt(periodsPerYear)
}

// MaxDrawdown returns the largest peak-to-trough decline of equity as a
// non-negative magnitude.
func MaxDrawdown(equity []float64) float64 {
	if len(equity) == 0 {
		return 0
	}
	peak := equity[0]
	maxDD := 0.0
	for _, e := range equity {
		if e > peak {
			peak = e
		}
		if dd := peak - e; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// Ranking orders summaries by Sharpe ratio, best first.
type Ranking struct {
	Label   string  `json:"label"`
	Summary Summary `json:"summary"`
}

// Rank sorts labelled summaries by Sharpe ratio descending; ties keep label order.
func Rank(results map[string]Summary) []Ranking {
	out := make([]Ranking, 0, len(results))
	for label, s := range results {
		out = append(out, Ranking{Label: label, Summary: s})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Summary.SharpeRatio != out[j].Summary.SharpeRatio {
			return out[i].Summary.SharpeRatio > out[j].Summary.SharpeRatio
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// EquityChart renders the equity series as an ASCII chart.
func EquityChart(marks []models.MarkPoint, width, height int) string {
	if len(marks) == 0 || width <= 0 || height <= 0 {
		return "No data to display"
	}

	lo, hi := marks[0].Equity, marks[0].Equity
	for _, m := range marks {
		lo = math.Min(lo, m.Equity)
		hi = math.Max(hi, m.Equity)
	}
	span := hi - lo
	if span == 0 {
		span = 1
	}
	lo -= span * 0.05
	hi += span * 0.05
	span = hi - lo

	grid := make([][]rune, height)
	for i := range grid {
		grid[i] = []rune(strings.Repeat(" ", width))
	}

	step := len(marks) / width
	if step == 0 {
		step = 1
	}
	for x := 0; x < width && x*step < len(marks); x++ {
		y := int((marks[x*step].Equity - lo) / span * float64(height-1))
		if y >= 0 && y < height {
			grid[height-1-y][x] = '█'
		}
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Equity (%.2f to %.2f)\n", lo, hi))
	sb.WriteString(strings.Repeat("─", width+2) + "\n")
	for _, row := range grid {
		sb.WriteRune('│')
		sb.WriteString(string(row))
		sb.WriteString("│\n")
	}
	sb.WriteString(strings.Repeat("─", width+2) + "\n")
	return sb.String()
}
