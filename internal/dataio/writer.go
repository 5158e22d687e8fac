package dataio

import (
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"

	"cof-trader/internal/models"
)

const dateFormat = "2006-01-02"

type fairValueRow struct {
	Date           string `csv:"date"`
	Actual         string `csv:"actual"`
	Predicted      string `csv:"predicted_value"`
	CleanPredicted string `csv:"clean_predicted_value"`
	Lambda         string `csv:"chosen_lambda"`
	RSquared       string `csv:"r_squared"`
	MSE            string `csv:"mse"`
	NPoints        string `csv:"n_points"`
	CVStdDev       string `csv:"cv_std"`
	Unstable       string `csv:"unstable"`
	Skip           string `csv:"skip_reason"`
	CarriedFwd     string `csv:"carried_forward"`
	Detail         string `csv:"skip_detail"`
}

type signalRow struct {
	Date       string `csv:"date"`
	Price      string `csv:"price"`
	Deviation  string `csv:"deviation"`
	ZScore     string `csv:"z_score"`
	Stress     string `csv:"liquidity_stress"`
	Direction  string `csv:"direction"`
	GatePassed string `csv:"gate_passed"`
}

type tradeRow struct {
	ID         string `csv:"id"`
	EntryDate  string `csv:"entry_date"`
	ExitDate   string `csv:"exit_date"`
	Direction  string `csv:"direction"`
	SizePath   string `csv:"size_path"`
	EntryPrice string `csv:"entry_price"`
	ExitPrice  string `csv:"exit_price"`
	Cost       string `csv:"cost"`
	PnL        string `csv:"pnl"`
	Duration   string `csv:"duration_days"`
	Periods    string `csv:"periods"`
	ExitReason string `csv:"exit_reason"`
}

type markRow struct {
	Date       string `csv:"date"`
	Direction  string `csv:"direction"`
	Size       string `csv:"size"`
	Realized   string `csv:"realized_pnl"`
	Unrealized string `csv:"unrealized_pnl"`
	Equity     string `csv:"equity"`
}

// formatFloat renders v in its shortest exact form; NaN is written empty.
func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// WriteFairValues writes the fair-value series, one row per window,
// including skipped windows with their reason.
func WriteFairValues(w io.Writer, outcomes []models.FitOutcome) error {
	rows := make([]fairValueRow, 0, len(outcomes))
	for _, o := range outcomes {
		row := fairValueRow{
			Date:       o.Date.Format(dateFormat),
			Actual:     formatFloat(o.Actual),
			Skip:       string(o.Skip),
			CarriedFwd: strconv.FormatBool(o.CarriedFwd),
			Detail:     o.SkipDetail,
		}
		if o.HasFit {
			row.Predicted = formatFloat(o.Fit.Predicted)
			row.CleanPredicted = formatFloat(o.Fit.CleanPredicted)
			row.Lambda = formatFloat(o.Fit.Lambda)
			row.RSquared = formatFloat(o.Fit.RSquared)
			row.MSE = formatFloat(o.Fit.MSE)
			row.NPoints = strconv.Itoa(o.Fit.NPoints)
			row.CVStdDev = formatFloat(o.Fit.CVStdDev)
			row.Unstable = strconv.FormatBool(o.Fit.Unstable)
		}
		rows = append(rows, row)
	}
	return gocsv.Marshal(rows, w)
}

// WriteSignals writes the per-period signal series.
func WriteSignals(w io.Writer, signals []models.Signal) error {
	rows := make([]signalRow, 0, len(signals))
	for _, s := range signals {
		rows = append(rows, signalRow{
			Date:       s.Date.Format(dateFormat),
			Price:      formatFloat(s.Price),
			Deviation:  formatFloat(s.Deviation),
			ZScore:     formatFloat(s.ZScore),
			Stress:     formatFloat(s.LiquidityStress),
			Direction:  string(s.Direction),
			GatePassed: strconv.FormatBool(s.GatePassed),
		})
	}
	return gocsv.Marshal(rows, w)
}

// WriteTrades writes the trade ledger.
func WriteTrades(w io.Writer, trades []models.Trade) error {
	rows := make([]tradeRow, 0, len(trades))
	for _, t := range trades {
		path := make([]string, len(t.SizePath))
		for i, s := range t.SizePath {
			path[i] = formatFloat(s)
		}
		rows = append(rows, tradeRow{
			ID:         t.ID,
			EntryDate:  t.EntryDate.Format(dateFormat),
			ExitDate:   t.ExitDate.Format(dateFormat),
			Direction:  string(t.Direction),
			SizePath:   strings.Join(path, "|"),
			EntryPrice: formatFloat(t.EntryPrice),
			ExitPrice:  formatFloat(t.ExitPrice),
			Cost:       formatFloat(t.Cost),
			PnL:        formatFloat(t.PnL),
			Duration:   formatFloat(t.Duration.Hours() / 24),
			Periods:    strconv.Itoa(t.Periods),
			ExitReason: string(t.ExitReason),
		})
	}
	return gocsv.Marshal(rows, w)
}

// WriteMarks writes the mark-to-market equity series.
func WriteMarks(w io.Writer, marks []models.MarkPoint) error {
	rows := make([]markRow, 0, len(marks))
	for _, m := range marks {
		rows = append(rows, markRow{
			Date:       m.Date.Format(dateFormat),
			Direction:  string(m.Direction),
			Size:       formatFloat(m.Size),
			Realized:   formatFloat(m.Realized),
			Unrealized: formatFloat(m.Unrealized),
			Equity:     formatFloat(m.Equity),
		})
	}
	return gocsv.Marshal(rows, w)
}

// WriteFile creates path, including parent directories, and fills it with write.
func WriteFile(path string, write func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
