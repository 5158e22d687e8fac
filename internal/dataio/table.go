// Package dataio loads the date-indexed input table from Excel workbooks or
// CSV files and writes the result ledgers as CSV.
package dataio

import (
	"encoding/csv"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"cof-trader/internal/config"
	"cof-trader/internal/errors"
	"cof-trader/internal/models"
)

// dateLayouts are tried in order when a date cell is text.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"01/02/2006",
	"1/2/2006",
	"01-02-06",
	"1/2/06",
	"02-Jan-2006",
	"2006/01/02",
}

// Table is a parsed input sheet: a date column plus named numeric columns.
// Empty or non-numeric cells are NaN.
type Table struct {
	Source  string
	Dates   []time.Time
	Columns map[string][]float64
}

// Column returns a column by name.
func (t *Table) Column(name string) ([]float64, bool) {
	col, ok := t.Columns[name]
	return col, ok
}

// Negate flips the sign of the named columns in place.
func (t *Table) Negate(names ...string) error {
	for _, name := range names {
		col, ok := t.Columns[name]
		if !ok {
			return errors.NewDataError(t.Source, name, "negate: column not found", errors.ErrDataNotFound)
		}
		for i := range col {
			col[i] = -col[i]
		}
	}
	return nil
}

// ReadFile reads a workbook or CSV file, chosen by extension.
func ReadFile(path, sheet, dateColumn string) (*Table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm", ".xltx":
		return ReadXLSX(path, sheet, dateColumn)
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrDataNotFound, "opening %s: %v", path, err)
		}
		defer f.Close()
		return ReadCSV(path, f, dateColumn)
	default:
		return nil, errors.NewDataError(path, "", "unsupported file type "+filepath.Ext(path), errors.ErrInputValidation)
	}
}

// ReadXLSX reads one sheet of an Excel workbook. An empty sheet name selects
// the first sheet.
func ReadXLSX(path, sheet, dateColumn string) (*Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrDataNotFound, "opening %s: %v", path, err)
	}
	defer f.Close()

	if idx, err := f.GetSheetIndex(sheet); sheet == "" || err != nil || idx < 0 {
		list := f.GetSheetList()
		if sheet != "" || len(list) == 0 {
			return nil, errors.NewDataError(path, sheet, "sheet not found", errors.ErrDataNotFound)
		}
		sheet = list[0]
	}

	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, errors.NewDataError(path, sheet, "reading rows", err)
	}
	return parseRows(path, rows, dateColumn)
}

// ReadCSV reads a CSV stream whose first row is the header.
func ReadCSV(source string, r io.Reader, dateColumn string) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, errors.NewDataError(source, "", "reading csv", err)
	}
	return parseRows(source, rows, dateColumn)
}

func parseRows(source string, rows [][]string, dateColumn string) (*Table, error) {
	if len(rows) < 2 {
		return nil, errors.NewDataError(source, "", "no data rows", errors.ErrDataNotFound)
	}

	header := rows[0]
	dateIdx := -1
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), dateColumn) {
			dateIdx = i
			break
		}
	}
	// Index-style sheets keep dates in an unnamed first column.
	if dateIdx < 0 && len(header) > 0 && strings.TrimSpace(header[0]) == "" {
		dateIdx = 0
	}
	if dateIdx < 0 {
		return nil, errors.NewDataError(source, dateColumn, "date column not found", errors.ErrDataNotFound)
	}

	t := &Table{Source: source, Columns: make(map[string][]float64)}
	names := make([]string, len(header))
	for i, h := range header {
		if i == dateIdx {
			continue
		}
		names[i] = strings.TrimSpace(h)
		if names[i] != "" {
			t.Columns[names[i]] = nil
		}
	}

	for r, row := range rows[1:] {
		if blank(row) {
			continue
		}
		if dateIdx >= len(row) {
			return nil, errors.NewDataError(source, dateColumn, "row "+strconv.Itoa(r+2)+": missing date", errors.ErrInputValidation)
		}
		date, err := ParseDate(row[dateIdx])
		if err != nil {
			return nil, errors.NewDataError(source, dateColumn, "row "+strconv.Itoa(r+2), err)
		}
		t.Dates = append(t.Dates, date)
		for i, name := range names {
			if name == "" {
				continue
			}
			v := math.NaN()
			if i < len(row) {
				v = parseNumber(row[i])
			}
			t.Columns[name] = append(t.Columns[name], v)
		}
	}
	if len(t.Dates) == 0 {
		return nil, errors.NewDataError(source, "", "no data rows", errors.ErrDataNotFound)
	}
	return t, nil
}

// ParseDate parses a text date or an Excel serial date number.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	if serial, err := strconv.ParseFloat(s, 64); err == nil && serial > 0 {
		return excelize.ExcelDateToTime(serial, false)
	}
	return time.Time{}, errors.Wrapf(errors.ErrInputValidation, "unrecognised date %q", s)
}

func parseNumber(s string) float64 {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// Series builds the raw observation series of one instrument. Rows are
// kept as read; ordering and gap filling belong to the aligner.
func (t *Table) Series(cfg config.DataConfig, instrument string) (*models.Series, error) {
	positioning, ok := t.Column(cfg.PositioningColumn)
	if !ok {
		return nil, errors.NewDataError(t.Source, cfg.PositioningColumn, "positioning column not found", errors.ErrDataNotFound)
	}
	cost, ok := t.Column(instrument)
	if !ok {
		return nil, errors.NewDataError(t.Source, instrument, "instrument column not found", errors.ErrUnknownInstrument)
	}

	liquidity := make(map[string][]float64, len(cfg.LiquidityColumns))
	for _, name := range cfg.LiquidityColumns {
		col, ok := t.Column(name)
		if !ok {
			return nil, errors.NewDataError(t.Source, name, "liquidity column not found", errors.ErrDataNotFound)
		}
		liquidity[name] = col
	}

	series := &models.Series{
		Instrument:       instrument,
		LiquidityColumns: append([]string(nil), cfg.LiquidityColumns...),
		Observations:     make([]models.Observation, len(t.Dates)),
	}
	for i, d := range t.Dates {
		obs := models.Observation{
			Date:        d,
			Positioning: positioning[i],
			Cost:        cost[i],
			Liquidity:   make(map[string]float64, len(liquidity)),
		}
		for name, col := range liquidity {
			obs.Liquidity[name] = col[i]
		}
		series.Observations[i] = obs
	}
	return series, nil
}

// Load reads the configured input and returns one series per instrument,
// in configuration order.
func Load(cfg config.DataConfig) ([]*models.Series, error) {
	if cfg.Path == "" {
		return nil, errors.NewValidationError("data.path", "", "input path is required")
	}
	table, err := ReadFile(cfg.Path, cfg.Sheet, cfg.DateColumn)
	if err != nil {
		return nil, err
	}
	if err := table.Negate(cfg.NegateColumns...); err != nil {
		return nil, err
	}

	out := make([]*models.Series, 0, len(cfg.Instruments))
	for _, inst := range cfg.Instruments {
		s, err := table.Series(cfg, inst)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
