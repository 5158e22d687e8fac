package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"cof-trader/internal/models"
	"cof-trader/internal/performance"
)

// SQLiteStore implements ResultStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- One row per backtest invocation
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		created_at DATETIME NOT NULL,
		source TEXT,
		config TEXT
	);

	-- Per-instrument summary of a run
	CREATE TABLE IF NOT EXISTS run_instruments (
		run_id TEXT NOT NULL,
		instrument TEXT NOT NULL,
		liquidity_beta REAL,
		summary TEXT NOT NULL,
		PRIMARY KEY (run_id, instrument),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	-- Fair-value series, including skipped windows
	CREATE TABLE IF NOT EXISTS fair_values (
		run_id TEXT NOT NULL,
		instrument TEXT NOT NULL,
		date DATETIME NOT NULL,
		actual REAL,
		has_fit INTEGER NOT NULL,
		predicted REAL,
		clean_predicted REAL,
		lambda REAL,
		r_squared REAL,
		mse REAL,
		n_points INTEGER,
		cv_mean REAL,
		cv_std REAL,
		unstable INTEGER DEFAULT 0,
		skip_reason TEXT,
		skip_detail TEXT,
		carried_forward INTEGER DEFAULT 0,
		PRIMARY KEY (run_id, instrument, date),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	-- Trade ledger
	CREATE TABLE IF NOT EXISTS trades (
		run_id TEXT NOT NULL,
		id TEXT NOT NULL,
		instrument TEXT NOT NULL,
		entry_date DATETIME NOT NULL,
		exit_date DATETIME NOT NULL,
		direction TEXT NOT NULL,
		size_path TEXT NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		cost REAL NOT NULL,
		pnl REAL NOT NULL,
		duration INTEGER NOT NULL,
		periods INTEGER NOT NULL,
		exit_reason TEXT NOT NULL,
		PRIMARY KEY (run_id, id),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
	CREATE INDEX IF NOT EXISTS idx_trades_instrument ON trades(run_id, instrument, entry_date);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// IsBusy reports whether err is SQLite lock contention that may clear on retry.
func IsBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

// nullable maps NaN to SQL NULL.
func nullable(v float64) interface{} {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

func fromNull(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// SaveRun stores a run and all its per-instrument outputs in one
// transaction. An empty ID is assigned a new UUID.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs (id, created_at, source, config) VALUES (?, ?, ?, ?)
	`, run.ID, run.CreatedAt, run.Source, run.Config); err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	instStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO run_instruments (run_id, instrument, liquidity_beta, summary) VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer instStmt.Close()

	fvStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO fair_values (run_id, instrument, date, actual, has_fit, predicted, clean_predicted,
			lambda, r_squared, mse, n_points, cv_mean, cv_std, unstable, skip_reason, skip_detail, carried_forward)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer fvStmt.Close()

	tradeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trades (run_id, id, instrument, entry_date, exit_date, direction, size_path,
			entry_price, exit_price, cost, pnl, duration, periods, exit_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer tradeStmt.Close()

	for _, inst := range run.Instruments {
		summary, err := json.Marshal(sanitizeSummary(inst.Summary))
		if err != nil {
			return fmt.Errorf("failed to encode summary: %w", err)
		}
		if _, err := instStmt.ExecContext(ctx, run.ID, inst.Instrument, nullable(inst.LiquidityBeta), string(summary)); err != nil {
			return fmt.Errorf("failed to insert run instrument: %w", err)
		}

		for _, o := range inst.Outcomes {
			f := o.Fit
			if _, err := fvStmt.ExecContext(ctx, run.ID, inst.Instrument, o.Date, nullable(o.Actual), boolInt(o.HasFit),
				nullable(f.Predicted), nullable(f.CleanPredicted), nullable(f.Lambda), nullable(f.RSquared),
				nullable(f.MSE), f.NPoints, nullable(f.CVMean), nullable(f.CVStdDev), boolInt(f.Unstable),
				string(o.Skip), o.SkipDetail, boolInt(o.CarriedFwd)); err != nil {
				return fmt.Errorf("failed to insert fair value: %w", err)
			}
		}

		for _, t := range inst.Trades {
			sizePath, _ := json.Marshal(t.SizePath)
			if _, err := tradeStmt.ExecContext(ctx, run.ID, t.ID, inst.Instrument, t.EntryDate, t.ExitDate,
				string(t.Direction), string(sizePath), t.EntryPrice, t.ExitPrice, t.Cost, t.PnL,
				int64(t.Duration), t.Periods, string(t.ExitReason)); err != nil {
				return fmt.Errorf("failed to insert trade: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// sanitizeSummary replaces non-finite values, which JSON cannot encode.
func sanitizeSummary(s performance.Summary) performance.Summary {
	for _, p := range []*float64{
		&s.TotalPnL, &s.FinalEquity, &s.TotalReturn, &s.AnnualizedReturn, &s.Volatility,
		&s.SharpeRatio, &s.MaxDrawdown, &s.WinRate, &s.AvgWin, &s.AvgLoss,
		&s.WinLossRatio, &s.ProfitFactor, &s.AvgPeriods,
	} {
		if math.IsNaN(*p) || math.IsInf(*p, 0) {
			*p = 0
		}
	}
	return s
}

// ListRuns returns the most recent runs first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	query := `
		SELECT r.id, r.created_at, COALESCE(r.source, ''), COALESCE(GROUP_CONCAT(ri.instrument, ','), '')
		FROM runs r
		LEFT JOIN run_instruments ri ON ri.run_id = r.id
		GROUP BY r.id
		ORDER BY r.created_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		var instruments string
		if err := rows.Scan(&r.ID, &r.CreatedAt, &r.Source, &instruments); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if instruments != "" {
			r.Instruments = strings.Split(instruments, ",")
			sort.Strings(r.Instruments)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	for i := range runs {
		if err := s.db.QueryRowContext(ctx, `
			SELECT COUNT(*), COALESCE(SUM(pnl), 0) FROM trades WHERE run_id = ?
		`, runs[i].ID).Scan(&runs[i].NumTrades, &runs[i].TotalPnL); err != nil {
			return nil, fmt.Errorf("failed to total trades: %w", err)
		}
	}
	return runs, nil
}

// GetFairValues returns the stored fair-value series of one instrument.
func (s *SQLiteStore) GetFairValues(ctx context.Context, runID, instrument string) ([]models.FitOutcome, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, actual, has_fit, predicted, clean_predicted, lambda, r_squared, mse, n_points,
			cv_mean, cv_std, unstable, skip_reason, skip_detail, carried_forward
		FROM fair_values
		WHERE run_id = ? AND instrument = ?
		ORDER BY date ASC
	`, runID, instrument)
	if err != nil {
		return nil, fmt.Errorf("failed to query fair values: %w", err)
	}
	defer rows.Close()

	var out []models.FitOutcome
	for rows.Next() {
		var (
			o                                    models.FitOutcome
			actual, pred, clean, lambda, r2, mse sql.NullFloat64
			cvMean, cvStd                        sql.NullFloat64
			hasFit, unstable, carried, nPoints   int
			skip, detail                         sql.NullString
		)
		if err := rows.Scan(&o.Date, &actual, &hasFit, &pred, &clean, &lambda, &r2, &mse, &nPoints,
			&cvMean, &cvStd, &unstable, &skip, &detail, &carried); err != nil {
			return nil, fmt.Errorf("failed to scan fair value: %w", err)
		}
		o.Actual = fromNull(actual)
		o.HasFit = hasFit == 1
		o.Skip = models.SkipReason(skip.String)
		o.SkipDetail = detail.String
		o.CarriedFwd = carried == 1
		if o.HasFit {
			o.Fit = models.WindowFit{
				WindowEnd:      o.Date,
				Lambda:         fromNull(lambda),
				Predicted:      fromNull(pred),
				CleanPredicted: fromNull(clean),
				RSquared:       fromNull(r2),
				MSE:            fromNull(mse),
				NPoints:        nPoints,
				CVMean:         fromNull(cvMean),
				CVStdDev:       fromNull(cvStd),
				Unstable:       unstable == 1,
			}
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// GetTrades retrieves trades matching the filter in entry order.
func (s *SQLiteStore) GetTrades(ctx context.Context, filter TradeFilter) ([]models.Trade, error) {
	query := `SELECT id, instrument, entry_date, exit_date, direction, size_path, entry_price, exit_price,
		cost, pnl, duration, periods, exit_reason FROM trades WHERE 1=1`
	args := []interface{}{}

	if filter.RunID != "" {
		query += " AND run_id = ?"
		args = append(args, filter.RunID)
	}
	if filter.Instrument != "" {
		query += " AND instrument = ?"
		args = append(args, filter.Instrument)
	}
	if filter.ExitReason != "" {
		query += " AND exit_reason = ?"
		args = append(args, string(filter.ExitReason))
	}

	query += " ORDER BY instrument ASC, entry_date ASC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		var t models.Trade
		var sizePath, direction, reason string
		var durationNs int64
		if err := rows.Scan(&t.ID, &t.Instrument, &t.EntryDate, &t.ExitDate, &direction, &sizePath,
			&t.EntryPrice, &t.ExitPrice, &t.Cost, &t.PnL, &durationNs, &t.Periods, &reason); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		if err := json.Unmarshal([]byte(sizePath), &t.SizePath); err != nil {
			return nil, fmt.Errorf("failed to decode size path of %s: %w", t.ID, err)
		}
		t.Direction = models.Direction(direction)
		t.ExitReason = models.ExitReason(reason)
		t.Duration = time.Duration(durationNs)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// GetSummaries returns the per-instrument summaries of a run.
func (s *SQLiteStore) GetSummaries(ctx context.Context, runID string) (map[string]performance.Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT instrument, summary FROM run_instruments WHERE run_id = ?
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query summaries: %w", err)
	}
	defer rows.Close()

	out := make(map[string]performance.Summary)
	for rows.Next() {
		var inst, raw string
		if err := rows.Scan(&inst, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		var sum performance.Summary
		if err := json.Unmarshal([]byte(raw), &sum); err != nil {
			return nil, fmt.Errorf("failed to decode summary of %s: %w", inst, err)
		}
		out[inst] = sum
	}
	return out, rows.Err()
}
