package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync/atomic"

	_ "github.com/mattn/go-sqlite3"

	apperrors "pnl-dashboard/internal/errors"
	"pnl-dashboard/internal/models"
)

var memoryDBCounter uint64

// SQLiteStore implements Journal on an in-memory SQLite database. Nothing
// survives the process.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new in-memory journal.
func NewSQLiteStore() (*SQLiteStore, error) {
	name := fmt.Sprintf("pnl-journal-%d", atomic.AddUint64(&memoryDBCounter, 1))
	db, err := sql.Open("sqlite3", "file:"+name+"?mode=memory&cache=shared&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// The database lives only as long as a connection to it is open.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

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
	-- One row per published report
	CREATE TABLE IF NOT EXISTS cycles (
		seq INTEGER PRIMARY KEY,
		generated_at DATETIME NOT NULL,
		active_pairs INTEGER NOT NULL,
		total_trades INTEGER NOT NULL,
		realized_pnl REAL NOT NULL,
		unrealized_pnl REAL NOT NULL,
		total_pnl REAL NOT NULL,
		total_fees REAL NOT NULL,
		total_volume REAL NOT NULL,
		summary TEXT NOT NULL
	);

	-- Per-pair summaries of each cycle
	CREATE TABLE IF NOT EXISTS pair_snapshots (
		seq INTEGER NOT NULL REFERENCES cycles(seq) ON DELETE CASCADE,
		pair TEXT NOT NULL,
		realized_pnl REAL NOT NULL,
		unrealized_pnl REAL NOT NULL,
		total_pnl REAL NOT NULL,
		total_fees REAL NOT NULL,
		buys INTEGER NOT NULL,
		sells INTEGER NOT NULL,
		trades INTEGER NOT NULL,
		fills INTEGER NOT NULL,
		volume REAL NOT NULL,
		unmatched_qty REAL NOT NULL,
		PRIMARY KEY (seq, pair)
	);

	CREATE INDEX IF NOT EXISTS idx_cycles_generated_at ON cycles(generated_at);
	CREATE INDEX IF NOT EXISTS idx_pair_snapshots_pair ON pair_snapshots(pair, seq);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection, discarding the journal.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the journal connection is still usable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ============================================================================
// Cycles
// ============================================================================

// RecordCycle stores the summary of a published report. Recording the same
// sequence twice replaces the earlier row.
func (s *SQLiteStore) RecordCycle(ctx context.Context, report *models.Report) error {
	if report == nil {
		return nil
	}

	summary, err := json.Marshal(report.Summary)
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabaseError, fmt.Sprintf("failed to begin transaction: %v", err))
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM pair_snapshots WHERE seq = ?`, report.Seq); err != nil {
		return fmt.Errorf("failed to clear pair snapshots: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO cycles (seq, generated_at, active_pairs, total_trades, realized_pnl,
			unrealized_pnl, total_pnl, total_fees, total_volume, summary)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, report.Seq, report.GeneratedAt.UTC(), report.Summary.ActivePairs, report.Summary.TotalTrades,
		report.Summary.RealizedPnl, report.Summary.UnrealizedPnl, report.Summary.TotalPnl,
		report.Summary.TotalFees, report.Summary.TotalVolume, string(summary))
	if err != nil {
		return fmt.Errorf("failed to insert cycle: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO pair_snapshots (seq, pair, realized_pnl, unrealized_pnl, total_pnl, total_fees,
			buys, sells, trades, fills, volume, unmatched_qty)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, p := range report.Pairs {
		ps := p.Summary
		_, err := stmt.ExecContext(ctx, report.Seq, string(p.Symbol), ps.RealizedPnl, ps.UnrealizedPnl,
			ps.TotalPnl, ps.TotalFees, ps.Buys, ps.Sells, ps.Trades, ps.Fills, ps.Volume, ps.UnmatchedQty)
		if err != nil {
			return fmt.Errorf("failed to insert pair snapshot %s: %w", p.Symbol, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// ListCycles returns journaled cycles, newest first.
func (s *SQLiteStore) ListCycles(ctx context.Context, filter CycleFilter) ([]models.CycleRecord, error) {
	query := `SELECT seq, generated_at, summary FROM cycles WHERE 1=1`
	var args []interface{}

	if !filter.Since.IsZero() {
		query += " AND generated_at >= ?"
		args = append(args, filter.Since.UTC())
	}

	query += " ORDER BY seq DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cycles: %w", err)
	}
	defer rows.Close()

	var records []models.CycleRecord
	for rows.Next() {
		rec, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cycles: %w", err)
	}

	if filter.IncludePairs {
		for i := range records {
			pairs, err := s.cyclePairs(ctx, records[i].Seq)
			if err != nil {
				return nil, err
			}
			records[i].Pairs = pairs
		}
	}

	return records, nil
}

// LatestCycle returns the newest journaled cycle with its pairs.
func (s *SQLiteStore) LatestCycle(ctx context.Context) (*models.CycleRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT seq, generated_at, summary FROM cycles ORDER BY seq DESC LIMIT 1`)
	rec, err := scanCycle(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.ErrNoReport
	}
	if err != nil {
		return nil, err
	}

	rec.Pairs, err = s.cyclePairs(ctx, rec.Seq)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCycle(row scanner) (models.CycleRecord, error) {
	var rec models.CycleRecord
	var summary string
	if err := row.Scan(&rec.Seq, &rec.GeneratedAt, &summary); err != nil {
		if err == sql.ErrNoRows {
			return rec, err
		}
		return rec, fmt.Errorf("failed to scan cycle: %w", err)
	}
	if err := json.Unmarshal([]byte(summary), &rec.Summary); err != nil {
		return rec, fmt.Errorf("failed to decode summary of cycle %d: %w", rec.Seq, err)
	}
	return rec, nil
}

func (s *SQLiteStore) cyclePairs(ctx context.Context, seq uint64) ([]models.PairSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pair, realized_pnl, unrealized_pnl, total_pnl, total_fees, buys, sells, trades, fills, volume, unmatched_qty
		FROM pair_snapshots
		WHERE seq = ?
		ORDER BY pair ASC
	`, seq)
	if err != nil {
		return nil, fmt.Errorf("failed to query pair snapshots: %w", err)
	}
	defer rows.Close()

	var pairs []models.PairSummary
	for rows.Next() {
		var ps models.PairSummary
		var pair string
		if err := rows.Scan(&pair, &ps.RealizedPnl, &ps.UnrealizedPnl, &ps.TotalPnl, &ps.TotalFees,
			&ps.Buys, &ps.Sells, &ps.Trades, &ps.Fills, &ps.Volume, &ps.UnmatchedQty); err != nil {
			return nil, fmt.Errorf("failed to scan pair snapshot: %w", err)
		}
		ps.Pair = models.Pair(pair)
		pairs = append(pairs, ps)
	}
	return pairs, rows.Err()
}

// ============================================================================
// Pair history
// ============================================================================

// PairHistory returns a pair's summaries across cycles, newest first.
func (s *SQLiteStore) PairHistory(ctx context.Context, pair models.Pair, limit int) ([]PairSnapshot, error) {
	query := `
		SELECT p.seq, c.generated_at, p.realized_pnl, p.unrealized_pnl, p.total_pnl, p.total_fees,
			p.buys, p.sells, p.trades, p.fills, p.volume, p.unmatched_qty
		FROM pair_snapshots p
		JOIN cycles c ON c.seq = p.seq
		WHERE p.pair = ?
		ORDER BY p.seq DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, string(pair))
	if err != nil {
		return nil, fmt.Errorf("failed to query pair history: %w", err)
	}
	defer rows.Close()

	var history []PairSnapshot
	for rows.Next() {
		var snap PairSnapshot
		ps := &snap.Summary
		if err := rows.Scan(&snap.Seq, &snap.GeneratedAt, &ps.RealizedPnl, &ps.UnrealizedPnl, &ps.TotalPnl,
			&ps.TotalFees, &ps.Buys, &ps.Sells, &ps.Trades, &ps.Fills, &ps.Volume, &ps.UnmatchedQty); err != nil {
			return nil, fmt.Errorf("failed to scan pair history: %w", err)
		}
		ps.Pair = pair
		history = append(history, snap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pair history: %w", err)
	}

	return history, nil
}

// ============================================================================
// Housekeeping
// ============================================================================

// Prune keeps only the newest keep cycles and reports how many were removed.
func (s *SQLiteStore) Prune(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	cutoff := `SELECT seq FROM cycles ORDER BY seq DESC LIMIT -1 OFFSET ?`
	if _, err := tx.ExecContext(ctx, `DELETE FROM pair_snapshots WHERE seq IN (`+cutoff+`)`, keep); err != nil {
		return 0, fmt.Errorf("failed to prune pair snapshots: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM cycles WHERE seq IN (`+cutoff+`)`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune cycles: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	n, _ := res.RowsAffected()
	return n, nil
}

// RecordAndPrune records a report and trims the journal to keep cycles.
func RecordAndPrune(ctx context.Context, j Journal, report *models.Report, keep int) error {
	if err := j.RecordCycle(ctx, report); err != nil {
		return err
	}
	_, err := j.Prune(ctx, keep)
	return err
}

var _ Journal = (*SQLiteStore)(nil)
