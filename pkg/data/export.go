package data

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
)

const (
	createExportTableSQL = `CREATE TABLE IF NOT EXISTS score_export (
			run_id     TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			wallet     TEXT NOT NULL,
			raw_score  DOUBLE PRECISION NOT NULL,
			score      DOUBLE PRECISION NOT NULL,
			tier       TEXT NOT NULL,
			PRIMARY KEY (run_id, wallet)
		)
	`

	insertExportSQL = `INSERT INTO score_export (run_id, created_at, wallet, raw_score, score, tier)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (run_id, wallet) DO NOTHING
	`
)

// ExportResult summarizes one export pass.
type ExportResult struct {
	RunID    string `json:"run_id" yaml:"runId"`
	Exported int    `json:"exported" yaml:"exported"`
}

// ExportRun copies one run's scores into a Postgres table (created if
// missing), in a single transaction. Re-exporting the same run is a no-op.
func ExportRun(db *sql.DB, connStr, runID string) (*ExportResult, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}
	if connStr == "" {
		return nil, errors.New("postgres connection string is required")
	}

	run, err := GetRun(db, runID)
	if err != nil {
		return nil, err
	}

	rows, err := GetRunScores(db, runID, run.Wallets)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("run %s has no scores", runID)
	}

	pg, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}
	defer pg.Close()

	if _, err := pg.Exec(createExportTableSQL); err != nil {
		return nil, fmt.Errorf("creating export table: %w", err)
	}

	tx, err := pg.Begin()
	if err != nil {
		return nil, fmt.Errorf("starting export tx: %w", err)
	}

	stmt, err := tx.Prepare(insertExportSQL)
	if err != nil {
		rollbackTransaction(tx)
		return nil, fmt.Errorf("preparing export insert: %w", err)
	}

	res := &ExportResult{RunID: runID}
	createdAt := run.CreatedAt.UTC().Truncate(time.Second)
	for _, r := range rows {
		out, execErr := stmt.Exec(runID, createdAt, r.Wallet, r.Raw, r.Score, r.Tier)
		if execErr != nil {
			rollbackTransaction(tx)
			return nil, fmt.Errorf("exporting score for %s: %w", r.Wallet, execErr)
		}
		n, _ := out.RowsAffected()
		res.Exported += int(n)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing export tx: %w", err)
	}

	slog.Info("run exported", "run", runID, "exported", res.Exported)

	return res, nil
}
