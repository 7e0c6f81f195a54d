package data

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	insertScoreRunSQL = `INSERT INTO score_run (id, created_at, wallets, config)
		VALUES (?, ?, ?, ?)
	`

	insertScoreSQL = `INSERT INTO score (run_id, wallet, raw_score, score, tier)
		VALUES (?, ?, ?, ?, ?)
	`

	selectRunsSQL = `SELECT id, created_at, wallets, config
		FROM score_run
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	selectRunSQL = `SELECT id, created_at, wallets, config
		FROM score_run
		WHERE id = ?
	`

	selectLatestRunIDSQL = `SELECT id
		FROM score_run
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`

	selectRunScoresSQL = `SELECT run_id, wallet, raw_score, score, tier
		FROM score
		WHERE run_id = ?
		ORDER BY score DESC, wallet ASC
		LIMIT ?
	`

	selectWalletScoreSQL = `SELECT s.run_id, s.wallet, s.raw_score, s.score, s.tier, r.created_at
		FROM score s
		JOIN score_run r ON r.id = s.run_id
		WHERE s.wallet = ?
		ORDER BY r.created_at DESC, r.id DESC
		LIMIT 1
	`

	selectDistributionSQL = `SELECT
			MIN(CAST(score / 100 AS INTEGER), 9) AS bucket,
			COUNT(*) AS wallets
		FROM score
		WHERE run_id = ?
		GROUP BY bucket
		ORDER BY bucket ASC
	`

	selectTiersSQL = `SELECT tier, COUNT(*) AS wallets
		FROM score
		WHERE run_id = ?
		GROUP BY tier
		ORDER BY wallets DESC, tier ASC
	`
)

// ErrRunNotFound indicates the requested score run does not exist.
var ErrRunNotFound = errors.New("score run not found")

// ScoreRun records one complete scoring pass over the event store.
type ScoreRun struct {
	ID        string    `json:"id" yaml:"id"`
	CreatedAt time.Time `json:"created_at" yaml:"createdAt"`
	Wallets   int       `json:"wallets" yaml:"wallets"`
	Config    string    `json:"config,omitempty" yaml:"config,omitempty"`
}

// ScoreRow is one wallet's persisted result within a run.
type ScoreRow struct {
	RunID  string  `json:"run_id" yaml:"runId"`
	Wallet string  `json:"wallet" yaml:"wallet"`
	Raw    float64 `json:"raw_score" yaml:"rawScore"`
	Score  float64 `json:"score" yaml:"score"`
	Tier   string  `json:"tier" yaml:"tier"`
}

// WalletScore is one wallet's most recent result across runs.
type WalletScore struct {
	ScoreRow `yaml:",inline"`
	ScoredAt time.Time `json:"scored_at" yaml:"scoredAt"`
}

// ScoreBucket is one 100-point slice of a run's score distribution.
type ScoreBucket struct {
	Range   string `json:"range" yaml:"range"`
	Wallets int    `json:"wallets" yaml:"wallets"`
}

// TierBucket is one risk tier's share of a run.
type TierBucket struct {
	Tier    string `json:"tier" yaml:"tier"`
	Wallets int    `json:"wallets" yaml:"wallets"`
}

// SaveScoreRun persists a run and all of its scores in a single
// transaction: either the whole run lands or none of it does.
func SaveScoreRun(db *sql.DB, run *ScoreRun, rows []ScoreRow) error {
	if db == nil {
		return errDBNotInitialized
	}
	if run == nil || run.ID == "" {
		return errors.New("run with an ID is required")
	}
	if len(rows) == 0 {
		return errors.New("run has no scores to save")
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("starting score tx: %w", err)
	}

	if _, err := tx.Exec(insertScoreRunSQL,
		run.ID,
		run.CreatedAt.UTC().Truncate(time.Second).Format(tsFormat),
		run.Wallets,
		run.Config,
	); err != nil {
		rollbackTransaction(tx)
		return fmt.Errorf("inserting score run %s: %w", run.ID, err)
	}

	stmt, err := tx.Prepare(insertScoreSQL)
	if err != nil {
		rollbackTransaction(tx)
		return fmt.Errorf("preparing score insert: %w", err)
	}

	for _, r := range rows {
		if _, err := stmt.Exec(run.ID, r.Wallet, r.Raw, r.Score, r.Tier); err != nil {
			rollbackTransaction(tx)
			return fmt.Errorf("inserting score for %s: %w", r.Wallet, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing score tx: %w", err)
	}

	slog.Info("score run saved", "run", run.ID, "wallets", len(rows))

	return nil
}

// GetRuns returns the most recent runs, newest first.
func GetRuns(db *sql.DB, limit int) ([]ScoreRun, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}
	if limit < 1 {
		limit = 100
	}

	rows, err := db.Query(selectRunsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query score runs: %w", err)
	}
	defer rows.Close()

	runs := make([]ScoreRun, 0, limit)
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading score run rows: %w", err)
	}

	return runs, nil
}

// GetRun returns one run by ID.
func GetRun(db *sql.DB, id string) (*ScoreRun, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	row := db.QueryRow(selectRunSQL, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	return r, err
}

// GetLatestRunID returns the ID of the most recent run.
func GetLatestRunID(db *sql.DB) (string, error) {
	if db == nil {
		return "", errDBNotInitialized
	}

	var id string
	err := db.QueryRow(selectLatestRunIDSQL).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrRunNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to query latest run: %w", err)
	}
	return id, nil
}

// GetRunScores returns a run's scores, highest first.
func GetRunScores(db *sql.DB, runID string, limit int) ([]ScoreRow, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}
	if runID == "" {
		return nil, errors.New("runID is required")
	}
	if limit < 1 {
		limit = 1000
	}

	rows, err := db.Query(selectRunScoresSQL, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query scores for run %s: %w", runID, err)
	}
	defer rows.Close()

	out := make([]ScoreRow, 0, limit)
	for rows.Next() {
		var s ScoreRow
		if err := rows.Scan(&s.RunID, &s.Wallet, &s.Raw, &s.Score, &s.Tier); err != nil {
			return nil, fmt.Errorf("failed to scan score row: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading score rows: %w", err)
	}

	return out, nil
}

// GetWalletScore returns a wallet's score from the most recent run that
// included it.
func GetWalletScore(db *sql.DB, wallet string) (*WalletScore, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}
	if wallet == "" {
		return nil, errors.New("wallet is required")
	}

	var (
		s  WalletScore
		ts string
	)
	err := db.QueryRow(selectWalletScoreSQL, wallet).
		Scan(&s.RunID, &s.Wallet, &s.Raw, &s.Score, &s.Tier, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("wallet %s has no score: %w", wallet, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query score for wallet %s: %w", wallet, err)
	}

	s.ScoredAt, err = time.Parse(tsFormat, ts)
	if err != nil {
		return nil, fmt.Errorf("failed to parse run timestamp %q: %w", ts, err)
	}

	return &s, nil
}

// GetScoreDistribution returns a run's scores grouped into ten 100-point
// buckets. Buckets with no wallets are included with a zero count.
func GetScoreDistribution(db *sql.DB, runID string) ([]ScoreBucket, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}
	if runID == "" {
		return nil, errors.New("runID is required")
	}

	rows, err := db.Query(selectDistributionSQL, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query distribution for run %s: %w", runID, err)
	}
	defer rows.Close()

	counts := make([]int, 10)
	for rows.Next() {
		var bucket, wallets int
		if err := rows.Scan(&bucket, &wallets); err != nil {
			return nil, fmt.Errorf("failed to scan distribution row: %w", err)
		}
		if bucket >= 0 && bucket < len(counts) {
			counts[bucket] = wallets
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading distribution rows: %w", err)
	}

	out := make([]ScoreBucket, len(counts))
	for i, c := range counts {
		out[i] = ScoreBucket{
			Range:   fmt.Sprintf("%d-%d", i*100, (i+1)*100-1),
			Wallets: c,
		}
	}
	return out, nil
}

// GetTierDistribution returns a run's wallet counts per risk tier, largest
// tier first.
func GetTierDistribution(db *sql.DB, runID string) ([]TierBucket, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}
	if runID == "" {
		return nil, errors.New("runID is required")
	}

	rows, err := db.Query(selectTiersSQL, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tiers for run %s: %w", runID, err)
	}
	defer rows.Close()

	out := make([]TierBucket, 0, 7)
	for rows.Next() {
		var t TierBucket
		if err := rows.Scan(&t.Tier, &t.Wallets); err != nil {
			return nil, fmt.Errorf("failed to scan tier row: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading tier rows: %w", err)
	}

	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*ScoreRun, error) {
	var (
		r  ScoreRun
		ts string
	)
	if err := row.Scan(&r.ID, &ts, &r.Wallets, &r.Config); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan score run row: %w", err)
	}

	var err error
	r.CreatedAt, err = time.Parse(tsFormat, ts)
	if err != nil {
		return nil, fmt.Errorf("failed to parse run timestamp %q: %w", ts, err)
	}

	return &r, nil
}
