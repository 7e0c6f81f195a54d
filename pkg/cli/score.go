package cli

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mchmarny/defiscore/pkg/config"
	"github.com/mchmarny/defiscore/pkg/data"
	"github.com/mchmarny/defiscore/pkg/features"
	"github.com/mchmarny/defiscore/pkg/scoring"
	"github.com/urfave/cli/v2"
)

const seedDefault = 42

var (
	seedFlag = &cli.Int64Flag{
		Name:  "seed",
		Usage: "Random seed for synthetic target noise",
		Value: seedDefault,
	}

	scoreOutFlag = &cli.StringFlag{
		Name:  "out",
		Usage: "Path for the scores CSV (optional)",
	}

	featuresOutFlag = &cli.StringFlag{
		Name:  "features-out",
		Usage: "Path for the extracted features CSV (optional)",
	}

	minEventsFlag = &cli.IntFlag{
		Name:  "min-events",
		Usage: "Minimum events per wallet (overrides config)",
	}

	scoreCmd = &cli.Command{
		Name:    "score",
		Aliases: []string{"s"},
		Usage:   "Score all imported wallets and save the run",
		UsageText: `defiscore score                                  # score with defaults
   defiscore score --out scores.csv --seed 7        # also write a CSV
   defiscore score --min-events 5                   # skip thin wallets`,
		HideHelpCommand: true,
		Action:          cmdScore,
		Flags: []cli.Flag{
			seedFlag,
			scoreOutFlag,
			featuresOutFlag,
			minEventsFlag,
			debugFlag,
		},
	}
)

// ScoreRunResult summarizes one scoring run.
type ScoreRunResult struct {
	RunID    string            `json:"run_id" yaml:"runId"`
	Wallets  int               `json:"wallets" yaml:"wallets"`
	Tiers    []data.TierBucket `json:"tiers" yaml:"tiers"`
	Duration string            `json:"duration" yaml:"duration"`
}

func cmdScore(c *cli.Context) error {
	applyFlags(c)
	start := time.Now()
	ctx := context.Background()

	cfg := getConfig(c)

	minEvents := cfg.Config.MinEvents
	if c.Int(minEventsFlag.Name) > 0 {
		minEvents = c.Int(minEventsFlag.Name)
	}

	seqs, err := data.GetWalletSequences(cfg.DB, minEvents)
	if err != nil {
		return fmt.Errorf("loading wallet sequences: %w", err)
	}
	if len(seqs) == 0 {
		return fmt.Errorf("no wallets with at least %d events, import data first", minEvents)
	}

	asOf := time.Now().UTC()
	slog.Info("extracting features", "wallets", len(seqs))

	recs, err := features.ExtractAll(ctx, seqs, asOf)
	if err != nil {
		return fmt.Errorf("extracting features: %w", err)
	}

	wallets := make([]string, 0, len(recs))
	for w := range recs {
		wallets = append(wallets, w)
	}
	sort.Strings(wallets)

	records := make([]features.Record, len(wallets))
	for i, w := range wallets {
		records[i] = recs[w]
	}

	scores, err := runPipeline(records, wallets, cfg.Config, c.Int64(seedFlag.Name))
	if err != nil {
		return err
	}

	run := &data.ScoreRun{
		ID:        uuid.NewString(),
		CreatedAt: asOf,
		Wallets:   len(wallets),
		Config:    marshalRunConfig(cfg.Config, c.Int64(seedFlag.Name), minEvents),
	}

	rows := make([]data.ScoreRow, len(scores))
	for i, s := range scores {
		rows[i] = data.ScoreRow{
			RunID:  run.ID,
			Wallet: s.Wallet,
			Raw:    s.Raw,
			Score:  s.Score,
			Tier:   s.Tier,
		}
	}

	if err := data.SaveScoreRun(cfg.DB, run, rows); err != nil {
		return fmt.Errorf("saving score run: %w", err)
	}

	if out := c.String(scoreOutFlag.Name); out != "" {
		if err := writeScoresCSV(out, scores); err != nil {
			return fmt.Errorf("writing scores CSV: %w", err)
		}
		slog.Info("scores written", "path", out)
	}

	if out := c.String(featuresOutFlag.Name); out != "" {
		if err := writeFeaturesCSV(out, wallets, records); err != nil {
			return fmt.Errorf("writing features CSV: %w", err)
		}
		slog.Info("features written", "path", out)
	}

	tiers, err := data.GetTierDistribution(cfg.DB, run.ID)
	if err != nil {
		return fmt.Errorf("loading tier distribution: %w", err)
	}

	res := &ScoreRunResult{
		RunID:    run.ID,
		Wallets:  len(wallets),
		Tiers:    tiers,
		Duration: time.Since(start).String(),
	}

	if err := getEncoder().Encode(res); err != nil {
		return fmt.Errorf("error encoding result: %w", err)
	}

	return nil
}

// runPipeline turns feature records into calibrated scores: synthetic
// targets, ridge fit, prediction, percentile calibration.
func runPipeline(records []features.Record, wallets []string, cfg *config.Config, seed int64) ([]scoring.ScoreRecord, error) {
	X := features.Matrix(records)

	spec := scoring.TargetSpec{
		Baseline:    cfg.Scoring.Baseline,
		NoiseStdDev: cfg.Scoring.NoiseStdDev,
	}
	for _, f := range cfg.Scoring.Factors {
		spec.Factors = append(spec.Factors, scoring.Factor{
			Feature: f.Feature,
			Points:  f.Points,
			Divisor: f.Divisor,
		})
	}

	rng := rand.New(rand.NewSource(seed))
	targets, err := scoring.GenerateTargets(records, spec, rng)
	if err != nil {
		return nil, fmt.Errorf("generating targets: %w", err)
	}

	model := scoring.NewRidge(cfg.Learner.Epochs, cfg.Learner.LearningRate, cfg.Learner.L2)
	if err := model.Fit(X, targets); err != nil {
		return nil, fmt.Errorf("fitting model: %w", err)
	}

	raw, err := model.Predict(X)
	if err != nil {
		return nil, fmt.Errorf("predicting raw scores: %w", err)
	}

	scores, err := scoring.Calibrate(wallets, raw)
	if err != nil {
		return nil, fmt.Errorf("calibrating scores: %w", err)
	}

	return scores, nil
}

func marshalRunConfig(cfg *config.Config, seed int64, minEvents int) string {
	b, err := json.Marshal(map[string]any{
		"min_events": minEvents,
		"seed":       seed,
		"scoring":    cfg.Scoring,
		"learner":    cfg.Learner,
	})
	if err != nil {
		slog.Debug("error marshaling run config", "error", err)
		return ""
	}
	return string(b)
}

// writeScoresCSV writes one row per wallet, highest score first.
func writeScoresCSV(path string, scores []scoring.ScoreRecord) (retErr error) {
	sorted := make([]scoring.ScoreRecord, len(scores))
	copy(sorted, scores)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && retErr == nil {
			retErr = fmt.Errorf("closing %s: %w", path, cerr)
		}
	}()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"wallet", "credit_score", "risk_category"}); err != nil {
		return err
	}
	for _, s := range sorted {
		if err := w.Write([]string{
			s.Wallet,
			strconv.FormatFloat(s.Score, 'f', 0, 64),
			s.Tier,
		}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// writeFeaturesCSV writes the raw feature records, one wallet per row, in
// canonical feature order. Unbounded ratios serialize as "inf".
func writeFeaturesCSV(path string, wallets []string, records []features.Record) (retErr error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && retErr == nil {
			retErr = fmt.Errorf("closing %s: %w", path, cerr)
		}
	}()

	w := csv.NewWriter(f)
	header := append([]string{"wallet"}, features.Names...)
	if err := w.Write(header); err != nil {
		return err
	}

	row := make([]string, len(header))
	for i, wallet := range wallets {
		row[0] = wallet
		for j, name := range features.Names {
			v := records[i][name]
			switch {
			case math.IsInf(v, 1):
				row[j+1] = "inf"
			case math.IsInf(v, -1):
				row[j+1] = "-inf"
			default:
				row[j+1] = strconv.FormatFloat(v, 'g', -1, 64)
			}
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
