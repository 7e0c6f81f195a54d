package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/mchmarny/defiscore/pkg/data"
	"github.com/mchmarny/defiscore/pkg/features"
	"github.com/mchmarny/defiscore/pkg/scoring"
	"github.com/urfave/cli/v2"
)

const reportFileMode = 0644

var (
	reportOutFlag = &cli.StringFlag{
		Name:  "out",
		Usage: "Path for the markdown report (default: stdout)",
	}

	reportCmd = &cli.Command{
		Name:    "report",
		Aliases: []string{"r"},
		Usage:   "Generate a markdown analysis report for a score run",
		UsageText: `defiscore report                        # report on the latest run
   defiscore report --run ID --out analysis.md`,
		HideHelpCommand: true,
		Action:          cmdReport,
		Flags: []cli.Flag{
			runIDFlag,
			reportOutFlag,
			debugFlag,
		},
	}
)

func cmdReport(c *cli.Context) error {
	applyFlags(c)
	cfg := getConfig(c)

	runID, err := resolveRunID(c, cfg.DB)
	if err != nil {
		return err
	}

	run, err := data.GetRun(cfg.DB, runID)
	if err != nil {
		return fmt.Errorf("loading run %s: %w", runID, err)
	}

	rows, err := data.GetRunScores(cfg.DB, runID, run.Wallets)
	if err != nil {
		return fmt.Errorf("loading scores for run %s: %w", runID, err)
	}

	records := make([]scoring.ScoreRecord, len(rows))
	for i, r := range rows {
		records[i] = scoring.ScoreRecord{
			Wallet: r.Wallet,
			Raw:    r.Raw,
			Score:  r.Score,
			Tier:   r.Tier,
		}
	}

	// Re-extract features at the run's own instant so the behavioral
	// sections describe what the scores were computed from.
	feats, err := reportFeatures(cfg, run)
	if err != nil {
		slog.Warn("feature sections omitted", "error", err)
	}

	ins, err := scoring.BuildInsights(records, feats)
	if err != nil {
		return fmt.Errorf("building insights for run %s: %w", runID, err)
	}

	md := ins.Markdown()

	out := c.String(reportOutFlag.Name)
	if out == "" {
		fmt.Print(md)
		return nil
	}

	if err := os.WriteFile(out, []byte(md), reportFileMode); err != nil {
		return fmt.Errorf("writing report to %s: %w", out, err)
	}
	slog.Info("report written", "run", runID, "path", out)

	return nil
}

func reportFeatures(cfg *appConfig, run *data.ScoreRun) (map[string]features.Record, error) {
	seqs, err := data.GetWalletSequences(cfg.DB, cfg.Config.MinEvents)
	if err != nil {
		return nil, fmt.Errorf("loading wallet sequences: %w", err)
	}
	if len(seqs) == 0 {
		return nil, fmt.Errorf("no event data for run %s", run.ID)
	}

	feats, err := features.ExtractAll(context.Background(), seqs, run.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("extracting features: %w", err)
	}
	return feats, nil
}
