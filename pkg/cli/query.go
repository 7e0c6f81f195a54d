package cli

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mchmarny/defiscore/pkg/data"
	"github.com/urfave/cli/v2"
)

const queryResultLimitDefault = 500

var (
	queryLimitFlag = &cli.IntFlag{
		Name:     "limit",
		Usage:    "Limits number of results returned",
		Value:    queryResultLimitDefault,
		Required: false,
	}

	runIDFlag = &cli.StringFlag{
		Name:  "run",
		Usage: "Score run ID (default: latest run)",
	}

	walletQueryFlag = &cli.StringFlag{
		Name:     "wallet",
		Usage:    "Wallet address",
		Required: true,
	}

	queryCmd = &cli.Command{
		Name:    "query",
		Aliases: []string{"q"},
		Usage:   "List score query operations",
		Subcommands: []*cli.Command{
			{
				Name:    "runs",
				Usage:   "List score runs, newest first",
				Aliases: []string{"r"},
				Action:  cmdQueryRuns,
				Flags: []cli.Flag{
					queryLimitFlag,
				},
			},
			{
				Name:    "scores",
				Usage:   "List a run's wallet scores, highest first",
				Aliases: []string{"s"},
				Action:  cmdQueryScores,
				Flags: []cli.Flag{
					runIDFlag,
					queryLimitFlag,
				},
			},
			{
				Name:    "wallet",
				Usage:   "Get a wallet's most recent score",
				Aliases: []string{"w"},
				Action:  cmdQueryWallet,
				Flags: []cli.Flag{
					walletQueryFlag,
				},
			},
			{
				Name:    "distribution",
				Usage:   "Get a run's score distribution in 100-point buckets",
				Aliases: []string{"d"},
				Action:  cmdQueryDistribution,
				Flags: []cli.Flag{
					runIDFlag,
				},
			},
			{
				Name:    "tiers",
				Usage:   "Get a run's wallet counts per risk tier",
				Aliases: []string{"t"},
				Action:  cmdQueryTiers,
				Flags: []cli.Flag{
					runIDFlag,
				},
			},
		},
	}
)

// resolveRunID returns the --run flag value, falling back to the most
// recent run.
func resolveRunID(c *cli.Context, db *sql.DB) (string, error) {
	runID := c.String(runIDFlag.Name)
	if runID != "" {
		return runID, nil
	}

	runID, err := data.GetLatestRunID(db)
	if errors.Is(err, data.ErrRunNotFound) {
		return "", errors.New("no score runs found, run score first")
	}
	if err != nil {
		return "", fmt.Errorf("resolving latest run: %w", err)
	}
	return runID, nil
}

func cmdQueryRuns(c *cli.Context) error {
	limit := c.Int(queryLimitFlag.Name)
	if limit == 0 || limit > queryResultLimitDefault {
		limit = queryResultLimitDefault
	}

	cfg := getConfig(c)

	runs, err := data.GetRuns(cfg.DB, limit)
	if err != nil {
		return fmt.Errorf("failed to query runs: %w", err)
	}

	if err := getEncoder().Encode(runs); err != nil {
		return fmt.Errorf("error encoding runs: %w", err)
	}

	return nil
}

func cmdQueryScores(c *cli.Context) error {
	limit := c.Int(queryLimitFlag.Name)
	if limit == 0 || limit > queryResultLimitDefault {
		limit = queryResultLimitDefault
	}

	cfg := getConfig(c)

	runID, err := resolveRunID(c, cfg.DB)
	if err != nil {
		return err
	}

	scores, err := data.GetRunScores(cfg.DB, runID, limit)
	if err != nil {
		return fmt.Errorf("failed to query scores: %w", err)
	}

	if err := getEncoder().Encode(scores); err != nil {
		return fmt.Errorf("error encoding scores: %w", err)
	}

	return nil
}

func cmdQueryWallet(c *cli.Context) error {
	wallet := strings.ToLower(strings.TrimSpace(c.String(walletQueryFlag.Name)))
	if wallet == "" {
		return cli.ShowSubcommandHelp(c)
	}

	cfg := getConfig(c)

	score, err := data.GetWalletScore(cfg.DB, wallet)
	if err != nil {
		return fmt.Errorf("failed to query wallet %s: %w", wallet, err)
	}

	if err := getEncoder().Encode(score); err != nil {
		return fmt.Errorf("error encoding score: %w", err)
	}

	return nil
}

func cmdQueryDistribution(c *cli.Context) error {
	cfg := getConfig(c)

	runID, err := resolveRunID(c, cfg.DB)
	if err != nil {
		return err
	}

	dist, err := data.GetScoreDistribution(cfg.DB, runID)
	if err != nil {
		return fmt.Errorf("failed to query distribution: %w", err)
	}

	if err := getEncoder().Encode(dist); err != nil {
		return fmt.Errorf("error encoding distribution: %w", err)
	}

	return nil
}

func cmdQueryTiers(c *cli.Context) error {
	cfg := getConfig(c)

	runID, err := resolveRunID(c, cfg.DB)
	if err != nil {
		return err
	}

	tiers, err := data.GetTierDistribution(cfg.DB, runID)
	if err != nil {
		return fmt.Errorf("failed to query tiers: %w", err)
	}

	if err := getEncoder().Encode(tiers); err != nil {
		return fmt.Errorf("error encoding tiers: %w", err)
	}

	return nil
}
