package scoring

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/mchmarny/defiscore/pkg/data"
	"github.com/mchmarny/defiscore/pkg/features"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultFactors() TargetSpec {
	return TargetSpec{
		Baseline:    500,
		NoiseStdDev: 0,
		Factors: []Factor{
			{Feature: "repayment_ratio", Points: 200, Divisor: 1.0},
			{Feature: "asset_diversity_score", Points: 100, Divisor: 1.0},
			{Feature: "account_age_days", Points: 150, Divisor: 365},
			{Feature: "transaction_complexity", Points: 50, Divisor: 0.5},
			{Feature: "liquidation_ratio", Points: -300, Divisor: 0.1},
			{Feature: "leverage_ratio", Points: -200, Divisor: 10.0},
			{Feature: "time_regularity_score", Points: -100, Divisor: 5.0},
			{Feature: "amount_uniformity_score", Points: -150, Divisor: 0.8},
		},
	}
}

// disciplinedWallet deposits and repays on an organic schedule over a month.
func disciplinedWallet(base time.Time) []data.Event {
	events := make([]data.Event, 0, 15)
	offsets := []int{0, 2, 5, 7, 11, 13, 16, 19, 22, 26}
	amounts := []float64{120, 85, 240, 60, 310, 95, 150, 75, 410, 55}
	for i, d := range offsets {
		events = append(events, data.Event{
			Wallet:    "0xdisciplined",
			Action:    data.ActionDeposit,
			Amount:    amounts[i],
			Timestamp: base.Add(time.Duration(d)*24*time.Hour + time.Duration(i)*37*time.Minute),
			Asset:     []string{"usdc", "dai", "weth"}[i%3],
		})
	}
	events = append(events,
		data.Event{Wallet: "0xdisciplined", Action: data.ActionBorrow, Amount: 200,
			Timestamp: base.Add(8 * 24 * time.Hour), Asset: "usdc"},
		data.Event{Wallet: "0xdisciplined", Action: data.ActionRepay, Amount: 100,
			Timestamp: base.Add(15 * 24 * time.Hour), Asset: "usdc"},
		data.Event{Wallet: "0xdisciplined", Action: data.ActionRepay, Amount: 100,
			Timestamp: base.Add(28 * 24 * time.Hour), Asset: "usdc"},
	)
	return events
}

// recklessWallet borrows without repaying and gets liquidated, all within
// two days.
func recklessWallet(base time.Time) []data.Event {
	return []data.Event{
		{Wallet: "0xreckless", Action: data.ActionDeposit, Amount: 50,
			Timestamp: base, Asset: "usdc"},
		{Wallet: "0xreckless", Action: data.ActionBorrow, Amount: 400,
			Timestamp: base.Add(2 * time.Hour), Asset: "usdc"},
		{Wallet: "0xreckless", Action: data.ActionBorrow, Amount: 300,
			Timestamp: base.Add(12 * time.Hour), Asset: "usdc"},
		{Wallet: "0xreckless", Action: data.ActionLiquidation, Amount: 200,
			Timestamp: base.Add(30 * time.Hour), Asset: "usdc"},
		{Wallet: "0xreckless", Action: data.ActionLiquidation, Amount: 150,
			Timestamp: base.Add(40 * time.Hour), Asset: "usdc"},
		{Wallet: "0xreckless", Action: data.ActionLiquidation, Amount: 100,
			Timestamp: base.Add(46 * time.Hour), Asset: "usdc"},
	}
}

// fillerWallet gives the population enough spread for calibration to be
// meaningful.
func fillerWallet(id int, base time.Time) []data.Event {
	wallet := fmt.Sprintf("0xfiller%02d", id)
	rng := rand.New(rand.NewSource(int64(id)))
	n := 4 + id%5
	events := make([]data.Event, 0, n)
	for i := 0; i < n; i++ {
		action := data.ActionDeposit
		if i%3 == 1 {
			action = data.ActionBorrow
		}
		if i%3 == 2 && id%2 == 0 {
			action = data.ActionRepay
		}
		events = append(events, data.Event{
			Wallet:    wallet,
			Action:    action,
			Amount:    10 + rng.Float64()*500,
			Timestamp: base.Add(time.Duration(i*(id+1)) * 13 * time.Hour),
			Asset:     []string{"usdc", "dai"}[i%2],
		})
	}
	return events
}

func TestPipeline_DisciplinedOutscoresReckless(t *testing.T) {
	base := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	asOf := base.Add(35 * 24 * time.Hour)

	seqs := map[string][]data.Event{
		"0xdisciplined": disciplinedWallet(base),
		"0xreckless":    recklessWallet(base),
	}
	for i := 0; i < 20; i++ {
		events := fillerWallet(i, base)
		seqs[events[0].Wallet] = events
	}

	recs, err := features.ExtractAll(context.Background(), seqs, asOf)
	require.NoError(t, err)

	wallets := make([]string, 0, len(recs))
	for w := range recs {
		wallets = append(wallets, w)
	}
	records := make([]features.Record, len(wallets))
	for i, w := range wallets {
		records[i] = recs[w]
	}

	targets, err := GenerateTargets(records, defaultFactors(), rand.New(rand.NewSource(42)))
	require.NoError(t, err)

	X := features.Matrix(records)
	model := NewRidge(500, 0.05, 0.001)
	require.NoError(t, model.Fit(X, targets))

	raw, err := model.Predict(X)
	require.NoError(t, err)

	scores, err := Calibrate(wallets, raw)
	require.NoError(t, err)

	byWallet := make(map[string]ScoreRecord, len(scores))
	for _, s := range scores {
		byWallet[s.Wallet] = s
	}

	disciplined := byWallet["0xdisciplined"]
	reckless := byWallet["0xreckless"]

	assert.Greater(t, disciplined.Score, reckless.Score)
	assert.Less(t, tierRank(disciplined.Tier), tierRank(reckless.Tier))
}

func TestPipeline_Deterministic(t *testing.T) {
	base := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	asOf := base.Add(35 * 24 * time.Hour)

	seqs := map[string][]data.Event{
		"0xdisciplined": disciplinedWallet(base),
		"0xreckless":    recklessWallet(base),
	}
	for i := 0; i < 10; i++ {
		events := fillerWallet(i, base)
		seqs[events[0].Wallet] = events
	}

	run := func() []ScoreRecord {
		recs, err := features.ExtractAll(context.Background(), seqs, asOf)
		require.NoError(t, err)

		wallets := make([]string, 0, len(recs))
		for w := range recs {
			wallets = append(wallets, w)
		}
		// map order varies; fix it for comparability
		sort.Strings(wallets)

		records := make([]features.Record, len(wallets))
		for i, w := range wallets {
			records[i] = recs[w]
		}

		spec := defaultFactors()
		spec.NoiseStdDev = 25

		targets, err := GenerateTargets(records, spec, rand.New(rand.NewSource(42)))
		require.NoError(t, err)

		model := NewRidge(500, 0.05, 0.001)
		require.NoError(t, model.Fit(features.Matrix(records), targets))

		raw, err := model.Predict(features.Matrix(records))
		require.NoError(t, err)

		scores, err := Calibrate(wallets, raw)
		require.NoError(t, err)
		return scores
	}

	assert.Equal(t, run(), run())
}

func tierRank(tier string) int {
	for i, t := range TierNames {
		if t == tier {
			return i
		}
	}
	return len(TierNames)
}
