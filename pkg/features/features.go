// Package features turns one wallet's ordered event sequence into a
// fixed-schema numeric feature record.
//
// Extraction is a pure function of the sequence and an explicit evaluation
// instant: no clock reads, no side effects, and no cross-wallet state, so a
// population can be extracted in parallel and re-extraction of an unchanged
// sequence yields an identical record.
package features

import (
	"context"
	"errors"
	"math"
	"runtime"
	"sort"
	"time"

	"github.com/mchmarny/defiscore/pkg/data"
	"golang.org/x/sync/errgroup"
)

const (
	// Sentinel for "no liquidation ever observed" (not "zero days ago").
	NoLiquidationDays = 9999

	// Inverse-CV regularity dampening; keeps perfectly periodic cadences
	// large but finite.
	regularityEpsilon = 0.01
)

// Infinite marks ratio features whose denominator is zero. Downstream
// consumers must treat it as "no data", never as a literal operand; the
// learner replaces it with the population column median before fitting.
var Infinite = math.Inf(1)

// Names is the canonical ordered feature key set. Every Record contains
// every name; matrix construction and CSV output follow this order.
var Names = []string{
	"total_transactions",
	"unique_days_active",
	"deposit_count",
	"deposit_ratio",
	"borrow_count",
	"borrow_ratio",
	"repay_count",
	"repay_ratio",
	"redeemunderlying_count",
	"redeemunderlying_ratio",
	"liquidationcall_count",
	"liquidationcall_ratio",
	"total_amount",
	"avg_amount",
	"median_amount",
	"std_amount",
	"min_amount",
	"max_amount",
	"amount_cv",
	"avg_time_between_transactions",
	"std_time_between_transactions",
	"min_time_between_transactions",
	"max_time_between_transactions",
	"activity_consistency",
	"max_daily_transactions",
	"avg_daily_transactions",
	"activity_hours_spread",
	"most_active_hour",
	"liquidation_count",
	"liquidation_ratio",
	"days_since_last_liquidation",
	"total_borrowed",
	"total_repaid",
	"repayment_ratio",
	"outstanding_debt",
	"leverage_ratio",
	"deposit_to_borrow_ratio",
	"unique_assets",
	"asset_concentration",
	"asset_diversity_score",
	"position_changes",
	"deposit_withdrawal_ratio",
	"account_age_days",
	"transactions_per_day",
	"days_since_last_activity",
	"weekly_activity_variance",
	"monthly_activity_variance",
	"time_regularity_score",
	"most_common_interval_ratio",
	"amount_uniformity_score",
	"gas_optimization_score",
	"transaction_complexity",
}

// Record maps feature names to values. Constructed only by Extract, which
// guarantees the complete Names key set.
type Record map[string]float64

// Extract computes the feature record for one wallet's events. The events
// must be ordered by timestamp ascending and non-empty; asOf is the
// explicit evaluation instant for recency features.
func Extract(events []data.Event, asOf time.Time) (Record, error) {
	if len(events) == 0 {
		return nil, errors.New("cannot extract features from an empty event sequence")
	}

	r := make(Record, len(Names))

	volumeFeatures(r, events)
	amountFeatures(r, events)
	cadenceFeatures(r, events)
	riskFeatures(r, events)
	portfolioFeatures(r, events)
	temporalFeatures(r, events, asOf)
	botFeatures(r, events)

	return r, nil
}

// ExtractAll fans extraction out across the population. Each wallet's
// sequence is independent, so workers share no mutable state; results are
// identical to sequential extraction.
func ExtractAll(ctx context.Context, seqs map[string][]data.Event, asOf time.Time) (map[string]Record, error) {
	wallets := make([]string, 0, len(seqs))
	for w := range seqs {
		wallets = append(wallets, w)
	}
	sort.Strings(wallets)

	records := make([]Record, len(wallets))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	for i, w := range wallets {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rec, err := Extract(seqs[w], asOf)
			if err != nil {
				return err
			}
			records[i] = rec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]Record, len(wallets))
	for i, w := range wallets {
		out[w] = records[i]
	}
	return out, nil
}

// Matrix builds one row per record in the canonical Names order.
func Matrix(records []Record) [][]float64 {
	rows := make([][]float64, len(records))
	for i, rec := range records {
		row := make([]float64, len(Names))
		for j, name := range Names {
			row[j] = rec[name]
		}
		rows[i] = row
	}
	return rows
}

func volumeFeatures(r Record, events []data.Event) {
	total := float64(len(events))
	r["total_transactions"] = total

	days := make(map[string]int)
	counts := make(map[string]float64)
	for _, e := range events {
		counts[e.Action]++
		days[e.Timestamp.UTC().Format("2006-01-02")]++
	}
	r["unique_days_active"] = float64(len(days))

	for _, action := range data.Actions {
		c := counts[action]
		r[action+"_count"] = c
		r[action+"_ratio"] = c / total
	}
}

func amountFeatures(r Record, events []data.Event) {
	amounts := make([]float64, len(events))
	for i, e := range events {
		amounts[i] = e.Amount
	}

	mean := Mean(amounts)
	std := StdDev(amounts)

	r["total_amount"] = Sum(amounts)
	r["avg_amount"] = mean
	r["median_amount"] = Median(amounts)
	r["std_amount"] = std
	r["min_amount"] = Min(amounts)
	r["max_amount"] = Max(amounts)
	if mean > 0 {
		r["amount_cv"] = std / mean
	} else {
		r["amount_cv"] = 0
	}
}

func cadenceFeatures(r Record, events []data.Event) {
	gaps := interEventGaps(events)
	r["avg_time_between_transactions"] = Mean(gaps)
	r["std_time_between_transactions"] = StdDev(gaps)
	r["min_time_between_transactions"] = Min(gaps)
	r["max_time_between_transactions"] = Max(gaps)

	daily := make(map[string]float64)
	hours := make(map[int]float64)
	for _, e := range events {
		ts := e.Timestamp.UTC()
		daily[ts.Format("2006-01-02")]++
		hours[ts.Hour()]++
	}

	dailyCounts := mapValues(daily)
	r["activity_consistency"] = 1.0 / (StdDev(dailyCounts) + 1)
	r["max_daily_transactions"] = Max(dailyCounts)
	r["avg_daily_transactions"] = Mean(dailyCounts)

	r["activity_hours_spread"] = float64(len(hours))
	r["most_active_hour"] = float64(topHour(hours))
}

func riskFeatures(r Record, events []data.Event) {
	total := float64(len(events))

	var borrowed, repaid, deposited float64
	var lastLiquidation time.Time
	var liquidations float64
	for _, e := range events {
		switch e.Action {
		case data.ActionBorrow:
			borrowed += e.Amount
		case data.ActionRepay:
			repaid += e.Amount
		case data.ActionDeposit:
			deposited += e.Amount
		case data.ActionLiquidation:
			liquidations++
			if e.Timestamp.After(lastLiquidation) {
				lastLiquidation = e.Timestamp
			}
		}
	}

	r["liquidation_count"] = liquidations
	r["liquidation_ratio"] = liquidations / total
	if liquidations > 0 {
		last := events[len(events)-1].Timestamp
		r["days_since_last_liquidation"] = math.Floor(last.Sub(lastLiquidation).Hours() / 24)
	} else {
		r["days_since_last_liquidation"] = NoLiquidationDays
	}

	r["total_borrowed"] = borrowed
	r["total_repaid"] = repaid
	// No debt implies no default: full repayment credit.
	if borrowed > 0 {
		r["repayment_ratio"] = repaid / borrowed
	} else {
		r["repayment_ratio"] = 1.0
	}
	r["outstanding_debt"] = math.Max(0, borrowed-repaid)

	if deposited > 0 {
		r["leverage_ratio"] = borrowed / deposited
	} else {
		r["leverage_ratio"] = 0
	}
	if borrowed > 0 {
		r["deposit_to_borrow_ratio"] = deposited / borrowed
	} else {
		r["deposit_to_borrow_ratio"] = Infinite
	}
}

func portfolioFeatures(r Record, events []data.Event) {
	total := float64(len(events))

	assets := make(map[string]float64)
	for _, e := range events {
		if e.Asset != "" {
			assets[e.Asset]++
		}
	}
	if len(assets) == 0 {
		r["unique_assets"] = 1
		r["asset_concentration"] = 1.0
		r["asset_diversity_score"] = 0.0
	} else {
		concentration := Max(mapValues(assets)) / total
		r["unique_assets"] = float64(len(assets))
		r["asset_concentration"] = concentration
		r["asset_diversity_score"] = 1.0 - concentration
	}

	deposits := r["deposit_count"]
	withdrawals := r["redeemunderlying_count"]
	r["position_changes"] = deposits + withdrawals
	if withdrawals > 0 {
		r["deposit_withdrawal_ratio"] = deposits / withdrawals
	} else {
		r["deposit_withdrawal_ratio"] = Infinite
	}
}

func temporalFeatures(r Record, events []data.Event, asOf time.Time) {
	first := events[0].Timestamp
	last := events[len(events)-1].Timestamp

	// Minimum age of 1 day so per-day rates never divide by zero.
	age := math.Floor(last.Sub(first).Hours()/24) + 1
	r["account_age_days"] = age
	r["transactions_per_day"] = float64(len(events)) / age
	r["days_since_last_activity"] = math.Floor(asOf.Sub(last).Hours() / 24)

	weekly := make(map[int]float64)
	monthly := make(map[int]float64)
	for _, e := range events {
		ts := e.Timestamp.UTC()
		_, week := ts.ISOWeek()
		weekly[week]++
		monthly[int(ts.Month())]++
	}
	r["weekly_activity_variance"] = Variance(mapValues(weekly))
	r["monthly_activity_variance"] = Variance(mapValues(monthly))
}

func botFeatures(r Record, events []data.Event) {
	total := float64(len(events))

	// Interval regularity needs at least two gaps to be evidence of
	// anything; below that it is 0 (insufficient evidence, not "regular").
	if len(events) > 2 {
		gaps := interEventGaps(events)
		mean := Mean(gaps)
		var cv float64
		if mean > 0 {
			cv = StdDev(gaps) / mean
		}
		r["time_regularity_score"] = 1.0 / (cv + regularityEpsilon)
		r["most_common_interval_ratio"] = modeShare(gaps)
	} else {
		r["time_regularity_score"] = 0
		r["most_common_interval_ratio"] = 0
	}

	amounts := make([]float64, len(events))
	for i, e := range events {
		amounts[i] = e.Amount
	}
	r["amount_uniformity_score"] = modeShare(amounts)

	gas := make([]float64, 0, len(events))
	for _, e := range events {
		if e.GasUsed > 0 {
			gas = append(gas, e.GasUsed)
		}
	}
	if len(gas) == 0 {
		r["gas_optimization_score"] = 0
	} else {
		counts := make(map[float64]float64, len(gas))
		for _, g := range gas {
			counts[g]++
		}
		r["gas_optimization_score"] = Max(mapValues(counts)) / total
	}

	kinds := make(map[string]bool)
	for _, e := range events {
		kinds[e.Action] = true
	}
	r["transaction_complexity"] = float64(len(kinds)) / total
}

// interEventGaps returns successive timestamp differences in seconds.
func interEventGaps(events []data.Event) []float64 {
	if len(events) < 2 {
		return nil
	}
	gaps := make([]float64, len(events)-1)
	for i := 1; i < len(events); i++ {
		gaps[i-1] = events[i].Timestamp.Sub(events[i-1].Timestamp).Seconds()
	}
	return gaps
}

// modeShare returns the share of values equal to the single most frequent
// exact value.
func modeShare(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	counts := make(map[float64]float64, len(vals))
	for _, v := range vals {
		counts[v]++
	}
	return Max(mapValues(counts)) / float64(len(vals))
}

// topHour returns the most frequent hour, smallest hour on ties.
func topHour(hours map[int]float64) int {
	best, bestCount := 0, -1.0
	for h := 0; h < 24; h++ {
		if c, ok := hours[h]; ok && c > bestCount {
			best, bestCount = h, c
		}
	}
	return best
}

func mapValues[K comparable](m map[K]float64) []float64 {
	vals := make([]float64, 0, len(m))
	for _, v := range m {
		vals = append(vals, v)
	}
	return vals
}
