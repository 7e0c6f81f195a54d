package scoring

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/mchmarny/defiscore/pkg/features"
)

// Risk indicators correlated against the calibrated score in reports.
var riskIndicators = []string{
	"liquidation_count",
	"liquidation_ratio",
	"leverage_ratio",
	"outstanding_debt",
	"repayment_ratio",
	"time_regularity_score",
	"amount_uniformity_score",
	"gas_optimization_score",
}

// Behavioral metrics compared between high and low scorers.
var comparisonMetrics = []string{
	"total_transactions",
	"account_age_days",
	"unique_assets",
	"repayment_ratio",
	"liquidation_ratio",
	"leverage_ratio",
}

const topListSize = 10

type Bucket struct {
	Range      string  `json:"range" yaml:"range"`
	Count      int     `json:"count" yaml:"count"`
	Percentage float64 `json:"percentage" yaml:"percentage"`
}

type TierCount struct {
	Tier       string  `json:"tier" yaml:"tier"`
	Count      int     `json:"count" yaml:"count"`
	Percentage float64 `json:"percentage" yaml:"percentage"`
}

type FactorCorrelation struct {
	Factor      string  `json:"factor" yaml:"factor"`
	Correlation float64 `json:"correlation" yaml:"correlation"`
}

type WalletScore struct {
	Wallet string  `json:"wallet" yaml:"wallet"`
	Score  float64 `json:"score" yaml:"score"`
}

// GroupProfile is the average behavioral profile of one score group.
type GroupProfile struct {
	Count    int                `json:"count" yaml:"count"`
	MinScore float64            `json:"min_score" yaml:"minScore"`
	MaxScore float64            `json:"max_score" yaml:"maxScore"`
	Metrics  map[string]float64 `json:"metrics" yaml:"metrics"`
}

// Insights is the run-level analysis of one scored population.
type Insights struct {
	TotalWallets int                 `json:"total_wallets" yaml:"totalWallets"`
	MeanScore    float64             `json:"mean_score" yaml:"meanScore"`
	MedianScore  float64             `json:"median_score" yaml:"medianScore"`
	StdScore     float64             `json:"std_score" yaml:"stdScore"`
	MinScore     float64             `json:"min_score" yaml:"minScore"`
	MaxScore     float64             `json:"max_score" yaml:"maxScore"`
	Q1           float64             `json:"q1" yaml:"q1"`
	Q3           float64             `json:"q3" yaml:"q3"`
	Buckets      []Bucket            `json:"buckets" yaml:"buckets"`
	Tiers        []TierCount         `json:"tiers" yaml:"tiers"`
	Correlations []FactorCorrelation `json:"correlations,omitempty" yaml:"correlations,omitempty"`
	Top          []WalletScore       `json:"top" yaml:"top"`
	Bottom       []WalletScore       `json:"bottom" yaml:"bottom"`
	HighScorers  *GroupProfile       `json:"high_scorers,omitempty" yaml:"highScorers,omitempty"`
	LowScorers   *GroupProfile       `json:"low_scorers,omitempty" yaml:"lowScorers,omitempty"`
}

// BuildInsights analyzes one run's score records; feats may be nil, in
// which case the feature-dependent sections (correlations, group profiles)
// are omitted.
func BuildInsights(records []ScoreRecord, feats map[string]features.Record) (*Insights, error) {
	if len(records) == 0 {
		return nil, ErrEmptyPopulation
	}

	scores := make([]float64, len(records))
	for i, r := range records {
		scores[i] = r.Score
	}
	cuts := features.Percentiles(scores)

	ins := &Insights{
		TotalWallets: len(records),
		MeanScore:    features.Mean(scores),
		MedianScore:  features.Median(scores),
		StdScore:     features.StdDev(scores),
		MinScore:     features.Min(scores),
		MaxScore:     features.Max(scores),
		Q1:           cuts[25],
		Q3:           cuts[75],
	}

	ins.Buckets = bucketDistribution(scores)
	ins.Tiers = tierDistribution(records)

	sorted := make([]ScoreRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	n := topListSize
	if n > len(sorted) {
		n = len(sorted)
	}
	for i := 0; i < n; i++ {
		ins.Top = append(ins.Top, WalletScore{Wallet: sorted[i].Wallet, Score: sorted[i].Score})
		b := sorted[len(sorted)-1-i]
		ins.Bottom = append(ins.Bottom, WalletScore{Wallet: b.Wallet, Score: b.Score})
	}

	if feats != nil {
		ins.Correlations = scoreCorrelations(records, feats)
		ins.HighScorers = groupProfile(records, feats, func(s float64) bool { return s >= cuts[80] })
		ins.LowScorers = groupProfile(records, feats, func(s float64) bool { return s <= cuts[20] })
	}

	return ins, nil
}

func bucketDistribution(scores []float64) []Bucket {
	counts := make([]int, 10)
	for _, s := range scores {
		idx := int(s / 100)
		if idx > 9 {
			idx = 9
		}
		counts[idx]++
	}
	buckets := make([]Bucket, 10)
	for i, c := range counts {
		buckets[i] = Bucket{
			Range:      fmt.Sprintf("%d-%d", i*100, (i+1)*100-1),
			Count:      c,
			Percentage: float64(c) / float64(len(scores)) * 100,
		}
	}
	return buckets
}

func tierDistribution(records []ScoreRecord) []TierCount {
	counts := make(map[string]int, len(TierNames))
	for _, r := range records {
		counts[r.Tier]++
	}
	out := make([]TierCount, 0, len(TierNames))
	for _, t := range TierNames {
		out = append(out, TierCount{
			Tier:       t,
			Count:      counts[t],
			Percentage: float64(counts[t]) / float64(len(records)) * 100,
		})
	}
	return out
}

func scoreCorrelations(records []ScoreRecord, feats map[string]features.Record) []FactorCorrelation {
	out := make([]FactorCorrelation, 0, len(riskIndicators))
	for _, factor := range riskIndicators {
		xs := make([]float64, 0, len(records))
		ys := make([]float64, 0, len(records))
		for _, r := range records {
			rec, ok := feats[r.Wallet]
			if !ok {
				continue
			}
			v := rec[factor]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			xs = append(xs, v)
			ys = append(ys, r.Score)
		}
		out = append(out, FactorCorrelation{
			Factor:      factor,
			Correlation: features.Pearson(xs, ys),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return math.Abs(out[i].Correlation) > math.Abs(out[j].Correlation)
	})
	return out
}

func groupProfile(records []ScoreRecord, feats map[string]features.Record, in func(float64) bool) *GroupProfile {
	p := &GroupProfile{
		MinScore: math.MaxFloat64,
		Metrics:  make(map[string]float64, len(comparisonMetrics)),
	}
	sums := make(map[string]float64, len(comparisonMetrics))
	for _, r := range records {
		if !in(r.Score) {
			continue
		}
		p.Count++
		if r.Score < p.MinScore {
			p.MinScore = r.Score
		}
		if r.Score > p.MaxScore {
			p.MaxScore = r.Score
		}
		rec := feats[r.Wallet]
		for _, m := range comparisonMetrics {
			if v := rec[m]; !math.IsNaN(v) && !math.IsInf(v, 0) {
				sums[m] += v
			}
		}
	}
	if p.Count == 0 {
		return &GroupProfile{Metrics: map[string]float64{}}
	}
	for _, m := range comparisonMetrics {
		p.Metrics[m] = sums[m] / float64(p.Count)
	}
	return p
}

// Markdown renders the analysis as a report.
func (ins *Insights) Markdown() string {
	var b strings.Builder

	b.WriteString("# DeFi Credit Scoring Analysis Report\n\n")

	b.WriteString("## Executive Summary\n\n")
	fmt.Fprintf(&b, "This analysis covers **%d** wallets with an average credit score of **%.0f**.\n\n",
		ins.TotalWallets, ins.MeanScore)

	b.WriteString("## Score Distribution\n\n")
	fmt.Fprintf(&b, "- **Mean Score**: %.2f\n", ins.MeanScore)
	fmt.Fprintf(&b, "- **Median Score**: %.2f\n", ins.MedianScore)
	fmt.Fprintf(&b, "- **Standard Deviation**: %.2f\n", ins.StdScore)
	fmt.Fprintf(&b, "- **Score Range**: %.0f - %.0f\n", ins.MinScore, ins.MaxScore)
	fmt.Fprintf(&b, "- **Interquartile Range**: %.0f - %.0f\n\n", ins.Q1, ins.Q3)

	b.WriteString("### Score Distribution by Buckets\n\n")
	b.WriteString("| Score Range | Count | Percentage |\n")
	b.WriteString("|-------------|-------|------------|\n")
	for _, bk := range ins.Buckets {
		fmt.Fprintf(&b, "| %s | %d | %.1f%% |\n", bk.Range, bk.Count, bk.Percentage)
	}
	b.WriteString("\n")

	b.WriteString("### Risk Tier Distribution\n\n")
	b.WriteString("| Risk Tier | Count | Percentage |\n")
	b.WriteString("|-----------|-------|------------|\n")
	for _, t := range ins.Tiers {
		fmt.Fprintf(&b, "| %s | %d | %.1f%% |\n", t.Tier, t.Count, t.Percentage)
	}
	b.WriteString("\n")

	if len(ins.Correlations) > 0 {
		b.WriteString("## Risk Factor Analysis\n\n")
		b.WriteString("| Risk Factor | Correlation with Score |\n")
		b.WriteString("|-------------|------------------------|\n")
		for _, c := range ins.Correlations {
			fmt.Fprintf(&b, "| %s | %.3f |\n", titleCase(c.Factor), c.Correlation)
		}
		b.WriteString("\n")
	}

	if ins.HighScorers != nil && ins.LowScorers != nil {
		b.WriteString("## High vs Low Scorer Comparison\n\n")
		fmt.Fprintf(&b, "- **High Scorers**: %d wallets (scores %.0f-%.0f)\n",
			ins.HighScorers.Count, ins.HighScorers.MinScore, ins.HighScorers.MaxScore)
		fmt.Fprintf(&b, "- **Low Scorers**: %d wallets (scores %.0f-%.0f)\n\n",
			ins.LowScorers.Count, ins.LowScorers.MinScore, ins.LowScorers.MaxScore)

		b.WriteString("| Metric | High Scorers | Low Scorers |\n")
		b.WriteString("|--------|--------------|-------------|\n")
		for _, m := range comparisonMetrics {
			fmt.Fprintf(&b, "| %s | %.2f | %.2f |\n",
				titleCase(m), ins.HighScorers.Metrics[m], ins.LowScorers.Metrics[m])
		}
		b.WriteString("\n")
	}

	b.WriteString("## Top Wallets\n\n")
	for i, w := range ins.Top {
		fmt.Fprintf(&b, "%d. `%s`: %.0f\n", i+1, w.Wallet, w.Score)
	}
	b.WriteString("\n## Bottom Wallets\n\n")
	for i, w := range ins.Bottom {
		fmt.Fprintf(&b, "%d. `%s`: %.0f\n", i+1, w.Wallet, w.Score)
	}

	b.WriteString("\n---\n\n*Report generated by defiscore*\n")

	return b.String()
}

func titleCase(snake string) string {
	parts := strings.Split(snake, "_")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}
