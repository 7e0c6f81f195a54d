package scoring

import (
	"fmt"
	"math"

	"github.com/mchmarny/defiscore/pkg/features"
)

// Risk tier ladder: inclusive lower bounds, partitioning [0,1000] with no
// gaps or overlaps.
var tierLadder = []struct {
	min  float64
	name string
}{
	{900, "Excellent"},
	{800, "Very Good"},
	{700, "Good"},
	{600, "Fair"},
	{500, "Poor"},
	{400, "Very Poor"},
	{0, "Unacceptable"},
}

// TierNames lists the risk tiers from best to worst.
var TierNames = []string{
	"Excellent", "Very Good", "Good", "Fair", "Poor", "Very Poor", "Unacceptable",
}

// ScoreRecord is one wallet's final calibrated score and risk tier.
type ScoreRecord struct {
	Wallet string  `json:"wallet" yaml:"wallet"`
	Raw    float64 `json:"raw_score" yaml:"rawScore"`
	Score  float64 `json:"score" yaml:"score"`
	Tier   string  `json:"tier" yaml:"tier"`
}

// TierFor maps a calibrated score to its risk tier.
func TierFor(score float64) string {
	for _, t := range tierLadder {
		if score >= t.min {
			return t.name
		}
	}
	// Scores are clipped to [0,1000]; anything below 0 is still the
	// bottom tier.
	return tierLadder[len(tierLadder)-1].name
}

// Calibrate converts raw model outputs for a whole population into bounded
// scores and tiers.
//
// Calibration is population-relative: the empirical percentile function of
// the raw scores (101 cut points) maps each wallet's percentile rank
// linearly onto [0,1000]. The output therefore approximates a uniform
// distribution regardless of the raw model's scale, keeping the score's
// "percentile among peers" semantics stable across training runs. A single
// wallet cannot be calibrated in isolation from its population.
//
// A degenerate population (all raw scores equal) still yields valid, equal
// scores. Every input wallet appears in the output exactly once.
func Calibrate(wallets []string, raw []float64) ([]ScoreRecord, error) {
	if len(wallets) == 0 {
		return nil, ErrEmptyPopulation
	}
	if len(wallets) != len(raw) {
		return nil, fmt.Errorf("wallets (%d) and raw scores (%d) do not align", len(wallets), len(raw))
	}
	for i, v := range raw {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("raw score for %s is not finite", wallets[i])
		}
	}

	cuts := features.Percentiles(raw)

	out := make([]ScoreRecord, len(wallets))
	for i, w := range wallets {
		rank := features.Clip(float64(features.SearchSorted(cuts, raw[i]))/100, 0, 1)
		score := features.Clip(1000*rank, 0, 1000)
		out[i] = ScoreRecord{
			Wallet: w,
			Raw:    raw[i],
			Score:  score,
			Tier:   TierFor(score),
		}
	}
	return out, nil
}
