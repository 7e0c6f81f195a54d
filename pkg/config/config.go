// Package config holds the scoring pipeline configuration.
//
// The synthetic-target factor table lives here rather than in code so that
// scoring policy changes (weights, divisors, noise) never require touching
// the extraction or calibration logic.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "DEFISCORE_"

// Factor maps one feature to its synthetic-target contribution. Points is
// the maximum swing (negative for risk factors); the feature value is
// divided by Divisor and clipped to [0,1] before the swing is applied.
type Factor struct {
	Feature string  `koanf:"feature" json:"feature" yaml:"feature"`
	Points  float64 `koanf:"points" json:"points" yaml:"points"`
	Divisor float64 `koanf:"divisor" json:"divisor" yaml:"divisor"`
}

// Scoring configures the synthetic training-target heuristic.
type Scoring struct {
	Baseline    float64  `koanf:"baseline" json:"baseline" yaml:"baseline"`
	NoiseStdDev float64  `koanf:"noise_stddev" json:"noise_stddev" yaml:"noise_stddev"`
	Factors     []Factor `koanf:"factors" json:"factors" yaml:"factors"`
}

// Learner configures the regression fit.
type Learner struct {
	Epochs       int     `koanf:"epochs" json:"epochs" yaml:"epochs"`
	LearningRate float64 `koanf:"learning_rate" json:"learning_rate" yaml:"learning_rate"`
	L2           float64 `koanf:"l2" json:"l2" yaml:"l2"`
}

type Config struct {
	// MinEvents drops wallets with fewer events from a scoring run.
	MinEvents int     `koanf:"min_events" json:"min_events" yaml:"min_events"`
	Scoring   Scoring `koanf:"scoring" json:"scoring" yaml:"scoring"`
	Learner   Learner `koanf:"learner" json:"learner" yaml:"learner"`
}

// Default returns the built-in configuration. The factor weights and noise
// are tuning defaults with no empirical derivation; the synthetic target is
// a weak-supervision heuristic, not ground truth.
func Default() *Config {
	return &Config{
		MinEvents: 1,
		Scoring: Scoring{
			Baseline:    500,
			NoiseStdDev: 25,
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
		},
		Learner: Learner{
			Epochs:       500,
			LearningRate: 0.05,
			L2:           0.001,
		},
	}
}

// Load builds a Config by layering defaults, an optional YAML file, and
// environment variables.
//
// Order of precedence (low -> high):
//  1. Default()
//  2. file (YAML), when path is not empty
//  3. env (prefix DEFISCORE_, double underscore as nesting separator,
//     e.g. DEFISCORE_SCORING__NOISE_STDDEV)
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
		return strings.ReplaceAll(s, "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("loading env config: %w", err)
	}

	cfg := *Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.MinEvents < 1 {
		return errors.New("min_events must be at least 1")
	}
	if c.Scoring.Baseline < 0 || c.Scoring.Baseline > 1000 {
		return fmt.Errorf("scoring baseline %f outside [0,1000]", c.Scoring.Baseline)
	}
	if c.Scoring.NoiseStdDev < 0 {
		return errors.New("noise_stddev must not be negative")
	}
	for _, f := range c.Scoring.Factors {
		if f.Feature == "" {
			return errors.New("factor feature name required")
		}
		if f.Divisor <= 0 {
			return fmt.Errorf("factor %s: divisor must be positive", f.Feature)
		}
	}
	if c.Learner.Epochs < 1 {
		return errors.New("learner epochs must be at least 1")
	}
	if c.Learner.LearningRate <= 0 {
		return errors.New("learner learning_rate must be positive")
	}
	if c.Learner.L2 < 0 {
		return errors.New("learner l2 must not be negative")
	}
	return nil
}
