// Package matcher resolves product names from different naming systems to a
// single canonical key.
//
// Invoice lines, the two reference price lists and the origin system's stock
// list all spell the same product differently. The matcher reconciles them
// with a staged lookup:
//  1. Exact alias hit on (system, lowercased name), confidence 1.0
//  2. Alias hit among the alternate names, confidence 0.95
//  3. Fuzzy scoring of the normalized name against every candidate key
//
// Fuzzy scoring runs four strategies per candidate, strongest first, and the
// first strategy that clears its acceptance threshold scores the candidate:
//   - Normalized exact: the normalized name equals the key
//   - Substring: containment ratio or longest common substring ratio
//   - Word overlap: shared words relative to the larger word count
//   - Edit distance: 1 - levenshtein(a, b) / max(len(a), len(b))
//
// Each fuzzy score is scaled by its strategy weight, so a fuzzy match can
// never outrank an alias hit. The best candidate is returned as the match only
// when it reaches ConfidenceThreshold; otherwise the ranked candidates are
// returned as suggestions for a human reviewer.
//
// Large catalogs are pre-bucketed by normalized word so one lookup does not
// score every key.
//
// Example usage:
//
//	config := matcher.DefaultMatchingConfig()
//	config.ConfidenceThreshold = 0.9
//
//	pm := matcher.NewProductMatcher(config, normalizer.New(), log)
//	pm.LoadMappings(snapshot.Mappings)
//
//	result := pm.FindMatchWithConfidence("Domates Salkım", models.SystemOrigin)
//	if !result.Matched() {
//		fmt.Println(result.Suggestions)
//	}
package matcher

import (
	"fmt"
)

// Fixed confidences for the lookups that do not depend on a score.
const (
	ExactConfidence           = 1.0
	AliasConfidence           = 0.95
	NormalizedExactConfidence = 0.90
)

// MatchingConfig holds the thresholds and weights used by the ProductMatcher.
//
// Key configuration areas:
//   - Acceptance: the confidence a best candidate needs to become the match
//   - Strategy thresholds: the raw score each fuzzy strategy must exceed
//   - Strategy weights: the factor a raw score is scaled by
//   - Performance: candidate bucketing and the full-scan limit
//
// Use the provided factory functions for common scenarios:
//   - DefaultMatchingConfig(): the production thresholds
//   - StrictMatchingConfig(): fewer automatic matches, more manual review
//   - RelaxedMatchingConfig(): more automatic matches for exploratory runs
type MatchingConfig struct {
	// ConfidenceThreshold is the confidence the best fuzzy candidate needs to be
	// accepted as the match.
	ConfidenceThreshold float64 `json:"confidence_threshold" mapstructure:"confidence_threshold"`

	// Thresholds a raw strategy score must exceed for the strategy to apply.
	Thresholds StrategyThresholds `json:"thresholds" mapstructure:"thresholds"`

	// Weights scale each strategy's raw score into a confidence.
	Weights StrategyWeights `json:"weights" mapstructure:"weights"`

	// SuggestionFloor is the similarity a key needs to be offered as a
	// suggestion when no strategy applied at all.
	SuggestionFloor float64 `json:"suggestion_floor" mapstructure:"suggestion_floor"`

	// MaxSuggestions limits the alternatives returned with a result.
	MaxSuggestions int `json:"max_suggestions" mapstructure:"max_suggestions"`

	// MinWordLength is the shortest word counted by the word overlap strategy.
	MinWordLength int `json:"min_word_length" mapstructure:"min_word_length"`

	// BucketCandidates scores only keys sharing a word or word prefix with the
	// name once the catalog holds more than FullScanLimit keys.
	BucketCandidates bool `json:"bucket_candidates" mapstructure:"bucket_candidates"`

	// FullScanLimit is the catalog size up to which every key is scored.
	FullScanLimit int `json:"full_scan_limit" mapstructure:"full_scan_limit"`

	// MaxCandidates caps the keys scored for one lookup when bucketing.
	MaxCandidates int `json:"max_candidates" mapstructure:"max_candidates"`

	// RecordUnmatched keeps origin-system names that no key resembled.
	RecordUnmatched bool `json:"record_unmatched" mapstructure:"record_unmatched"`
}

// StrategyThresholds are the raw scores the fuzzy strategies must exceed.
type StrategyThresholds struct {
	Substring    float64 `json:"substring" mapstructure:"substring"`
	WordOverlap  float64 `json:"word_overlap" mapstructure:"word_overlap"`
	EditDistance float64 `json:"edit_distance" mapstructure:"edit_distance"`
}

// StrategyWeights are the factors applied to accepted raw scores.
type StrategyWeights struct {
	Substring    float64 `json:"substring" mapstructure:"substring"`
	WordOverlap  float64 `json:"word_overlap" mapstructure:"word_overlap"`
	EditDistance float64 `json:"edit_distance" mapstructure:"edit_distance"`
}

// DefaultMatchingConfig returns a configuration with sensible defaults
func DefaultMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		ConfidenceThreshold: 0.85,
		Thresholds: StrategyThresholds{
			Substring:    0.70,
			WordOverlap:  0.60,
			EditDistance: 0.50,
		},
		Weights: StrategyWeights{
			Substring:    0.85,
			WordOverlap:  0.80,
			EditDistance: 0.75,
		},
		SuggestionFloor:  0.30,
		MaxSuggestions:   5,
		MinWordLength:    3,
		BucketCandidates: true,
		FullScanLimit:    2000,
		MaxCandidates:    500,
		RecordUnmatched:  true,
	}
}

// StrictMatchingConfig returns a configuration for strict matching
func StrictMatchingConfig() *MatchingConfig {
	config := DefaultMatchingConfig()
	config.ConfidenceThreshold = 0.90
	config.Thresholds = StrategyThresholds{
		Substring:    0.80,
		WordOverlap:  0.75,
		EditDistance: 0.70,
	}
	config.MaxSuggestions = 3
	return config
}

// RelaxedMatchingConfig returns a configuration for relaxed matching
func RelaxedMatchingConfig() *MatchingConfig {
	config := DefaultMatchingConfig()
	config.ConfidenceThreshold = 0.70
	config.Thresholds = StrategyThresholds{
		Substring:    0.60,
		WordOverlap:  0.50,
		EditDistance: 0.40,
	}
	config.Weights = StrategyWeights{
		Substring:    0.85,
		WordOverlap:  0.85,
		EditDistance: 0.80,
	}
	config.SuggestionFloor = 0.20
	config.FullScanLimit = 5000
	config.MaxCandidates = 1000
	return config
}

// Validate checks if the matching configuration is valid
func (mc *MatchingConfig) Validate() error {
	if mc.ConfidenceThreshold <= 0.0 || mc.ConfidenceThreshold > 1.0 {
		return fmt.Errorf("confidence threshold must be in (0.0, 1.0]: %f", mc.ConfidenceThreshold)
	}

	if err := mc.Thresholds.Validate(); err != nil {
		return fmt.Errorf("invalid thresholds: %w", err)
	}

	if err := mc.Weights.Validate(); err != nil {
		return fmt.Errorf("invalid weights: %w", err)
	}

	if mc.SuggestionFloor < 0.0 || mc.SuggestionFloor > 1.0 {
		return fmt.Errorf("suggestion floor must be between 0.0 and 1.0: %f", mc.SuggestionFloor)
	}

	if mc.MaxSuggestions < 0 || mc.MaxSuggestions > 5 {
		return fmt.Errorf("max suggestions must be between 0 and 5: %d", mc.MaxSuggestions)
	}

	if mc.MinWordLength < 1 {
		return fmt.Errorf("min word length must be positive: %d", mc.MinWordLength)
	}

	if mc.FullScanLimit <= 0 {
		return fmt.Errorf("full scan limit must be positive: %d", mc.FullScanLimit)
	}

	if mc.BucketCandidates && mc.MaxCandidates <= 0 {
		return fmt.Errorf("max candidates must be positive when bucketing: %d", mc.MaxCandidates)
	}

	return nil
}

// Validate checks that every threshold is a ratio
func (st *StrategyThresholds) Validate() error {
	for name, v := range map[string]float64{
		"substring":     st.Substring,
		"word overlap":  st.WordOverlap,
		"edit distance": st.EditDistance,
	} {
		if v < 0.0 || v >= 1.0 {
			return fmt.Errorf("%s threshold must be in [0.0, 1.0): %f", name, v)
		}
	}
	return nil
}

// Validate checks the strategy weights. A fuzzy weight may not reach the alias
// confidence, which would let a guess outrank a curated alias.
func (sw *StrategyWeights) Validate() error {
	for name, v := range map[string]float64{
		"substring":     sw.Substring,
		"word overlap":  sw.WordOverlap,
		"edit distance": sw.EditDistance,
	} {
		if v <= 0.0 || v >= AliasConfidence {
			return fmt.Errorf("%s weight must be in (0.0, %.2f): %f", name, AliasConfidence, v)
		}
	}
	return nil
}

// Clone creates a deep copy of the matching configuration
func (mc *MatchingConfig) Clone() *MatchingConfig {
	if mc == nil {
		return nil
	}

	clone := *mc
	return &clone
}

// String returns a human-readable description of the configuration
func (mc *MatchingConfig) String() string {
	return fmt.Sprintf("MatchingConfig{Threshold: %.2f, Substring: >%.2f x%.2f, Words: >%.2f x%.2f, Edit: >%.2f x%.2f, Bucketing: %t}",
		mc.ConfidenceThreshold,
		mc.Thresholds.Substring, mc.Weights.Substring,
		mc.Thresholds.WordOverlap, mc.Weights.WordOverlap,
		mc.Thresholds.EditDistance, mc.Weights.EditDistance,
		mc.BucketCandidates)
}
