package matcher

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"invoice-reconciliation-service/internal/models"
	"invoice-reconciliation-service/internal/normalizer"
	"invoice-reconciliation-service/pkg/logger"
)

// ProductMatcher resolves product names to canonical keys. It is safe for
// concurrent lookups once mappings are loaded.
type ProductMatcher struct {
	Config *MatchingConfig

	normalizer *normalizer.Normalizer
	logger     logger.Logger

	mu      sync.RWMutex
	aliases map[string]string
	index   *CandidateIndex

	unmatchedMu   sync.Mutex
	unmatched     []models.UnmatchedProduct
	unmatchedSeen map[string]bool

	statsMu sync.Mutex
	stats   MatcherStats
}

// MatcherStats counts lookups by outcome
type MatcherStats struct {
	Aliases       int `json:"aliases"`
	CanonicalKeys int `json:"canonical_keys"`
	Lookups       int `json:"lookups"`
	ExactHits     int `json:"exact_hits"`
	AliasHits     int `json:"alias_hits"`
	FuzzyHits     int `json:"fuzzy_hits"`
	LowConfidence int `json:"low_confidence"`
	NoMatch       int `json:"no_match"`
}

// alternativesOnMatch is how many runners-up accompany an accepted match.
const alternativesOnMatch = 3

// scored is a candidate with the strategy that scored it.
type scored struct {
	key        string
	confidence float64
	strategy   models.MatchStrategy
}

// NewProductMatcher creates a product matcher. A nil config uses
// DefaultMatchingConfig and a nil normalizer gets a fresh memo.
func NewProductMatcher(config *MatchingConfig, norm *normalizer.Normalizer, log logger.Logger) *ProductMatcher {
	if config == nil {
		config = DefaultMatchingConfig()
	}
	if norm == nil {
		norm = normalizer.New()
	}

	return &ProductMatcher{
		Config:        config,
		normalizer:    norm,
		logger:        logger.OrNop(log).WithComponent("product_matcher"),
		aliases:       make(map[string]string),
		index:         NewCandidateIndex(nil, nil, config.MinWordLength),
		unmatchedSeen: make(map[string]bool),
	}
}

func aliasKey(system models.System, name string) string {
	return string(system) + ":" + strings.ToLower(strings.TrimSpace(name))
}

// LoadMappings rebuilds the alias cache and the candidate index from the
// mapping rows. Later rows win when two rows claim the same alias.
func (pm *ProductMatcher) LoadMappings(rows []models.MappingRow) {
	aliases := make(map[string]string)
	displayNames := make(map[string]string)
	var keys []string

	for _, row := range rows {
		key := strings.TrimSpace(row.CanonicalKey)
		if key == "" {
			continue
		}
		if _, ok := displayNames[key]; !ok {
			keys = append(keys, key)
			displayNames[key] = firstNonEmpty(row.OriginName, row.ListAName, row.ListBName, key)
		}
		for _, entry := range row.AliasEntries() {
			aliases[aliasKey(entry.System, entry.RawName)] = key
		}
	}

	index := NewCandidateIndex(keys, displayNames, pm.Config.MinWordLength)

	pm.mu.Lock()
	pm.aliases = aliases
	pm.index = index
	pm.mu.Unlock()

	pm.statsMu.Lock()
	pm.stats.Aliases = len(aliases)
	pm.stats.CanonicalKeys = index.Len()
	pm.statsMu.Unlock()

	pm.logger.WithFields(logger.Fields{
		"rows":           len(rows),
		"aliases":        len(aliases),
		"canonical_keys": index.Len(),
	}).Info("Product mapping cache built")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// FindMatchWithConfidence resolves name as spelled in system. The returned
// confidence is always within [0,1]; alias cache hits are exactly 1.0.
func (pm *ProductMatcher) FindMatchWithConfidence(name string, system models.System) models.MatchResult {
	pm.count(func(s *MatcherStats) { s.Lookups++ })

	clean := strings.TrimSpace(name)
	if clean == "" {
		pm.count(func(s *MatcherStats) { s.NoMatch++ })
		return models.NewMatchResult("", 0, models.StrategyNoMatch, nil)
	}

	pm.mu.RLock()
	aliases, index := pm.aliases, pm.index
	pm.mu.RUnlock()

	if key, ok := aliases[aliasKey(system, clean)]; ok {
		pm.count(func(s *MatcherStats) { s.ExactHits++ })
		return models.NewMatchResult(key, ExactConfidence, models.StrategyExact, nil)
	}

	if key, ok := aliases[aliasKey(models.SystemAlternate, clean)]; ok {
		pm.count(func(s *MatcherStats) { s.AliasHits++ })
		return models.NewMatchResult(key, AliasConfidence, models.StrategyAlias, nil)
	}

	normalized := pm.normalizer.Normalize(clean)
	results := pm.scoreCandidates(normalized, index.GetCandidates(normalized, pm.Config))

	if len(results) > 0 {
		best := results[0]
		if best.confidence >= pm.Config.ConfidenceThreshold {
			pm.count(func(s *MatcherStats) { s.FuzzyHits++ })
			return models.NewMatchResult(best.key, best.confidence, best.strategy,
				pm.suggestions(index, results[1:], min(alternativesOnMatch, pm.Config.MaxSuggestions)))
		}

		pm.count(func(s *MatcherStats) { s.LowConfidence++ })
		pm.logger.WithFields(logger.Fields{
			"name":       clean,
			"system":     system,
			"best_key":   best.key,
			"confidence": fmt.Sprintf("%.3f", best.confidence),
		}).Debug("Best candidate below confidence threshold")
		return models.NewMatchResult("", best.confidence, models.StrategyLowConfidence,
			pm.suggestions(index, results, pm.Config.MaxSuggestions))
	}

	pm.count(func(s *MatcherStats) { s.NoMatch++ })
	if system == models.SystemOrigin && pm.Config.RecordUnmatched {
		pm.recordUnmatched(models.UnmatchedProduct{
			SourceSystem:   system,
			SourceName:     clean,
			NormalizedName: normalized,
		})
	}

	return models.NewMatchResult("", 0, models.StrategyNoMatch, pm.similarSuggestions(index, normalized))
}

// FindMatch returns the matched canonical key, or the normalized name when
// nothing was matched.
func (pm *ProductMatcher) FindMatch(name string, system models.System) string {
	result := pm.FindMatchWithConfidence(name, system)
	if result.Matched() {
		return result.CanonicalKey
	}
	return pm.normalizer.Normalize(name)
}

// scoreCandidates runs the fuzzy strategies against every candidate key and
// returns the accepted scores, best first. A candidate is scored by the first
// strategy that accepts it.
func (pm *ProductMatcher) scoreCandidates(normalized string, candidates []string) []scored {
	if normalized == "" {
		return nil
	}

	cfg := pm.Config
	var results []scored
	for _, key := range candidates {
		if key == normalized {
			results = append(results, scored{key, NormalizedExactConfidence, models.StrategyNormalizedExact})
			continue
		}

		if score := SubstringScore(normalized, key); score > cfg.Thresholds.Substring {
			results = append(results, scored{key, score * cfg.Weights.Substring, models.StrategySubstring})
			continue
		}

		if score := WordScore(normalized, key, cfg.MinWordLength); score > cfg.Thresholds.WordOverlap {
			results = append(results, scored{key, score * cfg.Weights.WordOverlap, models.StrategyWordOverlap})
			continue
		}

		if score := Similarity(normalized, key); score > cfg.Thresholds.EditDistance {
			results = append(results, scored{key, score * cfg.Weights.EditDistance, models.StrategyEditDistance})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].confidence != results[j].confidence {
			return results[i].confidence > results[j].confidence
		}
		return results[i].key < results[j].key
	})
	return results
}

func (pm *ProductMatcher) suggestions(index *CandidateIndex, results []scored, limit int) []models.Candidate {
	if limit <= 0 || len(results) == 0 {
		return nil
	}
	if len(results) > limit {
		results = results[:limit]
	}

	out := make([]models.Candidate, len(results))
	for i, r := range results {
		out[i] = models.Candidate{
			CanonicalKey: r.key,
			Name:         index.DisplayName(r.key),
			Confidence:   r.confidence,
			Strategy:     r.strategy,
		}
	}
	return out
}

// similarSuggestions lists keys whose raw similarity clears SuggestionFloor
// when no strategy accepted any key.
func (pm *ProductMatcher) similarSuggestions(index *CandidateIndex, normalized string) []models.Candidate {
	if normalized == "" {
		return nil
	}

	var out []models.Candidate
	for _, key := range index.GetCandidates(normalized, pm.Config) {
		if len(out) >= pm.Config.MaxSuggestions {
			break
		}
		if similarity := Similarity(normalized, key); similarity > pm.Config.SuggestionFloor {
			out = append(out, models.Candidate{
				CanonicalKey: key,
				Name:         index.DisplayName(key),
				Confidence:   similarity * pm.Config.Weights.EditDistance,
				Strategy:     models.StrategyEditDistance,
			})
		}
	}
	return out
}

func (pm *ProductMatcher) recordUnmatched(product models.UnmatchedProduct) {
	pm.unmatchedMu.Lock()
	defer pm.unmatchedMu.Unlock()

	if pm.unmatchedSeen[product.SourceName] {
		return
	}
	pm.unmatchedSeen[product.SourceName] = true
	pm.unmatched = append(pm.unmatched, product)

	pm.logger.WithFields(logger.Fields{
		"name":       product.SourceName,
		"normalized": product.NormalizedName,
	}).Info("Origin product has no catalog match")
}

// Unmatched returns the origin-system names recorded as unmatched, one entry
// per raw name, in first-seen order.
func (pm *ProductMatcher) Unmatched() []models.UnmatchedProduct {
	pm.unmatchedMu.Lock()
	defer pm.unmatchedMu.Unlock()

	out := make([]models.UnmatchedProduct, len(pm.unmatched))
	copy(out, pm.unmatched)
	return out
}

// ResetUnmatched clears the unmatched accumulator, normally after the names
// were persisted.
func (pm *ProductMatcher) ResetUnmatched() {
	pm.unmatchedMu.Lock()
	defer pm.unmatchedMu.Unlock()

	pm.unmatched = nil
	pm.unmatchedSeen = make(map[string]bool)
}

func (pm *ProductMatcher) count(update func(*MatcherStats)) {
	pm.statsMu.Lock()
	update(&pm.stats)
	pm.statsMu.Unlock()
}

// GetStats returns the lookup counters
func (pm *ProductMatcher) GetStats() MatcherStats {
	pm.statsMu.Lock()
	defer pm.statsMu.Unlock()
	return pm.stats
}

// GetIndexStats returns statistics about the candidate index
func (pm *ProductMatcher) GetIndexStats() IndexStats {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.index.GetIndexStats()
}

// UpdateConfiguration replaces the matching configuration
func (pm *ProductMatcher) UpdateConfiguration(config *MatchingConfig) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	pm.Config = config.Clone()
	return nil
}
