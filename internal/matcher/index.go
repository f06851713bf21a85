package matcher

import (
	"sort"
	"strings"
	"unicode/utf8"

	"invoice-reconciliation-service/internal/normalizer"
)

// prefixLength is the rune length of the word prefix bucket.
const prefixLength = 3

// CandidateIndex provides efficient candidate selection for fuzzy scoring
type CandidateIndex struct {
	// WordIndex maps each significant word of a key to key positions
	WordIndex map[string][]int

	// PrefixIndex maps the leading runes of each word to key positions
	PrefixIndex map[string][]int

	// DisplayNames maps a canonical key to the name shown to reviewers
	DisplayNames map[string]string

	// AllKeys holds every canonical key, sorted
	AllKeys []string

	minWordLength int
}

// NewCandidateIndex creates an index over the canonical keys. displayNames may
// be nil.
func NewCandidateIndex(keys []string, displayNames map[string]string, minWordLength int) *CandidateIndex {
	index := &CandidateIndex{
		WordIndex:     make(map[string][]int),
		PrefixIndex:   make(map[string][]int),
		DisplayNames:  make(map[string]string, len(displayNames)),
		minWordLength: minWordLength,
	}

	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		if key != "" && !seen[key] {
			seen[key] = true
			index.AllKeys = append(index.AllKeys, key)
		}
	}
	sort.Strings(index.AllKeys)

	for key, name := range displayNames {
		index.DisplayNames[key] = name
	}

	index.buildIndexes()
	return index
}

func (ci *CandidateIndex) buildIndexes() {
	for pos, key := range ci.AllKeys {
		for _, word := range ci.words(key) {
			ci.WordIndex[word] = appendUnique(ci.WordIndex[word], pos)
			prefix := wordPrefix(word)
			ci.PrefixIndex[prefix] = appendUnique(ci.PrefixIndex[prefix], pos)
		}
	}
}

func (ci *CandidateIndex) words(key string) []string {
	var words []string
	for _, w := range strings.Split(key, normalizer.Separator) {
		if utf8.RuneCountInString(w) >= ci.minWordLength {
			words = append(words, w)
		}
	}
	return words
}

func wordPrefix(word string) string {
	runes := []rune(word)
	if len(runes) > prefixLength {
		runes = runes[:prefixLength]
	}
	return string(runes)
}

func appendUnique(positions []int, pos int) []int {
	if n := len(positions); n > 0 && positions[n-1] == pos {
		return positions
	}
	return append(positions, pos)
}

// Len returns the number of indexed keys
func (ci *CandidateIndex) Len() int {
	return len(ci.AllKeys)
}

// DisplayName returns the reviewer-facing name of key, or the key itself.
func (ci *CandidateIndex) DisplayName(key string) string {
	if name, ok := ci.DisplayNames[key]; ok && name != "" {
		return name
	}
	return key
}

// GetCandidates returns the keys worth scoring against a normalized name.
// Small catalogs and configurations without bucketing return every key. Large
// catalogs return the exact key, then keys sharing a whole word, then keys
// sharing only a word prefix, each group in key order, capped at
// MaxCandidates.
func (ci *CandidateIndex) GetCandidates(normalized string, config *MatchingConfig) []string {
	if !config.BucketCandidates || len(ci.AllKeys) <= config.FullScanLimit {
		return ci.AllKeys
	}

	words := ci.words(normalized)
	var wordHits, prefixHits []int
	for _, word := range words {
		wordHits = append(wordHits, ci.WordIndex[word]...)
		prefixHits = append(prefixHits, ci.PrefixIndex[wordPrefix(word)]...)
	}
	sort.Ints(wordHits)
	sort.Ints(prefixHits)

	selected := make(map[int]bool)
	positions := make([]int, 0)
	add := func(pos int) {
		if !selected[pos] {
			selected[pos] = true
			positions = append(positions, pos)
		}
	}

	if pos := sort.SearchStrings(ci.AllKeys, normalized); pos < len(ci.AllKeys) && ci.AllKeys[pos] == normalized {
		add(pos)
	}
	for _, pos := range wordHits {
		add(pos)
	}
	for _, pos := range prefixHits {
		add(pos)
	}

	if config.MaxCandidates > 0 && len(positions) > config.MaxCandidates {
		positions = positions[:config.MaxCandidates]
	}

	candidates := make([]string, len(positions))
	for i, pos := range positions {
		candidates[i] = ci.AllKeys[pos]
	}
	return candidates
}

// GetIndexStats returns statistics about the candidate index
func (ci *CandidateIndex) GetIndexStats() IndexStats {
	largest := 0
	for _, positions := range ci.WordIndex {
		if len(positions) > largest {
			largest = len(positions)
		}
	}
	return IndexStats{
		TotalKeys:      len(ci.AllKeys),
		UniqueWords:    len(ci.WordIndex),
		UniquePrefixes: len(ci.PrefixIndex),
		LargestBucket:  largest,
	}
}

// IndexStats provides statistics about index usage and efficiency
type IndexStats struct {
	TotalKeys      int
	UniqueWords    int
	UniquePrefixes int
	LargestBucket  int
}
