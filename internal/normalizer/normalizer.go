// Package normalizer turns product names from any naming system into the
// canonical string form used as a matching key.
package normalizer

import (
	"regexp"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Separator joins the words of a canonical name.
const Separator = "_"

var (
	parenthesized = regexp.MustCompile(`\([^)]*\)`)
	punctuation   = regexp.MustCompile(`[^\w\s]`)
	whitespace    = regexp.MustCompile(`\s+`)
	unitWords     = regexp.MustCompile(`\b(?:kg|gr|gram|adet|lt|litre|liter|paket|pk|piece|pcs)\b`)
	qualityWords  = regexp.MustCompile(`\b(?:fresh|taze|organic|organik|premium|kalite|quality)\b`)

	turkishFold = strings.NewReplacer(
		"ç", "c", "ğ", "g", "ı", "i", "İ", "i", "I", "i",
		"ö", "o", "ş", "s", "ü", "u",
	)
)

// Normalizer memoizes canonical forms for the lifetime of one run.
// It is safe for concurrent use.
type Normalizer struct {
	mu   sync.RWMutex
	memo map[string]string
}

// New creates a Normalizer with an empty memo.
func New() *Normalizer {
	return &Normalizer{memo: make(map[string]string)}
}

// Normalize returns the canonical form of s. Normalize(Normalize(s)) == Normalize(s).
func (n *Normalizer) Normalize(s string) string {
	n.mu.RLock()
	cached, ok := n.memo[s]
	n.mu.RUnlock()
	if ok {
		return cached
	}

	result := Canonicalize(s)

	n.mu.Lock()
	n.memo[s] = result
	n.mu.Unlock()
	return result
}

// Len returns the number of memoized inputs.
func (n *Normalizer) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.memo)
}

// Canonicalize is the uncached normalization.
func Canonicalize(s string) string {
	// Casers and transform chains keep state, so each call builds its own.
	lowered := cases.Lower(language.Turkish).String(strings.TrimSpace(s))
	folded := foldDiacritics(turkishFold.Replace(lowered))

	folded = parenthesized.ReplaceAllString(folded, "")
	folded = punctuation.ReplaceAllString(folded, " ")
	folded = whitespace.ReplaceAllString(folded, " ")
	folded = unitWords.ReplaceAllString(folded, "")
	folded = qualityWords.ReplaceAllString(folded, "")
	folded = whitespace.ReplaceAllString(strings.TrimSpace(folded), " ")

	return strings.ReplaceAll(folded, " ", Separator)
}

func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
