package matcher

import (
	"strings"
	"unicode/utf8"

	"invoice-reconciliation-service/internal/normalizer"

	"github.com/agext/levenshtein"
)

// Similarity returns 1 - levenshtein(a, b) / max(len(a), len(b)) over runes.
// It is symmetric and lies in [0,1].
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	if la == 0 || lb == 0 {
		return 0
	}

	longest := la
	if lb > longest {
		longest = lb
	}
	distance := levenshtein.Distance(a, b, nil)
	return float64(longest-distance) / float64(longest)
}

// SubstringScore returns len(shorter)/len(longer) when one string contains the
// other, otherwise the longest common substring relative to the longer string.
func SubstringScore(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}

	longer, shorter := ra, rb
	longerStr, shorterStr := a, b
	if len(rb) > len(ra) {
		longer, shorter = rb, ra
		longerStr, shorterStr = b, a
	}

	if strings.Contains(longerStr, shorterStr) {
		return float64(len(shorter)) / float64(len(longer))
	}
	return float64(longestCommonSubstring(longer, shorter)) / float64(len(longer))
}

// longestCommonSubstring is the classic dynamic programme kept to two rows.
func longestCommonSubstring(a, b []rune) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	best := 0
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
				if curr[j] > best {
					best = curr[j]
				}
			} else {
				curr[j] = 0
			}
		}
		prev, curr = curr, prev
	}
	return best
}

// WordScore counts the words of a that equal or contain, or are contained in,
// a word of b, relative to the larger word count. Words shorter than minLen
// runes are ignored.
func WordScore(a, b string, minLen int) float64 {
	wordsA := significantWords(a, minLen)
	wordsB := significantWords(b, minLen)
	if len(wordsA) == 0 || len(wordsB) == 0 {
		return 0
	}

	matching := 0
	for _, wa := range wordsA {
		for _, wb := range wordsB {
			if wa == wb || strings.Contains(wa, wb) || strings.Contains(wb, wa) {
				matching++
				break
			}
		}
	}

	larger := len(wordsA)
	if len(wordsB) > larger {
		larger = len(wordsB)
	}
	return float64(matching) / float64(larger)
}

func significantWords(s string, minLen int) []string {
	var words []string
	for _, w := range strings.Split(s, normalizer.Separator) {
		if utf8.RuneCountInString(w) >= minLen {
			words = append(words, w)
		}
	}
	return words
}
