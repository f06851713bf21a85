package parsers

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// CodeMatch is a product code located in a line of text.
type CodeMatch struct {
	Code     string
	Strategy string
	// Offset is the byte offset of the code in the searched text.
	Offset int
}

// CodeStrategy detects a product code in text. Only matches starting before
// limit bytes are considered, so a joined retry line never picks up a code that
// belongs to a following line.
type CodeStrategy struct {
	Name   string
	Detect func(text string, limit int) (CodeMatch, bool)
}

// DefaultCodeStrategies is the detection cascade, strongest first. The first
// strategy that accepts a code wins.
var DefaultCodeStrategies = []CodeStrategy{
	PrimaryCodeStrategy,
	DottedCodeStrategy,
	ShortNumericStrategy,
}

var primaryCode = regexp.MustCompile(`153\.01\.\d{4}`)

// PrimaryCodeStrategy accepts the structured NNN.NN.NNNN catalog code with no
// further checks.
var PrimaryCodeStrategy = CodeStrategy{
	Name: "primary",
	Detect: func(text string, limit int) (CodeMatch, bool) {
		for _, loc := range primaryCode.FindAllStringIndex(text, -1) {
			if loc[0] < limit {
				return CodeMatch{Code: text[loc[0]:loc[1]], Strategy: "primary", Offset: loc[0]}, true
			}
		}
		return CodeMatch{}, false
	},
}

var dottedVariants = []NamedPattern{
	{"dotted_extended", regexp.MustCompile(`153\.01\.\d{3,5}`)},
	{"dotted_3_2_3", regexp.MustCompile(`\d{3}\.\d{2}\.\d{3,4}`)},
	{"dotted_flexible", regexp.MustCompile(`\d{2,3}\.\d{1,2}\.\d{3,4}`)},
}

var (
	invoiceNumberShape = regexp.MustCompile(`(?i)^(SEN|TIC|FAT|FTR|INV)\d+`)
	dateShape          = regexp.MustCompile(`^\d{2}[./\-]\d{2}[./\-]\d{2,4}$`)
	pureDigits         = regexp.MustCompile(`^\d+$`)
)

// DottedCodeStrategy tries the looser dotted variants in order and takes the
// first token that does not look like an invoice number, a date or a long
// numeric run.
var DottedCodeStrategy = CodeStrategy{
	Name: "dotted",
	Detect: func(text string, limit int) (CodeMatch, bool) {
		for _, variant := range dottedVariants {
			for _, loc := range variant.Regex.FindAllStringIndex(text, -1) {
				if loc[0] >= limit {
					break
				}
				code := text[loc[0]:loc[1]]
				if isExcludedDottedCode(code) {
					continue
				}
				return CodeMatch{Code: code, Strategy: variant.Name, Offset: loc[0]}, true
			}
		}
		return CodeMatch{}, false
	},
}

func isExcludedDottedCode(code string) bool {
	switch {
	case invoiceNumberShape.MatchString(code) || len(code) > 12:
		return true
	case dateShape.MatchString(code):
		return true
	case pureDigits.MatchString(code) && len(code) > 8:
		return true
	default:
		return false
	}
}

var (
	shortNumber    = regexp.MustCompile(`\b(\d{2,4})\b`)
	unitAfter      = regexp.MustCompile(`(?i)\b(?:kg|adet|lt|gram|pc|litre)\b`)
	currencyAfter  = regexp.MustCompile(`(?i)\btl\b|₺|\blira\b`)
	priceBefore    = regexp.MustCompile(`(?i)fiyat|tutar|toplam`)
	dateBefore     = regexp.MustCompile(`(?i)tarih|date`)
	datePrefix     = regexp.MustCompile(`\d{2}[./\-]\d{2}[./\-]`)
	leadingOrdinal = regexp.MustCompile(`^\s*\d+\s+`)
	produceContext = regexp.MustCompile(`(?i)domates|biber|salata|ispanak|kabak|lahana|karnabahar|patates|mantar|turp|brokoli|marul|aysberg|endivyen`)
)

const shortContextLen = 10

// ShortNumericStrategy accepts a bare 2-4 digit token only when its neighbourhood
// rules out a quantity, price, date, year or row number, and either produce
// vocabulary appears in the text or the token sits near the start of the line.
var ShortNumericStrategy = CodeStrategy{
	Name: "short_numeric",
	Detect: func(text string, limit int) (CodeMatch, bool) {
		lineHasDate := datePrefix.MatchString(text)
		startsWithOrdinal := leadingOrdinal.MatchString(text)
		hasProduce := produceContext.MatchString(text)

		for _, loc := range shortNumber.FindAllStringSubmatchIndex(text, -1) {
			start, end := loc[2], loc[3]
			if start >= limit {
				break
			}
			code := text[start:end]
			pos := utf8.RuneCountInString(text[:start])
			before := strings.ToLower(runeWindowBefore(text[:start], shortContextLen))
			after := strings.ToLower(runeWindowAfter(text[end:], shortContextLen))
			value, _ := strconv.Atoi(code)

			switch {
			case unitAfter.MatchString(after):
				continue
			case currencyAfter.MatchString(after) || priceBefore.MatchString(before):
				continue
			case dateBefore.MatchString(before) || lineHasDate:
				continue
			case value > 2020 && value < 2030:
				continue
			case value < 10:
				continue
			case startsWithOrdinal && pos < 5:
				continue
			}

			atLineStart := pos < 20 && !startsWithOrdinal
			if hasProduce || atLineStart {
				return CodeMatch{Code: code, Strategy: "short_numeric", Offset: start}, true
			}
		}
		return CodeMatch{}, false
	},
}

func runeWindowBefore(s string, n int) string {
	runes := []rune(s)
	if len(runes) > n {
		runes = runes[len(runes)-n:]
	}
	return string(runes)
}

func runeWindowAfter(s string, n int) string {
	runes := []rune(s)
	if len(runes) > n {
		runes = runes[:n]
	}
	return string(runes)
}

// DetectCode runs the strategy cascade over a whole line.
func DetectCode(line string) (CodeMatch, bool) {
	return detectCodeWithin(DefaultCodeStrategies, line, len(line))
}

func detectCodeWithin(strategies []CodeStrategy, text string, limit int) (CodeMatch, bool) {
	for _, strategy := range strategies {
		if match, ok := strategy.Detect(text, limit); ok {
			return match, true
		}
	}
	return CodeMatch{}, false
}
