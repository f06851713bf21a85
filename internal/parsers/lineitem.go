package parsers

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"invoice-reconciliation-service/internal/models"
	"invoice-reconciliation-service/pkg/errors"
	"invoice-reconciliation-service/pkg/logger"

	"github.com/shopspring/decimal"
)

// DefaultUnit is assumed when a line carries no quantity token.
const DefaultUnit = "ADET"

var (
	quantityToken = regexp.MustCompile(`(?i)(\d+(?:[,.]\d+)?)\s*(KG|ADET|LITRE|LT|GRAM|PC)`)

	// Tried in order; the first pattern with any match supplies all price tokens.
	pricePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(\d{1,3}(?:\.\d{3})*(?:,\d{1,4})?)\s*TL`),
		regexp.MustCompile(`(\d+(?:\.\d{3})*(?:,\d{2})?)\s*TL`),
		regexp.MustCompile(`(\d+(?:,\d{2})?)\s*TL`),
		regexp.MustCompile(`TL\s*(\d{1,3}(?:\.\d{3})*(?:,\d{1,4})?)`),
	}

	nameNoise = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\s*\([^)]*ERUST[^)]*\)`),
		regexp.MustCompile(`(?i)\s*\([^)]*GREENADA[^)]*\)`),
		regexp.MustCompile(`(?i)\s*\([^)]*GREENATE[^)]*\)`),
		regexp.MustCompile(`(?i)\s*\([^)]*LIKKO[^)]*\)`),
		regexp.MustCompile(`(?i)\s*\([A-Z&\s]{3,}\)`),
		regexp.MustCompile(`\s*%\s*\d+[,.]?\d*\s*`),
		regexp.MustCompile(`(?i)\s*KDV\s*Oranı\s*`),
		regexp.MustCompile(`(?i)\s*İskonto\s*`),
		regexp.MustCompile(`(?i)\s*Vergi\s*`),
		regexp.MustCompile(`(?i)\s*Tutar\s*`),
	}

	leadingDigits    = regexp.MustCompile(`^\d+\s*`)
	trailingSymbols  = regexp.MustCompile(`[,%\-|]+\s*$`)
	trailingSep      = regexp.MustCompile(`\s*[,\-|]\s*$`)
	edgePipes        = regexp.MustCompile(`^\s*\|\s*|\s*\|\s*$`)
	spaces           = regexp.MustCompile(`\s+`)
	bareUnitName     = regexp.MustCompile(`(?i)^(KG|ADET|LT|GRAM|LITRE|PC|GR)$`)
	symbolsOnlyName  = regexp.MustCompile(`^[\s\-|,.]+$`)
	digitOrSeparator = regexp.MustCompile(`[\d.,]`)
)

// LineItemParser turns reconstructed invoice lines into line items.
type LineItemParser struct {
	config     *Config
	strategies []CodeStrategy
	logger     logger.Logger
}

// NewLineItemParser creates a parser using DefaultCodeStrategies.
func NewLineItemParser(config *Config, log logger.Logger) *LineItemParser {
	if config == nil {
		config = DefaultConfig()
	}
	return &LineItemParser{
		config:     config,
		strategies: DefaultCodeStrategies,
		logger:     logger.OrNop(log).WithComponent("line_item_parser"),
	}
}

// WithStrategies replaces the code detection cascade.
func (p *LineItemParser) WithStrategies(strategies ...CodeStrategy) *LineItemParser {
	p.strategies = strategies
	return p
}

// ParseLines parses every line. A line with a code that does not yield a valid
// item alone is retried joined with up to RetryDepth following lines. A line
// with no code alone is retried the same way, accepting only a code that starts
// on the line itself. Failures are counted, never returned.
func (p *LineItemParser) ParseLines(lines []string) ([]*models.LineItem, *ParseStats) {
	stats := NewParseStats(p.config.MaxLineErrors)
	stats.TotalLines = len(lines)

	var items []*models.LineItem
	for i := range lines {
		if stats.Attempts >= p.config.MaxAttemptsPerInvoice {
			stats.AttemptLimitHit = true
			stats.Unprocessed = len(lines) - i
			stats.AddError(errors.NewLineParseError(errors.CodeAttemptLimit,
				errors.LineContext{Line: i + 1, Span: 1}, "parse attempt limit reached").
				WithLineContent(lines[i]))
			p.logger.WithFields(logger.Fields{
				"line":         i + 1,
				"attempts":     stats.Attempts,
				"unprocessed":  stats.Unprocessed,
				"max_attempts": p.config.MaxAttemptsPerInvoice,
			}).Warn("Parse attempt limit reached, remaining lines skipped")
			break
		}

		item, code, lastErr := p.parseAt(lines, i, stats)
		switch {
		case item != nil:
			items = append(items, item)
		case code == nil:
			stats.NoCode++
		default:
			stats.AddError(lastErr)
			p.logger.WithFields(logger.Fields{
				"line":   i + 1,
				"code":   code.Code,
				"reason": lastErr.Reason,
			}).Debug("Line skipped")
		}
	}

	return items, stats
}

// parseAt tries lines[i], then lines[i] joined with each following line up to
// RetryDepth. It returns the item, the code found on the first attempt that
// located one, and the last parse failure.
func (p *LineItemParser) parseAt(lines []string, i int, stats *ParseStats) (*models.LineItem, *CodeMatch, *errors.LineParseError) {
	limit := len(lines[i])
	var firstCode *CodeMatch
	var lastErr *errors.LineParseError

	for span := 1; span <= p.config.RetryDepth+1 && i+span <= len(lines); span++ {
		if stats.Attempts >= p.config.MaxAttemptsPerInvoice {
			break
		}
		stats.Attempts++

		text := strings.Join(lines[i:i+span], " ")
		code, ok := detectCodeWithin(p.strategies, text, limit)
		if !ok {
			continue
		}
		if firstCode == nil {
			found := code
			firstCode = &found
			stats.CodeLines++
		}

		location := errors.LineContext{Line: i + 1, Span: span, Code: code.Code}
		item, reason := p.parseFields(text, code.Code)
		if reason != "" {
			lastErr = errors.NewLineParseError(errors.CodeInvalidLineItem, location, reason).WithLineContent(text)
			continue
		}

		item.SourceLine = i + 1
		item.Span = span
		stats.Parsed++
		stats.ByStrategy[code.Strategy]++
		if span > 1 {
			stats.MultiLineRecovered++
			p.logger.WithFields(logger.Fields{
				"line": i + 1,
				"span": span,
				"code": code.Code,
			}).Debug("Item recovered from joined lines")
		}
		return item, firstCode, nil
	}

	return nil, firstCode, lastErr
}

// ParseLine parses text known to carry code into a line item.
func (p *LineItemParser) ParseLine(text, code string) (*models.LineItem, error) {
	item, reason := p.parseFields(text, code)
	if reason != "" {
		return nil, errors.NewLineParseError(errors.CodeInvalidLineItem,
			errors.LineContext{Line: 0, Span: 1, Code: code}, reason).WithLineContent(text)
	}
	return item, nil
}

// parseFields returns the item or a non-empty rejection reason.
func (p *LineItemParser) parseFields(text, code string) (*models.LineItem, string) {
	clean := strings.TrimSpace(leadingOrdinal.ReplaceAllString(text, ""))
	clean = strings.TrimSpace(strings.Replace(clean, code, "", 1))

	quantity := decimal.NewFromInt(1)
	unit := DefaultUnit
	if loc := quantityToken.FindStringSubmatchIndex(clean); loc != nil {
		q, err := decimal.NewFromString(strings.Replace(clean[loc[2]:loc[3]], ",", ".", 1))
		if err != nil {
			return nil, "quantity is not numeric"
		}
		quantity = q
		unit = strings.ToUpper(clean[loc[4]:loc[5]])
		clean = strings.TrimSpace(clean[:loc[0]] + " " + clean[loc[1]:])
	}

	spans, values := findPriceTokens(clean)
	var unitPrice, total decimal.Decimal
	switch {
	case len(values) == 1:
		if quantity.GreaterThan(decimal.NewFromInt(1)) {
			total = values[0]
			unitPrice = total.Div(quantity)
		} else {
			unitPrice = values[0]
			total = values[0]
		}
	case len(values) >= 2:
		unitPrice = values[0]
		total = values[len(values)-1]
	}
	for k := len(spans) - 1; k >= 0; k-- {
		clean = clean[:spans[k][0]] + " " + clean[spans[k][1]:]
	}
	clean = strings.TrimSpace(clean)

	name := cleanName(clean)
	switch {
	case name == "":
		return nil, "empty product name"
	case utf8.RuneCountInString(name) < p.config.MinNameLength:
		return nil, "product name too short"
	case bareUnitName.MatchString(name):
		return nil, "product name is a unit"
	case symbolsOnlyName.MatchString(name):
		return nil, "product name has no letters"
	case !unitPrice.IsPositive():
		return nil, "unit price missing or not positive"
	case !quantity.IsPositive():
		return nil, "quantity not positive"
	}

	item, err := models.NewLineItem(code, name, quantity, unit, unitPrice, total, 0, 1)
	if err != nil {
		return nil, err.Error()
	}
	return item, ""
}

// findPriceTokens returns the byte spans and values of the price tokens from
// the first pattern that matches. Matches glued to a preceding digit or
// separator are partial numbers and are ignored.
func findPriceTokens(text string) ([][2]int, []decimal.Decimal) {
	for _, pattern := range pricePatterns {
		var spans [][2]int
		var values []decimal.Decimal
		for _, loc := range pattern.FindAllStringSubmatchIndex(text, -1) {
			if loc[2] > 0 && digitOrSeparator.MatchString(text[loc[2]-1:loc[2]]) {
				continue
			}
			value, err := models.ParseTurkishNumber(text[loc[2]:loc[3]])
			if err != nil {
				continue
			}
			spans = append(spans, [2]int{loc[0], loc[1]})
			values = append(values, value)
		}
		if len(spans) > 0 {
			return spans, values
		}
	}
	return nil, nil
}

func cleanName(s string) string {
	for _, noise := range nameNoise {
		s = noise.ReplaceAllString(s, " ")
	}
	s = strings.TrimSpace(s)
	s = leadingDigits.ReplaceAllString(s, "")
	s = trailingSymbols.ReplaceAllString(s, "")
	s = trailingSep.ReplaceAllString(s, "")
	s = spaces.ReplaceAllString(s, " ")
	s = edgePipes.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}
