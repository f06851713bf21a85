// Package parsers recovers structured invoice data from positioned PDF text.
//
// The package covers three steps of the extraction pipeline:
//   - Text reconstruction: positioned fragments are merged into ordered lines
//   - Header extraction: the invoice number and date are found with ordered,
//     label-anchored pattern cascades and a fallback scan
//   - Line-item parsing: each line is searched for a product code with a
//     three-tier strategy cascade, then quantity, unit, prices and name are
//     tokenized, retrying with the following lines joined when a line alone
//     does not yield a valid item
//
// Example usage:
//
//	text := parsers.ReconstructText(doc.Pages)
//	header, err := parsers.NewHeaderExtractor(config, nil, log).Extract(doc.Source, text)
//	items, stats := parsers.NewLineItemParser(config, log).ParseLines(parsers.SplitLines(text))
//
// Per-line failures never abort an invoice. They are counted in ParseStats
// together with lines recovered by joining.
package parsers

import (
	"fmt"
	"sort"

	"invoice-reconciliation-service/pkg/errors"
)

// ParseStats holds statistics about one line-item parsing pass
type ParseStats struct {
	TotalLines int `json:"total_lines"`
	// CodeLines counts lines on which a product code was located.
	CodeLines int `json:"code_lines"`
	// NoCode counts lines skipped because no product code was found.
	NoCode             int            `json:"no_code"`
	Parsed             int            `json:"parsed"`
	Failed             int            `json:"failed"`
	MultiLineRecovered int            `json:"multi_line_recovered"`
	Attempts           int            `json:"attempts"`
	AttemptLimitHit    bool           `json:"attempt_limit_hit"`
	Unprocessed        int            `json:"unprocessed"`
	ByStrategy         map[string]int `json:"by_strategy"`

	errors *errors.LineErrorCollector
}

// NewParseStats creates a new ParseStats instance
func NewParseStats(maxErrors int) *ParseStats {
	return &ParseStats{
		ByStrategy: make(map[string]int),
		errors:     errors.NewLineErrorCollector(maxErrors),
	}
}

// AddError records a per-line failure.
func (ps *ParseStats) AddError(err *errors.LineParseError) {
	ps.Failed++
	ps.errors.Add(err)
}

// Errors returns the kept per-line failures.
func (ps *ParseStats) Errors() []*errors.LineParseError {
	if ps.errors == nil {
		return nil
	}
	return ps.errors.Errors()
}

// HasErrors returns true if any line failed to parse
func (ps *ParseStats) HasErrors() bool {
	return ps.Failed > 0
}

// SuccessRate is the share of code lines that produced an item.
func (ps *ParseStats) SuccessRate() float64 {
	if ps.CodeLines == 0 {
		return 0
	}
	return float64(ps.Parsed) / float64(ps.CodeLines)
}

// Merge adds other's counters into ps. Kept failures are merged up to ps's limit.
func (ps *ParseStats) Merge(other *ParseStats) {
	if other == nil {
		return
	}
	if ps.ByStrategy == nil {
		ps.ByStrategy = make(map[string]int)
	}
	if ps.errors == nil {
		ps.errors = errors.NewLineErrorCollector(0)
	}
	ps.TotalLines += other.TotalLines
	ps.CodeLines += other.CodeLines
	ps.NoCode += other.NoCode
	ps.Parsed += other.Parsed
	ps.Failed += other.Failed
	ps.MultiLineRecovered += other.MultiLineRecovered
	ps.Attempts += other.Attempts
	ps.Unprocessed += other.Unprocessed
	ps.AttemptLimitHit = ps.AttemptLimitHit || other.AttemptLimitHit
	for name, count := range other.ByStrategy {
		ps.ByStrategy[name] += count
	}
	for _, err := range other.Errors() {
		ps.errors.Add(err)
	}
}

// String returns a human-readable summary of parsing statistics
func (ps *ParseStats) String() string {
	return fmt.Sprintf("Scanned %d lines, %d with codes: %d parsed (%d multi-line), %d failed, %d without code",
		ps.TotalLines, ps.CodeLines, ps.Parsed, ps.MultiLineRecovered, ps.Failed, ps.NoCode)
}

// StrategyNames returns the strategies that located codes, sorted.
func (ps *ParseStats) StrategyNames() []string {
	names := make([]string, 0, len(ps.ByStrategy))
	for name := range ps.ByStrategy {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetSampleErrors returns a sample of the parsing errors for logging/debugging
func (ps *ParseStats) GetSampleErrors(maxSamples int) []string {
	kept := ps.Errors()
	if len(kept) == 0 {
		return nil
	}

	limit := len(kept)
	if maxSamples > 0 && maxSamples < limit {
		limit = maxSamples
	}

	samples := make([]string, 0, limit)
	for i := 0; i < limit; i++ {
		samples = append(samples, kept[i].Error())
	}
	return samples
}
