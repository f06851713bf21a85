// Package reporter renders reconciliation run results.
//
// Supported output formats:
//   - Console: human-readable sections for terminal display, coloured by status
//   - JSON: structured data for programmatic consumption
//   - CSV: one row per invoice line for spreadsheet tools
//   - XLSX: an outcomes sheet, a manual review sheet and a summary sheet
//
// Every format keeps outcomes the pipeline classified on its own apart from
// lines that wait for a reviewer.
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(&reporter.ReportConfig{Format: reporter.FormatJSON})
//	err = generator.GenerateReport(result, os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"invoice-reconciliation-service/internal/models"
	"invoice-reconciliation-service/internal/parsers"
	"invoice-reconciliation-service/internal/reconciler"

	"github.com/fatih/color"
)

// OutputFormat represents the supported report output formats.
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
	FormatXLSX    OutputFormat = "xlsx"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV, FormatXLSX:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format" mapstructure:"format"`

	// Detail level options
	IncludeAutomatic  bool `json:"include_automatic" mapstructure:"include_automatic"`
	IncludeFailures   bool `json:"include_failures" mapstructure:"include_failures"`
	IncludeUnmatched  bool `json:"include_unmatched" mapstructure:"include_unmatched"`
	IncludeParseStats bool `json:"include_parse_stats" mapstructure:"include_parse_stats"`

	// Console formatting options
	UseColors bool `json:"use_colors" mapstructure:"use_colors"`
	// MaxListItems caps console lists; 0 prints everything.
	MaxListItems int `json:"max_list_items" mapstructure:"max_list_items"`

	// CSV options
	CSVDelimiter rune `json:"csv_delimiter" mapstructure:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers" mapstructure:"csv_headers"`

	SortByRefund bool `json:"sort_by_refund" mapstructure:"sort_by_refund"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:            FormatConsole,
		IncludeAutomatic:  true,
		IncludeFailures:   true,
		IncludeUnmatched:  true,
		IncludeParseStats: true,
		UseColors:         true,
		MaxListItems:      50,
		CSVDelimiter:      ',',
		CSVHeaders:        true,
		SortByRefund:      false,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	if c.MaxListItems < 0 {
		return fmt.Errorf("max list items cannot be negative, got %d", c.MaxListItems)
	}
	if c.Format == FormatCSV && (c.CSVDelimiter == 0 || c.CSVDelimiter == '"' || c.CSVDelimiter == '\n') {
		return fmt.Errorf("invalid CSV delimiter %q", c.CSVDelimiter)
	}
	return nil
}

type palette struct {
	title, good, bad, warn, dim *color.Color
}

func newPalette(enabled bool) palette {
	p := palette{
		title: color.New(color.FgWhite, color.Bold),
		good:  color.New(color.FgGreen),
		bad:   color.New(color.FgRed, color.Bold),
		warn:  color.New(color.FgYellow),
		dim:   color.New(color.FgCyan),
	}
	if !enabled {
		for _, c := range []*color.Color{p.title, p.good, p.bad, p.warn, p.dim} {
			c.DisableColor()
		}
	}
	return p
}

func (p palette) status(s models.Status) *color.Color {
	switch s {
	case models.StatusCompliant:
		return p.good
	case models.StatusRefundRequired:
		return p.bad
	default:
		return p.warn
	}
}

// ReportGenerator generates reconciliation reports in various formats
type ReportGenerator struct {
	config *ReportConfig
	colors palette
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}

	return &ReportGenerator{
		config: config,
		colors: newPalette(config.UseColors),
	}, nil
}

// GenerateReport writes a report of the run result to writer.
func (rg *ReportGenerator) GenerateReport(result *reconciler.RunResult, writer io.Writer) error {
	if result == nil {
		return fmt.Errorf("reconciliation result cannot be nil")
	}
	if result.Summary == nil {
		result.Summary = reconciler.NewSummary(result)
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(result, writer)
	case FormatJSON:
		return rg.generateJSONReport(result, writer)
	case FormatCSV:
		return rg.generateCSVReport(result, writer)
	case FormatXLSX:
		return rg.generateXLSXReport(result, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

func (rg *ReportGenerator) generateConsoleReport(result *reconciler.RunResult, writer io.Writer) error {
	c := rg.colors

	c.title.Fprintf(writer, "INVOICE RECONCILIATION REPORT\n")
	fmt.Fprintf(writer, "Run ID: %s\n", result.RunID)
	fmt.Fprintf(writer, "Generated: %s\n", result.FinishedAt.Format(time.RFC3339))
	fmt.Fprintf(writer, "Processing Duration: %v\n\n", result.Duration().Round(time.Millisecond))

	c.title.Fprintf(writer, "=== SUMMARY ===\n")
	rg.printSummary(result.Summary, writer)
	fmt.Fprintf(writer, "\n")

	c.title.Fprintf(writer, "=== REFERENCE COVERAGE ===\n")
	rg.printCoverage(result.Summary, writer)
	fmt.Fprintf(writer, "\n")

	automatic := rg.sorted(result.AutomaticOutcomes())
	if rg.config.IncludeAutomatic && len(automatic) > 0 {
		c.title.Fprintf(writer, "=== AUTOMATIC DECISIONS ===\n")
		rg.printOutcomes(automatic, writer)
		fmt.Fprintf(writer, "\n")
	}

	if manual := result.ManualOutcomes(); len(manual) > 0 {
		c.title.Fprintf(writer, "=== MANUAL REVIEW REQUIRED ===\n")
		rg.printOutcomes(manual, writer)
		fmt.Fprintf(writer, "\n")
	}

	if len(result.Duplicates) > 0 {
		c.title.Fprintf(writer, "=== DUPLICATE INVOICES ===\n")
		for _, d := range result.Duplicates {
			c.warn.Fprintf(writer, "  - %s: %s\n", d.Source, d.Reason())
		}
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeFailures && len(result.Failures) > 0 {
		c.title.Fprintf(writer, "=== FAILED INVOICES ===\n")
		for _, f := range failureRows(result.Failures) {
			c.bad.Fprintf(writer, "  - %s", f.Source)
			fmt.Fprintf(writer, " [%s] %s\n", f.Stage, f.Message)
		}
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeUnmatched && len(result.Unmatched) > 0 {
		c.title.Fprintf(writer, "=== UNMATCHED PRODUCTS ===\n")
		for i, u := range result.Unmatched {
			if rg.truncated(writer, i, len(result.Unmatched)) {
				break
			}
			fmt.Fprintf(writer, "  - %s (%s)\n", u.SourceName, u.SourceSystem)
		}
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeParseStats && result.ParseStats != nil {
		c.title.Fprintf(writer, "=== PARSING STATISTICS ===\n")
		rg.printParseStats(result.ParseStats, writer)
		fmt.Fprintf(writer, "\n")
	}

	for _, w := range result.Warnings {
		c.warn.Fprintf(writer, "WARNING: %s\n", w)
	}

	return nil
}

func (rg *ReportGenerator) generateJSONReport(result *reconciler.RunResult, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(rg.filterResultForOutput(result))
}

// generateCSVReport writes one record per invoice line, automatic decisions first.
func (rg *ReportGenerator) generateCSVReport(result *reconciler.RunResult, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	if rg.config.CSVHeaders {
		if err := csvWriter.Write(append([]string{"Section"}, Headers...)); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	sections := []struct {
		name     string
		outcomes []*models.ComparisonOutcome
	}{
		{"automatic", rg.sorted(result.AutomaticOutcomes())},
		{"manual", result.ManualOutcomes()},
	}
	for _, section := range sections {
		if section.name == "automatic" && !rg.config.IncludeAutomatic {
			continue
		}
		for _, row := range outcomeRows(section.outcomes) {
			if err := csvWriter.Write(append([]string{section.name}, row.Record()...)); err != nil {
				return fmt.Errorf("failed to write outcome record: %w", err)
			}
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

// Helper methods for console output formatting

func (rg *ReportGenerator) printSummary(summary *reconciler.Summary, writer io.Writer) {
	c := rg.colors

	fmt.Fprintf(writer, "Invoices:\n")
	fmt.Fprintf(writer, "  Total:      %d\n", summary.TotalInvoices)
	fmt.Fprintf(writer, "  Processed:  %d\n", summary.ProcessedInvoices)
	fmt.Fprintf(writer, "  Failed:     %d\n", summary.FailedInvoices)
	fmt.Fprintf(writer, "  Duplicates: %d\n", summary.DuplicateInvoices)

	fmt.Fprintf(writer, "\nLine Items:\n")
	fmt.Fprintf(writer, "  Total:               %d\n", summary.TotalItems)
	fmt.Fprintf(writer, "  Automatic:           %d (%.1f%%)\n",
		summary.Automatic, rg.calculatePercentage(summary.Automatic, summary.TotalItems))
	fmt.Fprintf(writer, "  Manual:              %d (%.1f%%)\n",
		summary.Manual, rg.calculatePercentage(summary.Manual, summary.TotalItems))
	fmt.Fprintf(writer, "  Previously Approved: %d\n", summary.PreviouslyApproved)
	c.good.Fprintf(writer, "  Compliant:           %d\n", summary.Compliant)
	c.bad.Fprintf(writer, "  Refund Required:     %d\n", summary.RefundRequired)
	c.warn.Fprintf(writer, "  Pending Review:      %d\n", summary.Pending)

	fmt.Fprintf(writer, "\nTotal Refund: ")
	if summary.TotalRefund.IsPositive() {
		c.bad.Fprintf(writer, "%s\n", summary.TotalRefund.StringFixed(2))
	} else {
		c.good.Fprintf(writer, "%s\n", summary.TotalRefund.StringFixed(2))
	}
}

func (rg *ReportGenerator) printCoverage(summary *reconciler.Summary, writer io.Writer) {
	evaluated := summary.TotalItems - summary.PreviouslyApproved
	fmt.Fprintf(writer, "With Mapping:       %d (%.1f%%)\n",
		summary.WithMapping, rg.calculatePercentage(summary.WithMapping, evaluated))
	fmt.Fprintf(writer, "With List A Price:  %d (%.1f%%)\n",
		summary.WithListAPrice, rg.calculatePercentage(summary.WithListAPrice, evaluated))
	fmt.Fprintf(writer, "With List B Price:  %d (%.1f%%)\n",
		summary.WithListBPrice, rg.calculatePercentage(summary.WithListBPrice, evaluated))
	fmt.Fprintf(writer, "With Special Limit: %d\n", summary.WithSpecialLimit)

	reasons := []models.ReviewReason{
		models.ReasonNoMapping,
		models.ReasonBothMissing,
		models.ReasonNoListA,
		models.ReasonNoListB,
	}
	printed := false
	for _, reason := range reasons {
		n := summary.ReviewBreakdown[reason]
		if n == 0 {
			continue
		}
		if !printed {
			fmt.Fprintf(writer, "\nMissing References:\n")
			printed = true
		}
		fmt.Fprintf(writer, "  %-13s %d\n", reason+":", n)
	}
}

func (rg *ReportGenerator) printOutcomes(outcomes []*models.ComparisonOutcome, writer io.Writer) {
	c := rg.colors
	for i, o := range outcomes {
		if rg.truncated(writer, i, len(outcomes)) {
			break
		}
		row := NewOutcomeRow(o)
		fmt.Fprintf(writer, "  %d. [%s] %s %s, %s %s @ %s",
			i+1, row.InvoiceNumber, row.ProductCode, row.ProductName, row.Quantity, row.Unit, row.UnitPrice)
		if row.ThresholdA != "" {
			fmt.Fprintf(writer, ", A max %s", row.ThresholdA)
		}
		if row.ThresholdB != "" {
			fmt.Fprintf(writer, ", B max %s", row.ThresholdB)
		}
		fmt.Fprintf(writer, " ")
		c.status(o.Status).Fprintf(writer, "%s", o.Status)
		if o.Status == models.StatusRefundRequired {
			c.bad.Fprintf(writer, " refund %s", row.RefundAmount)
		}
		if o.Reason != models.ReasonNone {
			c.dim.Fprintf(writer, " (%s)", o.Reason)
		}
		if o.PreviouslyApproved {
			c.dim.Fprintf(writer, " (approved)")
		}
		fmt.Fprintf(writer, "\n")
	}
}

func (rg *ReportGenerator) printParseStats(stats *parsers.ParseStats, writer io.Writer) {
	fmt.Fprintf(writer, "Lines:                %d\n", stats.TotalLines)
	fmt.Fprintf(writer, "Lines With Code:      %d\n", stats.CodeLines)
	fmt.Fprintf(writer, "Parsed:               %d\n", stats.Parsed)
	fmt.Fprintf(writer, "Failed:               %d\n", stats.Failed)
	fmt.Fprintf(writer, "Multi-line Recovered: %d\n", stats.MultiLineRecovered)
	if stats.AttemptLimitHit {
		rg.colors.warn.Fprintf(writer, "Attempt limit reached, %d lines unprocessed\n", stats.Unprocessed)
	}

	if len(stats.ByStrategy) > 0 {
		names := stats.StrategyNames()
		parts := make([]string, 0, len(names))
		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s=%d", name, stats.ByStrategy[name]))
		}
		fmt.Fprintf(writer, "By Strategy:          %s\n", strings.Join(parts, ", "))
	}
}

// truncated prints the overflow notice and reports whether item i is past the cap.
func (rg *ReportGenerator) truncated(writer io.Writer, i, total int) bool {
	limit := rg.config.MaxListItems
	if limit == 0 || i < limit {
		return false
	}
	fmt.Fprintf(writer, "  ... and %d more\n", total-limit)
	return true
}

// Helper methods

func (rg *ReportGenerator) sorted(outcomes []*models.ComparisonOutcome) []*models.ComparisonOutcome {
	if rg.config.SortByRefund {
		sort.SliceStable(outcomes, func(i, j int) bool {
			return outcomes[i].RefundAmount.GreaterThan(outcomes[j].RefundAmount)
		})
	}
	return outcomes
}

func (rg *ReportGenerator) calculatePercentage(part, total int) float64 {
	if total <= 0 {
		return 0.0
	}
	return float64(part) / float64(total) * 100.0
}

func (rg *ReportGenerator) filterResultForOutput(result *reconciler.RunResult) map[string]interface{} {
	output := map[string]interface{}{
		"run_id":      result.RunID,
		"started_at":  result.StartedAt,
		"finished_at": result.FinishedAt,
		"duration":    result.Duration().String(),
		"summary":     result.Summary,
		"catalog":     result.Catalog,
		"manual":      outcomeRows(result.ManualOutcomes()),
	}

	if rg.config.IncludeAutomatic {
		output["automatic"] = outcomeRows(rg.sorted(result.AutomaticOutcomes()))
	}
	if len(result.Duplicates) > 0 {
		output["duplicates"] = result.Duplicates
	}
	if rg.config.IncludeFailures && len(result.Failures) > 0 {
		output["failures"] = failureRows(result.Failures)
	}
	if rg.config.IncludeUnmatched && len(result.Unmatched) > 0 {
		output["unmatched"] = result.Unmatched
	}
	if rg.config.IncludeParseStats && result.ParseStats != nil {
		output["parse_stats"] = result.ParseStats
	}
	if len(result.Warnings) > 0 {
		output["warnings"] = result.Warnings
	}

	return output
}

// GetConfiguration returns the current configuration
func (rg *ReportGenerator) GetConfiguration() *ReportConfig {
	return rg.config
}
