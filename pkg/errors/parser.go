package errors

import (
	"fmt"
	"strings"
)

// LineContext locates a per-line failure inside reconstructed invoice text.
type LineContext struct {
	Source string `json:"source,omitempty"`
	Line   int    `json:"line"`
	Span   int    `json:"span"`
	Code   string `json:"code,omitempty"`
}

// LineParseError is a non-fatal failure to turn one reconstructed line into a
// line item. It is counted in parse statistics and never aborts the invoice.
type LineParseError struct {
	*ReconcilerError
	Location    LineContext `json:"location"`
	LineContent string      `json:"line_content,omitempty"`
	Reason      string      `json:"reason"`
}

// Error implements the error interface with the line location
func (e *LineParseError) Error() string {
	loc := fmt.Sprintf("line %d", e.Location.Line)
	if e.Location.Span > 1 {
		loc = fmt.Sprintf("lines %d-%d", e.Location.Line, e.Location.Line+e.Location.Span-1)
	}
	if e.Location.Source != "" {
		loc = e.Location.Source + " " + loc
	}
	return fmt.Sprintf("%s at %s: %s", e.Message, loc, e.Reason)
}

// NewLineParseError creates a per-line parse failure.
func NewLineParseError(code ErrorCode, location LineContext, reason string) *LineParseError {
	var message string
	switch code {
	case CodeNoProductCode:
		message = "no product code"
	case CodeInvalidLineItem:
		message = "invalid line item"
	case CodeAttemptLimit:
		message = "parse attempt limit reached"
	default:
		message = "line parse failure"
	}

	base := New(CategoryParse, code, message).
		WithContext("line", location.Line).
		WithContext("span", location.Span)
	if location.Code != "" {
		base.WithContext("product_code", location.Code)
	}

	return &LineParseError{
		ReconcilerError: base,
		Location:        location,
		Reason:          reason,
	}
}

// WithLineContent attaches the text that was parsed.
func (e *LineParseError) WithLineContent(content string) *LineParseError {
	e.LineContent = content
	return e
}

// LineErrorCollector keeps the first maxErrors line failures and counts the rest.
type LineErrorCollector struct {
	maxErrors int
	errors    []*LineParseError
	dropped   int
	byCode    map[ErrorCode]int
}

// NewLineErrorCollector creates a collector. maxErrors <= 0 keeps everything.
func NewLineErrorCollector(maxErrors int) *LineErrorCollector {
	return &LineErrorCollector{
		maxErrors: maxErrors,
		byCode:    make(map[ErrorCode]int),
	}
}

// Add records a failure.
func (c *LineErrorCollector) Add(err *LineParseError) {
	c.byCode[err.Code]++
	if c.maxErrors > 0 && len(c.errors) >= c.maxErrors {
		c.dropped++
		return
	}
	c.errors = append(c.errors, err)
}

// Count returns the number of failures seen, kept or not.
func (c *LineErrorCollector) Count() int {
	return len(c.errors) + c.dropped
}

// CountByCode returns how many failures carried code.
func (c *LineErrorCollector) CountByCode(code ErrorCode) int {
	return c.byCode[code]
}

// Errors returns the kept failures.
func (c *LineErrorCollector) Errors() []*LineParseError {
	return c.errors
}

// FormatLineErrorsForUser renders up to limit failures, one per line.
func FormatLineErrorsForUser(errs []*LineParseError, limit int) string {
	if len(errs) == 0 {
		return ""
	}

	var lines []string
	lines = append(lines, fmt.Sprintf("%d line(s) could not be parsed:", len(errs)))
	for i, err := range errs {
		if limit > 0 && i >= limit {
			lines = append(lines, fmt.Sprintf("  ... and %d more", len(errs)-limit))
			break
		}
		entry := fmt.Sprintf("  %d. %s", i+1, err.Error())
		if err.LineContent != "" {
			entry += fmt.Sprintf(" [%s]", err.LineContent)
		}
		lines = append(lines, entry)
	}
	return strings.Join(lines, "\n")
}
