package parsers

import (
	"fmt"
)

// Config holds the tunables of the invoice text parsers.
type Config struct {
	// SameLineTolerance is the largest vertical distance between two fragments
	// that still places them on the same reconstructed line.
	SameLineTolerance float64 `json:"same_line_tolerance" mapstructure:"same_line_tolerance"`

	// MinInvoiceNumberLength is the shortest capture a label pattern may return.
	MinInvoiceNumberLength int `json:"min_invoice_number_length" mapstructure:"min_invoice_number_length"`

	// FallbackTokenLength is the shortest token the alphanumeric fallback scan accepts.
	FallbackTokenLength int `json:"fallback_token_length" mapstructure:"fallback_token_length"`

	// RetryDepth is how many following lines may be joined to a line on retry.
	RetryDepth int `json:"retry_depth" mapstructure:"retry_depth"`

	// MaxAttemptsPerInvoice bounds detection and parse attempts for one invoice.
	MaxAttemptsPerInvoice int `json:"max_attempts_per_invoice" mapstructure:"max_attempts_per_invoice"`

	// MinNameLength rejects item names shorter than this many characters.
	MinNameLength int `json:"min_name_length" mapstructure:"min_name_length"`

	// MaxLineErrors is how many per-line failures are kept for reporting.
	// Failures beyond it are still counted.
	MaxLineErrors int `json:"max_line_errors" mapstructure:"max_line_errors"`

	// SampleLines is how many lines of text go into extraction diagnostics.
	SampleLines int `json:"sample_lines" mapstructure:"sample_lines"`
}

// DefaultConfig returns the parser configuration used for supplier e-invoices.
func DefaultConfig() *Config {
	return &Config{
		SameLineTolerance:      0.5,
		MinInvoiceNumberLength: 4,
		FallbackTokenLength:    6,
		RetryDepth:             2,
		MaxAttemptsPerInvoice:  2000,
		MinNameLength:          3,
		MaxLineErrors:          100,
		SampleLines:            10,
	}
}

// Validate checks if the parser configuration is valid
func (c *Config) Validate() error {
	if c.SameLineTolerance <= 0 {
		return fmt.Errorf("same line tolerance must be positive, got %f", c.SameLineTolerance)
	}

	if c.MinInvoiceNumberLength < 1 {
		return fmt.Errorf("min invoice number length must be at least 1, got %d", c.MinInvoiceNumberLength)
	}

	if c.FallbackTokenLength < c.MinInvoiceNumberLength {
		return fmt.Errorf("fallback token length (%d) cannot be shorter than min invoice number length (%d)",
			c.FallbackTokenLength, c.MinInvoiceNumberLength)
	}

	if c.RetryDepth < 0 || c.RetryDepth > 5 {
		return fmt.Errorf("retry depth must be between 0 and 5, got %d", c.RetryDepth)
	}

	if c.MaxAttemptsPerInvoice <= 0 {
		return fmt.Errorf("max attempts per invoice must be positive, got %d", c.MaxAttemptsPerInvoice)
	}

	if c.MinNameLength < 1 {
		return fmt.Errorf("min name length must be at least 1, got %d", c.MinNameLength)
	}

	if c.MaxLineErrors < 0 {
		return fmt.Errorf("max line errors cannot be negative, got %d", c.MaxLineErrors)
	}

	if c.SampleLines < 0 {
		return fmt.Errorf("sample lines cannot be negative, got %d", c.SampleLines)
	}

	return nil
}
