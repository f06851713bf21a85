package reconciler

import (
	"fmt"
	"time"

	"invoice-reconciliation-service/internal/models"
	"invoice-reconciliation-service/internal/parsers"
	"invoice-reconciliation-service/pkg/errors"

	"github.com/shopspring/decimal"
)

// Config holds configuration options for a reconciliation run
type Config struct {
	// Workers is how many invoices are processed concurrently.
	Workers int `json:"workers" mapstructure:"workers"`

	// ProgressInterval is how often batch progress is logged.
	ProgressInterval time.Duration `json:"progress_interval" mapstructure:"progress_interval"`

	// PersistUnmatched writes origin names without any catalog candidate to the store.
	PersistUnmatched bool `json:"persist_unmatched" mapstructure:"persist_unmatched"`

	// CheckDuplicates skips invoices whose number was already seen in this
	// batch or, with a store, in an earlier run.
	CheckDuplicates bool `json:"check_duplicates" mapstructure:"check_duplicates"`

	// SaveHistory stores the run's outcomes and pending reviews.
	SaveHistory bool `json:"save_history" mapstructure:"save_history"`
}

// DefaultConfig returns a default configuration for reconciliation runs
func DefaultConfig() *Config {
	return &Config{
		Workers:          4,
		ProgressInterval: 5 * time.Second,
		PersistUnmatched: true,
		CheckDuplicates:  true,
		SaveHistory:      true,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.Workers > 64 {
		return fmt.Errorf("workers cannot exceed 64, got %d", c.Workers)
	}
	if c.ProgressInterval < 0 {
		return fmt.Errorf("progress interval cannot be negative, got %s", c.ProgressInterval)
	}
	return nil
}

// InvoiceResult is the outcome of one invoice that made it through extraction.
type InvoiceResult struct {
	Source     string                      `json:"source"`
	Header     *models.InvoiceHeader       `json:"header"`
	Outcomes   []*models.ComparisonOutcome `json:"outcomes"`
	ParseStats *parsers.ParseStats         `json:"parse_stats"`
}

// InvoiceFailure is an invoice aborted by a fatal extraction error.
type InvoiceFailure struct {
	Source string                  `json:"source"`
	Err    *errors.ReconcilerError `json:"-"`
}

// Stage returns the pipeline stage that failed, from the error context.
func (f InvoiceFailure) Stage() string {
	if f.Err == nil {
		return ""
	}
	stage, _ := f.Err.Context["stage"].(string)
	return stage
}

// Message returns the failure reason.
func (f InvoiceFailure) Message() string {
	if f.Err == nil {
		return ""
	}
	return f.Err.Message
}

// RunResult contains the complete results of one reconciliation run
type RunResult struct {
	RunID      string                    `json:"run_id"`
	StartedAt  time.Time                 `json:"started_at"`
	FinishedAt time.Time                 `json:"finished_at"`
	Invoices   []*InvoiceResult          `json:"invoices"`
	Failures   []InvoiceFailure          `json:"failures,omitempty"`
	Duplicates []DuplicateInvoice        `json:"duplicates,omitempty"`
	Unmatched  []models.UnmatchedProduct `json:"unmatched,omitempty"`
	ParseStats *parsers.ParseStats       `json:"parse_stats"`
	Catalog    PreprocessStats           `json:"catalog"`
	Summary    *Summary                  `json:"summary"`
	Warnings   []string                  `json:"warnings,omitempty"`
}

// Outcomes returns every outcome of the run in invoice order.
func (r *RunResult) Outcomes() []*models.ComparisonOutcome {
	var all []*models.ComparisonOutcome
	for _, inv := range r.Invoices {
		all = append(all, inv.Outcomes...)
	}
	return all
}

// AutomaticOutcomes returns the outcomes classified without a reviewer.
func (r *RunResult) AutomaticOutcomes() []*models.ComparisonOutcome {
	var out []*models.ComparisonOutcome
	for _, o := range r.Outcomes() {
		if !o.Status.NeedsAttention() {
			out = append(out, o)
		}
	}
	return out
}

// ManualOutcomes returns the outcomes waiting for manual review.
func (r *RunResult) ManualOutcomes() []*models.ComparisonOutcome {
	var out []*models.ComparisonOutcome
	for _, o := range r.Outcomes() {
		if o.Status.NeedsAttention() {
			out = append(out, o)
		}
	}
	return out
}

// InvoiceNumbers returns the numbers of the processed invoices.
func (r *RunResult) InvoiceNumbers() []string {
	numbers := make([]string, 0, len(r.Invoices))
	for _, inv := range r.Invoices {
		if inv.Header != nil {
			numbers = append(numbers, inv.Header.Number)
		}
	}
	return numbers
}

// Duration returns how long the run took
func (r *RunResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Summary provides a high-level overview of reconciliation results
type Summary struct {
	TotalInvoices     int `json:"total_invoices"`
	ProcessedInvoices int `json:"processed_invoices"`
	FailedInvoices    int `json:"failed_invoices"`
	DuplicateInvoices int `json:"duplicate_invoices"`

	TotalItems         int `json:"total_items"`
	Automatic          int `json:"automatic"`
	Manual             int `json:"manual"`
	PreviouslyApproved int `json:"previously_approved"`

	Compliant      int `json:"compliant"`
	RefundRequired int `json:"refund_required"`
	Pending        int `json:"pending"`

	TotalRefund decimal.Decimal `json:"total_refund"`

	WithMapping      int `json:"with_mapping"`
	WithListAPrice   int `json:"with_list_a_price"`
	WithListBPrice   int `json:"with_list_b_price"`
	WithSpecialLimit int `json:"with_special_limit"`

	// ReviewBreakdown counts outcomes by missing-reference reason. Single-side
	// misses are evaluated automatically and counted here as warnings.
	ReviewBreakdown map[models.ReviewReason]int `json:"review_breakdown"`
}

// NewSummary aggregates the outcomes of a run.
func NewSummary(result *RunResult) *Summary {
	s := &Summary{
		ProcessedInvoices: len(result.Invoices),
		FailedInvoices:    len(result.Failures),
		DuplicateInvoices: len(result.Duplicates),
		TotalRefund:       decimal.Zero,
		ReviewBreakdown:   make(map[models.ReviewReason]int),
	}
	s.TotalInvoices = s.ProcessedInvoices + s.FailedInvoices + s.DuplicateInvoices

	for _, o := range result.Outcomes() {
		s.TotalItems++

		switch o.Status {
		case models.StatusCompliant:
			s.Compliant++
		case models.StatusRefundRequired:
			s.RefundRequired++
			s.TotalRefund = s.TotalRefund.Add(o.RefundAmount)
		case models.StatusPendingManualReview:
			s.Pending++
		}

		if o.Status.NeedsAttention() {
			s.Manual++
		} else {
			s.Automatic++
		}
		if o.PreviouslyApproved {
			s.PreviouslyApproved++
			continue
		}

		if o.Reason != models.ReasonNoMapping {
			s.WithMapping++
		}
		if o.ReferenceA != nil {
			s.WithListAPrice++
		}
		if o.ReferenceB != nil {
			s.WithListBPrice++
		}
		if o.SpecialLimit != nil && o.SpecialLimit.Active {
			s.WithSpecialLimit++
		}
		if o.Reason != models.ReasonNone {
			s.ReviewBreakdown[o.Reason]++
		}
	}

	return s
}
