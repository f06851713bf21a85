package reconciler

import (
	"testing"
	"time"

	"invoice-reconciliation-service/internal/models"
	"invoice-reconciliation-service/pkg/errors"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"default", func(c *Config) {}, false},
		{"single worker", func(c *Config) { c.Workers = 1 }, false},
		{"no workers", func(c *Config) { c.Workers = 0 }, true},
		{"too many workers", func(c *Config) { c.Workers = 65 }, true},
		{"negative interval", func(c *Config) { c.ProgressInterval = -time.Second }, true},
		{"progress disabled", func(c *Config) { c.ProgressInterval = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.modify(config)
			err := config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func createOutcome(status models.Status, reason models.ReviewReason, refund string) *models.ComparisonOutcome {
	o := &models.ComparisonOutcome{
		InvoiceNumber: "INV000123",
		LineItem:      &models.LineItem{Code: "153.01.0042", Name: "Domates"},
		Status:        status,
		Reason:        reason,
		RefundAmount:  dec(refund),
	}
	if reason != models.ReasonNoMapping && reason != models.ReasonBothMissing {
		o.ReferenceA = &models.ReferencePriceA{ProductName: "Domates", ListPrice: dec("40")}
	}
	return o
}

func TestNewSummary(t *testing.T) {
	approved := createOutcome(models.StatusCompliant, models.ReasonNone, "0")
	approved.PreviouslyApproved = true

	result := &RunResult{
		Invoices: []*InvoiceResult{
			{
				Source: "a.pdf",
				Header: &models.InvoiceHeader{Number: "INV000123"},
				Outcomes: []*models.ComparisonOutcome{
					createOutcome(models.StatusRefundRequired, models.ReasonNone, "122"),
					createOutcome(models.StatusRefundRequired, models.ReasonNoListB, "8.50"),
					createOutcome(models.StatusCompliant, models.ReasonNone, "0"),
				},
			},
			{
				Source: "b.pdf",
				Header: &models.InvoiceHeader{Number: "INV000124"},
				Outcomes: []*models.ComparisonOutcome{
					createOutcome(models.StatusPendingManualReview, models.ReasonNoMapping, "0"),
					createOutcome(models.StatusPendingManualReview, models.ReasonBothMissing, "0"),
					approved,
				},
			},
		},
		Failures:   []InvoiceFailure{{Source: "c.pdf", Err: errors.ExtractionError(errors.CodeEmptyText, "c.pdf", errors.Diagnostics{}, nil)}},
		Duplicates: []DuplicateInvoice{{InvoiceNumber: "INV000123", Source: "d.pdf", FirstSource: "a.pdf"}},
	}

	s := NewSummary(result)

	if s.TotalInvoices != 4 || s.ProcessedInvoices != 2 || s.FailedInvoices != 1 || s.DuplicateInvoices != 1 {
		t.Errorf("Unexpected invoice counts: %+v", s)
	}
	if s.TotalItems != 6 {
		t.Errorf("Expected 6 items, got %d", s.TotalItems)
	}
	if s.Compliant != 2 || s.RefundRequired != 2 || s.Pending != 2 {
		t.Errorf("Unexpected status counts: compliant %d, refund %d, pending %d", s.Compliant, s.RefundRequired, s.Pending)
	}
	if s.Automatic != 4 || s.Manual != 2 {
		t.Errorf("Expected 4 automatic and 2 manual, got %d and %d", s.Automatic, s.Manual)
	}
	if !s.TotalRefund.Equal(dec("130.50")) {
		t.Errorf("Expected total refund 130.50, got %s", s.TotalRefund)
	}
	if s.PreviouslyApproved != 1 {
		t.Errorf("Expected 1 previously approved, got %d", s.PreviouslyApproved)
	}
	if s.WithMapping != 4 || s.WithListAPrice != 3 {
		t.Errorf("Expected 4 mapped and 3 with list A, got %d and %d", s.WithMapping, s.WithListAPrice)
	}

	expected := map[models.ReviewReason]int{
		models.ReasonNoListB:     1,
		models.ReasonNoMapping:   1,
		models.ReasonBothMissing: 1,
	}
	for reason, count := range expected {
		if s.ReviewBreakdown[reason] != count {
			t.Errorf("Expected %d for %s, got %d", count, reason, s.ReviewBreakdown[reason])
		}
	}
}

func TestRunResult_OutcomeViews(t *testing.T) {
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	result := &RunResult{
		StartedAt:  start,
		FinishedAt: start.Add(90 * time.Second),
		Invoices: []*InvoiceResult{
			{
				Header: &models.InvoiceHeader{Number: "INV000123"},
				Outcomes: []*models.ComparisonOutcome{
					createOutcome(models.StatusRefundRequired, models.ReasonNone, "10"),
					createOutcome(models.StatusPendingManualReview, models.ReasonNoMapping, "0"),
				},
			},
			{
				Header:   &models.InvoiceHeader{Number: "INV000124"},
				Outcomes: []*models.ComparisonOutcome{createOutcome(models.StatusCompliant, models.ReasonNone, "0")},
			},
		},
	}

	if got := len(result.Outcomes()); got != 3 {
		t.Errorf("Expected 3 outcomes, got %d", got)
	}
	if got := len(result.AutomaticOutcomes()); got != 2 {
		t.Errorf("Expected 2 automatic outcomes, got %d", got)
	}
	manual := result.ManualOutcomes()
	if len(manual) != 1 || manual[0].Reason != models.ReasonNoMapping {
		t.Errorf("Expected the no_mapping outcome as manual, got %v", manual)
	}
	numbers := result.InvoiceNumbers()
	if len(numbers) != 2 || numbers[0] != "INV000123" || numbers[1] != "INV000124" {
		t.Errorf("Unexpected invoice numbers %v", numbers)
	}
	if result.Duration() != 90*time.Second {
		t.Errorf("Expected 90s duration, got %s", result.Duration())
	}
}

func TestInvoiceFailure_Stage(t *testing.T) {
	failure := InvoiceFailure{
		Source: "scan.pdf",
		Err:    errors.ExtractionError(errors.CodeNoInvoiceNumber, "scan.pdf", errors.Diagnostics{}, nil),
	}
	if failure.Stage() != "header_extraction" {
		t.Errorf("Expected header_extraction, got %s", failure.Stage())
	}
	if failure.Message() == "" {
		t.Error("Expected a failure message")
	}
}
