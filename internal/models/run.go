package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RunRecord is what one reconciliation run leaves in the history store.
type RunRecord struct {
	ID          string               `json:"id"`
	StartedAt   time.Time            `json:"started_at"`
	FinishedAt  time.Time            `json:"finished_at"`
	Invoices    []string             `json:"invoices"`
	Outcomes    []*ComparisonOutcome `json:"outcomes"`
	TotalRefund decimal.Decimal      `json:"total_refund"`
}

// HistoryEntry is one stored outcome of a past run.
type HistoryEntry struct {
	RunID         string          `json:"run_id"`
	InvoiceNumber string          `json:"invoice_number"`
	ProductCode   string          `json:"product_code"`
	ProductName   string          `json:"product_name"`
	CanonicalName string          `json:"canonical_name"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	Quantity      decimal.Decimal `json:"quantity"`
	Total         decimal.Decimal `json:"total"`
	RefundAmount  decimal.Decimal `json:"refund_amount"`
	Status        Status          `json:"status"`
	Reason        ReviewReason    `json:"reason,omitempty"`
	RecordedAt    time.Time       `json:"recorded_at"`
}

// PendingReview is a line waiting for a reviewer's decision.
type PendingReview struct {
	RunID         string       `json:"run_id"`
	InvoiceNumber string       `json:"invoice_number"`
	ProductCode   string       `json:"product_code"`
	ProductName   string       `json:"product_name"`
	CanonicalName string       `json:"canonical_name"`
	Reason        ReviewReason `json:"reason"`
	CreatedAt     time.Time    `json:"created_at"`
}

// NewPendingReview builds the review record for a pending outcome.
func NewPendingReview(runID string, o *ComparisonOutcome, now time.Time) PendingReview {
	review := PendingReview{
		RunID:         runID,
		InvoiceNumber: o.InvoiceNumber,
		CanonicalName: o.CanonicalName,
		Reason:        o.Reason,
		CreatedAt:     now,
	}
	if o.LineItem != nil {
		review.ProductCode = o.LineItem.Code
		review.ProductName = o.LineItem.Name
	}
	return review
}
