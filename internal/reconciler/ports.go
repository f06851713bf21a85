package reconciler

import (
	"context"

	"invoice-reconciliation-service/internal/models"
)

// CatalogProvider loads the read-only reference data for one run.
type CatalogProvider interface {
	Load(ctx context.Context) (*models.CatalogSnapshot, error)
}

// Store persists run results and the adjudication state shared across runs.
type Store interface {
	// ApprovedPairs returns the approval keys (see models.ApprovalKey) of
	// every adjudicated invoice line.
	ApprovedPairs(ctx context.Context) (map[string]bool, error)
	KnownInvoiceNumbers(ctx context.Context) (map[string]bool, error)
	SaveUnmatched(ctx context.Context, products []models.UnmatchedProduct) error
	SavePendingReviews(ctx context.Context, reviews []models.PendingReview) error
	SaveRun(ctx context.Context, run *models.RunRecord) error
}
