// Package store persists reconciliation state in a SQLite database: products
// the matcher could not place, reviewer approvals, lines waiting for review
// and the outcomes of every run.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"invoice-reconciliation-service/internal/models"
	"invoice-reconciliation-service/pkg/errors"
	"invoice-reconciliation-service/pkg/logger"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

const timeLayout = time.RFC3339Nano

const schema = `
CREATE TABLE IF NOT EXISTS unmatched_products (
	source_system TEXT NOT NULL,
	source_name TEXT NOT NULL,
	normalized_name TEXT NOT NULL,
	occurrences INTEGER NOT NULL DEFAULT 1,
	first_seen TEXT NOT NULL,
	last_seen TEXT NOT NULL,
	PRIMARY KEY (source_system, source_name)
);

CREATE TABLE IF NOT EXISTS approvals (
	invoice_number TEXT NOT NULL,
	product_code TEXT NOT NULL,
	approved_by TEXT NOT NULL DEFAULT '',
	reason TEXT NOT NULL DEFAULT '',
	approved_at TEXT NOT NULL,
	PRIMARY KEY (invoice_number, product_code)
);

CREATE TABLE IF NOT EXISTS pending_reviews (
	invoice_number TEXT NOT NULL,
	product_code TEXT NOT NULL,
	run_id TEXT NOT NULL,
	product_name TEXT NOT NULL DEFAULT '',
	canonical_name TEXT NOT NULL DEFAULT '',
	reason TEXT NOT NULL,
	created_at TEXT NOT NULL,
	resolved INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (invoice_number, product_code)
);

CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	invoice_count INTEGER NOT NULL,
	total_refund TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS run_invoices (
	run_id TEXT NOT NULL REFERENCES runs(id),
	invoice_number TEXT NOT NULL,
	PRIMARY KEY (run_id, invoice_number)
);

CREATE INDEX IF NOT EXISTS idx_run_invoices_number ON run_invoices(invoice_number);

CREATE TABLE IF NOT EXISTS run_outcomes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL REFERENCES runs(id),
	invoice_number TEXT NOT NULL,
	product_code TEXT NOT NULL,
	product_name TEXT NOT NULL,
	canonical_name TEXT NOT NULL,
	unit_price TEXT NOT NULL,
	quantity TEXT NOT NULL,
	total TEXT NOT NULL,
	refund_amount TEXT NOT NULL,
	status TEXT NOT NULL,
	reason TEXT NOT NULL,
	recorded_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_run_outcomes_invoice ON run_outcomes(invoice_number, recorded_at DESC);
`

// Store is the SQLite implementation of the reconciler's persistence port.
type Store struct {
	db     *sql.DB
	logger logger.Logger
	now    func() time.Time
}

// Open opens (creating if needed) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func Open(path string, log logger.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.StorageError("open", err).WithContext("path", path)
	}
	// SQLite allows one writer; a single connection also keeps ":memory:" shared.
	db.SetMaxOpenConns(1)

	s := &Store{
		db:     db,
		logger: logger.OrNop(log).WithComponent("store"),
		now:    time.Now,
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, errors.StorageError("migrate", err).WithContext("path", path)
	}

	s.logger.WithField("path", path).Debug("Store opened")
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"} {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	_, err := s.db.Exec(schema)
	return err
}

// withTx runs fn in a transaction, committing only when fn succeeds.
func (s *Store) withTx(ctx context.Context, op string, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.StorageError(op, err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return errors.StorageError(op, err)
	}
	if err := tx.Commit(); err != nil {
		return errors.StorageError(op, err)
	}
	return nil
}

// ApprovedPairs returns the approval key of every approved invoice line.
func (s *Store) ApprovedPairs(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT invoice_number, product_code FROM approvals`)
	if err != nil {
		return nil, errors.StorageError("approved_pairs", err)
	}
	defer rows.Close()

	pairs := make(map[string]bool)
	for rows.Next() {
		var invoice, code string
		if err := rows.Scan(&invoice, &code); err != nil {
			return nil, errors.StorageError("approved_pairs", err)
		}
		pairs[models.ApprovalKey(invoice, code)] = true
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageError("approved_pairs", err)
	}
	return pairs, nil
}

// Approve records a reviewer's decision and resolves the matching pending review.
// Approving the same line again replaces the earlier approval.
func (s *Store) Approve(ctx context.Context, a models.Approval) error {
	if a.InvoiceNumber == "" || a.ProductCode == "" {
		return errors.ValidationError(errors.CodeMissingField, "approval", a.Key(),
			fmt.Errorf("invoice number and product code are required"))
	}
	if a.ApprovedAt.IsZero() {
		a.ApprovedAt = s.now()
	}

	err := s.withTx(ctx, "approve", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO approvals (invoice_number, product_code, approved_by, reason, approved_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (invoice_number, product_code) DO UPDATE SET
				approved_by = excluded.approved_by,
				reason = excluded.reason,
				approved_at = excluded.approved_at`,
			a.InvoiceNumber, a.ProductCode, a.ApprovedBy, a.Reason, a.ApprovedAt.UTC().Format(timeLayout),
		); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE pending_reviews SET resolved = 1 WHERE invoice_number = ? AND product_code = ?`,
			a.InvoiceNumber, a.ProductCode)
		return err
	})
	if err != nil {
		return err
	}

	s.logger.WithFields(logger.Fields{
		"invoice_number": a.InvoiceNumber,
		"product_code":   a.ProductCode,
		"approved_by":    a.ApprovedBy,
	}).Info("Approval recorded")
	return nil
}

// KnownInvoiceNumbers returns every invoice number a stored run has processed.
func (s *Store) KnownInvoiceNumbers(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT invoice_number FROM run_invoices`)
	if err != nil {
		return nil, errors.StorageError("known_invoices", err)
	}
	defer rows.Close()

	known := make(map[string]bool)
	for rows.Next() {
		var number string
		if err := rows.Scan(&number); err != nil {
			return nil, errors.StorageError("known_invoices", err)
		}
		known[number] = true
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageError("known_invoices", err)
	}
	return known, nil
}

// SaveUnmatched upserts unmatched names. A name seen before only has its
// occurrence count and last-seen time bumped.
func (s *Store) SaveUnmatched(ctx context.Context, products []models.UnmatchedProduct) error {
	if len(products) == 0 {
		return nil
	}
	now := s.now().UTC().Format(timeLayout)

	return s.withTx(ctx, "save_unmatched", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO unmatched_products (source_system, source_name, normalized_name, first_seen, last_seen)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (source_system, source_name) DO UPDATE SET
				occurrences = occurrences + 1,
				last_seen = excluded.last_seen`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, p := range products {
			if _, err := stmt.ExecContext(ctx, string(p.SourceSystem), p.SourceName, p.NormalizedName, now, now); err != nil {
				return err
			}
		}
		return nil
	})
}

// Unmatched lists the stored unmatched names, most recently seen first.
func (s *Store) Unmatched(ctx context.Context) ([]models.UnmatchedProduct, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_system, source_name, normalized_name
		FROM unmatched_products ORDER BY last_seen DESC, source_name`)
	if err != nil {
		return nil, errors.StorageError("unmatched", err)
	}
	defer rows.Close()

	var out []models.UnmatchedProduct
	for rows.Next() {
		var p models.UnmatchedProduct
		var system string
		if err := rows.Scan(&system, &p.SourceName, &p.NormalizedName); err != nil {
			return nil, errors.StorageError("unmatched", err)
		}
		p.SourceSystem = models.System(system)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageError("unmatched", err)
	}
	return out, nil
}

// SavePendingReviews stores lines waiting for a reviewer. A line that is
// already pending keeps one row that points at the latest run.
func (s *Store) SavePendingReviews(ctx context.Context, reviews []models.PendingReview) error {
	if len(reviews) == 0 {
		return nil
	}

	return s.withTx(ctx, "save_pending_reviews", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO pending_reviews
				(invoice_number, product_code, run_id, product_name, canonical_name, reason, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (invoice_number, product_code) DO UPDATE SET
				run_id = excluded.run_id,
				product_name = excluded.product_name,
				canonical_name = excluded.canonical_name,
				reason = excluded.reason`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, r := range reviews {
			if _, err := stmt.ExecContext(ctx, r.InvoiceNumber, r.ProductCode, r.RunID, r.ProductName,
				r.CanonicalName, string(r.Reason), r.CreatedAt.UTC().Format(timeLayout)); err != nil {
				return err
			}
		}
		return nil
	})
}

// PendingReviews lists unresolved reviews in the order they were raised.
func (s *Store) PendingReviews(ctx context.Context) ([]models.PendingReview, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, invoice_number, product_code, product_name, canonical_name, reason, created_at
		FROM pending_reviews WHERE resolved = 0
		ORDER BY created_at, invoice_number, product_code`)
	if err != nil {
		return nil, errors.StorageError("pending_reviews", err)
	}
	defer rows.Close()

	var out []models.PendingReview
	for rows.Next() {
		var r models.PendingReview
		var reason, created string
		if err := rows.Scan(&r.RunID, &r.InvoiceNumber, &r.ProductCode, &r.ProductName,
			&r.CanonicalName, &reason, &created); err != nil {
			return nil, errors.StorageError("pending_reviews", err)
		}
		r.Reason = models.ReviewReason(reason)
		if r.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return nil, errors.StorageError("pending_reviews", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageError("pending_reviews", err)
	}
	return out, nil
}

// SaveRun writes a run, its invoice numbers and every outcome in one transaction.
func (s *Store) SaveRun(ctx context.Context, run *models.RunRecord) error {
	if run == nil || run.ID == "" {
		return errors.ValidationError(errors.CodeMissingField, "run_id", "", fmt.Errorf("run record has no id"))
	}
	recorded := run.FinishedAt.UTC().Format(timeLayout)

	err := s.withTx(ctx, "save_run", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO runs (id, started_at, finished_at, invoice_count, total_refund)
			VALUES (?, ?, ?, ?, ?)`,
			run.ID, run.StartedAt.UTC().Format(timeLayout), recorded, len(run.Invoices), run.TotalRefund.String(),
		); err != nil {
			return err
		}

		for _, number := range run.Invoices {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO run_invoices (run_id, invoice_number) VALUES (?, ?)`,
				run.ID, number); err != nil {
				return err
			}
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO run_outcomes
				(run_id, invoice_number, product_code, product_name, canonical_name,
				 unit_price, quantity, total, refund_amount, status, reason, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, o := range run.Outcomes {
			if o == nil || o.LineItem == nil {
				continue
			}
			item := o.LineItem
			if _, err := stmt.ExecContext(ctx, run.ID, o.InvoiceNumber, item.Code, item.Name, o.CanonicalName,
				item.UnitPrice.String(), item.Quantity.String(), item.Total.String(), o.RefundAmount.String(),
				string(o.Status), string(o.Reason), recorded); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.WithFields(logger.Fields{
		"run_id":   run.ID,
		"invoices": len(run.Invoices),
		"outcomes": len(run.Outcomes),
	}).Info("Run saved")
	return nil
}

// History returns stored outcomes, newest first. An empty invoice number
// returns every invoice; a limit of zero or less returns all rows.
func (s *Store) History(ctx context.Context, invoiceNumber string, limit int) ([]models.HistoryEntry, error) {
	query := `
		SELECT run_id, invoice_number, product_code, product_name, canonical_name,
			unit_price, quantity, total, refund_amount, status, reason, recorded_at
		FROM run_outcomes`
	var args []interface{}
	if invoiceNumber != "" {
		query += ` WHERE invoice_number = ?`
		args = append(args, invoiceNumber)
	}
	query += ` ORDER BY recorded_at DESC, id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.StorageError("history", err)
	}
	defer rows.Close()

	var out []models.HistoryEntry
	for rows.Next() {
		entry, err := scanHistory(rows)
		if err != nil {
			return nil, errors.StorageError("history", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageError("history", err)
	}
	return out, nil
}

func scanHistory(rows *sql.Rows) (models.HistoryEntry, error) {
	var e models.HistoryEntry
	var unitPrice, quantity, total, refund string
	var status, reason, recorded string
	if err := rows.Scan(&e.RunID, &e.InvoiceNumber, &e.ProductCode, &e.ProductName, &e.CanonicalName,
		&unitPrice, &quantity, &total, &refund, &status, &reason, &recorded); err != nil {
		return e, err
	}

	var err error
	for _, field := range []struct {
		raw string
		dst *decimal.Decimal
	}{
		{unitPrice, &e.UnitPrice},
		{quantity, &e.Quantity},
		{total, &e.Total},
		{refund, &e.RefundAmount},
	} {
		if *field.dst, err = decimal.NewFromString(field.raw); err != nil {
			return e, fmt.Errorf("invalid decimal %q: %w", field.raw, err)
		}
	}
	e.Status = models.Status(status)
	e.Reason = models.ReviewReason(reason)
	if e.RecordedAt, err = time.Parse(timeLayout, recorded); err != nil {
		return e, err
	}
	return e, nil
}
