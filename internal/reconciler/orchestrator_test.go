package reconciler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"invoice-reconciliation-service/internal/models"
	"invoice-reconciliation-service/pkg/errors"

	"github.com/shopspring/decimal"
)

var fixedNow = time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

type fakeCatalog struct {
	snapshot *models.CatalogSnapshot
	err      error
}

func (f *fakeCatalog) Load(ctx context.Context) (*models.CatalogSnapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.snapshot, nil
}

type fakeStore struct {
	mu        sync.Mutex
	approved  map[string]bool
	known     map[string]bool
	saveErr   error
	unmatched []models.UnmatchedProduct
	reviews   []models.PendingReview
	runs      []*models.RunRecord
}

func (f *fakeStore) ApprovedPairs(ctx context.Context) (map[string]bool, error) {
	return f.approved, nil
}

func (f *fakeStore) KnownInvoiceNumbers(ctx context.Context) (map[string]bool, error) {
	return f.known, nil
}

func (f *fakeStore) SaveUnmatched(ctx context.Context, products []models.UnmatchedProduct) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.unmatched = append(f.unmatched, products...)
	return nil
}

func (f *fakeStore) SavePendingReviews(ctx context.Context, reviews []models.PendingReview) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.reviews = append(f.reviews, reviews...)
	return nil
}

func (f *fakeStore) SaveRun(ctx context.Context, run *models.RunRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.runs = append(f.runs, run)
	return nil
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func createTestSnapshot() *models.CatalogSnapshot {
	older := time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	return &models.CatalogSnapshot{
		Mappings: []models.MappingRow{
			{CanonicalKey: "domates_salkim", OriginName: "DOMATES SALKIM KG", ListAName: "Domates Salkım", ListBName: "Salkım Domates"},
			{CanonicalKey: "biber_carliston", OriginName: "BIBER CARLISTON", ListAName: "Biber Çarliston"},
		},
		StockMappings: []models.StockMapping{
			{SupplierCode: "153.01.0042", OriginName: "DOMATES SALKIM KG"},
			{SupplierCode: "153.01.0043", OriginName: "BIBER CARLISTON"},
			{SupplierCode: "153.01.0044", OriginName: "KEREVIZ SAPI"},
		},
		ListA: []models.ReferencePriceA{
			{ProductName: "Domates Salkım", ListPrice: dec("60"), EffectiveDate: older},
			{ProductName: "Domates Salkım", ListPrice: dec("40"), EffectiveDate: newer},
			{ProductName: "Biber Çarliston", ListPrice: dec("100"), EffectiveDate: newer},
		},
		ListB: []models.ReferencePriceB{
			{ProductName: "Salkım Domates", MaxPrice: dec("30"), ObservedDate: newer},
		},
		SpecialLimits: []models.SpecialLimit{
			{ProductName: "biber_carliston", FixedMaxPrice: dec("20"), Active: true},
		},
	}
}

// documentFromLines lays every line out as one row of word fragments.
func documentFromLines(source string, lines ...string) models.InvoiceDocument {
	var fragments []models.PositionedFragment
	for row, line := range lines {
		words := strings.Fields(line)
		// reversed so reconstruction has to order by x
		for col := len(words) - 1; col >= 0; col-- {
			fragments = append(fragments, models.PositionedFragment{
				Text:  words[col],
				X:     float64(col * 40),
				Y:     float64(row * 12),
				Width: 35,
			})
		}
	}
	return models.InvoiceDocument{Source: source, Pages: []models.Page{{Number: 1, Fragments: fragments}}}
}

func createTestInvoice(source string) models.InvoiceDocument {
	return documentFromLines(source,
		"Fatura No: ABC2025000000123",
		"Fatura Tarihi: 05.03.2025",
		"153.01.0042 Domates Salkım 10 KG 250,00 TL",
		"153.01.0043 Biber Çarliston 5 KG 75,00 TL",
		"153.01.0044 Kereviz Sapı 2 KG 40,00 TL",
		"153.01.0099 Ispanak 3 KG 90,00 TL",
		"Toplam 455,00 TL",
	)
}

func newTestOrchestrator(t *testing.T, store Store) *Orchestrator {
	t.Helper()
	opts := Options{
		Catalog: &fakeCatalog{snapshot: createTestSnapshot()},
		Clock:   fixedClock,
	}
	if store != nil {
		opts.Store = store
	}
	o, err := NewOrchestrator(opts)
	if err != nil {
		t.Fatalf("Failed to create orchestrator: %v", err)
	}
	return o
}

func outcomeByCode(outcomes []*models.ComparisonOutcome, code string) *models.ComparisonOutcome {
	for _, o := range outcomes {
		if o.LineItem != nil && o.LineItem.Code == code {
			return o
		}
	}
	return nil
}

func TestNewOrchestrator_Validation(t *testing.T) {
	if _, err := NewOrchestrator(Options{}); !errors.HasCode(err, errors.CodeMissingField) {
		t.Errorf("Expected missing catalog error, got %v", err)
	}

	config := DefaultConfig()
	config.Workers = 0
	_, err := NewOrchestrator(Options{Catalog: &fakeCatalog{}, Config: config})
	if !errors.HasCode(err, errors.CodeInvalidConfig) {
		t.Errorf("Expected invalid config error, got %v", err)
	}
}

func TestOrchestrator_ProcessInvoice(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	ctx := context.Background()

	catalog, _, err := o.LoadCatalog(ctx)
	if err != nil {
		t.Fatalf("Failed to load catalog: %v", err)
	}

	result, err := o.ProcessInvoice(ctx, createTestInvoice("inv-1.pdf"), catalog)
	if err != nil {
		t.Fatalf("ProcessInvoice failed: %v", err)
	}

	if result.Header.Number != "ABC2025000000123" {
		t.Errorf("Expected invoice number ABC2025000000123, got %s", result.Header.Number)
	}
	if !result.Header.Date.Equal(time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)) || result.Header.DateDefaulted {
		t.Errorf("Expected invoice date 2025-03-05, got %s", result.Header.Date)
	}
	if len(result.Outcomes) != 4 {
		t.Fatalf("Expected 4 outcomes, got %d", len(result.Outcomes))
	}
	if result.ParseStats.Parsed != 4 {
		t.Errorf("Expected 4 parsed lines, got %d", result.ParseStats.Parsed)
	}

	tests := []struct {
		code   string
		status models.Status
		reason models.ReviewReason
		refund string
	}{
		{"153.01.0042", models.StatusRefundRequired, models.ReasonNone, "122"},
		{"153.01.0043", models.StatusCompliant, models.ReasonNoListB, "0"},
		{"153.01.0044", models.StatusPendingManualReview, models.ReasonBothMissing, "0"},
		{"153.01.0099", models.StatusPendingManualReview, models.ReasonNoMapping, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			outcome := outcomeByCode(result.Outcomes, tt.code)
			if outcome == nil {
				t.Fatalf("No outcome for %s", tt.code)
			}
			if outcome.Status != tt.status {
				t.Errorf("Expected status %s, got %s", tt.status, outcome.Status)
			}
			if outcome.Reason != tt.reason {
				t.Errorf("Expected reason %q, got %q", tt.reason, outcome.Reason)
			}
			if !outcome.RefundAmount.Equal(dec(tt.refund)) {
				t.Errorf("Expected refund %s, got %s", tt.refund, outcome.RefundAmount)
			}
		})
	}

	tomato := outcomeByCode(result.Outcomes, "153.01.0042")
	if tomato.CanonicalName != "domates_salkim" {
		t.Errorf("Expected canonical domates_salkim, got %s", tomato.CanonicalName)
	}
	if tomato.ThresholdA == nil || !tomato.ThresholdA.Equal(dec("12.80")) {
		t.Errorf("Expected threshold A 12.80 from the most recent list price, got %v", tomato.ThresholdA)
	}
	if tomato.ThresholdB == nil || !tomato.ThresholdB.Equal(dec("33")) {
		t.Errorf("Expected threshold B 33.00, got %v", tomato.ThresholdB)
	}
	if !tomato.ViolatedA || tomato.ViolatedB {
		t.Errorf("Expected only list A violated, got A=%v B=%v", tomato.ViolatedA, tomato.ViolatedB)
	}
	if tomato.MatchedNameA() != "Domates Salkım" || tomato.MatchedNameB() != "Salkım Domates" {
		t.Errorf("Unexpected matched names %q / %q", tomato.MatchedNameA(), tomato.MatchedNameB())
	}

	pepper := outcomeByCode(result.Outcomes, "153.01.0043")
	if pepper.ThresholdA == nil || !pepper.ThresholdA.Equal(dec("20")) {
		t.Errorf("Expected special limit 20 as threshold A, got %v", pepper.ThresholdA)
	}
}

func TestOrchestrator_ProcessInvoice_ExtractionFailures(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	ctx := context.Background()
	catalog, _, err := o.LoadCatalog(ctx)
	if err != nil {
		t.Fatalf("Failed to load catalog: %v", err)
	}

	_, err = o.ProcessInvoice(ctx, models.InvoiceDocument{Source: "blank.pdf"}, catalog)
	if !errors.HasCode(err, errors.CodeEmptyText) {
		t.Errorf("Expected empty_text error, got %v", err)
	}
	if re, ok := errors.AsReconcilerError(err); ok && re.Context["stage"] != "text_reconstruction" {
		t.Errorf("Expected text_reconstruction stage, got %v", re.Context["stage"])
	}

	_, err = o.ProcessInvoice(ctx, documentFromLines("nonumber.pdf", "Teslim edildi", "Toplam 12,00 TL"), catalog)
	if !errors.HasCode(err, errors.CodeNoInvoiceNumber) {
		t.Errorf("Expected no_invoice_number error, got %v", err)
	}
}

func TestOrchestrator_ProcessInvoice_Cancelled(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	catalog, _, err := o.LoadCatalog(context.Background())
	if err != nil {
		t.Fatalf("Failed to load catalog: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = o.ProcessInvoice(ctx, createTestInvoice("inv-1.pdf"), catalog)
	if !errors.HasCode(err, errors.CodeCancelled) {
		t.Errorf("Expected cancelled error, got %v", err)
	}
}

func TestOrchestrator_Run(t *testing.T) {
	store := &fakeStore{}
	o := newTestOrchestrator(t, store)

	docs := []models.InvoiceDocument{
		createTestInvoice("inv-1.pdf"),
		createTestInvoice("inv-1-copy.pdf"),
		{Source: "blank.pdf"},
		documentFromLines("nonumber.pdf", "Teslim edildi"),
	}

	result, err := o.Run(context.Background(), docs)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.RunID == "" {
		t.Error("Expected a run id")
	}
	if len(result.Invoices) != 1 || result.Invoices[0].Source != "inv-1.pdf" {
		t.Fatalf("Expected only inv-1.pdf processed, got %d invoices", len(result.Invoices))
	}

	if len(result.Duplicates) != 1 {
		t.Fatalf("Expected 1 duplicate, got %d", len(result.Duplicates))
	}
	dup := result.Duplicates[0]
	if dup.Source != "inv-1-copy.pdf" || dup.FirstSource != "inv-1.pdf" || dup.PreviousRun {
		t.Errorf("Unexpected duplicate %+v", dup)
	}

	if len(result.Failures) != 2 {
		t.Fatalf("Expected 2 failures, got %d", len(result.Failures))
	}
	if result.Failures[0].Source != "blank.pdf" || result.Failures[0].Stage() != "text_reconstruction" {
		t.Errorf("Unexpected first failure %s at %s", result.Failures[0].Source, result.Failures[0].Stage())
	}
	if result.Failures[1].Source != "nonumber.pdf" || result.Failures[1].Stage() != "header_extraction" {
		t.Errorf("Unexpected second failure %s at %s", result.Failures[1].Source, result.Failures[1].Stage())
	}

	s := result.Summary
	if s.TotalInvoices != 4 || s.ProcessedInvoices != 1 || s.FailedInvoices != 2 || s.DuplicateInvoices != 1 {
		t.Errorf("Unexpected invoice counts %+v", s)
	}
	if s.TotalItems != 4 || s.Automatic != 2 || s.Manual != 2 {
		t.Errorf("Unexpected item counts: total %d, automatic %d, manual %d", s.TotalItems, s.Automatic, s.Manual)
	}
	if !s.TotalRefund.Equal(dec("122")) {
		t.Errorf("Expected total refund 122, got %s", s.TotalRefund)
	}
	if s.ReviewBreakdown[models.ReasonNoMapping] != 1 || s.ReviewBreakdown[models.ReasonBothMissing] != 1 ||
		s.ReviewBreakdown[models.ReasonNoListB] != 1 {
		t.Errorf("Unexpected review breakdown %v", s.ReviewBreakdown)
	}
	if s.WithMapping != 3 || s.WithListAPrice != 2 || s.WithListBPrice != 1 || s.WithSpecialLimit != 1 {
		t.Errorf("Unexpected coverage counts %+v", s)
	}

	if len(result.Unmatched) != 1 || result.Unmatched[0].SourceName != "KEREVIZ SAPI" {
		t.Errorf("Expected KEREVIZ SAPI unmatched, got %+v", result.Unmatched)
	}
	if result.ParseStats.Parsed != 4 {
		t.Errorf("Expected 4 parsed lines in run stats, got %d", result.ParseStats.Parsed)
	}

	if len(store.unmatched) != 1 {
		t.Errorf("Expected unmatched names persisted, got %d", len(store.unmatched))
	}
	if len(store.reviews) != 2 {
		t.Errorf("Expected 2 pending reviews persisted, got %d", len(store.reviews))
	}
	if len(store.runs) != 1 || store.runs[0].ID != result.RunID || len(store.runs[0].Outcomes) != 4 {
		t.Errorf("Expected the run persisted with 4 outcomes")
	}
}

func TestOrchestrator_Run_PreviouslyApproved(t *testing.T) {
	store := &fakeStore{approved: map[string]bool{
		models.ApprovalKey("ABC2025000000123", "153.01.0042"): true,
	}}
	o := newTestOrchestrator(t, store)

	result, err := o.Run(context.Background(), []models.InvoiceDocument{createTestInvoice("inv-1.pdf")})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	outcome := outcomeByCode(result.Outcomes(), "153.01.0042")
	if outcome.Status != models.StatusCompliant || !outcome.PreviouslyApproved || !outcome.RefundAmount.IsZero() {
		t.Errorf("Expected approved line to be compliant without refund, got %s %s", outcome.Status, outcome.RefundAmount)
	}
	if result.Summary.PreviouslyApproved != 1 || !result.Summary.TotalRefund.IsZero() {
		t.Errorf("Unexpected summary %+v", result.Summary)
	}
}

func TestOrchestrator_Run_KnownInvoice(t *testing.T) {
	store := &fakeStore{known: map[string]bool{"abc2025000000123": true}}
	o := newTestOrchestrator(t, store)

	result, err := o.Run(context.Background(), []models.InvoiceDocument{createTestInvoice("inv-1.pdf")})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(result.Invoices) != 0 || len(result.Duplicates) != 1 || !result.Duplicates[0].PreviousRun {
		t.Errorf("Expected the invoice skipped as reconciled earlier, got %+v", result.Duplicates)
	}
}

func TestOrchestrator_Run_DuplicateCheckDisabled(t *testing.T) {
	config := DefaultConfig()
	config.CheckDuplicates = false
	o, err := NewOrchestrator(Options{
		Config:  config,
		Catalog: &fakeCatalog{snapshot: createTestSnapshot()},
		Clock:   fixedClock,
	})
	if err != nil {
		t.Fatalf("Failed to create orchestrator: %v", err)
	}

	result, err := o.Run(context.Background(), []models.InvoiceDocument{
		createTestInvoice("inv-1.pdf"),
		createTestInvoice("inv-1-copy.pdf"),
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(result.Invoices) != 2 || len(result.Duplicates) != 0 {
		t.Errorf("Expected both copies processed, got %d invoices", len(result.Invoices))
	}
}

func TestOrchestrator_Run_CatalogFailure(t *testing.T) {
	o, err := NewOrchestrator(Options{Catalog: &fakeCatalog{err: fmt.Errorf("disk gone")}})
	if err != nil {
		t.Fatalf("Failed to create orchestrator: %v", err)
	}

	result, err := o.Run(context.Background(), []models.InvoiceDocument{createTestInvoice("inv-1.pdf")})
	if result != nil {
		t.Error("Expected no result when the catalog cannot be loaded")
	}
	if !errors.HasCode(err, errors.CodeCatalogLoad) {
		t.Errorf("Expected catalog_load error, got %v", err)
	}
}

func TestOrchestrator_Run_StoreFailure(t *testing.T) {
	store := &fakeStore{saveErr: fmt.Errorf("database is locked")}
	o := newTestOrchestrator(t, store)

	result, err := o.Run(context.Background(), []models.InvoiceDocument{createTestInvoice("inv-1.pdf")})
	if err == nil {
		t.Fatal("Expected a storage error")
	}
	if result == nil {
		t.Fatal("Expected the result to be returned with the storage error")
	}
	if len(result.Warnings) != 3 {
		t.Errorf("Expected 3 persistence warnings, got %d", len(result.Warnings))
	}
	if result.Summary.TotalItems != 4 {
		t.Errorf("Expected outcomes despite the storage error, got %d", result.Summary.TotalItems)
	}
}

func TestOrchestrator_Run_ManyInvoices(t *testing.T) {
	o := newTestOrchestrator(t, nil)

	var docs []models.InvoiceDocument
	for i := 0; i < 20; i++ {
		docs = append(docs, documentFromLines(fmt.Sprintf("inv-%02d.pdf", i),
			fmt.Sprintf("Fatura No: ABC20250000%05d", i),
			"153.01.0042 Domates Salkım 10 KG 250,00 TL",
		))
	}

	result, err := o.Run(context.Background(), docs)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(result.Invoices) != 20 {
		t.Fatalf("Expected 20 invoices, got %d", len(result.Invoices))
	}
	for i, inv := range result.Invoices {
		if inv.Source != docs[i].Source {
			t.Errorf("Expected input order kept at %d: %s, got %s", i, docs[i].Source, inv.Source)
		}
		if !inv.Header.DateDefaulted || !inv.Header.Date.Equal(time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)) {
			t.Errorf("Expected defaulted date for %s", inv.Source)
		}
	}
	if !result.Summary.TotalRefund.Equal(dec("2440")) {
		t.Errorf("Expected total refund 2440, got %s", result.Summary.TotalRefund)
	}
}
