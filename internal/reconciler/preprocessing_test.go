package reconciler

import (
	"testing"
	"time"

	"invoice-reconciliation-service/internal/models"
)

func TestCatalogPreprocessor_Prepare(t *testing.T) {
	snapshot := createTestSnapshot()
	snapshot.ListA = append(snapshot.ListA,
		models.ReferencePriceA{ProductName: "", ListPrice: dec("10")},
		models.ReferencePriceA{ProductName: "Havuç", ListPrice: dec("0")},
	)
	snapshot.SpecialLimits = append(snapshot.SpecialLimits,
		models.SpecialLimit{ProductName: "domates_salkim", FixedMaxPrice: dec("5"), Active: false},
	)
	snapshot.StockMappings = append(snapshot.StockMappings,
		models.StockMapping{SupplierCode: " 153.01.0042 ", OriginName: "DOMATES CHERRY"},
	)
	snapshot.Approvals = []models.Approval{{InvoiceNumber: "INV000123", ProductCode: "153.01.0043"}}

	pc, stats := NewCatalogPreprocessor(nil, nil).Prepare(snapshot, map[string]bool{
		models.ApprovalKey("INV000124", "153.01.0042"): true,
	})

	if stats.ListARows != 5 || stats.ListAKept != 2 || stats.InvalidRows != 2 {
		t.Errorf("Unexpected list A stats %+v", stats)
	}
	if stats.ListBKept != 1 || stats.ActiveLimits != 1 || stats.StockMappings != 3 || stats.Approvals != 2 {
		t.Errorf("Unexpected stats %+v", stats)
	}

	tomato, ok := pc.ListA["domates_salkim"]
	if !ok {
		t.Fatal("Expected list A row keyed by domates_salkim")
	}
	if !tomato.Price.ListPrice.Equal(dec("40")) {
		t.Errorf("Expected the most recent price 40, got %s", tomato.Price.ListPrice)
	}
	if tomato.Match.Strategy != models.StrategyExact {
		t.Errorf("Expected exact alias match, got %s", tomato.Match.Strategy)
	}
	if _, ok := pc.ListB["domates_salkim"]; !ok {
		t.Error("Expected list B row keyed by domates_salkim")
	}

	if _, ok := pc.Limits["domates_salkim"]; ok {
		t.Error("Expected the inactive limit to be skipped")
	}
	if limit, ok := pc.Limits["biber_carliston"]; !ok || !limit.FixedMaxPrice.Equal(dec("20")) {
		t.Error("Expected the active limit for biber_carliston")
	}

	stock, ok := pc.StockMapping("153.01.0042")
	if !ok || stock.OriginName != "DOMATES SALKIM KG" {
		t.Errorf("Expected the first stock mapping row to win, got %+v", stock)
	}

	if !pc.IsApproved("INV000123", "153.01.0043") || !pc.IsApproved("INV000124", "153.01.0042") {
		t.Error("Expected snapshot and store approvals to be merged")
	}
	if pc.IsApproved("INV000123", "153.01.0042") {
		t.Error("Unexpected approval")
	}
}

func TestCatalogPreprocessor_UnmappedReferenceNames(t *testing.T) {
	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	snapshot := &models.CatalogSnapshot{
		ListA: []models.ReferencePriceA{
			{ProductName: "Kabak Sakız", ListPrice: dec("30"), EffectiveDate: newer},
			{ProductName: "KABAK SAKIZ", ListPrice: dec("35"), EffectiveDate: older},
		},
	}

	pc, stats := NewCatalogPreprocessor(nil, nil).Prepare(snapshot, nil)

	if stats.ListAKept != 1 {
		t.Fatalf("Expected rows normalizing to one key to collapse, got %d", stats.ListAKept)
	}
	row, ok := pc.ListA["kabak_sakiz"]
	if !ok {
		t.Fatalf("Expected the normalized name as key, got %v", pc.ListA)
	}
	if !row.Price.ListPrice.Equal(dec("30")) {
		t.Errorf("Expected the most recent row, got %s", row.Price.ListPrice)
	}
	if len(pc.Matcher.Unmatched()) != 0 {
		t.Error("Reference names must not be recorded as unmatched")
	}
}

func TestCatalogPreprocessor_NilSnapshot(t *testing.T) {
	pc, stats := NewCatalogPreprocessor(nil, nil).Prepare(nil, nil)
	if pc == nil || pc.Matcher == nil {
		t.Fatal("Expected an empty prepared catalog")
	}
	if stats.ListAKept != 0 || len(pc.Stock) != 0 {
		t.Errorf("Expected empty tables, got %+v", stats)
	}
}
