package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestNewLineItem(t *testing.T) {
	tests := []struct {
		name        string
		code        string
		itemName    string
		qty         string
		unitPrice   string
		total       string
		expectError bool
		expectTotal string
	}{
		{"total given", "153.01.0042", "DOMATES SALKIM", "10", "45.50", "455", false, "455"},
		{"total derived", "153.01.0042", "DOMATES SALKIM", "4", "12.5", "0", false, "50"},
		{"empty code", "", "DOMATES", "1", "10", "10", true, ""},
		{"empty name", "153.01.0042", "  ", "1", "10", "10", true, ""},
		{"zero price", "153.01.0042", "DOMATES", "1", "0", "0", true, ""},
		{"negative quantity", "153.01.0042", "DOMATES", "-2", "10", "0", true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item, err := NewLineItem(tt.code, tt.itemName,
				decimal.RequireFromString(tt.qty), "KG",
				decimal.RequireFromString(tt.unitPrice),
				decimal.RequireFromString(tt.total), 3, 1)

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error, got item %v", item)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !item.Total.Equal(decimal.RequireFromString(tt.expectTotal)) {
				t.Errorf("expected total %s, got %s", tt.expectTotal, item.Total)
			}
		})
	}
}

func TestLineItemMarshalJSON(t *testing.T) {
	item, err := NewLineItem("153.01.0042", "DOMATES", decimal.NewFromInt(10), "KG",
		decimal.RequireFromString("45.5"), decimal.RequireFromString("455"), 1, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := json.Marshal(item)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded["unit_price"] != "45.50" {
		t.Errorf("expected unit_price 45.50, got %v", decoded["unit_price"])
	}
	if decoded["total"] != "455.00" {
		t.Errorf("expected total 455.00, got %v", decoded["total"])
	}
}

func TestMappingRowAliasEntries(t *testing.T) {
	row := MappingRow{
		CanonicalKey:   "domates_salkim",
		OriginName:     "DOMATES SALKIM",
		ListAName:      "Domates Salkım",
		AlternateNames: []string{"SALKIM DOMATES", ""},
	}

	entries := row.AliasEntries()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[2].System != SystemAlternate {
		t.Errorf("expected alternate system last, got %s", entries[2].System)
	}
	for _, e := range entries {
		if e.CanonicalKey != "domates_salkim" {
			t.Errorf("expected canonical key domates_salkim, got %s", e.CanonicalKey)
		}
	}

	if got := (MappingRow{OriginName: "X"}).AliasEntries(); got != nil {
		t.Errorf("expected no entries without a canonical key, got %v", got)
	}
}

func TestApprovalKey(t *testing.T) {
	a := Approval{InvoiceNumber: " ABC2024000123 ", ProductCode: "153.01.0042"}
	if a.Key() != "ABC2024000123-153.01.0042" {
		t.Errorf("unexpected key %q", a.Key())
	}
}

func TestParseDecimalFromString(t *testing.T) {
	tests := []struct {
		input       string
		expected    string
		expectError bool
	}{
		{"1.234,56", "1234.56", false},
		{"45,50 TL", "45.5", false},
		{"1234.56", "1234.56", false},
		{"1.234.567", "1234567", false},
		{"12 ₺", "12", false},
		{"", "", true},
		{"abc", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDecimalFromString(tt.input)
			if tt.expectError {
				if err == nil {
					t.Errorf("expected error for %q, got %s", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(decimal.RequireFromString(tt.expected)) {
				t.Errorf("expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestParseTimeWithFormats(t *testing.T) {
	for _, input := range []string{"2024-02-01", "01.02.2024", "01/02/2024", "01-02-2024"} {
		got, err := ParseTimeWithFormats(input)
		if err != nil {
			t.Errorf("unexpected error for %q: %v", input, err)
			continue
		}
		if got.Year() != 2024 || got.Month() != time.February || got.Day() != 1 {
			t.Errorf("expected 2024-02-01 for %q, got %s", input, got)
		}
	}
	if _, err := ParseTimeWithFormats("yesterday"); err == nil {
		t.Error("expected error for unparseable date")
	}
}

func TestNewMatchResult(t *testing.T) {
	suggestions := make([]Candidate, 8)
	for i := range suggestions {
		suggestions[i] = Candidate{CanonicalKey: "k", Confidence: 1.4}
	}

	result := NewMatchResult("domates", 1.2, StrategyExact, suggestions)
	if result.Confidence != 1 {
		t.Errorf("expected clamped confidence 1, got %f", result.Confidence)
	}
	if len(result.Suggestions) != MaxSuggestions {
		t.Errorf("expected %d suggestions, got %d", MaxSuggestions, len(result.Suggestions))
	}
	if result.Suggestions[0].Confidence != 1 {
		t.Errorf("expected clamped suggestion confidence, got %f", result.Suggestions[0].Confidence)
	}
	if !result.Matched() {
		t.Error("expected matched result")
	}

	none := NewMatchResult("", -0.3, StrategyNoMatch, nil)
	if none.Matched() || none.Confidence != 0 {
		t.Errorf("expected unmatched zero-confidence result, got %+v", none)
	}
}

func TestComparisonOutcomeFinalize(t *testing.T) {
	item := &LineItem{Code: "153.01.0042", Name: "DOMATES", Quantity: decimal.NewFromInt(1),
		UnitPrice: decimal.NewFromInt(10), Total: decimal.NewFromInt(10)}

	tests := []struct {
		name     string
		status   Status
		refund   string
		expected string
	}{
		{"refund kept", StatusRefundRequired, "12.5", "12.5"},
		{"negative refund clamped", StatusRefundRequired, "-3", "0"},
		{"compliant zeroed", StatusCompliant, "5", "0"},
		{"pending zeroed", StatusPendingManualReview, "5", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := (&ComparisonOutcome{LineItem: item, Status: tt.status,
				RefundAmount: decimal.RequireFromString(tt.refund)}).Finalize()
			if !o.RefundAmount.Equal(decimal.RequireFromString(tt.expected)) {
				t.Errorf("expected refund %s, got %s", tt.expected, o.RefundAmount)
			}
			if err := o.Validate(); err != nil {
				t.Errorf("expected valid outcome, got %v", err)
			}
		})
	}

	bad := &ComparisonOutcome{LineItem: item, Status: StatusCompliant, RefundAmount: decimal.NewFromInt(1)}
	if err := bad.Validate(); err == nil {
		t.Error("expected validation error for refund on compliant outcome")
	}
}

func TestComparisonOutcomeMarshalJSON(t *testing.T) {
	thA := decimal.RequireFromString("8")
	o := (&ComparisonOutcome{
		InvoiceNumber: "ABC2024000123",
		LineItem: &LineItem{Code: "153.01.0042", Name: "DOMATES", Quantity: decimal.NewFromInt(10),
			UnitPrice: decimal.RequireFromString("9"), Total: decimal.RequireFromString("90")},
		CanonicalName: "domates",
		ReferenceA:    &ReferencePriceA{ProductName: "Domates", ListPrice: decimal.NewFromInt(25)},
		ThresholdA:    &thA,
		ViolatedA:     true,
		RefundAmount:  decimal.RequireFromString("10"),
		Status:        StatusRefundRequired,
	}).Finalize()

	data, err := json.Marshal(o)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	text := string(data)
	for _, want := range []string{`"productCode":"153.01.0042"`, `"matchedA":"Domates"`,
		`"thresholdA":"8.00"`, `"refundAmount":"10.00"`, `"status":"REFUND_REQUIRED"`} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %s in %s", want, text)
		}
	}
	if strings.Contains(text, "matchedB") {
		t.Errorf("expected matchedB to be omitted, got %s", text)
	}
}
