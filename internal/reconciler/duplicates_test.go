package reconciler

import (
	"strings"
	"testing"
)

func TestDuplicateDetector_Check(t *testing.T) {
	detector := NewDuplicateDetector(map[string]bool{"inv000099": true})

	checks := []struct {
		number      string
		source      string
		duplicate   bool
		previousRun bool
		firstSource string
	}{
		{"INV000123", "a.pdf", false, false, ""},
		{"INV000124", "b.pdf", false, false, ""},
		{" inv000123 ", "c.pdf", true, false, "a.pdf"},
		{"INV000099", "d.pdf", true, true, ""},
		{"INV000123", "e.pdf", true, false, "a.pdf"},
	}

	for _, c := range checks {
		dup, ok := detector.Check(c.number, c.source)
		if ok != c.duplicate {
			t.Errorf("%s from %s: expected duplicate=%v, got %v", c.number, c.source, c.duplicate, ok)
			continue
		}
		if !ok {
			continue
		}
		if dup.PreviousRun != c.previousRun || dup.FirstSource != c.firstSource || dup.Source != c.source {
			t.Errorf("%s from %s: unexpected duplicate %+v", c.number, c.source, dup)
		}
	}
}

func TestDuplicateDetector_Groups(t *testing.T) {
	detector := NewDuplicateDetector(nil)
	detector.Check("INV000124", "b.pdf")
	detector.Check("INV000123", "a.pdf")
	detector.Check("INV000124", "b-copy.pdf")
	detector.Check("INV000125", "c.pdf")
	detector.Check("INV000123", "a-copy.pdf")
	detector.Check("INV000123", "a-copy2.pdf")

	groups := detector.Groups()
	if len(groups) != 2 {
		t.Fatalf("Expected 2 groups, got %d", len(groups))
	}

	if groups[0].GroupID != "DUP_INV000124" || len(groups[0].Sources) != 2 {
		t.Errorf("Unexpected first group %+v", groups[0])
	}
	if groups[1].InvoiceNumber != "INV000123" || strings.Join(groups[1].Sources, ",") != "a.pdf,a-copy.pdf,a-copy2.pdf" {
		t.Errorf("Unexpected second group %+v", groups[1])
	}
}

func TestDuplicateInvoice_Reason(t *testing.T) {
	batch := DuplicateInvoice{InvoiceNumber: "INV000123", Source: "b.pdf", FirstSource: "a.pdf"}
	if !strings.Contains(batch.Reason(), "a.pdf") {
		t.Errorf("Expected the first source in %q", batch.Reason())
	}

	earlier := DuplicateInvoice{InvoiceNumber: "INV000123", Source: "b.pdf", PreviousRun: true}
	if !strings.Contains(earlier.Reason(), "earlier run") {
		t.Errorf("Expected an earlier-run reason, got %q", earlier.Reason())
	}
}
