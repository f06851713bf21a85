package normalizer

import (
	"sync"
	"testing"
)

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Domates", "domates"},
		{"  DOMATES SALKIM  ", "domates_salkim"},
		{"Domates Salkım (ERUST)", "domates_salkim"},
		{"BİBER ÇARLİSTON", "biber_carliston"},
		{"BIBER KIL", "biber_kil"},
		{"Taze Ispanak 1 KG", "ispanak_1"},
		{"Organik Mantar, Kültür - 500 gr", "mantar_kultur_500"},
		{"Şeftali Üzüm Göz", "seftali_uzum_goz"},
		{"Crème brûlée", "creme_brulee"},
		{"kg", ""},
		{"", ""},
		{"marul_aysberg", "marul_aysberg"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := Canonicalize(tt.input); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"Domates Salkım (ERUST)",
		"TAZE   ROKA / DEMET",
		"Patates (Yemeklik) 25 KG",
		"a _ b",
		"kg_",
		"İSPANAK!!",
		"Kabak % 10 KDV",
		"  ",
		"Brokoli   Premium Kalite",
		"ÇİĞ KÖFTE-ACILI",
	}

	n := New()
	for _, s := range inputs {
		once := n.Normalize(s)
		twice := n.Normalize(once)
		if once != twice {
			t.Errorf("not idempotent for %q: %q then %q", s, once, twice)
		}
	}
}

func TestNormalizeMemoizes(t *testing.T) {
	n := New()
	first := n.Normalize("Domates Salkım")
	second := n.Normalize("Domates Salkım")

	if first != second {
		t.Errorf("expected memoized value %q, got %q", first, second)
	}
	if n.Len() != 1 {
		t.Errorf("expected 1 memo entry, got %d", n.Len())
	}
}

func TestNormalizeConcurrent(t *testing.T) {
	n := New()
	names := []string{"Domates", "Biber Sivri", "Patates", "Marul Göbek"}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, name := range names {
				if n.Normalize(name) != Canonicalize(name) {
					t.Errorf("memoized value differs for %q", name)
				}
			}
		}()
	}
	wg.Wait()

	if n.Len() != len(names) {
		t.Errorf("expected %d memo entries, got %d", len(names), n.Len())
	}
}
