package matcher

import (
	"fmt"
	"math"
	"reflect"
	"testing"

	"invoice-reconciliation-service/internal/models"
)

func createTestKeys() []string {
	return []string{"patates", "domates_salkim", "biber_kil", "domates_cherry", "patates"}
}

func bucketingConfig(fullScanLimit, maxCandidates int) *MatchingConfig {
	config := DefaultMatchingConfig()
	config.BucketCandidates = true
	config.FullScanLimit = fullScanLimit
	config.MaxCandidates = maxCandidates
	return config
}

func TestNewCandidateIndex(t *testing.T) {
	index := NewCandidateIndex(createTestKeys(), map[string]string{"patates": "PATATES"}, 3)

	expected := []string{"biber_kil", "domates_cherry", "domates_salkim", "patates"}
	if !reflect.DeepEqual(index.AllKeys, expected) {
		t.Errorf("Expected sorted unique keys %v, got %v", expected, index.AllKeys)
	}
	if len(index.WordIndex["domates"]) != 2 {
		t.Errorf("Expected 2 keys under 'domates', got %d", len(index.WordIndex["domates"]))
	}
	if index.DisplayName("patates") != "PATATES" {
		t.Errorf("Expected display name PATATES, got %s", index.DisplayName("patates"))
	}
	if index.DisplayName("biber_kil") != "biber_kil" {
		t.Errorf("Expected key as display fallback, got %s", index.DisplayName("biber_kil"))
	}
}

func TestCandidateIndex_GetCandidates(t *testing.T) {
	index := NewCandidateIndex(createTestKeys(), nil, 3)

	tests := []struct {
		name       string
		normalized string
		config     *MatchingConfig
		expected   []string
	}{
		{"small catalog scans all", "domates_pembe", bucketingConfig(10, 10), index.AllKeys},
		{"bucketing disabled", "domates_pembe", func() *MatchingConfig {
			c := bucketingConfig(1, 10)
			c.BucketCandidates = false
			return c
		}(), index.AllKeys},
		{"shared word", "domates_pembe", bucketingConfig(1, 10), []string{"domates_cherry", "domates_salkim"}},
		{"shared prefix", "patlican", bucketingConfig(1, 10), []string{"patates"}},
		{"capped", "domates_pembe", bucketingConfig(1, 1), []string{"domates_cherry"}},
		{"no overlap", "ispanak", bucketingConfig(1, 10), []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := index.GetCandidates(tt.normalized, tt.config)
			if len(got) != len(tt.expected) {
				t.Fatalf("Expected %v, got %v", tt.expected, got)
			}
			for i := range got {
				if got[i] != tt.expected[i] {
					t.Errorf("Expected %v, got %v", tt.expected, got)
					break
				}
			}
		})
	}
}

func TestCandidateIndex_GetIndexStats(t *testing.T) {
	stats := NewCandidateIndex(createTestKeys(), nil, 3).GetIndexStats()

	if stats.TotalKeys != 4 {
		t.Errorf("Expected 4 keys, got %d", stats.TotalKeys)
	}
	// biber, cherry, domates, patates, salkim; "kil" has length 3 and counts too
	if stats.UniqueWords != 6 {
		t.Errorf("Expected 6 unique words, got %d", stats.UniqueWords)
	}
	if stats.LargestBucket != 2 {
		t.Errorf("Expected largest bucket of 2, got %d", stats.LargestBucket)
	}
}

func TestProductMatcher_BucketedLookup(t *testing.T) {
	pm := newTestMatcher(bucketingConfig(1, 10))

	result := pm.FindMatchWithConfidence("Patates Taze", models.SystemListA)
	if result.CanonicalKey != "patates" || result.Strategy != models.StrategyNormalizedExact {
		t.Errorf("Expected normalized match on patates through the bucket, got %+v", result)
	}
}

func TestCandidateIndex_GetCandidates_WordHitsBeforePrefixHits(t *testing.T) {
	index := NewCandidateIndex([]string{"pat_a", "pat_b", "patates"}, nil, 3)

	got := index.GetCandidates("patates", bucketingConfig(1, 1))
	if len(got) != 1 || got[0] != "patates" {
		t.Errorf("Expected the exact key to survive the cap, got %v", got)
	}

	got = index.GetCandidates("patates_taze", bucketingConfig(1, 2))
	if len(got) != 2 || got[0] != "patates" || got[1] != "pat_a" {
		t.Errorf("Expected the shared-word key ahead of prefix-only keys, got %v", got)
	}
}

func TestProductMatcher_BucketedLookup_LargeCatalog(t *testing.T) {
	rows := make([]models.MappingRow, 0, 2101)
	for i := 0; i < 2100; i++ {
		rows = append(rows, models.MappingRow{CanonicalKey: fmt.Sprintf("doma_%04d", i)})
	}
	rows = append(rows, models.MappingRow{CanonicalKey: "domates", OriginName: "DOMATES SALKIM KG"})

	pm := NewProductMatcher(nil, nil, nil)
	pm.LoadMappings(rows)

	result := pm.FindMatchWithConfidence("Domates", models.SystemOrigin)
	if result.CanonicalKey != "domates" || result.Strategy != models.StrategyNormalizedExact {
		t.Errorf("Expected normalized match on domates past the prefix bucket, got %+v", result)
	}
	if unmatched := pm.Unmatched(); len(unmatched) != 0 {
		t.Errorf("Expected nothing recorded as unmatched, got %v", unmatched)
	}
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		a, b     string
		expected float64
	}{
		{"kitten", "sitting", 4.0 / 7.0},
		{"domates", "domates", 1},
		{"", "", 1},
		{"a", "", 0},
		{"çarliston", "carliston", 8.0 / 9.0},
		{"abc", "xyz", 0},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", tt.a, tt.b), func(t *testing.T) {
			got := Similarity(tt.a, tt.b)
			if math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("Expected %f, got %f", tt.expected, got)
			}
			if reverse := Similarity(tt.b, tt.a); reverse != got {
				t.Errorf("Expected symmetric score, got %f and %f", got, reverse)
			}
		})
	}
}

func TestSimilarity_Bounds(t *testing.T) {
	words := []string{"", "a", "domates", "domates_salkim", "biber_kil", "ıspanak", "ğğğ"}
	for _, a := range words {
		for _, b := range words {
			score := Similarity(a, b)
			if score < 0 || score > 1 {
				t.Errorf("Similarity(%q, %q) out of bounds: %f", a, b, score)
			}
			if score != Similarity(b, a) {
				t.Errorf("Similarity(%q, %q) not symmetric", a, b)
			}
		}
	}
}

func TestSubstringScore(t *testing.T) {
	tests := []struct {
		a, b     string
		expected float64
	}{
		{"biber", "biber_carliston", 5.0 / 15.0},
		{"biber_carliston", "biber", 5.0 / 15.0},
		{"abcd", "xbcy", 0.5},
		{"domates", "domates", 1},
		{"", "domates", 0},
		{"abc", "xyz", 0},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", tt.a, tt.b), func(t *testing.T) {
			if got := SubstringScore(tt.a, tt.b); math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("Expected %f, got %f", tt.expected, got)
			}
		})
	}
}

func TestWordScore(t *testing.T) {
	tests := []struct {
		name     string
		a, b     string
		expected float64
	}{
		{"two of three words", "domates_salkim_kirmizi", "salkim_domates", 2.0 / 3.0},
		{"containment counts", "domatesler", "domates", 1},
		{"short words ignored", "kg_biber", "biber", 1},
		{"no words", "a_b", "biber", 0},
		{"disjoint", "ispanak", "biber", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WordScore(tt.a, tt.b, 3); math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("Expected %f, got %f", tt.expected, got)
			}
		})
	}
}

func BenchmarkProductMatcher_FindMatchWithConfidence(b *testing.B) {
	rows := make([]models.MappingRow, 0, 3000)
	for i := 0; i < 3000; i++ {
		rows = append(rows, models.MappingRow{
			CanonicalKey: fmt.Sprintf("urun_%d_domates", i),
			OriginName:   fmt.Sprintf("URUN %d DOMATES", i),
		})
	}
	pm := NewProductMatcher(nil, nil, nil)
	pm.LoadMappings(rows)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pm.FindMatchWithConfidence("Domates Salkım Kırmızı", models.SystemListA)
	}
}
