package reconciler

import (
	"strings"

	"invoice-reconciliation-service/internal/matcher"
	"invoice-reconciliation-service/internal/models"
	"invoice-reconciliation-service/internal/normalizer"
	"invoice-reconciliation-service/pkg/logger"
)

// ResolvedReferenceA is a list-A row together with how its name was matched.
type ResolvedReferenceA struct {
	Price models.ReferencePriceA
	Match models.MatchResult
}

// ResolvedReferenceB is a list-B row together with how its name was matched.
type ResolvedReferenceB struct {
	Price models.ReferencePriceB
	Match models.MatchResult
}

// PreparedCatalog is the reference data of one run, keyed for line lookups.
// It is read-only once built; the matcher inside it carries the run's
// normalization memo and unmatched accumulator.
type PreparedCatalog struct {
	ListA    map[string]*ResolvedReferenceA
	ListB    map[string]*ResolvedReferenceB
	Limits   map[string]*models.SpecialLimit
	Stock    map[string]models.StockMapping
	Approved map[string]bool

	Matcher    *matcher.ProductMatcher
	Normalizer *normalizer.Normalizer
}

// IsApproved reports whether the invoice line was adjudicated before.
func (pc *PreparedCatalog) IsApproved(invoiceNumber, productCode string) bool {
	return pc.Approved[models.ApprovalKey(invoiceNumber, productCode)]
}

// StockMapping returns the mapping row of a supplier product code.
func (pc *PreparedCatalog) StockMapping(code string) (models.StockMapping, bool) {
	m, ok := pc.Stock[strings.TrimSpace(code)]
	return m, ok
}

// PreprocessStats counts what was kept from the raw snapshot
type PreprocessStats struct {
	ListARows     int `json:"list_a_rows"`
	ListAKept     int `json:"list_a_kept"`
	ListBRows     int `json:"list_b_rows"`
	ListBKept     int `json:"list_b_kept"`
	InvalidRows   int `json:"invalid_rows"`
	ActiveLimits  int `json:"active_limits"`
	StockMappings int `json:"stock_mappings"`
	Mappings      int `json:"mappings"`
	Approvals     int `json:"approvals"`
}

// CatalogPreprocessor turns a raw catalog snapshot into a PreparedCatalog.
type CatalogPreprocessor struct {
	matchingConfig *matcher.MatchingConfig
	logger         logger.Logger
}

// NewCatalogPreprocessor creates a preprocessor. A nil matching config uses
// matcher.DefaultMatchingConfig.
func NewCatalogPreprocessor(matchingConfig *matcher.MatchingConfig, log logger.Logger) *CatalogPreprocessor {
	if matchingConfig == nil {
		matchingConfig = matcher.DefaultMatchingConfig()
	}
	return &CatalogPreprocessor{
		matchingConfig: matchingConfig,
		logger:         logger.OrNop(log).WithComponent("catalog_preprocessor"),
	}
}

// Prepare builds a fresh matcher from the mapping rows, keeps the most recent
// reference row per product name and keys every table by canonical product.
// extraApprovals are merged with the snapshot's approvals.
func (cp *CatalogPreprocessor) Prepare(snapshot *models.CatalogSnapshot, extraApprovals map[string]bool) (*PreparedCatalog, PreprocessStats) {
	if snapshot == nil {
		snapshot = &models.CatalogSnapshot{}
	}

	norm := normalizer.New()
	pm := matcher.NewProductMatcher(cp.matchingConfig.Clone(), norm, cp.logger)
	pm.LoadMappings(snapshot.Mappings)

	pc := &PreparedCatalog{
		ListA:      make(map[string]*ResolvedReferenceA),
		ListB:      make(map[string]*ResolvedReferenceB),
		Limits:     make(map[string]*models.SpecialLimit),
		Stock:      make(map[string]models.StockMapping),
		Approved:   make(map[string]bool),
		Matcher:    pm,
		Normalizer: norm,
	}
	stats := PreprocessStats{
		ListARows: len(snapshot.ListA),
		ListBRows: len(snapshot.ListB),
		Mappings:  len(snapshot.Mappings),
	}

	latestA, invalidA := latestListA(snapshot.ListA)
	for _, row := range latestA {
		match := pm.FindMatchWithConfidence(row.ProductName, models.SystemListA)
		key := canonicalKey(norm, match, row.ProductName)
		if existing, ok := pc.ListA[key]; ok && !row.EffectiveDate.After(existing.Price.EffectiveDate) {
			continue
		}
		pc.ListA[key] = &ResolvedReferenceA{Price: row, Match: match}
	}

	latestB, invalidB := latestListB(snapshot.ListB)
	for _, row := range latestB {
		match := pm.FindMatchWithConfidence(row.ProductName, models.SystemListB)
		key := canonicalKey(norm, match, row.ProductName)
		if existing, ok := pc.ListB[key]; ok && !row.ObservedDate.After(existing.Price.ObservedDate) {
			continue
		}
		pc.ListB[key] = &ResolvedReferenceB{Price: row, Match: match}
	}
	stats.ListAKept = len(pc.ListA)
	stats.ListBKept = len(pc.ListB)
	stats.InvalidRows = invalidA + invalidB

	for i := range snapshot.SpecialLimits {
		limit := snapshot.SpecialLimits[i]
		if !limit.Active || !limit.FixedMaxPrice.IsPositive() {
			continue
		}
		key := norm.Normalize(limit.ProductName)
		if key == "" {
			continue
		}
		pc.Limits[key] = &limit
	}
	stats.ActiveLimits = len(pc.Limits)

	for _, m := range snapshot.StockMappings {
		code := strings.TrimSpace(m.SupplierCode)
		if code == "" || strings.TrimSpace(m.OriginName) == "" {
			continue
		}
		if _, ok := pc.Stock[code]; ok {
			cp.logger.WithField("code", code).Warn("Duplicate stock mapping, keeping the first row")
			continue
		}
		pc.Stock[code] = m
	}
	stats.StockMappings = len(pc.Stock)

	for _, a := range snapshot.Approvals {
		pc.Approved[a.Key()] = true
	}
	for key, ok := range extraApprovals {
		if ok {
			pc.Approved[key] = true
		}
	}
	stats.Approvals = len(pc.Approved)

	cp.logger.WithFields(logger.Fields{
		"list_a":         stats.ListAKept,
		"list_b":         stats.ListBKept,
		"invalid_rows":   stats.InvalidRows,
		"active_limits":  stats.ActiveLimits,
		"stock_mappings": stats.StockMappings,
		"approvals":      stats.Approvals,
	}).Info("Catalog prepared")

	return pc, stats
}

// canonicalKey returns the matched key or, without a match, the normalized name.
func canonicalKey(norm *normalizer.Normalizer, match models.MatchResult, name string) string {
	if match.Matched() {
		return match.CanonicalKey
	}
	return norm.Normalize(name)
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// latestListA keeps the most recent row per distinct product name, in first-seen
// order. Rows without a name or a positive price are dropped and counted.
func latestListA(rows []models.ReferencePriceA) ([]models.ReferencePriceA, int) {
	index := make(map[string]int)
	var kept []models.ReferencePriceA
	invalid := 0

	for _, row := range rows {
		key := nameKey(row.ProductName)
		if key == "" || !row.ListPrice.IsPositive() {
			invalid++
			continue
		}
		if i, ok := index[key]; ok {
			if row.EffectiveDate.After(kept[i].EffectiveDate) {
				kept[i] = row
			}
			continue
		}
		index[key] = len(kept)
		kept = append(kept, row)
	}
	return kept, invalid
}

// latestListB is latestListA for list-B rows.
func latestListB(rows []models.ReferencePriceB) ([]models.ReferencePriceB, int) {
	index := make(map[string]int)
	var kept []models.ReferencePriceB
	invalid := 0

	for _, row := range rows {
		key := nameKey(row.ProductName)
		if key == "" || !row.MaxPrice.IsPositive() {
			invalid++
			continue
		}
		if i, ok := index[key]; ok {
			if row.ObservedDate.After(kept[i].ObservedDate) {
				kept[i] = row
			}
			continue
		}
		index[key] = len(kept)
		kept = append(kept, row)
	}
	return kept, invalid
}
