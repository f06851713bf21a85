package reconciler

import (
	"sort"

	"invoice-reconciliation-service/internal/models"
	"invoice-reconciliation-service/internal/rules"
	"invoice-reconciliation-service/pkg/errors"
	"invoice-reconciliation-service/pkg/logger"
)

// evaluateLine resolves one item's product and applies the price rules.
//
// The supplier code is looked up in the stock mapping to get the origin
// system's item name, which the matcher resolves to a canonical key. Without
// a match the normalized origin name stands in as the key, so reference rows
// that normalize to the same string still meet it.
func (o *Orchestrator) evaluateLine(invoiceNumber string, item *models.LineItem, catalog *PreparedCatalog) *models.ComparisonOutcome {
	in := rules.Input{
		InvoiceNumber:      invoiceNumber,
		Item:               item,
		PreviouslyApproved: catalog.IsApproved(invoiceNumber, item.Code),
	}

	stock, ok := catalog.StockMapping(item.Code)
	if !ok || in.PreviouslyApproved {
		if !ok && !in.PreviouslyApproved {
			o.logger.WithFields(logger.Fields{
				"invoice": invoiceNumber,
				"code":    item.Code,
			}).Debug("No stock mapping for product code")
		}
		return o.evaluator.Evaluate(in)
	}

	in.MappingFound = true
	in.OriginName = stock.OriginName

	match := catalog.Matcher.FindMatchWithConfidence(stock.OriginName, models.SystemOrigin)
	in.CanonicalName = canonicalKey(catalog.Normalizer, match, stock.OriginName)

	if ref, ok := catalog.ListA[in.CanonicalName]; ok {
		price := ref.Price
		matchA := ref.Match
		in.ReferenceA = &price
		in.MatchA = &matchA
	}
	if ref, ok := catalog.ListB[in.CanonicalName]; ok {
		price := ref.Price
		matchB := ref.Match
		in.ReferenceB = &price
		in.MatchB = &matchB
	}
	if limit, ok := catalog.Limits[in.CanonicalName]; ok {
		in.SpecialLimit = limit
	}

	return o.evaluator.Evaluate(in)
}

// asReconcilerError keeps categorized errors and wraps anything else.
func asReconcilerError(err error) *errors.ReconcilerError {
	return errors.WrapIfNeeded(err, errors.CategoryInternal, errors.CodeUnexpectedError, "invoice processing failed")
}

// sortFailures orders failures by the position of their document in docs.
func sortFailures(failures []InvoiceFailure, docs []models.InvoiceDocument) {
	position := make(map[string]int, len(docs))
	for i, doc := range docs {
		if _, ok := position[doc.Source]; !ok {
			position[doc.Source] = i
		}
	}
	sort.SliceStable(failures, func(i, j int) bool {
		return position[failures[i].Source] < position[failures[j].Source]
	})
}
