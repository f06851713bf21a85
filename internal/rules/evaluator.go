// Package rules classifies invoice line items against reference prices.
//
// Two independent rules apply to each line's unit price. The list-A rule caps
// it at the list price times DiscountFactor, or at the product's active
// special limit when one exists. The list-B rule caps it at the observed
// maximum price times MarkupFactor. Any violation requires a refund, computed
// from the list-B threshold when that rule is violated and from the list-A
// threshold otherwise.
package rules

import (
	"time"

	"invoice-reconciliation-service/internal/models"
	"invoice-reconciliation-service/pkg/logger"

	"github.com/shopspring/decimal"
)

// Input is everything known about one line item once names are resolved.
type Input struct {
	InvoiceNumber string
	Item          *models.LineItem

	// MappingFound is false when the line's product code has no stock mapping.
	MappingFound  bool
	OriginName    string
	CanonicalName string

	MatchA       *models.MatchResult
	MatchB       *models.MatchResult
	ReferenceA   *models.ReferencePriceA
	ReferenceB   *models.ReferencePriceB
	SpecialLimit *models.SpecialLimit

	PreviouslyApproved bool
}

// Evaluator applies the price rules.
type Evaluator struct {
	config *Config
	logger logger.Logger
}

// NewEvaluator creates an evaluator. A nil config uses DefaultConfig.
func NewEvaluator(config *Config, log logger.Logger) *Evaluator {
	if config == nil {
		config = DefaultConfig()
	}
	return &Evaluator{
		config: config,
		logger: logger.OrNop(log).WithComponent("rule_evaluator"),
	}
}

// Evaluate classifies one line item. The returned outcome is finalized: its
// refund is non-negative and zero unless the status is REFUND_REQUIRED.
func (e *Evaluator) Evaluate(in Input) *models.ComparisonOutcome {
	outcome := &models.ComparisonOutcome{
		InvoiceNumber: in.InvoiceNumber,
		LineItem:      in.Item,
		CanonicalName: in.CanonicalName,
		OriginName:    in.OriginName,
		MatchA:        in.MatchA,
		MatchB:        in.MatchB,
		ReferenceA:    in.ReferenceA,
		ReferenceB:    in.ReferenceB,
		SpecialLimit:  in.SpecialLimit,
		RefundAmount:  decimal.Zero,
	}

	if in.PreviouslyApproved {
		outcome.Status = models.StatusCompliant
		outcome.PreviouslyApproved = true
		return outcome.Finalize()
	}

	if !in.MappingFound {
		outcome.Status = models.StatusPendingManualReview
		outcome.Reason = models.ReasonNoMapping
		return outcome.Finalize()
	}

	outcome.ThresholdA, outcome.ThresholdB = e.Thresholds(in.ReferenceA, in.ReferenceB, in.SpecialLimit)

	switch {
	case outcome.ThresholdA == nil && outcome.ThresholdB == nil:
		outcome.Status = models.StatusPendingManualReview
		outcome.Reason = models.ReasonBothMissing
		return outcome.Finalize()
	case outcome.ThresholdA == nil:
		outcome.Reason = models.ReasonNoListA
	case outcome.ThresholdB == nil:
		outcome.Reason = models.ReasonNoListB
	}

	unitPrice := in.Item.UnitPrice
	outcome.ViolatedA = outcome.ThresholdA != nil && unitPrice.GreaterThan(*outcome.ThresholdA)
	outcome.ViolatedB = outcome.ThresholdB != nil && unitPrice.GreaterThan(*outcome.ThresholdB)

	if outcome.ViolatedA || outcome.ViolatedB {
		outcome.Status = models.StatusRefundRequired
		outcome.RefundAmount = e.Refund(in.Item, outcome.ThresholdA, outcome.ThresholdB, outcome.ViolatedA, outcome.ViolatedB)
	} else {
		outcome.Status = models.StatusCompliant
	}
	outcome.PriceDifference = priceDifference(unitPrice, outcome)

	if outcome.Status == models.StatusRefundRequired {
		e.logger.WithFields(logger.Fields{
			"invoice":    in.InvoiceNumber,
			"code":       in.Item.Code,
			"violated_a": outcome.ViolatedA,
			"violated_b": outcome.ViolatedB,
			"refund":     outcome.RefundAmount.StringFixed(2),
		}).Debug("Price rule violated")
	}

	return outcome.Finalize()
}

// Thresholds returns the highest allowed unit prices. An active special limit
// replaces the list-A percentage rule only when list A has a row; a limit is
// not a reference price on its own. A nil threshold means the side has no
// reference.
func (e *Evaluator) Thresholds(refA *models.ReferencePriceA, refB *models.ReferencePriceB, limit *models.SpecialLimit) (*decimal.Decimal, *decimal.Decimal) {
	var thresholdA, thresholdB *decimal.Decimal

	if refA != nil {
		v := refA.ListPrice.Mul(e.config.DiscountFactor)
		if limit != nil && limit.Active {
			v = limit.FixedMaxPrice
		}
		thresholdA = &v
	}

	if refB != nil {
		v := refB.MaxPrice.Mul(e.config.MarkupFactor)
		thresholdB = &v
	}

	return thresholdA, thresholdB
}

// Refund returns the amount to claim back. A list-B violation takes priority
// over a list-A violation. The result is never negative.
func (e *Evaluator) Refund(item *models.LineItem, thresholdA, thresholdB *decimal.Decimal, violatedA, violatedB bool) decimal.Decimal {
	var refund decimal.Decimal
	switch {
	case violatedB && thresholdB != nil:
		refund = item.Total.Sub(thresholdB.Mul(item.Quantity))
	case violatedA && thresholdA != nil:
		refund = item.Total.Sub(thresholdA.Mul(item.Quantity))
	default:
		return decimal.Zero
	}

	if refund.IsNegative() {
		return decimal.Zero
	}
	return refund
}

// priceDifference is the unit price minus the threshold the refund was
// computed from, or minus the tighter threshold when nothing was violated.
func priceDifference(unitPrice decimal.Decimal, o *models.ComparisonOutcome) *decimal.Decimal {
	var applicable *decimal.Decimal
	switch {
	case o.ViolatedB:
		applicable = o.ThresholdB
	case o.ViolatedA:
		applicable = o.ThresholdA
	case o.ThresholdA != nil && o.ThresholdB != nil:
		applicable = o.ThresholdA
		if o.ThresholdB.LessThan(*o.ThresholdA) {
			applicable = o.ThresholdB
		}
	case o.ThresholdA != nil:
		applicable = o.ThresholdA
	default:
		applicable = o.ThresholdB
	}

	if applicable == nil {
		return nil
	}
	diff := unitPrice.Sub(*applicable)
	return &diff
}

// ManualPrices are reference prices a reviewer supplies for a line that
// could not be resolved automatically.
type ManualPrices struct {
	ListAPrice *decimal.Decimal
	ListBPrice *decimal.Decimal
	Limit      *decimal.Decimal
}

// EvaluateManual re-evaluates an adjudicated line with reviewer-supplied
// prices. The line is treated as mapped; sides without a price stay missing.
func (e *Evaluator) EvaluateManual(invoiceNumber string, item *models.LineItem, canonicalName string, prices ManualPrices) *models.ComparisonOutcome {
	in := Input{
		InvoiceNumber: invoiceNumber,
		Item:          item,
		MappingFound:  true,
		CanonicalName: canonicalName,
	}

	now := time.Now()
	if prices.ListAPrice != nil {
		in.ReferenceA = &models.ReferencePriceA{
			ProductName:   canonicalName,
			ListPrice:     *prices.ListAPrice,
			EffectiveDate: now,
		}
	}
	if prices.ListBPrice != nil {
		in.ReferenceB = &models.ReferencePriceB{
			ProductName:  canonicalName,
			MaxPrice:     *prices.ListBPrice,
			ObservedDate: now,
		}
	}
	if prices.Limit != nil {
		in.SpecialLimit = &models.SpecialLimit{
			ProductName:   canonicalName,
			FixedMaxPrice: *prices.Limit,
			Active:        true,
		}
	}

	return e.Evaluate(in)
}
