package models

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// MaxSuggestions caps the alternatives carried on a MatchResult.
const MaxSuggestions = 5

// MatchStrategy names how a product name was resolved.
type MatchStrategy string

const (
	StrategyExact           MatchStrategy = "exact"
	StrategyAlias           MatchStrategy = "alias"
	StrategyNormalizedExact MatchStrategy = "normalized_exact"
	StrategySubstring       MatchStrategy = "substring"
	StrategyWordOverlap     MatchStrategy = "word_overlap"
	StrategyEditDistance    MatchStrategy = "edit_distance"
	StrategyLowConfidence   MatchStrategy = "low_confidence"
	StrategyNoMatch         MatchStrategy = "no_match"
)

// Candidate is one scored canonical key. Name is the display name a reviewer
// recognises, taken from the mapping row.
type Candidate struct {
	CanonicalKey string        `json:"canonical_key"`
	Name         string        `json:"name,omitempty"`
	Confidence   float64       `json:"confidence"`
	Strategy     MatchStrategy `json:"strategy"`
}

// MatchResult is the answer to "which canonical product is this name?".
// An empty CanonicalKey means no match.
type MatchResult struct {
	CanonicalKey string        `json:"canonical_key,omitempty"`
	Confidence   float64       `json:"confidence"`
	Strategy     MatchStrategy `json:"strategy"`
	Suggestions  []Candidate   `json:"suggestions,omitempty"`
}

// NewMatchResult clamps confidence into [0,1] and keeps at most MaxSuggestions.
func NewMatchResult(key string, confidence float64, strategy MatchStrategy, suggestions []Candidate) MatchResult {
	if len(suggestions) > MaxSuggestions {
		suggestions = suggestions[:MaxSuggestions]
	}
	for i := range suggestions {
		suggestions[i].Confidence = clampUnit(suggestions[i].Confidence)
	}
	return MatchResult{
		CanonicalKey: key,
		Confidence:   clampUnit(confidence),
		Strategy:     strategy,
		Suggestions:  suggestions,
	}
}

// Matched reports whether a canonical key was resolved.
func (m MatchResult) Matched() bool {
	return m.CanonicalKey != ""
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Status is the classification of one invoice line.
type Status string

const (
	StatusCompliant           Status = "COMPLIANT"
	StatusRefundRequired      Status = "REFUND_REQUIRED"
	StatusPendingManualReview Status = "PENDING_MANUAL_REVIEW"
	// StatusWarning is kept for compatibility with stored results; the rule
	// evaluator never produces it.
	StatusWarning Status = "WARNING"
)

// IsValid checks if the status is a known value
func (s Status) IsValid() bool {
	switch s {
	case StatusCompliant, StatusRefundRequired, StatusPendingManualReview, StatusWarning:
		return true
	default:
		return false
	}
}

// NeedsAttention reports whether a human has to look at the line.
func (s Status) NeedsAttention() bool {
	return s == StatusPendingManualReview
}

// ReviewReason explains a missing reference.
type ReviewReason string

const (
	ReasonNone        ReviewReason = ""
	ReasonNoMapping   ReviewReason = "no_mapping"
	ReasonNoListA     ReviewReason = "no_list_a"
	ReasonNoListB     ReviewReason = "no_list_b"
	ReasonBothMissing ReviewReason = "both_missing"
)

// ComparisonOutcome is the classified result for one invoice line item.
type ComparisonOutcome struct {
	InvoiceNumber      string           `json:"invoice_number"`
	LineItem           *LineItem        `json:"-"`
	CanonicalName      string           `json:"canonical_name"`
	OriginName         string           `json:"origin_name,omitempty"`
	MatchA             *MatchResult     `json:"-"`
	MatchB             *MatchResult     `json:"-"`
	ReferenceA         *ReferencePriceA `json:"-"`
	ReferenceB         *ReferencePriceB `json:"-"`
	SpecialLimit       *SpecialLimit    `json:"-"`
	ThresholdA         *decimal.Decimal `json:"-"`
	ThresholdB         *decimal.Decimal `json:"-"`
	ViolatedA          bool             `json:"violated_a"`
	ViolatedB          bool             `json:"violated_b"`
	RefundAmount       decimal.Decimal  `json:"-"`
	PriceDifference    *decimal.Decimal `json:"-"`
	Status             Status           `json:"status"`
	Reason             ReviewReason     `json:"reason,omitempty"`
	PreviouslyApproved bool             `json:"previously_approved"`
}

// Finalize enforces the outcome invariants: refund is never negative and is
// zero unless the status is REFUND_REQUIRED.
func (o *ComparisonOutcome) Finalize() *ComparisonOutcome {
	if o.Status != StatusRefundRequired || o.RefundAmount.IsNegative() {
		o.RefundAmount = decimal.Zero
	}
	return o
}

// Validate checks the invariants Finalize establishes.
func (o *ComparisonOutcome) Validate() error {
	if o.LineItem == nil {
		return fmt.Errorf("outcome has no line item")
	}
	if !o.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", o.Status)
	}
	if o.RefundAmount.IsNegative() {
		return fmt.Errorf("refund amount cannot be negative: %s", o.RefundAmount)
	}
	if o.Status != StatusRefundRequired && !o.RefundAmount.IsZero() {
		return fmt.Errorf("refund amount must be zero for status %s", o.Status)
	}
	return nil
}

// MatchedNameA returns the list-A product name the line resolved to, if any.
func (o *ComparisonOutcome) MatchedNameA() string {
	if o.ReferenceA == nil {
		return ""
	}
	return o.ReferenceA.ProductName
}

// MatchedNameB returns the list-B product name the line resolved to, if any.
func (o *ComparisonOutcome) MatchedNameB() string {
	if o.ReferenceB == nil {
		return ""
	}
	return o.ReferenceB.ProductName
}

// MarshalJSON flattens the outcome into the serialized record shape.
func (o *ComparisonOutcome) MarshalJSON() ([]byte, error) {
	type Alias ComparisonOutcome
	var item LineItem
	if o.LineItem != nil {
		item = *o.LineItem
	}
	return json.Marshal(&struct {
		ProductCode     string  `json:"productCode"`
		ProductName     string  `json:"productName"`
		UnitPrice       string  `json:"unitPrice"`
		Quantity        string  `json:"quantity"`
		Total           string  `json:"total"`
		MatchedA        *string `json:"matchedA,omitempty"`
		MatchedB        *string `json:"matchedB,omitempty"`
		ThresholdA      *string `json:"thresholdA,omitempty"`
		ThresholdB      *string `json:"thresholdB,omitempty"`
		RefundAmount    string  `json:"refundAmount"`
		PriceDifference *string `json:"priceDifference,omitempty"`
		*Alias
	}{
		ProductCode:     item.Code,
		ProductName:     item.Name,
		UnitPrice:       item.UnitPrice.StringFixed(2),
		Quantity:        item.Quantity.String(),
		Total:           item.Total.StringFixed(2),
		MatchedA:        optionalString(o.MatchedNameA()),
		MatchedB:        optionalString(o.MatchedNameB()),
		ThresholdA:      optionalAmount(o.ThresholdA),
		ThresholdB:      optionalAmount(o.ThresholdB),
		RefundAmount:    o.RefundAmount.StringFixed(2),
		PriceDifference: optionalAmount(o.PriceDifference),
		Alias:           (*Alias)(o),
	})
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optionalAmount(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.StringFixed(2)
	return &s
}
