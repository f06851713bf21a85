package reporter

import (
	"invoice-reconciliation-service/internal/models"
	"invoice-reconciliation-service/internal/reconciler"

	"github.com/shopspring/decimal"
)

// OutcomeRow is the flat, printable view of one comparison outcome shared by
// the JSON, CSV and XLSX reports. Amounts are fixed to two decimals and left
// empty when the outcome has no value for them.
type OutcomeRow struct {
	InvoiceNumber      string `json:"invoice_number"`
	ProductCode        string `json:"product_code"`
	ProductName        string `json:"product_name"`
	OriginName         string `json:"origin_name,omitempty"`
	CanonicalName      string `json:"canonical_name,omitempty"`
	Quantity           string `json:"quantity"`
	Unit               string `json:"unit,omitempty"`
	UnitPrice          string `json:"unit_price"`
	Total              string `json:"total"`
	ListAName          string `json:"list_a_name,omitempty"`
	ListAPrice         string `json:"list_a_price,omitempty"`
	ListAConfidence    string `json:"list_a_confidence,omitempty"`
	ThresholdA         string `json:"threshold_a,omitempty"`
	ListBName          string `json:"list_b_name,omitempty"`
	ListBPrice         string `json:"list_b_price,omitempty"`
	ListBConfidence    string `json:"list_b_confidence,omitempty"`
	ThresholdB         string `json:"threshold_b,omitempty"`
	SpecialLimit       string `json:"special_limit,omitempty"`
	ViolatedA          bool   `json:"violated_a"`
	ViolatedB          bool   `json:"violated_b"`
	PriceDifference    string `json:"price_difference,omitempty"`
	RefundAmount       string `json:"refund_amount"`
	Status             string `json:"status"`
	Reason             string `json:"reason,omitempty"`
	PreviouslyApproved bool   `json:"previously_approved"`
}

// NewOutcomeRow flattens an outcome.
func NewOutcomeRow(o *models.ComparisonOutcome) OutcomeRow {
	row := OutcomeRow{
		InvoiceNumber:      o.InvoiceNumber,
		OriginName:         o.OriginName,
		CanonicalName:      o.CanonicalName,
		ListAName:          o.MatchedNameA(),
		ListBName:          o.MatchedNameB(),
		ThresholdA:         fixedPtr(o.ThresholdA),
		ThresholdB:         fixedPtr(o.ThresholdB),
		ViolatedA:          o.ViolatedA,
		ViolatedB:          o.ViolatedB,
		PriceDifference:    fixedPtr(o.PriceDifference),
		RefundAmount:       o.RefundAmount.StringFixed(2),
		Status:             string(o.Status),
		Reason:             string(o.Reason),
		PreviouslyApproved: o.PreviouslyApproved,
	}
	if item := o.LineItem; item != nil {
		row.ProductCode = item.Code
		row.ProductName = item.Name
		row.Quantity = item.Quantity.String()
		row.Unit = item.Unit
		row.UnitPrice = item.UnitPrice.StringFixed(2)
		row.Total = item.Total.StringFixed(2)
	}
	if o.ReferenceA != nil {
		row.ListAPrice = o.ReferenceA.ListPrice.StringFixed(2)
	}
	if o.ReferenceB != nil {
		row.ListBPrice = o.ReferenceB.MaxPrice.StringFixed(2)
	}
	if o.MatchA != nil && o.MatchA.Matched() {
		row.ListAConfidence = confidence(o.MatchA.Confidence)
	}
	if o.MatchB != nil && o.MatchB.Matched() {
		row.ListBConfidence = confidence(o.MatchB.Confidence)
	}
	if o.SpecialLimit != nil && o.SpecialLimit.Active {
		row.SpecialLimit = o.SpecialLimit.FixedMaxPrice.StringFixed(2)
	}
	return row
}

// Record returns the row as CSV/XLSX cells in Headers order.
func (r OutcomeRow) Record() []string {
	return []string{
		r.InvoiceNumber,
		r.ProductCode,
		r.ProductName,
		r.CanonicalName,
		r.Quantity,
		r.Unit,
		r.UnitPrice,
		r.Total,
		r.ListAName,
		r.ListAPrice,
		r.ThresholdA,
		r.ListBName,
		r.ListBPrice,
		r.ThresholdB,
		r.SpecialLimit,
		yesNo(r.ViolatedA),
		yesNo(r.ViolatedB),
		r.PriceDifference,
		r.RefundAmount,
		r.Status,
		r.Reason,
		yesNo(r.PreviouslyApproved),
	}
}

// Headers names the columns of Record.
var Headers = []string{
	"Invoice_Number",
	"Product_Code",
	"Product_Name",
	"Canonical_Name",
	"Quantity",
	"Unit",
	"Unit_Price",
	"Total",
	"List_A_Name",
	"List_A_Price",
	"Threshold_A",
	"List_B_Name",
	"List_B_Price",
	"Threshold_B",
	"Special_Limit",
	"Violated_A",
	"Violated_B",
	"Price_Difference",
	"Refund_Amount",
	"Status",
	"Reason",
	"Previously_Approved",
}

func outcomeRows(outcomes []*models.ComparisonOutcome) []OutcomeRow {
	rows := make([]OutcomeRow, 0, len(outcomes))
	for _, o := range outcomes {
		rows = append(rows, NewOutcomeRow(o))
	}
	return rows
}

// FailureRow describes an invoice that could not be processed.
type FailureRow struct {
	Source  string `json:"source"`
	Stage   string `json:"stage,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func failureRows(failures []reconciler.InvoiceFailure) []FailureRow {
	rows := make([]FailureRow, 0, len(failures))
	for _, f := range failures {
		row := FailureRow{Source: f.Source, Stage: f.Stage(), Message: f.Message()}
		if f.Err != nil {
			row.Code = string(f.Err.Code)
		}
		rows = append(rows, row)
	}
	return rows
}

func fixedPtr(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.StringFixed(2)
}

func confidence(c float64) string {
	return decimal.NewFromFloat(c).StringFixed(2)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
