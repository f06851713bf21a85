package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PositionedFragment is one run of text placed on a page by the PDF text layer.
type PositionedFragment struct {
	Text  string  `json:"text"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Width float64 `json:"width"`
}

// Page groups the fragments of one page in document order.
type Page struct {
	Number    int                  `json:"number"`
	Fragments []PositionedFragment `json:"fragments"`
}

// InvoiceDocument is one invoice as handed to the pipeline.
type InvoiceDocument struct {
	Source string `json:"source"`
	Pages  []Page `json:"pages"`
}

// InvoiceHeader holds the fields recovered from the top of an invoice.
type InvoiceHeader struct {
	Number string    `json:"invoice_number"`
	Date   time.Time `json:"invoice_date"`
	// DateDefaulted is set when no date parsed and the run date was substituted.
	DateDefaulted bool `json:"date_defaulted"`
}

// LineItem is one product row recovered from invoice text.
type LineItem struct {
	Code       string          `json:"code"`
	Name       string          `json:"name"`
	Quantity   decimal.Decimal `json:"quantity"`
	Unit       string          `json:"unit"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Total      decimal.Decimal `json:"total"`
	SourceLine int             `json:"source_line"`
	// Span is how many reconstructed lines were joined to produce the item.
	Span int `json:"span"`
}

// NewLineItem builds a line item, deriving the total when it is not positive.
func NewLineItem(code, name string, quantity decimal.Decimal, unit string, unitPrice, total decimal.Decimal, sourceLine, span int) (*LineItem, error) {
	item := &LineItem{
		Code:       code,
		Name:       name,
		Quantity:   quantity,
		Unit:       unit,
		UnitPrice:  unitPrice,
		Total:      total,
		SourceLine: sourceLine,
		Span:       span,
	}
	if err := item.Validate(); err != nil {
		return nil, err
	}
	if !item.Total.IsPositive() {
		item.Total = item.UnitPrice.Mul(item.Quantity)
	}
	return item, nil
}

// Validate performs basic validation on the LineItem
func (li *LineItem) Validate() error {
	if strings.TrimSpace(li.Code) == "" {
		return fmt.Errorf("line item code cannot be empty")
	}
	if strings.TrimSpace(li.Name) == "" {
		return fmt.Errorf("line item name cannot be empty")
	}
	if !li.UnitPrice.IsPositive() {
		return fmt.Errorf("unit price must be positive, got %s", li.UnitPrice)
	}
	if !li.Quantity.IsPositive() {
		return fmt.Errorf("quantity must be positive, got %s", li.Quantity)
	}
	return nil
}

// String returns a string representation of the LineItem
func (li *LineItem) String() string {
	return fmt.Sprintf("LineItem{Code: %s, Name: %s, Qty: %s %s, Unit: %s, Total: %s}",
		li.Code, li.Name, li.Quantity, li.Unit, li.UnitPrice.StringFixed(2), li.Total.StringFixed(2))
}

// MarshalJSON renders amounts as strings so no precision is lost.
func (li *LineItem) MarshalJSON() ([]byte, error) {
	type Alias LineItem
	return json.Marshal(&struct {
		Quantity  string `json:"quantity"`
		UnitPrice string `json:"unit_price"`
		Total     string `json:"total"`
		*Alias
	}{
		Quantity:  li.Quantity.String(),
		UnitPrice: li.UnitPrice.StringFixed(2),
		Total:     li.Total.StringFixed(2),
		Alias:     (*Alias)(li),
	})
}

// System names one of the naming conventions a product name can come from.
type System string

const (
	SystemOrigin    System = "origin"
	SystemListA     System = "listA"
	SystemListB     System = "listB"
	SystemAlternate System = "alternate"
)

// IsValid checks if the system is one of the known naming systems
func (s System) IsValid() bool {
	switch s {
	case SystemOrigin, SystemListA, SystemListB, SystemAlternate:
		return true
	default:
		return false
	}
}

// MappingRow ties the names of one product in every system to its canonical key.
type MappingRow struct {
	CanonicalKey   string   `json:"canonical_key"`
	OriginName     string   `json:"origin_name,omitempty"`
	ListAName      string   `json:"list_a_name,omitempty"`
	ListBName      string   `json:"list_b_name,omitempty"`
	AlternateNames []string `json:"alternate_names,omitempty"`
}

// AliasEntry is one (system, raw name) → canonical key pair.
type AliasEntry struct {
	System       System `json:"system"`
	RawName      string `json:"raw_name"`
	CanonicalKey string `json:"canonical_key"`
}

// AliasEntries expands the row into its alias entries, skipping empty names.
func (m MappingRow) AliasEntries() []AliasEntry {
	if strings.TrimSpace(m.CanonicalKey) == "" {
		return nil
	}
	var entries []AliasEntry
	add := func(system System, name string) {
		if strings.TrimSpace(name) != "" {
			entries = append(entries, AliasEntry{System: system, RawName: name, CanonicalKey: m.CanonicalKey})
		}
	}
	add(SystemOrigin, m.OriginName)
	add(SystemListA, m.ListAName)
	add(SystemListB, m.ListBName)
	for _, alt := range m.AlternateNames {
		add(SystemAlternate, alt)
	}
	return entries
}

// StockMapping resolves a supplier product code to the origin system's item name.
type StockMapping struct {
	SupplierCode string `json:"supplier_code"`
	SupplierName string `json:"supplier_name,omitempty"`
	OriginName   string `json:"origin_name"`
}

// ReferencePriceA is a discount-based reference price.
type ReferencePriceA struct {
	ProductName   string          `json:"product_name"`
	ListPrice     decimal.Decimal `json:"list_price"`
	EffectiveDate time.Time       `json:"effective_date"`
}

// ReferencePriceB is a markup-based reference price.
type ReferencePriceB struct {
	ProductName  string          `json:"product_name"`
	MaxPrice     decimal.Decimal `json:"max_price"`
	ObservedDate time.Time       `json:"observed_date"`
}

// SpecialLimit overrides the list-A percentage rule for one canonical product.
type SpecialLimit struct {
	ProductName   string          `json:"product_name"`
	FixedMaxPrice decimal.Decimal `json:"fixed_max_price"`
	Active        bool            `json:"active"`
}

// Approval marks an invoice line as adjudicated by a human reviewer.
type Approval struct {
	InvoiceNumber string    `json:"invoice_number"`
	ProductCode   string    `json:"product_code"`
	ApprovedBy    string    `json:"approved_by,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	ApprovedAt    time.Time `json:"approved_at,omitempty"`
}

// Key returns the lookup key shared with ApprovalKey.
func (a Approval) Key() string {
	return ApprovalKey(a.InvoiceNumber, a.ProductCode)
}

// ApprovalKey builds the invoice+code lookup key.
func ApprovalKey(invoiceNumber, productCode string) string {
	return strings.TrimSpace(invoiceNumber) + "-" + strings.TrimSpace(productCode)
}

// CatalogSnapshot is the read-only reference data for one reconciliation run.
type CatalogSnapshot struct {
	ListA         []ReferencePriceA `json:"list_a"`
	ListB         []ReferencePriceB `json:"list_b"`
	SpecialLimits []SpecialLimit    `json:"special_limits"`
	Mappings      []MappingRow      `json:"mappings"`
	StockMappings []StockMapping    `json:"stock_mappings"`
	Approvals     []Approval        `json:"approvals"`
	LoadedAt      time.Time         `json:"loaded_at"`
}

// UnmatchedProduct is an origin-system name that no catalog key resembled.
type UnmatchedProduct struct {
	SourceSystem   System `json:"source_system"`
	SourceName     string `json:"source_name"`
	NormalizedName string `json:"normalized_name"`
}

// Utility functions for type conversion and validation

// ParseDecimalFromString parses an amount written either in Turkish notation
// ("1.234,56") or plain notation ("1234.56"), with an optional currency marker.
func ParseDecimalFromString(s string) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(s)
	for _, marker := range []string{"TL", "₺", "tl"} {
		cleaned = strings.TrimSpace(strings.TrimSuffix(cleaned, marker))
	}
	cleaned = strings.ReplaceAll(cleaned, " ", "")
	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("empty amount string")
	}

	switch {
	case strings.Contains(cleaned, ","):
		return ParseTurkishNumber(cleaned)
	case strings.Count(cleaned, ".") > 1:
		cleaned = strings.ReplaceAll(cleaned, ".", "")
	}

	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal format '%s': %w", s, err)
	}
	return amount, nil
}

// ParseTurkishNumber reads "1.234,56": dots group thousands, the comma is the decimal mark.
func ParseTurkishNumber(s string) (decimal.Decimal, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(s), ".", "")
	cleaned = strings.Replace(cleaned, ",", ".", 1)
	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid number '%s': %w", s, err)
	}
	return amount, nil
}

// ParseTimeWithFormats attempts to parse time from string using the formats
// reference exports use.
func ParseTimeWithFormats(s string) (time.Time, error) {
	formats := []string{
		"2006-01-02",
		"2006-01-02 15:04:05",
		time.RFC3339,
		"02.01.2006",
		"02/01/2006",
		"02-01-2006",
		"2.1.2006",
		"02.01.2006 15:04",
	}

	s = strings.TrimSpace(s)
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse time '%s'", s)
}
