package reconciler

import (
	"fmt"
	"strings"
)

// DuplicateInvoice is an invoice skipped because its number was already seen.
type DuplicateInvoice struct {
	InvoiceNumber string `json:"invoice_number"`
	Source        string `json:"source"`
	// FirstSource is the document of the same batch that was processed.
	// It is empty when the number comes from an earlier run.
	FirstSource string `json:"first_source,omitempty"`
	PreviousRun bool   `json:"previous_run"`
}

// Reason returns a human-readable reason for the skip
func (d DuplicateInvoice) Reason() string {
	if d.PreviousRun {
		return fmt.Sprintf("invoice %s was reconciled in an earlier run", d.InvoiceNumber)
	}
	return fmt.Sprintf("invoice %s already processed from %s", d.InvoiceNumber, d.FirstSource)
}

// DuplicateGroup lists every document of a batch that carries one invoice number.
type DuplicateGroup struct {
	GroupID       string   `json:"group_id"`
	InvoiceNumber string   `json:"invoice_number"`
	Sources       []string `json:"sources"`
}

// DuplicateDetector tracks invoice numbers across one batch. It is not safe
// for concurrent use; the orchestrator checks headers in input order.
type DuplicateDetector struct {
	known map[string]bool
	seen  map[string]string
	order []string
	group map[string][]string
}

// NewDuplicateDetector creates a detector. known holds invoice numbers from
// earlier runs and may be nil.
func NewDuplicateDetector(known map[string]bool) *DuplicateDetector {
	normalized := make(map[string]bool, len(known))
	for number := range known {
		normalized[invoiceKey(number)] = true
	}
	return &DuplicateDetector{
		known: normalized,
		seen:  make(map[string]string),
		group: make(map[string][]string),
	}
}

func invoiceKey(number string) string {
	return strings.ToUpper(strings.TrimSpace(number))
}

// Check registers an invoice and reports whether it duplicates an earlier one.
// The first occurrence of a number in the batch is never a duplicate unless
// the number is known from an earlier run.
func (d *DuplicateDetector) Check(number, source string) (DuplicateInvoice, bool) {
	key := invoiceKey(number)

	if _, ok := d.group[key]; !ok {
		d.order = append(d.order, key)
	}
	d.group[key] = append(d.group[key], source)

	if d.known[key] {
		return DuplicateInvoice{InvoiceNumber: number, Source: source, PreviousRun: true}, true
	}

	if first, ok := d.seen[key]; ok {
		return DuplicateInvoice{InvoiceNumber: number, Source: source, FirstSource: first}, true
	}

	d.seen[key] = source
	return DuplicateInvoice{}, false
}

// Groups returns the invoice numbers carried by more than one document of the
// batch, in first-seen order.
func (d *DuplicateDetector) Groups() []DuplicateGroup {
	var groups []DuplicateGroup
	for _, key := range d.order {
		sources := d.group[key]
		if len(sources) < 2 {
			continue
		}
		groups = append(groups, DuplicateGroup{
			GroupID:       fmt.Sprintf("DUP_%s", key),
			InvoiceNumber: key,
			Sources:       append([]string(nil), sources...),
		})
	}
	return groups
}
