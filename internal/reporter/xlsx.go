package reporter

import (
	"fmt"
	"io"
	"time"

	"invoice-reconciliation-service/internal/models"
	"invoice-reconciliation-service/internal/reconciler"

	"github.com/xuri/excelize/v2"
)

const (
	sheetOutcomes = "Outcomes"
	sheetManual   = "Manual Review"
	sheetSummary  = "Summary"
)

// WriteXLSX saves the run result as a workbook at path.
func (rg *ReportGenerator) WriteXLSX(result *reconciler.RunResult, path string) error {
	if result == nil {
		return fmt.Errorf("reconciliation result cannot be nil")
	}
	f, err := rg.buildWorkbook(result)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("xlsx save: %w", err)
	}
	return nil
}

func (rg *ReportGenerator) generateXLSXReport(result *reconciler.RunResult, writer io.Writer) error {
	f, err := rg.buildWorkbook(result)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Write(writer); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}

func (rg *ReportGenerator) buildWorkbook(result *reconciler.RunResult) (*excelize.File, error) {
	if result.Summary == nil {
		result.Summary = reconciler.NewSummary(result)
	}

	f := excelize.NewFile()
	// the default workbook starts with "Sheet1"
	if err := f.SetSheetName("Sheet1", sheetOutcomes); err != nil {
		f.Close()
		return nil, err
	}
	for _, sheet := range []string{sheetManual, sheetSummary} {
		if _, err := f.NewSheet(sheet); err != nil {
			f.Close()
			return nil, err
		}
	}

	var automatic []*models.ComparisonOutcome
	if rg.config.IncludeAutomatic {
		automatic = rg.sorted(result.AutomaticOutcomes())
	}
	if err := writeOutcomeSheet(f, sheetOutcomes, automatic); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeOutcomeSheet(f, sheetManual, result.ManualOutcomes()); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeSummarySheet(f, result); err != nil {
		f.Close()
		return nil, err
	}

	index, _ := f.GetSheetIndex(sheetOutcomes)
	f.SetActiveSheet(index)
	return f, nil
}

func writeOutcomeSheet(f *excelize.File, sheet string, outcomes []*models.ComparisonOutcome) error {
	if err := writeRow(f, sheet, 1, Headers); err != nil {
		return err
	}
	for i, row := range outcomeRows(outcomes) {
		if err := writeRow(f, sheet, i+2, row.Record()); err != nil {
			return err
		}
	}

	_ = f.SetColWidth(sheet, "A", "B", 18) // invoice, code
	_ = f.SetColWidth(sheet, "C", "D", 30) // names
	_ = f.SetColWidth(sheet, "I", "I", 30) // list A name
	_ = f.SetColWidth(sheet, "L", "L", 30) // list B name
	_ = f.SetColWidth(sheet, "T", "U", 24) // status, reason
	return nil
}

func writeSummarySheet(f *excelize.File, result *reconciler.RunResult) error {
	s := result.Summary
	rows := [][]interface{}{
		{"Run ID", result.RunID},
		{"Started", result.StartedAt.Format(time.RFC3339)},
		{"Finished", result.FinishedAt.Format(time.RFC3339)},
		{"Invoices", s.TotalInvoices},
		{"Processed", s.ProcessedInvoices},
		{"Failed", s.FailedInvoices},
		{"Duplicates", s.DuplicateInvoices},
		{"Line Items", s.TotalItems},
		{"Automatic", s.Automatic},
		{"Manual", s.Manual},
		{"Previously Approved", s.PreviouslyApproved},
		{"Compliant", s.Compliant},
		{"Refund Required", s.RefundRequired},
		{"Pending Review", s.Pending},
		{"Total Refund", s.TotalRefund.StringFixed(2)},
		{"With Mapping", s.WithMapping},
		{"With List A Price", s.WithListAPrice},
		{"With List B Price", s.WithListBPrice},
		{"With Special Limit", s.WithSpecialLimit},
	}
	for _, reason := range []models.ReviewReason{
		models.ReasonNoMapping, models.ReasonBothMissing, models.ReasonNoListA, models.ReasonNoListB,
	} {
		rows = append(rows, []interface{}{"Missing: " + string(reason), s.ReviewBreakdown[reason]})
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		r := row
		if err := f.SetSheetRow(sheetSummary, cell, &r); err != nil {
			return err
		}
	}

	next := len(rows) + 2
	for _, failure := range failureRows(result.Failures) {
		if err := writeRow(f, sheetSummary, next, []string{"Failed: " + failure.Source, failure.Stage, failure.Message}); err != nil {
			return err
		}
		next++
	}
	for _, d := range result.Duplicates {
		if err := writeRow(f, sheetSummary, next, []string{"Duplicate: " + d.Source, d.InvoiceNumber, d.Reason()}); err != nil {
			return err
		}
		next++
	}

	_ = f.SetColWidth(sheetSummary, "A", "A", 32)
	_ = f.SetColWidth(sheetSummary, "B", "C", 40)
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	cells := make([]interface{}, len(values))
	for i, v := range values {
		cells[i] = v
	}
	return f.SetSheetRow(sheet, cell, &cells)
}
