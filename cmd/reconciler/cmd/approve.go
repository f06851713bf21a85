package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"invoice-reconciliation-service/internal/models"
	"invoice-reconciliation-service/internal/reporter"
	"invoice-reconciliation-service/internal/rules"
	"invoice-reconciliation-service/internal/store"
	"invoice-reconciliation-service/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flags for the approve command
var (
	approveInvoice string
	approveCode    string
	approvedBy     string
	approveReason  string
	manualListA    string
	manualListB    string
	manualLimit    string
)

var approveCmd = &cobra.Command{
	Use:   "approve",
	Short: "Approve an invoice line so later runs treat it as compliant",
	Long: `Approve records a reviewer's decision for one invoice line. Later runs
short-circuit the approved invoice number and product code to COMPLIANT and
the matching pending review is closed.

When reference prices are supplied, the line as stored by the last run is
re-evaluated with them and the adjudicated outcome is printed.

Examples:
  reconciler approve --db reconciler.db --invoice ABC2024000000042 --code 10.01.002 --by auditor
  reconciler approve --db reconciler.db --invoice ABC2024000000042 --code 10.01.002 \
    --list-a-price 40.00 --list-b-price 30.00 --reason "price agreed by phone"`,

	PreRunE: validateApproveFlags,
	RunE:    runApprove,
}

func init() {
	rootCmd.AddCommand(approveCmd)

	approveCmd.Flags().StringVar(&approveInvoice, "invoice", "", "invoice number (required)")
	approveCmd.Flags().StringVar(&approveCode, "code", "", "product code of the line (required)")
	approveCmd.Flags().StringVar(&approvedBy, "by", "", "name of the reviewer")
	approveCmd.Flags().StringVar(&approveReason, "reason", "", "why the line is approved")
	approveCmd.Flags().StringVar(&manualListA, "list-a-price", "", "list A price supplied by the reviewer")
	approveCmd.Flags().StringVar(&manualListB, "list-b-price", "", "list B price supplied by the reviewer")
	approveCmd.Flags().StringVar(&manualLimit, "limit", "", "special fixed price limit supplied by the reviewer")

	approveCmd.MarkFlagRequired("invoice")
	approveCmd.MarkFlagRequired("code")
}

func validateApproveFlags(cmd *cobra.Command, args []string) error {
	dbPath = viper.GetString("db")

	if strings.TrimSpace(approveInvoice) == "" {
		return fmt.Errorf("--invoice cannot be empty")
	}
	if strings.TrimSpace(approveCode) == "" {
		return fmt.Errorf("--code cannot be empty")
	}
	if dbPath == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, "db", nil, nil).
			WithSuggestion("pass --db with the database used by reconcile")
	}
	_, err := parseManualPrices(manualListA, manualListB, manualLimit)
	return err
}

func runApprove(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	log := newLogger().WithComponent("cli")
	out := cmd.OutOrStdout()

	st, err := store.Open(dbPath, log)
	if err != nil {
		return err
	}
	defer st.Close()

	approval := models.Approval{
		InvoiceNumber: strings.TrimSpace(approveInvoice),
		ProductCode:   strings.TrimSpace(approveCode),
		ApprovedBy:    approvedBy,
		Reason:        approveReason,
	}
	if err := st.Approve(ctx, approval); err != nil {
		return err
	}
	fmt.Fprintf(out, "Approved %s / %s\n", approval.InvoiceNumber, approval.ProductCode)

	prices, err := parseManualPrices(manualListA, manualListB, manualLimit)
	if err != nil {
		return err
	}
	if prices == nil {
		return nil
	}

	entry, err := lastRecordedLine(ctx, st, approval.InvoiceNumber, approval.ProductCode)
	if err != nil {
		return err
	}

	canonical := entry.CanonicalName
	if canonical == "" {
		canonical = entry.ProductName
	}
	item := &models.LineItem{
		Code:      entry.ProductCode,
		Name:      entry.ProductName,
		Quantity:  entry.Quantity,
		UnitPrice: entry.UnitPrice,
		Total:     entry.Total,
	}

	outcome := rules.NewEvaluator(rules.DefaultConfig(), log).
		EvaluateManual(approval.InvoiceNumber, item, canonical, *prices)
	printManualOutcome(out, outcome)
	return nil
}

// parseManualPrices returns nil when no price was given.
func parseManualPrices(listA, listB, limit string) (*rules.ManualPrices, error) {
	var prices rules.ManualPrices
	given := false

	for _, p := range []struct {
		flag string
		raw  string
		dst  **decimal.Decimal
	}{
		{"list-a-price", listA, &prices.ListAPrice},
		{"list-b-price", listB, &prices.ListBPrice},
		{"limit", limit, &prices.Limit},
	} {
		if strings.TrimSpace(p.raw) == "" {
			continue
		}
		d, err := models.ParseDecimalFromString(p.raw)
		if err != nil {
			return nil, errors.ValidationError(errors.CodeInvalidAmount, p.flag, p.raw, err)
		}
		if !d.IsPositive() {
			return nil, errors.ValidationError(errors.CodeOutOfRange, p.flag, p.raw, nil).
				WithSuggestion("reference prices must be greater than zero")
		}
		*p.dst = &d
		given = true
	}

	if !given {
		return nil, nil
	}
	return &prices, nil
}

// lastRecordedLine finds the newest stored outcome of one invoice line.
func lastRecordedLine(ctx context.Context, st *store.Store, invoiceNumber, code string) (models.HistoryEntry, error) {
	entries, err := st.History(ctx, invoiceNumber, 0)
	if err != nil {
		return models.HistoryEntry{}, err
	}
	for _, e := range entries {
		if e.ProductCode == code {
			return e, nil
		}
	}
	return models.HistoryEntry{}, errors.ValidationError(errors.CodeMissingField, "invoice line",
		invoiceNumber+"/"+code, nil).
		WithSuggestion("run reconcile with --db so the line is recorded before re-evaluating it")
}

func printManualOutcome(w io.Writer, outcome *models.ComparisonOutcome) {
	row := reporter.NewOutcomeRow(outcome)

	fmt.Fprintf(w, "\n=== ADJUDICATED OUTCOME ===\n")
	fmt.Fprintf(w, "Product:          %s %s\n", row.ProductCode, row.ProductName)
	fmt.Fprintf(w, "Unit Price:       %s\n", row.UnitPrice)
	if row.ThresholdA != "" {
		fmt.Fprintf(w, "Threshold A:      %s (violated: %s)\n", row.ThresholdA, yesNo(row.ViolatedA))
	}
	if row.ThresholdB != "" {
		fmt.Fprintf(w, "Threshold B:      %s (violated: %s)\n", row.ThresholdB, yesNo(row.ViolatedB))
	}
	fmt.Fprintf(w, "Status:           %s\n", row.Status)
	if row.Reason != "" {
		fmt.Fprintf(w, "Reason:           %s\n", row.Reason)
	}
	fmt.Fprintf(w, "Refund Amount:    %s\n", row.RefundAmount)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
