package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"invoice-reconciliation-service/internal/models"
	"invoice-reconciliation-service/internal/store"
	"invoice-reconciliation-service/pkg/errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flags for the history command
var (
	historyInvoice   string
	historyLimit     int
	historyPending   bool
	historyUnmatched bool
	historyJSON      bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List stored outcomes, open reviews and unmatched product names",
	Long: `History reads the database written by reconcile --db.

By default it lists past outcomes, newest first. --pending lists the lines
still waiting for manual review and --unmatched lists the origin names that
no catalog entry resembled.

Examples:
  reconciler history --db reconciler.db
  reconciler history --db reconciler.db --invoice ABC2024000000042
  reconciler history --db reconciler.db --pending --json`,

	PreRunE: validateHistoryFlags,
	RunE:    runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().StringVar(&historyInvoice, "invoice", "", "only show this invoice number")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "maximum outcomes to show (0 shows all)")
	historyCmd.Flags().BoolVar(&historyPending, "pending", false, "list open manual reviews")
	historyCmd.Flags().BoolVar(&historyUnmatched, "unmatched", false, "list unmatched origin product names")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "print JSON instead of a table")
}

func validateHistoryFlags(cmd *cobra.Command, args []string) error {
	dbPath = viper.GetString("db")

	if dbPath == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, "db", nil, nil).
			WithSuggestion("pass --db with the database used by reconcile")
	}
	if historyLimit < 0 {
		return fmt.Errorf("limit cannot be negative")
	}
	if historyPending && historyUnmatched {
		return fmt.Errorf("--pending and --unmatched cannot be combined")
	}
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	log := newLogger().WithComponent("cli")
	out := cmd.OutOrStdout()

	st, err := store.Open(dbPath, log)
	if err != nil {
		return err
	}
	defer st.Close()

	switch {
	case historyPending:
		reviews, err := st.PendingReviews(ctx)
		if err != nil {
			return err
		}
		if historyInvoice != "" {
			reviews = filterReviews(reviews, historyInvoice)
		}
		if historyJSON {
			return writeJSON(out, reviews)
		}
		return printPendingReviews(out, reviews)

	case historyUnmatched:
		products, err := st.Unmatched(ctx)
		if err != nil {
			return err
		}
		if historyJSON {
			return writeJSON(out, products)
		}
		return printUnmatched(out, products)

	default:
		entries, err := st.History(ctx, historyInvoice, historyLimit)
		if err != nil {
			return err
		}
		if historyJSON {
			return writeJSON(out, entries)
		}
		return printHistory(out, entries)
	}
}

func filterReviews(reviews []models.PendingReview, invoiceNumber string) []models.PendingReview {
	var out []models.PendingReview
	for _, r := range reviews {
		if r.InvoiceNumber == invoiceNumber {
			out = append(out, r)
		}
	}
	return out
}

func printHistory(w io.Writer, entries []models.HistoryEntry) error {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No stored outcomes.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RECORDED\tINVOICE\tCODE\tPRODUCT\tUNIT PRICE\tSTATUS\tREASON\tREFUND")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.RecordedAt.Format(time.DateTime),
			e.InvoiceNumber,
			e.ProductCode,
			e.ProductName,
			e.UnitPrice.StringFixed(2),
			e.Status,
			e.Reason,
			e.RefundAmount.StringFixed(2),
		)
	}
	return tw.Flush()
}

func printPendingReviews(w io.Writer, reviews []models.PendingReview) error {
	if len(reviews) == 0 {
		fmt.Fprintln(w, "No open reviews.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tINVOICE\tCODE\tPRODUCT\tREASON\tRUN")
	for _, r := range reviews {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.CreatedAt.Format(time.DateTime),
			r.InvoiceNumber,
			r.ProductCode,
			r.ProductName,
			r.Reason,
			r.RunID,
		)
	}
	return tw.Flush()
}

func printUnmatched(w io.Writer, products []models.UnmatchedProduct) error {
	if len(products) == 0 {
		fmt.Fprintln(w, "No unmatched products.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SYSTEM\tNAME\tNORMALIZED")
	for _, p := range products {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", p.SourceSystem, p.SourceName, p.NormalizedName)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
