package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"invoice-reconciliation-service/cmd/reconciler/config"
	"invoice-reconciliation-service/internal/catalog"
	"invoice-reconciliation-service/internal/models"
	"invoice-reconciliation-service/internal/pdftext"
	"invoice-reconciliation-service/internal/reconciler"
	"invoice-reconciliation-service/internal/reporter"
	"invoice-reconciliation-service/internal/store"
	"invoice-reconciliation-service/pkg/errors"
	"invoice-reconciliation-service/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flags for the reconcile command
var (
	inputs        []string
	listAFile     string
	listBFile     string
	limitsFile    string
	mappingsFile  string
	stockFile     string
	approvalsFile string
	catalogSheet  string
	csvDelimiter  string
	outputFormat  string
	outputFile    string
	workers       int
	noHistory     bool
	noColor       bool

	// Rule and matching tunables
	matchProfile        string
	confidenceThreshold float64
	discountFactor      string
	markupFactor        string
)

// reconcileCmd represents the reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Check invoice unit prices against the reference price lists",
	Long: `Reconcile extracts every line item of the given invoice PDFs, resolves the
product to its canonical name through the mapping tables and compares the
unit price with the list A and list B thresholds.

This command requires:
- One or more invoice PDFs or directories containing them
- At least one reference file: list A, list B or the special limits

Reference files may be CSV or XLSX.

Examples:
  # Basic reconciliation
  reconciler reconcile --inputs invoices/ --list-a list_a.csv --list-b list_b.csv \
    --mappings mappings.xlsx --stock-mappings stock.xlsx

  # Keep approvals, pending reviews and history between runs
  reconciler reconcile --inputs invoices/ --list-a list_a.csv --db reconciler.db

  # Workbook for the audit team
  reconciler reconcile --inputs invoices/ --list-a list_a.csv \
    --output-format xlsx --output-file report.xlsx

  # Stricter name matching, more items go to manual review
  reconciler reconcile --inputs inv.pdf --list-a list_a.csv --match-profile strict`,

	PreRunE: validateReconcileFlags,
	RunE:    runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	// Required flags
	reconcileCmd.Flags().StringSliceVarP(&inputs, "inputs", "i", []string{}, "invoice PDF files or directories (required)")

	// Catalog flags
	reconcileCmd.Flags().StringVar(&listAFile, "list-a", "", "list A reference prices (CSV or XLSX)")
	reconcileCmd.Flags().StringVar(&listBFile, "list-b", "", "list B reference prices (CSV or XLSX)")
	reconcileCmd.Flags().StringVar(&limitsFile, "special-limits", "", "special fixed price limits (CSV or XLSX)")
	reconcileCmd.Flags().StringVar(&mappingsFile, "mappings", "", "name mapping table between origin, list A and list B")
	reconcileCmd.Flags().StringVar(&stockFile, "stock-mappings", "", "supplier stock code to origin name table")
	reconcileCmd.Flags().StringVar(&approvalsFile, "approvals", "", "previously approved invoice lines")
	reconcileCmd.Flags().StringVar(&catalogSheet, "sheet", "", "sheet to read from XLSX files (default: first sheet)")
	reconcileCmd.Flags().StringVar(&csvDelimiter, "delimiter", ",", "delimiter of CSV reference files")

	// Output flags
	reconcileCmd.Flags().StringVarP(&outputFormat, "output-format", "f", "console", "output format: console, json, csv, xlsx")
	reconcileCmd.Flags().StringVarP(&outputFile, "output-file", "o", "", "output file path (default: stdout, required for xlsx)")
	reconcileCmd.Flags().BoolVar(&noColor, "no-color", false, "disable colored console output")

	// Processing flags
	reconcileCmd.Flags().IntVarP(&workers, "workers", "w", 4, "invoices processed concurrently")
	reconcileCmd.Flags().BoolVar(&noHistory, "no-history", false, "do not store this run's outcomes in the database")
	reconcileCmd.Flags().StringVar(&matchProfile, "match-profile", config.ProfileDefault, "name matching profile: default, strict, relaxed")
	reconcileCmd.Flags().Float64Var(&confidenceThreshold, "confidence-threshold", 0, "override the fuzzy match confidence threshold (0-1)")
	reconcileCmd.Flags().StringVar(&discountFactor, "discount-factor", "", "list A discount factor (default 0.32)")
	reconcileCmd.Flags().StringVar(&markupFactor, "markup-factor", "", "list B markup factor (default 1.10)")

	reconcileCmd.MarkFlagRequired("inputs")

	// Bind flags to viper
	for _, name := range []string{
		"inputs", "list-a", "list-b", "special-limits", "mappings", "stock-mappings", "approvals",
		"sheet", "delimiter", "output-format", "output-file", "no-color", "workers", "no-history",
		"match-profile", "confidence-threshold", "discount-factor", "markup-factor",
	} {
		viper.BindPFlag(name, reconcileCmd.Flags().Lookup(name))
	}
}

func validateReconcileFlags(cmd *cobra.Command, args []string) error {
	// Get values from viper (allows override from config file)
	inputs = viper.GetStringSlice("inputs")
	listAFile = viper.GetString("list-a")
	listBFile = viper.GetString("list-b")
	limitsFile = viper.GetString("special-limits")
	mappingsFile = viper.GetString("mappings")
	stockFile = viper.GetString("stock-mappings")
	approvalsFile = viper.GetString("approvals")
	catalogSheet = viper.GetString("sheet")
	csvDelimiter = viper.GetString("delimiter")
	outputFormat = viper.GetString("output-format")
	outputFile = viper.GetString("output-file")
	noColor = viper.GetBool("no-color")
	workers = viper.GetInt("workers")
	noHistory = viper.GetBool("no-history")
	matchProfile = viper.GetString("match-profile")
	confidenceThreshold = viper.GetFloat64("confidence-threshold")
	discountFactor = viper.GetString("discount-factor")
	markupFactor = viper.GetString("markup-factor")
	dbPath = viper.GetString("db")

	if len(inputs) == 0 {
		return fmt.Errorf("at least one input is required")
	}
	for _, input := range inputs {
		if _, err := os.Stat(input); err != nil {
			return fmt.Errorf("input does not exist: %s", input)
		}
	}

	if listAFile == "" && listBFile == "" && limitsFile == "" {
		return fmt.Errorf("at least one of --list-a, --list-b or --special-limits is required")
	}

	catalogFiles := []struct {
		path        string
		description string
	}{
		{listAFile, "list A file"},
		{listBFile, "list B file"},
		{limitsFile, "special limits file"},
		{mappingsFile, "mapping table"},
		{stockFile, "stock mapping table"},
		{approvalsFile, "approvals file"},
	}
	for _, f := range catalogFiles {
		if f.path == "" {
			continue
		}
		if err := validateFileExists(f.path, f.description); err != nil {
			return err
		}
	}

	// Validate output format
	format := reporter.OutputFormat(strings.ToLower(outputFormat))
	if !format.IsValid() {
		return fmt.Errorf("invalid output format '%s'. Valid formats: console, json, csv, xlsx", outputFormat)
	}
	if format == reporter.FormatXLSX && outputFile == "" {
		return fmt.Errorf("--output-file is required for the xlsx format")
	}

	if workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if confidenceThreshold < 0 || confidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold must be between 0 and 1")
	}

	// Validate output file directory exists if specified
	if outputFile != "" {
		if err := validateDirExists(outputFile); err != nil {
			return err
		}
	}
	if dbPath != "" {
		if err := validateDirExists(dbPath); err != nil {
			return err
		}
	}

	return nil
}

func validateFileExists(filePath, description string) error {
	if filePath == "" {
		return fmt.Errorf("%s path cannot be empty", description)
	}

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return fmt.Errorf("%s does not exist: %s", description, filePath)
	}
	if err != nil {
		return fmt.Errorf("error accessing %s: %w", description, err)
	}

	if info.IsDir() {
		return fmt.Errorf("%s is a directory, expected a file: %s", description, filePath)
	}

	// Check if file is readable
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("%s is not readable: %w", description, err)
	}
	file.Close()

	return nil
}

func validateDirExists(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("output directory does not exist: %s", dir)
	}
	return nil
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := newLogger().WithComponent("cli")

	log.WithFields(logger.Fields{
		"inputs":        strings.Join(inputs, ", "),
		"output_format": outputFormat,
		"output_file":   outputFile,
		"db":            dbPath,
	}).Debug("Starting reconciliation")

	// Create configurations
	parserConfig, err := config.CreateParserConfig(viper.GetViper())
	if err != nil {
		return err
	}
	matchingConfig, err := config.CreateMatchingConfig(matchProfile, confidenceThreshold)
	if err != nil {
		return err
	}
	rulesConfig, err := config.CreateRulesConfig(discountFactor, markupFactor)
	if err != nil {
		return err
	}
	extractorConfig, err := config.CreateExtractorConfig(viper.GetViper(), workers)
	if err != nil {
		return err
	}
	reconcilerConfig := config.CreateReconcilerConfig(workers, dbPath != "", !noHistory)
	catalogConfig := config.CreateCatalogConfig(config.CatalogFiles{
		ListA:         listAFile,
		ListB:         listBFile,
		SpecialLimits: limitsFile,
		Mappings:      mappingsFile,
		StockMappings: stockFile,
		Approvals:     approvalsFile,
		Sheet:         catalogSheet,
		Delimiter:     csvDelimiter,
	})
	if err := config.ValidateConfig(parserConfig, matchingConfig, rulesConfig, reconcilerConfig, catalogConfig); err != nil {
		return err
	}

	docs, pdfFailures, err := readInvoices(ctx, extractorConfig, log)
	if err != nil {
		return err
	}

	provider, err := catalog.NewFileProvider(catalogConfig, log)
	if err != nil {
		return err
	}

	opts := reconciler.Options{
		Config:   reconcilerConfig,
		Parser:   parserConfig,
		Matching: matchingConfig,
		Rules:    rulesConfig,
		Catalog:  provider,
		Logger:   log,
	}
	if dbPath != "" {
		st, err := store.Open(dbPath, log)
		if err != nil {
			return err
		}
		defer st.Close()
		opts.Store = st
	}

	orchestrator, err := reconciler.NewOrchestrator(opts)
	if err != nil {
		return err
	}

	result, err := orchestrator.Run(ctx, docs)
	if err != nil {
		return err
	}
	report := provider.Report()
	for file, stats := range report.Files {
		log.WithFields(logger.Fields{
			"file":    file,
			"loaded":  stats.Loaded,
			"skipped": stats.Skipped,
		}).Debug("Catalog file loaded")
	}
	if viper.GetBool("verbose") && len(report.Errors) > 0 {
		errs := make([]error, len(report.Errors))
		for i, e := range report.Errors {
			errs[i] = e
		}
		fmt.Fprintln(os.Stderr, formatErrorList(errs))
	}

	mergePDFFailures(result, pdfFailures)

	if err := writeReport(result, log); err != nil {
		return err
	}

	summary := result.Summary
	log.WithFields(logger.Fields{
		"run_id":       result.RunID,
		"invoices":     summary.TotalInvoices,
		"failed":       summary.FailedInvoices,
		"items":        summary.TotalItems,
		"refunds":      summary.RefundRequired,
		"pending":      summary.Pending,
		"total_refund": summary.TotalRefund.StringFixed(2),
		"duration":     result.Duration(),
	}).Info("Reconciliation completed")

	if summary.FailedInvoices > 0 && summary.FailedInvoices == summary.TotalInvoices {
		return errors.ReconciliationError(errors.CodeProcessingError, "reconcile",
			fmt.Errorf("none of the %d invoices could be processed", summary.FailedInvoices))
	}
	return nil
}

// readInvoices collects and reads the input PDFs.
func readInvoices(ctx context.Context, cfg *pdftext.Config, log logger.Logger) ([]models.InvoiceDocument, []pdftext.Failure, error) {
	paths, err := pdftext.CollectPDFs(inputs)
	if err != nil {
		return nil, nil, err
	}
	if len(paths) == 0 {
		return nil, nil, errors.FileError(errors.CodeFileNotFound, strings.Join(inputs, ", "),
			fmt.Errorf("no PDF files found")).
			WithSuggestion("point --inputs at invoice PDFs or directories that contain them")
	}

	extractor := pdftext.NewExtractor(cfg, log)

	var docs []models.InvoiceDocument
	var failures []pdftext.Failure
	err = logger.TimedStep(log, "read invoice PDFs", func() error {
		docs, failures = extractor.ExtractDocuments(ctx, paths)
		return ctx.Err()
	})
	if err != nil {
		return nil, nil, err
	}
	return docs, failures, nil
}

// mergePDFFailures reports unreadable PDFs as failed invoices of the run.
func mergePDFFailures(result *reconciler.RunResult, failures []pdftext.Failure) {
	if len(failures) == 0 {
		return
	}

	merged := make([]reconciler.InvoiceFailure, 0, len(failures)+len(result.Failures))
	for _, f := range failures {
		err := errors.WrapIfNeeded(f.Err, errors.CategoryExtraction, errors.CodePDFUnreadable, "PDF could not be read")
		if _, ok := err.Context["stage"]; !ok {
			err = err.WithContext("stage", "pdf_open")
		}
		merged = append(merged, reconciler.InvoiceFailure{Source: filepath.Base(f.Path), Err: err})
	}
	result.Failures = append(merged, result.Failures...)
	result.Summary = reconciler.NewSummary(result)
}

func writeReport(result *reconciler.RunResult, log logger.Logger) error {
	reportConfig := config.CreateReportConfig(outputFormat, !noColor && outputFile == "")
	generator, err := reporter.NewSafeReportGenerator(reportConfig, log)
	if err != nil {
		return err
	}

	if reportConfig.Format == reporter.FormatXLSX {
		return generator.SaveXLSXSafely(result, outputFile)
	}

	output := os.Stdout
	if outputFile != "" {
		output, err = os.Create(outputFile)
		if err != nil {
			return errors.FileError(errors.CodeFilePermission, outputFile, err)
		}
		defer output.Close()
	}

	return generator.GenerateReportSafely(result, output)
}
