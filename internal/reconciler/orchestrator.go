// Package reconciler runs the invoice reconciliation pipeline.
//
// For every invoice the orchestrator reconstructs the text, extracts the
// header, parses line items, resolves each item's product through the stock
// mapping and the product matcher, and classifies it with the price rules.
// Reference data is loaded once per run from a CatalogProvider and prepared
// into read-only lookup tables shared by the invoice workers.
//
// Example usage:
//
//	orchestrator, err := reconciler.NewOrchestrator(reconciler.Options{
//		Catalog: provider,
//		Store:   store,
//		Logger:  log,
//	})
//	result, err := orchestrator.Run(ctx, documents)
package reconciler

import (
	"context"
	"strings"
	"sync"
	"time"

	"invoice-reconciliation-service/internal/matcher"
	"invoice-reconciliation-service/internal/models"
	"invoice-reconciliation-service/internal/parsers"
	"invoice-reconciliation-service/internal/rules"
	"invoice-reconciliation-service/pkg/errors"
	"invoice-reconciliation-service/pkg/logger"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
)

// Options are the collaborators and configurations of an Orchestrator.
// Nil configs use their package defaults; Store may be nil.
type Options struct {
	Config   *Config
	Parser   *parsers.Config
	Matching *matcher.MatchingConfig
	Rules    *rules.Config

	Catalog CatalogProvider
	Store   Store
	Logger  logger.Logger
	Clock   parsers.Clock
}

// Orchestrator wires the pipeline stages for a batch of invoices.
type Orchestrator struct {
	config       *Config
	parserConfig *parsers.Config
	headers      *parsers.HeaderExtractor
	lines        *parsers.LineItemParser
	evaluator    *rules.Evaluator
	preprocessor *CatalogPreprocessor

	catalog CatalogProvider
	store   Store
	logger  logger.Logger
	clock   parsers.Clock
}

// NewOrchestrator validates the configurations and creates an orchestrator.
func NewOrchestrator(opts Options) (*Orchestrator, error) {
	if opts.Catalog == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "catalog", nil, nil).
			WithSuggestion("provide a catalog provider with the reference price lists")
	}

	config := opts.Config
	if config == nil {
		config = DefaultConfig()
	}
	parserConfig := opts.Parser
	if parserConfig == nil {
		parserConfig = parsers.DefaultConfig()
	}
	matchingConfig := opts.Matching
	if matchingConfig == nil {
		matchingConfig = matcher.DefaultMatchingConfig()
	}
	rulesConfig := opts.Rules
	if rulesConfig == nil {
		rulesConfig = rules.DefaultConfig()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	validations := []struct {
		setting string
		value   interface{}
		err     error
	}{
		{"reconciler", config, config.Validate()},
		{"parser", parserConfig, parserConfig.Validate()},
		{"matching", matchingConfig, matchingConfig.Validate()},
		{"rules", rulesConfig, rulesConfig.Validate()},
	}
	for _, v := range validations {
		if v.err != nil {
			return nil, errors.ConfigurationError(errors.CodeInvalidConfig, v.setting, v.value, v.err)
		}
	}

	log := logger.OrNop(opts.Logger)
	return &Orchestrator{
		config:       config,
		parserConfig: parserConfig,
		headers:      parsers.NewHeaderExtractor(parserConfig, clock, log),
		lines:        parsers.NewLineItemParser(parserConfig, log),
		evaluator:    rules.NewEvaluator(rulesConfig, log),
		preprocessor: NewCatalogPreprocessor(matchingConfig, log),
		catalog:      opts.Catalog,
		store:        opts.Store,
		logger:       log.WithComponent("orchestrator"),
		clock:        clock,
	}, nil
}

// extracted is an invoice whose header was recovered.
type extracted struct {
	source string
	text   string
	header *models.InvoiceHeader
}

// LoadCatalog loads and prepares the reference data for one run. Approvals
// recorded in the store are merged with those of the snapshot.
func (o *Orchestrator) LoadCatalog(ctx context.Context) (*PreparedCatalog, PreprocessStats, error) {
	snapshot, err := o.catalog.Load(ctx)
	if err != nil {
		return nil, PreprocessStats{}, errors.ReconciliationError(errors.CodeCatalogLoad, "catalog_load", err)
	}

	var approved map[string]bool
	if o.store != nil {
		approved, err = o.store.ApprovedPairs(ctx)
		if err != nil {
			return nil, PreprocessStats{}, errors.StorageError("load_approvals", err)
		}
	}

	prepared, stats := o.preprocessor.Prepare(snapshot, approved)
	return prepared, stats, nil
}

// ProcessInvoice runs the whole pipeline for one invoice. Extraction failures
// are returned as errors; per-line failures are counted in the result's
// ParseStats.
func (o *Orchestrator) ProcessInvoice(ctx context.Context, doc models.InvoiceDocument, catalog *PreparedCatalog) (*InvoiceResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.InternalError(errors.CodeCancelled, "process_invoice", err)
	}

	ex, err := o.extract(doc)
	if err != nil {
		return nil, err
	}
	return o.evaluateInvoice(ctx, ex, catalog)
}

// extract reconstructs the text and recovers the header.
func (o *Orchestrator) extract(doc models.InvoiceDocument) (*extracted, error) {
	text := parsers.ReconstructTextWithTolerance(doc.Pages, o.parserConfig.SameLineTolerance)
	if strings.TrimSpace(text) == "" {
		o.logger.WithField("source", doc.Source).Error("No text reconstructed")
		diag := errors.NewDiagnostics(text, o.parserConfig.SampleLines, "")
		return nil, errors.ExtractionError(errors.CodeEmptyText, doc.Source, diag, nil)
	}

	header, err := o.headers.Extract(doc.Source, text)
	if err != nil {
		return nil, err
	}

	return &extracted{source: doc.Source, text: text, header: header}, nil
}

// evaluateInvoice parses the line items and classifies each of them.
func (o *Orchestrator) evaluateInvoice(ctx context.Context, ex *extracted, catalog *PreparedCatalog) (*InvoiceResult, error) {
	items, stats := o.lines.ParseLines(parsers.SplitLines(ex.text))

	result := &InvoiceResult{
		Source:     ex.source,
		Header:     ex.header,
		Outcomes:   make([]*models.ComparisonOutcome, 0, len(items)),
		ParseStats: stats,
	}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, errors.InternalError(errors.CodeCancelled, "process_invoice", err)
		}
		result.Outcomes = append(result.Outcomes, o.evaluateLine(ex.header.Number, item, catalog))
	}

	o.logger.WithFields(logger.Fields{
		"source":    ex.source,
		"invoice":   ex.header.Number,
		"items":     len(items),
		"failed":    stats.Failed,
		"no_code":   stats.NoCode,
		"recovered": stats.MultiLineRecovered,
	}).Info("Invoice processed")

	return result, nil
}

// Run reconciles a batch of invoices. Invoices that fail extraction are
// reported in RunResult.Failures and do not fail the run. The returned error
// is non-nil when the catalog cannot be loaded, the context is cancelled, or
// results cannot be stored; in the last case the result is still returned.
func (o *Orchestrator) Run(ctx context.Context, docs []models.InvoiceDocument) (*RunResult, error) {
	result := &RunResult{
		RunID:      uuid.New().String(),
		StartedAt:  o.clock(),
		ParseStats: parsers.NewParseStats(o.parserConfig.MaxLineErrors),
	}
	log := o.logger.WithField("run_id", result.RunID)
	log.WithField("invoices", len(docs)).Info("Starting reconciliation run")

	var catalog *PreparedCatalog
	err := logger.TimedStep(log, "load_catalog", func() error {
		var err error
		catalog, result.Catalog, err = o.LoadCatalog(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	progress := logger.NewProgressTracker(logger.ProgressConfig{
		Operation:   "reconcile_invoices",
		Total:       int64(len(docs)),
		LogInterval: o.config.ProgressInterval,
		Logger:      log,
	})

	extractedDocs, failures := o.extractAll(ctx, docs, progress)
	if err := ctx.Err(); err != nil {
		return nil, errors.InternalError(errors.CodeCancelled, "reconcile", err)
	}
	result.Failures = failures

	accepted, duplicates, err := o.filterDuplicates(ctx, extractedDocs)
	if err != nil {
		return nil, err
	}
	result.Duplicates = duplicates
	for range duplicates {
		progress.Done(true)
	}

	result.Invoices, err = o.evaluateAll(ctx, accepted, catalog, progress)
	if err != nil {
		return nil, err
	}
	progress.Complete()

	for _, inv := range result.Invoices {
		result.ParseStats.Merge(inv.ParseStats)
	}
	result.Unmatched = catalog.Matcher.Unmatched()
	result.FinishedAt = o.clock()
	result.Summary = NewSummary(result)

	log.WithFields(logger.Fields{
		"processed":    result.Summary.ProcessedInvoices,
		"failed":       result.Summary.FailedInvoices,
		"duplicates":   result.Summary.DuplicateInvoices,
		"items":        result.Summary.TotalItems,
		"refunds":      result.Summary.RefundRequired,
		"pending":      result.Summary.Pending,
		"total_refund": result.Summary.TotalRefund.StringFixed(2),
	}).Info("Reconciliation run completed")

	if err := o.persist(ctx, result); err != nil {
		return result, err
	}
	return result, nil
}

// extractAll runs extraction concurrently. The returned slice keeps input
// order; failed documents are reported separately.
func (o *Orchestrator) extractAll(ctx context.Context, docs []models.InvoiceDocument, progress *logger.ProgressTracker) ([]*extracted, []InvoiceFailure) {
	slots := make([]*extracted, len(docs))
	var failures []InvoiceFailure
	var mu sync.Mutex

	p := pool.New().WithMaxGoroutines(o.config.Workers)
	for i := range docs {
		p.Go(func() {
			if ctx.Err() != nil {
				return
			}
			ex, err := o.extract(docs[i])
			if err != nil {
				progress.Done(false)
				mu.Lock()
				failures = append(failures, InvoiceFailure{Source: docs[i].Source, Err: asReconcilerError(err)})
				mu.Unlock()
				return
			}
			slots[i] = ex
		})
	}
	p.Wait()

	var out []*extracted
	for _, ex := range slots {
		if ex != nil {
			out = append(out, ex)
		}
	}
	sortFailures(failures, docs)
	return out, failures
}

// filterDuplicates drops invoices whose number was already seen, in input order.
func (o *Orchestrator) filterDuplicates(ctx context.Context, docs []*extracted) ([]*extracted, []DuplicateInvoice, error) {
	if !o.config.CheckDuplicates {
		return docs, nil, nil
	}

	var known map[string]bool
	if o.store != nil {
		var err error
		known, err = o.store.KnownInvoiceNumbers(ctx)
		if err != nil {
			return nil, nil, errors.StorageError("load_invoice_numbers", err)
		}
	}

	detector := NewDuplicateDetector(known)
	var accepted []*extracted
	var duplicates []DuplicateInvoice
	for _, ex := range docs {
		if dup, ok := detector.Check(ex.header.Number, ex.source); ok {
			o.logger.WithFields(logger.Fields{
				"invoice": dup.InvoiceNumber,
				"source":  dup.Source,
			}).Warn(dup.Reason())
			duplicates = append(duplicates, dup)
			continue
		}
		accepted = append(accepted, ex)
	}
	return accepted, duplicates, nil
}

// evaluateAll parses and classifies the accepted invoices concurrently.
func (o *Orchestrator) evaluateAll(ctx context.Context, docs []*extracted, catalog *PreparedCatalog, progress *logger.ProgressTracker) ([]*InvoiceResult, error) {
	results := make([]*InvoiceResult, len(docs))

	p := pool.New().WithContext(ctx).WithMaxGoroutines(o.config.Workers).WithCancelOnError()
	for i := range docs {
		p.Go(func(ctx context.Context) error {
			res, err := o.evaluateInvoice(ctx, docs[i], catalog)
			if err != nil {
				progress.Done(false)
				return err
			}
			progress.Done(true)
			results[i] = res
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// persist writes the run to the store when one is configured.
func (o *Orchestrator) persist(ctx context.Context, result *RunResult) error {
	if o.store == nil {
		return nil
	}

	var errs []*errors.ReconcilerError
	record := func(operation string, err error) {
		if err == nil {
			return
		}
		wrapped := errors.StorageError(operation, err)
		o.logger.WithError(err).WithField("operation", operation).Error("Failed to persist run data")
		result.Warnings = append(result.Warnings, wrapped.Error())
		errs = append(errs, wrapped)
	}

	if o.config.PersistUnmatched && len(result.Unmatched) > 0 {
		record("save_unmatched", o.store.SaveUnmatched(ctx, result.Unmatched))
	}

	if o.config.SaveHistory {
		now := o.clock()
		var reviews []models.PendingReview
		for _, outcome := range result.ManualOutcomes() {
			reviews = append(reviews, models.NewPendingReview(result.RunID, outcome, now))
		}
		if len(reviews) > 0 {
			record("save_pending_reviews", o.store.SavePendingReviews(ctx, reviews))
		}

		record("save_run", o.store.SaveRun(ctx, &models.RunRecord{
			ID:          result.RunID,
			StartedAt:   result.StartedAt,
			FinishedAt:  result.FinishedAt,
			Invoices:    result.InvoiceNumbers(),
			Outcomes:    result.Outcomes(),
			TotalRefund: result.Summary.TotalRefund,
		}))
	}

	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return errors.NewErrorSummary(errs)
	}
}
