// Package pdftext reads the text layer of invoice PDFs into positioned
// fragments. PDF user space has its origin at the bottom of the page, so y is
// flipped here: fragments of one page grow downwards from 0 at the topmost
// glyph, which is the order the text reconstructor expects.
package pdftext

import (
	"context"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"invoice-reconciliation-service/internal/models"
	"invoice-reconciliation-service/pkg/errors"
	"invoice-reconciliation-service/pkg/logger"

	"github.com/ledongthuc/pdf"
	"github.com/sourcegraph/conc/pool"
)

// Config controls text layer extraction.
type Config struct {
	// MaxPages caps the pages read per document; 0 reads all pages.
	MaxPages int `mapstructure:"max_pages"`
	// LineTolerance is the vertical distance below which glyphs share a row.
	LineTolerance float64 `mapstructure:"line_tolerance"`
	// WordGap is the horizontal gap, as a fraction of the font size, that
	// starts a new word.
	WordGap float64 `mapstructure:"word_gap"`
	Workers int     `mapstructure:"workers"`
}

// DefaultConfig returns the default extraction configuration
func DefaultConfig() *Config {
	return &Config{
		MaxPages:      50,
		LineTolerance: 0.5,
		WordGap:       0.25,
		Workers:       4,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.MaxPages < 0 {
		return fmt.Errorf("max pages cannot be negative, got %d", c.MaxPages)
	}
	if c.LineTolerance <= 0 {
		return fmt.Errorf("line tolerance must be positive, got %f", c.LineTolerance)
	}
	if c.WordGap <= 0 {
		return fmt.Errorf("word gap must be positive, got %f", c.WordGap)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	return nil
}

// Extractor turns PDF files into invoice documents.
type Extractor struct {
	config *Config
	logger logger.Logger
}

// NewExtractor creates an extractor. A nil config uses DefaultConfig.
func NewExtractor(config *Config, log logger.Logger) *Extractor {
	if config == nil {
		config = DefaultConfig()
	}
	return &Extractor{
		config: config,
		logger: logger.OrNop(log).WithComponent("pdf_extractor"),
	}
}

// ExtractDocument reads every page of the PDF at path.
func (e *Extractor) ExtractDocument(path string) (models.InvoiceDocument, error) {
	pages, err := e.ExtractPages(path)
	if err != nil {
		return models.InvoiceDocument{}, err
	}
	return models.InvoiceDocument{Source: filepath.Base(path), Pages: pages}, nil
}

// ExtractPages returns the positioned fragments of each page. Pages whose
// content cannot be decoded are skipped and logged; a document that cannot be
// opened at all returns a pdf_unreadable error.
func (e *Extractor) ExtractPages(path string) (pages []models.Page, err error) {
	if _, statErr := os.Stat(path); statErr != nil {
		return nil, errors.FileError(errors.CodeFileNotFound, path, statErr)
	}

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, errors.ExtractionError(errors.CodePDFUnreadable, path, errors.Diagnostics{}, err)
	}
	defer f.Close()

	count := r.NumPage()
	if e.config.MaxPages > 0 && count > e.config.MaxPages {
		e.logger.WithFields(logger.Fields{
			"file":  path,
			"pages": count,
			"limit": e.config.MaxPages,
		}).Warn("Page limit reached, ignoring remaining pages")
		count = e.config.MaxPages
	}

	for i := 1; i <= count; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		glyphs, pageErr := pageGlyphs(p)
		if pageErr != nil {
			e.logger.WithError(pageErr).WithFields(logger.Fields{
				"file": path,
				"page": i,
			}).Warn("Skipping unreadable page")
			continue
		}
		pages = append(pages, models.Page{
			Number:    i,
			Fragments: MergeGlyphs(glyphs, e.config.LineTolerance, e.config.WordGap),
		})
	}

	e.logger.WithFields(logger.Fields{
		"file":  path,
		"pages": len(pages),
	}).Debug("PDF text layer read")

	return pages, nil
}

// pageGlyphs returns the page's text runs. The content decoder panics on some
// malformed streams, which is reported as an error.
func pageGlyphs(p pdf.Page) (glyphs []pdf.Text, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("decode page content: %v", r)
		}
	}()
	return p.Content().Text, nil
}

// MergeGlyphs joins the glyph runs of one page into word fragments. Runs on
// the same row whose horizontal gap is below wordGap times the font size are
// concatenated; whitespace runs end a word. The returned y values are flipped
// so the topmost row has y 0.
func MergeGlyphs(glyphs []pdf.Text, tolerance, wordGap float64) []models.PositionedFragment {
	if len(glyphs) == 0 {
		return nil
	}

	top := math.Inf(-1)
	for _, g := range glyphs {
		top = math.Max(top, g.Y)
	}

	var fragments []models.PositionedFragment
	var current *models.PositionedFragment
	var currentSize float64

	flush := func() {
		if current != nil && strings.TrimSpace(current.Text) != "" {
			current.Text = strings.TrimSpace(current.Text)
			fragments = append(fragments, *current)
		}
		current = nil
	}

	for _, g := range glyphs {
		if g.S == "" {
			continue
		}
		if isBlank(g.S) {
			flush()
			continue
		}

		y := top - g.Y
		if current != nil {
			end := current.X + current.Width
			gap := g.X - end
			limit := math.Max(currentSize, g.FontSize) * wordGap
			sameRow := math.Abs(y-current.Y) < tolerance
			if !sameRow || gap > limit || g.X < current.X {
				flush()
			}
		}

		if current == nil {
			current = &models.PositionedFragment{Text: g.S, X: g.X, Y: y, Width: g.W}
			currentSize = g.FontSize
			continue
		}
		current.Text += g.S
		current.Width = g.X + g.W - current.X
		currentSize = math.Max(currentSize, g.FontSize)
	}
	flush()

	return fragments
}

func isBlank(s string) bool {
	for _, r := range s {
		if !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

// Failure is a document that could not be read.
type Failure struct {
	Path string
	Err  error
}

// ExtractDocuments reads the PDFs concurrently. Documents are returned in the
// order of paths; unreadable files are reported as failures in the same order.
func (e *Extractor) ExtractDocuments(ctx context.Context, paths []string) ([]models.InvoiceDocument, []Failure) {
	docs := make([]*models.InvoiceDocument, len(paths))
	errs := make([]error, len(paths))

	p := pool.New().WithMaxGoroutines(e.config.Workers)
	for i := range paths {
		p.Go(func() {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return
			}
			doc, err := e.ExtractDocument(paths[i])
			if err != nil {
				errs[i] = err
				return
			}
			docs[i] = &doc
		})
	}
	p.Wait()

	var out []models.InvoiceDocument
	var failures []Failure
	for i := range paths {
		if errs[i] != nil {
			e.logger.WithError(errs[i]).WithField("file", paths[i]).Error("Failed to read PDF")
			failures = append(failures, Failure{Path: paths[i], Err: errs[i]})
			continue
		}
		out = append(out, *docs[i])
	}
	return out, failures
}

// CollectPDFs expands files and directories into a sorted, de-duplicated list
// of .pdf paths. Directories are walked recursively.
func CollectPDFs(inputs []string) ([]string, error) {
	seen := make(map[string]bool)
	var paths []string

	add := func(path string) {
		if !seen[path] {
			seen[path] = true
			paths = append(paths, path)
		}
	}

	for _, input := range inputs {
		info, err := os.Stat(input)
		if err != nil {
			return nil, errors.FileError(errors.CodeFileNotFound, input, err)
		}
		if !info.IsDir() {
			if !isPDF(input) {
				return nil, errors.FileError(errors.CodeUnsupported, input, nil)
			}
			add(filepath.Clean(input))
			continue
		}

		err = filepath.WalkDir(input, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && isPDF(path) {
				add(filepath.Clean(path))
			}
			return nil
		})
		if err != nil {
			return nil, errors.FileError(errors.CodeFilePermission, input, err)
		}
	}

	sort.Strings(paths)
	return paths, nil
}

func isPDF(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}
