// Package catalog loads reference price lists, special limits, product mapping
// tables and prior approvals from CSV or XLSX files.
//
// Column headers are matched case-insensitively and with spaces, dashes and
// underscores treated alike, so "List Price", "list_price" and "LIST-PRICE"
// all address the same column. Rows that cannot be read are skipped, counted
// in the load report and logged; a missing required column fails the file.
package catalog

import (
	"context"
	"fmt"
	"time"

	"invoice-reconciliation-service/internal/models"
	"invoice-reconciliation-service/pkg/errors"
	"invoice-reconciliation-service/pkg/logger"

	"github.com/shopspring/decimal"
)

// Column aliases per field. The first name is the canonical header.
var (
	colProductName  = []string{"product_name", "name", "urun_adi", "ürün_adı"}
	colListPrice    = []string{"list_price", "price", "fiyat"}
	colMaxPrice     = []string{"max_price", "price", "fiyat", "en_yuksek_fiyat"}
	colEffective    = []string{"effective_date", "date", "tarih"}
	colObserved     = []string{"observed_date", "date", "tarih"}
	colLimitPrice   = []string{"fixed_max_price", "max_price", "limit"}
	colActive       = []string{"active", "aktif"}
	colCanonicalKey = []string{"canonical_key", "key"}
	colOriginName   = []string{"origin_name"}
	colListAName    = []string{"list_a_name"}
	colListBName    = []string{"list_b_name"}
	colAlternates   = []string{"alternate_names", "aliases"}
	colSupplierCode = []string{"supplier_code", "tedarikci_malzeme_kodu", "code"}
	colSupplierName = []string{"supplier_name", "tedarikci_malzeme_adi"}
	colInvoice      = []string{"invoice_number", "fatura_no"}
	colProductCode  = []string{"product_code", "code"}
	colApprovedBy   = []string{"approved_by"}
	colReason       = []string{"reason"}
	colApprovedAt   = []string{"approved_at"}
)

// Stock mapping exports without recognizable headers carry the supplier code,
// supplier name and origin item name in columns D, E and K.
const (
	stockCodeColumn   = 3
	stockNameColumn   = 4
	stockOriginColumn = 10
)

// Config names the files of a catalog. Every file is optional.
type Config struct {
	ListA         string `mapstructure:"list_a"`
	ListB         string `mapstructure:"list_b"`
	SpecialLimits string `mapstructure:"special_limits"`
	Mappings      string `mapstructure:"mappings"`
	StockMappings string `mapstructure:"stock_mappings"`
	Approvals     string `mapstructure:"approvals"`
	// Sheet selects the XLSX sheet; empty reads the first sheet.
	Sheet     string `mapstructure:"sheet"`
	Delimiter string `mapstructure:"delimiter"`
}

// DefaultConfig returns an empty catalog configuration with comma-separated CSV
func DefaultConfig() *Config {
	return &Config{Delimiter: ","}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if len([]rune(c.Delimiter)) > 1 {
		return fmt.Errorf("delimiter must be a single character, got %q", c.Delimiter)
	}
	if c.ListA == "" && c.ListB == "" && c.SpecialLimits == "" {
		return fmt.Errorf("at least one of list A, list B or special limits must be configured")
	}
	return nil
}

func (c *Config) delimiter() rune {
	if c.Delimiter == "" {
		return ','
	}
	return []rune(c.Delimiter)[0]
}

// FileStats counts the rows of one catalog file.
type FileStats struct {
	File    string `json:"file"`
	Rows    int    `json:"rows"`
	Loaded  int    `json:"loaded"`
	Skipped int    `json:"skipped"`
}

// LoadReport describes the last Load.
type LoadReport struct {
	Files  map[string]FileStats     `json:"files"`
	Errors []*errors.ReconcilerError `json:"-"`
}

// FileProvider reads a catalog snapshot from files on every Load.
type FileProvider struct {
	config *Config
	logger logger.Logger
	now    func() time.Time
	report LoadReport
}

// NewFileProvider creates a file-backed catalog provider.
func NewFileProvider(config *Config, log logger.Logger) (*FileProvider, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "catalog", config, err)
	}
	return &FileProvider{
		config: config,
		logger: logger.OrNop(log).WithComponent("catalog"),
		now:    time.Now,
	}, nil
}

// Report returns the statistics of the last Load.
func (p *FileProvider) Report() LoadReport {
	return p.report
}

type loader struct {
	name string
	path string
	load func(*Table, *FileStats) error
}

// Load reads every configured file into a snapshot.
func (p *FileProvider) Load(ctx context.Context) (*models.CatalogSnapshot, error) {
	snapshot := &models.CatalogSnapshot{LoadedAt: p.now()}
	p.report = LoadReport{Files: make(map[string]FileStats)}

	loaders := []loader{
		{"list_a", p.config.ListA, func(t *Table, s *FileStats) error {
			var err error
			snapshot.ListA, err = p.readListA(t, s)
			return err
		}},
		{"list_b", p.config.ListB, func(t *Table, s *FileStats) error {
			var err error
			snapshot.ListB, err = p.readListB(t, s)
			return err
		}},
		{"special_limits", p.config.SpecialLimits, func(t *Table, s *FileStats) error {
			var err error
			snapshot.SpecialLimits, err = p.readLimits(t, s)
			return err
		}},
		{"mappings", p.config.Mappings, func(t *Table, s *FileStats) error {
			var err error
			snapshot.Mappings, err = p.readMappings(t, s)
			return err
		}},
		{"stock_mappings", p.config.StockMappings, func(t *Table, s *FileStats) error {
			var err error
			snapshot.StockMappings, err = p.readStockMappings(t, s)
			return err
		}},
		{"approvals", p.config.Approvals, func(t *Table, s *FileStats) error {
			var err error
			snapshot.Approvals, err = p.readApprovals(t, s)
			return err
		}},
	}

	for _, l := range loaders {
		if l.path == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, errors.InternalError(errors.CodeCancelled, "catalog_load", err)
		}

		table, err := ReadTable(l.path, p.config.Sheet, p.config.delimiter())
		if err != nil {
			p.logger.WithError(err).WithField("file", l.path).Error("Failed to read catalog file")
			return nil, err
		}

		stats := FileStats{File: l.path, Rows: len(table.Rows)}
		if err := l.load(table, &stats); err != nil {
			p.logger.WithError(err).WithField("file", l.path).Error("Catalog file has an unexpected layout")
			return nil, err
		}
		p.report.Files[l.name] = stats

		log := p.logger.WithFields(logger.Fields{
			"table":   l.name,
			"file":    l.path,
			"loaded":  stats.Loaded,
			"skipped": stats.Skipped,
		})
		if stats.Skipped > 0 {
			log.Warn("Catalog table loaded with skipped rows")
		} else {
			log.Info("Catalog table loaded")
		}
	}

	return snapshot, nil
}

func (p *FileProvider) skip(stats *FileStats, err *errors.ReconcilerError) {
	stats.Skipped++
	p.report.Errors = append(p.report.Errors, err)
	p.logger.WithError(err).Debug("Skipping catalog row")
}

// readPrice parses a positive amount, recording a skipped row on failure.
func (p *FileProvider) readPrice(t *Table, row Row, column []string, stats *FileStats) (decimal.Decimal, bool) {
	raw := row.Get(column...)
	amount, err := models.ParseDecimalFromString(raw)
	if err == nil && !amount.IsPositive() {
		err = fmt.Errorf("amount must be positive")
	}
	if err != nil {
		p.skip(stats, errors.ParseError(errors.CodeInvalidData, t.File, row.Line, column[0], raw, err))
		return decimal.Zero, false
	}
	return amount, true
}

// readDate parses an optional date; an empty cell yields the zero time.
func (p *FileProvider) readDate(t *Table, row Row, column []string, stats *FileStats) (time.Time, bool) {
	raw := row.Get(column...)
	if raw == "" {
		return time.Time{}, true
	}
	date, err := models.ParseTimeWithFormats(raw)
	if err != nil {
		p.skip(stats, errors.ParseError(errors.CodeInvalidData, t.File, row.Line, column[0], raw, err))
		return time.Time{}, false
	}
	return date, true
}
