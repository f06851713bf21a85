package parsers

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"invoice-reconciliation-service/internal/models"
	"invoice-reconciliation-service/pkg/errors"
	"invoice-reconciliation-service/pkg/logger"
)

// Clock returns the current time. Tests replace it to pin the date default.
type Clock func() time.Time

// NamedPattern is one entry of an ordered pattern cascade. The first capture
// group holds the extracted token.
type NamedPattern struct {
	Name  string
	Regex *regexp.Regexp
}

// InvoiceNumberPatterns are tried in order, each against every line, most
// specific first.
var InvoiceNumberPatterns = []NamedPattern{
	{"fatura_no", regexp.MustCompile(`(?i)Fatura\s+No[:.]\s*([A-Z0-9\-_/.]+)`)},
	{"invoice_no", regexp.MustCompile(`(?i)Invoice\s+No[:.]\s*([A-Z0-9\-_/.]+)`)},
	{"fatura_numarasi", regexp.MustCompile(`(?i)Fatura\s+Numarası[:.]\s*([A-Z0-9\-_/.]+)`)},
	{"belge_no", regexp.MustCompile(`(?i)Belge\s+No[:.]\s*([A-Z0-9\-_/.]+)`)},
	{"seri_no", regexp.MustCompile(`(?i)Seri\s*No[:.]\s*([A-Z0-9\-_/.]+)`)},
	{"no", regexp.MustCompile(`(?i)No[:.]\s*([A-Z0-9\-_/.]{4,})`)},
	{"f_no", regexp.MustCompile(`(?i)F\.?\s*No[:.]\s*([A-Z0-9\-_/.]+)`)},
	{"s_no", regexp.MustCompile(`(?i)S\.?\s*No[:.]\s*([A-Z0-9\-_/.]+)`)},
	{"prefixed", regexp.MustCompile(`\b([A-Z]{2,}[0-9]{4,})\b`)},
	{"series_long", regexp.MustCompile(`\b([A-Z]{3}[0-9]{10,})\b`)},
	{"inv", regexp.MustCompile(`(?i)\b(INV[0-9]+)\b`)},
	{"numeric_long", regexp.MustCompile(`\b([0-9]{8,})\b`)},
	{"alphanumeric", regexp.MustCompile(`\b([A-Z0-9]{6,})\b`)},
	{"receipt", regexp.MustCompile(`(?i)(?:Fiş|Makbuz|Dekont)[:\s]*([A-Z0-9\-_/.]{4,})`)},
	{"reference", regexp.MustCompile(`(?i)(?:Referans|Ref)[:\s]*([A-Z0-9\-_/.]{4,})`)},
}

// InvoiceDatePatterns are tried in order, labelled dates first.
var InvoiceDatePatterns = []NamedPattern{
	{"fatura_tarihi", regexp.MustCompile(`(?i)Fatura\s+Tarihi[:.]\s*(\d{1,2}[/\-.]\d{1,2}[/\-.]\d{4})`)},
	{"irsaliye_tarihi", regexp.MustCompile(`(?i)İrsaliye\s+Tarihi[:.]\s*(\d{1,2}[/\-.]\d{1,2}[/\-.]\d{4})`)},
	{"tarih", regexp.MustCompile(`(?i)Tarih[:.]\s*(\d{1,2}[/\-.]\d{1,2}[/\-.]\d{4})`)},
	{"date", regexp.MustCompile(`(?i)Date[:.]\s*(\d{1,2}[/\-.]\d{1,2}[/\-.]\d{4})`)},
	{"invoice_date", regexp.MustCompile(`(?i)Invoice\s+Date[:.]\s*(\d{1,2}[/\-.]\d{1,2}[/\-.]\d{4})`)},
	{"dashed", regexp.MustCompile(`(\d{2}-\d{2}-\d{4})`)},
	{"dotted", regexp.MustCompile(`(\d{2}\.\d{2}\.\d{4})`)},
	{"slashed", regexp.MustCompile(`(\d{2}/\d{2}/\d{4})`)},
	{"standalone", regexp.MustCompile(`\b(\d{1,2}[/\-.]\d{1,2}[/\-.]\d{4})\b`)},
}

const fallbackScanName = "alphanumeric token scan"

var (
	fallbackToken = regexp.MustCompile(`[A-Z0-9\-_/.]+`)
	hasDigit      = regexp.MustCompile(`[0-9]`)
	hasLetter     = regexp.MustCompile(`[A-Z]`)
	dateSeparator = regexp.MustCompile(`[/\-.]`)
)

// HeaderExtractor recovers the invoice number and date from reconstructed text.
type HeaderExtractor struct {
	config *Config
	clock  Clock
	logger logger.Logger
}

// NewHeaderExtractor creates a header extractor. A nil config uses
// DefaultConfig, a nil clock uses time.Now.
func NewHeaderExtractor(config *Config, clock Clock, log logger.Logger) *HeaderExtractor {
	if config == nil {
		config = DefaultConfig()
	}
	if clock == nil {
		clock = time.Now
	}
	return &HeaderExtractor{
		config: config,
		clock:  clock,
		logger: logger.OrNop(log).WithComponent("header_extractor"),
	}
}

// Extract returns the invoice header. A missing invoice number is fatal for the
// invoice; a missing date is replaced by the clock's current date.
func (h *HeaderExtractor) Extract(source, text string) (*models.InvoiceHeader, error) {
	number, ok := h.ExtractInvoiceNumber(text)
	if !ok {
		diag := errors.NewDiagnostics(text, h.config.SampleLines, fallbackScanName)
		h.logger.WithFields(logger.Fields{
			"source":      source,
			"text_length": diag.TextLength,
		}).Error("No invoice number found")
		return nil, errors.ExtractionError(errors.CodeNoInvoiceNumber, source, diag, nil)
	}

	date, found := h.ExtractDate(text, h.clock())
	if !found {
		h.logger.WithField("source", source).Warn("No invoice date found, using current date")
	}

	return &models.InvoiceHeader{
		Number:        number,
		Date:          date,
		DateDefaulted: !found,
	}, nil
}

// ExtractInvoiceNumber runs the label cascade and then the alphanumeric
// fallback scan.
func (h *HeaderExtractor) ExtractInvoiceNumber(text string) (string, bool) {
	lines := SplitLines(text)

	for _, pattern := range InvoiceNumberPatterns {
		for _, line := range lines {
			match := pattern.Regex.FindStringSubmatch(line)
			if len(match) < 2 {
				continue
			}
			candidate := strings.TrimSpace(match[1])
			if len(candidate) >= h.config.MinInvoiceNumberLength {
				h.logger.WithFields(logger.Fields{
					"pattern":        pattern.Name,
					"invoice_number": candidate,
				}).Debug("Invoice number matched")
				return candidate, true
			}
		}
	}

	for _, line := range lines {
		for _, candidate := range fallbackToken.FindAllString(line, -1) {
			if len(candidate) >= h.config.FallbackTokenLength &&
				hasDigit.MatchString(candidate) && hasLetter.MatchString(candidate) {
				h.logger.WithField("invoice_number", candidate).Debug("Invoice number from fallback scan")
				return candidate, true
			}
		}
	}

	return "", false
}

// ExtractDate returns the first parseable day/month/year date. When none is
// found it returns the date part of now and false.
func (h *HeaderExtractor) ExtractDate(text string, now time.Time) (time.Time, bool) {
	lines := SplitLines(text)

	for _, pattern := range InvoiceDatePatterns {
		for _, line := range lines {
			match := pattern.Regex.FindStringSubmatch(line)
			if len(match) < 2 {
				continue
			}
			if date, ok := parseDayMonthYear(match[1]); ok {
				return date, true
			}
		}
	}

	year, month, day := now.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC), false
}

// parseDayMonthYear reads D/M/YYYY with any of / - . as separator and rejects
// calendar-invalid dates.
func parseDayMonthYear(s string) (time.Time, bool) {
	parts := dateSeparator.Split(strings.TrimSpace(s), -1)
	if len(parts) != 3 || len(parts[2]) != 4 {
		return time.Time{}, false
	}

	day, errDay := strconv.Atoi(parts[0])
	month, errMonth := strconv.Atoi(parts[1])
	year, errYear := strconv.Atoi(parts[2])
	if errDay != nil || errMonth != nil || errYear != nil {
		return time.Time{}, false
	}
	if month < 1 || month > 12 || day < 1 {
		return time.Time{}, false
	}

	date := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if date.Day() != day || int(date.Month()) != month {
		return time.Time{}, false
	}
	return date, true
}
