package catalog

import (
	"fmt"
	"strings"

	"invoice-reconciliation-service/internal/models"
	"invoice-reconciliation-service/pkg/errors"
)

func (p *FileProvider) readListA(t *Table, stats *FileStats) ([]models.ReferencePriceA, error) {
	if err := t.RequireColumns(colProductName, colListPrice); err != nil {
		return nil, err
	}

	var out []models.ReferencePriceA
	t.Each(func(row Row) {
		name := row.Get(colProductName...)
		if name == "" {
			p.skip(stats, errors.ParseError(errors.CodeInvalidData, t.File, row.Line, colProductName[0], "", fmt.Errorf("empty product name")))
			return
		}
		price, ok := p.readPrice(t, row, colListPrice, stats)
		if !ok {
			return
		}
		date, ok := p.readDate(t, row, colEffective, stats)
		if !ok {
			return
		}
		out = append(out, models.ReferencePriceA{ProductName: name, ListPrice: price, EffectiveDate: date})
		stats.Loaded++
	})
	return out, nil
}

func (p *FileProvider) readListB(t *Table, stats *FileStats) ([]models.ReferencePriceB, error) {
	if err := t.RequireColumns(colProductName, colMaxPrice); err != nil {
		return nil, err
	}

	var out []models.ReferencePriceB
	t.Each(func(row Row) {
		name := row.Get(colProductName...)
		if name == "" {
			p.skip(stats, errors.ParseError(errors.CodeInvalidData, t.File, row.Line, colProductName[0], "", fmt.Errorf("empty product name")))
			return
		}
		price, ok := p.readPrice(t, row, colMaxPrice, stats)
		if !ok {
			return
		}
		date, ok := p.readDate(t, row, colObserved, stats)
		if !ok {
			return
		}
		out = append(out, models.ReferencePriceB{ProductName: name, MaxPrice: price, ObservedDate: date})
		stats.Loaded++
	})
	return out, nil
}

func (p *FileProvider) readLimits(t *Table, stats *FileStats) ([]models.SpecialLimit, error) {
	nameColumn := colProductName
	if t.ColumnIndex(colProductName...) == -1 {
		nameColumn = colCanonicalKey
	}
	if err := t.RequireColumns(nameColumn, colLimitPrice); err != nil {
		return nil, err
	}

	var out []models.SpecialLimit
	t.Each(func(row Row) {
		name := row.Get(nameColumn...)
		if name == "" {
			p.skip(stats, errors.ParseError(errors.CodeInvalidData, t.File, row.Line, nameColumn[0], "", fmt.Errorf("empty product name")))
			return
		}
		price, ok := p.readPrice(t, row, colLimitPrice, stats)
		if !ok {
			return
		}
		active, err := parseActive(row.Get(colActive...))
		if err != nil {
			p.skip(stats, errors.ParseError(errors.CodeInvalidData, t.File, row.Line, colActive[0], row.Get(colActive...), err))
			return
		}
		out = append(out, models.SpecialLimit{ProductName: name, FixedMaxPrice: price, Active: active})
		stats.Loaded++
	})
	return out, nil
}

// parseActive reads a flag cell. An empty cell means active.
func parseActive(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "1", "true", "yes", "y", "evet", "aktif", "active":
		return true, nil
	case "0", "false", "no", "n", "hayir", "hayır", "pasif", "inactive":
		return false, nil
	default:
		return false, fmt.Errorf("unrecognized flag %q", s)
	}
}

func (p *FileProvider) readMappings(t *Table, stats *FileStats) ([]models.MappingRow, error) {
	if err := t.RequireColumns(colCanonicalKey); err != nil {
		return nil, err
	}

	var out []models.MappingRow
	t.Each(func(row Row) {
		key := row.Get(colCanonicalKey...)
		if key == "" {
			p.skip(stats, errors.ParseError(errors.CodeInvalidData, t.File, row.Line, colCanonicalKey[0], "", fmt.Errorf("empty canonical key")))
			return
		}
		out = append(out, models.MappingRow{
			CanonicalKey:   key,
			OriginName:     row.Get(colOriginName...),
			ListAName:      row.Get(colListAName...),
			ListBName:      row.Get(colListBName...),
			AlternateNames: splitNames(row.Get(colAlternates...)),
		})
		stats.Loaded++
	})
	return out, nil
}

// splitNames splits a cell of alternate names separated by ';' or '|'.
func splitNames(s string) []string {
	var names []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ';' || r == '|' }) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			names = append(names, trimmed)
		}
	}
	return names
}

func (p *FileProvider) readStockMappings(t *Table, stats *FileStats) ([]models.StockMapping, error) {
	positional := t.ColumnIndex(colSupplierCode...) == -1 && t.ColumnIndex(colOriginName...) == -1 &&
		len(t.Headers) > stockOriginColumn
	if !positional {
		if err := t.RequireColumns(colSupplierCode, colOriginName); err != nil {
			return nil, err
		}
	}

	var out []models.StockMapping
	t.Each(func(row Row) {
		var m models.StockMapping
		if positional {
			m = models.StockMapping{
				SupplierCode: row.At(stockCodeColumn),
				SupplierName: row.At(stockNameColumn),
				OriginName:   row.At(stockOriginColumn),
			}
		} else {
			m = models.StockMapping{
				SupplierCode: row.Get(colSupplierCode...),
				SupplierName: row.Get(colSupplierName...),
				OriginName:   row.Get(colOriginName...),
			}
		}
		if m.SupplierCode == "" || m.OriginName == "" {
			p.skip(stats, errors.ParseError(errors.CodeInvalidData, t.File, row.Line, colSupplierCode[0], m.SupplierCode,
				fmt.Errorf("supplier code and origin name are required")))
			return
		}
		out = append(out, m)
		stats.Loaded++
	})
	return out, nil
}

func (p *FileProvider) readApprovals(t *Table, stats *FileStats) ([]models.Approval, error) {
	if err := t.RequireColumns(colInvoice, colProductCode); err != nil {
		return nil, err
	}

	var out []models.Approval
	t.Each(func(row Row) {
		a := models.Approval{
			InvoiceNumber: row.Get(colInvoice...),
			ProductCode:   row.Get(colProductCode...),
			ApprovedBy:    row.Get(colApprovedBy...),
			Reason:        row.Get(colReason...),
		}
		if a.InvoiceNumber == "" || a.ProductCode == "" {
			p.skip(stats, errors.ParseError(errors.CodeInvalidData, t.File, row.Line, colInvoice[0], a.InvoiceNumber,
				fmt.Errorf("invoice number and product code are required")))
			return
		}
		approvedAt, ok := p.readDate(t, row, colApprovedAt, stats)
		if !ok {
			return
		}
		a.ApprovedAt = approvedAt
		out = append(out, a)
		stats.Loaded++
	})
	return out, nil
}
