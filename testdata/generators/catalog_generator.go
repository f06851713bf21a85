package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// CatalogGenerator writes reference lists and mapping tables that share one
// product universe, so the files can be loaded together by reconcile.
type CatalogGenerator struct {
	Count      int
	Seed       int64
	DirtyRatio float64
	Date       time.Time
	rng        *rand.Rand
}

// Product is one generated catalog entry.
type Product struct {
	Key          string
	OriginName   string
	ListAName    string
	ListBName    string
	SupplierCode string
	ListPrice    decimal.Decimal
	MaxPrice     decimal.Decimal
}

var (
	substances = []string{"PARACETAMOL", "IBUPROFEN", "AMOKSISILIN", "METFORMIN", "OMEPRAZOL",
		"SEFUROKSIM", "DIKLOFENAK", "LEVOTIROKSIN", "ATORVASTATIN", "KLARITROMISIN"}
	strengths = []string{"100 MG", "250 MG", "500 MG", "850 MG", "1000 MG", "40 MG"}
	forms     = []string{"TABLET", "FILM TABLET", "KAPSUL", "SURUP", "AMPUL"}
	packs     = []int{10, 14, 16, 20, 28, 30}
)

func main() {
	var (
		outputDir  = flag.String("output-dir", "../generated", "Output directory for generated files")
		count      = flag.Int("count", 200, "Number of products to generate")
		seed       = flag.Int64("seed", time.Now().UnixNano(), "Random seed for reproducible generation")
		format     = flag.String("format", "csv", "Output format: csv or xlsx")
		dirtyRatio = flag.Float64("dirty-ratio", 0.0, "Fraction of price rows written with unreadable values")
		date       = flag.String("date", "2024-01-01", "Effective date of list A (YYYY-MM-DD)")
	)
	flag.Parse()

	if *format != "csv" && *format != "xlsx" {
		log.Fatalf("Unsupported format: %s", *format)
	}
	if *dirtyRatio < 0 || *dirtyRatio > 1 {
		log.Fatalf("dirty-ratio must be between 0 and 1")
	}
	effective, err := time.Parse("2006-01-02", *date)
	if err != nil {
		log.Fatalf("Invalid date: %v", err)
	}

	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	generator := &CatalogGenerator{
		Count:      *count,
		Seed:       *seed,
		DirtyRatio: *dirtyRatio,
		Date:       effective,
		rng:        rand.New(rand.NewSource(*seed)),
	}
	products := generator.Products()

	tables := map[string][][]string{
		"list_a":         generator.ListA(products),
		"list_b":         generator.ListB(products),
		"special_limits": generator.SpecialLimits(products),
		"mappings":       generator.Mappings(products),
		"stock_mappings": generator.StockMappings(products),
	}

	for name, rows := range tables {
		path := filepath.Join(*outputDir, name+"."+*format)
		if *format == "xlsx" {
			err = writeXLSX(path, rows)
		} else {
			err = writeCSV(path, rows)
		}
		if err != nil {
			log.Fatalf("Failed to write %s: %v", path, err)
		}
		fmt.Printf("Wrote %d rows to %s\n", len(rows)-1, path)
	}

	fmt.Printf("Generated %d products (seed %d)\n", len(products), *seed)
}

// Products builds a unique product universe.
func (g *CatalogGenerator) Products() []Product {
	seen := make(map[string]bool)
	products := make([]Product, 0, g.Count)

	for attempts := 0; len(products) < g.Count && attempts < g.Count*20; attempts++ {
		substance := substances[g.rng.Intn(len(substances))]
		strength := strengths[g.rng.Intn(len(strengths))]
		form := forms[g.rng.Intn(len(forms))]
		pack := packs[g.rng.Intn(len(packs))]

		key := fmt.Sprintf("%s %s %d %s", substance, strength, pack, form)
		if seen[key] {
			continue
		}
		seen[key] = true

		listPrice := decimal.NewFromInt(int64(20 + g.rng.Intn(480))).
			Add(decimal.NewFromInt(int64(g.rng.Intn(100))).Div(decimal.NewFromInt(100)))
		// List B prices sit between 20% and 45% of the list A price.
		share := decimal.NewFromInt(int64(20 + g.rng.Intn(26))).Div(decimal.NewFromInt(100))

		products = append(products, Product{
			Key:          key,
			OriginName:   fmt.Sprintf("%s %s %dX %s", substance, strings.ReplaceAll(strength, " ", ""), pack, abbreviate(form)),
			ListAName:    key,
			ListBName:    fmt.Sprintf("%s %s %s %d'LI", substance, strength, form, pack),
			SupplierCode: fmt.Sprintf("%03d.%02d.%04d", 100+g.rng.Intn(900), g.rng.Intn(100), len(products)+1),
			ListPrice:    listPrice,
			MaxPrice:     listPrice.Mul(share).Round(2),
		})
	}

	return products
}

func (g *CatalogGenerator) ListA(products []Product) [][]string {
	rows := [][]string{{"product_name", "list_price", "effective_date"}}
	for _, p := range products {
		rows = append(rows, []string{p.ListAName, g.price(p.ListPrice), g.Date.Format("02.01.2006")})
	}
	return rows
}

func (g *CatalogGenerator) ListB(products []Product) [][]string {
	rows := [][]string{{"product_name", "max_price", "observed_date"}}
	for _, p := range products {
		observed := g.Date.AddDate(0, 0, g.rng.Intn(90))
		rows = append(rows, []string{p.ListBName, g.price(p.MaxPrice), observed.Format("2006-01-02")})
	}
	return rows
}

// SpecialLimits covers roughly one product in ten; a quarter of them inactive.
func (g *CatalogGenerator) SpecialLimits(products []Product) [][]string {
	rows := [][]string{{"product_name", "fixed_max_price", "active"}}
	for _, p := range products {
		if g.rng.Intn(10) != 0 {
			continue
		}
		active := "yes"
		if g.rng.Intn(4) == 0 {
			active = "no"
		}
		limit := p.ListPrice.Mul(decimal.NewFromFloat(0.4)).Round(2)
		rows = append(rows, []string{p.Key, g.price(limit), active})
	}
	return rows
}

func (g *CatalogGenerator) Mappings(products []Product) [][]string {
	rows := [][]string{{"canonical_key", "origin_name", "list_a_name", "list_b_name", "alternate_names"}}
	for _, p := range products {
		alternates := strings.Join([]string{
			strings.ToLower(p.Key),
			strings.ReplaceAll(p.Key, " MG", "MG"),
		}, ";")
		rows = append(rows, []string{p.Key, p.OriginName, p.ListAName, p.ListBName, alternates})
	}
	return rows
}

func (g *CatalogGenerator) StockMappings(products []Product) [][]string {
	rows := [][]string{{"supplier_code", "supplier_name", "origin_name"}}
	for _, p := range products {
		rows = append(rows, []string{p.SupplierCode, strings.ToLower(p.OriginName), p.OriginName})
	}
	return rows
}

// price renders a Turkish-notation amount, or garbage for dirty rows.
func (g *CatalogGenerator) price(d decimal.Decimal) string {
	if g.DirtyRatio > 0 && g.rng.Float64() < g.DirtyRatio {
		return "N/A"
	}
	return strings.Replace(d.StringFixed(2), ".", ",", 1)
}

func abbreviate(form string) string {
	switch form {
	case "FILM TABLET":
		return "FTB"
	case "TABLET":
		return "TB"
	case "KAPSUL":
		return "KPS"
	case "AMPUL":
		return "AMP"
	default:
		return form
	}
}

func writeCSV(path string, rows [][]string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.WriteAll(rows); err != nil {
		return err
	}
	return writer.Error()
}

func writeXLSX(path string, rows [][]string) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		values := make([]interface{}, len(row))
		for j, v := range row {
			values[j] = v
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return err
		}
	}
	return f.SaveAs(path)
}
