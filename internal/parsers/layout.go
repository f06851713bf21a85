package parsers

import (
	"math"
	"sort"
	"strings"

	"invoice-reconciliation-service/internal/models"
)

// DefaultSameLineTolerance is the vertical distance below which two fragments
// share a line.
const DefaultSameLineTolerance = 0.5

// ReconstructText merges the positioned fragments of every page into
// newline-separated lines using DefaultSameLineTolerance.
func ReconstructText(pages []models.Page) string {
	return ReconstructTextWithTolerance(pages, DefaultSameLineTolerance)
}

// ReconstructTextWithTolerance orders fragments top to bottom, groups fragments
// whose y differs from the previous fragment by less than tolerance into one
// line, orders each line left to right and joins it with single spaces.
// Pages follow each other in the order given. No pages yields "".
func ReconstructTextWithTolerance(pages []models.Page, tolerance float64) string {
	var lines []string
	for _, page := range pages {
		lines = append(lines, pageLines(page.Fragments, tolerance)...)
	}
	return strings.Join(lines, "\n")
}

func pageLines(fragments []models.PositionedFragment, tolerance float64) []string {
	if len(fragments) == 0 {
		return nil
	}

	ordered := make([]models.PositionedFragment, len(fragments))
	copy(ordered, fragments)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Y < ordered[j].Y
	})

	var rows [][]models.PositionedFragment
	current := []models.PositionedFragment{ordered[0]}
	for i := 1; i < len(ordered); i++ {
		if math.Abs(ordered[i].Y-ordered[i-1].Y) >= tolerance {
			rows = append(rows, current)
			current = nil
		}
		current = append(current, ordered[i])
	}
	rows = append(rows, current)

	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		sort.SliceStable(row, func(i, j int) bool {
			return row[i].X < row[j].X
		})
		parts := make([]string, len(row))
		for i, f := range row {
			parts[i] = f.Text
		}
		lines = append(lines, strings.TrimSpace(strings.Join(parts, " ")))
	}
	return lines
}

// SplitLines returns the trimmed, non-empty lines of reconstructed text.
func SplitLines(text string) []string {
	raw := strings.Split(text, "\n")
	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return lines
}
