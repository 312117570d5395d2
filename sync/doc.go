package sync

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
)

// FieldDocRow represents a single row in the category documentation.
type FieldDocRow struct {
	Category  string `json:"category" yaml:"category"` // Subgraph list field (e.g., "depositEvents")
	Type      string `json:"type" yaml:"type"`         // Stored document tag (e.g., "deposit")
	FieldName string `json:"field" yaml:"field"`
	IsCore    bool   `json:"core" yaml:"core"` // id, blockTimestamp and transactionHash are carried by every category
	Notes     string `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// CategoryDocumentation describes what a sync pass requests and stores.
type CategoryDocumentation struct {
	Rows []FieldDocRow
}

// amountFields hold uint256 token amounts that read best through @decimals.
var amountFields = map[string]bool{
	"assets":           true,
	"shares":           true,
	"totalAssets":      true,
	"totalSupply":      true,
	"assetsDeposited":  true,
	"assetsWithdrawed": true,
	"sharesMinted":     true,
	"sharesBurned":     true,
	"oldHighWaterMark": true,
	"newHighWaterMark": true,
}

// GenerateCategoryDocumentation documents the given categories, all of them when none are given.
func GenerateCategoryDocumentation(selected ...CategoryDescriptor) CategoryDocumentation {
	if len(selected) == 0 {
		selected = Categories()
	}
	order := make(map[string]int, len(selected))
	doc := CategoryDocumentation{Rows: []FieldDocRow{}}
	for i, c := range selected {
		order[c.Key] = i
		for _, f := range c.Fields {
			doc.Rows = append(doc.Rows, createFieldDocRow(c, f))
		}
	}

	// Sort rows for deterministic output:
	// - categories in sync order
	// - within a category, core fields first (id, blockTimestamp, transactionHash)
	// - then alphabetically by field name
	sort.SliceStable(doc.Rows, func(i, j int) bool {
		a, b := doc.Rows[i], doc.Rows[j]
		if a.Category != b.Category {
			return order[a.Category] < order[b.Category]
		}
		if a.IsCore != b.IsCore {
			return a.IsCore
		}
		if a.IsCore {
			return coreRank(a.FieldName) < coreRank(b.FieldName)
		}
		return a.FieldName < b.FieldName
	})

	return doc
}

func coreRank(field string) int {
	switch field {
	case "id":
		return 0
	case "blockTimestamp":
		return 1
	}
	return 2
}

func createFieldDocRow(c CategoryDescriptor, field string) FieldDocRow {
	row := FieldDocRow{
		Category:  c.Key,
		Type:      c.Type,
		FieldName: field,
	}
	var notes []string
	switch field {
	case "id":
		row.IsCore = true
		notes = append(notes, "Unique id (de-duplication key)")
	case "blockTimestamp":
		row.IsCore = true
		notes = append(notes, "Watermark (cursor)", "Uses @unixTime transform")
	case "transactionHash":
		row.IsCore = true
	}
	if amountFields[field] {
		notes = append(notes, "Uses @decimals transform")
	}
	row.Notes = strings.Join(notes, " | ")
	return row
}

// FormatCSV formats the category documentation as CSV.
func (d CategoryDocumentation) FormatCSV() (string, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"Category", "Type", "Field", "Core Field", "Notes"}
	if err := writer.Write(headers); err != nil {
		return "", err
	}

	for _, row := range d.Rows {
		coreMark := ""
		if row.IsCore {
			coreMark = "✓"
		}
		record := []string{row.Category, row.Type, row.FieldName, coreMark, row.Notes}
		if err := writer.Write(record); err != nil {
			return "", err
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return "", err
	}

	return buf.String(), nil
}

// FormatText renders one block per category.
func (d CategoryDocumentation) FormatText() string {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)
	current := ""
	for _, row := range d.Rows {
		if row.Category != current {
			if current != "" {
				fmt.Fprintln(w)
			}
			current = row.Category
			fmt.Fprintf(w, "%s (type %q)\n", row.Category, row.Type)
		}
		fmt.Fprintf(w, "  %s\t%s\n", row.FieldName, row.Notes)
	}
	w.Flush()
	return buf.String()
}
