package loader

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strings"
)

// CSVLoaderConfig configures the CSV loader.
type CSVLoaderConfig struct {
	// Delimiter is the field separator. Defaults to ','.
	Delimiter rune
	// ContentColumns lists header names to keep. Empty means all columns.
	ContentColumns []string
}

// CSVLoader renders a CSV export (manifests, packing lists) as one line per row,
// each line as "column: value" pairs. The first row is treated as a header.
type CSVLoader struct {
	config CSVLoaderConfig
}

// NewCSVLoader creates a CSVLoader with the given config.
func NewCSVLoader(config CSVLoaderConfig) *CSVLoader {
	if config.Delimiter == 0 {
		config.Delimiter = ','
	}
	return &CSVLoader{config: config}
}

// Load reads a CSV file and returns its rows as text.
func (l *CSVLoader) Load(ctx context.Context, source string) (*Document, error) {
	data, err := readSource(ctx, "csv", source)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = l.config.Delimiter
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("csv loader: parsing %s: %w", source, err)
	}

	meta := baseMetadata(source, "text/csv", "csv")
	if len(records) < 2 {
		meta["rows"] = 0
		return &Document{Metadata: meta}, nil
	}

	header := records[0]
	columns := l.resolveContentColumns(header)

	lines := make([]string, 0, len(records)-1)
	for _, row := range records[1:] {
		parts := make([]string, 0, len(columns))
		for _, idx := range columns {
			if idx < len(row) && strings.TrimSpace(row[idx]) != "" {
				parts = append(parts, header[idx]+": "+strings.TrimSpace(row[idx]))
			}
		}
		if len(parts) > 0 {
			lines = append(lines, strings.Join(parts, "; "))
		}
	}

	meta["rows"] = len(records) - 1
	meta["columns"] = header
	return &Document{Text: strings.Join(lines, "\n"), Metadata: meta}, nil
}

// resolveContentColumns returns column indices to include in content.
func (l *CSVLoader) resolveContentColumns(header []string) []int {
	wanted := make(map[string]bool, len(l.config.ContentColumns))
	for _, col := range l.config.ContentColumns {
		wanted[strings.ToLower(col)] = true
	}

	var indices []int
	for i, h := range header {
		if len(wanted) == 0 || wanted[strings.ToLower(h)] {
			indices = append(indices, i)
		}
	}
	// no configured column matched: fall back to all
	if len(indices) == 0 {
		for i := range header {
			indices = append(indices, i)
		}
	}
	return indices
}

// SupportedTypes returns the extensions handled by CSVLoader.
func (l *CSVLoader) SupportedTypes() []string {
	return []string{".csv"}
}
