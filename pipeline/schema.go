package pipeline

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goliatone/go-ingest/core"
)

var requiredColumns = []string{"name", "sku", "description"}

const emptyHeaderMessage = "CSV file is empty or has no headers. Please ensure your CSV file has a header row with columns: name, sku, description"

// ValidationError rejects a whole upload before any row is touched.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// columnIndex maps normalized header names to their position. A repeated
// name resolves to its last occurrence.
type columnIndex map[string]int

func validateHeader(header []string) (columnIndex, error) {
	if len(header) == 0 {
		return nil, &ValidationError{Message: emptyHeaderMessage}
	}
	index := make(columnIndex, len(header))
	for i, name := range header {
		index[normalizeColumn(name)] = i
	}
	var missing []string
	for _, column := range requiredColumns {
		if _, ok := index[column]; !ok {
			missing = append(missing, column)
		}
	}
	if len(missing) > 0 {
		return nil, &ValidationError{Message: fmt.Sprintf(
			"Missing required columns: %s. Your CSV must have columns: name, sku, description. Found columns: %s",
			strings.Join(missing, ", "),
			strings.Join(header, ", "),
		)}
	}
	return index, nil
}

func normalizeColumn(name string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\uFEFF")))
}

// Row is one data row keyed by normalized column name.
type Row map[string]string

func (idx columnIndex) row(record []string) Row {
	row := make(Row, len(idx))
	for name, position := range idx {
		if position < len(record) {
			row[name] = record[position]
		} else {
			row[name] = ""
		}
	}
	return row
}

// ActivePolicy decides the active flag for an ingested row.
type ActivePolicy interface {
	Active(row Row) bool
}

type ConstantActivePolicy struct {
	Value bool
}

func (p ConstantActivePolicy) Active(Row) bool {
	return p.Value
}

// ColumnActivePolicy reads a boolean column, using Fallback when the column
// is absent or unparseable.
type ColumnActivePolicy struct {
	Column   string
	Fallback bool
}

func (p ColumnActivePolicy) Active(row Row) bool {
	column := normalizeColumn(p.Column)
	if column == "" {
		column = "active"
	}
	value := strings.ToLower(strings.TrimSpace(row[column]))
	switch value {
	case "yes", "y", "on":
		return true
	case "no", "n", "off":
		return false
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return p.Fallback
	}
	return parsed
}

// normalizeRow trims the required fields and reports false for rows missing
// sku or name.
func normalizeRow(row Row, policy ActivePolicy) (core.ProductUpsert, bool) {
	sku := strings.TrimSpace(row["sku"])
	name := strings.TrimSpace(row["name"])
	if sku == "" || name == "" {
		return core.ProductUpsert{}, false
	}
	upsert := core.ProductUpsert{
		SKU:    sku,
		Name:   name,
		Active: policy.Active(row),
	}
	if description := strings.TrimSpace(row["description"]); description != "" {
		upsert.Description = &description
	}
	return upsert, true
}
