package dataset

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// ColumnType is the semantic type assigned to a column during discovery.
type ColumnType string

const (
	Numeric     ColumnType = "numeric"
	Categorical ColumnType = "categorical"
	Datetime    ColumnType = "datetime"
)

type Column struct {
	Name string
	Type ColumnType
}

// Schema is the ordered column list discovered from the data. It is built
// once per dataset and never mutated afterwards.
type Schema []Column

func (s Schema) Has(name string) bool {
	for _, c := range s {
		if c.Name == name {
			return true
		}
	}
	return false
}

func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, c := range s {
		names[i] = c.Name
	}
	return names
}

// Describe renders the schema as one "name (type)" line per column, for
// grounding oracle prompts.
func (s Schema) Describe() string {
	var b strings.Builder
	for _, c := range s {
		fmt.Fprintf(&b, "- %s (%s)\n", c.Name, c.Type)
	}
	return b.String()
}

// Dataset is a read-only tabular view over activity records. Cells are kept
// as raw CSV strings; typed access converts on read.
type Dataset struct {
	schema  Schema
	index   map[string]int
	records [][]string
}

var datetimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// LoadCSV reads a CSV file with a header row and discovers the schema by
// inspecting every value in each column.
func LoadCSV(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("dataset is empty")
	}

	return New(rows[0], rows[1:])
}

// New builds a dataset from a header and records. Records shorter than the
// header are rejected.
func New(header []string, records [][]string) (*Dataset, error) {
	if len(header) == 0 {
		return nil, fmt.Errorf("dataset has no columns")
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("column %d has an empty name", i)
		}
		if _, dup := index[name]; dup {
			return nil, fmt.Errorf("duplicate column %q", name)
		}
		header[i] = name
		index[name] = i
	}

	for n, rec := range records {
		if len(rec) != len(header) {
			return nil, fmt.Errorf("row %d has %d values, expected %d", n+1, len(rec), len(header))
		}
	}

	schema := make(Schema, len(header))
	for i, name := range header {
		schema[i] = Column{Name: name, Type: discoverType(records, i)}
	}

	return &Dataset{schema: schema, index: index, records: records}, nil
}

// discoverType inspects all non-empty values in a column. A column is
// numeric or datetime only if every such value parses; otherwise it is
// categorical.
func discoverType(records [][]string, col int) ColumnType {
	sawValue := false
	numeric := true
	datetime := true

	for _, rec := range records {
		v := strings.TrimSpace(rec[col])
		if v == "" {
			continue
		}
		sawValue = true
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			numeric = false
		}
		if !parsesAsTime(v) {
			datetime = false
		}
		if !numeric && !datetime {
			return Categorical
		}
	}

	if !sawValue {
		return Categorical
	}
	if numeric {
		return Numeric
	}
	if datetime {
		return Datetime
	}
	return Categorical
}

func parsesAsTime(v string) bool {
	for _, layout := range datetimeLayouts {
		if _, err := time.Parse(layout, v); err == nil {
			return true
		}
	}
	return false
}

func (d *Dataset) Schema() Schema {
	out := make(Schema, len(d.schema))
	copy(out, d.schema)
	return out
}

func (d *Dataset) RowCount() int {
	return len(d.records)
}

// Cell returns the raw value at (row, column name). The empty string stands
// for a missing value.
func (d *Dataset) Cell(row int, name string) (string, error) {
	col, ok := d.index[name]
	if !ok {
		return "", fmt.Errorf("unknown column %q", name)
	}
	if row < 0 || row >= len(d.records) {
		return "", fmt.Errorf("row %d out of range", row)
	}
	return d.records[row][col], nil
}

// NumericColumn converts a numeric column to float64s. Missing or
// unparseable values come back as NaN so generated code can skip them.
func (d *Dataset) NumericColumn(name string) ([]float64, error) {
	col, ok := d.index[name]
	if !ok {
		return nil, fmt.Errorf("unknown column %q", name)
	}
	if d.schema[col].Type != Numeric {
		return nil, fmt.Errorf("column %q is %s, not numeric", name, d.schema[col].Type)
	}

	out := make([]float64, len(d.records))
	for i, rec := range d.records {
		v := strings.TrimSpace(rec[col])
		if v == "" {
			out[i] = math.NaN()
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			out[i] = math.NaN()
			continue
		}
		out[i] = f
	}
	return out, nil
}

// StringColumn returns a column's raw values for any column type.
func (d *Dataset) StringColumn(name string) ([]string, error) {
	col, ok := d.index[name]
	if !ok {
		return nil, fmt.Errorf("unknown column %q", name)
	}
	out := make([]string, len(d.records))
	for i, rec := range d.records {
		out[i] = rec[col]
	}
	return out, nil
}

// Head returns up to n rows as raw strings, header excluded.
func (d *Dataset) Head(n int) [][]string {
	if n > len(d.records) {
		n = len(d.records)
	}
	out := make([][]string, n)
	for i := 0; i < n; i++ {
		row := make([]string, len(d.records[i]))
		copy(row, d.records[i])
		out[i] = row
	}
	return out
}

// Sample renders the header plus the first n rows as a pipe-separated table
// for prompt context.
func (d *Dataset) Sample(n int) string {
	var b strings.Builder
	b.WriteString(strings.Join(d.schema.Names(), " | "))
	b.WriteString("\n")
	for _, row := range d.Head(n) {
		b.WriteString(strings.Join(row, " | "))
		b.WriteString("\n")
	}
	return b.String()
}
