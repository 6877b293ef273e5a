package table

import (
	"fmt"
	"strings"
)

// --------------------------------------------------------------------------
// Column Type Definition
// --------------------------------------------------------------------------

// ColumnType defines the type tag of a table column.
type ColumnType uint8

const (
	TypeBigint  ColumnType = iota + 1 // int64
	TypeInteger                       // int32
	TypeFloat                         // float64
	TypeString                        // string
)

// String returns the string representation of a ColumnType.
func (t ColumnType) String() string {
	switch t {
	case TypeBigint:
		return "bigint"
	case TypeInteger:
		return "integer"
	case TypeFloat:
		return "float"
	case TypeString:
		return "string"
	default:
		return "unknown"
	}
}

// --------------------------------------------------------------------------
// Table Structure
// --------------------------------------------------------------------------

// ColumnInfo describes a single column of a table schema.
type ColumnInfo struct {
	Name string
	Type ColumnType
}

// Column is a convenience constructor for ColumnInfo.
func Column(name string, t ColumnType) ColumnInfo {
	return ColumnInfo{Name: name, Type: t}
}

// Table is an ordered collection of rows conforming to a fixed schema.
type Table struct {
	columns []ColumnInfo
	rows    [][]any
}

// New creates an empty table with the given schema.
func New(columns ...ColumnInfo) *Table {
	return &Table{columns: columns}
}

// Columns returns the table schema.
func (t *Table) Columns() []ColumnInfo {
	return t.columns
}

// RowCount returns the number of rows appended so far.
func (t *Table) RowCount() int {
	return len(t.rows)
}

// AddRow appends a row. The number of values and the type of each value
// must match the schema.
func (t *Table) AddRow(values ...any) error {
	if len(values) != len(t.columns) {
		return fmt.Errorf("table: row has %d values, schema has %d columns", len(values), len(t.columns))
	}
	row := make([]any, len(values))
	for i, v := range values {
		cv, err := coerce(v, t.columns[i].Type)
		if err != nil {
			return fmt.Errorf("table: column %q: %v", t.columns[i].Name, err)
		}
		row[i] = cv
	}
	t.rows = append(t.rows, row)
	return nil
}

// MustAddRow is AddRow for rows built from a known-good schema. It panics on
// a schema mismatch, which is a programming error on the producing side.
func (t *Table) MustAddRow(values ...any) {
	if err := t.AddRow(values...); err != nil {
		panic(err)
	}
}

// coerce normalizes a value to the canonical Go type of the column tag.
func coerce(v any, ct ColumnType) (any, error) {
	switch ct {
	case TypeBigint:
		switch n := v.(type) {
		case int64:
			return n, nil
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		}
	case TypeInteger:
		switch n := v.(type) {
		case int32:
			return n, nil
		case int:
			return int32(n), nil
		case int64:
			return int32(n), nil
		}
	case TypeFloat:
		if f, ok := v.(float64); ok {
			return f, nil
		}
	case TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	}
	return nil, fmt.Errorf("value %v (%T) not assignable to %s column", v, v, ct)
}

// --------------------------------------------------------------------------
// Row Access
// --------------------------------------------------------------------------

// GetLong returns the int64 value at (row, column name).
func (t *Table) GetLong(row int, column string) (int64, error) {
	v, err := t.get(row, column)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	}
	return 0, fmt.Errorf("table: column %q is not numeric", column)
}

// GetString returns the string value at (row, column name).
func (t *Table) GetString(row int, column string) (string, error) {
	v, err := t.get(row, column)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("table: column %q is not a string", column)
	}
	return s, nil
}

// Row returns the raw values of a row in column order.
func (t *Table) Row(row int) ([]any, error) {
	if row < 0 || row >= len(t.rows) {
		return nil, fmt.Errorf("table: row %d out of range (%d rows)", row, len(t.rows))
	}
	return t.rows[row], nil
}

func (t *Table) get(row int, column string) (any, error) {
	r, err := t.Row(row)
	if err != nil {
		return nil, err
	}
	for i, c := range t.columns {
		if c.Name == column {
			return r[i], nil
		}
	}
	return nil, fmt.Errorf("table: no column %q", column)
}

// --------------------------------------------------------------------------
// Formatting
// --------------------------------------------------------------------------

// String renders the table with a header line, for console output.
func (t *Table) String() string {
	var sb strings.Builder
	for i, c := range t.columns {
		if i > 0 {
			sb.WriteString("  ")
		}
		sb.WriteString(c.Name)
	}
	sb.WriteString("\n")
	for _, row := range t.rows {
		for i, v := range row {
			if i > 0 {
				sb.WriteString("  ")
			}
			sb.WriteString(fmt.Sprintf("%v", v))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
