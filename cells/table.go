// Package cells exposes typed row/column access to tabular editing data.
// Every column declares its value kind once; writes of another kind are
// rejected instead of converted.
package cells

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ValueKind describes the primitive type stored inside a cell.
type ValueKind string

const (
	// KindBool represents boolean values.
	KindBool ValueKind = "bool"
	// KindInteger represents signed integer values, stored as int64.
	KindInteger ValueKind = "integer"
	// KindNumber represents floating point numbers, stored as float64.
	KindNumber ValueKind = "number"
	// KindString represents plain UTF-8 strings.
	KindString ValueKind = "string"
)

// Column declares a named, typed column.
type Column struct {
	Name string    `json:"name"`
	Kind ValueKind `json:"kind"`
}

// TypeMismatchError reports a write whose value does not match the column kind.
type TypeMismatchError struct {
	Row    int
	Column string
	Want   ValueKind
	Got    string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("cell (%d, %s): expected %s value, got %s", e.Row, e.Column, e.Want, e.Got)
}

// Accessor is the typed cell interface used by editing layers.
type Accessor interface {
	Rows() int
	Columns() []Column
	Get(row, col int) (interface{}, error)
	Set(row, col int, value interface{}) error
}

// Table is an in-memory typed grid.
type Table struct {
	columns []Column
	rows    [][]interface{}
}

// NewTable creates an empty table with the given columns.
func NewTable(columns ...Column) (*Table, error) {
	seen := make(map[string]bool, len(columns))
	for _, col := range columns {
		if col.Name == "" {
			return nil, fmt.Errorf("column name must not be empty")
		}
		if seen[col.Name] {
			return nil, fmt.Errorf("duplicate column %q", col.Name)
		}
		seen[col.Name] = true
		if _, err := zeroValue(col.Kind); err != nil {
			return nil, err
		}
	}
	return &Table{columns: append([]Column(nil), columns...)}, nil
}

// Rows returns the number of rows.
func (t *Table) Rows() int { return len(t.rows) }

// Columns returns the column declarations.
func (t *Table) Columns() []Column { return append([]Column(nil), t.columns...) }

// AppendRow adds a row of zero values and returns its index.
func (t *Table) AppendRow() int {
	row := make([]interface{}, len(t.columns))
	for i, col := range t.columns {
		row[i], _ = zeroValue(col.Kind)
	}
	t.rows = append(t.rows, row)
	return len(t.rows) - 1
}

// DeleteRow removes a row.
func (t *Table) DeleteRow(row int) error {
	if row < 0 || row >= len(t.rows) {
		return fmt.Errorf("row %d out of range", row)
	}
	t.rows = append(t.rows[:row:row], t.rows[row+1:]...)
	return nil
}

// Get returns the value of a cell.
func (t *Table) Get(row, col int) (interface{}, error) {
	if err := t.check(row, col); err != nil {
		return nil, err
	}
	return t.rows[row][col], nil
}

// Set writes a cell after checking the value against the column kind.
func (t *Table) Set(row, col int, value interface{}) error {
	if err := t.check(row, col); err != nil {
		return err
	}
	normalized, err := Normalize(t.columns[col].Kind, value)
	if err != nil {
		return &TypeMismatchError{Row: row, Column: t.columns[col].Name, Want: t.columns[col].Kind, Got: fmt.Sprintf("%T", value)}
	}
	t.rows[row][col] = normalized
	return nil
}

func (t *Table) check(row, col int) error {
	if row < 0 || row >= len(t.rows) {
		return fmt.Errorf("row %d out of range", row)
	}
	if col < 0 || col >= len(t.columns) {
		return fmt.Errorf("column %d out of range", col)
	}
	return nil
}

// Normalize checks value against kind and returns its canonical
// representation. Only the Go types belonging to the kind are accepted.
func Normalize(kind ValueKind, value interface{}) (interface{}, error) {
	switch kind {
	case KindBool:
		if v, ok := value.(bool); ok {
			return v, nil
		}
	case KindInteger:
		switch v := value.(type) {
		case int:
			return int64(v), nil
		case int32:
			return int64(v), nil
		case int64:
			return v, nil
		}
	case KindNumber:
		switch v := value.(type) {
		case float32:
			return Normalize(kind, float64(v))
		case float64:
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("invalid float value %v", v)
			}
			return v, nil
		}
	case KindString:
		if v, ok := value.(string); ok {
			return v, nil
		}
	default:
		return nil, fmt.Errorf("unsupported value kind %q", kind)
	}
	return nil, fmt.Errorf("expected %s value, got %T", kind, value)
}

// ParseText converts the text form of a cell value to the Go type of kind.
func ParseText(kind ValueKind, raw string) (interface{}, error) {
	raw = strings.TrimSpace(raw)
	switch kind {
	case KindBool:
		return strconv.ParseBool(raw)
	case KindInteger:
		return strconv.ParseInt(raw, 10, 64)
	case KindNumber:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, err
		}
		return Normalize(kind, v)
	case KindString:
		return raw, nil
	default:
		return nil, fmt.Errorf("unsupported value kind %q", kind)
	}
}

func zeroValue(kind ValueKind) (interface{}, error) {
	switch kind {
	case KindBool:
		return false, nil
	case KindInteger:
		return int64(0), nil
	case KindNumber:
		return float64(0), nil
	case KindString:
		return "", nil
	default:
		return nil, fmt.Errorf("unsupported value kind %q", kind)
	}
}
