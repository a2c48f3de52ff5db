package schema

import (
	"errors"
	"fmt"
	"strings"
)

var ErrTableNotFound = errors.New("table not found")

type Column struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Nullable   bool   `json:"nullable"`
	PrimaryKey bool   `json:"primary_key"`
	Position   int    `json:"position"`
}

// Description is the column list of one table in driver-reported order.
type Description struct {
	Table   string   `json:"table"`
	Columns []Column `json:"columns"`
}

// String renders the description in the form embedded into prompts:
//
//	Table employees has columns: id (INTEGER), name (TEXT)
func (d Description) String() string {
	parts := make([]string, 0, len(d.Columns))
	for _, column := range d.Columns {
		parts = append(parts, fmt.Sprintf("%s (%s)", column.Name, column.Type))
	}
	return fmt.Sprintf("Table %s has columns: %s", d.Table, strings.Join(parts, ", "))
}

func (d Description) ColumnNames() []string {
	names := make([]string, 0, len(d.Columns))
	for _, column := range d.Columns {
		names = append(names, column.Name)
	}
	return names
}

// LookupError reports why a table could not be described.
type LookupError struct {
	Table string
	Err   error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("describe table %q: %v", e.Table, e.Err)
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

func lookupErr(table string, err error) error {
	return &LookupError{Table: table, Err: err}
}
