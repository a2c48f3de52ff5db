package query

import (
	"errors"
	"fmt"
	"time"
)

var ErrStatementNotAllowed = errors.New("statement not allowed")

type Request struct {
	SQL string
	// RowLimit caps the rows materialized; 0 fetches everything.
	RowLimit int
}

type Result struct {
	Columns   []string      `json:"columns"`
	Rows      [][]any       `json:"rows"`
	Truncated bool          `json:"truncated,omitempty"`
	Duration  time.Duration `json:"-"`
}

// Records pairs every row with the column names, in column order.
// Duplicate column names keep the value of the last occurrence.
func (r Result) Records() []map[string]any {
	records := make([]map[string]any, 0, len(r.Rows))
	for _, row := range r.Rows {
		record := make(map[string]any, len(r.Columns))
		for i, column := range r.Columns {
			if i < len(row) {
				record[column] = row[i]
			}
		}
		records = append(records, record)
	}
	return records
}

// ExecutionError wraps a failure reported while running a statement.
type ExecutionError struct {
	SQL string
	Err error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execute query: %v", e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
