package query

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Executor runs one statement against an open handle and materializes the
// rows. It does not own the handle.
type Executor struct {
	Policy StatementPolicy
}

func NewExecutor(policy StatementPolicy) *Executor {
	if policy == nil {
		policy = AllowAll{}
	}
	return &Executor{Policy: policy}
}

func (e *Executor) Execute(ctx context.Context, db *sql.DB, request Request) (Result, error) {
	if db == nil {
		return Result{}, &ExecutionError{SQL: request.SQL, Err: fmt.Errorf("database handle is required")}
	}
	if strings.TrimSpace(request.SQL) == "" {
		return Result{}, &ExecutionError{SQL: request.SQL, Err: fmt.Errorf("sql is required")}
	}
	if request.RowLimit < 0 {
		return Result{}, &ExecutionError{SQL: request.SQL, Err: fmt.Errorf("row limit must be >= 0")}
	}
	policy := e.Policy
	if policy == nil {
		policy = AllowAll{}
	}
	if err := policy.Allow(request.SQL); err != nil {
		return Result{}, &ExecutionError{SQL: request.SQL, Err: err}
	}

	start := time.Now()
	rows, err := db.QueryContext(ctx, request.SQL)
	if err != nil {
		return Result{}, &ExecutionError{SQL: request.SQL, Err: err}
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return Result{}, &ExecutionError{SQL: request.SQL, Err: fmt.Errorf("query columns: %w", err)}
	}

	resultRows := make([][]any, 0)
	truncated := false
	for rows.Next() {
		if request.RowLimit > 0 && len(resultRows) == request.RowLimit {
			truncated = true
			break
		}
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return Result{}, &ExecutionError{SQL: request.SQL, Err: fmt.Errorf("scan row: %w", err)}
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return Result{}, &ExecutionError{SQL: request.SQL, Err: fmt.Errorf("iterate rows: %w", err)}
	}

	return Result{
		Columns:   columns,
		Rows:      resultRows,
		Truncated: truncated,
		Duration:  time.Since(start),
	}, nil
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}
