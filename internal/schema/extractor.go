package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/querypilot/querypilot/internal/database"
)

// Extractor reads table metadata from an open handle. It does not own the
// handle.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

// Describe returns the columns of table. A table that does not exist, or has
// no columns, yields a *LookupError wrapping ErrTableNotFound.
func (e *Extractor) Describe(ctx context.Context, db *sql.DB, dialect database.Dialect, table string) (Description, error) {
	table = strings.TrimSpace(table)
	if table == "" {
		return Description{}, lookupErr(table, ErrTableNotFound)
	}
	if db == nil {
		return Description{}, lookupErr(table, fmt.Errorf("database handle is required"))
	}

	var (
		columns []Column
		err     error
	)
	switch dialect {
	case database.DialectSQLite:
		columns, err = describeSQLite(ctx, db, table)
	case database.DialectDuckDB:
		schemaName, tableName := splitQualified(table, "main")
		columns, err = describeInformationSchema(ctx, db, queryDuckDBColumns, schemaName, tableName, false)
	case database.DialectPostgres:
		schemaName, tableName := splitQualified(table, "public")
		columns, err = describeInformationSchema(ctx, db, queryPostgresColumns, schemaName, tableName, true)
	default:
		err = fmt.Errorf("unsupported dialect %q", dialect)
	}
	if err != nil {
		return Description{}, lookupErr(table, err)
	}
	if len(columns) == 0 {
		return Description{}, lookupErr(table, ErrTableNotFound)
	}
	return Description{Table: table, Columns: columns}, nil
}

func describeSQLite(ctx context.Context, db *sql.DB, table string) ([]Column, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("query table info: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns := make([]Column, 0)
	for rows.Next() {
		var (
			cid          int
			name         string
			columnType   string
			notNull      int
			defaultValue any
			primaryKey   int
		)
		if err := rows.Scan(&cid, &name, &columnType, &notNull, &defaultValue, &primaryKey); err != nil {
			return nil, fmt.Errorf("scan table info: %w", err)
		}
		columns = append(columns, Column{
			Name:       name,
			Type:       columnType,
			Nullable:   notNull == 0,
			PrimaryKey: primaryKey > 0,
			Position:   cid + 1,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table info: %w", err)
	}
	return columns, nil
}

func describeInformationSchema(ctx context.Context, db *sql.DB, query, schemaName, tableName string, withPrimaryKey bool) ([]Column, error) {
	rows, err := db.QueryContext(ctx, query, schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns := make([]Column, 0)
	for rows.Next() {
		var (
			column   Column
			nullable string
		)
		targets := []any{&column.Name, &column.Type, &nullable, &column.Position}
		if withPrimaryKey {
			targets = append(targets, &column.PrimaryKey)
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		column.Nullable = strings.EqualFold(nullable, "YES")
		columns = append(columns, column)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	return columns, nil
}

func splitQualified(table, defaultSchema string) (string, string) {
	if schemaName, tableName, ok := strings.Cut(table, "."); ok && schemaName != "" && tableName != "" {
		return schemaName, tableName
	}
	return defaultSchema, table
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}
