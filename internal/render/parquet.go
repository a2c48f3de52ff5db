package render

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/parquet-go/parquet-go"

	"github.com/querypilot/querypilot/internal/query"
)

type ParquetEncodeResult struct {
	Columns     []string
	RecordCount int64
}

// WriteParquet encodes a result set with every column stored as an optional
// UTF-8 string. NULL values stay null. Duplicate or empty column names are
// made unique with a numeric suffix.
func WriteParquet(w io.Writer, result query.Result) (ParquetEncodeResult, error) {
	if len(result.Columns) == 0 {
		return ParquetEncodeResult{}, fmt.Errorf("result has no columns")
	}

	columns := uniqueColumnNames(result.Columns)
	group := parquet.Group{}
	for _, name := range columns {
		group[name] = parquet.Optional(parquet.String())
	}
	schema := parquet.NewSchema("result", group)

	// Group fields are ordered by name; map each result column to its leaf.
	sorted := append([]string(nil), columns...)
	sort.Strings(sorted)
	leafIndex := make(map[string]int, len(sorted))
	for i, name := range sorted {
		leafIndex[name] = i
	}

	rows := make([]parquet.Row, 0, len(result.Rows))
	for _, values := range result.Rows {
		row := make(parquet.Row, len(columns))
		for i, name := range columns {
			leaf := leafIndex[name]
			var value any
			if i < len(values) {
				value = values[i]
			}
			if value == nil {
				row[leaf] = parquet.NullValue().Level(0, 0, leaf)
				continue
			}
			row[leaf] = parquet.ByteArrayValue([]byte(formatValue(value))).Level(0, 1, leaf)
		}
		rows = append(rows, row)
	}

	writer := parquet.NewWriter(w, schema)
	if _, err := writer.WriteRows(rows); err != nil {
		return ParquetEncodeResult{}, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return ParquetEncodeResult{}, fmt.Errorf("close parquet writer: %w", err)
	}
	return ParquetEncodeResult{Columns: columns, RecordCount: int64(len(rows))}, nil
}

func uniqueColumnNames(columns []string) []string {
	taken := make(map[string]struct{}, len(columns))
	unique := make([]string, len(columns))
	for i, name := range columns {
		if name == "" {
			name = "column_" + strconv.Itoa(i+1)
		}
		candidate := name
		for n := 2; ; n++ {
			if _, ok := taken[candidate]; !ok {
				break
			}
			candidate = name + "_" + strconv.Itoa(n)
		}
		taken[candidate] = struct{}{}
		unique[i] = candidate
	}
	return unique
}
