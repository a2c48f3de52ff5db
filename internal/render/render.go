package render

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/querypilot/querypilot/internal/query"
)

type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "md"
	FormatParquet  Format = "parquet"
)

func ParseFormat(raw string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "table":
		return FormatTable, nil
	case "json":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	case "md", "markdown":
		return FormatMarkdown, nil
	case "parquet":
		return FormatParquet, nil
	default:
		return "", fmt.Errorf("unsupported format %q", raw)
	}
}

// Rows writes a result set in the requested format.
func Rows(w io.Writer, result query.Result, format Format) error {
	switch format {
	case FormatJSON:
		return renderJSON(w, result)
	case FormatCSV:
		return renderCSV(w, result)
	case FormatMarkdown:
		return renderMarkdown(w, result)
	case FormatParquet:
		_, err := WriteParquet(w, result)
		return err
	default:
		return renderTable(w, result)
	}
}

func renderTable(w io.Writer, result query.Result) error {
	if len(result.Columns) == 0 {
		_, _ = fmt.Fprintln(w, "(statement returned no result set)")
		return nil
	}
	if len(result.Rows) == 0 {
		_, _ = fmt.Fprintln(w, "(0 rows)")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	header := make(table.Row, len(result.Columns))
	for i, col := range result.Columns {
		header[i] = col
	}
	t.AppendHeader(header)

	for _, values := range result.Rows {
		row := make(table.Row, len(values))
		for i, value := range values {
			row[i] = formatValue(value)
		}
		t.AppendRow(row)
	}

	t.Render()
	_, _ = fmt.Fprintf(w, "(%d rows%s)\n", len(result.Rows), truncatedSuffix(result))
	return nil
}

func renderJSON(w io.Writer, result query.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result.Records())
}

func renderCSV(w io.Writer, result query.Result) error {
	writer := csv.NewWriter(w)
	if len(result.Columns) > 0 {
		if err := writer.Write(result.Columns); err != nil {
			return err
		}
	}
	for _, values := range result.Rows {
		record := make([]string, len(values))
		for i, value := range values {
			record[i] = formatValue(value)
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func renderMarkdown(w io.Writer, result query.Result) error {
	if len(result.Rows) == 0 || len(result.Columns) == 0 {
		_, _ = fmt.Fprintln(w, "(0 rows)")
		return nil
	}

	_, _ = fmt.Fprintf(w, "| %s |\n", strings.Join(escapeMarkdown(result.Columns), " | "))
	seps := make([]string, len(result.Columns))
	for i := range seps {
		seps[i] = "---"
	}
	_, _ = fmt.Fprintf(w, "| %s |\n", strings.Join(seps, " | "))

	for _, values := range result.Rows {
		cells := make([]string, len(values))
		for i, value := range values {
			cells[i] = formatValue(value)
		}
		_, _ = fmt.Fprintf(w, "| %s |\n", strings.Join(escapeMarkdown(cells), " | "))
	}
	return nil
}

func formatValue(v any) string {
	if v == nil {
		return "NULL"
	}
	return fmt.Sprintf("%v", v)
}

func escapeMarkdown(values []string) []string {
	escaped := make([]string, len(values))
	for i, value := range values {
		escaped[i] = strings.ReplaceAll(strings.ReplaceAll(value, "|", `\|`), "\n", " ")
	}
	return escaped
}

func truncatedSuffix(result query.Result) string {
	if result.Truncated {
		return ", truncated"
	}
	return ""
}
