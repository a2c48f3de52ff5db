package render

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/querypilot/querypilot/internal/pipeline"
)

type ErrorView struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// OutcomeView is the wire shape of one file's outcome.
type OutcomeView struct {
	File       string           `json:"file"`
	Dialect    string           `json:"dialect"`
	Stage      string           `json:"stage"`
	Schema     string           `json:"schema,omitempty"`
	SQL        string           `json:"sql,omitempty"`
	Provider   string           `json:"provider,omitempty"`
	Model      string           `json:"model,omitempty"`
	Columns    []string         `json:"columns"`
	Rows       []map[string]any `json:"rows"`
	Truncated  bool             `json:"truncated,omitempty"`
	Error      *ErrorView       `json:"error,omitempty"`
	DurationMs int64            `json:"duration_ms"`
}

func NewOutcomeView(outcome pipeline.Outcome) OutcomeView {
	view := OutcomeView{
		File:       outcome.Source.String(),
		Dialect:    string(outcome.Source.Dialect),
		Stage:      string(outcome.Stage),
		DurationMs: outcome.Duration.Milliseconds(),
	}
	if outcome.Schema != nil {
		view.Schema = outcome.Schema.String()
	}
	if outcome.Query != nil {
		view.SQL = outcome.Query.SQL
		view.Provider = outcome.Query.Provider
		view.Model = outcome.Query.Model
	}
	if outcome.Result != nil {
		view.Columns = outcome.Result.Columns
		if view.Columns == nil {
			view.Columns = []string{}
		}
		view.Rows = outcome.Result.Records()
		view.Truncated = outcome.Result.Truncated
	}
	if outcome.Err != nil {
		view.Error = &ErrorView{Kind: string(outcome.Err.Kind), Message: outcome.Err.Err.Error()}
	}
	return view
}

// Outcome writes the schema, the generated query, then either the rows or
// the tagged error. JSON emits one object per line.
func Outcome(w io.Writer, outcome pipeline.Outcome, format Format) error {
	if format == FormatJSON {
		return json.NewEncoder(w).Encode(NewOutcomeView(outcome))
	}

	_, _ = fmt.Fprintf(w, "== %s ==\n", outcome.Source.String())
	if outcome.Schema != nil {
		_, _ = fmt.Fprintf(w, "Schema:\n%s\n\n", outcome.Schema.String())
	}
	if outcome.Query != nil {
		_, _ = fmt.Fprintf(w, "Generated SQL Query:\n%s\n\n", outcome.Query.SQL)
	}
	if outcome.Err != nil {
		_, err := fmt.Fprintf(w, "Error (%s): %v\n\n", outcome.Err.Kind, outcome.Err.Err)
		return err
	}
	if outcome.Result == nil {
		return nil
	}
	if format == FormatParquet {
		return fmt.Errorf("parquet output requires a destination file")
	}
	if err := Rows(w, *outcome.Result, format); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w)
	return err
}
