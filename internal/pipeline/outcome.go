package pipeline

import (
	"fmt"
	"time"

	"github.com/querypilot/querypilot/internal/database"
	"github.com/querypilot/querypilot/internal/nl2sql"
	"github.com/querypilot/querypilot/internal/query"
	"github.com/querypilot/querypilot/internal/schema"
)

type Stage string

const (
	StageIdle           Stage = "idle"
	StageSchemaFetched  Stage = "schema_fetched"
	StageQueryGenerated Stage = "query_generated"
	StageExecuted       Stage = "executed"
	StageRendered       Stage = "rendered"
	StageErrored        Stage = "errored"
)

type ErrorKind string

const (
	KindSchemaLookup ErrorKind = "schema_lookup"
	KindGeneration   ErrorKind = "generation"
	KindExecution    ErrorKind = "execution"
	KindRender       ErrorKind = "render"
)

// StepError tags a per-file failure with the step that produced it.
type StepError struct {
	Kind ErrorKind
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Outcome is the result of running one database file through the pipeline.
// After generation exactly one of Query or Err is set.
type Outcome struct {
	Source   database.Source
	Stage    Stage
	Schema   *schema.Description
	Query    *nl2sql.Result
	Result   *query.Result
	Err      *StepError
	Duration time.Duration
}

func (o Outcome) Failed() bool {
	return o.Err != nil
}

type Report struct {
	RunID    string
	Question string
	Table    string
	Outcomes []Outcome
	Duration time.Duration
}

func (r Report) Failures() int {
	failures := 0
	for _, outcome := range r.Outcomes {
		if outcome.Failed() {
			failures++
		}
	}
	return failures
}
