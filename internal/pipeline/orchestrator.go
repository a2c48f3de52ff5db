package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/querypilot/querypilot/internal/database"
	"github.com/querypilot/querypilot/internal/nl2sql"
	"github.com/querypilot/querypilot/internal/observability"
	"github.com/querypilot/querypilot/internal/query"
	"github.com/querypilot/querypilot/internal/schema"
)

type SchemaDescriber interface {
	Describe(ctx context.Context, db *sql.DB, dialect database.Dialect, table string) (schema.Description, error)
}

type QueryTranslator interface {
	Translate(ctx context.Context, req nl2sql.Request) (nl2sql.Result, error)
}

type StatementRunner interface {
	Execute(ctx context.Context, db *sql.DB, request query.Request) (query.Result, error)
}

// Sink receives each outcome as soon as its file is finished.
type Sink interface {
	Emit(ctx context.Context, outcome Outcome) error
}

type SinkFunc func(ctx context.Context, outcome Outcome) error

func (f SinkFunc) Emit(ctx context.Context, outcome Outcome) error {
	return f(ctx, outcome)
}

type Options struct {
	RowLimit          int
	GenerationTimeout time.Duration
	ExecutionTimeout  time.Duration
	Logger            *slog.Logger
}

type Orchestrator struct {
	opener     database.Opener
	describer  SchemaDescriber
	translator QueryTranslator
	runner     StatementRunner
	opts       Options
	logger     *slog.Logger
}

func New(opener database.Opener, describer SchemaDescriber, translator QueryTranslator, runner StatementRunner, opts Options) (*Orchestrator, error) {
	if opener == nil {
		return nil, fmt.Errorf("database opener is required")
	}
	if describer == nil {
		return nil, fmt.Errorf("schema describer is required")
	}
	if translator == nil {
		return nil, fmt.Errorf("query translator is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("statement runner is required")
	}
	if opts.RowLimit < 0 {
		return nil, fmt.Errorf("row limit must be >= 0")
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	return &Orchestrator{
		opener:     opener,
		describer:  describer,
		translator: translator,
		runner:     runner,
		opts:       opts,
		logger:     logger,
	}, nil
}

type Submission struct {
	Question string
	Table    string
	Files    []database.Source
	// RowLimit overrides Options.RowLimit when positive.
	RowLimit int
}

// Run processes every file in order. A failure in one file never stops the
// next; the report always has one outcome per file.
func (o *Orchestrator) Run(ctx context.Context, submission Submission, sink Sink) Report {
	runID := observability.RunIDFromContext(ctx)
	if runID == "" {
		runID = uuid.NewString()
		ctx = observability.ContextWithRunID(ctx, runID)
	}
	start := time.Now()
	observability.RunStarted()
	defer observability.RunFinished()

	report := Report{
		RunID:    runID,
		Question: submission.Question,
		Table:    submission.Table,
		Outcomes: make([]Outcome, 0, len(submission.Files)),
	}
	for _, source := range submission.Files {
		outcome := o.runFile(ctx, submission, source)
		if sink != nil {
			// The sink sees the stage the outcome reaches once it renders.
			if outcome.Err == nil {
				outcome.Stage = StageRendered
			}
			if err := sink.Emit(ctx, outcome); err != nil {
				outcome.Stage = StageErrored
				outcome.Err = &StepError{Kind: KindRender, Err: err}
			}
		}
		rows := -1
		if outcome.Result != nil {
			rows = len(outcome.Result.Rows)
		}
		observability.ObserveFileOutcome(string(outcome.Stage), rows)
		report.Outcomes = append(report.Outcomes, outcome)
	}
	report.Duration = time.Since(start)
	o.logger.InfoContext(ctx, "pipeline run finished",
		slog.String("run_id", runID),
		slog.Int("files", len(report.Outcomes)),
		slog.Int("failures", report.Failures()),
		slog.Duration("duration", report.Duration),
	)
	return report
}

func (o *Orchestrator) runFile(ctx context.Context, submission Submission, source database.Source) Outcome {
	start := time.Now()
	outcome := Outcome{Source: source, Stage: StageIdle}
	logger := o.logger.With(slog.String("run_id", observability.RunIDFromContext(ctx)), slog.String("file", source.String()))
	fail := func(kind ErrorKind, err error) Outcome {
		outcome.Stage = StageErrored
		outcome.Err = &StepError{Kind: kind, Err: err}
		outcome.Duration = time.Since(start)
		logger.WarnContext(ctx, "pipeline step failed",
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
			slog.Duration("duration", outcome.Duration),
		)
		return outcome
	}

	if err := ctx.Err(); err != nil {
		return fail(KindSchemaLookup, err)
	}
	if source.Err != nil {
		observability.ObserveStep(observability.StepSchema, source.Err, 0)
		return fail(KindSchemaLookup, source.Err)
	}

	stepStart := time.Now()
	description, err := o.describe(ctx, source, submission.Table)
	observability.ObserveStep(observability.StepSchema, err, time.Since(stepStart))
	if err != nil {
		return fail(KindSchemaLookup, err)
	}
	outcome.Stage = StageSchemaFetched
	outcome.Schema = &description
	logger.DebugContext(ctx, "schema fetched", slog.String("stage", string(outcome.Stage)), slog.Duration("duration", time.Since(stepStart)))

	stepStart = time.Now()
	generated, err := o.generate(ctx, nl2sql.Request{
		Question: submission.Question,
		Schema:   description.String(),
		Dialect:  source.Dialect,
	})
	observability.ObserveStep(observability.StepGenerate, err, time.Since(stepStart))
	if err != nil {
		return fail(KindGeneration, err)
	}
	outcome.Stage = StageQueryGenerated
	outcome.Query = &generated
	logger.DebugContext(ctx, "query generated",
		slog.String("stage", string(outcome.Stage)),
		slog.String("provider", generated.Provider),
		slog.Duration("duration", time.Since(stepStart)),
	)

	rowLimit := o.opts.RowLimit
	if submission.RowLimit > 0 {
		rowLimit = submission.RowLimit
	}
	stepStart = time.Now()
	result, err := o.execute(ctx, source, query.Request{SQL: generated.SQL, RowLimit: rowLimit})
	observability.ObserveStep(observability.StepExecute, err, time.Since(stepStart))
	if err != nil {
		return fail(KindExecution, err)
	}
	outcome.Stage = StageExecuted
	outcome.Result = &result
	outcome.Duration = time.Since(start)
	logger.InfoContext(ctx, "query executed",
		slog.String("stage", string(outcome.Stage)),
		slog.Int("rows", len(result.Rows)),
		slog.Bool("truncated", result.Truncated),
		slog.Duration("duration", outcome.Duration),
	)
	return outcome
}

func (o *Orchestrator) describe(ctx context.Context, source database.Source, table string) (schema.Description, error) {
	db, err := o.opener.Open(ctx, source)
	if err != nil {
		return schema.Description{}, err
	}
	defer func() { _ = db.Close() }()
	return o.describer.Describe(ctx, db, source.Dialect, table)
}

func (o *Orchestrator) generate(ctx context.Context, req nl2sql.Request) (nl2sql.Result, error) {
	ctx, cancel := withOptionalTimeout(ctx, o.opts.GenerationTimeout)
	defer cancel()
	return o.translator.Translate(ctx, req)
}

func (o *Orchestrator) execute(ctx context.Context, source database.Source, request query.Request) (query.Result, error) {
	ctx, cancel := withOptionalTimeout(ctx, o.opts.ExecutionTimeout)
	defer cancel()
	db, err := o.opener.Open(ctx, source)
	if err != nil {
		return query.Result{}, err
	}
	defer func() { _ = db.Close() }()
	return o.runner.Execute(ctx, db, request)
}

func withOptionalTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
