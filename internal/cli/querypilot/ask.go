package querypilot

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/querypilot/querypilot/internal/pipeline"
	"github.com/querypilot/querypilot/internal/render"
)

type askOptions struct {
	table    string
	format   string
	rowLimit int
	sources  sourceFlags
}

func newAskCommand(a *app) *cobra.Command {
	opts := &askOptions{}
	cmd := &cobra.Command{
		Use:   "ask [QUESTION...]",
		Short: "Generate and run SQL for a question against each database",
		Example: `  querypilot ask "show all employees earning more than 50000" --table employees --db company.db
  querypilot ask "top products" -t sales --db q1.db --db q2.db --format json`,
		Args: usageArgs(cobra.ArbitraryArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd, a, opts, strings.Join(args, " "))
		},
	}
	cmd.Flags().StringVarP(&opts.table, "table", "t", "", "Table to describe for the model")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "table", "Output format: table, json, csv, md")
	cmd.Flags().IntVar(&opts.rowLimit, "row-limit", 0, "Maximum rows fetched per database (0 uses config)")
	opts.sources.register(cmd)
	return cmd
}

func runAsk(cmd *cobra.Command, a *app, opts *askOptions, question string) error {
	table := strings.TrimSpace(opts.table)
	if table == "" {
		return usagef("--table is required")
	}
	format, err := render.ParseFormat(opts.format)
	if err != nil {
		return &usageError{err: err}
	}
	if format == render.FormatParquet {
		return usagef("parquet output is only supported by exec --out")
	}
	if opts.rowLimit < 0 {
		return usagef("--row-limit must be >= 0")
	}

	ctx := cmd.Context()
	sources, cleanup, err := opts.sources.resolve(ctx, a)
	if err != nil {
		return err
	}
	defer cleanup()

	orch, err := a.orchestrator()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	report := orch.Run(ctx, pipeline.Submission{
		Question: question,
		Table:    table,
		Files:    sources,
		RowLimit: opts.rowLimit,
	}, pipeline.SinkFunc(func(_ context.Context, outcome pipeline.Outcome) error {
		return render.Outcome(out, outcome, format)
	}))
	if report.Failures() > 0 {
		return errFailures
	}
	return nil
}
