package querypilot

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/querypilot/querypilot/internal/database"
	"github.com/querypilot/querypilot/internal/query"
	"github.com/querypilot/querypilot/internal/render"
)

type execOptions struct {
	input    string
	format   string
	out      string
	rowLimit int
	sources  sourceFlags
}

func newExecCommand(a *app) *cobra.Command {
	opts := &execOptions{}
	cmd := &cobra.Command{
		Use:   "exec [SQL...]",
		Short: "Run a SQL statement against one database without generation",
		Example: `  querypilot exec "SELECT * FROM employees" --db company.db
  querypilot exec -i report.sql --db company.db --format parquet --out report.parquet`,
		Args: usageArgs(cobra.ArbitraryArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(cmd, a, opts, strings.Join(args, " "))
		},
	}
	cmd.Flags().StringVarP(&opts.input, "input", "i", "", "Read SQL from file")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "table", "Output format: table, json, csv, md, parquet")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "Write output to file (required for parquet)")
	cmd.Flags().IntVar(&opts.rowLimit, "row-limit", 0, "Maximum rows fetched (0 uses config)")
	opts.sources.register(cmd)
	return cmd
}

func runExec(cmd *cobra.Command, a *app, opts *execOptions, sqlText string) error {
	if opts.input != "" {
		if strings.TrimSpace(sqlText) != "" {
			return usagef("pass SQL either as arguments or with --input, not both")
		}
		content, err := os.ReadFile(opts.input)
		if err != nil {
			return fmt.Errorf("read SQL file: %w", err)
		}
		sqlText = string(content)
	}
	if strings.TrimSpace(sqlText) == "" {
		return usagef("a SQL statement is required")
	}
	format, err := render.ParseFormat(opts.format)
	if err != nil {
		return &usageError{err: err}
	}
	if format == render.FormatParquet && opts.out == "" {
		return usagef("parquet output requires --out")
	}
	if opts.sources.count() != 1 {
		return usagef("exec runs against exactly one database")
	}
	rowLimit := a.cfg.Query.RowLimit
	if opts.rowLimit < 0 {
		return usagef("--row-limit must be >= 0")
	}
	if opts.rowLimit > 0 {
		rowLimit = opts.rowLimit
	}

	ctx := cmd.Context()
	sources, cleanup, err := opts.sources.resolve(ctx, a)
	if err != nil {
		return err
	}
	defer cleanup()
	source := sources[0]

	opener := database.SQLOpener{ReadOnly: a.cfg.Query.ReadOnly}
	db, err := opener.Open(ctx, source)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if a.cfg.Query.ExecutionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Query.ExecutionTimeout)
		defer cancel()
	}
	executor := query.NewExecutor(query.PolicyFor(a.cfg.Query.ReadOnly))
	result, err := executor.Execute(ctx, db, query.Request{SQL: sqlText, RowLimit: rowLimit})
	if err != nil {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Error (execution): %v\n", err)
		return errFailures
	}

	if opts.out == "" {
		return render.Rows(cmd.OutOrStdout(), result, format)
	}
	return writeResultFile(cmd.OutOrStdout(), opts.out, result, format)
}

func writeResultFile(status io.Writer, path string, result query.Result, format render.Format) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); err == nil {
			err = closeErr
		}
	}()

	if format == render.FormatParquet {
		encoded, err := render.WriteParquet(file, result)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(status, "wrote %d rows (%d columns) to %s\n", encoded.RecordCount, len(encoded.Columns), path)
		return nil
	}
	if err := render.Rows(file, result, format); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(status, "wrote %d rows to %s\n", len(result.Rows), path)
	return nil
}
