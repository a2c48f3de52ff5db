package querypilot

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/querypilot/querypilot/internal/database"
	"github.com/querypilot/querypilot/internal/pipeline"
	"github.com/querypilot/querypilot/internal/render"
	"github.com/querypilot/querypilot/internal/schema"
)

type describeOptions struct {
	table   string
	format  string
	sources sourceFlags
}

type describeView struct {
	File   string              `json:"file"`
	Schema *schema.Description `json:"schema,omitempty"`
	Error  *render.ErrorView   `json:"error,omitempty"`
}

func newDescribeCommand(a *app) *cobra.Command {
	opts := &describeOptions{}
	cmd := &cobra.Command{
		Use:     "describe",
		Short:   "Print the column description of a table in each database",
		Example: `  querypilot describe --table employees --db company.db`,
		Args:    usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDescribe(cmd, a, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.table, "table", "t", "", "Table to describe")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	opts.sources.register(cmd)
	return cmd
}

func runDescribe(cmd *cobra.Command, a *app, opts *describeOptions) error {
	table := strings.TrimSpace(opts.table)
	if table == "" {
		return usagef("--table is required")
	}
	asJSON := false
	switch strings.ToLower(strings.TrimSpace(opts.format)) {
	case "", "text":
	case "json":
		asJSON = true
	default:
		return usagef("unsupported format %q", opts.format)
	}

	ctx := cmd.Context()
	sources, cleanup, err := opts.sources.resolve(ctx, a)
	if err != nil {
		return err
	}
	defer cleanup()

	opener := database.SQLOpener{ReadOnly: a.cfg.Query.ReadOnly}
	extractor := schema.NewExtractor()
	out := cmd.OutOrStdout()
	failed := false
	for _, source := range sources {
		view := describeView{File: source.String()}
		description, err := describeOne(cmd, opener, extractor, source, table)
		if err != nil {
			failed = true
			view.Error = &render.ErrorView{Kind: string(pipeline.KindSchemaLookup), Message: err.Error()}
		} else {
			view.Schema = &description
		}

		if asJSON {
			if err := json.NewEncoder(out).Encode(view); err != nil {
				return err
			}
			continue
		}
		_, _ = fmt.Fprintf(out, "== %s ==\n", view.File)
		if view.Error != nil {
			_, _ = fmt.Fprintf(out, "Error (%s): %s\n\n", view.Error.Kind, view.Error.Message)
			continue
		}
		_, _ = fmt.Fprintf(out, "%s\n\n", description.String())
	}
	if failed {
		return errFailures
	}
	return nil
}

func describeOne(cmd *cobra.Command, opener database.Opener, extractor *schema.Extractor, source database.Source, table string) (schema.Description, error) {
	ctx := cmd.Context()
	db, err := opener.Open(ctx, source)
	if err != nil {
		return schema.Description{}, err
	}
	defer func() { _ = db.Close() }()
	return extractor.Describe(ctx, db, source.Dialect, table)
}
