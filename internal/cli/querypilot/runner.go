// Package querypilot implements the querypilot command line.
package querypilot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/querypilot/querypilot/internal/config"
	"github.com/querypilot/querypilot/internal/observability"
	"github.com/querypilot/querypilot/internal/pipeline"
	"github.com/querypilot/querypilot/internal/storage"
	"github.com/querypilot/querypilot/internal/storage/s3"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

const serviceName = "querypilot-cli"

// Options carries process-level dependencies. Zero values fall back to the
// environment, a config-built translator and object store, and an HTTP client
// with Timeout.
type Options struct {
	Lookup      config.LookupFunc
	Translator  pipeline.QueryTranslator
	ObjectStore storage.ObjectStore
	HTTPClient  *http.Client
	BaseURL     string
	Timeout     time.Duration
	Stdout      io.Writer
	Stderr      io.Writer
}

// errFailures reports that the command ran but at least one database or
// request failed. Details are already on stdout.
var errFailures = errors.New("one or more databases failed")

type usageError struct {
	err error
}

func (e *usageError) Error() string {
	return e.err.Error()
}

func (e *usageError) Unwrap() error {
	return e.err
}

func usagef(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

// usageArgs marks positional argument errors as usage errors.
func usageArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := validate(cmd, args); err != nil {
			return &usageError{err: err}
		}
		return nil
	}
}

// Run executes one CLI invocation and returns the process exit code:
// 0 success, 1 a database or request failed, 2 usage error.
func Run(ctx context.Context, args []string, opts Options) int {
	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}
	if opts.Stderr == nil {
		opts.Stderr = io.Discard
	}
	if opts.Lookup == nil {
		opts.Lookup = os.LookupEnv
	}

	root := newRootCommand(&app{opts: opts})
	root.SetArgs(args)
	root.SetOut(opts.Stdout)
	root.SetErr(opts.Stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	if errors.Is(err, errFailures) {
		return exitFailure
	}
	_, _ = fmt.Fprintf(opts.Stderr, "Error: %v\n", err)
	var usage *usageError
	if errors.As(err, &usage) || strings.HasPrefix(err.Error(), "unknown command") {
		_, _ = fmt.Fprintln(opts.Stderr, "Run 'querypilot --help' for usage.")
		return exitUsage
	}
	return exitFailure
}

// app holds state shared by subcommands once flags are parsed.
type app struct {
	opts       Options
	configFile string
	verbose    bool
	cfg        config.Config
	logger     *slog.Logger
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "querypilot",
		Short: "Ask questions of database files in plain language",
		Long: `querypilot describes a table, asks a text-generation model for a SQL
statement answering your question, runs it against each database and prints
the rows.`,
		Args: usageArgs(cobra.NoArgs),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}
			return a.loadConfig()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			_ = cmd.Help()
			return usagef("a command is required")
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	root.PersistentFlags().StringVar(&a.configFile, "config", "", "YAML config file (default: $QUERYPILOT_CONFIG_FILE)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Log pipeline steps to stderr")

	root.AddCommand(newAskCommand(a))
	root.AddCommand(newDescribeCommand(a))
	root.AddCommand(newExecCommand(a))
	root.AddCommand(newUploadCommand(a))
	root.AddCommand(newRemoveCommand(a))
	root.AddCommand(newRemoteCommand(a))
	return root
}

func (a *app) loadConfig() error {
	lookup := a.opts.Lookup
	path := strings.TrimSpace(a.configFile)
	if path == "" {
		if fromEnv, ok := lookup("QUERYPILOT_CONFIG_FILE"); ok {
			path = strings.TrimSpace(fromEnv)
		}
	}
	if path != "" {
		fileLookup, err := config.FileLookup(path)
		if err != nil {
			return err
		}
		lookup = config.ChainLookup(lookup, fileLookup)
	}

	cfg, err := config.Load(serviceName, lookup)
	if err != nil {
		return err
	}
	a.cfg = cfg
	if a.verbose {
		a.logger = observability.NewLogger(cfg, a.opts.Stderr)
	} else {
		a.logger = observability.DiscardLogger()
	}
	return nil
}

func (a *app) orchestrator() (*pipeline.Orchestrator, error) {
	if a.opts.Translator != nil {
		return pipeline.Assemble(a.cfg, a.opts.Translator, a.logger)
	}
	return pipeline.FromConfig(a.cfg, a.logger)
}

func (a *app) objectStore(ctx context.Context) (storage.ObjectStore, error) {
	if a.opts.ObjectStore != nil {
		return a.opts.ObjectStore, nil
	}
	if !a.cfg.ObjectStore.Enabled {
		return nil, fmt.Errorf("object store is not configured (set QUERYPILOT_OBJECTSTORE_ENABLED=true)")
	}
	return s3.New(ctx, s3.FromConfig(a.cfg.ObjectStore))
}
