package querypilot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/querypilot/querypilot/internal/database"
)

// sourceFlags selects the databases a command runs against.
type sourceFlags struct {
	files    []string
	objects  []string
	postgres string
}

func (f *sourceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&f.files, "db", "d", nil, "Local database file (repeatable)")
	cmd.Flags().StringSliceVar(&f.objects, "object", nil, "Object store key of a database file (repeatable)")
	cmd.Flags().StringVar(&f.postgres, "postgres", "", "Postgres connection string")
}

func (f *sourceFlags) count() int {
	n := len(f.files) + len(f.objects)
	if f.postgres != "" {
		n++
	}
	return n
}

// resolve builds sources in flag order: files, objects, then postgres.
// Objects are downloaded into a workspace removed by the returned cleanup.
// A database that cannot be staged is returned as a failed source so the
// remaining ones still run.
func (f *sourceFlags) resolve(ctx context.Context, a *app) ([]database.Source, func(), error) {
	noop := func() {}
	if f.count() == 0 {
		return nil, noop, usagef("at least one database is required (--db, --object or --postgres)")
	}

	sources := make([]database.Source, 0, f.count())
	for _, path := range f.files {
		source, err := database.LocalSource(path)
		if err != nil {
			a.logger.WarnContext(ctx, "database not staged", slog.String("file", path), slog.String("error", err.Error()))
		}
		sources = append(sources, source)
	}

	cleanup := noop
	if len(f.objects) > 0 {
		store, err := a.objectStore(ctx)
		if err != nil {
			return nil, noop, err
		}
		workspace, err := database.NewWorkspace(a.cfg.Uploads.Dir, "cli", a.cfg.Uploads.MaxBytes)
		if err != nil {
			return nil, noop, fmt.Errorf("create workspace: %w", err)
		}
		cleanup = func() { _ = workspace.Close() }
		for _, key := range f.objects {
			source, err := workspace.AddObject(ctx, store, key)
			if err != nil {
				a.logger.WarnContext(ctx, "database not staged", slog.String("object", key), slog.String("error", err.Error()))
			}
			sources = append(sources, source)
		}
	}

	if f.postgres != "" {
		source, err := database.PostgresSource("postgres", f.postgres)
		if err != nil {
			cleanup()
			return nil, noop, err
		}
		sources = append(sources, source)
	}
	return sources, cleanup, nil
}
