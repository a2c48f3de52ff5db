package querypilot

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/querypilot/querypilot/internal/storage"
)

func newRemoveCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "remove KEY...",
		Aliases: []string{"rm"},
		Short:   "Delete published database files from the object store",
		Example: `  querypilot remove hr/company.db`,
		Args:    usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemove(cmd, a, args)
		},
	}
}

func runRemove(cmd *cobra.Command, a *app, keys []string) error {
	for _, key := range keys {
		if err := storage.ValidateDatabaseKey(key); err != nil {
			return &usageError{err: err}
		}
	}

	ctx := cmd.Context()
	store, err := a.objectStore(ctx)
	if err != nil {
		return err
	}

	failed := false
	for _, key := range keys {
		info, err := store.Stat(ctx, key)
		if err == nil {
			err = store.Delete(ctx, key)
		}
		if err != nil {
			failed = true
			if errors.Is(err, storage.ErrObjectNotFound) {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "%s: not found\n", key)
				continue
			}
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", key, err)
			continue
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "removed %s (%d bytes)\n", key, info.Size)
	}
	if failed {
		return errFailures
	}
	return nil
}
