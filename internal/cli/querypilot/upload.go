package querypilot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/querypilot/querypilot/internal/database"
	"github.com/querypilot/querypilot/internal/storage"
)

// fileUploader is implemented by stores that can stream a local file
// directly, such as the S3 store.
type fileUploader interface {
	PutFile(ctx context.Context, key, localPath string) (storage.ObjectInfo, error)
}

type uploadOptions struct {
	namespace string
	name      string
	replace   bool
}

func newUploadCommand(a *app) *cobra.Command {
	opts := &uploadOptions{}
	cmd := &cobra.Command{
		Use:   "upload FILE",
		Short: "Publish a database file to the object store",
		Example: `  querypilot upload company.db --namespace hr
  querypilot ask "headcount by team" -t employees --object hr/company.db`,
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpload(cmd, a, opts, args[0])
		},
	}
	cmd.Flags().StringVarP(&opts.namespace, "namespace", "n", "default", "Key namespace")
	cmd.Flags().StringVar(&opts.name, "name", "", "Object file name (default: base name of FILE)")
	cmd.Flags().BoolVar(&opts.replace, "replace", false, "Overwrite an existing object with the same key")
	return cmd
}

func runUpload(cmd *cobra.Command, a *app, opts *uploadOptions, path string) error {
	name := strings.TrimSpace(opts.name)
	if name == "" {
		name = filepath.Base(path)
	}
	key, err := storage.BuildDatabaseKey(strings.TrimSpace(opts.namespace), name)
	if err != nil {
		return &usageError{err: err}
	}
	if _, err := database.DetectDialect(path); err != nil {
		return err
	}

	ctx := cmd.Context()
	store, err := a.objectStore(ctx)
	if err != nil {
		return err
	}

	existing, err := store.Stat(ctx, key)
	switch {
	case err == nil && !opts.replace:
		return fmt.Errorf("object %s already exists (%d bytes); pass --replace to overwrite", key, existing.Size)
	case err != nil && !errors.Is(err, storage.ErrObjectNotFound):
		return fmt.Errorf("stat %s: %w", key, err)
	}

	var info storage.ObjectInfo
	if uploader, ok := store.(fileUploader); ok {
		info, err = uploader.PutFile(ctx, key, path)
	} else {
		info, err = putFile(ctx, store, key, path)
	}
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "uploaded %s (%d bytes)\n", info.Key, info.Size)
	return nil
}

func putFile(ctx context.Context, store storage.ObjectStore, key, path string) (storage.ObjectInfo, error) {
	file, err := os.Open(path)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	defer func() { _ = file.Close() }()
	stat, err := file.Stat()
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	return store.Put(ctx, key, file, stat.Size(), storage.PutOptions{ContentType: storage.DatabaseContentType})
}
