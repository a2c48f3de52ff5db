package database

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/querypilot/querypilot/internal/storage"
)

var ErrFileTooLarge = errors.New("database file exceeds size limit")

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Workspace holds the transient copies of database files for one submission.
// Close removes everything written into it.
type Workspace struct {
	Dir      string
	maxBytes int64
	count    int
}

func NewWorkspace(baseDir, runID string, maxBytes int64) (*Workspace, error) {
	pattern := "querypilot-"
	if runID != "" {
		pattern += sanitizeFileName(runID) + "-"
	}
	dir, err := os.MkdirTemp(baseDir, pattern)
	if err != nil {
		return nil, fmt.Errorf("create workspace dir: %w", err)
	}
	return &Workspace{Dir: dir, maxBytes: maxBytes}, nil
}

// AddFile copies reader into the workspace and detects its dialect. On
// failure the returned source carries the error under the display name, so
// callers can report it without exposing the staged path.
func (w *Workspace) AddFile(name string, reader io.Reader) (Source, error) {
	display := strings.TrimSpace(filepath.Base(name))
	if display == "" || display == "." || display == string(filepath.Separator) {
		display = "database.db"
	}
	w.count++
	localPath := filepath.Join(w.Dir, fmt.Sprintf("%03d_%s", w.count, sanitizeFileName(display)))
	if err := writeFile(localPath, reader, w.maxBytes); err != nil {
		_ = os.Remove(localPath)
		if errors.Is(err, ErrFileTooLarge) {
			err = fmt.Errorf("%s: %w", display, err)
		} else {
			err = fmt.Errorf("write database file %q: %w", display, stagingCause(err))
		}
		return FailedSource(display, err), err
	}

	dialect, err := DetectDialect(localPath)
	if err != nil {
		if errors.Is(err, ErrUnknownFormat) {
			err = fmt.Errorf("%s: %w", display, ErrUnknownFormat)
		} else {
			err = fmt.Errorf("inspect database file %q: %w", display, stagingCause(err))
		}
		return FailedSource(display, err), err
	}
	return Source{Name: display, Dialect: dialect, DSN: localPath}, nil
}

// AddObject downloads key from the object store into the workspace. Objects
// whose stored size is over the limit are rejected before any bytes move.
func (w *Workspace) AddObject(ctx context.Context, store storage.Reader, key string) (Source, error) {
	if store == nil {
		err := fmt.Errorf("object store is not configured")
		return FailedSource(key, err), err
	}
	info, err := store.Stat(ctx, key)
	if err != nil {
		err = fmt.Errorf("stat object %q: %w", key, err)
		return FailedSource(key, err), err
	}
	if w.maxBytes > 0 && info.Size > w.maxBytes {
		err = fmt.Errorf("%s: %w (%d bytes, limit %d)", key, ErrFileTooLarge, info.Size, w.maxBytes)
		return FailedSource(key, err), err
	}

	reader, err := store.Get(ctx, key)
	if err != nil {
		err = fmt.Errorf("get object %q: %w", key, err)
		return FailedSource(key, err), err
	}
	defer func() { _ = reader.Close() }()

	source, err := w.AddFile(path.Base(key), reader)
	source.Name = key
	return source, err
}

func (w *Workspace) Close() error {
	if w == nil || w.Dir == "" {
		return nil
	}
	return os.RemoveAll(w.Dir)
}

// stagingCause drops the workspace path from filesystem errors.
func stagingCause(err error) error {
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return pathErr.Err
	}
	return err
}

func sanitizeFileName(value string) string {
	value = unsafeNameChars.ReplaceAllString(value, "_")
	value = strings.ReplaceAll(value, "..", "_")
	if value == "" {
		return "database"
	}
	return value
}
