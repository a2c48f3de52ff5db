package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/querypilot/querypilot/internal/config"
	"github.com/querypilot/querypilot/internal/database"
	"github.com/querypilot/querypilot/internal/observability"
	"github.com/querypilot/querypilot/internal/storage"
)

const multipartMemory = 8 << 20

const missingInputMessage = "Please provide a question, database file, and table name."

type submissionForm struct {
	Question  string
	Table     string
	RowLimit  int
	Workspace *database.Workspace
	Sources   []database.Source
}

type formError struct {
	status  int
	code    string
	message string
	extra   map[string]any
}

func (e *formError) Error() string {
	return e.message
}

// parseSubmission reads the multipart form and stages every database into a
// fresh workspace. The caller closes the workspace.
func parseSubmission(ctx context.Context, cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) (*submissionForm, error) {
	maxFiles := int64(cfg.Uploads.MaxFiles)
	r.Body = http.MaxBytesReader(w, r.Body, cfg.Uploads.MaxBytes*maxFiles+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &formError{status: http.StatusRequestEntityTooLarge, code: "PAYLOAD_TOO_LARGE", message: "request body exceeds upload limit"}
		}
		return nil, &formError{status: http.StatusBadRequest, code: "INVALID_FORM", message: "invalid multipart form", extra: map[string]any{"details": err.Error()}}
	}
	// Uploads are copied into the workspace; spooled parts can go.
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	form := &submissionForm{
		Question: r.FormValue("question"),
		Table:    strings.TrimSpace(r.FormValue("table")),
	}
	if raw := strings.TrimSpace(r.FormValue("row_limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return nil, &formError{status: http.StatusBadRequest, code: "INVALID_ROW_LIMIT", message: "row_limit must be a non-negative integer"}
		}
		form.RowLimit = limit
	}

	uploads := r.MultipartForm.File["files"]
	objectKeys := splitKeys(r.FormValue("object_keys"))
	if form.Table == "" || len(uploads)+len(objectKeys) == 0 {
		return nil, &formError{status: http.StatusBadRequest, code: "INPUT_REQUIRED", message: missingInputMessage}
	}
	if len(uploads)+len(objectKeys) > cfg.Uploads.MaxFiles {
		return nil, &formError{status: http.StatusBadRequest, code: "TOO_MANY_FILES", message: fmt.Sprintf("at most %d databases per request", cfg.Uploads.MaxFiles)}
	}
	if len(objectKeys) > 0 && deps.ObjectStore == nil {
		return nil, &formError{status: http.StatusNotImplemented, code: "OBJECT_STORE_NOT_CONFIGURED", message: "object store is not configured"}
	}

	workspace, err := database.NewWorkspace(cfg.Uploads.Dir, observability.RunIDFromContext(ctx), cfg.Uploads.MaxBytes)
	if err != nil {
		return nil, &formError{status: http.StatusInternalServerError, code: "WORKSPACE_ERROR", message: "failed to stage uploads", extra: map[string]any{"details": err.Error()}}
	}
	form.Workspace = workspace

	// A database that cannot be staged becomes a failed source so the rest of
	// the batch still runs.
	for _, header := range uploads {
		file, err := header.Open()
		if err != nil {
			form.Sources = append(form.Sources, database.FailedSource(header.Filename, fmt.Errorf("read uploaded file %q: %w", header.Filename, err)))
			continue
		}
		source, _ := workspace.AddFile(header.Filename, file)
		_ = file.Close()
		form.Sources = append(form.Sources, source)
	}
	for _, key := range objectKeys {
		if err := storage.ValidateDatabaseKey(key); err != nil {
			form.Sources = append(form.Sources, database.FailedSource(key, err))
			continue
		}
		source, _ := workspace.AddObject(ctx, deps.ObjectStore, key)
		form.Sources = append(form.Sources, source)
	}
	return form, nil
}

func splitKeys(raw string) []string {
	keys := make([]string, 0)
	for _, key := range strings.Split(raw, ",") {
		if key = strings.TrimSpace(key); key != "" {
			keys = append(keys, key)
		}
	}
	return keys
}

func writeFormError(ctx context.Context, w http.ResponseWriter, err error) {
	var formErr *formError
	if errors.As(err, &formErr) {
		writeError(ctx, w, formErr.status, formErr.code, formErr.message, false, formErr.extra)
		return
	}
	writeError(ctx, w, http.StatusInternalServerError, "INTERNAL", err.Error(), false, nil)
}

// acquire reserves a run slot. It returns false after writing a BUSY
// response when no slot frees up in time.
func acquire(deps Dependencies, w http.ResponseWriter, r *http.Request) (func(), bool) {
	if deps.Limiter == nil {
		return func() {}, true
	}
	ctx := r.Context()
	if deps.QueueTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deps.QueueTimeout)
		defer cancel()
	}
	if err := deps.Limiter.Acquire(ctx, 1); err != nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "BUSY", "too many submissions in progress", true, nil)
		return nil, false
	}
	return func() { deps.Limiter.Release(1) }, true
}
