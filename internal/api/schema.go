package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/querypilot/querypilot/internal/config"
	"github.com/querypilot/querypilot/internal/database"
	"github.com/querypilot/querypilot/internal/observability"
	"github.com/querypilot/querypilot/internal/pipeline"
	"github.com/querypilot/querypilot/internal/render"
	"github.com/querypilot/querypilot/internal/schema"
)

type schemaView struct {
	File        string              `json:"file"`
	Dialect     string              `json:"dialect"`
	Description string              `json:"description,omitempty"`
	Schema      *schema.Description `json:"schema,omitempty"`
	Error       *render.ErrorView   `json:"error,omitempty"`
}

func handleSchema(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Opener == nil || deps.Describer == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema lookup is not configured", false, nil)
		return
	}

	release, ok := acquire(deps, w, r)
	if !ok {
		return
	}
	defer release()

	ctx, cancel := withRequestBudget(r.Context(), cfg)
	defer cancel()
	ctx = observability.ContextWithRunID(ctx, uuid.NewString())
	form, err := parseSubmission(ctx, cfg, deps, w, r)
	if err != nil {
		writeFormError(ctx, w, err)
		return
	}
	defer func() { _ = form.Workspace.Close() }()

	views := make([]schemaView, 0, len(form.Sources))
	for _, source := range form.Sources {
		views = append(views, describeSource(ctx, deps, source, form.Table))
	}
	writeJSON(w, http.StatusOK, map[string]any{"table": form.Table, "files": views})
}

func describeSource(ctx context.Context, deps Dependencies, source database.Source, table string) schemaView {
	view := schemaView{File: source.String(), Dialect: string(source.Dialect)}
	if source.Err != nil {
		view.Error = &render.ErrorView{Kind: string(pipeline.KindSchemaLookup), Message: source.Err.Error()}
		return view
	}
	db, err := deps.Opener.Open(ctx, source)
	if err != nil {
		view.Error = &render.ErrorView{Kind: string(pipeline.KindSchemaLookup), Message: err.Error()}
		return view
	}
	defer func() { _ = db.Close() }()

	description, err := deps.Describer.Describe(ctx, db, source.Dialect, table)
	if err != nil {
		view.Error = &render.ErrorView{Kind: string(pipeline.KindSchemaLookup), Message: err.Error()}
		return view
	}
	view.Description = description.String()
	view.Schema = &description
	return view
}
