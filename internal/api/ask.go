package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/querypilot/querypilot/internal/config"
	"github.com/querypilot/querypilot/internal/observability"
	"github.com/querypilot/querypilot/internal/pipeline"
	"github.com/querypilot/querypilot/internal/render"
)

type askResponse struct {
	RunID      string               `json:"run_id"`
	Question   string               `json:"question"`
	Table      string               `json:"table"`
	Outcomes   []render.OutcomeView `json:"outcomes"`
	Failures   int                  `json:"failures"`
	DurationMs int64                `json:"duration_ms"`
}

func handleAsk(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "PIPELINE_NOT_CONFIGURED", "query pipeline is not configured", false, nil)
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
	defer func() {
		if err := form.Workspace.Close(); err != nil && deps.Logger != nil {
			deps.Logger.WarnContext(ctx, "workspace cleanup failed", slog.String("error", err.Error()))
		}
	}()

	report := deps.Pipeline.Run(ctx, pipeline.Submission{
		Question: form.Question,
		Table:    form.Table,
		Files:    form.Sources,
		RowLimit: form.RowLimit,
	}, pipeline.SinkFunc(func(context.Context, pipeline.Outcome) error { return nil }))

	views := make([]render.OutcomeView, 0, len(report.Outcomes))
	for _, outcome := range report.Outcomes {
		views = append(views, render.NewOutcomeView(outcome))
	}
	writeJSON(w, http.StatusOK, askResponse{
		RunID:      report.RunID,
		Question:   report.Question,
		Table:      report.Table,
		Outcomes:   views,
		Failures:   report.Failures(),
		DurationMs: report.Duration.Milliseconds(),
	})
}

// withRequestBudget bounds a submission so files still running when the
// server is about to give up on the response are reported as cancelled
// instead of lost.
func withRequestBudget(ctx context.Context, cfg config.Config) (context.Context, context.CancelFunc) {
	budget := cfg.HTTP.RequestBudget()
	if budget <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, budget)
}
