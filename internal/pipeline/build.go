package pipeline

import (
	"log/slog"

	"github.com/querypilot/querypilot/internal/config"
	"github.com/querypilot/querypilot/internal/database"
	"github.com/querypilot/querypilot/internal/nl2sql"
	"github.com/querypilot/querypilot/internal/query"
	"github.com/querypilot/querypilot/internal/schema"
)

// FromConfig wires the default components for a service or CLI process.
func FromConfig(cfg config.Config, logger *slog.Logger) (*Orchestrator, error) {
	generator, err := nl2sql.NewGenerator(cfg.AI)
	if err != nil {
		return nil, err
	}
	translator, err := nl2sql.NewTranslator(generator)
	if err != nil {
		return nil, err
	}
	return Assemble(cfg, translator, logger)
}

// Assemble builds an orchestrator around the given translator using the
// configured opener, policy and limits.
func Assemble(cfg config.Config, translator QueryTranslator, logger *slog.Logger) (*Orchestrator, error) {
	return New(
		database.SQLOpener{ReadOnly: cfg.Query.ReadOnly},
		schema.NewExtractor(),
		translator,
		query.NewExecutor(query.PolicyFor(cfg.Query.ReadOnly)),
		Options{
			RowLimit:          cfg.Query.RowLimit,
			GenerationTimeout: cfg.AI.Timeout,
			ExecutionTimeout:  cfg.Query.ExecutionTimeout,
			Logger:            logger,
		},
	)
}
