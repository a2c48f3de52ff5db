package nl2sql

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/querypilot/querypilot/internal/database"
)

var ErrEmptyCompletion = errors.New("model returned empty SQL")

// Generator is a text-generation backend: one prompt in, one completion out.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Describer is implemented by generators that can name their backend.
type Describer interface {
	Provider() string
	Model() string
}

type Request struct {
	Question string           `json:"question"`
	Schema   string           `json:"schema"`
	Dialect  database.Dialect `json:"dialect,omitempty"`
}

type Result struct {
	SQL      string `json:"sql"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Prompt   string `json:"-"`
}

// GenerationError wraps any failure to obtain SQL from the backend.
type GenerationError struct {
	Provider string
	Err      error
}

func (e *GenerationError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("generate query: %v", e.Err)
	}
	return fmt.Sprintf("generate query via %s: %v", e.Provider, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

type Translator struct {
	generator Generator
}

func NewTranslator(generator Generator) (*Translator, error) {
	if generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	return &Translator{generator: generator}, nil
}

// Translate asks the backend for one SQL statement answering req.Question
// against req.Schema. The returned SQL is not validated.
func (t *Translator) Translate(ctx context.Context, req Request) (Result, error) {
	provider, model := describe(t.generator)
	prompt := BuildPrompt(req)

	completion, err := t.generator.Generate(ctx, prompt)
	if err != nil {
		return Result{}, &GenerationError{Provider: provider, Err: err}
	}
	sql := stripMarkdownSQL(completion)
	if sql == "" {
		return Result{}, &GenerationError{Provider: provider, Err: ErrEmptyCompletion}
	}
	return Result{SQL: sql, Provider: provider, Model: model, Prompt: prompt}, nil
}

// BuildPrompt embeds the question and schema verbatim.
func BuildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("You are an expert in SQL.\n")
	if req.Dialect != "" {
		fmt.Fprintf(&b, "The database engine is %s.\n", dialectLabel(req.Dialect))
	}
	b.WriteString("Given the schema:\n")
	b.WriteString(req.Schema)
	b.WriteString("\n\nGenerate a SQL query for this question:\n")
	b.WriteString(req.Question)
	b.WriteString("\n\nOnly return the SQL query without explanation or formatting.\n")
	return b.String()
}

func dialectLabel(dialect database.Dialect) string {
	switch dialect {
	case database.DialectSQLite:
		return "SQLite"
	case database.DialectDuckDB:
		return "DuckDB"
	case database.DialectPostgres:
		return "PostgreSQL"
	default:
		return string(dialect)
	}
}

func describe(generator Generator) (string, string) {
	if d, ok := generator.(Describer); ok {
		return d.Provider(), d.Model()
	}
	return "", ""
}

func stripMarkdownSQL(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```sql")
		trimmed = strings.TrimPrefix(trimmed, "```SQL")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
		return strings.TrimSpace(trimmed)
	}
	return trimmed
}
