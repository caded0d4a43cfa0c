// Package analytics answers questions and runs dashboard widgets against
// tenant tables. Every statement, generated or saved, goes through the
// isolation filter before it executes.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hugh/quanty/internal/apperr"
	"github.com/hugh/quanty/internal/isolation"
	"golang.org/x/sync/errgroup"
)

const (
	MaxQuestionLength  = 2000
	MaxWidgets         = 50
	DefaultConcurrency = 4
)

// ErrNoGenerator is returned by Ask when no text generator is configured.
var ErrNoGenerator = errors.New("analytics: no generator configured")

// Generator turns a question into SQL text. Its output is untrusted.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

type Widget struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
	Query string `json:"query"`
}

type WidgetResult struct {
	ID     string            `json:"id"`
	Result *isolation.Result `json:"result,omitempty"`
	Error  string            `json:"error,omitempty"`
}

type Answer struct {
	Question string            `json:"question"`
	SQL      string            `json:"sql"`
	Result   *isolation.Result `json:"result"`
}

type Service struct {
	filter      *isolation.Filter
	generator   Generator
	logger      *slog.Logger
	concurrency int
}

func NewService(filter *isolation.Filter, generator Generator, logger *slog.Logger) *Service {
	return &Service{
		filter:      filter,
		generator:   generator,
		logger:      logger,
		concurrency: DefaultConcurrency,
	}
}

const systemPrompt = `You translate questions into a single read-only SQL SELECT statement.
Use only the table and columns described. Reply with the SQL only.`

// Ask generates SQL for question over table and runs it in scope.
func (s *Service) Ask(ctx context.Context, scope isolation.Scope, table, question string) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" || len(question) > MaxQuestionLength {
		return nil, apperr.InvalidInput("question")
	}
	if s.generator == nil {
		return nil, apperr.Internal(ErrNoGenerator)
	}

	schema, err := s.filter.Resolve(ctx, scope, table)
	if err != nil {
		return nil, err
	}

	raw, err := s.generator.Generate(ctx, systemPrompt, buildPrompt(schema, question))
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("generating sql: %w", err))
	}

	sql, err := isolation.Sanitize(raw)
	if err != nil {
		return nil, err
	}
	res, err := s.run(ctx, scope, sql, isolation.PathAnalytics)
	if err != nil {
		s.logger.Info("generated sql rejected", "scope", scope.String(), "reason", apperr.ReasonOf(err))
		return nil, err
	}
	return &Answer{Question: question, SQL: sql, Result: res}, nil
}

// ExecuteWidget runs one saved widget query in scope.
func (s *Service) ExecuteWidget(ctx context.Context, scope isolation.Scope, w Widget) (*isolation.Result, error) {
	if strings.TrimSpace(w.Query) == "" {
		return nil, apperr.InvalidInput("query")
	}
	return s.run(ctx, scope, w.Query, isolation.PathDashboard)
}

// ExecuteAll runs widgets concurrently. A failing widget does not stop the
// others; its error is reported in its own result.
func (s *Service) ExecuteAll(ctx context.Context, scope isolation.Scope, widgets []Widget) ([]WidgetResult, error) {
	if len(widgets) == 0 || len(widgets) > MaxWidgets {
		return nil, apperr.InvalidInput("widgets")
	}

	results := make([]WidgetResult, len(widgets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, w := range widgets {
		g.Go(func() error {
			res, err := s.ExecuteWidget(gctx, scope, w)
			results[i] = WidgetResult{ID: w.ID, Result: res}
			if err != nil {
				results[i].Error = apperr.ReasonOf(err)
				if apperr.KindOf(err) == apperr.KindInternal {
					s.logger.Error("widget failed", "widget", w.ID, "error", err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) run(ctx context.Context, scope isolation.Scope, sql string, path isolation.Path) (*isolation.Result, error) {
	stmt, err := s.filter.ScopeQuery(ctx, sql, scope, path)
	if err != nil {
		return nil, err
	}
	return s.filter.Query(ctx, stmt)
}

// buildPrompt describes the visible columns of schema. The ownership column
// is never mentioned.
func buildPrompt(schema *isolation.TableSchema, question string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Table %q has columns:\n", schema.Meta.Name)
	for _, c := range schema.Visible() {
		fmt.Fprintf(&b, "- %s (%s)\n", c.ColumnName, c.Type)
	}
	fmt.Fprintf(&b, "\nQuestion: %s", question)
	return b.String()
}
