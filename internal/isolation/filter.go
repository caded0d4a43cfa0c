// Package isolation confines every tenant data access to the caller's scope.
//
// The read path never splices the ownership predicate into client text.
// Instead each referenced table is shadowed by a CTE of the same name that
// selects only the scope's rows, and the scope id is bound as a parameter.
// Writes use structured single-row operations built from gorm clauses.
package isolation

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/hugh/quanty/internal/apperr"
	"github.com/hugh/quanty/internal/metrics"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const DefaultMaxRows = 1000

type ScopeKind string

const (
	ScopeWorkspace ScopeKind = "workspace"
	ScopeUser      ScopeKind = "user"
)

// Scope is the ownership key rows are filtered by.
type Scope struct {
	Kind ScopeKind
	ID   uuid.UUID
}

func WorkspaceScope(id uuid.UUID) Scope { return Scope{Kind: ScopeWorkspace, ID: id} }
func UserScope(id uuid.UUID) Scope      { return Scope{Kind: ScopeUser, ID: id} }

func (s Scope) String() string {
	return string(s.Kind) + ":" + s.ID.String()
}

// Path names the caller of the read path, for metrics and logs.
type Path string

const (
	PathAnalytics Path = "analytics"
	PathDashboard Path = "dashboard"
	PathManual    Path = "manual"
)

// Statement is a scoped, parameterised read ready to execute.
type Statement struct {
	SQL    string
	Args   []any
	Tables []string
}

// Result is the outcome of executing a Statement.
type Result struct {
	Columns   []string         `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	Truncated bool             `json:"truncated"`
}

type Filter struct {
	db      *gorm.DB
	catalog *Catalog
	metrics *metrics.Metrics
	logger  *slog.Logger
	maxRows int
}

type Option func(*Filter)

func WithMaxRows(n int) Option {
	return func(f *Filter) {
		if n > 0 {
			f.maxRows = n
		}
	}
}

func NewFilter(db *gorm.DB, catalog *Catalog, m *metrics.Metrics, logger *slog.Logger, opts ...Option) *Filter {
	f := &Filter{
		db:      db,
		catalog: catalog,
		metrics: m,
		logger:  logger,
		maxRows: DefaultMaxRows,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Filter) Catalog() *Catalog {
	return f.catalog
}

func (f *Filter) postgres() bool {
	return f.db.Dialector.Name() == "postgres"
}

func (f *Filter) schema() string {
	if f.postgres() {
		return "public"
	}
	return "main"
}

func ownerEq(scope Scope) clause.Eq {
	return clause.Eq{Column: clause.Column{Name: OwnerColumn}, Value: scope.ID.String()}
}

// ScopeQuery validates untrusted SELECT text and rewrites it so that every
// table it reads is restricted to scope. Tables the scope owns no rows in
// are reported as NotFound, indistinguishable from tables that do not exist.
func (f *Filter) ScopeQuery(ctx context.Context, raw string, scope Scope, path Path) (*Statement, error) {
	stmt, err := f.scopeQuery(ctx, raw, scope)
	if err != nil {
		f.metrics.Rejected(string(path), apperr.ReasonOf(err))
		f.logger.Debug("statement rejected", "path", path, "scope", scope.String(), "reason", apperr.ReasonOf(err))
		return nil, err
	}
	f.metrics.Scoped(string(path))
	return stmt, nil
}

func (f *Filter) scopeQuery(ctx context.Context, raw string, scope Scope) (*Statement, error) {
	if scope.ID == uuid.Nil {
		return nil, apperr.InvalidInput("scope")
	}

	text, err := Sanitize(raw)
	if err != nil {
		return nil, err
	}
	a, err := analyze(text)
	if err != nil {
		return nil, err
	}

	for _, name := range a.ctes {
		if IsReserved(name) {
			return nil, apperr.InvalidInput("reserved_table")
		}
		exists, err := f.catalog.Exists(ctx, name)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, apperr.InvalidInput("cte_name")
		}
	}

	for _, name := range a.tables {
		if IsReserved(name) {
			return nil, apperr.InvalidInput("reserved_table")
		}
		if _, err := f.ownedTable(ctx, scope, name, false); err != nil {
			return nil, err
		}
	}

	return f.rewrite(a, text, scope), nil
}

// rewrite prepends one scoped CTE per table, merging into a leading WITH.
func (f *Filter) rewrite(a *analysis, text string, scope Scope) *Statement {
	stmt := &Statement{Tables: a.tables}
	if len(a.tables) == 0 {
		stmt.SQL = text
		return stmt
	}

	ctes := make([]string, 0, len(a.tables))
	for _, t := range a.tables {
		ph := "?"
		if f.postgres() {
			ph = "$1"
		} else {
			stmt.Args = append(stmt.Args, scope.ID.String())
		}
		ctes = append(ctes, fmt.Sprintf("%s AS (SELECT * FROM %s.%s WHERE %s = %s)",
			quoteIdent(t), f.schema(), quoteIdent(t), quoteIdent(OwnerColumn), ph))
	}
	if f.postgres() {
		stmt.Args = []any{scope.ID.String()}
	}

	prefix := "WITH " + strings.Join(ctes, ", ")
	if a.tokens[0].is(tokWord, "with") {
		stmt.SQL = prefix + "," + text[a.tokens[0].end:]
	} else {
		stmt.SQL = prefix + " " + text
	}
	return stmt
}

// Query executes a statement produced by ScopeQuery. The statement is run
// on the raw connection so placeholders inside string literals are left
// alone; on PostgreSQL it runs in a read-only transaction.
func (f *Filter) Query(ctx context.Context, stmt *Statement) (*Result, error) {
	sqlDB, err := f.db.DB()
	if err != nil {
		return nil, apperr.Internal(err)
	}

	var rows *sql.Rows
	if f.postgres() {
		tx, err := sqlDB.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
		if err != nil {
			return nil, apperr.Internal(err)
		}
		defer func() { _ = tx.Rollback() }()
		rows, err = tx.QueryContext(ctx, stmt.SQL, stmt.Args...)
		if err != nil {
			return nil, queryError(err)
		}
	} else {
		rows, err = sqlDB.QueryContext(ctx, stmt.SQL, stmt.Args...)
		if err != nil {
			return nil, queryError(err)
		}
	}
	defer rows.Close()

	return f.scan(rows)
}

// queryError hides driver messages. Statements that pass the guard can
// still be malformed, which is the client's fault rather than ours.
func queryError(err error) error {
	return apperr.InvalidInput("query_failed").WithCause(err)
}

func (f *Filter) scan(rows *sql.Rows) (*Result, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, apperr.Internal(err)
	}

	keep := make([]bool, len(cols))
	res := &Result{Rows: []map[string]any{}}
	for i, c := range cols {
		keep[i] = c != OwnerColumn
		if keep[i] {
			res.Columns = append(res.Columns, c)
		}
	}

	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if len(res.Rows) >= f.maxRows {
			res.Truncated = true
			break
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, queryError(err)
		}
		row := make(map[string]any, len(res.Columns))
		for i, c := range cols {
			if keep[i] {
				row[c] = normalize(values[i])
			}
		}
		res.Rows = append(res.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, queryError(err)
	}
	return res, nil
}

func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// Resolve returns the schema of a table scope may use: one it registered or
// one it owns rows in. Anything else is NotFound.
func (f *Filter) Resolve(ctx context.Context, scope Scope, name string) (*TableSchema, error) {
	return f.ownedTable(ctx, scope, name, true)
}

// ownedTable resolves name for scope. The table must exist, carry the
// ownership column and hold at least one of the scope's rows, unless
// allowEmpty is set and the scope registered the table itself.
func (f *Filter) ownedTable(ctx context.Context, scope Scope, name string, allowEmpty bool) (*TableSchema, error) {
	if IsReserved(name) {
		return nil, apperr.InvalidInput("reserved_table")
	}
	s, err := f.catalog.Table(ctx, name)
	if err != nil {
		return nil, err
	}
	if !s.Owned() {
		return nil, apperr.NotFound("table")
	}

	n, err := f.OwnedRowCount(ctx, scope, name)
	if err != nil {
		return nil, err
	}
	if n == 0 && !(allowEmpty && s.Meta.ScopeID == scope.ID) {
		return nil, apperr.NotFound("table")
	}
	return s, nil
}
