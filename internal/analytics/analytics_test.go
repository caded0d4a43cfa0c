package analytics_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/hugh/quanty/internal/analytics"
	"github.com/hugh/quanty/internal/apperr"
	"github.com/hugh/quanty/internal/isolation"
	"github.com/hugh/quanty/internal/tables"
	"github.com/hugh/quanty/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []string
}

func (g *fakeGenerator) Generate(_ context.Context, _, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	return g.reply, g.err
}

type fixture struct {
	svc    *analytics.Service
	gen    *fakeGenerator
	owner  isolation.Scope
	stray  isolation.Scope
	filter *isolation.Filter
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })
	ctx := testutil.TestContext(t)

	catalog, err := isolation.NewCatalog(db, 16, nil)
	require.NoError(t, err)
	filter := isolation.NewFilter(db, catalog, nil, testutil.Logger())
	builder := tables.NewBuilder(db, filter, testutil.Logger())

	fx := &fixture{
		gen:    &fakeGenerator{},
		owner:  isolation.WorkspaceScope(uuid.New()),
		stray:  isolation.UserScope(uuid.New()),
		filter: filter,
	}
	fx.svc = analytics.NewService(filter, fx.gen, testutil.Logger())

	_, err = builder.Create(ctx, fx.owner, "sales", "Sales", []tables.Column{
		{Name: "region", Type: "text"},
		{Name: "amount", Type: "number", Nullable: true},
	})
	require.NoError(t, err)
	for i, region := range []string{"north", "south", "north"} {
		_, err := filter.InsertRow(ctx, fx.owner, "sales", map[string]any{"region": region, "amount": (i + 1) * 10})
		require.NoError(t, err)
	}
	return fx
}

func assertKind(t *testing.T, err error, kind apperr.Kind, reason string) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, apperr.KindOf(err), err.Error())
	if reason != "" {
		assert.Equal(t, reason, apperr.ReasonOf(err))
	}
}

func TestAsk(t *testing.T) {
	fx := setup(t)
	fx.gen.reply = "Here you go:\n```sql\nSELECT region, SUM(amount) AS total FROM sales GROUP BY region ORDER BY region;\n```"

	ans, err := fx.svc.Ask(testutil.TestContext(t), fx.owner, "sales", "  revenue by region ")
	require.NoError(t, err)
	assert.Equal(t, "revenue by region", ans.Question)
	assert.Equal(t, "SELECT region, SUM(amount) AS total FROM sales GROUP BY region ORDER BY region", ans.SQL)
	require.Len(t, ans.Result.Rows, 2)
	assert.Equal(t, "north", ans.Result.Rows[0]["region"])
	assert.EqualValues(t, 40, ans.Result.Rows[0]["total"])

	require.Len(t, fx.gen.prompts, 1)
	assert.Contains(t, fx.gen.prompts[0], "region (text)")
	assert.NotContains(t, fx.gen.prompts[0], isolation.OwnerColumn)
}

func TestAskRejectsUnsafeGeneratedSQL(t *testing.T) {
	fx := setup(t)
	ctx := testutil.TestContext(t)

	tests := []struct {
		reply  string
		kind   apperr.Kind
		reason string
	}{
		{"DELETE FROM sales", apperr.KindInvalidInput, "not_select"},
		{"SELECT 1; DROP TABLE sales", apperr.KindInvalidInput, "multiple_statements"},
		{"SELECT email FROM users", apperr.KindInvalidInput, "reserved_table"},
		{"WITH x AS (DELETE FROM sales RETURNING *) SELECT * FROM x", apperr.KindInvalidInput, "mutation"},
		{"SELECT * FROM sales WHERE tenant_id = ?", apperr.KindInvalidInput, "placeholder"},
		{"SELECT * FROM forecasts", apperr.KindNotFound, "table"},
		{"I am not able to help.", apperr.KindInvalidInput, "not_select"},
	}
	for _, tt := range tests {
		t.Run(tt.reply, func(t *testing.T) {
			fx.gen.reply = tt.reply
			_, err := fx.svc.Ask(ctx, fx.owner, "sales", "anything")
			assertKind(t, err, tt.kind, tt.reason)
		})
	}
}

func TestAskOutsideScope(t *testing.T) {
	fx := setup(t)
	fx.gen.reply = "SELECT * FROM sales"

	_, err := fx.svc.Ask(testutil.TestContext(t), fx.stray, "sales", "everything")
	assertKind(t, err, apperr.KindNotFound, "table")
	assert.Empty(t, fx.gen.prompts)
}

func TestAskFailures(t *testing.T) {
	fx := setup(t)
	ctx := testutil.TestContext(t)

	_, err := fx.svc.Ask(ctx, fx.owner, "sales", "   ")
	assertKind(t, err, apperr.KindInvalidInput, "question")
	_, err = fx.svc.Ask(ctx, fx.owner, "sales", strings.Repeat("q", analytics.MaxQuestionLength+1))
	assertKind(t, err, apperr.KindInvalidInput, "question")

	fx.gen.err = errors.New("upstream unavailable")
	_, err = fx.svc.Ask(ctx, fx.owner, "sales", "count")
	assertKind(t, err, apperr.KindInternal, "")

	noGen := analytics.NewService(fx.filter, nil, testutil.Logger())
	_, err = noGen.Ask(ctx, fx.owner, "sales", "count")
	assert.ErrorIs(t, err, analytics.ErrNoGenerator)
}

func TestExecuteAll(t *testing.T) {
	fx := setup(t)
	ctx := testutil.TestContext(t)

	widgets := []analytics.Widget{
		{ID: "total", Query: "SELECT SUM(amount) AS total FROM sales"},
		{ID: "drop", Query: "DROP TABLE sales"},
		{ID: "leak", Query: "SELECT * FROM workspace_members"},
		{ID: "count", Query: "SELECT COUNT(*) AS n FROM sales"},
	}
	for i := 0; i < 8; i++ {
		widgets = append(widgets, analytics.Widget{ID: fmt.Sprintf("w%d", i), Query: "SELECT region FROM sales"})
	}

	results, err := fx.svc.ExecuteAll(ctx, fx.owner, widgets)
	require.NoError(t, err)
	require.Len(t, results, len(widgets))

	assert.Equal(t, "total", results[0].ID)
	assert.EqualValues(t, 60, results[0].Result.Rows[0]["total"])
	assert.Equal(t, "not_select", results[1].Error)
	assert.Nil(t, results[1].Result)
	assert.Equal(t, "reserved_table", results[2].Error)
	assert.EqualValues(t, 3, results[3].Result.Rows[0]["n"])
	for _, r := range results[4:] {
		assert.Empty(t, r.Error)
		assert.Len(t, r.Result.Rows, 3)
	}

	// a scope without rows sees every widget fail the same way
	results, err = fx.svc.ExecuteAll(ctx, fx.stray, widgets[:1])
	require.NoError(t, err)
	assert.Equal(t, "table", results[0].Error)

	_, err = fx.svc.ExecuteAll(ctx, fx.owner, nil)
	assertKind(t, err, apperr.KindInvalidInput, "widgets")
}
