package isolation

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/hugh/quanty/internal/apperr"
	"github.com/hugh/quanty/internal/database/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	DefaultPageSize = 100
	MaxPageSize     = 1000
)

// RowQuery selects a page of rows. SortBy must name a visible column or
// the primary key; Search matches substrings of visible text columns.
type RowQuery struct {
	Limit     int
	Offset    int
	SortBy    string
	SortOrder string
	Search    string
}

// MaxSearchLength bounds RowQuery.Search.
const MaxSearchLength = 200

// ListRows returns a page of the scope's rows, in primary key order unless
// q sorts otherwise, with system and hidden columns removed. The scope that
// registered an empty table sees an empty page; any other scope without
// rows gets NotFound.
func (f *Filter) ListRows(ctx context.Context, scope Scope, table string, q RowQuery) ([]map[string]any, error) {
	s, err := f.ownedTable(ctx, scope, table, true)
	if err != nil {
		return nil, err
	}
	limit, offset := q.Limit, q.Offset
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	visible := map[string]bool{}
	var textCols []string
	for _, c := range s.Visible() {
		visible[c.ColumnName] = true
		if c.Type == models.ColumnTypeText {
			textCols = append(textCols, c.ColumnName)
		}
	}
	pk := s.PrimaryKey()
	if pk != "" {
		visible[pk] = true
	}

	var desc bool
	switch strings.ToLower(q.SortOrder) {
	case "", "asc":
	case "desc":
		desc = true
	default:
		return nil, apperr.InvalidInput("sort_order")
	}
	if q.SortBy != "" && !visible[q.SortBy] {
		return nil, apperr.InvalidInput("sort_by")
	}

	db := f.db.WithContext(ctx).Table(table).Where(ownerEq(scope))
	if term := strings.TrimSpace(q.Search); term != "" {
		if len(term) > MaxSearchLength {
			return nil, apperr.InvalidInput("search")
		}
		if len(textCols) == 0 {
			return []map[string]any{}, nil
		}
		db = db.Where(searchExpr(textCols, term))
	}
	sortBy := q.SortBy
	if sortBy == "" {
		sortBy = pk
	}
	if sortBy != "" {
		db = db.Order(clause.OrderByColumn{Column: clause.Column{Name: sortBy}, Desc: desc})
	}
	// ties break on the key
	if pk != "" && pk != sortBy {
		db = db.Order(clause.OrderByColumn{Column: clause.Column{Name: pk}})
	}

	var raw []map[string]any
	if err := db.Limit(limit).Offset(offset).Find(&raw).Error; err != nil {
		return nil, apperr.FromStorage(err, "table")
	}

	rows := make([]map[string]any, 0, len(raw))
	for _, r := range raw {
		row := make(map[string]any, len(visible))
		for k, v := range r {
			if visible[k] {
				row[k] = normalize(v)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// InsertRow adds one row owned by scope. The ownership column is always set
// from scope and may not be supplied by the client.
func (f *Filter) InsertRow(ctx context.Context, scope Scope, table string, values map[string]any) (map[string]any, error) {
	s, err := f.ownedTable(ctx, scope, table, true)
	if err != nil {
		return nil, err
	}
	row, err := coerceValues(s, values)
	if err != nil {
		return nil, err
	}
	if len(row) == 0 {
		return nil, apperr.InvalidInput("values")
	}
	row[OwnerColumn] = scope.ID.String()

	if err := f.db.WithContext(ctx).Table(table).Create(row).Error; err != nil {
		return nil, apperr.FromStorage(err, "row")
	}
	delete(row, OwnerColumn)
	return row, nil
}

// UpdateRow changes one of the scope's rows, addressed by primary key.
func (f *Filter) UpdateRow(ctx context.Context, scope Scope, table string, key any, values map[string]any) error {
	s, err := f.ownedTable(ctx, scope, table, false)
	if err != nil {
		return err
	}
	pk := s.PrimaryKey()
	if pk == "" {
		return apperr.InvalidInput("primary_key")
	}
	if key, err = coerceKey(s, pk, key); err != nil {
		return err
	}
	row, err := coerceValues(s, values)
	if err != nil {
		return err
	}
	delete(row, pk)
	if len(row) == 0 {
		return apperr.InvalidInput("values")
	}

	res := f.db.WithContext(ctx).Table(table).
		Where(clause.Eq{Column: clause.Column{Name: pk}, Value: key}).
		Where(ownerEq(scope)).
		Updates(row)
	if res.Error != nil {
		return apperr.FromStorage(res.Error, "row")
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("row")
	}
	return nil
}

// DeleteRow removes one of the scope's rows, addressed by primary key.
func (f *Filter) DeleteRow(ctx context.Context, scope Scope, table string, key any) error {
	s, err := f.ownedTable(ctx, scope, table, false)
	if err != nil {
		return err
	}
	pk := s.PrimaryKey()
	if pk == "" {
		return apperr.InvalidInput("primary_key")
	}
	if key, err = coerceKey(s, pk, key); err != nil {
		return err
	}

	res := f.db.WithContext(ctx).Exec("DELETE FROM ? WHERE ? AND ?",
		clause.Table{Name: table},
		clause.Eq{Column: clause.Column{Name: pk}, Value: key},
		ownerEq(scope))
	if res.Error != nil {
		return apperr.FromStorage(res.Error, "row")
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("row")
	}
	return nil
}

// DeleteOwnedRows removes every row scope owns in table. Other scopes'
// rows are untouched. tx may be nil.
func (f *Filter) DeleteOwnedRows(ctx context.Context, tx *gorm.DB, scope Scope, table string) (int64, error) {
	if tx == nil {
		tx = f.db
	}
	res := tx.WithContext(ctx).Exec("DELETE FROM ? WHERE ?", clause.Table{Name: table}, ownerEq(scope))
	if res.Error != nil {
		return 0, apperr.FromStorage(res.Error, "table")
	}
	return res.RowsAffected, nil
}

// OwnedRowCount counts the rows scope owns in table.
func (f *Filter) OwnedRowCount(ctx context.Context, scope Scope, table string) (int64, error) {
	var n int64
	if err := f.db.WithContext(ctx).Table(table).Where(ownerEq(scope)).Count(&n).Error; err != nil {
		return 0, apperr.FromStorage(err, "table")
	}
	return n, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// searchExpr matches term as a case-insensitive substring of any of cols.
func searchExpr(cols []string, term string) clause.Expr {
	pattern := "%" + likeEscaper.Replace(strings.ToLower(term)) + "%"
	parts := make([]string, len(cols))
	vars := make([]any, 0, 2*len(cols))
	for i, c := range cols {
		parts[i] = `LOWER(?) LIKE ? ESCAPE '\'`
		vars = append(vars, clause.Column{Name: c}, pattern)
	}
	return clause.Expr{SQL: "(" + strings.Join(parts, " OR ") + ")", Vars: vars}
}

// coerceKey converts a primary key taken from a URL path to the column's type.
func coerceKey(s *TableSchema, pk string, key any) (any, error) {
	col, _ := s.Column(pk)
	if key == nil || col == nil {
		return nil, apperr.InvalidInput("key")
	}
	if str, ok := key.(string); ok && col.Type == models.ColumnTypeNumber {
		key = json.Number(str)
	}
	v, err := coerce(col, key)
	if err != nil {
		return nil, apperr.InvalidInput("key")
	}
	return v, nil
}

// coerceValues checks client values against the table's columns.
func coerceValues(s *TableSchema, values map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(values))
	for name, v := range values {
		col, ok := s.Column(name)
		if !ok || col.IsSystem {
			return nil, apperr.InvalidInput("column")
		}
		cv, err := coerce(col, v)
		if err != nil {
			return nil, err
		}
		out[name] = cv
	}
	return out, nil
}

func coerce(col *models.ColumnMetadata, v any) (any, error) {
	if v == nil {
		if !col.Nullable && !col.IsPrimaryKey {
			return nil, apperr.InvalidInput("null_value")
		}
		return nil, nil
	}

	switch col.Type {
	case models.ColumnTypeText:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case models.ColumnTypeNumber:
		switch n := v.(type) {
		case float64, float32, int, int32, int64:
			return n, nil
		case json.Number:
			if i, err := n.Int64(); err == nil {
				return i, nil
			}
			if fl, err := n.Float64(); err == nil {
				return fl, nil
			}
		}
	case models.ColumnTypeBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case models.ColumnTypeDate:
		if s, ok := v.(string); ok {
			if _, err := time.Parse(time.DateOnly, s); err == nil {
				return s, nil
			}
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				return t.UTC().Format(time.DateOnly), nil
			}
		}
	}
	return nil, apperr.InvalidInput("value_type")
}
