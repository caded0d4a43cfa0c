// Package tables manages tenant-defined tables: their DDL, their catalog
// entries and the schema changelog.
package tables

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/quanty/internal/apperr"
	"github.com/hugh/quanty/internal/database/models"
	"github.com/hugh/quanty/internal/isolation"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	DefaultChangelogLimit = 50
	MaxChangelogLimit     = 500
)

// Summary is one entry of List.
type Summary struct {
	Name        string    `json:"table_name"`
	DisplayName string    `json:"display_name"`
	RowCount    int64     `json:"row_count"`
	CreatedAt   time.Time `json:"created_at"`
}

type Builder struct {
	db      *gorm.DB
	filter  *isolation.Filter
	catalog *isolation.Catalog
	logger  *slog.Logger
}

func NewBuilder(db *gorm.DB, filter *isolation.Filter, logger *slog.Logger) *Builder {
	return &Builder{
		db:      db,
		filter:  filter,
		catalog: filter.Catalog(),
		logger:  logger,
	}
}

func (b *Builder) dialect() dialect {
	return dialectOf(b.db.Dialector.Name())
}

// Preview returns the DDL Create would run, without touching storage.
func (b *Builder) Preview(name string, cols []Column) (string, error) {
	if err := isolation.ValidateTableName(name); err != nil {
		return "", err
	}
	full, err := validateColumns(cols)
	if err != nil {
		return "", err
	}
	return strings.Join(createStatements(b.dialect(), name, full), ";\n") + ";", nil
}

// Create registers a new table owned by scope. Names and columns are
// validated before any statement reaches storage.
func (b *Builder) Create(ctx context.Context, scope isolation.Scope, name, displayName string, cols []Column) (*isolation.TableSchema, error) {
	if err := isolation.ValidateTableName(name); err != nil {
		return nil, err
	}
	full, err := validateColumns(cols)
	if err != nil {
		return nil, err
	}
	if displayName == "" {
		displayName = name
	}

	exists, err := b.catalog.Exists(ctx, name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, apperr.Conflict("table_exists")
	}

	err = b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if tx.Migrator().HasTable(name) {
			return apperr.Conflict("table_exists")
		}
		for _, stmt := range createStatements(b.dialect(), name, full) {
			if err := tx.Exec(stmt).Error; err != nil {
				return err
			}
		}

		meta := &models.TableMetadata{Name: name, ScopeID: scope.ID, DisplayName: displayName}
		if err := tx.Create(meta).Error; err != nil {
			return err
		}
		colMeta := columnMetadata(name, full)
		if err := tx.Create(&colMeta).Error; err != nil {
			return err
		}
		return b.logChange(tx, scope, name, "create", map[string]any{"columns": full})
	})
	b.catalog.Invalidate(name)
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apperr.Conflict("table_exists")
		}
		return nil, apperr.FromStorage(err, "table")
	}

	b.logger.Info("table created", "table", name, "scope", scope.String(), "columns", len(full))
	return b.catalog.Table(ctx, name)
}

// owned returns the schema of a table scope registered. Tables registered
// by anyone else are NotFound.
func (b *Builder) owned(ctx context.Context, scope isolation.Scope, name string) (*isolation.TableSchema, error) {
	if isolation.IsReserved(name) {
		return nil, apperr.InvalidInput("reserved_table")
	}
	s, err := b.catalog.Table(ctx, name)
	if err != nil {
		return nil, err
	}
	if s.Meta.ScopeID != scope.ID {
		return nil, apperr.NotFound("table")
	}
	return s, nil
}

func (b *Builder) Rename(ctx context.Context, scope isolation.Scope, oldName, newName string) error {
	if err := isolation.ValidateTableName(newName); err != nil {
		return err
	}
	if _, err := b.owned(ctx, scope, oldName); err != nil {
		return err
	}
	exists, err := b.catalog.Exists(ctx, newName)
	if err != nil {
		return err
	}
	if exists {
		return apperr.Conflict("table_exists")
	}

	err = b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if tx.Migrator().HasTable(newName) {
			return apperr.Conflict("table_exists")
		}
		for _, stmt := range renameStatements(oldName, newName) {
			if err := tx.Exec(stmt).Error; err != nil {
				return err
			}
		}
		for _, m := range []any{&models.TableMetadata{}, &models.ColumnMetadata{}} {
			if err := tx.Model(m).Where("table_name = ?", oldName).Update("table_name", newName).Error; err != nil {
				return err
			}
		}
		// history left by earlier owners of oldName stays under oldName
		if err := tx.Model(&models.SchemaChange{}).
			Where("table_name = ? AND scope_id = ?", oldName, scope.ID).
			Update("table_name", newName).Error; err != nil {
			return err
		}
		return b.logChange(tx, scope, newName, "rename", map[string]any{"from": oldName})
	})
	b.catalog.Invalidate(oldName)
	b.catalog.Invalidate(newName)
	if err != nil {
		return apperr.FromStorage(err, "table")
	}
	return nil
}

// Drop removes the table and its catalog entries. The changelog is kept.
func (b *Builder) Drop(ctx context.Context, scope isolation.Scope, name string) error {
	if _, err := b.owned(ctx, scope, name); err != nil {
		return err
	}

	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DROP TABLE " + quote(name)).Error; err != nil {
			return err
		}
		if err := tx.Where("table_name = ?", name).Delete(&models.ColumnMetadata{}).Error; err != nil {
			return err
		}
		if err := tx.Where("table_name = ?", name).Delete(&models.TableMetadata{}).Error; err != nil {
			return err
		}
		return b.logChange(tx, scope, name, "drop", nil)
	})
	b.catalog.Invalidate(name)
	if err != nil {
		return apperr.FromStorage(err, "table")
	}
	return nil
}

// DropWorkspaceTables runs inside tx, the transaction deleting workspace
// id. Tables the workspace registered are dropped, except that a table still
// holding another scope's rows loses only the workspace's rows. Pass the
// returned names to Invalidate after tx commits.
func (b *Builder) DropWorkspaceTables(ctx context.Context, tx *gorm.DB, id uuid.UUID) ([]string, error) {
	scope := isolation.WorkspaceScope(id)
	tx = tx.WithContext(ctx)

	var metas []models.TableMetadata
	if err := tx.Where("scope_id = ?", id).Order("table_name").Find(&metas).Error; err != nil {
		return nil, err
	}

	names := make([]string, 0, len(metas))
	for _, m := range metas {
		var others int64
		if err := tx.Table(m.Name).
			Where(clause.Neq{Column: clause.Column{Name: isolation.OwnerColumn}, Value: scope.ID.String()}).
			Count(&others).Error; err != nil {
			return nil, err
		}

		if others > 0 {
			n, err := b.filter.DeleteOwnedRows(ctx, tx, scope, m.Name)
			if err != nil {
				return nil, err
			}
			b.logger.Warn("kept table of deleted workspace", "table", m.Name, "workspace_id", id, "foreign_rows", others)
			if err := b.logChange(tx, scope, m.Name, "truncate", map[string]any{"rows": n, "workspace_deleted": true}); err != nil {
				return nil, err
			}
			continue
		}

		if err := tx.Exec("DROP TABLE " + quote(m.Name)).Error; err != nil {
			return nil, err
		}
		if err := tx.Where("table_name = ?", m.Name).Delete(&models.ColumnMetadata{}).Error; err != nil {
			return nil, err
		}
		if err := tx.Where("table_name = ?", m.Name).Delete(&models.TableMetadata{}).Error; err != nil {
			return nil, err
		}
		if err := b.logChange(tx, scope, m.Name, "drop", map[string]any{"workspace_deleted": true}); err != nil {
			return nil, err
		}
		names = append(names, m.Name)
	}
	return names, nil
}

// Invalidate evicts names from the catalog cache.
func (b *Builder) Invalidate(names []string) {
	for _, n := range names {
		b.catalog.Invalidate(n)
	}
}

// Truncate deletes the scope's rows. Rows owned by other scopes remain.
func (b *Builder) Truncate(ctx context.Context, scope isolation.Scope, name string) (int64, error) {
	if _, err := b.filter.Resolve(ctx, scope, name); err != nil {
		return 0, err
	}

	var deleted int64
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		n, err := b.filter.DeleteOwnedRows(ctx, tx, scope, name)
		if err != nil {
			return err
		}
		deleted = n
		return b.logChange(tx, scope, name, "truncate", map[string]any{"rows": n})
	})
	if err != nil {
		return 0, apperr.FromStorage(err, "table")
	}
	return deleted, nil
}

func (b *Builder) RenameColumn(ctx context.Context, scope isolation.Scope, table, oldName, newName string) error {
	if err := isolation.ValidateIdentifier(newName); err != nil {
		return apperr.InvalidInput("column_name")
	}
	if newName == isolation.OwnerColumn || isolation.IsReserved(newName) {
		return apperr.InvalidInput("reserved_column")
	}
	s, err := b.owned(ctx, scope, table)
	if err != nil {
		return err
	}
	col, ok := s.Column(oldName)
	if !ok || col.IsSystem {
		return apperr.NotFound("column")
	}
	if _, taken := s.Column(newName); taken {
		return apperr.Conflict("column_exists")
	}

	err = b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stmt := "ALTER TABLE " + quote(table) + " RENAME COLUMN " + quote(oldName) + " TO " + quote(newName)
		if err := tx.Exec(stmt).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.ColumnMetadata{}).
			Where("table_name = ? AND column_name = ?", table, oldName).
			Update("column_name", newName).Error; err != nil {
			return err
		}
		return b.logChange(tx, scope, table, "rename_column", map[string]any{"from": oldName, "to": newName})
	})
	b.catalog.Invalidate(table)
	if err != nil {
		return apperr.FromStorage(err, "column")
	}
	return nil
}

func (b *Builder) SetColumnVisibility(ctx context.Context, scope isolation.Scope, table, column string, visible bool) error {
	s, err := b.owned(ctx, scope, table)
	if err != nil {
		return err
	}
	col, ok := s.Column(column)
	if !ok || col.IsSystem {
		return apperr.NotFound("column")
	}

	err = b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.ColumnMetadata{}).
			Where("table_name = ? AND column_name = ?", table, column).
			Update("is_visible", visible).Error; err != nil {
			return err
		}
		return b.logChange(tx, scope, table, "set_visibility", map[string]any{"column": column, "visible": visible})
	})
	b.catalog.Invalidate(table)
	if err != nil {
		return apperr.FromStorage(err, "column")
	}
	return nil
}

// Metadata returns the schema of a table scope may use.
func (b *Builder) Metadata(ctx context.Context, scope isolation.Scope, table string) (*isolation.TableSchema, error) {
	return b.filter.Resolve(ctx, scope, table)
}

// List returns the tables scope registered, by name.
func (b *Builder) List(ctx context.Context, scope isolation.Scope) ([]Summary, error) {
	var metas []models.TableMetadata
	if err := b.db.WithContext(ctx).
		Where("scope_id = ?", scope.ID).
		Order("table_name ASC").
		Find(&metas).Error; err != nil {
		return nil, apperr.FromStorage(err, "table")
	}

	out := make([]Summary, 0, len(metas))
	for _, m := range metas {
		n, err := b.filter.OwnedRowCount(ctx, scope, m.Name)
		if err != nil {
			return nil, err
		}
		out = append(out, Summary{Name: m.Name, DisplayName: m.DisplayName, RowCount: n, CreatedAt: m.CreatedAt})
	}
	return out, nil
}

// Changelog returns schema changes to a table scope registered, newest first.
func (b *Builder) Changelog(ctx context.Context, scope isolation.Scope, table string, limit int) ([]models.SchemaChange, error) {
	if _, err := b.owned(ctx, scope, table); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultChangelogLimit
	}
	if limit > MaxChangelogLimit {
		limit = MaxChangelogLimit
	}

	var changes []models.SchemaChange
	if err := b.db.WithContext(ctx).
		Where("table_name = ? AND scope_id = ?", table, scope.ID).
		Order("created_at DESC").
		Limit(limit).
		Find(&changes).Error; err != nil {
		return nil, apperr.FromStorage(err, "table")
	}
	return changes, nil
}

func (b *Builder) logChange(tx *gorm.DB, scope isolation.Scope, table, action string, detail any) error {
	change := &models.SchemaChange{Table: table, ScopeID: scope.ID, Action: action}
	if detail != nil {
		raw, err := json.Marshal(detail)
		if err != nil {
			return err
		}
		change.Detail = string(raw)
	}
	return tx.Create(change).Error
}
