package tables

import (
	"fmt"
	"strings"

	"github.com/hugh/quanty/internal/apperr"
	"github.com/hugh/quanty/internal/database/models"
	"github.com/hugh/quanty/internal/isolation"
)

const (
	MaxColumns   = 100
	autoIDColumn = "id"
)

// Column is a client-supplied column definition.
type Column struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Nullable   bool   `json:"nullable"`
	PrimaryKey bool   `json:"primary_key"`
}

type dialect string

const (
	dialectSQLite   dialect = "sqlite"
	dialectPostgres dialect = "postgres"
)

func dialectOf(name string) dialect {
	if name == "postgres" {
		return dialectPostgres
	}
	return dialectSQLite
}

func (d dialect) columnType(t string) string {
	switch t {
	case models.ColumnTypeNumber:
		if d == dialectPostgres {
			return "DOUBLE PRECISION"
		}
		return "REAL"
	case models.ColumnTypeDate:
		if d == dialectPostgres {
			return "DATE"
		}
		return "TEXT"
	case models.ColumnTypeBoolean:
		if d == dialectPostgres {
			return "BOOLEAN"
		}
		return "INTEGER"
	default:
		return "TEXT"
	}
}

func (d dialect) autoID() string {
	if d == dialectPostgres {
		return `"id" BIGSERIAL PRIMARY KEY`
	}
	return `"id" INTEGER PRIMARY KEY AUTOINCREMENT`
}

func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// validateColumns checks definitions and returns them with the generated
// id column prepended when no primary key was given.
func validateColumns(cols []Column) ([]Column, error) {
	if len(cols) == 0 || len(cols) > MaxColumns {
		return nil, apperr.InvalidInput("columns")
	}

	seen := make(map[string]bool, len(cols))
	pks := 0
	for _, c := range cols {
		if err := isolation.ValidateIdentifier(c.Name); err != nil {
			return nil, apperr.InvalidInput("column_name")
		}
		if c.Name == isolation.OwnerColumn || isolation.IsReserved(c.Name) {
			return nil, apperr.InvalidInput("reserved_column")
		}
		if !models.ValidColumnType(c.Type) {
			return nil, apperr.InvalidInput("column_type")
		}
		if seen[c.Name] {
			return nil, apperr.InvalidInput("duplicate_column")
		}
		seen[c.Name] = true
		if c.PrimaryKey {
			pks++
		}
	}
	if pks > 1 {
		return nil, apperr.InvalidInput("primary_key")
	}
	if pks == 0 {
		if seen[autoIDColumn] {
			return nil, apperr.InvalidInput("reserved_column")
		}
		cols = append([]Column{{Name: autoIDColumn, Type: models.ColumnTypeNumber, PrimaryKey: true}}, cols...)
	}
	return cols, nil
}

// createStatements renders the DDL for a validated definition. A declared
// primary key is made composite with the ownership column so scopes cannot
// collide on, or probe for, each other's keys.
func createStatements(d dialect, name string, cols []Column) []string {
	defs := make([]string, 0, len(cols)+2)
	var pk string
	for _, c := range cols {
		if c.PrimaryKey && c.Name == autoIDColumn && c.Type == models.ColumnTypeNumber {
			defs = append(defs, d.autoID())
			continue
		}
		def := quote(c.Name) + " " + d.columnType(c.Type)
		if !c.Nullable || c.PrimaryKey {
			def += " NOT NULL"
		}
		if c.PrimaryKey {
			pk = c.Name
		}
		defs = append(defs, def)
	}
	defs = append(defs, quote(isolation.OwnerColumn)+" TEXT NOT NULL")
	if pk != "" {
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s, %s)", quote(pk), quote(isolation.OwnerColumn)))
	}

	return []string{
		fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", quote(name), strings.Join(defs, ",\n  ")),
		createIndex(name),
	}
}

func ownerIndex(table string) string {
	return quote("idx_" + table + "_" + isolation.OwnerColumn)
}

func createIndex(table string) string {
	return fmt.Sprintf("CREATE INDEX %s ON %s (%s)", ownerIndex(table), quote(table), quote(isolation.OwnerColumn))
}

// renameStatements renames a table and its ownership index. SQLite cannot
// rename an index, so it is dropped and rebuilt in both dialects.
func renameStatements(oldName, newName string) []string {
	return []string{
		"DROP INDEX " + ownerIndex(oldName),
		"ALTER TABLE " + quote(oldName) + " RENAME TO " + quote(newName),
		createIndex(newName),
	}
}

// columnMetadata builds catalog rows for a validated definition.
func columnMetadata(table string, cols []Column) []models.ColumnMetadata {
	out := make([]models.ColumnMetadata, 0, len(cols)+1)
	for i, c := range cols {
		out = append(out, models.ColumnMetadata{
			Table:        table,
			ColumnName:   c.Name,
			Type:         c.Type,
			Nullable:     c.Nullable && !c.PrimaryKey,
			IsPrimaryKey: c.PrimaryKey,
			IsVisible:    true,
			Position:     i,
		})
	}
	out = append(out, models.ColumnMetadata{
		Table:      table,
		ColumnName: isolation.OwnerColumn,
		Type:       models.ColumnTypeText,
		IsSystem:   true,
		Position:   len(cols),
	})
	return out
}
