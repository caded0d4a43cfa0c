package isolation

import (
	"regexp"
	"strings"

	"github.com/hugh/quanty/internal/apperr"
)

// OwnerColumn is the ownership column every tenant table carries.
const OwnerColumn = "tenant_id"

// MaxIdentifierLength is PostgreSQL's identifier limit; longer names would
// be silently truncated there.
const MaxIdentifierLength = 63

var identifierRE = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// systemTables are never reachable through tenant data paths, in addition to
// anything starting with an underscore.
var systemTables = map[string]bool{
	"users":                 true,
	"workspaces":            true,
	"workspace_members":     true,
	"workspace_invitations": true,
	"audit_events":          true,
	"alembic_version":       true,
	"schema_migrations":     true,
	"sqlite_master":         true,
	"sqlite_schema":         true,
	"sqlite_sequence":       true,
	"sqlite_temp_master":    true,
	"information_schema":    true,
	"pg_catalog":            true,
}

var sqlKeywords = map[string]bool{
	"select": true, "insert": true, "update": true, "delete": true, "drop": true,
	"create": true, "alter": true, "truncate": true, "table": true, "from": true,
	"where": true, "join": true, "union": true, "all": true, "and": true, "or": true,
	"not": true, "null": true, "order": true, "group": true, "by": true, "having": true,
	"limit": true, "offset": true, "as": true, "on": true, "in": true, "is": true,
	"into": true, "values": true, "set": true, "with": true, "index": true, "view": true,
	"primary": true, "key": true, "foreign": true, "references": true, "default": true,
	"check": true, "unique": true, "constraint": true, "grant": true, "revoke": true,
	"exec": true, "execute": true, "case": true, "when": true, "then": true, "else": true,
	"end": true, "distinct": true, "between": true, "like": true, "exists": true,
	"pragma": true, "attach": true, "detach": true, "vacuum": true, "replace": true,
	"user": true, "rowid": true, "oid": true, "returning": true, "window": true,
}

// IsReserved reports whether name is a system table or uses a reserved prefix.
func IsReserved(name string) bool {
	name = strings.ToLower(name)
	return strings.HasPrefix(name, "_") ||
		strings.HasPrefix(name, "sqlite_") ||
		strings.HasPrefix(name, "pg_") ||
		systemTables[name]
}

// IsKeyword reports whether name is an SQL keyword that may not be used as a
// table or column name.
func IsKeyword(name string) bool {
	return sqlKeywords[strings.ToLower(name)]
}

// ValidateIdentifier checks a table or column name supplied by a client.
func ValidateIdentifier(name string) error {
	if len(name) == 0 || len(name) > MaxIdentifierLength || !identifierRE.MatchString(name) {
		return apperr.InvalidInput("identifier")
	}
	if IsKeyword(name) {
		return apperr.InvalidInput("keyword")
	}
	return nil
}

// ValidateTableName additionally rejects reserved names.
func ValidateTableName(name string) error {
	if err := ValidateIdentifier(name); err != nil {
		return err
	}
	if IsReserved(name) {
		return apperr.InvalidInput("reserved_name")
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
