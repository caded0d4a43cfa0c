package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TableMetadata registers a dynamically created tenant table and the scope
// that owns its schema.
type TableMetadata struct {
	Name        string    `gorm:"column:table_name;primaryKey" json:"table_name"`
	ScopeID     uuid.UUID `gorm:"type:uuid;index;not null" json:"-"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (TableMetadata) TableName() string {
	return "_table_metadata"
}

type ColumnMetadata struct {
	Table        string `gorm:"column:table_name;primaryKey" json:"-"`
	ColumnName   string `gorm:"column:column_name;primaryKey" json:"name"`
	Type         string `gorm:"not null" json:"type"`
	Nullable     bool   `json:"nullable"`
	IsPrimaryKey bool   `json:"is_primary_key"`
	IsSystem     bool   `json:"is_system"`
	IsVisible    bool   `json:"is_visible"`
	Position     int    `json:"position"`
}

func (ColumnMetadata) TableName() string {
	return "_column_metadata"
}

type SchemaChange struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	Table     string    `gorm:"column:table_name;index;not null" json:"table_name"`
	ScopeID   uuid.UUID `gorm:"type:uuid;index" json:"scope_id"`
	Action    string    `gorm:"not null" json:"action"`
	Detail    string    `gorm:"type:text" json:"detail,omitempty"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (SchemaChange) TableName() string {
	return "_schema_changelog"
}

func (c *SchemaChange) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// Column types accepted by the table builder.
const (
	ColumnTypeText    = "text"
	ColumnTypeNumber  = "number"
	ColumnTypeDate    = "date"
	ColumnTypeBoolean = "boolean"
)

func ValidColumnType(t string) bool {
	switch t {
	case ColumnTypeText, ColumnTypeNumber, ColumnTypeDate, ColumnTypeBoolean:
		return true
	}
	return false
}
