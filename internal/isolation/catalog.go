package isolation

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hugh/quanty/internal/apperr"
	"github.com/hugh/quanty/internal/database/models"
	"github.com/hugh/quanty/internal/metrics"
	"gorm.io/gorm"
)

const DefaultCatalogSize = 256

// TableSchema is the cached description of one tenant table.
type TableSchema struct {
	Meta    models.TableMetadata    `json:"table"`
	Columns []models.ColumnMetadata `json:"columns"`
}

// Column looks up a column by name.
func (s *TableSchema) Column(name string) (*models.ColumnMetadata, bool) {
	for i := range s.Columns {
		if s.Columns[i].ColumnName == name {
			return &s.Columns[i], true
		}
	}
	return nil, false
}

// Owned reports whether the table carries the ownership column.
func (s *TableSchema) Owned() bool {
	_, ok := s.Column(OwnerColumn)
	return ok
}

// PrimaryKey returns the primary key column name.
func (s *TableSchema) PrimaryKey() string {
	for _, c := range s.Columns {
		if c.IsPrimaryKey {
			return c.ColumnName
		}
	}
	return ""
}

// Visible returns the client-facing columns in position order.
func (s *TableSchema) Visible() []models.ColumnMetadata {
	out := make([]models.ColumnMetadata, 0, len(s.Columns))
	for _, c := range s.Columns {
		if !c.IsSystem && c.IsVisible {
			out = append(out, c)
		}
	}
	return out
}

// Public returns a copy without system columns, for rendering to clients.
func (s *TableSchema) Public() *TableSchema {
	out := &TableSchema{Meta: s.Meta, Columns: make([]models.ColumnMetadata, 0, len(s.Columns))}
	for _, c := range s.Columns {
		if !c.IsSystem {
			out.Columns = append(out.Columns, c)
		}
	}
	return out
}

// Catalog serves table schemas from a bounded LRU in front of the metadata
// tables. Every schema mutation must call Invalidate.
type Catalog struct {
	db      *gorm.DB
	cache   *lru.Cache[string, *TableSchema]
	metrics *metrics.Metrics
}

func NewCatalog(db *gorm.DB, size int, m *metrics.Metrics) (*Catalog, error) {
	if size <= 0 {
		size = DefaultCatalogSize
	}
	cache, err := lru.New[string, *TableSchema](size)
	if err != nil {
		return nil, fmt.Errorf("creating catalog cache: %w", err)
	}
	return &Catalog{db: db, cache: cache, metrics: m}, nil
}

// Table returns the schema of name, or NotFound("table").
func (c *Catalog) Table(ctx context.Context, name string) (*TableSchema, error) {
	if s, ok := c.cache.Get(name); ok {
		c.metrics.CacheHit()
		return s, nil
	}
	c.metrics.CacheMiss()

	var meta models.TableMetadata
	err := c.db.WithContext(ctx).Where("table_name = ?", name).First(&meta).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("table")
	}
	if err != nil {
		return nil, apperr.FromStorage(err, "table")
	}

	var cols []models.ColumnMetadata
	if err := c.db.WithContext(ctx).
		Where("table_name = ?", name).
		Order("position ASC").
		Find(&cols).Error; err != nil {
		return nil, apperr.FromStorage(err, "table")
	}

	s := &TableSchema{Meta: meta, Columns: cols}
	c.cache.Add(name, s)
	return s, nil
}

// Exists reports whether name is registered, without surfacing NotFound.
func (c *Catalog) Exists(ctx context.Context, name string) (bool, error) {
	_, err := c.Table(ctx, name)
	if err == nil {
		return true, nil
	}
	if apperr.KindOf(err) == apperr.KindNotFound {
		return false, nil
	}
	return false, err
}

func (c *Catalog) Invalidate(name string) {
	c.cache.Remove(name)
}

func (c *Catalog) Purge() {
	c.cache.Purge()
}

func (c *Catalog) Len() int {
	return c.cache.Len()
}
