package dto

import (
	"github.com/hugh/quanty/internal/tables"
)

type CreateTableRequest struct {
	Name        string          `json:"name"`
	DisplayName string          `json:"display_name"`
	Columns     []tables.Column `json:"columns"`
}

type PreviewResponse struct {
	SQL string `json:"sql"`
}

type RenameRequest struct {
	Name string `json:"name"`
}

type ColumnVisibilityRequest struct {
	Visible *bool `json:"visible"`
}

type RowRequest struct {
	Values map[string]any `json:"values"`
}

type TruncateResponse struct {
	Deleted int64 `json:"deleted"`
}
