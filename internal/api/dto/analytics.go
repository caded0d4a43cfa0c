package dto

import "github.com/hugh/quanty/internal/analytics"

type AnalyzeRequest struct {
	Table    string `json:"table"`
	Question string `json:"question"`
}

type ExecuteWidgetRequest struct {
	Widget analytics.Widget `json:"widget"`
}

type ExecuteAllRequest struct {
	Widgets []analytics.Widget `json:"widgets"`
}
