package dto

// ErrorResponse carries an error kind and a stable reason code. Details is
// only set for request validation failures.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Reason  string            `json:"reason,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

type SuccessResponse struct {
	Message string `json:"message"`
}

type ListResponse[T any] struct {
	Data []T `json:"data"`
}

type PaginationParams struct {
	Limit  int
	Offset int
}

// Normalize clamps the page to [1, max] rows, defaulting to def.
func (p *PaginationParams) Normalize(def, max int) {
	if p.Limit < 1 {
		p.Limit = def
	}
	if p.Limit > max {
		p.Limit = max
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
}
