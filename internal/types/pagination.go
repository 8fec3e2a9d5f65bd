package types

// DefaultPageLimit and MaxPageLimit bound list endpoints.
const (
	DefaultPageLimit = 100
	MaxPageLimit     = 500
)

// PageInfo contains pagination metadata for list responses.
type PageInfo struct {
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// ListResponse is a generic paginated response wrapper.
type ListResponse[T any] struct {
	Data     []T      `json:"data"`
	PageInfo PageInfo `json:"pagination"`
}

// ListParams selects a page. Cursor is the created_at (RFC3339Nano) of the
// last row on the previous page.
type ListParams struct {
	Limit  int
	Cursor string
}

// NormalizedLimit clamps Limit into [1, MaxPageLimit].
func (p ListParams) NormalizedLimit() int {
	switch {
	case p.Limit <= 0:
		return DefaultPageLimit
	case p.Limit > MaxPageLimit:
		return MaxPageLimit
	default:
		return p.Limit
	}
}
