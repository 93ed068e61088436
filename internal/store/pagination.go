package store

// CursorPage wraps a keyset-paged result. Order history uses it: cursors
// stay stable while new orders arrive, unlike offset pages.
type CursorPage struct {
	Items      interface{} `json:"items"`
	NextCursor string      `json:"next_cursor,omitempty"`
	HasMore    bool        `json:"has_more"`
}

// OffsetPage wraps an offset-paged result with a total count. The product
// catalog uses it: the menu is small and customers jump to arbitrary pages.
type OffsetPage struct {
	Items      interface{} `json:"items"`
	Total      int64       `json:"total"`
	Page       int         `json:"page"`
	PageSize   int         `json:"page_size"`
	TotalPages int         `json:"total_pages"`
}
