package domain

import "time"

// Engine is a named search-engine URL template. The registry owns the
// canonical copy; callers receive value copies and never mutate in place.
type Engine struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	URLTemplate string    `json:"urlTemplate"`
	Icon        string    `json:"icon,omitempty"`
	Color       string    `json:"color,omitempty"`
	Enabled     bool      `json:"enabled"`
	IsDefault   bool      `json:"isDefault"`
	SortOrder   int       `json:"sortOrder"`
	CreatedAt   time.Time `json:"createdAt"`
	ModifiedAt  time.Time `json:"modifiedAt"`
}

// QueryPlaceholder is the token substituted with the encoded query when
// building a dispatch URL. Templates must contain it at least once.
const QueryPlaceholder = "{query}"

// EnginePatch contains optional fields for updating an engine.
// Nil fields are left unchanged. The ID is immutable and has no patch field.
type EnginePatch struct {
	Name        *string `json:"name,omitempty"`
	URLTemplate *string `json:"urlTemplate,omitempty"`
	Icon        *string `json:"icon,omitempty"`
	Color       *string `json:"color,omitempty"`
	Enabled     *bool   `json:"enabled,omitempty"`
	SortOrder   *int    `json:"sortOrder,omitempty"`
}
