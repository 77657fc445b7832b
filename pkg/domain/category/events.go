package category

import (
	"github.com/corefold/shopstream/pkg/eventsourcing"
)

// AggregateType is stamped on every event recorded by the category aggregate.
const AggregateType = "Category"

// Event types emitted by the category aggregate.
const (
	EventCreated = "CategoryCreated"
	EventRenamed = "CategoryRenamed"
	EventMoved   = "CategoryMoved"
	EventDeleted = "CategoryDeleted"
)

// UniqueNameIndex is the unique-constraint index guarding sibling names.
// Claims are keyed parent_id:lowercase(name) so a name can repeat across
// different parents but never under the same one.
const UniqueNameIndex = "category_name"

// CreatedPayload is the CategoryCreated event payload. Path and depth are
// computed at decision time so projections only denormalize.
type CreatedPayload struct {
	CategoryID string `json:"category_id"`
	Name       string `json:"name"`
	ParentID   string `json:"parent_id,omitempty"`
	Path       string `json:"path"`
	Depth      int    `json:"depth"`
}

// RenamedPayload is the CategoryRenamed event payload.
type RenamedPayload struct {
	CategoryID string `json:"category_id"`
	OldName    string `json:"old_name"`
	NewName    string `json:"new_name"`
	ParentID   string `json:"parent_id,omitempty"`
}

// MovedPayload is the CategoryMoved event payload. Old and new paths let the
// projection rewrite descendant rows with a prefix replacement.
type MovedPayload struct {
	CategoryID  string `json:"category_id"`
	OldParentID string `json:"old_parent_id,omitempty"`
	NewParentID string `json:"new_parent_id,omitempty"`
	OldPath     string `json:"old_path"`
	NewPath     string `json:"new_path"`
	OldDepth    int    `json:"old_depth"`
	NewDepth    int    `json:"new_depth"`
}

// DeletedPayload is the CategoryDeleted event payload.
type DeletedPayload struct {
	CategoryID string `json:"category_id"`
	ParentID   string `json:"parent_id,omitempty"`
	Name       string `json:"name"`
}

// RegisterEvents registers every category event payload with the registry.
func RegisterEvents(registry *eventsourcing.EventRegistry) {
	registry.Register(EventCreated, 1, func() any { return &CreatedPayload{} })
	registry.Register(EventRenamed, 1, func() any { return &RenamedPayload{} })
	registry.Register(EventMoved, 1, func() any { return &MovedPayload{} })
	registry.Register(EventDeleted, 1, func() any { return &DeletedPayload{} })
}
