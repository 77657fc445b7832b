// Package category implements the write-side category aggregate.
//
// Categories form a tree with a materialized path of ids and a depth
// bounded by MaxDepth. Sibling names are unique per parent, enforced by
// unique-value claims validated inside the append transaction.
package category

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/corefold/shopstream/pkg/eventsourcing"
)

// MaxDepth is the deepest allowed nesting. Root categories sit at depth 1.
const MaxDepth = 5

// ParentRef is the resolved position of a parent category, looked up by the
// command handler before the decision runs. The zero value is the tree root.
//
// Path and Depth must be rebuilt from live parent links, not read off the
// parent aggregate: a category's own materialized path goes stale when an
// ancestor moves, since no event reaches a descendant's stream.
type ParentRef struct {
	ID    string
	Path  string
	Depth int
}

// Subtree is the moved category's resolved position: its live path and depth
// plus the height of the subtree hanging off it. Height 1 means no
// descendants; height 0 means unknown and is treated as 1.
type Subtree struct {
	Path   string
	Depth  int
	Height int
}

// ChildPath returns the materialized path a direct child of this parent gets.
func (p ParentRef) ChildPath(childID string) string {
	return p.Path + "/" + childID
}

// NameKey builds the unique-constraint value for a name under a parent.
// Lowercased so sibling uniqueness is case-insensitive.
func NameKey(parentID, name string) string {
	return parentID + ":" + strings.ToLower(name)
}

// Category is the event-sourced category aggregate.
type Category struct {
	eventsourcing.AggregateRoot

	Name     string
	ParentID string
	Path     string
	Depth    int
	Deleted  bool
}

// New returns an empty category aggregate at version 0.
func New(id string) *Category {
	c := &Category{AggregateRoot: eventsourcing.NewAggregateRoot(id, AggregateType)}
	c.Bind(c)
	return c
}

// Create handles CreateCategory under the resolved parent.
func (c *Category) Create(cmd CreateCategory, parent ParentRef) error {
	if c.Version() > 0 {
		return eventsourcing.NewDomainError("already_exists", "category %s already exists", c.ID())
	}

	depth := parent.Depth + 1
	if depth > MaxDepth {
		return eventsourcing.NewDomainError("max_depth_exceeded",
			"category depth %d exceeds the maximum of %d", depth, MaxDepth)
	}

	payload := CreatedPayload{
		CategoryID: c.ID(),
		Name:       cmd.Name,
		ParentID:   parent.ID,
		Path:       parent.ChildPath(c.ID()),
		Depth:      depth,
	}
	return c.RecordUnique(EventCreated, payload, []eventsourcing.UniqueValue{
		{Index: UniqueNameIndex, Value: NameKey(parent.ID, cmd.Name), Operation: eventsourcing.UniqueClaim},
	})
}

// Rename handles RenameCategory within the current parent. Renaming to the
// same name records nothing.
func (c *Category) Rename(cmd RenameCategory) error {
	if err := c.requireActive(); err != nil {
		return err
	}
	if cmd.NewName == c.Name {
		return nil
	}

	payload := RenamedPayload{
		CategoryID: c.ID(),
		OldName:    c.Name,
		NewName:    cmd.NewName,
		ParentID:   c.ParentID,
	}

	oldKey := NameKey(c.ParentID, c.Name)
	newKey := NameKey(c.ParentID, cmd.NewName)
	if oldKey == newKey {
		// Case-only rename, the claim stays the same.
		return c.Record(EventRenamed, payload)
	}
	return c.RecordUnique(EventRenamed, payload, []eventsourcing.UniqueValue{
		{Index: UniqueNameIndex, Value: oldKey, Operation: eventsourcing.UniqueRelease},
		{Index: UniqueNameIndex, Value: newKey, Operation: eventsourcing.UniqueClaim},
	})
}

// Move handles MoveCategory onto the resolved new parent. Moving under a
// descendant is rejected, as is any move that would push the subtree's
// deepest node past MaxDepth. Moving to the current parent records nothing.
//
// Both positions come from the handler's resolution, not from this
// aggregate's materialized state, so the checks hold even when an earlier
// ancestor move left this node's own Path and Depth stale.
func (c *Category) Move(cmd MoveCategory, self Subtree, newParent ParentRef) error {
	if err := c.requireActive(); err != nil {
		return err
	}
	if newParent.ID == c.ParentID {
		return nil
	}
	if newParent.Path == self.Path || strings.HasPrefix(newParent.Path, self.Path+"/") {
		return eventsourcing.NewDomainError("cycle_detected",
			"category %s cannot move under its own descendant %s", c.ID(), newParent.ID)
	}

	height := self.Height
	if height < 1 {
		height = 1
	}
	newDepth := newParent.Depth + 1
	if deepest := newDepth + height - 1; deepest > MaxDepth {
		return eventsourcing.NewDomainError("max_depth_exceeded",
			"category depth %d exceeds the maximum of %d", deepest, MaxDepth)
	}

	payload := MovedPayload{
		CategoryID:  c.ID(),
		OldParentID: c.ParentID,
		NewParentID: newParent.ID,
		OldPath:     self.Path,
		NewPath:     newParent.ChildPath(c.ID()),
		OldDepth:    self.Depth,
		NewDepth:    newDepth,
	}
	return c.RecordUnique(EventMoved, payload, []eventsourcing.UniqueValue{
		{Index: UniqueNameIndex, Value: NameKey(c.ParentID, c.Name), Operation: eventsourcing.UniqueRelease},
		{Index: UniqueNameIndex, Value: NameKey(newParent.ID, c.Name), Operation: eventsourcing.UniqueClaim},
	})
}

// Delete handles DeleteCategory, releasing the name claim. The handler
// verifies beforehand that no subcategories or products reference it.
func (c *Category) Delete(cmd DeleteCategory) error {
	if err := c.requireActive(); err != nil {
		return err
	}
	payload := DeletedPayload{
		CategoryID: c.ID(),
		ParentID:   c.ParentID,
		Name:       c.Name,
	}
	return c.RecordUnique(EventDeleted, payload, []eventsourcing.UniqueValue{
		{Index: UniqueNameIndex, Value: NameKey(c.ParentID, c.Name), Operation: eventsourcing.UniqueRelease},
	})
}

func (c *Category) requireActive() error {
	if c.Version() == 0 {
		return eventsourcing.NewDomainError("not_found", "category %s does not exist", c.ID())
	}
	if c.Deleted {
		return eventsourcing.NewDomainError("category_deleted", "category %s is deleted", c.ID())
	}
	return nil
}

// ApplyEvent folds a committed event into the aggregate state.
func (c *Category) ApplyEvent(event *eventsourcing.Event) error {
	if err := c.Advance(event); err != nil {
		return err
	}

	switch event.EventType {
	case EventCreated:
		var payload CreatedPayload
		if err := event.UnmarshalPayload(&payload); err != nil {
			return eventsourcing.Fatal(err)
		}
		c.Name = payload.Name
		c.ParentID = payload.ParentID
		c.Path = payload.Path
		c.Depth = payload.Depth

	case EventRenamed:
		var payload RenamedPayload
		if err := event.UnmarshalPayload(&payload); err != nil {
			return eventsourcing.Fatal(err)
		}
		c.Name = payload.NewName

	case EventMoved:
		var payload MovedPayload
		if err := event.UnmarshalPayload(&payload); err != nil {
			return eventsourcing.Fatal(err)
		}
		c.ParentID = payload.NewParentID
		c.Path = payload.NewPath
		c.Depth = payload.NewDepth

	case EventDeleted:
		c.Deleted = true

	default:
		return eventsourcing.Fatal(fmt.Errorf("unknown category event type %q", event.EventType))
	}

	return nil
}

type snapshotState struct {
	Name     string `json:"name"`
	ParentID string `json:"parent_id,omitempty"`
	Path     string `json:"path"`
	Depth    int    `json:"depth"`
	Deleted  bool   `json:"deleted,omitempty"`
}

// SnapshotState returns the aggregate state for snapshotting.
func (c *Category) SnapshotState() ([]byte, error) {
	return json.Marshal(snapshotState{
		Name:     c.Name,
		ParentID: c.ParentID,
		Path:     c.Path,
		Depth:    c.Depth,
		Deleted:  c.Deleted,
	})
}

// RestoreSnapshot rebuilds the aggregate from a snapshot taken at version.
func (c *Category) RestoreSnapshot(version int64, state []byte) error {
	var snap snapshotState
	if err := json.Unmarshal(state, &snap); err != nil {
		return eventsourcing.Fatal(fmt.Errorf("decoding category snapshot: %w", err))
	}
	c.Name = snap.Name
	c.ParentID = snap.ParentID
	c.Path = snap.Path
	c.Depth = snap.Depth
	c.Deleted = snap.Deleted
	c.RestoreVersion(version)
	return nil
}
