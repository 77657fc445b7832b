package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/corefold/shopstream/pkg/domain/category"
	"github.com/corefold/shopstream/pkg/eventsourcing"
)

// CategoryUsage counts what still references a category.
type CategoryUsage struct {
	Subcategories int64
	Products      int64
}

// CategoryUsageReader answers cross-aggregate tree pre-checks, usually from
// the read model. A category is deletable only when both usage counts are
// zero; subtree height bounds moves so no descendant lands past MaxDepth.
type CategoryUsageReader interface {
	CategoryUsage(ctx context.Context, categoryID string) (CategoryUsage, error)

	// SubtreeHeight returns the number of levels in the subtree rooted at
	// the category, the category's own level included. 1 means no
	// descendants; 0 means the read model has not seen the category yet.
	SubtreeHeight(ctx context.Context, categoryID string) (int64, error)
}

// CategoryHandler serves the category aggregate's commands.
type CategoryHandler struct {
	categories eventsourcing.Repository[*category.Category]
	usage      CategoryUsageReader
}

// NewCategoryHandler creates the category command handler.
func NewCategoryHandler(
	categories eventsourcing.Repository[*category.Category],
	usage CategoryUsageReader,
) *CategoryHandler {
	return &CategoryHandler{categories: categories, usage: usage}
}

// CommandTypes implements eventsourcing.TypedHandler.
func (h *CategoryHandler) CommandTypes() []string {
	return []string{
		category.CommandCreate,
		category.CommandRename,
		category.CommandMove,
		category.CommandDelete,
	}
}

// Handle implements eventsourcing.CommandHandler.
func (h *CategoryHandler) Handle(ctx context.Context, env *eventsourcing.CommandEnvelope) ([]*eventsourcing.Event, error) {
	c, err := h.categories.Load(ctx, env.Command.AggregateID())
	if err != nil {
		return nil, err
	}
	c.SetCommandContext(env.Metadata.CommandID, env.Metadata.EventMetadata())

	switch cmd := env.Command.(type) {
	case category.CreateCategory:
		parent, err := h.resolveParent(ctx, cmd.ParentID)
		if err != nil {
			return nil, err
		}
		if err := c.Create(cmd, parent); err != nil {
			return nil, err
		}

	case category.RenameCategory:
		if err := c.Rename(cmd); err != nil {
			return nil, err
		}

	case category.MoveCategory:
		parent, err := h.resolveParent(ctx, cmd.NewParentID)
		if err != nil {
			return nil, err
		}
		self, err := h.resolveSubtree(ctx, c)
		if err != nil {
			return nil, err
		}
		if err := c.Move(cmd, self, parent); err != nil {
			return nil, err
		}

	case category.DeleteCategory:
		if err := h.requireUnused(ctx, cmd.CategoryID); err != nil {
			return nil, err
		}
		if err := c.Delete(cmd); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("%w: category handler got %s", eventsourcing.ErrCommandNotFound, env.Command.CommandType())
	}

	return persist(ctx, h.categories, c)
}

// maxAncestorWalk bounds the parent-link walk; a longer chain means a
// corrupted tree.
const maxAncestorWalk = 64

// resolveParent rebuilds the parent's position in the tree by walking parent
// links to the root. An empty ID resolves to the root. The walk is what
// keeps the position live: a category's own materialized path and depth go
// stale when an ancestor moves, since no event reaches a descendant's
// stream, but every aggregate's parent link stays accurate.
func (h *CategoryHandler) resolveParent(ctx context.Context, parentID string) (category.ParentRef, error) {
	if parentID == "" {
		return category.ParentRef{}, nil
	}

	var ids []string
	for id := parentID; id != ""; {
		node, err := h.categories.Load(ctx, id)
		if err != nil {
			return category.ParentRef{}, err
		}
		if node.Version() == 0 || node.Deleted {
			return category.ParentRef{}, eventsourcing.NewDomainError("parent_not_found",
				"parent category %s does not exist", id)
		}
		ids = append(ids, id)
		if len(ids) > maxAncestorWalk {
			return category.ParentRef{}, fmt.Errorf(
				"category %s ancestor chain exceeds %d links", parentID, maxAncestorWalk)
		}
		id = node.ParentID
	}

	var path strings.Builder
	for i := len(ids) - 1; i >= 0; i-- {
		path.WriteByte('/')
		path.WriteString(ids[i])
	}
	return category.ParentRef{ID: parentID, Path: path.String(), Depth: len(ids)}, nil
}

// resolveSubtree rebuilds the moved category's live position and measures
// its subtree height from the read model. A dead aggregate resolves to the
// zero value; Move reports the precise domain error.
func (h *CategoryHandler) resolveSubtree(ctx context.Context, c *category.Category) (category.Subtree, error) {
	if c.Version() == 0 || c.Deleted {
		return category.Subtree{}, nil
	}

	parent, err := h.resolveParent(ctx, c.ParentID)
	if err != nil {
		return category.Subtree{}, err
	}
	height, err := h.usage.SubtreeHeight(ctx, c.ID())
	if err != nil {
		return category.Subtree{}, err
	}
	return category.Subtree{
		Path:   parent.ChildPath(c.ID()),
		Depth:  parent.Depth + 1,
		Height: int(height),
	}, nil
}

// requireUnused refuses the delete while subcategories or products still
// reference the category.
func (h *CategoryHandler) requireUnused(ctx context.Context, categoryID string) error {
	usage, err := h.usage.CategoryUsage(ctx, categoryID)
	if err != nil {
		return err
	}
	if usage.Subcategories > 0 {
		return eventsourcing.NewDomainError("category_has_children",
			"category %s still has %d subcategories", categoryID, usage.Subcategories)
	}
	if usage.Products > 0 {
		return eventsourcing.NewDomainError("category_in_use",
			"category %s still has %d products", categoryID, usage.Products)
	}
	return nil
}
