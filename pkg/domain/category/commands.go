package category

import (
	"github.com/corefold/shopstream/pkg/validators"
)

// Command types handled by the category aggregate.
const (
	CommandCreate = "CreateCategory"
	CommandRename = "RenameCategory"
	CommandMove   = "MoveCategory"
	CommandDelete = "DeleteCategory"
)

const maxNameLength = 100

// CreateCategory creates a category, optionally under a parent.
type CreateCategory struct {
	ID         string
	CategoryID string
	Name       string
	ParentID   string
}

func (c CreateCategory) CommandID() string   { return c.ID }
func (c CreateCategory) AggregateID() string { return c.CategoryID }
func (c CreateCategory) CommandType() string { return CommandCreate }

func (c CreateCategory) Validate() error {
	v := validators.New()
	v.UUID("category_id", c.CategoryID)
	v.Require("name", c.Name)
	v.MaxLength("name", c.Name, maxNameLength)
	v.OptionalUUID("parent_id", c.ParentID)
	return v.Err()
}

// RenameCategory changes a category's name within its current parent.
type RenameCategory struct {
	ID         string
	CategoryID string
	NewName    string
}

func (c RenameCategory) CommandID() string   { return c.ID }
func (c RenameCategory) AggregateID() string { return c.CategoryID }
func (c RenameCategory) CommandType() string { return CommandRename }

func (c RenameCategory) Validate() error {
	v := validators.New()
	v.UUID("category_id", c.CategoryID)
	v.Require("new_name", c.NewName)
	v.MaxLength("new_name", c.NewName, maxNameLength)
	return v.Err()
}

// MoveCategory reparents a category. An empty NewParentID moves it to the root.
type MoveCategory struct {
	ID          string
	CategoryID  string
	NewParentID string
}

func (c MoveCategory) CommandID() string   { return c.ID }
func (c MoveCategory) AggregateID() string { return c.CategoryID }
func (c MoveCategory) CommandType() string { return CommandMove }

func (c MoveCategory) Validate() error {
	v := validators.New()
	v.UUID("category_id", c.CategoryID)
	v.OptionalUUID("new_parent_id", c.NewParentID)
	if c.NewParentID == c.CategoryID {
		v.Add("new_parent_id", "cannot be the category itself")
	}
	return v.Err()
}

// DeleteCategory removes an empty category.
type DeleteCategory struct {
	ID         string
	CategoryID string
}

func (c DeleteCategory) CommandID() string   { return c.ID }
func (c DeleteCategory) AggregateID() string { return c.CategoryID }
func (c DeleteCategory) CommandType() string { return CommandDelete }

func (c DeleteCategory) Validate() error {
	v := validators.New()
	v.UUID("category_id", c.CategoryID)
	return v.Err()
}
