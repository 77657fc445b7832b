package category

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corefold/shopstream/pkg/eventsourcing"
)

const (
	rootID  = "11111111-1111-4111-8111-111111111111"
	childID = "22222222-2222-4222-8222-222222222222"
	otherID = "33333333-3333-4333-8333-333333333333"
)

func domainCode(t *testing.T, err error) string {
	t.Helper()
	require.True(t, eventsourcing.IsDomainViolation(err))
	var domainErr *eventsourcing.DomainError
	require.ErrorAs(t, err, &domainErr)
	return domainErr.Code
}

func newRoot(t *testing.T, id, name string) *Category {
	t.Helper()
	c := New(id)
	require.NoError(t, c.Create(CreateCategory{ID: "cmd-" + id, CategoryID: id, Name: name}, ParentRef{}))
	return c
}

func TestCategoryCreateRoot(t *testing.T) {
	c := newRoot(t, rootID, "Electronics")

	assert.Equal(t, "/"+rootID, c.Path)
	assert.Equal(t, 1, c.Depth)
	assert.Empty(t, c.ParentID)

	events := c.UncommittedEvents()
	require.Len(t, events, 1)
	require.Len(t, events[0].UniqueValues, 1)
	claim := events[0].UniqueValues[0]
	assert.Equal(t, UniqueNameIndex, claim.Index)
	assert.Equal(t, ":electronics", claim.Value)
	assert.Equal(t, eventsourcing.UniqueClaim, claim.Operation)
}

func TestCategoryCreateUnderParent(t *testing.T) {
	parent := newRoot(t, rootID, "Electronics")
	ref := ParentRef{ID: parent.ID(), Path: parent.Path, Depth: parent.Depth}

	child := New(childID)
	require.NoError(t, child.Create(CreateCategory{ID: "cmd-child", CategoryID: childID, Name: "Audio", ParentID: rootID}, ref))

	assert.Equal(t, "/"+rootID+"/"+childID, child.Path)
	assert.Equal(t, 2, child.Depth)
	assert.Equal(t, rootID, child.ParentID)
}

func TestCategoryDepthGuard(t *testing.T) {
	deep := ParentRef{ID: otherID, Path: "/a/b/c/d/e", Depth: MaxDepth}

	c := New(childID)
	err := c.Create(CreateCategory{ID: "cmd-1", CategoryID: childID, Name: "Too Deep", ParentID: otherID}, deep)

	assert.Equal(t, "max_depth_exceeded", domainCode(t, err))
	assert.Empty(t, c.UncommittedEvents())
	assert.Equal(t, int64(0), c.Version())
}

func TestCategoryRenameSwapsClaims(t *testing.T) {
	c := newRoot(t, rootID, "Electronics")

	require.NoError(t, c.Rename(RenameCategory{ID: "cmd-2", CategoryID: rootID, NewName: "Gadgets"}))
	assert.Equal(t, "Gadgets", c.Name)

	events := c.UncommittedEvents()
	require.Len(t, events, 2)
	values := events[1].UniqueValues
	require.Len(t, values, 2)
	assert.Equal(t, eventsourcing.UniqueRelease, values[0].Operation)
	assert.Equal(t, ":electronics", values[0].Value)
	assert.Equal(t, eventsourcing.UniqueClaim, values[1].Operation)
	assert.Equal(t, ":gadgets", values[1].Value)
}

func TestCategoryRenameSameNameRecordsNothing(t *testing.T) {
	c := newRoot(t, rootID, "Electronics")
	require.NoError(t, c.Rename(RenameCategory{ID: "cmd-2", CategoryID: rootID, NewName: "Electronics"}))
	assert.Len(t, c.UncommittedEvents(), 1)
}

func TestCategoryCaseOnlyRenameKeepsClaim(t *testing.T) {
	c := newRoot(t, rootID, "Electronics")
	require.NoError(t, c.Rename(RenameCategory{ID: "cmd-2", CategoryID: rootID, NewName: "ELECTRONICS"}))

	events := c.UncommittedEvents()
	require.Len(t, events, 2)
	assert.Empty(t, events[1].UniqueValues)
	assert.Equal(t, "ELECTRONICS", c.Name)
}

func TestCategoryMove(t *testing.T) {
	parent := newRoot(t, rootID, "Electronics")
	child := New(childID)
	ref := ParentRef{ID: parent.ID(), Path: parent.Path, Depth: parent.Depth}
	require.NoError(t, child.Create(CreateCategory{ID: "cmd-1", CategoryID: childID, Name: "Audio", ParentID: rootID}, ref))

	other := newRoot(t, otherID, "Clearance")
	require.NoError(t, child.Move(MoveCategory{ID: "cmd-2", CategoryID: childID, NewParentID: otherID},
		Subtree{Path: child.Path, Depth: child.Depth, Height: 1},
		ParentRef{ID: other.ID(), Path: other.Path, Depth: other.Depth}))

	assert.Equal(t, otherID, child.ParentID)
	assert.Equal(t, "/"+otherID+"/"+childID, child.Path)
	assert.Equal(t, 2, child.Depth)

	var payload MovedPayload
	events := child.UncommittedEvents()
	require.NoError(t, events[len(events)-1].UnmarshalPayload(&payload))
	assert.Equal(t, "/"+rootID+"/"+childID, payload.OldPath)
	assert.Equal(t, "/"+otherID+"/"+childID, payload.NewPath)
}

func TestCategoryMoveUnderDescendantRejected(t *testing.T) {
	parent := newRoot(t, rootID, "Electronics")
	child := New(childID)
	require.NoError(t, child.Create(CreateCategory{ID: "cmd-1", CategoryID: childID, Name: "Audio", ParentID: rootID},
		ParentRef{ID: parent.ID(), Path: parent.Path, Depth: parent.Depth}))

	err := parent.Move(MoveCategory{ID: "cmd-2", CategoryID: rootID, NewParentID: childID},
		Subtree{Path: parent.Path, Depth: parent.Depth, Height: 2},
		ParentRef{ID: child.ID(), Path: child.Path, Depth: child.Depth})

	assert.Equal(t, "cycle_detected", domainCode(t, err))
}

func TestCategoryMoveSubtreeDepthGuard(t *testing.T) {
	c := newRoot(t, rootID, "Seasonal")
	deep := ParentRef{ID: otherID, Path: "/a/b/c/d", Depth: MaxDepth - 1}

	// The node itself would land at MaxDepth, but its two-level subtree
	// would push a descendant one past it.
	err := c.Move(MoveCategory{ID: "cmd-2", CategoryID: rootID, NewParentID: otherID},
		Subtree{Path: c.Path, Depth: c.Depth, Height: 2}, deep)
	assert.Equal(t, "max_depth_exceeded", domainCode(t, err))
	assert.Len(t, c.UncommittedEvents(), 1)

	// A leaf at the same target is fine.
	require.NoError(t, c.Move(MoveCategory{ID: "cmd-3", CategoryID: rootID, NewParentID: otherID},
		Subtree{Path: c.Path, Depth: c.Depth, Height: 1}, deep))
	assert.Equal(t, MaxDepth, c.Depth)
}

func TestCategoryMoveToSameParentRecordsNothing(t *testing.T) {
	parent := newRoot(t, rootID, "Electronics")
	child := New(childID)
	ref := ParentRef{ID: parent.ID(), Path: parent.Path, Depth: parent.Depth}
	require.NoError(t, child.Create(CreateCategory{ID: "cmd-1", CategoryID: childID, Name: "Audio", ParentID: rootID}, ref))

	require.NoError(t, child.Move(MoveCategory{ID: "cmd-2", CategoryID: childID, NewParentID: rootID},
		Subtree{Path: child.Path, Depth: child.Depth, Height: 1}, ref))
	assert.Len(t, child.UncommittedEvents(), 1)
}

func TestCategoryDeleteReleasesName(t *testing.T) {
	c := newRoot(t, rootID, "Electronics")
	require.NoError(t, c.Delete(DeleteCategory{ID: "cmd-2", CategoryID: rootID}))

	events := c.UncommittedEvents()
	require.Len(t, events, 2)
	values := events[1].UniqueValues
	require.Len(t, values, 1)
	assert.Equal(t, eventsourcing.UniqueRelease, values[0].Operation)
	assert.Equal(t, ":electronics", values[0].Value)

	err := c.Rename(RenameCategory{ID: "cmd-3", CategoryID: rootID, NewName: "Ghost"})
	assert.Equal(t, "category_deleted", domainCode(t, err))
}

func TestCategoryReplayEqualsFold(t *testing.T) {
	source := newRoot(t, rootID, "Electronics")
	require.NoError(t, source.Rename(RenameCategory{ID: "cmd-2", CategoryID: rootID, NewName: "Gadgets"}))
	history := source.UncommittedEvents()

	replayed := New(rootID)
	for _, event := range history {
		require.NoError(t, replayed.ApplyEvent(event))
	}

	assert.Equal(t, source.Name, replayed.Name)
	assert.Equal(t, source.Path, replayed.Path)
	assert.Equal(t, source.Depth, replayed.Depth)
	assert.Equal(t, source.Version(), replayed.Version())
}

func TestCategoryCommandValidation(t *testing.T) {
	err := CreateCategory{}.Validate()
	require.True(t, eventsourcing.IsValidation(err))

	err = MoveCategory{ID: "c", CategoryID: rootID, NewParentID: rootID}.Validate()
	require.True(t, eventsourcing.IsValidation(err))

	var vErr *eventsourcing.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Fields, "new_parent_id")

	assert.NoError(t, CreateCategory{ID: "c", CategoryID: rootID, Name: "Ok"}.Validate())
}
