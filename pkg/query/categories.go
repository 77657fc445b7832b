package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/corefold/shopstream/pkg/handlers"
)

// Category is the category read model row. ProductCount counts products
// assigned directly to this category, not to its subtree.
type Category struct {
	CategoryID   string
	Name         string
	ParentID     string
	Path         string
	Depth        int
	ProductCount int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CategoryNode is a category with its resolved children, ordered by name.
type CategoryNode struct {
	Category
	Children []*CategoryNode
}

const categoryColumns = `category_id, name, parent_id, path, depth, product_count, created_at, updated_at`

// GetCategory returns one category by id.
func (s *Service) GetCategory(ctx context.Context, categoryID string) (*Category, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+categoryColumns+` FROM category_view WHERE category_id = ?`, categoryID)
	category, err := scanCategory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("category %s: %w", categoryID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading category %s: %w", categoryID, err)
	}
	return category, nil
}

// ListCategories returns one page of the direct children of parentID, ordered
// by name. An empty parentID lists the roots.
func (s *Service) ListCategories(ctx context.Context, parentID string, page Page) (*Result[Category], error) {
	page = page.normalize()

	var total int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM category_view WHERE parent_id = ?`, parentID,
	).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting categories: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+categoryColumns+` FROM category_view WHERE parent_id = ?
		 ORDER BY name, category_id LIMIT ? OFFSET ?`,
		parentID, page.Size, page.offset(),
	)
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	defer rows.Close()

	result := &Result[Category]{Total: total, Page: page.Number, PageSize: page.Size}
	for rows.Next() {
		category, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("listing categories: %w", err)
		}
		result.Items = append(result.Items, *category)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	return result, nil
}

// CategoryTree returns the subtree rooted at rootID, or every root when
// rootID is empty. maxDepth counts the levels returned, the requested root's
// level included; zero or negative means the whole subtree. Children are
// ordered by name.
func (s *Service) CategoryTree(ctx context.Context, rootID string, maxDepth int) ([]*CategoryNode, error) {
	var clauses []string
	var args []any
	if rootID != "" {
		root, err := s.GetCategory(ctx, rootID)
		if err != nil {
			return nil, err
		}
		prefix := root.Path + "/"
		clauses = append(clauses, "(category_id = ? OR substr(path, 1, ?) = ?)")
		args = append(args, rootID, len(prefix), prefix)
		if maxDepth > 0 {
			clauses = append(clauses, "depth <= ?")
			args = append(args, root.Depth+maxDepth-1)
		}
	} else if maxDepth > 0 {
		clauses = append(clauses, "depth <= ?")
		args = append(args, maxDepth)
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	// Path order puts every parent before its descendants.
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+categoryColumns+` FROM category_view`+where+` ORDER BY path`, args...)
	if err != nil {
		return nil, fmt.Errorf("loading category tree: %w", err)
	}
	defer rows.Close()

	nodes := make(map[string]*CategoryNode)
	var roots []*CategoryNode
	for rows.Next() {
		category, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("loading category tree: %w", err)
		}
		node := &CategoryNode{Category: *category}
		nodes[node.CategoryID] = node
		if parent, ok := nodes[node.ParentID]; ok {
			parent.Children = append(parent.Children, node)
		} else {
			roots = append(roots, node)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading category tree: %w", err)
	}

	for _, node := range nodes {
		sortNodes(node.Children)
	}
	sortNodes(roots)
	return roots, nil
}

// CategoryUsage reports what still references a category, serving the
// delete pre-check port of the category command handler. A category the
// projections have not seen yet reports zero usage.
func (s *Service) CategoryUsage(ctx context.Context, categoryID string) (handlers.CategoryUsage, error) {
	var usage handlers.CategoryUsage
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM category_view WHERE parent_id = ?`, categoryID,
	).Scan(&usage.Subcategories); err != nil {
		return handlers.CategoryUsage{}, fmt.Errorf("counting subcategories of %s: %w", categoryID, err)
	}
	err := s.db.QueryRowContext(ctx,
		`SELECT product_count FROM category_view WHERE category_id = ?`, categoryID,
	).Scan(&usage.Products)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return handlers.CategoryUsage{}, fmt.Errorf("counting products in %s: %w", categoryID, err)
	}
	return usage, nil
}

// SubtreeHeight reports how many levels the subtree rooted at a category
// spans, the category's own level included, serving the move pre-check of
// the category command handler. A category the projections have not seen
// yet reports 0.
func (s *Service) SubtreeHeight(ctx context.Context, categoryID string) (int64, error) {
	root, err := s.GetCategory(ctx, categoryID)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	prefix := root.Path + "/"
	var deepest int64
	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(depth), 0) FROM category_view
		WHERE category_id = ? OR substr(path, 1, ?) = ?
	`, categoryID, len(prefix), prefix).Scan(&deepest)
	if err != nil {
		return 0, fmt.Errorf("measuring subtree of %s: %w", categoryID, err)
	}

	height := deepest - int64(root.Depth) + 1
	if height < 1 {
		height = 1
	}
	return height, nil
}

var _ handlers.CategoryUsageReader = (*Service)(nil)

func sortNodes(nodes []*CategoryNode) {
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Name != nodes[j].Name {
			return nodes[i].Name < nodes[j].Name
		}
		return nodes[i].CategoryID < nodes[j].CategoryID
	})
}

func scanCategory(row rowScanner) (*Category, error) {
	var (
		category         Category
		created, updated int64
	)
	if err := row.Scan(
		&category.CategoryID, &category.Name, &category.ParentID, &category.Path,
		&category.Depth, &category.ProductCount, &created, &updated,
	); err != nil {
		return nil, err
	}
	category.CreatedAt = unixTime(created)
	category.UpdatedAt = unixTime(updated)
	return &category, nil
}
