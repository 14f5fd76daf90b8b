package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"panda/models"
	"time"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
)

var categoryColumns = []string{"id", "name", "description", "parent_id", "is_expanded", "created_at", "updated_at"}

// CategoryRefs counts the rows that point at a category
type CategoryRefs struct {
	Children int
	Feeds    int
	Articles int
}

func (r CategoryRefs) Empty() bool {
	return r.Children == 0 && r.Feeds == 0 && r.Articles == 0
}

func scanCategory(row scanner) (*models.Category, error) {
	var (
		c                    models.Category
		description          sql.NullString
		parentID             sql.NullInt64
		expanded             int
		createdAt, updatedAt string
	)
	if err := row.Scan(&c.Id, &c.Name, &description, &parentID, &expanded, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	c.Description = nullString(description)
	c.ParentID = nullInt64(parentID)
	c.IsExpanded = expanded != 0

	var err error
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (o ops) CreateCategory(ctx context.Context, category *models.Category) error {
	now := time.Now().UTC()

	ib := sqlbuilder.NewInsertBuilder()
	ib.InsertInto("categories").
		Cols("name", "description", "parent_id", "is_expanded", "created_at", "updated_at").
		Values(category.Name, category.Description, category.ParentID, boolInt(category.IsExpanded),
			formatTime(now), formatTime(now))
	ib.SQL("RETURNING id")

	if err := o.queryRow(ctx, ib).Scan(&category.Id); err != nil {
		return mutationErr("insert category", err)
	}
	category.CreatedAt = now
	category.UpdatedAt = now
	return nil
}

func (o ops) GetCategory(ctx context.Context, id int64) (*models.Category, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select(categoryColumns...).From("categories").Where(sb.Equal("id", id))

	c, err := scanCategory(o.queryRow(ctx, sb))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("category %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("get category", err)
	}
	return c, nil
}

// FindCategory looks a category up by name among the children of parent, or
// among the roots when parent is nil. The lowest id wins on duplicates.
func (o ops) FindCategory(ctx context.Context, name string, parent *int64) (*models.Category, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select(categoryColumns...).From("categories").Where(sb.Equal("name", name))
	if parent == nil {
		sb.Where(sb.IsNull("parent_id"))
	} else {
		sb.Where(sb.Equal("parent_id", *parent))
	}
	sb.OrderBy("id").Asc().Limit(1)

	c, err := scanCategory(o.queryRow(ctx, sb))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("category %q: %w", name, models.ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("find category", err)
	}
	return c, nil
}

func (o ops) ListCategories(ctx context.Context) ([]models.Category, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select(categoryColumns...).From("categories").OrderBy("id").Asc()

	rows, err := o.query(ctx, sb)
	if err != nil {
		return nil, storageErr("query categories", err)
	}
	defer rows.Close()

	categories := []models.Category{}
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, storageErr("scan category", err)
		}
		categories = append(categories, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate categories", err)
	}
	return categories, nil
}

// SetCategoryParent stores a new parent. Cycle checks are the caller's job.
func (o ops) SetCategoryParent(ctx context.Context, id int64, parent *int64) error {
	ub := sqlbuilder.NewUpdateBuilder()
	ub.Update("categories").Set(
		ub.Assign("parent_id", parent),
		ub.Assign("updated_at", formatTime(time.Now())),
	).Where(ub.Equal("id", id))

	return o.expectOne(ctx, ub, "set category parent", fmt.Sprintf("category %d", id))
}

func (o ops) count(ctx context.Context, table, column string, value int64) (int, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select("COUNT(*)").From(table).Where(sb.Equal(column, value))

	var n int
	if err := o.queryRow(ctx, sb).Scan(&n); err != nil {
		return 0, storageErr("count "+table, err)
	}
	return n, nil
}

func (o ops) CategoryReferences(ctx context.Context, id int64) (CategoryRefs, error) {
	var (
		refs CategoryRefs
		err  error
	)
	if refs.Children, err = o.count(ctx, "categories", "parent_id", id); err != nil {
		return refs, err
	}
	if refs.Feeds, err = o.count(ctx, "feeds", "category_id", id); err != nil {
		return refs, err
	}
	if refs.Articles, err = o.count(ctx, "articles", "category_id", id); err != nil {
		return refs, err
	}
	return refs, nil
}

// ReassignCategory points every child category, feed and article of from at to
func (o ops) ReassignCategory(ctx context.Context, from int64, to *int64) error {
	now := formatTime(time.Now())
	for _, target := range []struct {
		table, column string
		touch         bool
	}{
		{"categories", "parent_id", true},
		{"feeds", "category_id", true},
		// article updated_at tracks content only
		{"articles", "category_id", false},
	} {
		ub := sqlbuilder.NewUpdateBuilder()
		ub.Update(target.table).Set(ub.Assign(target.column, to))
		if target.touch {
			ub.SetMore(ub.Assign("updated_at", now))
		}
		ub.Where(ub.Equal(target.column, from))
		if _, err := o.exec(ctx, ub); err != nil {
			return mutationErr("reassign "+target.table, err)
		}
	}
	return nil
}

func (o ops) DeleteCategory(ctx context.Context, id int64) error {
	del := sqlbuilder.NewDeleteBuilder()
	del.DeleteFrom("categories").Where(del.Equal("id", id))
	return o.expectOne(ctx, del, "delete category", fmt.Sprintf("category %d", id))
}
