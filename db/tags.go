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

var tagColumns = []string{"tags.id", "tags.name", "tags.description", "tags.color", "tags.created_at", "tags.updated_at"}

func scanTag(row scanner) (*models.Tag, error) {
	var (
		t                    models.Tag
		description, color   sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&t.Id, &t.Name, &description, &color, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	t.Description = nullString(description)
	t.Color = nullString(color)

	var err error
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func (o ops) scanTags(ctx context.Context, sb *sqlbuilder.SelectBuilder) ([]models.Tag, error) {
	rows, err := o.query(ctx, sb)
	if err != nil {
		return nil, storageErr("query tags", err)
	}
	defer rows.Close()

	tags := []models.Tag{}
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, storageErr("scan tag", err)
		}
		tags = append(tags, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate tags", err)
	}
	return tags, nil
}

// FindTagByName matches the name exactly, case included
func (o ops) FindTagByName(ctx context.Context, name string) (*models.Tag, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select(tagColumns...).From("tags").Where(sb.Equal("tags.name", name))

	t, err := scanTag(o.queryRow(ctx, sb))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tag %q: %w", name, models.ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("find tag", err)
	}
	return t, nil
}

// InsertTagIgnore creates a tag unless one with the same name already exists
func (o ops) InsertTagIgnore(ctx context.Context, tag models.Tag) error {
	now := formatTime(time.Now())

	ib := sqlbuilder.NewInsertBuilder()
	ib.InsertInto("tags").
		Cols("name", "description", "color", "created_at", "updated_at").
		Values(tag.Name, tag.Description, tag.Color, now, now)
	ib.SQL("ON CONFLICT (name) DO NOTHING")

	if _, err := o.exec(ctx, ib); err != nil {
		return mutationErr("insert tag", err)
	}
	return nil
}

func (o ops) FindTag(ctx context.Context, id int64) (*models.Tag, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select(tagColumns...).From("tags").Where(sb.Equal("tags.id", id))

	t, err := scanTag(o.queryRow(ctx, sb))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tag %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("find tag", err)
	}
	return t, nil
}

// DeleteTag removes a tag, its article links go with it
func (o ops) DeleteTag(ctx context.Context, id int64) error {
	dlb := sqlbuilder.NewDeleteBuilder()
	dlb.DeleteFrom("tags").Where(dlb.Equal("id", id))
	return o.expectOne(ctx, dlb, "delete tag", fmt.Sprintf("tag %d", id))
}

func (o ops) ListTags(ctx context.Context) ([]models.Tag, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select(tagColumns...).From("tags").OrderBy("tags.name").Asc()
	return o.scanTags(ctx, sb)
}

// AttachTag links a tag to an article. It reports false when the link already existed.
func (o ops) AttachTag(ctx context.Context, articleID, tagID int64) (bool, error) {
	ib := sqlbuilder.NewInsertBuilder()
	ib.InsertInto("article_tags").
		Cols("article_id", "tag_id", "created_at").
		Values(articleID, tagID, formatTime(time.Now()))
	ib.SQL("ON CONFLICT (article_id, tag_id) DO NOTHING")

	res, err := o.exec(ctx, ib)
	if err != nil {
		return false, mutationErr("attach tag", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageErr("attach tag", err)
	}
	return n > 0, nil
}

func (o ops) ArticleTags(ctx context.Context, articleID int64) ([]models.Tag, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select(tagColumns...).From("tags").
		Join("article_tags", "article_tags.tag_id = tags.id").
		Where(sb.Equal("article_tags.article_id", articleID)).
		OrderBy("tags.name").Asc()
	return o.scanTags(ctx, sb)
}
