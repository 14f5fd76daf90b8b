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

var articleColumns = []string{
	"id", "feed_id", "category_id", "title", "url", "author", "content", "summary",
	"published_at", "read_status", "is_favorited", "created_at", "updated_at",
}

// ArticleFilter narrows ListArticles. Zero values mean no restriction.
type ArticleFilter struct {
	FeedID     *int64
	CategoryID *int64
	TagID      *int64
	ReadStatus *models.ReadStatus
	Favorited  *bool
	Limit      int
	Offset     int
}

// ArticleContent holds the fields a merge may refresh on an existing article
type ArticleContent struct {
	Title       string
	Author      *string
	Content     *string
	Summary     *string
	PublishedAt *time.Time
}

func scanArticle(row scanner) (*models.Article, error) {
	var (
		a                        models.Article
		categoryID               sql.NullInt64
		author, content, summary sql.NullString
		publishedAt              sql.NullString
		readStatus               string
		favorited                int
		createdAt, updatedAt     string
	)
	if err := row.Scan(
		&a.Id, &a.FeedID, &categoryID, &a.Title, &a.Url, &author, &content, &summary,
		&publishedAt, &readStatus, &favorited, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	a.CategoryID = nullInt64(categoryID)
	a.Author = nullString(author)
	a.Content = nullString(content)
	a.Summary = nullString(summary)
	a.ReadStatus = models.ReadStatus(readStatus)
	a.IsFavorited = favorited != 0

	var err error
	if a.PublishedAt, err = parseNullTime(publishedAt); err != nil {
		return nil, err
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func (o ops) FindArticleByURL(ctx context.Context, url string) (*models.Article, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select(articleColumns...).From("articles").Where(sb.Equal("url", url))

	a, err := scanArticle(o.queryRow(ctx, sb))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("article %s: %w", url, models.ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("find article", err)
	}
	return a, nil
}

func (o ops) FindArticle(ctx context.Context, id int64) (*models.Article, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select(articleColumns...).From("articles").Where(sb.Equal("id", id))

	a, err := scanArticle(o.queryRow(ctx, sb))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("article %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("find article", err)
	}
	return a, nil
}

// InsertArticle inserts a new article unless its url is already taken. It
// reports false without touching the stored row when the url exists.
func (o ops) InsertArticle(ctx context.Context, article *models.Article) (bool, error) {
	now := time.Now().UTC()
	if article.ReadStatus == "" {
		article.ReadStatus = models.Unread
	}

	ib := sqlbuilder.NewInsertBuilder()
	ib.InsertInto("articles").
		Cols("feed_id", "category_id", "title", "url", "author", "content", "summary",
			"published_at", "read_status", "is_favorited", "created_at", "updated_at").
		Values(article.FeedID, article.CategoryID, article.Title, article.Url, article.Author,
			article.Content, article.Summary, nullTime(article.PublishedAt), string(article.ReadStatus),
			boolInt(article.IsFavorited), formatTime(now), formatTime(now))
	ib.SQL("ON CONFLICT (url) DO NOTHING RETURNING id")

	err := o.queryRow(ctx, ib).Scan(&article.Id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, mutationErr("insert article", err)
	}
	article.CreatedAt = now
	article.UpdatedAt = now
	return true, nil
}

func (o ops) UpdateArticleContent(ctx context.Context, id int64, c ArticleContent) error {
	ub := sqlbuilder.NewUpdateBuilder()
	ub.Update("articles").Set(
		ub.Assign("title", c.Title),
		ub.Assign("author", c.Author),
		ub.Assign("content", c.Content),
		ub.Assign("summary", c.Summary),
		ub.Assign("published_at", nullTime(c.PublishedAt)),
		ub.Assign("updated_at", formatTime(time.Now())),
	).Where(ub.Equal("id", id))

	return o.expectOne(ctx, ub, "update article", fmt.Sprintf("article %d", id))
}

func (f ArticleFilter) apply(sb *sqlbuilder.SelectBuilder) {
	if f.FeedID != nil {
		sb.Where(sb.Equal("feed_id", *f.FeedID))
	}
	if f.CategoryID != nil {
		sb.Where(sb.Equal("category_id", *f.CategoryID))
	}
	if f.TagID != nil {
		tagged := sqlbuilder.NewSelectBuilder()
		tagged.Select("article_id").From("article_tags").Where(tagged.Equal("tag_id", *f.TagID))
		sb.Where(sb.In("id", tagged))
	}
	if f.ReadStatus != nil {
		sb.Where(sb.Equal("read_status", string(*f.ReadStatus)))
	}
	if f.Favorited != nil {
		sb.Where(sb.Equal("is_favorited", boolInt(*f.Favorited)))
	}
}

// ListArticles returns articles newest first
func (o ops) ListArticles(ctx context.Context, filter ArticleFilter) ([]models.Article, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select(articleColumns...).From("articles")
	filter.apply(sb)
	sb.OrderBy("id").Desc()
	if filter.Limit > 0 {
		sb.Limit(filter.Limit).Offset(filter.Offset)
	}

	rows, err := o.query(ctx, sb)
	if err != nil {
		return nil, storageErr("query articles", err)
	}
	defer rows.Close()

	articles := []models.Article{}
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, storageErr("scan article", err)
		}
		articles = append(articles, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate articles", err)
	}
	return articles, nil
}

func (o ops) CountArticles(ctx context.Context, filter ArticleFilter) (int, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select("COUNT(*)").From("articles")
	filter.apply(sb)

	var count int
	if err := o.queryRow(ctx, sb).Scan(&count); err != nil {
		return 0, storageErr("count articles", err)
	}
	return count, nil
}

// SetArticleRead marks an article read or unread. updated_at tracks content
// changes only and is left alone.
func (o ops) SetArticleRead(ctx context.Context, id int64, status models.ReadStatus) error {
	ub := sqlbuilder.NewUpdateBuilder()
	ub.Update("articles").Set(ub.Assign("read_status", string(status))).Where(ub.Equal("id", id))

	return o.expectOne(ctx, ub, "set article read status", fmt.Sprintf("article %d", id))
}

func (o ops) SetArticleFavorited(ctx context.Context, id int64, favorited bool) error {
	ub := sqlbuilder.NewUpdateBuilder()
	ub.Update("articles").Set(ub.Assign("is_favorited", boolInt(favorited))).Where(ub.Equal("id", id))

	return o.expectOne(ctx, ub, "set article favorite", fmt.Sprintf("article %d", id))
}
