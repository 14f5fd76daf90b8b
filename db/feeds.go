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

var feedColumns = []string{
	"id", "title", "url", "category_id", "status", "error_message", "icon_url", "site_url",
	"created_at", "updated_at", "last_fetched_at", "next_fetch_at",
	"etag", "last_modified", "consecutive_failures", "refresh_interval_seconds",
}

// ScheduleUpdate is the outcome of one fetch pipeline for a feed
type ScheduleUpdate struct {
	Status              models.FeedStatus
	ErrorMessage        *string
	FetchedAt           time.Time
	NextFetchAt         time.Time
	ConsecutiveFailures int
	// nil keeps the stored validators
	ETag         *string
	LastModified *string
}

func scanFeed(row scanner) (*models.Feed, error) {
	var (
		f                              models.Feed
		categoryID, refreshSeconds     sql.NullInt64
		errorMessage, iconUrl, siteUrl sql.NullString
		createdAt, updatedAt           string
		lastFetchedAt, nextFetchAt     sql.NullString
		etag, lastModified             sql.NullString
		status                         string
	)
	if err := row.Scan(
		&f.Id, &f.Title, &f.Url, &categoryID, &status, &errorMessage, &iconUrl, &siteUrl,
		&createdAt, &updatedAt, &lastFetchedAt, &nextFetchAt,
		&etag, &lastModified, &f.ConsecutiveFailures, &refreshSeconds,
	); err != nil {
		return nil, err
	}

	f.Status = models.FeedStatus(status)
	f.CategoryID = nullInt64(categoryID)
	f.ErrorMessage = nullString(errorMessage)
	f.IconUrl = nullString(iconUrl)
	f.SiteUrl = nullString(siteUrl)
	f.ETag = etag.String
	f.LastModified = lastModified.String
	if refreshSeconds.Valid {
		interval := time.Duration(refreshSeconds.Int64) * time.Second
		f.RefreshInterval = &interval
	}

	var err error
	if f.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if f.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if f.LastFetchedAt, err = parseNullTime(lastFetchedAt); err != nil {
		return nil, err
	}
	if f.NextFetchAt, err = parseNullTime(nextFetchAt); err != nil {
		return nil, err
	}
	return &f, nil
}

func (o ops) scanFeeds(ctx context.Context, sb *sqlbuilder.SelectBuilder) ([]models.Feed, error) {
	rows, err := o.query(ctx, sb)
	if err != nil {
		return nil, storageErr("query feeds", err)
	}
	defer rows.Close()

	feeds := []models.Feed{}
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, storageErr("scan feed", err)
		}
		feeds = append(feeds, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate feeds", err)
	}
	return feeds, nil
}

// CreateFeed inserts a new subscription and fills in its id
func (o ops) CreateFeed(ctx context.Context, feed *models.Feed) error {
	now := time.Now().UTC()
	if feed.Status == "" {
		feed.Status = models.FeedActive
	}
	var refresh any
	if feed.RefreshInterval != nil {
		refresh = int64(feed.RefreshInterval.Seconds())
	}

	ib := sqlbuilder.NewInsertBuilder()
	ib.InsertInto("feeds").
		Cols("title", "url", "category_id", "status", "icon_url", "site_url", "created_at", "updated_at",
			"consecutive_failures", "refresh_interval_seconds").
		Values(feed.Title, feed.Url, feed.CategoryID, string(feed.Status), feed.IconUrl, feed.SiteUrl,
			formatTime(now), formatTime(now), 0, refresh)
	ib.SQL("RETURNING id")

	if err := o.queryRow(ctx, ib).Scan(&feed.Id); err != nil {
		return mutationErr("insert feed", err)
	}
	feed.CreatedAt = now
	feed.UpdatedAt = now
	return nil
}

func (o ops) getFeedWhere(ctx context.Context, column string, value any) (*models.Feed, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select(feedColumns...).From("feeds").Where(sb.Equal(column, value))

	f, err := scanFeed(o.queryRow(ctx, sb))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("feed %v: %w", value, models.ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("get feed", err)
	}
	return f, nil
}

func (o ops) GetFeed(ctx context.Context, id int64) (*models.Feed, error) {
	return o.getFeedWhere(ctx, "id", id)
}

func (o ops) GetFeedByURL(ctx context.Context, url string) (*models.Feed, error) {
	return o.getFeedWhere(ctx, "url", url)
}

func (o ops) ListFeeds(ctx context.Context) ([]models.Feed, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select(feedColumns...).From("feeds").OrderBy("id").Asc()
	return o.scanFeeds(ctx, sb)
}

// DueFeeds returns pollable feeds whose next fetch is at or before now, oldest due first.
// Feeds that were never fetched sort ahead of everything else.
func (o ops) DueFeeds(ctx context.Context, now time.Time) ([]models.Feed, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select(feedColumns...).From("feeds").
		Where(
			sb.NotIn("status", string(models.FeedDisabled), string(models.FeedPermanentError)),
			sb.Or(sb.IsNull("next_fetch_at"), sb.LessEqualThan("next_fetch_at", formatTime(now))),
		).
		OrderBy("CASE WHEN next_fetch_at IS NULL THEN 0 ELSE 1 END", "next_fetch_at", "id").Asc()
	return o.scanFeeds(ctx, sb)
}

// UpdateFeedSchedule stores the result of a fetch. A feed disabled while its
// fetch was in flight stays disabled.
func (o ops) UpdateFeedSchedule(ctx context.Context, id int64, u ScheduleUpdate) error {
	ub := sqlbuilder.NewUpdateBuilder()
	ub.Update("feeds").Set(
		fmt.Sprintf("status = CASE WHEN status = %s THEN status ELSE %s END",
			ub.Var(string(models.FeedDisabled)), ub.Var(string(u.Status))),
		ub.Assign("error_message", u.ErrorMessage),
		ub.Assign("last_fetched_at", formatTime(u.FetchedAt)),
		ub.Assign("next_fetch_at", formatTime(u.NextFetchAt)),
		ub.Assign("consecutive_failures", u.ConsecutiveFailures),
		ub.Assign("updated_at", formatTime(time.Now())),
	)
	if u.ETag != nil {
		ub.SetMore(ub.Assign("etag", *u.ETag))
	}
	if u.LastModified != nil {
		ub.SetMore(ub.Assign("last_modified", *u.LastModified))
	}
	ub.Where(ub.Equal("id", id))

	return o.expectOne(ctx, ub, "update feed schedule", fmt.Sprintf("feed %d", id))
}

// SetFeedStatus applies a manual status change. Activating a feed clears its
// error and backoff state and, when nextFetchAt is set, reschedules it.
func (o ops) SetFeedStatus(ctx context.Context, id int64, status models.FeedStatus, nextFetchAt *time.Time) error {
	ub := sqlbuilder.NewUpdateBuilder()
	ub.Update("feeds").Set(
		ub.Assign("status", string(status)),
		ub.Assign("updated_at", formatTime(time.Now())),
	)
	if status == models.FeedActive {
		ub.SetMore(
			"error_message = NULL",
			ub.Assign("consecutive_failures", 0),
		)
	}
	if nextFetchAt != nil {
		ub.SetMore(ub.Assign("next_fetch_at", formatTime(*nextFetchAt)))
	}
	ub.Where(ub.Equal("id", id))

	return o.expectOne(ctx, ub, "set feed status", fmt.Sprintf("feed %d", id))
}

func (o ops) SetFeedCategory(ctx context.Context, id int64, categoryID *int64) error {
	ub := sqlbuilder.NewUpdateBuilder()
	ub.Update("feeds").Set(
		ub.Assign("category_id", categoryID),
		ub.Assign("updated_at", formatTime(time.Now())),
	).Where(ub.Equal("id", id))

	return o.expectOne(ctx, ub, "set feed category", fmt.Sprintf("feed %d", id))
}

// DeleteFeed removes a feed with the articles it owns and their tag links
func (o ops) DeleteFeed(ctx context.Context, id int64) error {
	articleIDs := sqlbuilder.NewSelectBuilder()
	articleIDs.Select("id").From("articles").Where(articleIDs.Equal("feed_id", id))

	links := sqlbuilder.NewDeleteBuilder()
	links.DeleteFrom("article_tags").Where(links.In("article_id", articleIDs))
	if _, err := o.exec(ctx, links); err != nil {
		return storageErr("delete feed article tags", err)
	}

	articles := sqlbuilder.NewDeleteBuilder()
	articles.DeleteFrom("articles").Where(articles.Equal("feed_id", id))
	if _, err := o.exec(ctx, articles); err != nil {
		return storageErr("delete feed articles", err)
	}

	feed := sqlbuilder.NewDeleteBuilder()
	feed.DeleteFrom("feeds").Where(feed.Equal("id", id))
	return o.expectOne(ctx, feed, "delete feed", fmt.Sprintf("feed %d", id))
}

// expectOne runs a single row mutation and reports ErrNotFound when nothing matched
func (o ops) expectOne(ctx context.Context, b sqlbuilder.Builder, op, what string) error {
	res, err := o.exec(ctx, b)
	if err != nil {
		return mutationErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr(op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, models.ErrNotFound)
	}
	return nil
}
