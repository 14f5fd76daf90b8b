package db_test

import (
	"context"
	"errors"
	"panda/db"
	"panda/db/dbtest"
	"panda/models"
	"path/filepath"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createFeed(t *testing.T, database *db.DB, url string, categoryID *int64) *models.Feed {
	t.Helper()
	feed := &models.Feed{Title: url, Url: url, CategoryID: categoryID}
	require.NoError(t, database.CreateFeed(context.Background(), feed))
	return feed
}

func TestMigrateAndRollback(t *testing.T) {
	cfg := db.Config{Driver: db.DriverSQLite, Path: filepath.Join(t.TempDir(), "test.db")}

	require.NoError(t, db.Migrate(cfg))
	// Running twice is a no-op
	require.NoError(t, db.Migrate(cfg))
	require.NoError(t, db.Rollback(cfg))
	require.NoError(t, db.Migrate(cfg))

	database, err := db.Open(cfg)
	require.NoError(t, err)
	defer database.Close()

	feed := createFeed(t, database, "https://example.com/feed.xml", nil)
	got, err := database.GetFeed(context.Background(), feed.Id)
	require.NoError(t, err)
	assert.Equal(t, 0, got.ConsecutiveFailures)
	assert.Equal(t, models.FeedActive, got.Status)
}

func TestCreateFeed(t *testing.T) {
	database := dbtest.New(t)
	ctx := context.Background()

	feed := createFeed(t, database, "https://example.com/feed.xml", nil)
	assert.NotZero(t, feed.Id)

	t.Run("duplicate url", func(t *testing.T) {
		err := database.CreateFeed(ctx, &models.Feed{Title: "dup", Url: feed.Url})
		assert.ErrorIs(t, err, models.ErrAlreadyExists)
	})

	t.Run("unknown category", func(t *testing.T) {
		err := database.CreateFeed(ctx, &models.Feed{Title: "x", Url: "https://example.com/x", CategoryID: lo.ToPtr(int64(999))})
		assert.ErrorIs(t, err, models.ErrIntegrity)
	})

	t.Run("lookup", func(t *testing.T) {
		got, err := database.GetFeedByURL(ctx, feed.Url)
		require.NoError(t, err)
		assert.Equal(t, feed.Id, got.Id)
		assert.Nil(t, got.NextFetchAt)

		_, err = database.GetFeed(ctx, 4242)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestDueFeeds(t *testing.T) {
	database := dbtest.New(t)
	ctx := context.Background()
	now := time.Now().UTC()

	fresh := createFeed(t, database, "https://example.com/fresh", nil)
	late := createFeed(t, database, "https://example.com/late", nil)
	later := createFeed(t, database, "https://example.com/later", nil)
	future := createFeed(t, database, "https://example.com/future", nil)
	disabled := createFeed(t, database, "https://example.com/disabled", nil)
	broken := createFeed(t, database, "https://example.com/broken", nil)

	schedule := func(id int64, next time.Time, status models.FeedStatus) {
		require.NoError(t, database.UpdateFeedSchedule(ctx, id, db.ScheduleUpdate{
			Status:      status,
			FetchedAt:   now.Add(-2 * time.Hour),
			NextFetchAt: next,
		}))
	}
	schedule(later.Id, now.Add(-time.Minute), models.FeedActive)
	schedule(late.Id, now.Add(-time.Hour), models.FeedError)
	schedule(future.Id, now.Add(time.Hour), models.FeedActive)
	schedule(disabled.Id, now.Add(-time.Hour), models.FeedActive)
	schedule(broken.Id, now.Add(-time.Hour), models.FeedPermanentError)
	require.NoError(t, database.SetFeedStatus(ctx, disabled.Id, models.FeedDisabled, nil))

	due, err := database.DueFeeds(ctx, now)
	require.NoError(t, err)
	ids := lo.Map(due, func(f models.Feed, _ int) int64 { return f.Id })
	assert.Equal(t, []int64{fresh.Id, late.Id, later.Id}, ids)
}

func TestUpdateFeedScheduleKeepsDisabled(t *testing.T) {
	database := dbtest.New(t)
	ctx := context.Background()
	feed := createFeed(t, database, "https://example.com/feed", nil)
	require.NoError(t, database.SetFeedStatus(ctx, feed.Id, models.FeedDisabled, nil))

	now := time.Now().UTC()
	require.NoError(t, database.UpdateFeedSchedule(ctx, feed.Id, db.ScheduleUpdate{
		Status:      models.FeedActive,
		FetchedAt:   now,
		NextFetchAt: now.Add(time.Hour),
		ETag:        lo.ToPtr(`"abc"`),
	}))

	got, err := database.GetFeed(ctx, feed.Id)
	require.NoError(t, err)
	assert.Equal(t, models.FeedDisabled, got.Status)
	assert.Equal(t, `"abc"`, got.ETag)
	require.NotNil(t, got.NextFetchAt)
	assert.WithinDuration(t, now.Add(time.Hour), *got.NextFetchAt, time.Millisecond)
}

func TestSetFeedStatusActiveResetsBackoff(t *testing.T) {
	database := dbtest.New(t)
	ctx := context.Background()
	feed := createFeed(t, database, "https://example.com/feed", nil)
	now := time.Now().UTC()

	require.NoError(t, database.UpdateFeedSchedule(ctx, feed.Id, db.ScheduleUpdate{
		Status:              models.FeedPermanentError,
		ErrorMessage:        lo.ToPtr("http_client: status 404"),
		FetchedAt:           now,
		NextFetchAt:         now.Add(time.Hour),
		ConsecutiveFailures: 3,
	}))
	require.NoError(t, database.SetFeedStatus(ctx, feed.Id, models.FeedActive, &now))

	got, err := database.GetFeed(ctx, feed.Id)
	require.NoError(t, err)
	assert.Equal(t, models.FeedActive, got.Status)
	assert.Nil(t, got.ErrorMessage)
	assert.Equal(t, 0, got.ConsecutiveFailures)
	assert.WithinDuration(t, now, *got.NextFetchAt, time.Millisecond)

	assert.ErrorIs(t, database.SetFeedStatus(ctx, 999, models.FeedActive, nil), models.ErrNotFound)
}

func TestInsertArticle(t *testing.T) {
	database := dbtest.New(t)
	ctx := context.Background()
	feed := createFeed(t, database, "https://example.com/feed", nil)
	published := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	article := &models.Article{FeedID: feed.Id, Title: "A", Url: "https://example.com/a", PublishedAt: &published}
	inserted, err := database.InsertArticle(ctx, article)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NotZero(t, article.Id)

	again := &models.Article{FeedID: feed.Id, Title: "B", Url: "https://example.com/a"}
	inserted, err = database.InsertArticle(ctx, again)
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := database.FindArticleByURL(ctx, "https://example.com/a")
	require.NoError(t, err)
	assert.Equal(t, "A", got.Title)
	assert.Equal(t, models.Unread, got.ReadStatus)
	assert.False(t, got.IsFavorited)
	assert.Equal(t, published, *got.PublishedAt)

	_, err = database.FindArticleByURL(ctx, "https://example.com/missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAttachTagIsIdempotent(t *testing.T) {
	database := dbtest.New(t)
	ctx := context.Background()
	feed := createFeed(t, database, "https://example.com/feed", nil)
	article := &models.Article{FeedID: feed.Id, Title: "A", Url: "https://example.com/a"}
	_, err := database.InsertArticle(ctx, article)
	require.NoError(t, err)

	require.NoError(t, database.InsertTagIgnore(ctx, models.Tag{Name: "go"}))
	require.NoError(t, database.InsertTagIgnore(ctx, models.Tag{Name: "go"}))
	require.NoError(t, database.InsertTagIgnore(ctx, models.Tag{Name: "Go"}))

	tag, err := database.FindTagByName(ctx, "go")
	require.NoError(t, err)

	attached, err := database.AttachTag(ctx, article.Id, tag.Id)
	require.NoError(t, err)
	assert.True(t, attached)
	attached, err = database.AttachTag(ctx, article.Id, tag.Id)
	require.NoError(t, err)
	assert.False(t, attached)

	tags, err := database.ArticleTags(ctx, article.Id)
	require.NoError(t, err)
	assert.Equal(t, []string{"go"}, lo.Map(tags, func(t models.Tag, _ int) string { return t.Name }))

	all, err := database.ListTags(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, database.DeleteTag(ctx, tag.Id))
	tags, err = database.ArticleTags(ctx, article.Id)
	require.NoError(t, err)
	assert.Empty(t, tags)
	assert.ErrorIs(t, database.DeleteTag(ctx, tag.Id), models.ErrNotFound)
	_, err = database.FindTag(ctx, tag.Id)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestDeleteFeedRemovesOwnedArticles(t *testing.T) {
	database := dbtest.New(t)
	ctx := context.Background()
	doomed := createFeed(t, database, "https://example.com/doomed", nil)
	kept := createFeed(t, database, "https://example.com/kept", nil)

	a := &models.Article{FeedID: doomed.Id, Title: "A", Url: "https://example.com/a"}
	b := &models.Article{FeedID: kept.Id, Title: "B", Url: "https://example.com/b"}
	for _, article := range []*models.Article{a, b} {
		_, err := database.InsertArticle(ctx, article)
		require.NoError(t, err)
	}
	require.NoError(t, database.InsertTagIgnore(ctx, models.Tag{Name: "go"}))
	tag, err := database.FindTagByName(ctx, "go")
	require.NoError(t, err)
	_, err = database.AttachTag(ctx, a.Id, tag.Id)
	require.NoError(t, err)

	require.NoError(t, database.InTx(ctx, func(tx *db.Tx) error {
		return tx.DeleteFeed(ctx, doomed.Id)
	}))

	count, err := database.CountArticles(ctx, db.ArticleFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	links, err := database.ArticleTags(ctx, a.Id)
	require.NoError(t, err)
	assert.Empty(t, links)

	assert.ErrorIs(t, database.DeleteFeed(ctx, doomed.Id), models.ErrNotFound)
}

func TestInTxRollsBack(t *testing.T) {
	database := dbtest.New(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := database.InTx(ctx, func(tx *db.Tx) error {
		require.NoError(t, tx.CreateFeed(ctx, &models.Feed{Title: "x", Url: "https://example.com/x"}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	assert.Panics(t, func() {
		_ = database.InTx(ctx, func(tx *db.Tx) error {
			require.NoError(t, tx.CreateFeed(ctx, &models.Feed{Title: "y", Url: "https://example.com/y"}))
			panic("boom")
		})
	})

	feeds, err := database.ListFeeds(ctx)
	require.NoError(t, err)
	assert.Empty(t, feeds)
}

func TestCategoryReferences(t *testing.T) {
	database := dbtest.New(t)
	ctx := context.Background()

	root := &models.Category{Name: "root"}
	require.NoError(t, database.CreateCategory(ctx, root))
	child := &models.Category{Name: "child", ParentID: &root.Id}
	require.NoError(t, database.CreateCategory(ctx, child))
	feed := createFeed(t, database, "https://example.com/feed", &child.Id)
	_, err := database.InsertArticle(ctx, &models.Article{FeedID: feed.Id, CategoryID: &child.Id, Title: "A", Url: "https://example.com/a"})
	require.NoError(t, err)

	refs, err := database.CategoryReferences(ctx, child.Id)
	require.NoError(t, err)
	assert.Equal(t, db.CategoryRefs{Children: 0, Feeds: 1, Articles: 1}, refs)

	found, err := database.FindCategory(ctx, "child", &root.Id)
	require.NoError(t, err)
	assert.Equal(t, child.Id, found.Id)
	_, err = database.FindCategory(ctx, "child", nil)
	assert.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, database.InTx(ctx, func(tx *db.Tx) error {
		if err := tx.ReassignCategory(ctx, child.Id, &root.Id); err != nil {
			return err
		}
		return tx.DeleteCategory(ctx, child.Id)
	}))

	refs, err = database.CategoryReferences(ctx, root.Id)
	require.NoError(t, err)
	assert.Equal(t, db.CategoryRefs{Children: 0, Feeds: 1, Articles: 1}, refs)
}

func TestTidy(t *testing.T) {
	database := dbtest.New(t)
	ctx := context.Background()
	feed := createFeed(t, database, "https://example.com/feed", nil)

	read := &models.Article{FeedID: feed.Id, Title: "read", Url: "https://example.com/read"}
	favorite := &models.Article{FeedID: feed.Id, Title: "fav", Url: "https://example.com/fav", IsFavorited: true}
	unread := &models.Article{FeedID: feed.Id, Title: "unread", Url: "https://example.com/unread"}
	for _, a := range []*models.Article{read, favorite, unread} {
		_, err := database.InsertArticle(ctx, a)
		require.NoError(t, err)
	}
	require.NoError(t, database.SetArticleRead(ctx, read.Id, models.Read))
	require.NoError(t, database.SetArticleRead(ctx, favorite.Id, models.Read))

	// Nothing is old enough yet
	removed, err := database.Tidy(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, removed)

	removed, err = database.Tidy(ctx, -time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	articles, err := database.ListArticles(ctx, db.ArticleFilter{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"fav", "unread"}, lo.Map(articles, func(a models.Article, _ int) string { return a.Title }))
}
