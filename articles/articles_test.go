package articles_test

import (
	"context"
	"fmt"
	"panda/articles"
	"panda/db"
	"panda/db/dbtest"
	"panda/models"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, database *db.DB, n int) (models.Feed, []models.Article) {
	t.Helper()
	ctx := context.Background()
	feed := &models.Feed{Title: "feed", Url: "https://ex.com/feed"}
	require.NoError(t, database.CreateFeed(ctx, feed))

	var list []models.Article
	for i := 0; i < n; i++ {
		article := &models.Article{FeedID: feed.Id, Title: fmt.Sprint("article ", i), Url: fmt.Sprint("https://ex.com/", i)}
		inserted, err := database.InsertArticle(ctx, article)
		require.NoError(t, err)
		require.True(t, inserted)
		list = append(list, *article)
	}
	return *feed, list
}

func TestListPagesAndFilters(t *testing.T) {
	database := dbtest.New(t)
	store := articles.New(database)
	ctx := context.Background()
	feed, seeded := seed(t, database, 5)

	require.NoError(t, store.SetRead(ctx, seeded[0].Id, models.Read))
	require.NoError(t, store.SetFavorited(ctx, seeded[1].Id, true))

	page, err := store.List(ctx, db.ArticleFilter{FeedID: &feed.Id, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	assert.Equal(t, 2, page.Limit)
	require.Len(t, page.Articles, 2)
	// Newest first
	assert.Equal(t, seeded[4].Id, page.Articles[0].Id)

	page, err = store.List(ctx, db.ArticleFilter{ReadStatus: lo.ToPtr(models.Unread)})
	require.NoError(t, err)
	assert.Equal(t, 4, page.Total)
	assert.Equal(t, articles.DefaultLimit, page.Limit)

	page, err = store.List(ctx, db.ArticleFilter{Favorited: lo.ToPtr(true)})
	require.NoError(t, err)
	require.Len(t, page.Articles, 1)
	assert.Equal(t, seeded[1].Id, page.Articles[0].Id)
	assert.True(t, page.Articles[0].IsFavorited)

	page, err = store.List(ctx, db.ArticleFilter{Limit: articles.MaxLimit + 1})
	require.NoError(t, err)
	assert.Equal(t, articles.MaxLimit, page.Limit)

	_, err = store.List(ctx, db.ArticleFilter{Offset: -1})
	assert.ErrorIs(t, err, models.ErrInvalid)
	_, err = store.List(ctx, db.ArticleFilter{ReadStatus: lo.ToPtr(models.ReadStatus("skimmed"))})
	assert.ErrorIs(t, err, models.ErrInvalid)
}

func TestListByTag(t *testing.T) {
	database := dbtest.New(t)
	store := articles.New(database)
	ctx := context.Background()
	_, seeded := seed(t, database, 3)

	require.NoError(t, database.InsertTagIgnore(ctx, models.Tag{Name: "go"}))
	tag, err := database.FindTagByName(ctx, "go")
	require.NoError(t, err)
	_, err = database.AttachTag(ctx, seeded[2].Id, tag.Id)
	require.NoError(t, err)

	page, err := store.List(ctx, db.ArticleFilter{TagID: &tag.Id})
	require.NoError(t, err)
	require.Len(t, page.Articles, 1)
	assert.Equal(t, seeded[2].Id, page.Articles[0].Id)

	detail, err := store.Get(ctx, seeded[2].Id)
	require.NoError(t, err)
	assert.Equal(t, seeded[2].Url, detail.Url)
	require.Len(t, detail.Tags, 1)
	assert.Equal(t, "go", detail.Tags[0].Name)
}

func TestUpdatesMissingArticle(t *testing.T) {
	store := articles.New(dbtest.New(t))
	ctx := context.Background()

	assert.ErrorIs(t, store.SetRead(ctx, 42, models.Read), models.ErrNotFound)
	assert.ErrorIs(t, store.SetFavorited(ctx, 42, true), models.ErrNotFound)
	assert.ErrorIs(t, store.SetRead(ctx, 42, "skimmed"), models.ErrInvalid)
	_, err := store.Get(ctx, 42)
	assert.ErrorIs(t, err, models.ErrNotFound)
}
