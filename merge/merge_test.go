package merge_test

import (
	"context"
	"panda/canonical"
	"panda/db"
	"panda/db/dbtest"
	"panda/merge"
	"panda/models"
	"panda/resolver"
	"sync"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	db     *db.DB
	engine *merge.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	database := dbtest.New(t)
	r, err := resolver.New(database, resolver.PolicyReject, 16)
	require.NoError(t, err)
	return &fixture{db: database, engine: merge.New(database, r, canonical.New())}
}

func (f *fixture) feed(t *testing.T, url string, categoryID *int64) models.Feed {
	t.Helper()
	feed := &models.Feed{Title: url, Url: url, CategoryID: categoryID}
	require.NoError(t, f.db.CreateFeed(context.Background(), feed))
	return *feed
}

func (f *fixture) counts(t *testing.T) (articles, links int) {
	t.Helper()
	ctx := context.Background()
	list, err := f.db.ListArticles(ctx, db.ArticleFilter{})
	require.NoError(t, err)
	for _, article := range list {
		tags, err := f.db.ArticleTags(ctx, article.Id)
		require.NoError(t, err)
		links += len(tags)
	}
	return len(list), links
}

func TestMergeIntoEmptyStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	category := &models.Category{Name: "tech"}
	require.NoError(t, f.db.CreateCategory(ctx, category))
	feed := f.feed(t, "https://ex.com/feed", &category.Id)

	decision, err := f.engine.Merge(ctx, feed, models.CandidateEntry{
		Url:          "https://ex.com/a",
		Title:        "A",
		DeclaredTags: []string{"go"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.MergeInserted, decision)

	article, err := f.db.FindArticleByURL(ctx, "https://ex.com/a")
	require.NoError(t, err)
	assert.Equal(t, "A", article.Title)
	assert.Equal(t, feed.Id, article.FeedID)
	assert.Equal(t, category.Id, *article.CategoryID)
	assert.Equal(t, models.Unread, article.ReadStatus)
	assert.False(t, article.IsFavorited)

	tags, err := f.db.ArticleTags(ctx, article.Id)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, "go", tags[0].Name)

	articles, links := f.counts(t)
	assert.Equal(t, 1, articles)
	assert.Equal(t, 1, links)
}

func TestMergeIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	feed := f.feed(t, "https://ex.com/feed", nil)
	entry := models.CandidateEntry{
		Url:          "https://ex.com/a?utm_source=rss",
		Title:        "A",
		Content:      lo.ToPtr("body"),
		DeclaredTags: []string{"go", "news"},
	}

	first, err := f.engine.Merge(ctx, feed, entry)
	require.NoError(t, err)
	assert.Equal(t, models.MergeInserted, first)

	for i := 0; i < 3; i++ {
		decision, err := f.engine.Merge(ctx, feed, entry)
		require.NoError(t, err)
		assert.Equal(t, models.MergeSkipped, decision)
	}

	articles, links := f.counts(t)
	assert.Equal(t, 1, articles)
	assert.Equal(t, 2, links)
}

func TestMergeCanonicalizesURL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	feed := f.feed(t, "https://ex.com/feed", nil)

	_, err := f.engine.Merge(ctx, feed, models.CandidateEntry{Url: "HTTPS://EX.com/a#top", Title: "A"})
	require.NoError(t, err)
	decision, err := f.engine.Merge(ctx, feed, models.CandidateEntry{Url: "https://ex.com/a?fbclid=1", Title: "A"})
	require.NoError(t, err)
	assert.Equal(t, models.MergeSkipped, decision)

	_, err = f.db.FindArticleByURL(ctx, "https://ex.com/a")
	assert.NoError(t, err)
}

func TestMergeUpdates(t *testing.T) {
	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	future := time.Now().Add(time.Hour).UTC()
	twoHoursAgo := time.Now().Add(-2 * time.Hour).UTC()
	oneHourAgo := time.Now().Add(-time.Hour).UTC()

	tests := []struct {
		name      string
		stored    models.CandidateEntry
		incoming  models.CandidateEntry
		expected  models.MergeDecision
		wantTitle string
	}{
		{
			name:      "no timestamp and changed content refreshes",
			stored:    models.CandidateEntry{Title: "A", Content: lo.ToPtr("v1")},
			incoming:  models.CandidateEntry{Title: "A2", Content: lo.ToPtr("v2")},
			expected:  models.MergeUpdated,
			wantTitle: "A2",
		},
		{
			name:      "no timestamp and same content skips",
			stored:    models.CandidateEntry{Title: "A", Content: lo.ToPtr("v1")},
			incoming:  models.CandidateEntry{Title: "A", Content: lo.ToPtr("v1")},
			expected:  models.MergeSkipped,
			wantTitle: "A",
		},
		{
			name:      "newer timestamp refreshes",
			stored:    models.CandidateEntry{Title: "A", PublishedAt: &old},
			incoming:  models.CandidateEntry{Title: "A2", PublishedAt: &future},
			expected:  models.MergeUpdated,
			wantTitle: "A2",
		},
		{
			name:      "timestamp newer than published but older than last update skips",
			stored:    models.CandidateEntry{Title: "A", Content: lo.ToPtr("v1"), PublishedAt: &twoHoursAgo},
			incoming:  models.CandidateEntry{Title: "A2", Content: lo.ToPtr("v2"), PublishedAt: &oneHourAgo},
			expected:  models.MergeSkipped,
			wantTitle: "A",
		},
		{
			name:      "older timestamp skips even when content differs",
			stored:    models.CandidateEntry{Title: "A", PublishedAt: &old},
			incoming:  models.CandidateEntry{Title: "A2", PublishedAt: &old},
			expected:  models.MergeSkipped,
			wantTitle: "A",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			feed := f.feed(t, "https://ex.com/feed", nil)

			tt.stored.Url = "https://ex.com/a"
			tt.incoming.Url = "https://ex.com/a"
			_, err := f.engine.Merge(ctx, feed, tt.stored)
			require.NoError(t, err)

			decision, err := f.engine.Merge(ctx, feed, tt.incoming)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, decision)

			article, err := f.db.FindArticleByURL(ctx, "https://ex.com/a")
			require.NoError(t, err)
			assert.Equal(t, tt.wantTitle, article.Title)
		})
	}
}

func TestMergeForeignFeedKeepsOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.feed(t, "https://ex.com/one", nil)
	second := f.feed(t, "https://ex.com/two", nil)

	decision, err := f.engine.Merge(ctx, first, models.CandidateEntry{Url: "https://ex.com/u", Title: "original"})
	require.NoError(t, err)
	assert.Equal(t, models.MergeInserted, decision)

	decision, err = f.engine.Merge(ctx, second, models.CandidateEntry{
		Url:          "https://ex.com/u",
		Title:        "republished",
		DeclaredTags: []string{"copy"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.MergeForeign, decision)

	article, err := f.db.FindArticleByURL(ctx, "https://ex.com/u")
	require.NoError(t, err)
	assert.Equal(t, first.Id, article.FeedID)
	assert.Equal(t, "original", article.Title)

	articles, links := f.counts(t)
	assert.Equal(t, 1, articles)
	assert.Equal(t, 0, links)
}

func TestMergeConcurrentSameURL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	feeds := []models.Feed{f.feed(t, "https://ex.com/one", nil), f.feed(t, "https://ex.com/two", nil)}

	const n = 12
	decisions := make([]models.MergeDecision, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d, err := f.engine.Merge(ctx, feeds[i%2], models.CandidateEntry{
				Url:          "https://ex.com/race",
				Title:        "race",
				DeclaredTags: []string{"race"},
			})
			assert.NoError(t, err)
			decisions[i] = d
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, lo.Count(decisions, models.MergeInserted))
	assert.Equal(t, n-1, lo.CountBy(decisions, func(d models.MergeDecision) bool {
		return d == models.MergeSkipped || d == models.MergeForeign || d == models.MergeUpdated
	}))

	articles, links := f.counts(t)
	assert.Equal(t, 1, articles)
	assert.Equal(t, 1, links)
}

func TestMergeAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	feed := f.feed(t, "https://ex.com/feed", nil)

	stats, err := f.engine.MergeAll(ctx, feed, []models.CandidateEntry{
		{Url: "https://ex.com/a", Title: "A"},
		{Url: "https://ex.com/b", Title: "B"},
		{Url: "", Title: "no link"},
		{Url: "mailto:someone@ex.com", Title: "not web"},
		{Url: "https://ex.com/a", Title: "A"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.MergeStats{Inserted: 2, Skipped: 1, Invalid: 2}, stats)
}

func TestMergeAllStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	feed := f.feed(t, "https://ex.com/feed", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats, err := f.engine.MergeAll(ctx, feed, []models.CandidateEntry{{Url: "https://ex.com/a", Title: "A"}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.MergeStats{}, stats)

	articles, _ := f.counts(t)
	assert.Zero(t, articles)
}

func TestMergeUntitledEntryUsesURL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	feed := f.feed(t, "https://ex.com/feed", nil)

	_, err := f.engine.Merge(ctx, feed, models.CandidateEntry{Url: "https://ex.com/untitled"})
	require.NoError(t, err)
	article, err := f.db.FindArticleByURL(ctx, "https://ex.com/untitled")
	require.NoError(t, err)
	assert.Equal(t, "https://ex.com/untitled", article.Title)
}

func TestMergeRecoversFromDeletedCachedTag(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	feed := f.feed(t, "https://ex.com/feed", nil)

	_, err := f.engine.Merge(ctx, feed, models.CandidateEntry{Url: "https://ex.com/a", Title: "A", DeclaredTags: []string{"go"}})
	require.NoError(t, err)

	// Deleted behind the resolver's back, its cache still holds the old id
	tag, err := f.db.FindTagByName(ctx, "go")
	require.NoError(t, err)
	require.NoError(t, f.db.DeleteTag(ctx, tag.Id))

	decision, err := f.engine.Merge(ctx, feed, models.CandidateEntry{Url: "https://ex.com/b", Title: "B", DeclaredTags: []string{"go"}})
	require.NoError(t, err)
	assert.Equal(t, models.MergeInserted, decision)

	recreated, err := f.db.FindTagByName(ctx, "go")
	require.NoError(t, err)
	assert.NotEqual(t, tag.Id, recreated.Id)

	articles, links := f.counts(t)
	assert.Equal(t, 2, articles)
	assert.Equal(t, 1, links)

	// The refreshed cache entry is used from now on
	_, err = f.engine.Merge(ctx, feed, models.CandidateEntry{Url: "https://ex.com/c", Title: "C", DeclaredTags: []string{"go"}})
	require.NoError(t, err)
	_, links = f.counts(t)
	assert.Equal(t, 2, links)
}
