// Package merge reconciles parsed entries with stored articles
package merge

import (
	"context"
	"errors"
	"fmt"
	"panda/canonical"
	"panda/db"
	"panda/models"
	"panda/resolver"
	"time"

	log "github.com/sirupsen/logrus"
)

type Engine struct {
	db       *db.DB
	resolver *resolver.Resolver
	canon    *canonical.Canonicalizer
	locks    keyedMutex
}

func New(database *db.DB, r *resolver.Resolver, canon *canonical.Canonicalizer) *Engine {
	if canon == nil {
		canon = canonical.New()
	}
	return &Engine{db: database, resolver: r, canon: canon}
}

// Merge applies one entry for feed. The article write, tag resolution and
// tag links commit together in one transaction.
func (e *Engine) Merge(ctx context.Context, feed models.Feed, entry models.CandidateEntry) (models.MergeDecision, error) {
	url, err := e.canon.URL(entry.Url)
	if err != nil {
		return "", err
	}

	unlock := e.locks.Lock(url)
	defer unlock()

	var (
		decision models.MergeDecision
		resolved []models.Tag
	)
	apply := func(tx *db.Tx) error {
		resolved = nil
		article, d, err := e.upsert(ctx, tx, feed, url, entry)
		if err != nil {
			return err
		}
		decision = d
		if decision == models.MergeForeign {
			return nil
		}

		for _, name := range entry.DeclaredTags {
			tag, err := e.resolver.ResolveOrCreateTag(ctx, tx, name)
			if err != nil {
				return err
			}
			if _, err := tx.AttachTag(ctx, article.Id, tag.Id); err != nil {
				return err
			}
			resolved = append(resolved, tag)
		}
		return nil
	}
	err = e.db.InTx(ctx, apply)
	if errors.Is(err, models.ErrIntegrity) && len(entry.DeclaredTags) > 0 {
		// A cached tag may have been deleted since it was resolved
		e.resolver.Forget(entry.DeclaredTags...)
		err = e.db.InTx(ctx, apply)
	}
	if err != nil {
		return "", err
	}
	e.resolver.Remember(resolved...)

	log.WithFields(log.Fields{
		"feed_id":  feed.Id,
		"url":      url,
		"decision": decision,
		"tags":     len(resolved),
	}).Debug("Merged entry")
	return decision, nil
}

func (e *Engine) upsert(ctx context.Context, tx *db.Tx, feed models.Feed, url string, entry models.CandidateEntry) (*models.Article, models.MergeDecision, error) {
	existing, err := tx.FindArticleByURL(ctx, url)
	switch {
	case errors.Is(err, models.ErrNotFound):
		article := &models.Article{
			FeedID:      feed.Id,
			CategoryID:  feed.CategoryID,
			Title:       title(entry, url),
			Url:         url,
			Author:      entry.Author,
			Content:     entry.Content,
			Summary:     entry.Summary,
			PublishedAt: entry.PublishedAt,
			ReadStatus:  models.Unread,
		}
		inserted, err := tx.InsertArticle(ctx, article)
		if err != nil {
			return nil, "", err
		}
		if inserted {
			return article, models.MergeInserted, nil
		}
		// Another writer outside this process got there first
		if existing, err = tx.FindArticleByURL(ctx, url); err != nil {
			return nil, "", err
		}
	case err != nil:
		return nil, "", err
	}

	if existing.FeedID != feed.Id {
		return existing, models.MergeForeign, nil
	}
	if !shouldRefresh(existing, entry, url) {
		return existing, models.MergeSkipped, nil
	}

	if err := tx.UpdateArticleContent(ctx, existing.Id, db.ArticleContent{
		Title:       title(entry, url),
		Author:      entry.Author,
		Content:     entry.Content,
		Summary:     entry.Summary,
		PublishedAt: entry.PublishedAt,
	}); err != nil {
		return nil, "", err
	}
	return existing, models.MergeUpdated, nil
}

// shouldRefresh decides whether a re-seen entry replaces the stored content.
// With a timestamp the entry must be newer than the stored updated_at, without
// one any content difference wins.
func shouldRefresh(existing *models.Article, entry models.CandidateEntry, url string) bool {
	if !differs(existing, entry, url) {
		return false
	}
	if entry.PublishedAt == nil {
		return true
	}
	return entry.PublishedAt.After(existing.UpdatedAt)
}

func differs(existing *models.Article, entry models.CandidateEntry, url string) bool {
	return existing.Title != title(entry, url) ||
		!equalPtr(existing.Author, entry.Author) ||
		!equalPtr(existing.Content, entry.Content) ||
		!equalPtr(existing.Summary, entry.Summary)
}

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// title falls back to the url so that untitled entries stay recognisable
func title(entry models.CandidateEntry, url string) string {
	if entry.Title != "" {
		return entry.Title
	}
	return url
}

// MergeAll merges entries in order. Entries without a usable URL are counted
// as invalid and skipped. Any other error stops the batch, the feed is then
// retried on its next attempt and already merged entries re-apply idempotently.
func (e *Engine) MergeAll(ctx context.Context, feed models.Feed, entries []models.CandidateEntry) (models.MergeStats, error) {
	var stats models.MergeStats
	started := time.Now()

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		decision, err := e.Merge(ctx, feed, entry)
		if errors.Is(err, models.ErrInvalid) {
			stats.Invalid++
			log.WithFields(log.Fields{
				"feed_id": feed.Id,
				"url":     entry.Url,
			}).Debugf("Skipping entry: %v", err)
			continue
		}
		if err != nil {
			return stats, fmt.Errorf("merge %s: %w", entry.Url, err)
		}
		stats.Add(decision)
	}

	log.WithFields(log.Fields{
		"feed_id":  feed.Id,
		"inserted": stats.Inserted,
		"updated":  stats.Updated,
		"skipped":  stats.Skipped,
		"foreign":  stats.Foreign,
		"invalid":  stats.Invalid,
		"took":     time.Since(started),
	}).Info("Merged feed entries")
	return stats, nil
}
