// Package registry is the durable view of subscribed feeds and their scheduling state
package registry

import (
	"context"
	"errors"
	"fmt"
	"panda/canonical"
	"panda/db"
	"panda/models"
	"strings"
	"time"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

type Registry struct {
	db    *db.DB
	canon *canonical.Canonicalizer
	now   func() time.Time
}

func New(database *db.DB, canon *canonical.Canonicalizer) *Registry {
	if canon == nil {
		canon = canonical.New()
	}
	return &Registry{db: database, canon: canon, now: time.Now}
}

// AddOptions carries the optional fields of a new subscription
type AddOptions struct {
	Title           string
	CategoryID      *int64
	SiteUrl         *string
	RefreshInterval *time.Duration
}

// AddFeed subscribes to url. The url is canonicalized first so that two
// spellings of one feed collide with ErrAlreadyExists.
func (r *Registry) AddFeed(ctx context.Context, rawURL string, opts AddOptions) (*models.Feed, error) {
	url, err := r.canon.URL(rawURL)
	if err != nil {
		return nil, err
	}
	if opts.RefreshInterval != nil && *opts.RefreshInterval <= 0 {
		return nil, fmt.Errorf("%w: refresh interval must be positive", models.ErrInvalid)
	}

	title := strings.TrimSpace(opts.Title)
	if title == "" {
		title = url
	}
	feed := &models.Feed{
		Title:           title,
		Url:             url,
		CategoryID:      opts.CategoryID,
		SiteUrl:         opts.SiteUrl,
		Status:          models.FeedActive,
		RefreshInterval: opts.RefreshInterval,
	}

	err = r.db.InTx(ctx, func(tx *db.Tx) error {
		if opts.CategoryID != nil {
			if _, err := tx.GetCategory(ctx, *opts.CategoryID); err != nil {
				if errors.Is(err, models.ErrNotFound) {
					return fmt.Errorf("%w: category %d does not exist", models.ErrIntegrity, *opts.CategoryID)
				}
				return err
			}
		}
		return tx.CreateFeed(ctx, feed)
	})
	if err != nil {
		return nil, fmt.Errorf("add feed %s: %w", url, err)
	}

	log.WithFields(log.Fields{
		"feed_id":     feed.Id,
		"url":         feed.Url,
		"category_id": feed.CategoryID,
	}).Info("Added feed")
	return feed, nil
}

// RemoveFeed deletes a feed together with the articles it owns and their tag links
func (r *Registry) RemoveFeed(ctx context.Context, id int64) error {
	err := r.db.InTx(ctx, func(tx *db.Tx) error {
		return tx.DeleteFeed(ctx, id)
	})
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"feed_id": id}).Info("Removed feed")
	return nil
}

// SetStatus pauses or resumes a feed. Activating also resets a feed stuck in
// permanent_error and makes it due right away.
func (r *Registry) SetStatus(ctx context.Context, id int64, status models.FeedStatus) error {
	var next *time.Time
	switch status {
	case models.FeedActive:
		now := r.now()
		next = &now
	case models.FeedDisabled:
	default:
		return fmt.Errorf("%w: status %q can only be set by the scheduler", models.ErrInvalid, status)
	}

	if err := r.db.SetFeedStatus(ctx, id, status, next); err != nil {
		return err
	}
	log.WithFields(log.Fields{"feed_id": id, "status": status}).Info("Changed feed status")
	return nil
}

// SetCategory moves a feed. Articles already stored keep their category.
func (r *Registry) SetCategory(ctx context.Context, id int64, categoryID *int64) error {
	return r.db.InTx(ctx, func(tx *db.Tx) error {
		if categoryID != nil {
			if _, err := tx.GetCategory(ctx, *categoryID); err != nil {
				if errors.Is(err, models.ErrNotFound) {
					return fmt.Errorf("%w: category %d does not exist", models.ErrIntegrity, *categoryID)
				}
				return err
			}
		}
		return tx.SetFeedCategory(ctx, id, categoryID)
	})
}

func (r *Registry) Get(ctx context.Context, id int64) (*models.Feed, error) {
	return r.db.GetFeed(ctx, id)
}

func (r *Registry) List(ctx context.Context) ([]models.Feed, error) {
	return r.db.ListFeeds(ctx)
}

// DueFeeds returns feeds due at now, oldest due first. Disabled and
// permanently failed feeds are never due.
func (r *Registry) DueFeeds(ctx context.Context, now time.Time) ([]models.Feed, error) {
	return r.db.DueFeeds(ctx, now)
}

// Validators are the conditional request headers to store after a fetch
type Validators struct {
	ETag         string
	LastModified string
}

// RecordSuccess marks a fetch as successful and schedules the next one
func (r *Registry) RecordSuccess(ctx context.Context, feed models.Feed, fetchedAt time.Time, nextInterval time.Duration, validators *Validators) error {
	update := db.ScheduleUpdate{
		Status:      models.FeedActive,
		FetchedAt:   fetchedAt,
		NextFetchAt: fetchedAt.Add(nextInterval),
	}
	if validators != nil {
		update.ETag = &validators.ETag
		update.LastModified = &validators.LastModified
	}
	return r.db.UpdateFeedSchedule(ctx, feed.Id, update)
}

// RecordFailure stores the error and still pushes next_fetch_at forward so
// failing feeds are not retried in a tight loop
func (r *Registry) RecordFailure(ctx context.Context, feed models.Feed, fetchedAt time.Time, cause error, nextInterval time.Duration, failures int) error {
	status := models.FeedError
	if models.IsPermanent(cause) {
		status = models.FeedPermanentError
	}
	message := lo.Substring(cause.Error(), 0, 500)
	return r.db.UpdateFeedSchedule(ctx, feed.Id, db.ScheduleUpdate{
		Status:              status,
		ErrorMessage:        &message,
		FetchedAt:           fetchedAt,
		NextFetchAt:         fetchedAt.Add(nextInterval),
		ConsecutiveFailures: failures,
	})
}
