package db

import (
	"context"
	"panda/models"
	"time"

	sb "github.com/huandu/go-sqlbuilder"
	log "github.com/sirupsen/logrus"
)

// TidyArticles removes read articles that are not favorited and were created
// before the cutoff. Tag links go with them.
func (o ops) TidyArticles(ctx context.Context, before time.Time) (int64, error) {
	stale := sb.NewSelectBuilder()
	stale.Select("id").From("articles").Where(
		stale.Equal("read_status", string(models.Read)),
		stale.Equal("is_favorited", 0),
		stale.LessThan("created_at", formatTime(before)),
	)

	links := sb.NewDeleteBuilder()
	links.DeleteFrom("article_tags").Where(links.In("article_id", stale))
	if _, err := o.exec(ctx, links); err != nil {
		return 0, storageErr("tidy article tags", err)
	}

	articles := sb.NewDeleteBuilder()
	articles.DeleteFrom("articles").Where(articles.In("id", stale))
	res, err := o.exec(ctx, articles)
	if err != nil {
		return 0, storageErr("tidy articles", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr("tidy articles", err)
	}
	return n, nil
}

// Tidy purges read articles older than the given age in one transaction
func (db *DB) Tidy(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	log.WithFields(log.Fields{
		"cutoff": formatTime(cutoff),
	}).Info("Tidying database")

	var removed int64
	err := db.InTx(ctx, func(tx *Tx) error {
		var err error
		removed, err = tx.TidyArticles(ctx, cutoff)
		return err
	})
	if err != nil {
		return 0, err
	}

	log.WithFields(log.Fields{"removed": removed}).Info("Tidied database")
	return removed, nil
}
