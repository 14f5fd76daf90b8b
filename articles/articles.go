// Package articles serves the reading side of the store: listing, read
// state and favorites
package articles

import (
	"context"
	"fmt"
	"panda/db"
	"panda/models"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

type Store struct {
	db *db.DB
}

func New(database *db.DB) *Store {
	return &Store{db: database}
}

// Page is one slice of a filtered listing together with the size of the
// whole result
type Page struct {
	Articles []models.Article `json:"articles"`
	Total    int              `json:"total"`
	Limit    int              `json:"limit"`
	Offset   int              `json:"offset"`
}

// Detail is an article with its tags
type Detail struct {
	models.Article
	Tags []models.Tag `json:"tags"`
}

// List returns articles matching filter newest first. A missing limit
// means DefaultLimit, larger limits are capped at MaxLimit.
func (s *Store) List(ctx context.Context, filter db.ArticleFilter) (*Page, error) {
	if filter.Offset < 0 {
		return nil, fmt.Errorf("%w: offset must not be negative", models.ErrInvalid)
	}
	if filter.ReadStatus != nil && !filter.ReadStatus.Valid() {
		return nil, fmt.Errorf("%w: unknown read status %q", models.ErrInvalid, *filter.ReadStatus)
	}
	switch {
	case filter.Limit <= 0:
		filter.Limit = DefaultLimit
	case filter.Limit > MaxLimit:
		filter.Limit = MaxLimit
	}

	list, err := s.db.ListArticles(ctx, filter)
	if err != nil {
		return nil, err
	}
	total, err := s.db.CountArticles(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &Page{Articles: list, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

func (s *Store) Get(ctx context.Context, id int64) (*Detail, error) {
	article, err := s.db.FindArticle(ctx, id)
	if err != nil {
		return nil, err
	}
	tags, err := s.db.ArticleTags(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Detail{Article: *article, Tags: tags}, nil
}

func (s *Store) SetRead(ctx context.Context, id int64, status models.ReadStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown read status %q", models.ErrInvalid, status)
	}
	if err := s.db.SetArticleRead(ctx, id, status); err != nil {
		return err
	}
	log.WithFields(log.Fields{"article_id": id, "status": status}).Debug("Set read status")
	return nil
}

func (s *Store) SetFavorited(ctx context.Context, id int64, favorited bool) error {
	if err := s.db.SetArticleFavorited(ctx, id, favorited); err != nil {
		return err
	}
	log.WithFields(log.Fields{"article_id": id, "favorited": favorited}).Debug("Set favorite")
	return nil
}
