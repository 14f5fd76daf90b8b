package opml

import (
	"context"
	"errors"
	"panda/models"
	"panda/registry"
	"panda/resolver"

	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

type ImportResult struct {
	Added    int `json:"added"`
	Existing int `json:"existing"`
	Failed   int `json:"failed"`
}

// Import subscribes to every entry, creating folders as categories on the way.
// Feeds already subscribed are counted and left alone. Entries that fail are
// collected and the rest of the document is still imported.
func Import(ctx context.Context, res *resolver.Resolver, reg *registry.Registry, entries []Entry) (ImportResult, error) {
	var result ImportResult
	var errs *multierror.Error

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		categoryID, err := res.EnsurePath(ctx, entry.Path)
		if err != nil {
			result.Failed++
			errs = multierror.Append(errs, err)
			continue
		}

		opts := registry.AddOptions{Title: entry.Title, CategoryID: categoryID}
		if entry.SiteURL != "" {
			opts.SiteUrl = lo.ToPtr(entry.SiteURL)
		}
		_, err = reg.AddFeed(ctx, entry.URL, opts)
		switch {
		case err == nil:
			result.Added++
		case errors.Is(err, models.ErrAlreadyExists):
			result.Existing++
		default:
			result.Failed++
			errs = multierror.Append(errs, err)
		}
	}

	log.WithFields(log.Fields{
		"added":    result.Added,
		"existing": result.Existing,
		"failed":   result.Failed,
	}).Info("Imported OPML")
	return result, errs.ErrorOrNil()
}
