package resolver

import (
	"context"
	"fmt"
	"panda/db"
	"panda/models"

	log "github.com/sirupsen/logrus"
)

// ResolveOrCreateTag returns the tag with exactly this name, creating it when
// missing. Concurrent creators converge on the single row the unique name allows.
func (r *Resolver) ResolveOrCreateTag(ctx context.Context, tx *db.Tx, name string) (models.Tag, error) {
	if name == "" {
		return models.Tag{}, fmt.Errorf("%w: tag name is empty", models.ErrInvalid)
	}
	if tag, ok := r.tags.Get(name); ok {
		return tag, nil
	}

	if err := tx.InsertTagIgnore(ctx, models.Tag{Name: name}); err != nil {
		return models.Tag{}, err
	}
	tag, err := tx.FindTagByName(ctx, name)
	if err != nil {
		return models.Tag{}, err
	}
	return *tag, nil
}

// Remember caches tags once the transaction that resolved them has committed
func (r *Resolver) Remember(tags ...models.Tag) {
	for _, tag := range tags {
		r.tags.Add(tag.Name, tag)
	}
}

// Forget drops names from the tag cache so the next lookup reads the store
func (r *Resolver) Forget(names ...string) {
	for _, name := range names {
		r.tags.Remove(name)
	}
}

func (r *Resolver) ListTags(ctx context.Context) ([]models.Tag, error) {
	return r.db.ListTags(ctx)
}

// DeleteTag removes a tag and unlinks it from every article
func (r *Resolver) DeleteTag(ctx context.Context, id int64) (*models.Tag, error) {
	tag, err := r.db.FindTag(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.db.DeleteTag(ctx, id); err != nil {
		return nil, err
	}
	r.tags.Remove(tag.Name)
	log.WithFields(log.Fields{"tag_id": id, "name": tag.Name}).Info("Deleted tag")
	return tag, nil
}
