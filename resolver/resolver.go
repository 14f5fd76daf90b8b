// Package resolver keeps the category tree and the tag set consistent
package resolver

import (
	"context"
	"errors"
	"fmt"
	"panda/db"
	"panda/models"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	log "github.com/sirupsen/logrus"
)

// DeletePolicy decides what happens to rows that reference a deleted category
type DeletePolicy string

const (
	// Refuse to delete a category that still has children, feeds or articles
	PolicyReject DeletePolicy = "reject"
	// Move children, feeds and articles to the deleted category's parent
	PolicyReparent DeletePolicy = "reparent"
)

func ParseDeletePolicy(s string) (DeletePolicy, error) {
	switch DeletePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case PolicyReject, "":
		return PolicyReject, nil
	case PolicyReparent:
		return PolicyReparent, nil
	}
	return "", fmt.Errorf("%w: unknown category delete policy %q", models.ErrInvalid, s)
}

const DefaultTagCacheSize = 1024

type Resolver struct {
	db     *db.DB
	policy DeletePolicy
	tags   *lru.Cache[string, models.Tag]
}

func New(database *db.DB, policy DeletePolicy, tagCacheSize int) (*Resolver, error) {
	if tagCacheSize <= 0 {
		tagCacheSize = DefaultTagCacheSize
	}
	cache, err := lru.New[string, models.Tag](tagCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create tag cache: %w", err)
	}
	if policy == "" {
		policy = PolicyReject
	}
	return &Resolver{db: database, policy: policy, tags: cache}, nil
}

func (r *Resolver) Policy() DeletePolicy {
	return r.policy
}

func (r *Resolver) ResolveCategory(ctx context.Context, id int64) (*models.Category, error) {
	return r.db.GetCategory(ctx, id)
}

func (r *Resolver) ListCategories(ctx context.Context) ([]models.Category, error) {
	return r.db.ListCategories(ctx)
}

// CreateCategory adds a category under parent, or as a root when parent is nil
func (r *Resolver) CreateCategory(ctx context.Context, name string, parent *int64) (*models.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: category name is empty", models.ErrInvalid)
	}

	category := &models.Category{Name: name, ParentID: parent}
	err := r.db.InTx(ctx, func(tx *db.Tx) error {
		if parent != nil {
			if err := requireCategory(ctx, tx, *parent); err != nil {
				return err
			}
		}
		return tx.CreateCategory(ctx, category)
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"category_id": category.Id,
		"name":        category.Name,
		"parent_id":   parent,
	}).Info("Created category")
	return category, nil
}

// EnsurePath walks a category path from the root, creating missing segments,
// and returns the id of the last one. An empty path resolves to no category.
func (r *Resolver) EnsurePath(ctx context.Context, path []string) (*int64, error) {
	var parent *int64
	created := 0
	err := r.db.InTx(ctx, func(tx *db.Tx) error {
		for _, segment := range path {
			name := strings.TrimSpace(segment)
			if name == "" {
				continue
			}
			existing, err := tx.FindCategory(ctx, name, parent)
			if err == nil {
				parent = &existing.Id
				continue
			}
			if !errors.Is(err, models.ErrNotFound) {
				return err
			}
			category := &models.Category{Name: name, ParentID: parent}
			if err := tx.CreateCategory(ctx, category); err != nil {
				return err
			}
			parent = &category.Id
			created++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("resolve category path %q: %w", strings.Join(path, "/"), err)
	}
	if created > 0 {
		log.WithFields(log.Fields{"path": strings.Join(path, "/"), "created": created}).Info("Created categories")
	}
	return parent, nil
}

func requireCategory(ctx context.Context, tx *db.Tx, id int64) error {
	if _, err := tx.GetCategory(ctx, id); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("%w: category %d does not exist", models.ErrIntegrity, id)
		}
		return err
	}
	return nil
}

// SetParent moves a category under a new parent. Moves that would make the
// category its own ancestor are rejected with ErrIntegrity.
func (r *Resolver) SetParent(ctx context.Context, id int64, parent *int64) error {
	return r.db.InTx(ctx, func(tx *db.Tx) error {
		categories, err := tx.ListCategories(ctx)
		if err != nil {
			return err
		}
		arena := make(map[int64]models.Category, len(categories))
		for _, c := range categories {
			arena[c.Id] = c
		}

		if _, ok := arena[id]; !ok {
			return fmt.Errorf("category %d: %w", id, models.ErrNotFound)
		}
		if parent != nil {
			if err := checkAncestry(arena, id, *parent); err != nil {
				return err
			}
		}
		if err := tx.SetCategoryParent(ctx, id, parent); err != nil {
			return err
		}

		log.WithFields(log.Fields{"category_id": id, "parent_id": parent}).Info("Moved category")
		return nil
	})
}

// checkAncestry walks up from parent and fails if it meets id
func checkAncestry(arena map[int64]models.Category, id, parent int64) error {
	visited := map[int64]bool{}
	for cursor := &parent; cursor != nil; {
		if *cursor == id {
			return fmt.Errorf("%w: category %d cannot be placed under its descendant %d", models.ErrIntegrity, id, parent)
		}
		if visited[*cursor] {
			return fmt.Errorf("%w: category tree already contains a cycle at %d", models.ErrIntegrity, *cursor)
		}
		visited[*cursor] = true

		c, ok := arena[*cursor]
		if !ok {
			return fmt.Errorf("%w: category %d does not exist", models.ErrIntegrity, *cursor)
		}
		cursor = c.ParentID
	}
	return nil
}

// DeleteCategory removes a category under the configured policy. References
// are handled in the same transaction as the delete.
func (r *Resolver) DeleteCategory(ctx context.Context, id int64) error {
	return r.db.InTx(ctx, func(tx *db.Tx) error {
		category, err := tx.GetCategory(ctx, id)
		if err != nil {
			return err
		}
		refs, err := tx.CategoryReferences(ctx, id)
		if err != nil {
			return err
		}

		switch r.policy {
		case PolicyReparent:
			if err := tx.ReassignCategory(ctx, id, category.ParentID); err != nil {
				return err
			}
		default:
			if !refs.Empty() {
				return fmt.Errorf("%w: category %d is referenced by %d categories, %d feeds and %d articles",
					models.ErrIntegrity, id, refs.Children, refs.Feeds, refs.Articles)
			}
		}

		if err := tx.DeleteCategory(ctx, id); err != nil {
			return err
		}
		log.WithFields(log.Fields{
			"category_id": id,
			"policy":      r.policy,
			"children":    refs.Children,
			"feeds":       refs.Feeds,
			"articles":    refs.Articles,
		}).Info("Deleted category")
		return nil
	})
}
