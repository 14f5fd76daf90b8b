// Package parser turns raw RSS, Atom and JSON Feed documents into candidate entries
package parser

import (
	"bytes"
	"fmt"
	"net/url"
	"panda/models"
	"strings"

	"github.com/mmcdole/gofeed"
	"github.com/samber/lo"
)

// Parse converts a feed document into candidate entries. A document that
// cannot be parsed yields ErrParse and no entries at all.
func Parse(body []byte, contentType string) ([]models.CandidateEntry, error) {
	if gofeed.DetectFeedType(bytes.NewReader(body)) == gofeed.FeedTypeUnknown {
		return nil, fmt.Errorf("%w: unrecognised feed format (content type %q)", models.ErrParse, contentType)
	}

	// gofeed parsers keep per document state, so each call gets its own
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrParse, err)
	}

	entries := make([]models.CandidateEntry, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		entries = append(entries, entry(item))
	}
	return entries, nil
}

func entry(item *gofeed.Item) models.CandidateEntry {
	e := models.CandidateEntry{
		Title:        strings.TrimSpace(item.Title),
		Url:          link(item),
		DeclaredTags: tags(item.Categories),
	}

	if item.Author != nil && item.Author.Name != "" {
		e.Author = lo.ToPtr(item.Author.Name)
	} else if len(item.Authors) > 0 && item.Authors[0] != nil && item.Authors[0].Name != "" {
		e.Author = lo.ToPtr(item.Authors[0].Name)
	}

	// Prefer Content over Description, keeping Description as the summary
	content := strings.TrimSpace(item.Content)
	description := strings.TrimSpace(item.Description)
	switch {
	case content != "":
		e.Content = &content
		if description != "" {
			e.Summary = &description
		}
	case description != "":
		e.Content = &description
	}

	if item.PublishedParsed != nil {
		published := item.PublishedParsed.UTC()
		e.PublishedAt = &published
	} else if item.UpdatedParsed != nil {
		updated := item.UpdatedParsed.UTC()
		e.PublishedAt = &updated
	}
	return e
}

// link falls back to the GUID when it is itself an absolute web URL
func link(item *gofeed.Item) string {
	if l := strings.TrimSpace(item.Link); l != "" {
		return l
	}
	for _, l := range item.Links {
		if l = strings.TrimSpace(l); l != "" {
			return l
		}
	}
	guid := strings.TrimSpace(item.GUID)
	if u, err := url.Parse(guid); err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" {
		return guid
	}
	return ""
}

func tags(categories []string) []string {
	trimmed := lo.Map(categories, func(c string, _ int) string { return strings.TrimSpace(c) })
	return lo.Uniq(lo.Compact(trimmed))
}
