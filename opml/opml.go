// Package opml reads and writes subscription lists in OPML 2.0
package opml

import (
	"encoding/xml"
	"fmt"
	"io"
	"panda/models"
	"sort"
	"strings"
	"time"
)

type OPML struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    Head     `xml:"head"`
	Body    Body     `xml:"body"`
}

type Head struct {
	Title       string `xml:"title,omitempty"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

type Body struct {
	Outlines []Outline `xml:"outline"`
}

// Outline is either a folder (no xmlUrl, nested outlines) or a feed
type Outline struct {
	Text     string    `xml:"text,attr"`
	Title    string    `xml:"title,attr,omitempty"`
	Type     string    `xml:"type,attr,omitempty"`
	XMLURL   string    `xml:"xmlUrl,attr,omitempty"`
	HTMLURL  string    `xml:"htmlUrl,attr,omitempty"`
	Outlines []Outline `xml:"outline,omitempty"`
}

// Entry is a feed outline together with the folders enclosing it
type Entry struct {
	Path    []string
	Title   string
	URL     string
	SiteURL string
}

// Parse reads an OPML document into a flat list of feeds
func Parse(r io.Reader) ([]Entry, error) {
	var doc OPML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: decode opml: %w", models.ErrParse, err)
	}

	var entries []Entry
	var walk func(outlines []Outline, path []string)
	walk = func(outlines []Outline, path []string) {
		for _, o := range outlines {
			if url := strings.TrimSpace(o.XMLURL); url != "" {
				title := o.Title
				if title == "" {
					title = o.Text
				}
				entries = append(entries, Entry{
					Path:    append([]string{}, path...),
					Title:   strings.TrimSpace(title),
					URL:     url,
					SiteURL: strings.TrimSpace(o.HTMLURL),
				})
				continue
			}
			name := o.Text
			if name == "" {
				name = o.Title
			}
			walk(o.Outlines, append(path[:len(path):len(path)], strings.TrimSpace(name)))
		}
	}
	walk(doc.Body.Outlines, nil)
	return entries, nil
}

// Export writes feeds into a document where categories become nested folders.
// Empty categories are kept so the tree survives a round trip.
func Export(w io.Writer, title string, categories []models.Category, feeds []models.Feed) error {
	children := make(map[int64][]models.Category)
	var roots []models.Category
	known := make(map[int64]bool, len(categories))
	for _, c := range categories {
		known[c.Id] = true
	}
	for _, c := range categories {
		if c.ParentID == nil || !known[*c.ParentID] {
			roots = append(roots, c)
			continue
		}
		children[*c.ParentID] = append(children[*c.ParentID], c)
	}

	byCategory := make(map[int64][]models.Feed)
	var looseFeeds []models.Feed
	for _, f := range feeds {
		if f.CategoryID == nil || !known[*f.CategoryID] {
			looseFeeds = append(looseFeeds, f)
			continue
		}
		byCategory[*f.CategoryID] = append(byCategory[*f.CategoryID], f)
	}

	var folder func(c models.Category) Outline
	folder = func(c models.Category) Outline {
		o := Outline{Text: c.Name, Title: c.Name}
		for _, child := range sortCategories(children[c.Id]) {
			o.Outlines = append(o.Outlines, folder(child))
		}
		for _, f := range byCategory[c.Id] {
			o.Outlines = append(o.Outlines, feedOutline(f))
		}
		return o
	}

	doc := OPML{
		Version: "2.0",
		Head:    Head{Title: title, DateCreated: time.Now().UTC().Format(time.RFC1123Z)},
	}
	for _, c := range sortCategories(roots) {
		doc.Body.Outlines = append(doc.Body.Outlines, folder(c))
	}
	for _, f := range looseFeeds {
		doc.Body.Outlines = append(doc.Body.Outlines, feedOutline(f))
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode opml: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func feedOutline(f models.Feed) Outline {
	o := Outline{Text: f.Title, Title: f.Title, Type: "rss", XMLURL: f.Url}
	if f.SiteUrl != nil {
		o.HTMLURL = *f.SiteUrl
	}
	return o
}

func sortCategories(categories []models.Category) []models.Category {
	sort.SliceStable(categories, func(i, j int) bool {
		return categories[i].Name < categories[j].Name
	})
	return categories
}
