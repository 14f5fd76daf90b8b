package parser_test

import (
	"panda/models"
	"panda/parser"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rssDoc = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Example</title>
    <link>https://ex.com/</link>
    <item>
      <title> First post </title>
      <link>https://ex.com/a?utm_source=rss</link>
      <description>Short summary</description>
      <author>alice@ex.com (Alice)</author>
      <category>go</category>
      <category> go </category>
      <category>news</category>
      <category>  </category>
      <pubDate>Wed, 01 May 2024 12:00:00 GMT</pubDate>
    </item>
    <item>
      <title>No link</title>
      <guid isPermaLink="true">https://ex.com/b</guid>
    </item>
    <item>
      <title>Opaque guid</title>
      <guid isPermaLink="false">tag:ex.com,2024:c</guid>
    </item>
  </channel>
</rss>`

const atomDoc = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Atom example</title>
  <id>urn:uuid:1</id>
  <updated>2024-05-02T10:00:00Z</updated>
  <entry>
    <title>Atom entry</title>
    <link href="https://ex.com/atom/1"/>
    <id>urn:uuid:2</id>
    <updated>2024-05-02T10:00:00Z</updated>
    <summary>Atom summary</summary>
    <content type="html">&lt;p&gt;Full text&lt;/p&gt;</content>
    <author><name>Bob</name></author>
  </entry>
</feed>`

const jsonDoc = `{
  "version": "https://jsonfeed.org/version/1.1",
  "title": "JSON example",
  "items": [
    {"id": "1", "url": "https://ex.com/json/1", "title": "JSON entry", "content_text": "Hello", "tags": ["go"]}
  ]
}`

func TestParseRSS(t *testing.T) {
	entries, err := parser.Parse([]byte(rssDoc), "application/rss+xml")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	first := entries[0]
	assert.Equal(t, "First post", first.Title)
	assert.Equal(t, "https://ex.com/a?utm_source=rss", first.Url)
	require.NotNil(t, first.Content)
	assert.Equal(t, "Short summary", *first.Content)
	assert.Nil(t, first.Summary)
	assert.Equal(t, []string{"go", "news"}, first.DeclaredTags)
	require.NotNil(t, first.PublishedAt)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), *first.PublishedAt)

	assert.Equal(t, "https://ex.com/b", entries[1].Url)
	assert.Empty(t, entries[2].Url)
}

func TestParseAtom(t *testing.T) {
	entries, err := parser.Parse([]byte(atomDoc), "application/atom+xml")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	e := entries[0]
	assert.Equal(t, "https://ex.com/atom/1", e.Url)
	require.NotNil(t, e.Content)
	assert.Equal(t, "<p>Full text</p>", *e.Content)
	require.NotNil(t, e.Summary)
	assert.Equal(t, "Atom summary", *e.Summary)
	require.NotNil(t, e.Author)
	assert.Equal(t, "Bob", *e.Author)
	require.NotNil(t, e.PublishedAt)
	assert.Equal(t, time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC), *e.PublishedAt)
}

func TestParseJSONFeed(t *testing.T) {
	entries, err := parser.Parse([]byte(jsonDoc), "application/feed+json")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "https://ex.com/json/1", entries[0].Url)
	assert.Equal(t, []string{"go"}, entries[0].DeclaredTags)
}

func TestParseMalformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "empty", body: ""},
		{name: "html page", body: "<html><body>hello</body></html>"},
		{name: "plain text", body: "not a feed at all"},
		{name: "broken json", body: `{"version": "https://jsonfeed.org/version/1", "items": [`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := parser.Parse([]byte(tt.body), "text/html")
			assert.ErrorIs(t, err, models.ErrParse)
			assert.Nil(t, entries)
		})
	}
}
