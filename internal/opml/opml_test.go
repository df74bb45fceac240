package opml

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rssbot/internal/store"
)

func TestExport(t *testing.T) {
	now := time.Date(2017, time.November, 2, 18, 8, 24, 0, time.UTC)
	feeds := []store.Feed{
		{Title: "title1", Link: "https://example.com/feed1"},
		{Title: "title2", Link: "https://example.com/feed2"},
	}

	got, err := Export(feeds, now)
	require.NoError(t, err)

	want := `<?xml version="1.0" encoding="UTF-8"?>
<opml version="2.0"><head><title>Exported from RSSBot</title><dateCreated>Thu, 02 Nov 2017 18:08:24 UTC</dateCreated><docs>http://www.opml.org/spec2</docs></head><body><outline type="rss" text="title1" xmlUrl="https://example.com/feed1"></outline><outline type="rss" text="title2" xmlUrl="https://example.com/feed2"></outline></body></opml>`
	assert.Equal(t, want, string(got))
}

func TestExportEmpty(t *testing.T) {
	got, err := Export(nil, time.Now())
	require.NoError(t, err)
	assert.Contains(t, string(got), "<body></body>")
}

func TestExportEscapesAttributes(t *testing.T) {
	got, err := Export([]store.Feed{{Title: `a "quoted" <title>`, Link: "https://example.com/?a=1&b=2"}}, time.Now())
	require.NoError(t, err)
	assert.Contains(t, string(got), "&#34;quoted&#34;")
	assert.Contains(t, string(got), "a=1&amp;b=2")
}
