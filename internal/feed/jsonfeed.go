package feed

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"strings"
)

// jsonFeed mirrors the subset of the JSON Feed format
// (https://www.jsonfeed.org/version/1.1/) the bot consumes. Unknown
// fields are ignored by the decoder.
type jsonFeed struct {
	Title       string     `json:"title"`
	HomePageURL string     `json:"home_page_url"`
	FeedURL     string     `json:"feed_url"`
	Items       []jsonItem `json:"items"`
}

type jsonItem struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	ID    string `json:"id"`
}

func parseJSONFeed(r io.Reader) (*Feed, error) {
	var jf jsonFeed
	if err := json.NewDecoder(r).Decode(&jf); err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	f := &Feed{
		Title:  jf.Title,
		Link:   jf.HomePageURL,
		Source: jf.FeedURL,
		Items:  make([]Item, 0, len(jf.Items)),
	}
	for _, it := range jf.Items {
		f.Items = append(f.Items, Item{Title: it.Title, Link: it.URL, ID: it.ID})
	}
	return f, nil
}

func mediaTypeIsJSON(contentType string) bool {
	if contentType == "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(strings.TrimSpace(contentType))
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}
