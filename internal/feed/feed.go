// Package feed normalises RSS (0.9 through 2.0), Atom (0.3/1.0) and JSON
// Feed documents into one canonical shape. The XML path is a streaming pull
// parser that only looks at the handful of elements the bot cares about;
// everything else is skipped without being decoded.
package feed

import (
	"strings"
)

// Feed is the canonical result of parsing any supported format.
type Feed struct {
	// Title is the feed-level title.
	Title string
	// Link is the site home page.
	Link string
	// Source is the feed's self-declared URL (atom rel="self" or
	// JSON Feed feed_url). Empty when the feed does not declare one.
	Source string
	// TTL is the feed-declared polling interval in minutes, either
	// explicit (<ttl>) or derived from the syndication module. Nil when
	// the feed declares neither.
	TTL *uint32
	// Items are the entries in document order.
	Items []Item
}

// Item is a single feed entry. All fields are optional; an empty string
// means the feed did not provide the field.
type Item struct {
	Title string
	Link  string
	ID    string
}

// atomRel classifies an Atom <link> by its rel attribute. The RSS text
// form collapses to relAlternate.
type atomRel int

const (
	relAlternate atomRel = iota
	relSource
	relHub
	relOther
)

func classifyRel(rel string) atomRel {
	switch rel {
	case "", "alternate":
		return relAlternate
	case "self":
		return relSource
	case "hub":
		return relHub
	default:
		return relOther
	}
}

// IsJSONFeed reports whether the document at url with the given
// Content-Type header should be decoded as JSON Feed rather than XML.
// The media type check is parameter-aware and tolerates case and
// surrounding whitespace.
func IsJSONFeed(url, contentType string) bool {
	if strings.HasSuffix(strings.ToLower(url), ".json") {
		return true
	}
	return mediaTypeIsJSON(contentType)
}
