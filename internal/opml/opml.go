// Package opml renders a subscriber's feed list as an OPML 2.0 document
// for the /export command.
package opml

import (
	"encoding/xml"
	"fmt"
	"time"

	"rssbot/internal/store"
)

type document struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    head     `xml:"head"`
	Body    body     `xml:"body"`
}

type head struct {
	Title       string `xml:"title"`
	DateCreated string `xml:"dateCreated"`
	Docs        string `xml:"docs"`
}

type body struct {
	Outlines []outline `xml:"outline"`
}

type outline struct {
	Type   string `xml:"type,attr"`
	Text   string `xml:"text,attr"`
	XMLURL string `xml:"xmlUrl,attr"`
}

// Export renders the given feeds as OPML 2.0.
func Export(feeds []store.Feed, now time.Time) ([]byte, error) {
	doc := document{
		Version: "2.0",
		Head: head{
			Title:       "Exported from RSSBot",
			DateCreated: now.Format("Mon, 02 Jan 2006 15:04:05 MST"),
			Docs:        "http://www.opml.org/spec2",
		},
	}
	for _, f := range feeds {
		doc.Body.Outlines = append(doc.Body.Outlines, outline{
			Type:   "rss",
			Text:   f.Title,
			XMLURL: f.Link,
		})
	}
	data, err := xml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("export opml: %w", err)
	}
	return append([]byte(xml.Header), data...), nil
}
