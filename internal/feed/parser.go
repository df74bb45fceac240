package feed

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	xpp "github.com/mmcdole/goxpp"
	"golang.org/x/net/html/charset"
)

// ErrUnexpectedEOF is returned when the stream ends before a feed element
// (rss, channel, feed or rdf:RDF) is seen.
var ErrUnexpectedEOF = errors.New("unexpected EOF while looking for feed element")

// Parse decodes the document in r into the canonical Feed shape and
// resolves relative links against url. The Content-Type header decides
// JSON Feed vs XML together with the url suffix.
//
// Unknown XML elements are skipped, not rejected; the parser does not
// validate feeds, it extracts from them.
func Parse(r io.Reader, url, contentType string) (*Feed, error) {
	var (
		f   *Feed
		err error
	)
	if IsJSONFeed(url, contentType) {
		f, err = parseJSONFeed(r)
	} else {
		f, err = parseXML(r)
	}
	if err != nil {
		return nil, err
	}
	fixRelativeURLs(f, url)
	return f, nil
}

// parseXML walks the top-level document until it finds a feed element.
// <rss> is a wrapper: the parser descends into it and keeps looking for
// <channel>. <feed> (Atom) and rdf:RDF (RSS 1.0) are parsed directly.
func parseXML(r io.Reader) (*Feed, error) {
	p := xpp.NewXMLPullParser(r, false, charset.NewReaderLabel)
	for {
		tok, err := p.Next()
		if err != nil {
			return nil, fmt.Errorf("parse feed: %w", err)
		}
		switch tok {
		case xpp.EndDocument:
			return nil, ErrUnexpectedEOF
		case xpp.StartTag:
			switch p.Name {
			case "rss":
				continue
			case "channel", "feed", "RDF":
				return parseFeedBody(p)
			default:
				if err := p.Skip(); err != nil {
					return nil, fmt.Errorf("parse feed: %w", err)
				}
			}
		}
	}
}

// parseFeedBody reads the children of a feed element until its end tag.
//
// RSS 1.0 wraps the head in a <channel> whose siblings are the items, so
// a nested channel start only raises a flag: its children are handled by
// this same loop and its end tag must not terminate the feed.
func parseFeedBody(p *xpp.XMLPullParser) (*Feed, error) {
	f := &Feed{}
	var (
		syPeriod  string
		syFreq    *uint32
		inRDFHead bool
	)
loop:
	for {
		tok, err := p.Next()
		if err != nil {
			return nil, fmt.Errorf("parse feed: %w", err)
		}
		switch tok {
		case xpp.EndDocument:
			break loop
		case xpp.EndTag:
			if inRDFHead {
				inRDFHead = false
				continue
			}
			break loop
		case xpp.StartTag:
		default:
			continue
		}
		switch p.Name {
		case "channel":
			inRDFHead = true
		case "title":
			text, err := elementText(p)
			if err != nil {
				return nil, fmt.Errorf("parse feed: %w", err)
			}
			if text != "" {
				f.Title = text
			}
		case "link":
			if err := parseFeedLink(p, f); err != nil {
				return nil, fmt.Errorf("parse feed: %w", err)
			}
		case "item", "entry":
			item, err := parseItem(p)
			if err != nil {
				return nil, fmt.Errorf("parse feed: %w", err)
			}
			f.Items = append(f.Items, item)
		case "ttl":
			text, err := elementText(p)
			if err != nil {
				return nil, fmt.Errorf("parse feed: %w", err)
			}
			if n, err := strconv.ParseUint(text, 10, 32); err == nil {
				ttl := uint32(n)
				f.TTL = &ttl
			}
		case "updatePeriod":
			text, err := elementText(p)
			if err != nil {
				return nil, fmt.Errorf("parse feed: %w", err)
			}
			syPeriod = text
		case "updateFrequency":
			text, err := elementText(p)
			if err != nil {
				return nil, fmt.Errorf("parse feed: %w", err)
			}
			if n, err := strconv.ParseUint(text, 10, 32); err == nil && n > 0 {
				freq := uint32(n)
				syFreq = &freq
			}
		default:
			if err := p.Skip(); err != nil {
				return nil, fmt.Errorf("parse feed: %w", err)
			}
		}
	}
	if f.TTL == nil {
		f.TTL = deriveTTL(syPeriod, syFreq)
	}
	return f, nil
}

// parseFeedLink handles the polymorphic <link> element at feed level.
// An href attribute marks the Atom form, where rel routes the target:
// alternate (or none) is the site home, self is the feed's own URL, hub
// and anything else are recognised but dropped. Without href the element
// is the RSS text form.
func parseFeedLink(p *xpp.XMLPullParser, f *Feed) error {
	if href := p.Attribute("href"); href != "" {
		switch classifyRel(p.Attribute("rel")) {
		case relAlternate:
			f.Link = href
		case relSource:
			f.Source = href
		}
		return p.Skip()
	}
	text, err := elementText(p)
	if err != nil {
		return err
	}
	if text != "" {
		f.Link = text
	}
	return nil
}

// parseItem reads one <item> / <entry> element. Item links only accept
// the alternate relation; self/hub links inside entries are noise.
func parseItem(p *xpp.XMLPullParser) (Item, error) {
	var item Item
	for {
		tok, err := p.Next()
		if err != nil {
			return item, err
		}
		switch tok {
		case xpp.EndTag, xpp.EndDocument:
			return item, nil
		case xpp.StartTag:
		default:
			continue
		}
		switch p.Name {
		case "title":
			text, err := elementText(p)
			if err != nil {
				return item, err
			}
			item.Title = text
		case "link":
			if href := p.Attribute("href"); href != "" {
				if classifyRel(p.Attribute("rel")) == relAlternate {
					item.Link = href
				}
				if err := p.Skip(); err != nil {
					return item, err
				}
				continue
			}
			text, err := elementText(p)
			if err != nil {
				return item, err
			}
			if text != "" {
				item.Link = text
			}
		case "id", "guid":
			text, err := elementText(p)
			if err != nil {
				return item, err
			}
			item.ID = text
		default:
			if err := p.Skip(); err != nil {
				return item, err
			}
		}
	}
}

// elementText collects the character data of the current element up to
// its end tag. Nested elements are skipped, CDATA and entity-escaped text
// arrive already decoded.
func elementText(p *xpp.XMLPullParser) (string, error) {
	var sb strings.Builder
	for {
		tok, err := p.Next()
		if err != nil {
			return "", err
		}
		switch tok {
		case xpp.StartTag:
			if err := p.Skip(); err != nil {
				return "", err
			}
		case xpp.Text:
			sb.WriteString(p.Text)
		case xpp.EndTag, xpp.EndDocument:
			return strings.TrimSpace(sb.String()), nil
		}
	}
}

// deriveTTL computes a polling interval from the syndication module
// (http://purl.org/rss/1.0/modules/syndication/) when the feed has no
// explicit <ttl>. The frequency defaults to 1.
func deriveTTL(period string, freq *uint32) *uint32 {
	var minutes uint32
	switch period {
	case "hourly":
		minutes = 60
	case "daily":
		minutes = 60 * 24
	case "weekly":
		minutes = 60 * 24 * 7
	case "monthly":
		minutes = 60 * 24 * 30
	case "yearly":
		minutes = 60 * 24 * 365
	default:
		return nil
	}
	f := uint32(1)
	if freq != nil {
		f = *freq
	}
	ttl := minutes / f
	return &ttl
}
