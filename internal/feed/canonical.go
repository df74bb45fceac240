package feed

import "regexp"

var hostRe = regexp.MustCompile(`^(https?://[^/]+)`)

// fixRelativeURLs rewrites the feed's links against the URL the document
// was fetched from. Feeds in the wild emit empty links, bare slashes,
// protocol-relative and host-relative links; Telegram rejects all of
// them, so they are made absolute here.
func fixRelativeURLs(f *Feed, fetchURL string) {
	m := hostRe.FindStringSubmatch(fetchURL)
	if m == nil {
		return
	}
	host := m[1]
	f.Link = absolute(f.Link, host)
	for i := range f.Items {
		f.Items[i].Link = absolute(f.Items[i].Link, host)
	}
}

func absolute(link, host string) string {
	switch {
	case link == "" || link == "/":
		return host
	case len(link) >= 2 && link[0] == '/' && link[1] == '/':
		return "http:" + link
	case link[0] == '/':
		return host + link
	default:
		return link
	}
}
