// Package fetcher downloads and parses feed documents over HTTP. A single
// shared client carries the bot's User-Agent, a hard timeout, a redirect
// cap and the proxy policy; every poll goes through Fetcher.Pull.
package fetcher

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"rssbot/internal/botutil"
	"rssbot/internal/feed"
)

const (
	requestTimeout = 10 * time.Second
	maxRedirects   = 5
)

// TooLargeError is returned when a feed document exceeds the configured
// size limit, either by Content-Length or while streaming the body.
type TooLargeError struct {
	// Limit is the configured cap in bytes.
	Limit uint64
}

func (e TooLargeError) Error() string {
	return fmt.Sprintf("feed larger than size limit (%s)", botutil.FormatByteSize(e.Limit))
}

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	Code int
}

func (e StatusError) Error() string {
	return fmt.Sprintf("HTTP %d %s", e.Code, statusText(e.Code))
}

// statusText supplements net/http with the nginx and CloudFlare codes
// feed hosts actually return.
func statusText(code int) string {
	switch code {
	case 444:
		return "No Response"
	case 521:
		return "Web Server Is Down"
	case 522:
		return "Connection Timed Out"
	case 523:
		return "Origin Is Unreachable"
	case 524:
		return "A Timeout Occurred"
	case 525:
		return "SSL Handshake Failed"
	case 526:
		return "Invalid SSL Certificate"
	}
	return http.StatusText(code)
}

// Config controls the shared HTTP client and per-pull limits.
type Config struct {
	// UserAgent is sent with every request.
	UserAgent string
	// MaxFeedSize caps the document size in bytes. Zero means unlimited.
	MaxFeedSize uint64
	// Insecure disables TLS certificate verification.
	Insecure bool
}

// Fetcher pulls feed documents. Safe for concurrent use.
type Fetcher struct {
	client  *http.Client
	ua      string
	maxSize uint64
}

// New builds a Fetcher with a fresh HTTP client. Feeds go through the
// environment proxy unless RSSBOT_DONT_PROXY_FEEDS is set (any casing of
// the variable name is honoured).
func New(cfg Config) *Fetcher {
	transport := &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
	}
	if cfg.Insecure {
		transport.TLSClientConfig.InsecureSkipVerify = true
	}
	if _, ok := os.LookupEnv("RSSBOT_DONT_PROXY_FEEDS"); ok {
		transport.Proxy = nil
	} else if _, ok := os.LookupEnv("rssbot_dont_proxy_feeds"); ok {
		transport.Proxy = nil
	}
	return &Fetcher{
		client: &http.Client{
			Timeout:   requestTimeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		ua:      cfg.UserAgent,
		maxSize: cfg.MaxFeedSize,
	}
}

// Pull downloads the document at url, enforces the size limit and parses
// it into the canonical feed shape.
func (f *Fetcher) Pull(ctx context.Context, url string) (*feed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("pull %s: %w", url, err)
	}
	req.Header.Set("User-Agent", f.ua)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pull %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("pull %s: %w", url, StatusError{Code: resp.StatusCode})
	}
	if f.maxSize > 0 && resp.ContentLength > 0 && uint64(resp.ContentLength) > f.maxSize {
		return nil, fmt.Errorf("pull %s: %w", url, TooLargeError{Limit: f.maxSize})
	}

	body, err := f.readCapped(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("pull %s: %w", url, err)
	}

	parsed, err := feed.Parse(bytes.NewReader(body), url, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("pull %s: %w", url, err)
	}
	return parsed, nil
}

// readCapped reads the whole body while enforcing the size limit on the
// running total, so a response without Content-Length cannot grow past
// the cap.
func (f *Fetcher) readCapped(r io.Reader) ([]byte, error) {
	if f.maxSize == 0 {
		return io.ReadAll(r)
	}
	body, err := io.ReadAll(io.LimitReader(r, int64(f.maxSize)+1))
	if err != nil {
		return nil, err
	}
	if uint64(len(body)) > f.maxSize {
		return nil, TooLargeError{Limit: f.maxSize}
	}
	return body, nil
}
