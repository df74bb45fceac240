package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRSS = `<rss version="2.0"><channel>
<title>Sample</title>
<link>https://example.com/</link>
<item><title>One</title><link>https://example.com/1</link></item>
</channel></rss>`

func newTestFetcher(maxSize uint64) *Fetcher {
	return New(Config{UserAgent: "rssbot/test", MaxFeedSize: maxSize})
}

func TestPull(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(sampleRSS))
	}))
	defer srv.Close()

	f, err := newTestFetcher(0).Pull(context.Background(), srv.URL+"/feed.xml")
	require.NoError(t, err)
	assert.Equal(t, "Sample", f.Title)
	require.Len(t, f.Items, 1)
	assert.Equal(t, "rssbot/test", gotUA)
}

func TestPullStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	_, err := newTestFetcher(0).Pull(context.Background(), srv.URL)
	var statusErr StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusGone, statusErr.Code)
}

func TestPullTooLargeByContentLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(sampleRSS)))
		_, _ = w.Write([]byte(sampleRSS))
	}))
	defer srv.Close()

	_, err := newTestFetcher(16).Pull(context.Background(), srv.URL)
	var tooLarge TooLargeError
	require.ErrorAs(t, err, &tooLarge)
	assert.Equal(t, uint64(16), tooLarge.Limit)
	assert.Contains(t, tooLarge.Error(), "16B")
}

func TestPullTooLargeByBody(t *testing.T) {
	// Chunked response, no Content-Length: the limit must still hold.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fl, ok := w.(http.Flusher)
		require.True(t, ok)
		for range 64 {
			_, _ = w.Write([]byte(strings.Repeat("x", 1024)))
			fl.Flush()
		}
	}))
	defer srv.Close()

	_, err := newTestFetcher(4096).Pull(context.Background(), srv.URL)
	var tooLarge TooLargeError
	require.ErrorAs(t, err, &tooLarge)
}

func TestPullRedirectCap(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+r.URL.Path+"x", http.StatusFound)
	}))
	defer srv.Close()

	_, err := newTestFetcher(0).Pull(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redirects")
}

func TestPullParseError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()

	_, err := newTestFetcher(0).Pull(context.Background(), srv.URL)
	require.Error(t, err)
	assert.False(t, errors.As(err, &StatusError{}))
}

func TestStatusText(t *testing.T) {
	assert.Equal(t, "No Response", statusText(444))
	assert.Equal(t, "Web Server Is Down", statusText(521))
	assert.Equal(t, "Not Found", statusText(404))
}
