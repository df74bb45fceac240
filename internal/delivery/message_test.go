package delivery

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscapeHTML(t *testing.T) {
	assert.Equal(t, "&lt;b&gt;a &amp; b&lt;/b&gt; &quot;q&quot;", EscapeHTML(`<b>a & b</b> "q"`))
	assert.Equal(t, "plain", EscapeHTML("plain"))
}

func identity(s string) string { return s }

func TestSplit(t *testing.T) {
	msgs := Split("<b>head</b>", []string{"a", "b"}, identity)
	assert.Equal(t, []string{"<b>head</b>\na\nb"}, msgs)
}

func TestSplitHeadOnly(t *testing.T) {
	assert.Equal(t, []string{"head"}, Split("head", nil, identity))
}

func TestSplitNeverExceedsLimit(t *testing.T) {
	// Lines sized so that the joining newline is what tips the count
	// over the limit.
	line := strings.Repeat("x", 2048)
	msgs := Split(line, []string{line, line, line}, identity)
	require.Len(t, msgs, 4)
	for _, m := range msgs {
		assert.LessOrEqual(t, len(m), MaxMessageLen)
	}
}

func TestSplitPacksGreedily(t *testing.T) {
	line := strings.Repeat("x", 1000)
	msgs := Split("h", []string{line, line, line, line, line}, identity)
	// Head plus four lines fit in the first message, the fifth starts
	// a second one.
	require.Len(t, msgs, 2)
	assert.Equal(t, 1+4*1001, len(msgs[0]))
	assert.Equal(t, 1000, len(msgs[1]))
}

func TestSplitHardWrapsOversizedLine(t *testing.T) {
	// One line of 2.5 messages worth of multi-byte runes; every chunk
	// must stay under the limit and cut on rune boundaries.
	line := strings.Repeat("é", MaxMessageLen+MaxMessageLen/4)
	msgs := Split("h", []string{line}, identity)

	// The head flushes alone because the first full-size piece cannot
	// join it, then the wrapped pieces follow.
	require.Len(t, msgs, 4)
	assert.Equal(t, "h", msgs[0])
	var total string
	for _, m := range msgs[1:] {
		assert.LessOrEqual(t, len(m), MaxMessageLen)
		assert.True(t, utf8.ValidString(m), "chunk cut inside a rune")
		total += m
	}
	assert.Equal(t, line, total)
}

func TestSplitFormats(t *testing.T) {
	type entry struct{ title, link string }
	msgs := Split("<b>t</b>", []entry{{"t", "https://example.com/"}}, func(e entry) string {
		return `<a href="` + e.link + `">` + e.title + `</a>`
	})
	require.Len(t, msgs, 1)
	assert.Equal(t, "<b>t</b>\n"+`<a href="https://example.com/">t</a>`, msgs[0])
}
