package delivery

import (
	"strings"
	"unicode/utf8"
)

// MaxMessageLen is the Bot API text limit for a single message.
const MaxMessageLen = 4096

var htmlEscaper = strings.NewReplacer(
	"<", "&lt;",
	">", "&gt;",
	"&", "&amp;",
	`"`, "&quot;",
)

// EscapeHTML escapes the characters Telegram's HTML parse mode treats as
// markup.
func EscapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}

// Split packs head plus one line per element into messages of at most
// MaxMessageLen bytes, lines joined by newlines. The head opens the
// first message only; when a line does not fit (the joining newline
// counts) it starts a new message. A single line longer than the limit
// is hard-wrapped so no message ever exceeds it.
func Split[T any](head string, elems []T, format func(T) string) []string {
	var cur strings.Builder
	cur.WriteString(head)
	msgs := make([]string, 0, 1)
	for _, e := range elems {
		for _, line := range hardWrap(format(e)) {
			if cur.Len() > 0 && cur.Len()+1+len(line) > MaxMessageLen {
				msgs = append(msgs, cur.String())
				cur.Reset()
			}
			if cur.Len() > 0 {
				cur.WriteByte('\n')
			}
			cur.WriteString(line)
		}
	}
	msgs = append(msgs, cur.String())
	return msgs
}

// hardWrap cuts a line longer than MaxMessageLen into rune-aligned
// pieces. Oversized lines only come from pathological feeds (a
// multi-kilobyte item title) and the cut may fall inside HTML markup;
// a mangled link beats a rejected batch.
func hardWrap(line string) []string {
	if len(line) <= MaxMessageLen {
		return []string{line}
	}
	var parts []string
	for len(line) > MaxMessageLen {
		cut := MaxMessageLen
		for cut > 0 && !utf8.RuneStart(line[cut]) {
			cut--
		}
		parts = append(parts, line[:cut])
		line = line[cut:]
	}
	return append(parts, line)
}
