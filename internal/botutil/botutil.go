// Package botutil provides small helpers shared by the delivery pipeline,
// the gardener and the command handlers: classifying Telegram errors that
// mean a chat is gone for good, and rendering byte sizes for user-facing
// limit messages.
package botutil

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
)

// Substrings of Bot API error descriptions that mean the chat can no
// longer be reached and the subscriber should be dropped.
var unavailableDescriptions = []string{
	"Forbidden",
	"chat not found",
	"have no rights",
	"need administrator rights",
}

// ChatIsUnavailable reports whether err is a Telegram API error whose
// description marks the target chat as permanently unreachable (the bot
// was blocked, kicked, or the chat was deleted).
func ChatIsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, bot.ErrorForbidden) {
		return true
	}
	desc := err.Error()
	for _, s := range unavailableDescriptions {
		if strings.Contains(desc, s) {
			return true
		}
	}
	return false
}

var byteUnits = []string{"B", "kiB", "MiB", "GiB", "TiB", "PiB", "EiB"}

// FormatByteSize renders n with binary units, truncated to at most one
// decimal place.
//
// Examples:
//
//	FormatByteSize(0)              // "0B"
//	FormatByteSize(1024)           // "1kiB"
//	FormatByteSize(1536)           // "1.5kiB"
//	FormatByteSize(math.MaxUint64) // "16EiB"
func FormatByteSize(n uint64) string {
	f := float64(n)
	unit := 0
	for f >= 1024 && unit < len(byteUnits)-1 {
		f /= 1024
		unit++
	}
	f = math.Floor(f*10) / 10
	return strconv.FormatFloat(f, 'f', -1, 64) + byteUnits[unit]
}
