package coach

import (
	"strings"

	"chesscoach/internal/types"
)

const (
	titleMaxLen = 50
	// titleSpaceFloor guards against over-aggressive word trimming on short
	// inputs: a cut back to the last space only happens past this index.
	titleSpaceFloor = 20
)

// GenerateTitle derives a conversation title from the first user message.
// Deterministic and pure: messages of 50 characters or fewer pass through
// unchanged; longer ones are truncated at 50 characters, cut back to the
// last space when that space falls beyond character 20, and suffixed with an
// ellipsis.
func GenerateTitle(message string) string {
	message = strings.TrimSpace(message)
	if message == "" {
		return types.DefaultTitle
	}

	runes := []rune(message)
	if len(runes) <= titleMaxLen {
		return message
	}

	title := strings.TrimSpace(string(runes[:titleMaxLen]))
	if idx := lastSpaceIndex(title); idx > titleSpaceFloor {
		title = string([]rune(title)[:idx])
	}
	return title + "..."
}

// lastSpaceIndex returns the rune index of the last space in s, or -1.
func lastSpaceIndex(s string) int {
	last := -1
	for i, r := range []rune(s) {
		if r == ' ' {
			last = i
		}
	}
	return last
}
