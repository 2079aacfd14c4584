package session

import (
	"strings"
	"unicode/utf8"

	"github.com/DmytroChyzh/ciedenmanager/pkg/types"
)

const (
	// TitleMaxRunes is the longest title kept before truncation.
	TitleMaxRunes = 30
	titleEllipsis = "..."
)

// DeriveTitle builds a session title from the first message text, kept as
// written. Text longer than TitleMaxRunes is cut and suffixed with an
// ellipsis. Blank text leaves the session untitled.
func DeriveTitle(text string) string {
	if strings.TrimSpace(text) == "" {
		return types.UntitledTitle
	}
	if utf8.RuneCountInString(text) <= TitleMaxRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:TitleMaxRunes]) + titleEllipsis
}

// isDefaultTitle reports whether a session still carries the sentinel title.
func isDefaultTitle(title string) bool {
	return title == "" || title == types.UntitledTitle
}
