package service

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/Tchosco/toi700game-sub002/internal/gameerr"
)

// cleanText normalizes free text to NFC, trims surrounding space and
// enforces a limit in runes. Control characters other than newline and tab
// are rejected.
func cleanText(field, s string, max int) (string, error) {
	if !utf8.ValidString(s) {
		return "", gameerr.New(gameerr.CodeValidation, "", "%s is not valid UTF-8", field)
	}
	s = strings.TrimSpace(norm.NFC.String(s))
	for _, r := range s {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return "", gameerr.New(gameerr.CodeValidation, "", "%s contains control character %U", field, r)
		}
	}
	if max > 0 {
		if n := utf8.RuneCountInString(s); n > max {
			return "", gameerr.New(gameerr.CodeValidation, "", "%s is %d characters, limit is %d", field, n, max)
		}
	}
	return s, nil
}
