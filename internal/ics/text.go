package ics

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const fallbackFileName = "evento"

// textEscaper applies the TEXT value escapes. Backslash is listed first and
// Replacer never rescans its own output, so nothing is escaped twice.
var textEscaper = strings.NewReplacer(
	`\`, `\\`,
	"\n", `\n`,
	",", `\,`,
	";", `\;`,
)

var textUnescaper = strings.NewReplacer(
	`\\`, `\`,
	`\n`, "\n",
	`\N`, "\n",
	`\,`, ",",
	`\;`, ";",
)

// EscapeText escapes a free-text property value. CR and CRLF are folded to
// LF first so no raw line break survives into a content line.
func EscapeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return textEscaper.Replace(s)
}

// UnescapeText reverses EscapeText.
func UnescapeText(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	return textUnescaper.Replace(s)
}

// FileName derives a download name from a title: accents folded, lowercased,
// anything outside [a-z0-9- ] dropped and whitespace runs turned into single
// hyphens.
func FileName(title string) string {
	return slug(title) + ".ics"
}

func slug(title string) string {
	folded, _, err := transform.String(
		transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC),
		title,
	)
	if err != nil {
		folded = title
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}

	s := strings.Join(strings.Fields(b.String()), "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return fallbackFileName
	}
	return s
}
