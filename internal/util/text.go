package util

import (
	"html"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/unicode/norm"
)

var (
	reMarkup       = regexp.MustCompile(`<[a-zA-Z/!][^>]*>`)
	reBangs        = regexp.MustCompile(`!{2,}`)
	reQuestions    = regexp.MustCompile(`\?{2,}`)
	reLongEllipsis = regexp.MustCompile(`\.{4,}`)
)

// NormalizeLocalTitle is the join key for titles already stored locally.
func NormalizeLocalTitle(raw string) string {
	s := strings.TrimSpace(html.UnescapeString(raw))
	if s == "" {
		return ""
	}
	return strings.ToLower(s)
}

// NormalizeExternalTitle runs an API title through the same cleaning the
// store applies on save, then normalizes it like a local title.
func NormalizeExternalTitle(raw string) string {
	return NormalizeLocalTitle(CleanTitle(raw))
}

// CleanTitle is the sanitization applied to every title the store saves.
func CleanTitle(raw string) string {
	s := raw
	if reMarkup.MatchString(s) {
		s = stripMarkup(s)
	}
	s = norm.NFC.String(s)
	s = strings.Map(func(r rune) rune {
		if isInvisible(r) {
			return -1
		}
		if unicode.IsSpace(r) {
			return ' '
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	s = strings.Join(strings.Fields(s), " ")
	s = reBangs.ReplaceAllString(s, "!")
	s = reQuestions.ReplaceAllString(s, "?")
	s = reLongEllipsis.ReplaceAllString(s, "...")
	return strings.TrimSpace(s)
}

func stripMarkup(s string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return reMarkup.ReplaceAllString(s, " ")
	}
	return doc.Text()
}

func isInvisible(r rune) bool {
	switch r {
	case '\u200b', '\u200c', '\u200d', '\u2060', '\ufeff', '\u00ad':
		return true
	}
	return false
}

func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// Slug lowercases and hyphenates a free-form label for use as a tag name.
func Slug(input string) string {
	s := strings.ToLower(strings.TrimSpace(input))
	var b strings.Builder
	dash := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ':' || r == '~' {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}
