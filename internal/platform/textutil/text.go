package textutil

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var strictPolicy = bluemonday.StrictPolicy()

// CleanText strips markup from user supplied free text and trims it to limit runes.
// A zero limit disables truncation.
func CleanText(value string, limit int) string {
	cleaned := strings.TrimSpace(html.UnescapeString(strictPolicy.Sanitize(value)))
	if limit > 0 && utf8.RuneCountInString(cleaned) > limit {
		runes := []rune(cleaned)
		cleaned = strings.TrimSpace(string(runes[:limit]))
	}
	return cleaned
}

// CleanOptional applies CleanText to an optional value and drops it when nothing remains.
func CleanOptional(value *string, limit int) *string {
	if value == nil {
		return nil
	}
	cleaned := CleanText(*value, limit)
	if cleaned == "" {
		return nil
	}
	return &cleaned
}

// Label turns an identifier such as "smart_wearable" into a display label ("Smart Wearable").
func Label(identifier string) string {
	words := strings.ReplaceAll(strings.TrimSpace(identifier), "_", " ")
	return cases.Title(language.English).String(words)
}
