package observability

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// clean drops control characters (keeping tab and newlines) and truncates to max runes so request
// data cannot forge log lines or blow up entries.
func clean(value string, max int) string {
	value = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, value)
	if max <= 0 || utf8.RuneCountInString(value) <= max {
		return value
	}
	return string([]rune(value)[:max])
}

func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return clean(route, 180)
}

func SanitizeMethod(method string) string {
	return clean(method, 10)
}

// MaskPhone hides everything between the "+998" style prefix and the last two digits.
func MaskPhone(phone string) string {
	runes := []rune(clean(phone, 20))
	if len(runes) <= 6 {
		return strings.Repeat("*", len(runes))
	}
	return string(runes[:4]) + strings.Repeat("*", len(runes)-6) + string(runes[len(runes)-2:])
}
