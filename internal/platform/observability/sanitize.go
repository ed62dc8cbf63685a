package observability

import (
	"strings"
	"unicode"
)

// clean drops control characters and truncates to limit runes so request data cannot forge log lines.
func clean(value string, limit int) string {
	var b strings.Builder
	count := 0
	for _, r := range value {
		if unicode.IsControl(r) {
			continue
		}
		if count == limit {
			break
		}
		b.WriteRune(r)
		count++
	}
	return b.String()
}

func cleanRoute(route string) string {
	if route == "" {
		return "/"
	}
	return clean(route, 180)
}
