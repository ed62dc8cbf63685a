package textutil

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
)

var plainTextPolicy = bluemonday.StrictPolicy()

// SanitizePlainText strips markup, NFC-normalises and collapses runs of whitespace.
func SanitizePlainText(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	stripped := html.UnescapeString(plainTextPolicy.Sanitize(value))
	normalized := norm.NFC.String(stripped)
	return strings.Join(strings.Fields(normalized), " ")
}

// RuneLength counts user-perceived characters after NFC normalisation.
func RuneLength(value string) int {
	return utf8.RuneCountInString(norm.NFC.String(value))
}
