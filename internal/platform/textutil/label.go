package textutil

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var labelPolicy = bluemonday.StrictPolicy()

// StripMarkup removes every HTML tag from an untrusted label and collapses whitespace.
// The result is plain text; entities are decoded so "&amp;" renders as "&".
func StripMarkup(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	cleaned := html.UnescapeString(labelPolicy.Sanitize(value))
	return strings.Join(strings.Fields(cleaned), " ")
}
