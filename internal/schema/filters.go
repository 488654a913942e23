package schema

import (
	"regexp"
	"strings"
)

// ContentFilter is a pure transform applied to a raw field value before
// indexing.
type ContentFilter func(string) string

var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

// builtinFilters are the named transforms selectable per field in the
// schema configuration.
var builtinFilters = map[string]ContentFilter{
	"lower": strings.ToLower,
	"strip_html": func(s string) string {
		return htmlTagPattern.ReplaceAllString(s, " ")
	},
	"collapse_whitespace": func(s string) string {
		return strings.Join(strings.Fields(s), " ")
	},
	"trim": strings.TrimSpace,
}

func lookupFilter(name string) (ContentFilter, bool) {
	f, ok := builtinFilters[name]
	return f, ok
}
