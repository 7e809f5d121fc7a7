package template

import (
	"net/url"
	"regexp"
	"strings"
)

// tokenPattern matches {name} segments of an endpoint path template.
var tokenPattern = regexp.MustCompile(`\{([^{}/]+)\}`)

// PathTokens returns the names of the {token} placeholders in path, in order.
func PathTokens(path string) []string {
	matches := tokenPattern.FindAllStringSubmatch(path, -1)
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m[1])
	}
	return names
}

// ExpandPath replaces every {token} in path with its path-escaped value.
// Tokens without a value are filled by fill, so the result never contains
// braces.
func ExpandPath(path string, values map[string]string, fill func(name string) string) string {
	if !strings.Contains(path, "{") {
		return path
	}
	out := tokenPattern.ReplaceAllStringFunc(path, func(match string) string {
		name := match[1 : len(match)-1]
		val, ok := values[name]
		if !ok && fill != nil {
			val = fill(name)
		}
		return url.PathEscape(val)
	})
	// Stray braces that are not well-formed tokens must not reach the URL.
	return strings.NewReplacer("{", "%7B", "}", "%7D").Replace(out)
}
