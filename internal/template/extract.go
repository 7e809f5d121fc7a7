package template

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Extract reads values out of a JSON document, such as an exported report.
// Paths use JSONPath syntax ($.foo.bar) which is converted to gjson format.
// Array access: $.items[0].id -> items.0.id
// Returns all errors joined if multiple extractions fail.
func Extract(body []byte, rules map[string]string) (map[string]any, error) {
	if len(rules) == 0 {
		return nil, nil
	}

	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid JSON document")
	}

	result := make(map[string]any, len(rules))
	var errs []error

	for name, jsonPath := range rules {
		value := gjson.GetBytes(body, convertJSONPath(jsonPath))
		if !value.Exists() {
			errs = append(errs, fmt.Errorf("path %q not found for %q", jsonPath, name))
			continue
		}
		result[name] = value.Value()
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return result, nil
}

// convertJSONPath converts JSONPath syntax to gjson path format.
// $.foo.bar -> foo.bar
// $.items[0].id -> items.0.id
// $.data[*].name -> data.#.name
// $.endpoint_statistics["GET /users"] -> endpoint_statistics.GET /users
func convertJSONPath(path string) string {
	if strings.HasPrefix(path, "$.") {
		path = path[2:]
	} else if strings.HasPrefix(path, "$") {
		path = path[1:]
	}

	var result strings.Builder
	i := 0
	for i < len(path) {
		if path[i] == '[' {
			j := i + 1
			for j < len(path) && path[j] != ']' {
				j++
			}
			if j < len(path) {
				content := path[i+1 : j]
				switch {
				case content == "*":
					result.WriteString(".#")
				case len(content) >= 2 && (content[0] == '"' || content[0] == '\''):
					result.WriteByte('.')
					result.WriteString(escapeKey(content[1 : len(content)-1]))
				default:
					result.WriteByte('.')
					result.WriteString(content)
				}
				i = j + 1
				continue
			}
		}
		result.WriteByte(path[i])
		i++
	}

	return strings.TrimPrefix(result.String(), ".")
}

// escapeKey escapes gjson path metacharacters inside a quoted key.
func escapeKey(key string) string {
	return strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`).Replace(key)
}
