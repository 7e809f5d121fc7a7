package engine

import (
	"fmt"
	"strings"

	"apisim/internal/spec"
)

// FilterExhaustionError is returned when the include and exclude filters
// leave no endpoint to call.
type FilterExhaustionError struct {
	Total   int
	Include []string
	Exclude []string
}

func (e *FilterExhaustionError) Error() string {
	return fmt.Sprintf("no endpoints left after filtering %d endpoints (include=%v exclude=%v)",
		e.Total, e.Include, e.Exclude)
}

// FilterEndpoints keeps endpoints whose path contains any include substring
// (all of them when include is empty), then drops those whose path contains
// any exclude substring.
func FilterEndpoints(eps []spec.Endpoint, include, exclude []string) []spec.Endpoint {
	out := make([]spec.Endpoint, 0, len(eps))
	for _, ep := range eps {
		if len(include) > 0 && !containsAny(ep.Path, include) {
			continue
		}
		if containsAny(ep.Path, exclude) {
			continue
		}
		out = append(out, ep)
	}
	return out
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
