// Package template expands placeholders in configuration values, request
// headers and endpoint path templates.
package template

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// varPattern matches ${var}, ${env:VAR} and ${func(args)} placeholders.
var varPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Vars holds named values available to Substitute.
type Vars map[string]any

// Get returns the value for key.
func (v Vars) Get(key string) (any, bool) {
	val, ok := v[key]
	return val, ok
}

// Substitute replaces ${var}, ${env:VAR} and built-in function placeholders
// such as ${uuid()} in text. Returns all errors joined if several
// placeholders cannot be resolved. Text without placeholders is returned
// unchanged.
func Substitute(text string, vars Vars) (string, error) {
	if !strings.Contains(text, "${") {
		return text, nil
	}

	var errs []error
	result := varPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := match[2 : len(match)-1]

		if strings.HasPrefix(name, "env:") {
			envName := name[4:]
			if val, ok := os.LookupEnv(envName); ok {
				return val
			}
			errs = append(errs, fmt.Errorf("env var %q not set", envName))
			return match
		}

		if val, ok, err := evalFunction(name); ok {
			if err != nil {
				errs = append(errs, err)
				return match
			}
			return val
		}

		if val, ok := vars.Get(name); ok {
			return fmt.Sprintf("%v", val)
		}
		errs = append(errs, fmt.Errorf("variable %q not found", name))
		return match
	})

	if len(errs) > 0 {
		return "", errors.Join(errs...)
	}
	return result, nil
}

// ExpandEnv replaces only ${env:VAR} placeholders, leaving the others for
// per-request substitution.
func ExpandEnv(text string) (string, error) {
	if !strings.Contains(text, "${env:") {
		return text, nil
	}

	var errs []error
	result := varPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := match[2 : len(match)-1]
		if !strings.HasPrefix(name, "env:") {
			return match
		}
		if val, ok := os.LookupEnv(name[4:]); ok {
			return val
		}
		errs = append(errs, fmt.Errorf("env var %q not set", name[4:]))
		return match
	})

	if len(errs) > 0 {
		return "", errors.Join(errs...)
	}
	return result, nil
}

// SubstituteMap applies Substitute to all values in a map.
// Returns all errors joined if any substitution fails.
func SubstituteMap(m map[string]string, vars Vars) (map[string]string, error) {
	if m == nil {
		return nil, nil
	}

	result := make(map[string]string, len(m))
	var errs []error

	for k, v := range m {
		substituted, err := Substitute(v, vars)
		if err != nil {
			errs = append(errs, fmt.Errorf("header %q: %w", k, err))
			continue
		}
		result[k] = substituted
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return result, nil
}
