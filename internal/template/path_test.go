package template

import (
	"reflect"
	"strings"
	"testing"
)

func TestPathTokens(t *testing.T) {
	got := PathTokens("/orgs/{orgId}/users/{user_id}/avatar")
	want := []string{"orgId", "user_id"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}

	if got := PathTokens("/health"); len(got) != 0 {
		t.Errorf("expected no tokens, got %v", got)
	}
}

func TestExpandPath(t *testing.T) {
	got := ExpandPath("/users/{id}/tags/{tag}", map[string]string{
		"id":  "42",
		"tag": "a b/c",
	}, nil)
	if got != "/users/42/tags/a%20b%2Fc" {
		t.Errorf("got %q", got)
	}
}

func TestExpandPath_FillsMissing(t *testing.T) {
	var asked []string
	got := ExpandPath("/items/{sku}", nil, func(name string) string {
		asked = append(asked, name)
		return "filled"
	})
	if got != "/items/filled" {
		t.Errorf("got %q", got)
	}
	if len(asked) != 1 || asked[0] != "sku" {
		t.Errorf("fill called with %v", asked)
	}
}

func TestExpandPath_NoBracesRemain(t *testing.T) {
	got := ExpandPath("/weird/{a}/{/x}", map[string]string{"a": "1"}, nil)
	if strings.ContainsAny(got, "{}") {
		t.Errorf("braces remain in %q", got)
	}
}
