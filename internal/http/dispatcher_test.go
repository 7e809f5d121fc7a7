package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"apisim/internal/core"
)

func TestDispatcher_SuccessfulPOST(t *testing.T) {
	var gotBody map[string]any
	var gotHeader, gotCookie string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Tenant")
		if c, err := r.Cookie("session"); err == nil {
			gotCookie = c.Value
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":1}`))
	}))
	defer server.Close()

	d := NewDispatcher(server.URL + "/")
	m := d.Do(context.Background(), Call{
		Method:        "post",
		PathTemplate:  "/users",
		Path:          "/users",
		Headers:       map[string]string{"X-Tenant": "acme", "Content-Type": "application/json"},
		Cookies:       map[string]string{"session": "abc"},
		Body:          map[string]any{"name": "Ada"},
		CorrelationID: "run_0",
		AuthScheme:    "bearer",
	})

	if m.StatusCode != 201 || !m.Success() {
		t.Errorf("status = %d", m.StatusCode)
	}
	if m.Method != "POST" || m.EndpointPath != "/users" {
		t.Errorf("endpoint = %s", m.EndpointKey())
	}
	if gotBody["name"] != "Ada" || gotHeader != "acme" || gotCookie != "abc" {
		t.Errorf("server saw body=%v header=%q cookie=%q", gotBody, gotHeader, gotCookie)
	}
	if m.RequestSize != int64(len(`{"name":"Ada"}`)) {
		t.Errorf("request size = %d", m.RequestSize)
	}
	if m.ResponseSize != int64(len(`{"id":1}`)) {
		t.Errorf("response size = %d", m.ResponseSize)
	}
	if m.ResponseMessage != "Created" {
		t.Errorf("message = %q", m.ResponseMessage)
	}
	if m.TargetHost != "127.0.0.1" || m.TargetPort == 0 {
		t.Errorf("target = %s:%d", m.TargetHost, m.TargetPort)
	}
	if m.CorrelationID != "run_0" || m.AuthScheme != "bearer" {
		t.Errorf("ids = %q %q", m.CorrelationID, m.AuthScheme)
	}
	if m.Error != "" {
		t.Errorf("unexpected error %q", m.Error)
	}
}

func TestDispatcher_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	m := NewDispatcher(server.URL).Do(context.Background(), Call{Method: "GET", PathTemplate: "/x"})
	if m.StatusCode != 500 || m.Success() || !m.Failed() {
		t.Errorf("status = %d", m.StatusCode)
	}
	if m.Error != "" {
		t.Errorf("non-2xx is not a transport error, got %q", m.Error)
	}
}

func TestDispatcher_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	d := NewDispatcher(server.URL, WithTimeout(50*time.Millisecond))
	m := d.Do(context.Background(), Call{Method: "GET", PathTemplate: "/slow"})

	if m.StatusCode != 0 {
		t.Errorf("status = %d, want 0", m.StatusCode)
	}
	if !strings.Contains(m.Error, "timed out") {
		t.Errorf("error = %q", m.Error)
	}
	if m.RequestURL != server.URL+"/slow" {
		t.Errorf("URL should be captured once built, got %q", m.RequestURL)
	}
}

func TestDispatcher_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.URL
	server.Close()

	m := NewDispatcher(addr).Do(context.Background(), Call{Method: "GET", PathTemplate: "/"})
	if m.StatusCode != 0 || m.Error == "" {
		t.Errorf("status=%d error=%q", m.StatusCode, m.Error)
	}
	if m.RequestURL == UnknownTarget {
		t.Error("URL was built and should be recorded")
	}
}

func TestDispatcher_UnknownTargetWhenURLFails(t *testing.T) {
	m := NewDispatcher("not a url").Do(context.Background(), Call{Method: "GET", PathTemplate: "/x"})
	if m.RequestURL != UnknownTarget || m.TargetHost != UnknownTarget {
		t.Errorf("target = %q %q", m.TargetHost, m.RequestURL)
	}
	if m.StatusCode != 0 || m.Error == "" {
		t.Errorf("status=%d error=%q", m.StatusCode, m.Error)
	}
}

func TestDispatcher_BuildURL(t *testing.T) {
	d := NewDispatcher("https://api.example.com/v1/")

	u, err := d.BuildURL(Call{Path: "/users/42", Query: map[string]string{"b": "2", "a": "x y"}})
	if err != nil {
		t.Fatal(err)
	}
	if u.String() != "https://api.example.com/v1/users/42?a=x+y&b=2" {
		t.Errorf("got %s", u)
	}
	if port(u) != 443 {
		t.Errorf("port = %d", port(u))
	}

	if _, err := d.BuildURL(Call{Path: "/users/{id}"}); err == nil {
		t.Error("expected error for unresolved token")
	}

	plain, _ := url.Parse("http://h/x")
	if port(plain) != 80 {
		t.Errorf("http default port = %d", port(plain))
	}
}

func TestDispatcher_FormBody(t *testing.T) {
	var got url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		got = r.PostForm
	}))
	defer server.Close()

	m := NewDispatcher(server.URL).Do(context.Background(), Call{
		Method:       "POST",
		PathTemplate: "/login",
		Headers:      map[string]string{"Content-Type": "application/x-www-form-urlencoded"},
		MediaType:    "application/x-www-form-urlencoded",
		Body:         map[string]any{"user": "ada", "age": 36},
	})
	if m.StatusCode != 200 {
		t.Fatalf("status = %d (%s)", m.StatusCode, m.Error)
	}
	if got.Get("user") != "ada" || got.Get("age") != "36" {
		t.Errorf("form = %v", got)
	}
}

func TestEncodeBody(t *testing.T) {
	if b, err := encodeBody(nil, "application/json"); b != nil || err != nil {
		t.Errorf("nil body: %q %v", b, err)
	}
	b, _ := encodeBody("hello", "text/plain")
	if string(b) != "hello" {
		t.Errorf("text body = %q", b)
	}
	if _, err := encodeBody([]any{1}, "application/x-www-form-urlencoded"); err == nil {
		t.Error("expected error for non-object form body")
	}
}

func TestDispatcher_FakeClockLatency(t *testing.T) {
	clock := core.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clock.Advance(120 * time.Millisecond)
	}))
	defer server.Close()

	m := NewDispatcher(server.URL, WithClock(clock)).Do(context.Background(), Call{Method: "GET", PathTemplate: "/"})
	if m.Latency != 120*time.Millisecond {
		t.Errorf("latency = %v", m.Latency)
	}
}

func TestDispatcher_DebugDump(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "pong")
	}))
	defer server.Close()

	var buf bytes.Buffer
	m := NewDispatcher(server.URL, WithDebug(NewDebugLogger(&buf))).Do(context.Background(), Call{
		Method: "GET", PathTemplate: "/ping", CorrelationID: "run_7",
	})
	if m.ResponseSize != 4 {
		t.Errorf("response size = %d", m.ResponseSize)
	}
	out := buf.String()
	if !strings.Contains(out, "[run_7] >>> REQUEST: GET /ping") || !strings.Contains(out, "Body: pong") {
		t.Errorf("debug output: %s", out)
	}
}
