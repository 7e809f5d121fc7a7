package testserver

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer()
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func TestStatusEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	for _, code := range []int{200, 201, 400, 404, 500, 503} {
		resp, err := http.Get(ts.URL + "/status/" + itoa(code))
		if err != nil {
			t.Fatalf("GET /status/%d failed: %v", code, err)
		}
		resp.Body.Close()

		if resp.StatusCode != code {
			t.Errorf("GET /status/%d: got %d", code, resp.StatusCode)
		}
	}

	resp, _ := http.Get(ts.URL + "/status/abc")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid code: got %d", resp.StatusCode)
	}
}

func TestDelayEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	start := time.Now()
	resp, err := http.Get(ts.URL + "/delay/100")
	if err != nil {
		t.Fatalf("GET /delay/100 failed: %v", err)
	}
	resp.Body.Close()
	elapsed := time.Since(start)

	if resp.StatusCode != 200 {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
	if elapsed < 100*time.Millisecond {
		t.Errorf("expected delay of at least 100ms, got %v", elapsed)
	}
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestSpecEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/openapi.json")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var doc struct {
		OpenAPI string                    `json:"openapi"`
		Servers []struct{ URL string }    `json:"servers"`
		Paths   map[string]map[string]any `json:"paths"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(doc.OpenAPI, "3.") {
		t.Errorf("openapi = %q", doc.OpenAPI)
	}
	if len(doc.Servers) != 1 || doc.Servers[0].URL != ts.URL {
		t.Errorf("servers = %+v, want %s", doc.Servers, ts.URL)
	}
	if _, ok := doc.Paths["/users/{id}"]["get"]; !ok {
		t.Error("missing GET /users/{id}")
	}
}

func TestUsersCRUD(t *testing.T) {
	s, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/users", "application/json", strings.NewReader(`{"name":"Linus","email":"l@example.com"}`))
	if err != nil {
		t.Fatal(err)
	}
	var created User
	_ = json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated || created.ID != 4 {
		t.Fatalf("create: status=%d user=%+v", resp.StatusCode, created)
	}

	resp, _ = http.Get(ts.URL + "/users/4")
	var got User
	_ = json.NewDecoder(resp.Body).Decode(&got)
	resp.Body.Close()
	if got.Name != "Linus" {
		t.Errorf("get: %+v", got)
	}

	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/users/4", strings.NewReader(`{"name":"L","email":"l@x.org"}`))
	resp, _ = http.DefaultClient.Do(req)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("put: %d", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodDelete, ts.URL+"/users/4", nil)
	resp, _ = http.DefaultClient.Do(req)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete: %d", resp.StatusCode)
	}

	resp, _ = http.Get(ts.URL + "/users/4")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete: %d", resp.StatusCode)
	}

	if s.Hits("GET /users/4") != 2 {
		t.Errorf("hits = %d", s.Hits("GET /users/4"))
	}
}

func TestUsersValidation(t *testing.T) {
	_, ts := newTestServer(t)

	resp, _ := http.Post(ts.URL+"/users", "application/json", strings.NewReader(`{"name":""}`))
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("missing fields: %d", resp.StatusCode)
	}

	resp, _ = http.Get(ts.URL + "/users/abc")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad id: %d", resp.StatusCode)
	}
}

func TestListUsersLimit(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/users?limit=2")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var users []User
	_ = json.NewDecoder(resp.Body).Decode(&users)
	if len(users) != 2 {
		t.Errorf("got %d users", len(users))
	}
}

func TestRequireAuth(t *testing.T) {
	s, ts := newTestServer(t)
	s.RequireAuth = true

	resp, _ := http.Get(ts.URL + "/users")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("without auth: %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/users", nil)
	req.Header.Set("Authorization", "Bearer x")
	resp, _ = http.DefaultClient.Do(req)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("with auth: %d", resp.StatusCode)
	}
}

func TestFailRate(t *testing.T) {
	s, ts := newTestServer(t)
	s.FailRate = 100

	resp, _ := http.Get(ts.URL + "/users")
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestTokenEndpoint(t *testing.T) {
	s, ts := newTestServer(t)

	resp, err := http.PostForm(ts.URL+"/oauth/token", url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {"id"},
		"client_secret": {"secret"},
	})
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != 200 || !strings.Contains(string(body), "token-1") {
		t.Errorf("status=%d body=%s", resp.StatusCode, body)
	}
	if s.TokensIssued() != 1 {
		t.Errorf("issued = %d", s.TokensIssued())
	}

	resp, _ = http.PostForm(ts.URL+"/oauth/token", url.Values{"grant_type": {"password"}})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad grant: %d", resp.StatusCode)
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	return string(b)
}
