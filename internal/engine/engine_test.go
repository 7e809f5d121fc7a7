package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"apisim/internal/auth"
	"apisim/internal/config"
	"apisim/internal/control"
	"apisim/internal/core"
	"apisim/internal/spec"
	"apisim/testserver"
)

func newTarget(t *testing.T) (*testserver.Server, *httptest.Server) {
	t.Helper()
	s := testserver.NewServer()
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func testConfig(source string, target, threads int) config.RunConfig {
	cfg := config.Default()
	cfg.Name = "test"
	cfg.APISource = source
	cfg.TargetRequests = target
	cfg.ConcurrentThreads = threads
	cfg.Seed = 7
	return cfg
}

func newEngine(t *testing.T, cfg config.RunConfig, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithStore(control.NewMemoryStore()), WithPollInterval(10 * time.Millisecond)}, opts...)
	e, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestEngine_RecordsEveryDispatchedRequest(t *testing.T) {
	srv, ts := newTarget(t)
	e := newEngine(t, testConfig(ts.URL+"/openapi.json", 40, 4))

	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if e.State() != core.StateCompleted {
		t.Errorf("state = %s", e.State())
	}
	if n := e.Collector().Count(); n != 40 {
		t.Errorf("recorded %d metrics, want 40", n)
	}
	// One extra request fetched the document.
	if srv.Requests() != 41 {
		t.Errorf("server saw %d requests, want 41", srv.Requests())
	}

	rec, err := e.Controller().Current(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rec.State != core.StateCompleted || rec.Completed != 40 || rec.Target != 40 {
		t.Errorf("record = %+v", rec)
	}

	stats := e.Collector().CurrentStatistics()
	if stats.SuccessfulRequests+stats.FailedRequests != stats.TotalRequests {
		t.Errorf("success %d + failed %d != total %d", stats.SuccessfulRequests, stats.FailedRequests, stats.TotalRequests)
	}
	if stats.ErrorRatePercent < 0 || stats.ErrorRatePercent > 100 {
		t.Errorf("error rate %v out of range", stats.ErrorRatePercent)
	}
}

func TestEngine_ZeroTargetCompletesImmediately(t *testing.T) {
	srv, ts := newTarget(t)
	e := newEngine(t, testConfig(ts.URL+"/openapi.json", 0, 2))

	if err := e.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if e.State() != core.StateCompleted || e.Collector().Count() != 0 {
		t.Errorf("state=%s count=%d", e.State(), e.Collector().Count())
	}
	if srv.Requests() != 1 {
		t.Errorf("only the document should be fetched, got %d requests", srv.Requests())
	}
}

func TestEngine_PathTokensResolved(t *testing.T) {
	_, ts := newTarget(t)
	cfg := testConfig(ts.URL+"/openapi.json", 30, 3)
	cfg.IncludeEndpoints = []string{"/users/"}
	e := newEngine(t, cfg)

	if err := e.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	for _, ep := range e.Endpoints() {
		if ep.Path != "/users/{id}" {
			t.Errorf("filter kept %s", ep.Key())
		}
	}
	pattern := regexp.MustCompile(`/users/[1-3]$`)
	for _, m := range e.Collector().Metrics() {
		if strings.ContainsAny(m.RequestURL, "{}") {
			t.Errorf("unresolved token in %s", m.RequestURL)
		}
		if !pattern.MatchString(m.RequestURL) {
			t.Errorf("URL %s does not honour the id bounds", m.RequestURL)
		}
		if m.EndpointPath != "/users/{id}" {
			t.Errorf("metric endpoint = %s", m.EndpointPath)
		}
	}
}

func TestEngine_SingleThreadOrder(t *testing.T) {
	_, ts := newTarget(t)
	e := newEngine(t, testConfig(ts.URL+"/openapi.json", 15, 1), WithRunID("run"))

	if err := e.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	for i, m := range e.Collector().Metrics() {
		if want := fmt.Sprintf("run_%d", i); m.CorrelationID != want {
			t.Fatalf("metric %d has id %s, want %s", i, m.CorrelationID, want)
		}
	}
}

func TestEngine_StopAfterN(t *testing.T) {
	_, ts := newTarget(t)
	e := newEngine(t, testConfig(ts.URL+"/openapi.json", 500, 2))

	var once sync.Once
	e.AddObserver(core.ObserverFunc(func(s core.Snapshot) {
		if s.Completed >= 5 {
			once.Do(func() { _ = e.Stop(context.Background()) })
		}
	}))

	if err := e.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	n := e.Collector().Count()
	if e.State() != core.StateStopped {
		t.Errorf("state = %s", e.State())
	}
	if n < 5 || n >= 500 {
		t.Errorf("recorded %d, want 5 <= n < 500", n)
	}
	rec, _ := e.Controller().Current(context.Background())
	if !rec.StopRequested || rec.Completed != n {
		t.Errorf("record = %+v", rec)
	}
}

// newSlowAPI serves a one-endpoint document whose GET /slow answers after
// delay. Extra handlers are mounted on the same mux.
func newSlowAPI(t *testing.T, delay time.Duration, extra map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var ts *httptest.Server
	mux.HandleFunc("GET /openapi.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"openapi":"3.0.0","info":{"title":"slow","version":"1"},`+
			`"servers":[{"url":%q}],`+
			`"paths":{"/slow":{"get":{"responses":{"200":{"description":"ok"}}}}}}`, ts.URL)
	})
	mux.HandleFunc("GET /slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
		}
		w.WriteHeader(http.StatusOK)
	})
	for pattern, h := range extra {
		mux.HandleFunc(pattern, h)
	}
	ts = httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func TestEngine_StopAfterAllSubmitted(t *testing.T) {
	ts := newSlowAPI(t, 100*time.Millisecond, nil)
	e := newEngine(t, testConfig(ts.URL+"/openapi.json", 4, 4))

	var once sync.Once
	e.AddObserver(core.ObserverFunc(func(s core.Snapshot) {
		if s.Completed >= 1 {
			once.Do(func() { _ = e.Stop(context.Background()) })
		}
	}))

	if err := e.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if e.State() != core.StateStopped {
		t.Errorf("state = %s, want stopped", e.State())
	}
	// Every task was dispatched before the stop, so every one is recorded.
	if n := e.Collector().Count(); n != 4 {
		t.Errorf("recorded %d, want 4", n)
	}
	rec, _ := e.Controller().Current(context.Background())
	if rec.State != core.StateStopped || !rec.StopRequested {
		t.Errorf("record = %+v", rec)
	}
}

func TestEngine_HangingTokenEndpointDegrades(t *testing.T) {
	release := make(chan struct{})
	ts := newSlowAPI(t, 0, map[string]http.HandlerFunc{
		"POST /token": func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-release:
			}
		},
	})
	t.Cleanup(func() { close(release) })

	cfg := testConfig(ts.URL+"/openapi.json", 3, 2)
	cfg.RequestTimeout = 200 * time.Millisecond
	cfg.Auth = auth.Config{
		Type:         auth.OAuth2,
		Token:        "static",
		TokenURL:     ts.URL + "/token",
		ClientID:     "id",
		ClientSecret: "secret",
	}
	e := newEngine(t, cfg)

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run blocked on the token endpoint")
	}
	if n := e.Collector().Count(); n != 3 {
		t.Errorf("recorded %d, want 3", n)
	}
	if e.State() != core.StateCompleted {
		t.Errorf("state = %s", e.State())
	}
}

func TestEngine_PauseAndResume(t *testing.T) {
	_, ts := newTarget(t)
	e := newEngine(t, testConfig(ts.URL+"/openapi.json", 30, 2))

	var once sync.Once
	e.AddObserver(core.ObserverFunc(func(s core.Snapshot) {
		if s.Completed >= 3 {
			once.Do(func() { _ = e.Pause(context.Background()) })
		}
	}))

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	waitFor(t, func() bool { return e.State() == core.StatePaused })
	held := e.Collector().Count()
	time.Sleep(50 * time.Millisecond)
	// In-flight requests may land; nothing new is harvested past them.
	if after := e.Collector().Count(); after > held+2 {
		t.Errorf("count moved from %d to %d while paused", held, after)
	}

	if err := e.Resume(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if e.State() != core.StateCompleted || e.Collector().Count() != 30 {
		t.Errorf("state=%s count=%d", e.State(), e.Collector().Count())
	}
}

func TestEngine_ExternalControlThroughFileStore(t *testing.T) {
	_, ts := newTarget(t)
	dir := t.TempDir()
	store, err := control.NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	cfg := testConfig(ts.URL+"/openapi.json", 100000, 2)
	cfg.RequestDelayMs = 1
	e := newEngine(t, cfg, WithStore(store))

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()
	waitFor(t, func() bool { return e.Collector().Count() >= 3 })

	other, err := control.NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := control.Attach(other, e.RunID()).RequestStop(context.Background()); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("external stop was not observed")
	}
	if e.State() != core.StateStopped {
		t.Errorf("state = %s", e.State())
	}
}

func TestEngine_SpecLoadFailure(t *testing.T) {
	e := newEngine(t, testConfig("/nonexistent/openapi.yaml", 10, 1))

	err := e.Run(context.Background())
	var loadErr *spec.LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected *spec.LoadError, got %v", err)
	}
	if e.State() != core.StateFailed {
		t.Errorf("state = %s", e.State())
	}
	rec, _ := e.Controller().Current(context.Background())
	if rec.State != core.StateFailed || rec.Error == "" {
		t.Errorf("record = %+v", rec)
	}
}

func TestEngine_FilterExhaustion(t *testing.T) {
	_, ts := newTarget(t)
	cfg := testConfig(ts.URL+"/openapi.json", 10, 1)
	cfg.IncludeEndpoints = []string{"/users"}
	cfg.ExcludeEndpoints = []string{"/users"}
	e := newEngine(t, cfg)

	err := e.Initialize(context.Background())
	var fe *FilterExhaustionError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FilterExhaustionError, got %v", err)
	}
	if fe.Total != 5 {
		t.Errorf("Total = %d", fe.Total)
	}
	if e.State() != core.StateFailed {
		t.Errorf("state = %s", e.State())
	}
}

func TestEngine_HeaderPrecedence(t *testing.T) {
	var mu sync.Mutex
	var seen []http.Header
	srv := testserver.NewServer()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/openapi.json" {
			mu.Lock()
			seen = append(seen, r.Header.Clone())
			mu.Unlock()
		}
		srv.Handler().ServeHTTP(w, r)
	}))
	defer ts.Close()

	cfg := testConfig(ts.URL+"/openapi.json", 5, 1)
	cfg.IncludeEndpoints = []string{"/health"}
	cfg.Auth = auth.Config{Type: auth.Bearer, Token: "t0k"}
	cfg.CustomHeaders = map[string]string{
		"X-Request-Id":  "${request_id}",
		"Authorization": "Bearer override",
	}
	e := newEngine(t, cfg, WithRunID("hdr"))

	if err := e.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(seen) != 5 {
		t.Fatalf("saw %d requests", len(seen))
	}
	for i, h := range seen {
		if h.Get("User-Agent") != "apisim/hdr" {
			t.Errorf("User-Agent = %q", h.Get("User-Agent"))
		}
		if h.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %q", h.Get("Content-Type"))
		}
		if h.Get("Authorization") != "Bearer override" {
			t.Errorf("custom header should win over auth, got %q", h.Get("Authorization"))
		}
		if want := fmt.Sprintf("hdr_%d", i); h.Get("X-Request-Id") != want {
			t.Errorf("X-Request-Id = %q, want %q", h.Get("X-Request-Id"), want)
		}
	}
	for _, m := range e.Collector().Metrics() {
		if m.AuthScheme != "bearer" {
			t.Errorf("auth scheme = %q", m.AuthScheme)
		}
	}
}

func TestEngine_TimeoutsAreRecordedFailures(t *testing.T) {
	release := make(chan struct{})
	srv := testserver.NewServer()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			select {
			case <-release:
			case <-r.Context().Done():
			}
			return
		}
		srv.Handler().ServeHTTP(w, r)
	}))
	defer ts.Close()
	defer close(release)

	cfg := testConfig(ts.URL+"/openapi.json", 4, 2)
	cfg.IncludeEndpoints = []string{"/health"}
	cfg.RequestTimeout = 30 * time.Millisecond
	e := newEngine(t, cfg)

	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("timeouts must not fail the run: %v", err)
	}
	if e.State() != core.StateCompleted {
		t.Errorf("state = %s", e.State())
	}
	for _, m := range e.Collector().Metrics() {
		if m.StatusCode != 0 || m.Error == "" {
			t.Errorf("metric = %+v", m)
		}
	}
	if s := e.Status(); s.Errors != 4 || s.LastError == "" {
		t.Errorf("snapshot = %+v", s)
	}
}

func TestEngine_StatusAndExport(t *testing.T) {
	_, ts := newTarget(t)
	cfg := testConfig(ts.URL+"/openapi.json", 10, 2)
	cfg.OutputDirectory = t.TempDir()
	e := newEngine(t, cfg)

	var last core.Snapshot
	var mu sync.Mutex
	e.AddObserver(core.ObserverFunc(func(s core.Snapshot) {
		mu.Lock()
		last = s
		mu.Unlock()
	}))

	if err := e.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	final := last
	mu.Unlock()
	if final.State != core.StateCompleted || final.ProgressPercent != 100 || final.Completed != 10 {
		t.Errorf("final snapshot = %+v", final)
	}

	path, err := e.Export()
	if err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := gjson.GetBytes(raw, "simulation_summary.total_requests").Int(); got != 10 {
		t.Errorf("total_requests = %d", got)
	}
	if got := gjson.GetBytes(raw, "raw_metrics.#").Int(); got != 10 {
		t.Errorf("raw_metrics = %d", got)
	}
}

func TestEngine_RunTwice(t *testing.T) {
	_, ts := newTarget(t)
	e := newEngine(t, testConfig(ts.URL+"/openapi.json", 1, 1))
	if err := e.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := e.Run(context.Background()); err == nil {
		t.Error("second Run should fail")
	}
}

func TestFilterEndpoints(t *testing.T) {
	eps := []spec.Endpoint{
		{Path: "/users", Method: "GET"},
		{Path: "/users/{id}", Method: "GET"},
		{Path: "/admin/users", Method: "GET"},
		{Path: "/health", Method: "GET"},
	}

	got := FilterEndpoints(eps, []string{"/users"}, []string{"/admin"})
	if len(got) != 2 {
		t.Errorf("got %v", got)
	}
	if all := FilterEndpoints(eps, nil, nil); len(all) != 4 {
		t.Errorf("no filters kept %d", len(all))
	}
	if none := FilterEndpoints(eps, []string{"/nope"}, nil); len(none) != 0 {
		t.Errorf("include miss kept %d", len(none))
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
