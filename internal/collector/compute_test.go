package collector

import (
	"testing"
	"time"

	"apisim/internal/core"
)

func sample() []core.Metric {
	return []core.Metric{
		metric("GET", "/users", 200, 10*time.Millisecond),
		metric("GET", "/users", 200, 20*time.Millisecond),
		metric("GET", "/users", 500, 30*time.Millisecond),
		metric("POST", "/users", 201, 40*time.Millisecond),
		metric("POST", "/users", 404, 50*time.Millisecond),
		{Method: "POST", EndpointPath: "/users", StatusCode: 0, Error: "connection refused"},
		{Method: "DELETE", EndpointPath: "/users/{id}", StatusCode: 302},
	}
}

func TestComputeStatistics_Empty(t *testing.T) {
	s := ComputeStatistics(nil, 10*time.Second)
	if s.TotalRequests != 0 || s.ErrorRatePercent != 0 || s.RequestsPerSecond != 0 {
		t.Errorf("unexpected empty statistics %+v", s)
	}
	if s.ElapsedSeconds != 10 {
		t.Errorf("expected elapsed 10, got %v", s.ElapsedSeconds)
	}
}

func TestComputeStatistics_Counts(t *testing.T) {
	s := ComputeStatistics(sample(), time.Second)
	if s.TotalRequests != 7 {
		t.Errorf("expected 7, got %d", s.TotalRequests)
	}
	if s.SuccessfulRequests != 3 {
		t.Errorf("expected 3 successes, got %d", s.SuccessfulRequests)
	}
	if s.SuccessfulRequests+s.FailedRequests != s.TotalRequests {
		t.Error("success + failure must equal total")
	}
	if s.ErrorRatePercent < 0 || s.ErrorRatePercent > 100 {
		t.Errorf("error rate out of range: %v", s.ErrorRatePercent)
	}
	if s.ErrorRatePercent != 57.14 {
		t.Errorf("expected 57.14%%, got %v", s.ErrorRatePercent)
	}
	if s.RequestsPerSecond != 7 {
		t.Errorf("expected 7 rps, got %v", s.RequestsPerSecond)
	}
}

func TestComputeStatistics_Latency(t *testing.T) {
	s := ComputeStatistics(sample(), time.Second)
	if s.MinResponseMs != 0 || s.MaxResponseMs != 50 {
		t.Errorf("unexpected min/max %v/%v", s.MinResponseMs, s.MaxResponseMs)
	}
	if s.AvgResponseMs != 21.43 {
		t.Errorf("expected avg 21.43, got %v", s.AvgResponseMs)
	}
	if s.P50ResponseMs != 20 {
		t.Errorf("expected p50 20, got %v", s.P50ResponseMs)
	}
	if s.Latency.P99 != 40*time.Millisecond {
		t.Errorf("expected p99 40ms, got %v", s.Latency.P99)
	}
}

func TestComputeStatistics_ZeroElapsed(t *testing.T) {
	s := ComputeStatistics(sample(), 0)
	if s.RequestsPerSecond != 0 {
		t.Errorf("expected 0 rps with zero elapsed, got %v", s.RequestsPerSecond)
	}
}

func TestStatusCodes(t *testing.T) {
	dist := StatusCodes(sample())
	want := map[int]int{200: 2, 500: 1, 201: 1, 404: 1, 0: 1, 302: 1}
	for code, n := range want {
		if dist[code] != n {
			t.Errorf("status %d: expected %d, got %d", code, n, dist[code])
		}
	}
}

func TestComputeEndpointStatistics(t *testing.T) {
	stats := ComputeEndpointStatistics(sample())
	if len(stats) != 3 {
		t.Fatalf("expected 3 endpoints, got %d", len(stats))
	}
	get := stats["GET /users"]
	if get.TotalRequests != 3 || get.SuccessfulRequests != 2 || get.FailedRequests != 1 {
		t.Errorf("unexpected GET stats %+v", get)
	}
	if get.AvgResponseMs != 20 || get.MinResponseMs != 10 || get.MaxResponseMs != 30 {
		t.Errorf("unexpected GET latency %+v", get)
	}
	if get.ErrorRatePercent != 33.33 {
		t.Errorf("expected 33.33%%, got %v", get.ErrorRatePercent)
	}
	if stats["DELETE /users/{id}"].FailedRequests != 1 {
		t.Error("expected 302 to count as a failure in endpoint statistics")
	}
}

func TestAnalyzeErrors(t *testing.T) {
	a := AnalyzeErrors(sample(), 0)
	if a.TotalErrors != 3 {
		t.Errorf("expected 3 errors (500, 404, transport), got %d", a.TotalErrors)
	}
	if a.ByStatusCode[0] != 1 || a.ByStatusCode[404] != 1 || a.ByStatusCode[500] != 1 {
		t.Errorf("unexpected by-status %v", a.ByStatusCode)
	}
	if a.ByEndpoint["POST /users"] != 2 {
		t.Errorf("expected 2 POST errors, got %v", a.ByEndpoint)
	}
	if a.Messages["connection refused"] != 1 {
		t.Errorf("expected transport message, got %v", a.Messages)
	}
}

func TestAnalyzeErrors_TopNOrdering(t *testing.T) {
	var ms []core.Metric
	add := func(msg string, n int) {
		for i := 0; i < n; i++ {
			ms = append(ms, core.Metric{Method: "GET", EndpointPath: "/", Error: msg})
		}
	}
	add("timeout", 3)
	add("b-refused", 2)
	add("a-reset", 2)
	add("dns", 1)

	a := AnalyzeErrors(ms, 3)
	if len(a.CommonErrors) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(a.CommonErrors))
	}
	want := []string{"timeout", "a-reset", "b-refused"}
	for i, w := range want {
		if a.CommonErrors[i].Message != w {
			t.Errorf("rank %d: expected %q, got %q", i, w, a.CommonErrors[i].Message)
		}
	}
}

func TestAnalyzeErrors_HTTPMessage(t *testing.T) {
	a := AnalyzeErrors([]core.Metric{{StatusCode: 503, ResponseMessage: "Service Unavailable"}}, 5)
	if a.CommonErrors[0].Message != "HTTP 503: Service Unavailable" {
		t.Errorf("unexpected message %q", a.CommonErrors[0].Message)
	}
}

func TestComputePercentile(t *testing.T) {
	sorted := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	cases := []struct {
		p    float64
		want time.Duration
	}{
		{0, 1}, {0.5, 5}, {0.9, 9}, {1, 10},
	}
	for _, c := range cases {
		if got := ComputePercentile(sorted, c.p); got != c.want {
			t.Errorf("p%.0f: expected %d, got %d", c.p*100, c.want, got)
		}
	}
	if ComputePercentile(nil, 0.5) != 0 {
		t.Error("expected 0 for empty input")
	}
}

func TestComputeStatistics_DoesNotModifyInput(t *testing.T) {
	ms := sample()
	first := ms[0]
	_ = ComputeStatistics(ms, time.Second)
	_ = ComputeEndpointStatistics(ms)
	_ = AnalyzeErrors(ms, 1)
	if ms[0] != first || len(ms) != 7 {
		t.Error("pure functions modified their input")
	}
}

func BenchmarkComputeStatistics(b *testing.B) {
	ms := make([]core.Metric, 10000)
	for i := range ms {
		ms[i] = metric("GET", "/a", 200, time.Duration(i)*time.Microsecond)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ComputeStatistics(ms, time.Second)
	}
}
