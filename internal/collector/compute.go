package collector

import (
	"fmt"
	"math"
	"sort"
	"time"

	"apisim/internal/core"
)

// DefaultTopErrors is how many messages ErrorAnalysis lists by default.
const DefaultTopErrors = 5

// DurationMetrics contains latency statistics.
type DurationMetrics struct {
	Min time.Duration
	Max time.Duration
	Avg time.Duration
	P50 time.Duration
	P90 time.Duration
	P95 time.Duration
	P99 time.Duration
}

// Statistics is the aggregate view of a metric log. Success means a 2xx
// status; every other metric counts as failed.
type Statistics struct {
	TotalRequests      int     `json:"total_requests"`
	SuccessfulRequests int     `json:"successful_requests"`
	FailedRequests     int     `json:"failed_requests"`
	AvgResponseMs      float64 `json:"avg_response_time_ms"`
	MinResponseMs      float64 `json:"min_response_time_ms"`
	MaxResponseMs      float64 `json:"max_response_time_ms"`
	P50ResponseMs      float64 `json:"p50_response_time_ms"`
	P90ResponseMs      float64 `json:"p90_response_time_ms"`
	P95ResponseMs      float64 `json:"p95_response_time_ms"`
	P99ResponseMs      float64 `json:"p99_response_time_ms"`
	RequestsPerSecond  float64 `json:"requests_per_second"`
	ErrorRatePercent   float64 `json:"error_rate_percent"`
	ElapsedSeconds     float64 `json:"elapsed_time_seconds"`

	Latency DurationMetrics `json:"-"`
	Elapsed time.Duration   `json:"-"`
}

// Summary is the finalized outcome of a run.
type Summary struct {
	RunID     string    `json:"simulation_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Statistics
}

// EndpointStatistics aggregates the metrics of one endpoint.
type EndpointStatistics struct {
	TotalRequests      int         `json:"total_requests"`
	SuccessfulRequests int         `json:"successful_requests"`
	FailedRequests     int         `json:"failed_requests"`
	AvgResponseMs      float64     `json:"avg_response_time_ms"`
	MinResponseMs      float64     `json:"min_response_time_ms"`
	MaxResponseMs      float64     `json:"max_response_time_ms"`
	P95ResponseMs      float64     `json:"p95_response_time_ms"`
	StatusCodes        map[int]int `json:"status_codes"`
	ErrorRatePercent   float64     `json:"error_rate_percent"`
}

// ErrorCount is one entry of the most common error messages.
type ErrorCount struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// ErrorAnalysis groups failed metrics: status 0, status >= 400, or an
// error message.
type ErrorAnalysis struct {
	TotalErrors  int            `json:"total_errors"`
	ByStatusCode map[int]int    `json:"error_by_status_code"`
	ByEndpoint   map[string]int `json:"error_by_endpoint"`
	Messages     map[string]int `json:"error_messages"`
	CommonErrors []ErrorCount   `json:"common_errors"`
}

// ComputeStatistics aggregates metrics over elapsed. Pure function.
func ComputeStatistics(metrics []core.Metric, elapsed time.Duration) Statistics {
	s := Statistics{
		TotalRequests:  len(metrics),
		Elapsed:        elapsed,
		ElapsedSeconds: round2(elapsed.Seconds()),
	}
	if len(metrics) == 0 {
		return s
	}

	durations := make([]time.Duration, 0, len(metrics))
	for _, m := range metrics {
		if m.Success() {
			s.SuccessfulRequests++
		}
		durations = append(durations, m.Latency)
	}
	s.FailedRequests = s.TotalRequests - s.SuccessfulRequests
	s.ErrorRatePercent = round2(float64(s.FailedRequests) / float64(s.TotalRequests) * 100)
	if elapsed > 0 {
		s.RequestsPerSecond = round2(float64(s.TotalRequests) / elapsed.Seconds())
	}

	s.Latency = ComputeDurationMetrics(durations)
	s.AvgResponseMs = millis(s.Latency.Avg)
	s.MinResponseMs = millis(s.Latency.Min)
	s.MaxResponseMs = millis(s.Latency.Max)
	s.P50ResponseMs = millis(s.Latency.P50)
	s.P90ResponseMs = millis(s.Latency.P90)
	s.P95ResponseMs = millis(s.Latency.P95)
	s.P99ResponseMs = millis(s.Latency.P99)
	return s
}

// StatusCodes counts metrics per status code. Pure function.
func StatusCodes(metrics []core.Metric) map[int]int {
	dist := make(map[int]int)
	for _, m := range metrics {
		dist[m.StatusCode]++
	}
	return dist
}

// ComputeEndpointStatistics aggregates metrics per endpoint key. Pure function.
func ComputeEndpointStatistics(metrics []core.Metric) map[string]EndpointStatistics {
	grouped := make(map[string][]core.Metric)
	for _, m := range metrics {
		key := m.EndpointKey()
		grouped[key] = append(grouped[key], m)
	}

	out := make(map[string]EndpointStatistics, len(grouped))
	for key, ms := range grouped {
		st := EndpointStatistics{
			TotalRequests: len(ms),
			StatusCodes:   StatusCodes(ms),
		}
		durations := make([]time.Duration, 0, len(ms))
		for _, m := range ms {
			if m.Success() {
				st.SuccessfulRequests++
			}
			durations = append(durations, m.Latency)
		}
		st.FailedRequests = st.TotalRequests - st.SuccessfulRequests
		st.ErrorRatePercent = round2(float64(st.FailedRequests) / float64(st.TotalRequests) * 100)

		d := ComputeDurationMetrics(durations)
		st.AvgResponseMs = millis(d.Avg)
		st.MinResponseMs = millis(d.Min)
		st.MaxResponseMs = millis(d.Max)
		st.P95ResponseMs = millis(d.P95)
		out[key] = st
	}
	return out
}

// AnalyzeErrors groups failed metrics. Messages are ranked by count, ties
// broken by message so the ranking is stable. Pure function.
func AnalyzeErrors(metrics []core.Metric, topN int) ErrorAnalysis {
	if topN <= 0 {
		topN = DefaultTopErrors
	}
	a := ErrorAnalysis{
		ByStatusCode: make(map[int]int),
		ByEndpoint:   make(map[string]int),
		Messages:     make(map[string]int),
		CommonErrors: make([]ErrorCount, 0),
	}
	for _, m := range metrics {
		if !m.Failed() {
			continue
		}
		a.TotalErrors++
		a.ByStatusCode[m.StatusCode]++
		a.ByEndpoint[m.EndpointKey()]++
		a.Messages[errorMessage(m)]++
	}

	for msg, n := range a.Messages {
		a.CommonErrors = append(a.CommonErrors, ErrorCount{Message: msg, Count: n})
	}
	sort.Slice(a.CommonErrors, func(i, j int) bool {
		if a.CommonErrors[i].Count != a.CommonErrors[j].Count {
			return a.CommonErrors[i].Count > a.CommonErrors[j].Count
		}
		return a.CommonErrors[i].Message < a.CommonErrors[j].Message
	})
	if len(a.CommonErrors) > topN {
		a.CommonErrors = a.CommonErrors[:topN]
	}
	return a
}

func errorMessage(m core.Metric) string {
	switch {
	case m.Error != "":
		return m.Error
	case m.ResponseMessage != "":
		return fmt.Sprintf("HTTP %d: %s", m.StatusCode, m.ResponseMessage)
	}
	return fmt.Sprintf("HTTP %d", m.StatusCode)
}

// ComputePercentile returns the percentile value from a sorted slice.
// p should be between 0 and 1 (e.g., 0.95 for 95th percentile).
func ComputePercentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}

	// Use the "nearest rank" method
	index := int(float64(len(sorted)-1) * p)
	return sorted[index]
}

// ComputeDurationMetrics calculates all duration statistics from a slice of durations.
func ComputeDurationMetrics(durations []time.Duration) DurationMetrics {
	if len(durations) == 0 {
		return DurationMetrics{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var total time.Duration
	for _, d := range sorted {
		total += d
	}

	return DurationMetrics{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: total / time.Duration(len(sorted)),
		P50: ComputePercentile(sorted, 0.50),
		P90: ComputePercentile(sorted, 0.90),
		P95: ComputePercentile(sorted, 0.95),
		P99: ComputePercentile(sorted, 0.99),
	}
}

func millis(d time.Duration) float64 {
	return round2(float64(d) / float64(time.Millisecond))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
