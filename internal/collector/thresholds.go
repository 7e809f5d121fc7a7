package collector

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Thresholds are pass/fail limits evaluated against a finished run. The
// yaml keys follow the k6 names most users already know.
type Thresholds struct {
	HTTPReqDuration *LatencyLimits  `yaml:"http_req_duration"`
	HTTPReqFailed   *FailureLimit   `yaml:"http_req_failed"`
	// Endpoints holds limits for single endpoints keyed "METHOD path".
	Endpoints map[string]EndpointLimits `yaml:"endpoints"`
}

// LatencyLimits caps run-wide response times. Zero fields are unchecked.
type LatencyLimits struct {
	Avg time.Duration `yaml:"avg"`
	P50 time.Duration `yaml:"p50"`
	P90 time.Duration `yaml:"p90"`
	P95 time.Duration `yaml:"p95"`
	P99 time.Duration `yaml:"p99"`
}

// FailureLimit caps the run-wide error rate, written as a percentage ("5%").
type FailureLimit struct {
	Rate string `yaml:"rate"`
}

// EndpointLimits caps one endpoint's p95 latency and error rate.
type EndpointLimits struct {
	P95       time.Duration `yaml:"p95"`
	ErrorRate string        `yaml:"error_rate"`
}

// Verdict is the outcome of one limit.
type Verdict struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Limit  string `json:"threshold"`
	Actual string `json:"actual"`
}

// Verdicts is the outcome of every configured limit. Passed is false as
// soon as one limit is exceeded.
type Verdicts struct {
	Passed  bool      `json:"passed"`
	Results []Verdict `json:"results"`
}

func (v *Verdicts) add(name string, passed bool, limit, actual string) {
	v.Results = append(v.Results, Verdict{Name: name, Passed: passed, Limit: limit, Actual: actual})
	v.Passed = v.Passed && passed
}

func (v *Verdicts) latency(name string, limit, actual time.Duration) {
	if limit <= 0 {
		return
	}
	v.add(name, actual <= limit, FormatDuration(limit), FormatDuration(actual))
}

func (v *Verdicts) rate(name, limit string, actual float64) {
	if limit == "" {
		return
	}
	max, err := ParsePercentage(limit)
	if err != nil {
		return
	}
	v.add(name, actual <= max, limit, fmt.Sprintf("%.2f%%", actual))
}

// Check evaluates t against run statistics and the per-endpoint breakdown.
// A nil receiver passes. Endpoint limits for endpoints that saw no traffic
// are skipped.
func (t *Thresholds) Check(s Statistics, endpoints map[string]EndpointStatistics) *Verdicts {
	v := &Verdicts{Passed: true}
	if t == nil {
		return v
	}
	if l := t.HTTPReqDuration; l != nil {
		v.latency("http_req_duration.avg", l.Avg, s.Latency.Avg)
		v.latency("http_req_duration.p50", l.P50, s.Latency.P50)
		v.latency("http_req_duration.p90", l.P90, s.Latency.P90)
		v.latency("http_req_duration.p95", l.P95, s.Latency.P95)
		v.latency("http_req_duration.p99", l.P99, s.Latency.P99)
	}
	if t.HTTPReqFailed != nil {
		v.rate("http_req_failed.rate", t.HTTPReqFailed.Rate, s.ErrorRatePercent)
	}

	keys := make([]string, 0, len(t.Endpoints))
	for k := range t.Endpoints {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		got, ok := endpoints[key]
		if !ok {
			continue
		}
		l := t.Endpoints[key]
		p95 := time.Duration(got.P95ResponseMs * float64(time.Millisecond))
		v.latency(key+" p95", l.P95, p95)
		v.rate(key+" error_rate", l.ErrorRate, got.ErrorRatePercent)
	}
	return v
}

// Validate reports every malformed rate at once.
func (t *Thresholds) Validate() error {
	if t == nil {
		return nil
	}
	var errs []error
	if t.HTTPReqFailed != nil && t.HTTPReqFailed.Rate != "" {
		if _, err := ParsePercentage(t.HTTPReqFailed.Rate); err != nil {
			errs = append(errs, fmt.Errorf("http_req_failed.rate: %w", err))
		}
	}
	for key, l := range t.Endpoints {
		if l.ErrorRate == "" {
			continue
		}
		if _, err := ParsePercentage(l.ErrorRate); err != nil {
			errs = append(errs, fmt.Errorf("endpoints[%q].error_rate: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// Violations returns the limits that were exceeded.
func (v *Verdicts) Violations() []Verdict {
	var out []Verdict
	for _, r := range v.Results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}

// ParsePercentage parses "5%" or "0.5%" into 5 or 0.5.
func ParsePercentage(s string) (float64, error) {
	num, ok := strings.CutSuffix(strings.TrimSpace(s), "%")
	if !ok {
		return 0, fmt.Errorf("invalid percentage %q: missing %%", s)
	}
	v, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid percentage %q: %w", s, err)
	}
	return v, nil
}
