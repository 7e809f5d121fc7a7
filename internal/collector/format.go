package collector

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"
)

// FormatText writes a report in human-readable format.
func FormatText(w io.Writer, r *Report) {
	s := r.Summary
	if s.TotalRequests == 0 {
		fmt.Fprintln(w, "No requests recorded")
		return
	}

	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "apisim - Simulation %s\n", s.RunID)
	fmt.Fprintln(w, "==============================")
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "Duration:       %v\n", time.Duration(s.ElapsedSeconds*float64(time.Second)).Round(time.Millisecond))
	fmt.Fprintf(w, "Total Requests: %s\n", formatNumber(s.TotalRequests))
	fmt.Fprintf(w, "Successful:     %s (%.1f%% errors)\n", formatNumber(s.SuccessfulRequests), s.ErrorRatePercent)
	fmt.Fprintf(w, "Requests/sec:   %.1f\n", s.RequestsPerSecond)
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Response Times:")
	fmt.Fprintf(w, "  Min:    %s\n", formatMillis(s.MinResponseMs))
	fmt.Fprintf(w, "  Avg:    %s\n", formatMillis(s.AvgResponseMs))
	fmt.Fprintf(w, "  P50:    %s\n", formatMillis(s.P50ResponseMs))
	fmt.Fprintf(w, "  P90:    %s\n", formatMillis(s.P90ResponseMs))
	fmt.Fprintf(w, "  P95:    %s\n", formatMillis(s.P95ResponseMs))
	fmt.Fprintf(w, "  P99:    %s\n", formatMillis(s.P99ResponseMs))
	fmt.Fprintf(w, "  Max:    %s\n", formatMillis(s.MaxResponseMs))

	if len(r.StatusCodes) > 0 {
		fmt.Fprintln(w, "")
		fmt.Fprintln(w, "Status Codes:")
		codes := make([]int, 0, len(r.StatusCodes))
		for code := range r.StatusCodes {
			codes = append(codes, code)
		}
		sort.Ints(codes)
		for _, code := range codes {
			label := fmt.Sprintf("%d", code)
			if code == 0 {
				label = "error"
			}
			fmt.Fprintf(w, "  %-6s %s\n", label, formatNumber(r.StatusCodes[code]))
		}
	}

	if len(r.Endpoints) > 0 {
		fmt.Fprintln(w, "")
		fmt.Fprintln(w, "By Endpoint:")
		keys := make([]string, 0, len(r.Endpoints))
		for key := range r.Endpoints {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			es := r.Endpoints[key]
			fmt.Fprintf(w, "  %-30s %s reqs   avg=%s  p95=%s  errors=%.1f%%\n",
				key, formatNumber(es.TotalRequests),
				formatMillis(es.AvgResponseMs),
				formatMillis(es.P95ResponseMs),
				es.ErrorRatePercent)
		}
	}

	if len(r.Errors.CommonErrors) > 0 {
		fmt.Fprintln(w, "")
		fmt.Fprintln(w, "Top Errors:")
		for _, e := range r.Errors.CommonErrors {
			fmt.Fprintf(w, "  %5d  %s\n", e.Count, e.Message)
		}
	}

	if r.Thresholds != nil && len(r.Thresholds.Results) > 0 {
		fmt.Fprintln(w, "")
		fmt.Fprintln(w, "Thresholds:")
		for _, result := range r.Thresholds.Results {
			symbol := "✓"
			if !result.Passed {
				symbol = "✗"
			}
			fmt.Fprintf(w, "  %s %s <= %s (actual: %s)\n",
				symbol, result.Name, result.Limit, result.Actual)
		}
	}
}

// FormatJSON writes the report without raw metrics.
func FormatJSON(w io.Writer, r *Report) {
	out := *r
	out.RawMetrics = nil
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(out) // stdout errors are unrecoverable
}

// FormatDuration renders d at the precision a reader cares about.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return d.Round(time.Second).String()
}

func formatMillis(ms float64) string {
	return FormatDuration(time.Duration(ms * float64(time.Millisecond)))
}

func formatNumber(n int) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%d,%03d", n/1000, n%1000)
	}
	return fmt.Sprintf("%d,%03d,%03d", n/1000000, n/1000%1000, n%1000)
}
