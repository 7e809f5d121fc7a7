package collector_test

import (
	"fmt"
	"time"

	"apisim/internal/collector"
	"apisim/internal/core"
)

func ExampleNewCollector() {
	c := collector.NewCollector("demo")

	c.Record(core.Metric{Method: "GET", EndpointPath: "/users", StatusCode: 200, Latency: 12 * time.Millisecond})
	c.Record(core.Metric{Method: "GET", EndpointPath: "/users", StatusCode: 503})

	summary := c.Finalize()
	fmt.Printf("Total: %d, Success: %d, Errors: %.0f%%\n",
		summary.TotalRequests, summary.SuccessfulRequests, summary.ErrorRatePercent)
	// Output: Total: 2, Success: 1, Errors: 50%
}

func ExampleAnalyzeErrors() {
	metrics := []core.Metric{
		{Method: "GET", EndpointPath: "/a", StatusCode: 0, Error: "timeout"},
		{Method: "GET", EndpointPath: "/a", StatusCode: 0, Error: "timeout"},
		{Method: "GET", EndpointPath: "/b", StatusCode: 500},
		{Method: "GET", EndpointPath: "/b", StatusCode: 200},
	}

	analysis := collector.AnalyzeErrors(metrics, 5)
	for _, e := range analysis.CommonErrors {
		fmt.Printf("%d %s\n", e.Count, e.Message)
	}
	// Output:
	// 2 timeout
	// 1 HTTP 500
}
