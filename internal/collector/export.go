package collector

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"apisim/internal/core"
)

// Report is the exported document of a run.
type Report struct {
	Summary         Summary                       `json:"simulation_summary"`
	StatusCodes     map[int]int                   `json:"status_code_distribution"`
	Endpoints       map[string]EndpointStatistics `json:"endpoint_statistics"`
	Errors          ErrorAnalysis                 `json:"error_analysis"`
	ExportTimestamp time.Time                     `json:"export_timestamp"`
	Thresholds      *Verdicts                     `json:"thresholds,omitempty"`
	RawMetrics      []core.Metric                 `json:"raw_metrics,omitempty"`
}

// ExportOptions controls what Export writes.
type ExportOptions struct {
	IncludeRaw bool
	TopErrors  int
	// Thresholds, when set, are checked against the summary and the result
	// is embedded in the report.
	Thresholds *Thresholds
}

// BuildReport assembles the report from one snapshot of the log. The run is
// finalized first if it was not already.
func (c *Collector) BuildReport(opts ExportOptions) *Report {
	summary := c.Finalize()
	metrics, _ := c.snapshot()
	endpoints := ComputeEndpointStatistics(metrics)
	r := &Report{
		Summary:         summary,
		StatusCodes:     StatusCodes(metrics),
		Endpoints:       endpoints,
		Errors:          AnalyzeErrors(metrics, opts.TopErrors),
		ExportTimestamp: c.clock.Now().UTC(),
	}
	if opts.Thresholds != nil {
		r.Thresholds = opts.Thresholds.Check(summary.Statistics, endpoints)
	}
	if opts.IncludeRaw {
		r.RawMetrics = metrics
	}
	return r
}

// Export writes simulation_<runID>_<YYYYMMDD_HHMMSS>.json into dir and
// returns its path. An existing file is never overwritten: a _N suffix is
// added instead.
func (c *Collector) Export(dir string, opts ExportOptions) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating output directory: %w", err)
	}
	report := c.BuildReport(opts)
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding report: %w", err)
	}

	base := fmt.Sprintf("simulation_%s_%s", c.runID, c.clock.Now().Format("20060102_150405"))
	f, path, err := createUnique(dir, base, ".json")
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return "", fmt.Errorf("writing report: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing report: %w", err)
	}
	return path, nil
}

func createUnique(dir, base, ext string) (*os.File, string, error) {
	for n := 0; ; n++ {
		name := base + ext
		if n > 0 {
			name = fmt.Sprintf("%s_%d%s", base, n, ext)
		}
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", fmt.Errorf("creating report file: %w", err)
		}
	}
}

// ReadReport loads a previously exported report.
func ReadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading report: %w", err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing report %s: %w", path, err)
	}
	return &r, nil
}
