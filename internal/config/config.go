// Package config handles YAML run configuration parsing.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"apisim/internal/auth"
	"apisim/internal/collector"
	"apisim/internal/control"
	"apisim/internal/data"
	"apisim/internal/template"

	"gopkg.in/yaml.v3"
)

// Defaults applied to keys absent from the file.
const (
	DefaultTargetRequests    = 100
	DefaultConcurrentThreads = 5
	DefaultRequestTimeout    = 30 * time.Second
	DefaultOptionalFieldProb = 0.5
	DefaultOutputDirectory   = "data/metrics"
)

// RunConfig describes one simulation run.
type RunConfig struct {
	Name                     string                `yaml:"name"`
	APISource                string                `yaml:"api_source"`
	Environment              string                `yaml:"environment"`
	TargetRequests           int                   `yaml:"target_requests"`
	ConcurrentThreads        int                   `yaml:"concurrent_threads"`
	RequestDelayMs           int                   `yaml:"request_delay_ms"`
	RequestTimeout           time.Duration         `yaml:"request_timeout"`
	OptionalFieldProbability float64               `yaml:"optional_field_probability"`
	Seed                     int64                 `yaml:"seed"`
	Auth                     auth.Config           `yaml:"auth"`
	OutputDirectory          string                `yaml:"output_directory"`
	IncludeEndpoints         []string              `yaml:"include_endpoints"`
	ExcludeEndpoints         []string              `yaml:"exclude_endpoints"`
	CustomHeaders            map[string]string     `yaml:"custom_headers"`
	Control                  ControlConfig         `yaml:"control"`
	Export                   ExportConfig          `yaml:"export"`
	Data                     []data.File           `yaml:"data,omitempty"`
	Thresholds               *collector.Thresholds `yaml:"thresholds,omitempty"`

	// Dir is the directory relative data files resolve against.
	Dir string `yaml:"-"`
}

// ControlConfig selects where the run-state record lives.
type ControlConfig struct {
	Backend   control.Backend `yaml:"backend"`
	Directory string          `yaml:"directory"`
}

// ExportConfig controls the exported report.
type ExportConfig struct {
	IncludeRaw bool `yaml:"include_raw"`
	TopErrors  int  `yaml:"top_errors"`
}

// Default returns a RunConfig with every default filled in.
func Default() RunConfig {
	return RunConfig{
		TargetRequests:           DefaultTargetRequests,
		ConcurrentThreads:        DefaultConcurrentThreads,
		RequestTimeout:           DefaultRequestTimeout,
		OptionalFieldProbability: DefaultOptionalFieldProb,
		OutputDirectory:          DefaultOutputDirectory,
		Control: ControlConfig{
			Backend:   control.BackendFile,
			Directory: control.DefaultDirectory,
		},
		Export: ExportConfig{
			IncludeRaw: true,
			TopErrors:  collector.DefaultTopErrors,
		},
	}
}

// LoadConfig reads, expands and validates a YAML run configuration file.
func LoadConfig(path string) (*RunConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	cfg.Dir = filepath.Dir(path)
	return cfg, nil
}

// Parse decodes YAML over the defaults, expands ${env:VAR} placeholders and
// validates the result.
func Parse(raw []byte) (*RunConfig, error) {
	cfg := Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := cfg.expandEnv(); err != nil {
		return nil, fmt.Errorf("expanding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate reports every problem at once.
func (c *RunConfig) Validate() error {
	var errs []error
	if c.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if c.APISource == "" {
		errs = append(errs, errors.New("api_source is required"))
	}
	if c.TargetRequests < 0 {
		errs = append(errs, fmt.Errorf("target_requests must be >= 0, got %d", c.TargetRequests))
	}
	if c.ConcurrentThreads <= 0 {
		errs = append(errs, fmt.Errorf("concurrent_threads must be > 0, got %d", c.ConcurrentThreads))
	}
	if c.RequestDelayMs < 0 {
		errs = append(errs, fmt.Errorf("request_delay_ms must be >= 0, got %d", c.RequestDelayMs))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout))
	}
	if c.OptionalFieldProbability < 0 || c.OptionalFieldProbability > 1 {
		errs = append(errs, fmt.Errorf("optional_field_probability must be in [0,1], got %g", c.OptionalFieldProbability))
	}
	if !auth.Known(c.Auth.Type) {
		errs = append(errs, fmt.Errorf("unknown auth type %q", c.Auth.Type))
	}
	switch c.Control.Backend {
	case "", control.BackendFile, control.BackendSQLite, control.BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown control backend %q", c.Control.Backend))
	}
	if c.Export.TopErrors < 0 {
		errs = append(errs, fmt.Errorf("export.top_errors must be >= 0, got %d", c.Export.TopErrors))
	}
	for i, f := range c.Data {
		if f.File == "" {
			errs = append(errs, fmt.Errorf("data[%d]: file is required", i))
		}
	}
	if err := c.Thresholds.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("thresholds: %w", err))
	}
	return errors.Join(errs...)
}

// RequestDelay is RequestDelayMs as a duration.
func (c *RunConfig) RequestDelay() time.Duration {
	return time.Duration(c.RequestDelayMs) * time.Millisecond
}

// expandEnv resolves ${env:VAR} in every string field. Other placeholders
// such as ${uuid()} in custom headers are left for per-request expansion.
func (c *RunConfig) expandEnv() error {
	var errs []error
	expand := func(field string, s *string) {
		v, err := template.ExpandEnv(*s)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
			return
		}
		*s = v
	}

	expand("name", &c.Name)
	expand("api_source", &c.APISource)
	expand("environment", &c.Environment)
	expand("output_directory", &c.OutputDirectory)
	expand("auth.token", &c.Auth.Token)
	expand("auth.token_url", &c.Auth.TokenURL)
	expand("auth.client_id", &c.Auth.ClientID)
	expand("auth.client_secret", &c.Auth.ClientSecret)
	expand("auth.header_name", &c.Auth.HeaderName)
	expand("auth.api_key", &c.Auth.APIKey)
	expand("auth.username", &c.Auth.Username)
	expand("auth.password", &c.Auth.Password)
	expand("control.directory", &c.Control.Directory)
	for i := range c.Data {
		expand(fmt.Sprintf("data[%d].file", i), &c.Data[i].File)
	}
	for k, v := range c.CustomHeaders {
		expand("custom_headers."+k, &v)
		c.CustomHeaders[k] = v
	}
	return errors.Join(errs...)
}
