package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"apisim/internal/collector"
	"apisim/internal/config"
	"apisim/internal/control"
	"apisim/internal/engine"
	"apisim/internal/progress"
	"apisim/internal/telemetry"
)

type runOptions struct {
	configPath  string
	output      string
	quiet       bool
	verbose     bool
	dryRun      bool
	metricsAddr string
	target      int
	threads     int
	delayMs     int
}

func newRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a simulation described by a YAML config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.output != "text" && opts.output != "json" {
				return fmt.Errorf("--output must be 'text' or 'json', got %q", opts.output)
			}
			cfg, err := config.LoadConfig(opts.configPath)
			if err != nil {
				return err
			}
			// Flags override file values.
			flags := cmd.Flags()
			if flags.Changed("target") {
				cfg.TargetRequests = opts.target
			}
			if flags.Changed("threads") {
				cfg.ConcurrentThreads = opts.threads
			}
			if flags.Changed("delay") {
				cfg.RequestDelayMs = opts.delayMs
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if opts.dryRun {
				return dryRun(cmd.Context(), cmd.OutOrStdout(), *cfg)
			}
			return runSimulation(cmd.Context(), cmd.OutOrStdout(), *cfg, opts)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "path to YAML run config (required)")
	f.StringVarP(&opts.output, "output", "o", "text", "output format: text, json")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "suppress progress output during the run")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug output (request/response logging)")
	f.BoolVar(&opts.dryRun, "dry-run", false, "load and filter endpoints, print generated fields, send nothing")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	f.IntVar(&opts.target, "target", 0, "override target_requests")
	f.IntVar(&opts.threads, "threads", 0, "override concurrent_threads")
	f.IntVar(&opts.delayMs, "delay", 0, "override request_delay_ms")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func runSimulation(parent context.Context, out io.Writer, cfg config.RunConfig, opts runOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	logger := newLogger(opts.verbose, opts.quiet)
	prog := progress.NewProgress(opts.quiet)

	engineOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithObserver(prog),
		engine.WithHTTPClient(newHTTPClient()),
	}
	if opts.verbose {
		engineOpts = append(engineOpts, engine.WithDebug(os.Stderr))
	}
	var metrics *telemetry.Metrics
	if opts.metricsAddr != "" {
		metrics = telemetry.New()
		engineOpts = append(engineOpts, engine.WithHook(metrics), engine.WithObserver(metrics))
	}

	eng, err := engine.New(cfg, engineOpts...)
	if err != nil {
		return err
	}
	defer eng.Close()

	if metrics != nil {
		srv := metrics.Serve(opts.metricsAddr, func(err error) {
			logger.Error().Err(err).Str("addr", opts.metricsAddr).Msg("metrics server")
		})
		defer srv.Close()
		logger.Info().Str("addr", opts.metricsAddr).Msg("serving metrics")
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	prog.Printf("apisim starting: run %s, %d requests, %d threads, config %q",
		eng.RunID(), cfg.TargetRequests, cfg.ConcurrentThreads, cfg.Name)
	prog.Start()
	runErr := eng.Run(ctx)
	prog.Stop()
	interrupted := ctx.Err() != nil && parent.Err() == nil

	if runErr != nil {
		return &exitError{code: ExitError, err: runErr}
	}

	path, err := eng.Export()
	if err != nil {
		logger.Error().Err(err).Msg("exporting report")
	}
	report := eng.Report()
	if opts.output == "json" {
		collector.FormatJSON(out, report)
	} else {
		collector.FormatText(out, report)
		if path != "" {
			fmt.Fprintf(out, "\nReport: %s\n", path)
		}
	}

	if interrupted {
		return nil
	}
	if report.Thresholds != nil && !report.Thresholds.Passed {
		if opts.output == "text" {
			fmt.Fprintln(os.Stderr, "\nThreshold check failed!")
		}
		return &exitError{code: ExitThresholdFailed, err: fmt.Errorf("thresholds failed")}
	}
	return nil
}

// dryRun initializes against an in-memory control store and prints what
// would be sent.
func dryRun(ctx context.Context, out io.Writer, cfg config.RunConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	eng, err := engine.New(cfg,
		engine.WithStore(control.NewMemoryStore()),
		engine.WithHTTPClient(newHTTPClient()),
	)
	if err != nil {
		return err
	}
	defer eng.Close()
	if err := eng.Initialize(ctx); err != nil {
		return err
	}

	doc := eng.Document()
	info := doc.Info()
	fmt.Fprintf(out, "%s %s (%s)\n", info.Title, info.Version, doc.Dialect())
	fmt.Fprintf(out, "Base URL: %s\n", doc.BaseURL())
	eps := eng.Endpoints()
	fmt.Fprintf(out, "Endpoints: %d of %d selected\n", len(eps), len(doc.Endpoints()))

	gen := eng.Generator()
	for _, ep := range eps {
		fmt.Fprintf(out, "\n%s", ep.Key())
		if ep.Summary != "" {
			fmt.Fprintf(out, "  %s", ep.Summary)
		}
		fmt.Fprintln(out)
		fields := gen.Explain(ep)
		if len(fields) == 0 {
			continue
		}
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, f := range fields {
			req := ""
			if f.Required {
				req = "required"
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\n", f.Location, f.Name, f.Type, req, f.Source)
		}
		tw.Flush()
	}
	return nil
}

func newHTTPClient() *http.Client {
	return &http.Client{Transport: &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}}
}
