// Package engine orchestrates a simulation run: it loads the API
// description, filters endpoints, drives the worker pool and keeps the
// control record and observers up to date.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"apisim/internal/auth"
	"apisim/internal/collector"
	"apisim/internal/config"
	"apisim/internal/control"
	"apisim/internal/coordinator"
	"apisim/internal/core"
	"apisim/internal/data"
	"apisim/internal/generator"
	apihttp "apisim/internal/http"
	"apisim/internal/ratelimit"
	"apisim/internal/spec"
	"apisim/internal/template"
)

// Engine runs one simulation. Create it with New, then call Run.
type Engine struct {
	cfg          config.RunConfig
	runID        string
	logger       zerolog.Logger
	clock        core.Clock
	client       *http.Client
	store        control.Store
	ownsStore    bool
	hooks        []collector.Hook
	debugOut     io.Writer
	pollInterval time.Duration

	obsMu     sync.RWMutex
	observers []core.Observer

	provider   auth.Provider
	gen        *generator.Generator
	collector  *collector.Collector
	controller *control.Controller
	coord      *coordinator.Coordinator
	loader     *spec.Loader

	rngMu sync.Mutex
	rng   *rand.Rand

	mu          sync.Mutex
	state       core.State
	initialized bool
	started     bool
	startTime   time.Time
	doc         *spec.Document
	endpoints   []spec.Endpoint
	dispatcher  *apihttp.Dispatcher

	errCount  atomic.Int64
	lastError atomic.Value // string
}

// New wires every component of a run and creates its control record in the
// initializing state.
func New(cfg config.RunConfig, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:          cfg,
		logger:       zerolog.Nop(),
		clock:        core.RealClock{},
		client:       &http.Client{},
		pollInterval: DefaultPollInterval,
		state:        core.StateInitializing,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.runID == "" {
		e.runID = uuid.NewString()
	}
	e.logger = e.logger.With().Str("run_id", e.runID).Logger()

	provider, err := auth.New(cfg.Auth,
		auth.WithHTTPClient(e.client),
		auth.WithClock(e.clock),
		auth.WithLogger(e.logger),
		auth.WithExchangeTimeout(cfg.RequestTimeout),
	)
	if err != nil {
		return nil, err
	}
	e.provider = provider

	sources, err := data.Load(cfg.Data, cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("loading data files: %w", err)
	}

	genOpts := []generator.Option{
		generator.WithSeed(cfg.Seed),
		generator.WithOptionalProbability(cfg.OptionalFieldProbability),
	}
	if len(sources) > 0 {
		genOpts = append(genOpts, generator.WithFixtures(sources))
	}
	e.gen = generator.New(genOpts...)

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	e.rng = rand.New(rand.NewSource(seed))

	colOpts := []collector.Option{collector.WithClock(e.clock)}
	for _, h := range e.hooks {
		colOpts = append(colOpts, collector.WithHook(h))
	}
	e.collector = collector.NewCollector(e.runID, colOpts...)

	if e.store == nil {
		store, err := control.Open(cfg.Control.Backend, cfg.Control.Directory)
		if err != nil {
			return nil, fmt.Errorf("opening control store: %w", err)
		}
		e.store = store
		e.ownsStore = true
	}
	ctrl, err := control.New(context.Background(), e.store, e.runID, e.clock)
	if err != nil {
		e.closeStore()
		return nil, err
	}
	e.controller = ctrl

	e.loader = &spec.Loader{Client: e.client}
	e.coord = coordinator.NewCoordinator(cfg.ConcurrentThreads, e.handle,
		coordinator.WithThrottle(ratelimit.NewThrottle(cfg.RequestDelay())),
		coordinator.WithHarvester(e.harvest),
	)
	return e, nil
}

func (e *Engine) RunID() string { return e.runID }

// Collector returns the run's metric collector.
func (e *Engine) Collector() *collector.Collector { return e.collector }

// Controller returns the run's control record handle.
func (e *Engine) Controller() *control.Controller { return e.controller }

// Generator returns the request data generator.
func (e *Engine) Generator() *generator.Generator { return e.gen }

// Document returns the parsed API description, nil before Initialize.
func (e *Engine) Document() *spec.Document {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.doc
}

// Endpoints returns the endpoints left after filtering.
func (e *Engine) Endpoints() []spec.Endpoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]spec.Endpoint, len(e.endpoints))
	copy(out, e.endpoints)
	return out
}

// AddObserver registers o for status snapshots.
func (e *Engine) AddObserver(o core.Observer) {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	e.observers = append(e.observers, o)
}

// State returns the current lifecycle state.
func (e *Engine) State() core.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Initialize loads the API description and filters its endpoints. On
// failure the run is marked failed and the error returned.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	done := e.initialized
	e.mu.Unlock()
	if done {
		return nil
	}

	if err := e.setState(ctx, core.StateLoadingSpecification); err != nil {
		return err
	}
	source := e.specSource()
	e.logger.Info().Str("source", source).Msg("loading specification")
	doc, err := e.loader.Load(ctx, source)
	if err != nil {
		return e.fail(ctx, err)
	}

	if err := e.setState(ctx, core.StateAnalyzingEndpoints); err != nil {
		return err
	}
	all := doc.Endpoints()
	eps := FilterEndpoints(all, e.cfg.IncludeEndpoints, e.cfg.ExcludeEndpoints)
	e.logger.Info().
		Int("endpoints", len(all)).
		Int("selected", len(eps)).
		Str("base_url", doc.BaseURL()).
		Msg("endpoints analyzed")
	if len(eps) == 0 {
		return e.fail(ctx, &FilterExhaustionError{
			Total:   len(all),
			Include: e.cfg.IncludeEndpoints,
			Exclude: e.cfg.ExcludeEndpoints,
		})
	}

	dispOpts := []apihttp.Option{
		apihttp.WithClient(e.client),
		apihttp.WithTimeout(e.cfg.RequestTimeout),
		apihttp.WithClock(e.clock),
	}
	if e.debugOut != nil {
		dispOpts = append(dispOpts, apihttp.WithDebug(apihttp.NewDebugLogger(e.debugOut)))
	}

	e.mu.Lock()
	e.doc = doc
	e.endpoints = eps
	e.dispatcher = apihttp.NewDispatcher(doc.BaseURL(), dispOpts...)
	e.initialized = true
	e.mu.Unlock()

	return e.setState(ctx, core.StateReady, control.WithTarget(e.cfg.TargetRequests))
}

// specSource resolves a relative file source against the config directory.
func (e *Engine) specSource() string {
	src := e.cfg.APISource
	if e.cfg.Dir == "" || filepath.IsAbs(src) || isURL(src) {
		return src
	}
	if _, err := os.Stat(src); err == nil {
		return src
	}
	return filepath.Join(e.cfg.Dir, src)
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// Run initializes the engine if needed and dispatches the target number of
// requests. It returns once every dispatched request has been recorded.
// A stop request ends the run in the stopped state without an error.
func (e *Engine) Run(ctx context.Context) (err error) {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return errors.New("run already started")
	}
	e.started = true
	e.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = e.fail(ctx, fmt.Errorf("panic: %v\n%s", r, debug.Stack()))
		}
	}()

	if err := e.Initialize(ctx); err != nil {
		return err
	}
	if err := e.setState(ctx, core.StateRunning); err != nil {
		return e.fail(ctx, err)
	}
	e.mu.Lock()
	e.startTime = e.clock.Now()
	e.mu.Unlock()
	e.collector.Start()

	if e.coord.Gate().Paused() {
		if err := e.setState(ctx, core.StatePaused); err != nil {
			return e.fail(ctx, err)
		}
	}

	target := e.cfg.TargetRequests
	e.logger.Info().
		Int("target", target).
		Int("threads", e.cfg.ConcurrentThreads).
		Int("delay_ms", e.cfg.RequestDelayMs).
		Msg("simulation started")

	if target > 0 {
		pollCtx, stopPoll := context.WithCancel(ctx)
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.poll(pollCtx)
		}()

		runErr := e.coord.Run(ctx, target)
		stopPoll()
		wg.Wait()
		if runErr != nil {
			e.collector.Finalize()
			return e.fail(ctx, runErr)
		}
	}

	summary := e.collector.Finalize()
	final := core.StateCompleted
	if e.coord.Stopped() || e.controller.StopRequested(context.WithoutCancel(ctx)) {
		final = core.StateStopped
	}

	// The run context may be cancelled by now; the record still needs its
	// final state.
	finishCtx := context.WithoutCancel(ctx)
	if err := e.controller.UpdateProgress(finishCtx, summary.TotalRequests, int(e.errCount.Load())); err != nil {
		e.logger.Warn().Err(err).Msg("updating final progress")
	}
	if err := e.setState(finishCtx, final); err != nil {
		return e.fail(finishCtx, err)
	}
	e.notify()

	e.logger.Info().
		Str("state", string(final)).
		Int("requests", summary.TotalRequests).
		Int("failed", summary.FailedRequests).
		Float64("rps", summary.RequestsPerSecond).
		Msg("simulation finished")
	return nil
}

// Pause halts submission and harvesting until Resume. In-flight requests
// finish.
func (e *Engine) Pause(ctx context.Context) error {
	if err := e.controller.RequestPause(ctx); err != nil {
		return err
	}
	return e.applyPause(ctx)
}

// Resume continues a paused run.
func (e *Engine) Resume(ctx context.Context) error {
	if err := e.controller.Resume(ctx); err != nil {
		return err
	}
	return e.applyResume(ctx)
}

// Stop cancels tasks that have not been submitted. Dispatched requests
// finish and are recorded.
func (e *Engine) Stop(ctx context.Context) error {
	err := e.controller.RequestStop(ctx)
	e.applyStop()
	if err != nil && !errors.Is(err, control.ErrInvalidTransition) {
		return err
	}
	return nil
}

func (e *Engine) applyPause(ctx context.Context) error {
	e.coord.Pause()
	if e.State() == core.StateRunning {
		e.logger.Info().Msg("paused")
		return e.setState(ctx, core.StatePaused)
	}
	return nil
}

func (e *Engine) applyResume(ctx context.Context) error {
	e.coord.Resume()
	if e.State() == core.StatePaused {
		e.logger.Info().Msg("resumed")
		return e.setState(ctx, core.StateRunning)
	}
	return nil
}

func (e *Engine) applyStop() {
	if !e.coord.Stopped() {
		e.logger.Info().Msg("stop requested")
	}
	e.coord.Stop()
}

// poll applies pause and stop flags written to the control record by
// other processes.
func (e *Engine) poll(ctx context.Context) {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rec, err := e.controller.Current(ctx)
			if err != nil {
				e.logger.Debug().Err(err).Msg("reading control record")
				continue
			}
			if rec.StopRequested {
				e.applyStop()
				return
			}
			paused := e.coord.Gate().Paused()
			switch {
			case rec.PauseRequested && !paused:
				if err := e.applyPause(ctx); err != nil {
					e.logger.Warn().Err(err).Msg("applying pause")
				}
			case !rec.PauseRequested && paused:
				if err := e.applyResume(ctx); err != nil {
					e.logger.Warn().Err(err).Msg("applying resume")
				}
			}
		}
	}
}

// Status returns the current progress snapshot.
func (e *Engine) Status() core.Snapshot {
	e.mu.Lock()
	state, start := e.state, e.startTime
	e.mu.Unlock()

	var elapsed time.Duration
	if !start.IsZero() {
		elapsed = e.clock.Since(start)
		if e.collector.Finalized() {
			elapsed = e.collector.Duration()
		}
	}
	s := core.NewSnapshot(e.runID, state, e.collector.Count(), e.cfg.TargetRequests, int(e.errCount.Load()), elapsed)
	if msg, ok := e.lastError.Load().(string); ok {
		s.LastError = msg
	}
	return s
}

// Export writes the report to the configured output directory.
func (e *Engine) Export() (string, error) {
	path, err := e.collector.Export(e.cfg.OutputDirectory, e.exportOptions())
	if err != nil {
		return "", err
	}
	e.logger.Info().Str("path", path).Msg("report exported")
	return path, nil
}

// Report builds the report without writing it.
func (e *Engine) Report() *collector.Report {
	return e.collector.BuildReport(e.exportOptions())
}

func (e *Engine) exportOptions() collector.ExportOptions {
	return collector.ExportOptions{
		IncludeRaw: e.cfg.Export.IncludeRaw,
		TopErrors:  e.cfg.Export.TopErrors,
		Thresholds: e.cfg.Thresholds,
	}
}

// Close releases the control store if the engine opened it.
func (e *Engine) Close() error {
	return e.closeStore()
}

func (e *Engine) closeStore() error {
	if e.ownsStore && e.store != nil {
		return e.store.Close()
	}
	return nil
}

// handle performs one task on a worker goroutine.
func (e *Engine) handle(ctx context.Context, t coordinator.Task) core.Metric {
	e.mu.Lock()
	eps, disp := e.endpoints, e.dispatcher
	e.mu.Unlock()

	ep := e.pick(eps)
	correlationID := e.runID + "_" + strconv.Itoa(t.Seq)
	req := e.gen.BuildRequest(ep)

	path := template.ExpandPath(ep.Path, req.PathParams, func(name string) string {
		return generator.FormatValue(e.gen.ValueFor(name, nil))
	})

	call := apihttp.Call{
		Method:        ep.Method,
		PathTemplate:  ep.Path,
		Path:          path,
		Query:         req.QueryParams,
		Headers:       e.headers(ctx, req, correlationID, t.Seq),
		Cookies:       req.Cookies,
		Body:          req.Body,
		MediaType:     req.MediaType,
		CorrelationID: correlationID,
		AuthScheme:    string(e.provider.Scheme()),
	}
	return disp.Do(ctx, call)
}

func (e *Engine) pick(eps []spec.Endpoint) spec.Endpoint {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return eps[e.rng.Intn(len(eps))]
}

// headers merges defaults < auth < generated < custom overrides.
func (e *Engine) headers(ctx context.Context, req generator.Request, correlationID string, seq int) map[string]string {
	contentType := req.MediaType
	if contentType == "" {
		contentType = "application/json"
	}
	h := map[string]string{
		"Content-Type": contentType,
		"User-Agent":   "apisim/" + e.runID,
	}
	for k, v := range e.provider.Headers(ctx) {
		h[k] = v
	}
	for k, v := range req.Headers {
		h[k] = v
	}
	vars := template.Vars{"run_id": e.runID, "request_id": correlationID, "seq": seq}
	for k, v := range e.cfg.CustomHeaders {
		expanded, err := template.Substitute(v, vars)
		if err != nil {
			e.logger.Debug().Err(err).Str("header", k).Msg("custom header left unexpanded")
			expanded = v
		}
		h[k] = expanded
	}
	return h
}

// harvest runs on the coordinator's harvest loop after every completion.
func (e *Engine) harvest(m core.Metric) {
	e.collector.Record(m)
	if !m.Success() {
		e.errCount.Add(1)
		switch {
		case m.Error != "":
			e.lastError.Store(m.Error)
		default:
			e.lastError.Store(fmt.Sprintf("HTTP %d", m.StatusCode))
		}
	}
	if err := e.controller.UpdateProgress(context.Background(), e.collector.Count(), int(e.errCount.Load())); err != nil {
		e.logger.Debug().Err(err).Msg("updating progress")
	}
	e.notify()
}

func (e *Engine) notify() {
	e.obsMu.RLock()
	observers := e.observers
	e.obsMu.RUnlock()
	if len(observers) == 0 {
		return
	}
	s := e.Status()
	for _, o := range observers {
		o.OnStatus(s)
	}
}

func (e *Engine) setState(ctx context.Context, state core.State, opts ...control.StatusOption) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.controller.UpdateStatus(ctx, state, opts...); err != nil {
		return fmt.Errorf("moving to %s: %w", state, err)
	}
	e.logger.Debug().Str("from", string(e.state)).Str("state", string(state)).Msg("state changed")
	e.state = state
	return nil
}

// fail marks the run failed with err's message and returns err.
func (e *Engine) fail(ctx context.Context, err error) error {
	ctx = context.WithoutCancel(ctx)
	e.mu.Lock()
	if !e.state.IsTerminal() {
		if uerr := e.controller.UpdateStatus(ctx, core.StateFailed, control.WithError(err.Error())); uerr != nil {
			e.logger.Warn().Err(uerr).Msg("recording failure")
		}
		e.state = core.StateFailed
	}
	e.mu.Unlock()
	e.logger.Error().Err(err).Msg("simulation failed")
	e.notify()
	return err
}
