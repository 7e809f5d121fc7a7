// Package http issues generated requests against the target API and turns
// each outcome into a core.Metric.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"apisim/internal/core"
)

const (
	// DefaultTimeout bounds a single request.
	DefaultTimeout = 30 * time.Second
	// maxDebugBodySize limits response body logged in verbose mode.
	maxDebugBodySize = 4096
	// UnknownTarget stands in for the host and URL when the URL cannot be built.
	UnknownTarget = "unknown"
)

// Call is one fully prepared request.
type Call struct {
	Method        string
	PathTemplate  string // endpoint path as declared, e.g. /users/{id}
	Path          string // path with every token substituted
	Query         map[string]string
	Headers       map[string]string
	Cookies       map[string]string
	Body          any
	MediaType     string
	CorrelationID string
	AuthScheme    string
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClient sets the HTTP client. Its own Timeout is left alone; the
// dispatcher applies the per-request timeout through the context.
func WithClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.timeout = t
		}
	}
}

// WithDebug enables request/response dumps.
func WithDebug(l *DebugLogger) Option {
	return func(d *Dispatcher) { d.debug = l }
}

// WithClock sets the clock used for start/end timestamps.
func WithClock(c core.Clock) Option {
	return func(d *Dispatcher) { d.clock = c }
}

// Dispatcher sends Calls relative to a base URL.
type Dispatcher struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
	debug   *DebugLogger
	clock   core.Clock
}

func NewDispatcher(baseURL string, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  http.DefaultClient,
		timeout: DefaultTimeout,
		clock:   core.RealClock{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) BaseURL() string { return d.baseURL }

func (d *Dispatcher) Timeout() time.Duration { return d.timeout }

// BuildURL joins the base URL, the substituted path and the query string.
// Query keys are encoded in sorted order.
func (d *Dispatcher) BuildURL(c Call) (*url.URL, error) {
	path := c.Path
	if path == "" {
		path = c.PathTemplate
	}
	if strings.ContainsAny(path, "{}") {
		return nil, fmt.Errorf("path %q has unresolved tokens", path)
	}
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u, err := url.Parse(d.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("building URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("building URL: %q is not absolute", u.String())
	}
	if len(c.Query) > 0 {
		q := u.Query()
		for _, k := range sortedKeys(c.Query) {
			q.Set(k, c.Query[k])
		}
		u.RawQuery = q.Encode()
	}
	return u, nil
}

// Do sends c and always returns exactly one metric. Transport failures and
// timeouts produce status 0 with the error text.
func (d *Dispatcher) Do(ctx context.Context, c Call) core.Metric {
	start := d.clock.Now()
	m := core.Metric{
		EndpointPath:  c.PathTemplate,
		Method:        strings.ToUpper(c.Method),
		CorrelationID: c.CorrelationID,
		AuthScheme:    c.AuthScheme,
		StartTime:     start,
		TargetHost:    UnknownTarget,
		RequestURL:    UnknownTarget,
	}
	key := m.EndpointKey()

	fail := func(err error) core.Metric {
		m.EndTime = d.clock.Now()
		m.Latency = m.EndTime.Sub(start)
		m.Error = err.Error()
		m.ResponseMessage = err.Error()
		d.debug.LogError(c.CorrelationID, key, err.Error(), m.Latency)
		return m
	}

	u, err := d.BuildURL(c)
	if err != nil {
		return fail(err)
	}
	m.RequestURL = u.String()
	m.TargetHost = u.Hostname()
	m.TargetPort = port(u)

	body, err := encodeBody(c.Body, c.MediaType)
	if err != nil {
		return fail(err)
	}
	m.RequestSize = int64(len(body))

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, m.Method, m.RequestURL, reader)
	if err != nil {
		return fail(fmt.Errorf("creating request: %w", err))
	}
	for _, k := range sortedKeys(c.Headers) {
		req.Header.Set(k, c.Headers[k])
	}
	for _, k := range sortedKeys(c.Cookies) {
		req.AddCookie(&http.Cookie{Name: k, Value: c.Cookies[k]})
	}

	d.debug.LogRequest(c.CorrelationID, key, req)

	resp, err := d.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("request timed out after %s: %w", d.timeout, err)
		}
		return fail(err)
	}
	defer resp.Body.Close()

	var respBody []byte
	if d.debug != nil {
		respBody, _ = io.ReadAll(io.LimitReader(resp.Body, maxDebugBodySize))
	}
	rest, copyErr := io.Copy(io.Discard, resp.Body)

	m.EndTime = d.clock.Now()
	m.Latency = m.EndTime.Sub(start)
	m.StatusCode = resp.StatusCode
	m.ResponseSize = int64(len(respBody)) + rest
	m.ResponseMessage = statusMessage(resp)
	if copyErr != nil {
		m.Error = fmt.Sprintf("reading response: %v", copyErr)
	}

	d.debug.LogResponse(c.CorrelationID, key, resp, respBody, m.Latency)
	return m
}

// encodeBody serializes a generated body for its media type. A nil body
// yields no payload.
func encodeBody(body any, mediaType string) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	switch {
	case strings.HasPrefix(mediaType, "application/x-www-form-urlencoded"):
		obj, ok := body.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("form body must be an object, got %T", body)
		}
		form := url.Values{}
		for _, k := range sortedKeys(obj) {
			form.Set(k, fmt.Sprint(obj[k]))
		}
		return []byte(form.Encode()), nil
	case strings.HasPrefix(mediaType, "text/"):
		return []byte(fmt.Sprint(body)), nil
	default:
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding body: %w", err)
		}
		return b, nil
	}
}

func statusMessage(resp *http.Response) string {
	if text := http.StatusText(resp.StatusCode); text != "" {
		return text
	}
	return strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
}

func port(u *url.URL) int {
	if p := u.Port(); p != "" {
		n, _ := strconv.Atoi(p)
		return n
	}
	if u.Scheme == "http" {
		return 80
	}
	return 443
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
