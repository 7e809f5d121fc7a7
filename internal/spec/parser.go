package spec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FetchTimeout bounds the download of a remote specification.
const FetchTimeout = 30 * time.Second

// maxSpecSize limits how much of a remote document is read.
const maxSpecSize = 32 * 1024 * 1024

// ErrNoBaseURL is returned for documents that declare neither host nor servers.
var ErrNoBaseURL = errors.New("document declares neither host (swagger 2.0) nor servers (openapi 3)")

// LoadError reports a specification that could not be fetched or parsed.
type LoadError struct {
	Source string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading specification %q: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Loader fetches specifications from URLs or local files.
type Loader struct {
	Client *http.Client
}

// Load reads and parses the specification at source, a URL or a file path.
func Load(ctx context.Context, source string) (*Document, error) {
	return (&Loader{}).Load(ctx, source)
}

// Load reads and parses the specification at source, a URL or a file path.
func (l *Loader) Load(ctx context.Context, source string) (*Document, error) {
	var data []byte
	var err error
	if isURL(source) {
		data, err = l.fetch(ctx, source)
	} else {
		data, err = os.ReadFile(source)
		if err != nil {
			err = fmt.Errorf("reading spec file: %w", err)
		}
	}
	if err != nil {
		return nil, &LoadError{Source: source, Err: err}
	}

	doc, err := Parse(data)
	if err != nil {
		return nil, &LoadError{Source: source, Err: err}
	}
	doc.source = source
	if isURL(source) {
		doc.baseURL = resolveServerURL(source, doc.baseURL)
	}
	return doc, nil
}

// resolveServerURL makes a relative server URL such as "/api/v3" absolute
// against the URL the document was fetched from.
func resolveServerURL(source, server string) string {
	ref, err := url.Parse(server)
	if err != nil || ref.IsAbs() {
		return server
	}
	base, err := url.Parse(source)
	if err != nil {
		return server
	}
	return strings.TrimSuffix(base.ResolveReference(ref).String(), "/")
}

func (l *Loader) fetch(ctx context.Context, source string) ([]byte, error) {
	client := l.Client
	if client == nil {
		client = &http.Client{Timeout: FetchTimeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching spec: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetching spec: unexpected status %s", resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSpecSize))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	return data, nil
}

func isURL(source string) bool {
	u, err := url.Parse(source)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Parse decodes a JSON or YAML document and normalizes it.
func Parse(data []byte) (*Document, error) {
	var raw document
	if err := json.Unmarshal(data, &raw); err != nil {
		raw = document{}
		if yerr := yaml.Unmarshal(data, &raw); yerr != nil {
			return nil, fmt.Errorf("parsing spec as JSON or YAML: %w", yerr)
		}
	}
	return normalize(&raw)
}

func normalize(raw *document) (*Document, error) {
	doc := &Document{
		title:       raw.Info.Title,
		version:     raw.Info.Version,
		description: raw.Info.Description,
	}

	r := &resolver{done: make(map[string]*Schema)}
	switch {
	case len(raw.Servers) > 0 && raw.Servers[0].URL != "":
		doc.dialect = DialectCurrent
		doc.baseURL = strings.TrimSuffix(raw.Servers[0].URL, "/")
	case raw.Host != "":
		doc.dialect = DialectLegacy
		scheme := "https"
		if len(raw.Schemes) > 0 {
			scheme = raw.Schemes[0]
		}
		doc.baseURL = scheme + "://" + raw.Host + strings.TrimSuffix(raw.BasePath, "/")
	default:
		return nil, ErrNoBaseURL
	}

	var securitySchemes map[string]*rawSecurityScheme
	if doc.dialect == DialectCurrent {
		if c := raw.Components; c != nil {
			r.raw = c.Schemas
			r.params = c.Parameters
			r.bodies = c.RequestBodies
			securitySchemes = c.SecuritySchemes
		}
	} else {
		r.raw = raw.Definitions
		r.params = raw.Parameters
		securitySchemes = raw.SecurityDefinitions
	}

	doc.schemas = make(map[string]*Schema, len(r.raw))
	for name := range r.raw {
		doc.schemas[name] = r.named(name)
	}
	doc.authSchemes = normalizeSecuritySchemes(securitySchemes)

	paths := make([]string, 0, len(raw.Paths))
	for path := range raw.Paths {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		item := raw.Paths[path]
		if item == nil {
			continue
		}
		for _, method := range Methods {
			op := item.operation(method)
			if op == nil {
				continue
			}
			doc.endpoints = append(doc.endpoints, r.endpoint(raw, path, method, item, op))
		}
	}
	return doc, nil
}

func (r *resolver) endpoint(raw *document, path, method string, item *pathItem, op *operation) Endpoint {
	ep := Endpoint{
		Path:        path,
		Method:      method,
		OperationID: op.OperationID,
		Summary:     op.Summary,
		Tags:        op.Tags,
		Responses:   make(map[string]string, len(op.Responses)),
	}
	for code, resp := range op.Responses {
		if resp != nil {
			ep.Responses[code] = resp.Description
		} else {
			ep.Responses[code] = ""
		}
	}

	security := raw.Security
	if op.Security != nil {
		security = *op.Security
	}
	seen := make(map[string]bool)
	for _, req := range security {
		for name := range req {
			if !seen[name] {
				seen[name] = true
				ep.Security = append(ep.Security, name)
			}
		}
	}
	sort.Strings(ep.Security)

	// Operation parameters override path-level ones with the same (name, in).
	type paramKey struct{ name, in string }
	index := make(map[paramKey]int)
	var formData []Parameter
	add := func(rp *rawParameter) {
		rp = r.parameter(rp)
		if rp == nil || rp.Name == "" {
			return
		}
		switch rp.In {
		case "body":
			ep.RequestBody = &RequestBody{
				MediaType: firstOr(op.Consumes, raw.Consumes, "application/json"),
				Required:  rp.Required,
				Schema:    r.schema(rp.Schema),
			}
			return
		case "formData":
			formData = append(formData, Parameter{Name: rp.Name, Required: rp.Required, Schema: r.paramSchema(rp)})
			return
		case "path", "query", "header", "cookie":
		default:
			return
		}
		p := Parameter{
			Name:        rp.Name,
			In:          Location(rp.In),
			Required:    rp.Required || rp.In == "path",
			Description: rp.Description,
			Schema:      r.paramSchema(rp),
		}
		k := paramKey{rp.Name, rp.In}
		if i, ok := index[k]; ok {
			ep.Parameters[i] = p
			return
		}
		index[k] = len(ep.Parameters)
		ep.Parameters = append(ep.Parameters, p)
	}
	for _, p := range item.Parameters {
		add(p)
	}
	for _, p := range op.Parameters {
		add(p)
	}

	if len(formData) > 0 && ep.RequestBody == nil {
		body := &Schema{Type: "object", Properties: make(map[string]*Schema, len(formData))}
		for _, p := range formData {
			body.Properties[p.Name] = p.Schema
			if p.Required {
				body.Required = append(body.Required, p.Name)
			}
		}
		ep.RequestBody = &RequestBody{MediaType: "application/x-www-form-urlencoded", Schema: body}
	}

	if op.RequestBody != nil {
		ep.RequestBody = r.requestBody(op.RequestBody)
	}
	return ep
}

func firstOr(a, b []string, fallback string) string {
	if len(a) > 0 {
		return a[0]
	}
	if len(b) > 0 {
		return b[0]
	}
	return fallback
}

func normalizeSecuritySchemes(raw map[string]*rawSecurityScheme) map[string]AuthScheme {
	out := make(map[string]AuthScheme, len(raw))
	for name, s := range raw {
		if s == nil {
			continue
		}
		scheme := AuthScheme{
			Name:     name,
			Type:     s.Type,
			Scheme:   strings.ToLower(s.Scheme),
			In:       s.In,
			TokenURL: s.TokenURL,
		}
		if s.In == "header" {
			scheme.HeaderName = s.Name
		}
		if s.Type == "basic" {
			scheme.Scheme = "basic"
		}
		if scheme.TokenURL == "" {
			if flow, ok := s.Flows["clientCredentials"]; ok && flow != nil {
				scheme.TokenURL = flow.TokenURL
			}
		}
		out[name] = scheme
	}
	return out
}
