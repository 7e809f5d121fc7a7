// Package spec loads OpenAPI and Swagger documents and normalizes them into
// endpoint descriptors that the generator and engine can work with.
package spec

import (
	"sort"
	"strings"
)

// Location is where a parameter is carried in the request.
type Location string

const (
	InPath   Location = "path"
	InQuery  Location = "query"
	InHeader Location = "header"
	InCookie Location = "cookie"
)

// Dialect identifies which document shape a specification was written in.
type Dialect string

const (
	// DialectLegacy is Swagger 2.0: host/basePath/schemes, definitions, securityDefinitions.
	DialectLegacy Dialect = "swagger2"
	// DialectCurrent is OpenAPI 3.x: servers, components.schemas, components.securitySchemes.
	DialectCurrent Dialect = "openapi3"
)

// Methods lists the HTTP methods extracted from path items, in extraction order.
var Methods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS", "HEAD"}

// Schema is a normalized value schema. References and allOf compositions are
// already resolved; self-referential schemas share pointers.
type Schema struct {
	Type       string
	Format     string
	Enum       []any
	Example    any
	MinLength  *int
	MaxLength  *int
	Minimum    *float64
	Maximum    *float64
	MinItems   *int
	MaxItems   *int
	Items      *Schema
	Properties map[string]*Schema
	Required   []string
}

// HasExample reports whether the schema declares an example value.
func (s *Schema) HasExample() bool {
	return s != nil && s.Example != nil
}

// IsRequired reports whether name is in the schema's required-property set.
func (s *Schema) IsRequired(name string) bool {
	if s == nil {
		return false
	}
	for _, r := range s.Required {
		if r == name {
			return true
		}
	}
	return false
}

// PropertyNames returns property names in sorted order, so that a seeded
// generator walks objects deterministically.
func (s *Schema) PropertyNames() []string {
	if s == nil || len(s.Properties) == 0 {
		return nil
	}
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Parameter is a normalized operation parameter.
type Parameter struct {
	Name        string
	In          Location
	Required    bool
	Description string
	Schema      *Schema
}

// RequestBody is the schema of the first declared content type.
type RequestBody struct {
	MediaType string
	Required  bool
	Schema    *Schema
}

// Endpoint is one (path, method) operation. Immutable after parse.
type Endpoint struct {
	Path        string
	Method      string
	OperationID string
	Summary     string
	Parameters  []Parameter
	RequestBody *RequestBody
	Responses   map[string]string // status code -> description
	Security    []string
	Tags        []string
}

// Key is the "METHOD path" identity used by metrics.
func (e Endpoint) Key() string {
	return e.Method + " " + e.Path
}

// ParametersIn returns the parameters carried in loc, in declaration order.
func (e Endpoint) ParametersIn(loc Location) []Parameter {
	var out []Parameter
	for _, p := range e.Parameters {
		if p.In == loc {
			out = append(out, p)
		}
	}
	return out
}

// HasTag reports whether the endpoint is tagged with tag.
func (e Endpoint) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// AuthScheme is a security scheme declared by the document.
type AuthScheme struct {
	Name       string
	Type       string // apiKey, http, basic, oauth2, openIdConnect
	Scheme     string // bearer, basic (http type only)
	In         string // header, query, cookie (apiKey only)
	HeaderName string
	TokenURL   string
}

// Info summarizes the document.
type Info struct {
	Title          string   `json:"title"`
	Version        string   `json:"version"`
	Description    string   `json:"description,omitempty"`
	Dialect        Dialect  `json:"dialect"`
	BaseURL        string   `json:"base_url"`
	TotalEndpoints int      `json:"total_endpoints"`
	AuthSchemes    []string `json:"auth_schemes"`
	Tags           []string `json:"tags"`
}

// Document is a parsed and normalized specification.
type Document struct {
	source      string
	dialect     Dialect
	title       string
	version     string
	description string
	baseURL     string
	endpoints   []Endpoint
	schemas     map[string]*Schema
	authSchemes map[string]AuthScheme
}

// Source returns where the document was loaded from, if anywhere.
func (d *Document) Source() string { return d.source }

// Dialect returns which document shape was parsed.
func (d *Document) Dialect() Dialect { return d.dialect }

// BaseURL returns the target base URL without a trailing slash.
func (d *Document) BaseURL() string { return d.baseURL }

// Endpoints returns a copy of all endpoints, ordered by path then method.
func (d *Document) Endpoints() []Endpoint {
	out := make([]Endpoint, len(d.endpoints))
	copy(out, d.endpoints)
	return out
}

// EndpointsByTag returns endpoints tagged with tag.
func (d *Document) EndpointsByTag(tag string) []Endpoint {
	var out []Endpoint
	for _, ep := range d.endpoints {
		if ep.HasTag(tag) {
			out = append(out, ep)
		}
	}
	return out
}

// EndpointsByMethod returns endpoints for the given HTTP method.
func (d *Document) EndpointsByMethod(method string) []Endpoint {
	var out []Endpoint
	for _, ep := range d.endpoints {
		if strings.EqualFold(ep.Method, method) {
			out = append(out, ep)
		}
	}
	return out
}

// Schemas returns the named schemas from definitions or components.schemas.
func (d *Document) Schemas() map[string]*Schema { return d.schemas }

// AuthSchemes returns the declared security schemes by name.
func (d *Document) AuthSchemes() map[string]AuthScheme { return d.authSchemes }

// Info summarizes the document.
func (d *Document) Info() Info {
	info := Info{
		Title:          d.title,
		Version:        d.version,
		Description:    d.description,
		Dialect:        d.dialect,
		BaseURL:        d.baseURL,
		TotalEndpoints: len(d.endpoints),
		AuthSchemes:    make([]string, 0, len(d.authSchemes)),
		Tags:           make([]string, 0),
	}
	for name := range d.authSchemes {
		info.AuthSchemes = append(info.AuthSchemes, name)
	}
	sort.Strings(info.AuthSchemes)

	seen := make(map[string]bool)
	for _, ep := range d.endpoints {
		for _, tag := range ep.Tags {
			if !seen[tag] {
				seen[tag] = true
				info.Tags = append(info.Tags, tag)
			}
		}
	}
	sort.Strings(info.Tags)
	return info
}
