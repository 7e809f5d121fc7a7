// Package generator synthesizes plausible parameter values and request
// bodies from endpoint schemas.
package generator

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"apisim/internal/spec"
)

const (
	// DefaultOptionalProbability is the chance an optional field is included.
	DefaultOptionalProbability = 0.5
	// DefaultMaxDepth bounds recursion through nested and cyclic schemas.
	DefaultMaxDepth = 5

	defaultMaxLength = 50
	defaultMax       = 1000
	defaultMinItems  = 1
	defaultMaxItems  = 5
)

// Fixtures supplies rows whose fields override generated values by name.
// data.Sources satisfies it.
type Fixtures interface {
	Next() map[string]any
}

// Request is the generated input for one call.
type Request struct {
	PathParams  map[string]string
	QueryParams map[string]string
	Headers     map[string]string
	Cookies     map[string]string
	Body        any
	MediaType   string
}

// Option configures a Generator.
type Option func(*Generator)

// WithSeed makes generation reproducible. Zero picks a random seed.
func WithSeed(seed int64) Option {
	return func(g *Generator) { g.seed = seed }
}

// WithOptionalProbability sets the inclusion chance of optional fields.
func WithOptionalProbability(p float64) Option {
	return func(g *Generator) {
		if p >= 0 && p <= 1 {
			g.probability = p
		}
	}
}

// WithMaxDepth sets the recursion cap.
func WithMaxDepth(depth int) Option {
	return func(g *Generator) {
		if depth > 0 {
			g.maxDepth = depth
		}
	}
}

// WithFixtures attaches a fixture source.
func WithFixtures(f Fixtures) Option {
	return func(g *Generator) { g.fixtures = f }
}

// Generator produces field values. It is safe for concurrent use; all
// randomness flows through one faker guarded by mu.
type Generator struct {
	mu          sync.Mutex
	faker       *gofakeit.Faker
	seed        int64
	probability float64
	maxDepth    int
	fixtures    Fixtures
}

// New creates a Generator.
func New(opts ...Option) *Generator {
	g := &Generator{
		probability: DefaultOptionalProbability,
		maxDepth:    DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.faker = gofakeit.New(g.seed)
	return g
}

// ValueFor generates a value for a field. Resolution order is enum, then
// example, then the Rules table, then the schema type.
func (g *Generator) ValueFor(field string, s *spec.Schema) any {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value(field, s, 0)
}

// BuildRequest generates path, query, header and cookie parameters and, for
// POST, PUT and PATCH, a body.
func (g *Generator) BuildRequest(ep spec.Endpoint) Request {
	g.mu.Lock()
	defer g.mu.Unlock()

	req := Request{
		PathParams:  make(map[string]string),
		QueryParams: make(map[string]string),
		Headers:     make(map[string]string),
		Cookies:     make(map[string]string),
	}
	var row map[string]any
	if g.fixtures != nil {
		row = g.fixtures.Next()
	}

	for _, p := range ep.Parameters {
		var target map[string]string
		switch p.In {
		case spec.InPath, spec.InHeader:
			// always generated
		case spec.InQuery, spec.InCookie:
			if !p.Required && !g.include() {
				continue
			}
		default:
			continue
		}
		switch p.In {
		case spec.InPath:
			target = req.PathParams
		case spec.InQuery:
			target = req.QueryParams
		case spec.InHeader:
			target = req.Headers
		case spec.InCookie:
			target = req.Cookies
		}
		if v, ok := row[p.Name]; ok {
			target[p.Name] = FormatValue(v)
			continue
		}
		target[p.Name] = FormatValue(g.value(p.Name, p.Schema, 0))
	}

	if hasBody(ep) {
		req.MediaType = ep.RequestBody.MediaType
		body := g.value("body", ep.RequestBody.Schema, 0)
		if obj, ok := body.(map[string]any); ok && len(row) > 0 {
			for name := range ep.RequestBody.Schema.Properties {
				if v, ok := row[name]; ok {
					obj[name] = v
				}
			}
		}
		req.Body = body
	}
	return req
}

func hasBody(ep spec.Endpoint) bool {
	if ep.RequestBody == nil || ep.RequestBody.Schema == nil {
		return false
	}
	switch ep.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

func (g *Generator) include() bool {
	return g.faker.Float64Range(0, 1) < g.probability
}

func (g *Generator) value(field string, s *spec.Schema, depth int) any {
	if s == nil {
		s = &spec.Schema{Type: "string"}
	}
	if depth > g.maxDepth {
		return placeholder(s)
	}
	if len(s.Enum) > 0 {
		return s.Enum[g.faker.Number(0, len(s.Enum)-1)]
	}
	if s.Example != nil {
		return s.Example
	}
	if r := matchRule(field, s.Type); r != nil {
		v := r.Generate(g.faker, s)
		if str, ok := v.(string); ok {
			return fitLength(str, s, g.faker)
		}
		return v
	}
	return g.byType(field, s, depth)
}

func (g *Generator) byType(field string, s *spec.Schema, depth int) any {
	switch schemaType(s) {
	case "string":
		return g.stringValue(s)
	case "integer":
		lo, hi := bounds(s)
		min, max := int(math.Ceil(lo)), int(math.Floor(hi))
		if max < min {
			max = min
		}
		return g.faker.Number(min, max)
	case "number":
		lo, hi := bounds(s)
		return round2(g.faker.Float64Range(lo, hi))
	case "boolean":
		return g.faker.Bool()
	case "array":
		lo, hi := defaultMinItems, defaultMaxItems
		if s.MinItems != nil {
			lo = *s.MinItems
		}
		if s.MaxItems != nil {
			hi = *s.MaxItems
		}
		if hi < lo {
			hi = lo
		}
		n := g.faker.Number(lo, hi)
		out := make([]any, 0, n)
		for i := 0; i < n; i++ {
			out = append(out, g.value(singular(field), s.Items, depth+1))
		}
		return out
	case "object":
		obj := make(map[string]any, len(s.Properties))
		for _, name := range s.PropertyNames() {
			if s.IsRequired(name) || g.include() {
				obj[name] = g.value(name, s.Properties[name], depth+1)
			}
		}
		return obj
	}
	return g.faker.Word()
}

func (g *Generator) stringValue(s *spec.Schema) string {
	switch s.Format {
	case "date":
		return g.faker.Date().Format("2006-01-02")
	case "date-time":
		return g.faker.Date().UTC().Format(time.RFC3339)
	case "email":
		return g.faker.Email()
	case "uuid":
		return g.faker.UUID()
	case "uri", "url":
		return g.faker.URL()
	case "ipv4":
		return g.faker.IPv4Address()
	}

	maxLen := defaultMaxLength
	if s.MaxLength != nil {
		maxLen = *s.MaxLength
	}
	var v string
	switch {
	case maxLen <= 10:
		v = g.faker.Word()
	case maxLen <= 50:
		v = g.faker.Sentence(6)
	default:
		v = g.faker.Paragraph(1, 4, 12, " ")
	}
	return fitLength(v, s, g.faker)
}

// fitLength truncates to maxLength and pads to minLength.
func fitLength(v string, s *spec.Schema, f *gofakeit.Faker) string {
	if s.MaxLength != nil && *s.MaxLength >= 0 {
		if r := []rune(v); len(r) > *s.MaxLength {
			v = strings.TrimRight(string(r[:*s.MaxLength]), " ")
		}
	}
	if s.MinLength != nil {
		for n := len([]rune(v)); n < *s.MinLength; n++ {
			v += f.Letter()
		}
	}
	return v
}

func bounds(s *spec.Schema) (float64, float64) {
	lo, hi := 0.0, float64(defaultMax)
	if s.Minimum != nil {
		lo = *s.Minimum
	}
	if s.Maximum != nil {
		hi = *s.Maximum
	} else if lo > hi {
		hi = lo + defaultMax
	}
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

func schemaType(s *spec.Schema) string {
	switch {
	case s.Type != "":
		return s.Type
	case len(s.Properties) > 0:
		return "object"
	case s.Items != nil:
		return "array"
	}
	return "string"
}

// placeholder is the minimal value of the schema's type.
func placeholder(s *spec.Schema) any {
	switch schemaType(s) {
	case "integer", "number":
		return 0
	case "boolean":
		return false
	case "array":
		return []any{}
	case "object":
		return map[string]any{}
	}
	return ""
}

// singular strips a plural suffix so array items of "emails" match the
// same rules as "email".
func singular(field string) string {
	switch {
	case strings.HasSuffix(field, "ies") && len(field) > 3:
		return field[:len(field)-3] + "y"
	case strings.HasSuffix(field, "ss"), strings.HasSuffix(field, "us"):
		return field
	case strings.HasSuffix(field, "s") && len(field) > 1:
		return field[:len(field)-1]
	}
	return field
}

// FormatValue renders a generated value for use in a path, query string,
// header or cookie.
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case []any:
		parts := make([]string, len(t))
		for i, item := range t {
			parts[i] = FormatValue(item)
		}
		return strings.Join(parts, ",")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
