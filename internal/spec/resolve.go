package spec

import (
	"sort"
	"strings"
)

// resolver converts raw schemas into normalized ones, following $ref pointers
// into the document's schema, parameter and request-body maps.
type resolver struct {
	raw    map[string]*rawSchema
	params map[string]*rawParameter
	bodies map[string]*rawRequestBody
	done   map[string]*Schema
}

// refName returns the last segment of a local JSON pointer such as
// "#/definitions/Pet" or "#/components/schemas/Pet".
func refName(ref string) string {
	if i := strings.LastIndex(ref, "/"); i >= 0 {
		return ref[i+1:]
	}
	return ref
}

// named resolves a schema by name. A schema that is still being built when it
// is referenced again (a cycle) is returned as the same pointer.
func (r *resolver) named(name string) *Schema {
	if s, ok := r.done[name]; ok {
		return s
	}
	target, ok := r.raw[name]
	if !ok || target == nil {
		return &Schema{Type: "object"}
	}
	s := &Schema{}
	r.done[name] = s
	*s = *r.build(target)
	return s
}

func (r *resolver) schema(rs *rawSchema) *Schema {
	if rs == nil {
		return nil
	}
	if rs.Ref != "" {
		return r.named(refName(rs.Ref))
	}
	return r.build(rs)
}

func (r *resolver) build(rs *rawSchema) *Schema {
	s := constraintsSchema(&rs.rawConstraints, r)
	s.Example = rs.Example
	s.Required = append(s.Required, rs.Required...)

	if len(rs.Properties) > 0 {
		s.Properties = make(map[string]*Schema, len(rs.Properties))
		for name, prop := range rs.Properties {
			s.Properties[name] = r.schema(prop)
		}
	}

	for _, member := range rs.AllOf {
		m := r.schema(member)
		if m == nil {
			continue
		}
		if s.Properties == nil && len(m.Properties) > 0 {
			s.Properties = make(map[string]*Schema, len(m.Properties))
		}
		for name, prop := range m.Properties {
			if _, exists := s.Properties[name]; !exists {
				s.Properties[name] = prop
			}
		}
		s.Required = append(s.Required, m.Required...)
		if s.Type == "" {
			s.Type = m.Type
		}
	}
	s.Required = dedupe(s.Required)

	if s.Type == "" {
		switch {
		case len(s.Properties) > 0:
			s.Type = "object"
		case s.Items != nil:
			s.Type = "array"
		}
	}
	return s
}

func constraintsSchema(c *rawConstraints, r *resolver) *Schema {
	return &Schema{
		Type:      string(c.Type),
		Format:    c.Format,
		Enum:      c.Enum,
		MinLength: c.MinLength,
		MaxLength: c.MaxLength,
		Minimum:   c.Minimum,
		Maximum:   c.Maximum,
		MinItems:  c.MinItems,
		MaxItems:  c.MaxItems,
		Items:     r.schema(c.Items),
	}
}

// parameter follows a parameter $ref, returning nil for dangling references.
func (r *resolver) parameter(p *rawParameter) *rawParameter {
	for depth := 0; p != nil && p.Ref != "" && depth < 8; depth++ {
		p = r.params[refName(p.Ref)]
	}
	if p != nil && p.Ref != "" {
		return nil
	}
	return p
}

// paramSchema returns the schema of an OpenAPI 3 parameter, or builds one
// from the inline constraints of a Swagger 2 parameter.
func (r *resolver) paramSchema(p *rawParameter) *Schema {
	var s *Schema
	if p.Schema != nil {
		s = r.schema(p.Schema)
	} else {
		s = constraintsSchema(&p.rawConstraints, r)
		if s.Type == "" {
			s.Type = "string"
		}
	}
	if p.Example != nil && s != nil && s.Example == nil {
		cp := *s
		cp.Example = p.Example
		s = &cp
	}
	return s
}

// requestBody picks the schema of the first content type, preferring
// application/json so the choice does not depend on map order.
func (r *resolver) requestBody(b *rawRequestBody) *RequestBody {
	for depth := 0; b != nil && b.Ref != "" && depth < 8; depth++ {
		b = r.bodies[refName(b.Ref)]
	}
	if b == nil || len(b.Content) == 0 {
		return nil
	}
	mediaType := "application/json"
	if _, ok := b.Content[mediaType]; !ok {
		types := make([]string, 0, len(b.Content))
		for t := range b.Content {
			types = append(types, t)
		}
		sort.Strings(types)
		mediaType = types[0]
	}
	body := &RequestBody{MediaType: mediaType, Required: b.Required}
	if media := b.Content[mediaType]; media != nil {
		body.Schema = r.schema(media.Schema)
	}
	return body
}

func dedupe(names []string) []string {
	if len(names) < 2 {
		return names
	}
	seen := make(map[string]bool, len(names))
	out := names[:0]
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}
