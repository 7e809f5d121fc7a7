package generator

import (
	"apisim/internal/spec"
)

// Field describes how one input of an endpoint would be generated.
type Field struct {
	Name     string `json:"name"`
	Location string `json:"location"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
	Source   string `json:"source"`
}

// Explain lists every parameter and body property of ep with the source its
// value would come from: "enum", "example", a rule category, or "type".
// Nested body properties use dotted names.
func (g *Generator) Explain(ep spec.Endpoint) []Field {
	var fields []Field
	for _, p := range ep.Parameters {
		fields = append(fields, Field{
			Name:     p.Name,
			Location: string(p.In),
			Type:     typeOf(p.Schema),
			Required: p.Required,
			Source:   source(p.Name, p.Schema),
		})
	}
	if hasBody(ep) {
		fields = g.explainSchema(fields, "", ep.RequestBody.Schema, ep.RequestBody.Required, 0)
	}
	return fields
}

func (g *Generator) explainSchema(fields []Field, prefix string, s *spec.Schema, required bool, depth int) []Field {
	if s == nil || depth > g.maxDepth {
		return fields
	}
	if len(s.Properties) == 0 {
		if prefix != "" {
			return fields
		}
		return append(fields, Field{Name: "body", Location: "body", Type: typeOf(s), Required: required, Source: source("body", s)})
	}
	for _, name := range s.PropertyNames() {
		prop := s.Properties[name]
		full := name
		if prefix != "" {
			full = prefix + "." + name
		}
		fields = append(fields, Field{
			Name:     full,
			Location: "body",
			Type:     typeOf(prop),
			Required: s.IsRequired(name),
			Source:   source(name, prop),
		})
		if prop != nil && len(prop.Properties) > 0 && len(prop.Enum) == 0 && prop.Example == nil {
			fields = g.explainSchema(fields, full, prop, false, depth+1)
		}
	}
	return fields
}

func typeOf(s *spec.Schema) string {
	if s == nil {
		return "string"
	}
	return schemaType(s)
}

func source(field string, s *spec.Schema) string {
	if s == nil {
		s = &spec.Schema{Type: "string"}
	}
	switch {
	case len(s.Enum) > 0:
		return "enum"
	case s.Example != nil:
		return "example"
	}
	if r := matchRule(field, s.Type); r != nil {
		return r.Category
	}
	return "type"
}
