package spec

import (
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// document is the union of the Swagger 2.0 and OpenAPI 3.x top-level shapes.
type document struct {
	Swagger string `json:"swagger" yaml:"swagger"`
	OpenAPI string `json:"openapi" yaml:"openapi"`
	Info    struct {
		Title       string `json:"title" yaml:"title"`
		Version     string `json:"version" yaml:"version"`
		Description string `json:"description" yaml:"description"`
	} `json:"info" yaml:"info"`

	// Swagger 2.0
	Host                string                        `json:"host" yaml:"host"`
	BasePath            string                        `json:"basePath" yaml:"basePath"`
	Schemes             []string                      `json:"schemes" yaml:"schemes"`
	Consumes            []string                      `json:"consumes" yaml:"consumes"`
	Definitions         map[string]*rawSchema         `json:"definitions" yaml:"definitions"`
	Parameters          map[string]*rawParameter      `json:"parameters" yaml:"parameters"`
	SecurityDefinitions map[string]*rawSecurityScheme `json:"securityDefinitions" yaml:"securityDefinitions"`

	// OpenAPI 3.x
	Servers []struct {
		URL string `json:"url" yaml:"url"`
	} `json:"servers" yaml:"servers"`
	Components *struct {
		Schemas         map[string]*rawSchema         `json:"schemas" yaml:"schemas"`
		Parameters      map[string]*rawParameter      `json:"parameters" yaml:"parameters"`
		RequestBodies   map[string]*rawRequestBody    `json:"requestBodies" yaml:"requestBodies"`
		SecuritySchemes map[string]*rawSecurityScheme `json:"securitySchemes" yaml:"securitySchemes"`
	} `json:"components" yaml:"components"`

	Paths    map[string]*pathItem  `json:"paths" yaml:"paths"`
	Security []map[string][]string `json:"security" yaml:"security"`
}

type pathItem struct {
	Get        *operation      `json:"get" yaml:"get"`
	Post       *operation      `json:"post" yaml:"post"`
	Put        *operation      `json:"put" yaml:"put"`
	Patch      *operation      `json:"patch" yaml:"patch"`
	Delete     *operation      `json:"delete" yaml:"delete"`
	Options    *operation      `json:"options" yaml:"options"`
	Head       *operation      `json:"head" yaml:"head"`
	Parameters []*rawParameter `json:"parameters" yaml:"parameters"`
}

// operation returns the operation declared for method, or nil.
func (p *pathItem) operation(method string) *operation {
	switch method {
	case "GET":
		return p.Get
	case "POST":
		return p.Post
	case "PUT":
		return p.Put
	case "PATCH":
		return p.Patch
	case "DELETE":
		return p.Delete
	case "OPTIONS":
		return p.Options
	case "HEAD":
		return p.Head
	}
	return nil
}

type operation struct {
	OperationID string                  `json:"operationId" yaml:"operationId"`
	Summary     string                  `json:"summary" yaml:"summary"`
	Tags        []string                `json:"tags" yaml:"tags"`
	Consumes    []string                `json:"consumes" yaml:"consumes"`
	Parameters  []*rawParameter         `json:"parameters" yaml:"parameters"`
	RequestBody *rawRequestBody         `json:"requestBody" yaml:"requestBody"`
	Responses   map[string]*rawResponse `json:"responses" yaml:"responses"`
	Security    *[]map[string][]string  `json:"security" yaml:"security"`
}

type rawResponse struct {
	Description string `json:"description" yaml:"description"`
}

type rawRequestBody struct {
	Ref      string `json:"$ref" yaml:"$ref"`
	Required bool   `json:"required" yaml:"required"`
	Content  map[string]*struct {
		Schema *rawSchema `json:"schema" yaml:"schema"`
	} `json:"content" yaml:"content"`
}

// rawParameter covers both dialects: OpenAPI 3 nests constraints under
// schema, Swagger 2 declares them on the parameter itself.
type rawParameter struct {
	Ref         string     `json:"$ref" yaml:"$ref"`
	Name        string     `json:"name" yaml:"name"`
	In          string     `json:"in" yaml:"in"`
	Required    bool       `json:"required" yaml:"required"`
	Description string     `json:"description" yaml:"description"`
	Schema      *rawSchema `json:"schema" yaml:"schema"`
	Example     any        `json:"example" yaml:"example"`

	rawConstraints `yaml:",inline"`
}

type rawSchema struct {
	Ref        string                `json:"$ref" yaml:"$ref"`
	AllOf      []*rawSchema          `json:"allOf" yaml:"allOf"`
	Properties map[string]*rawSchema `json:"properties" yaml:"properties"`
	Required   []string              `json:"required" yaml:"required"`
	Example    any                   `json:"example" yaml:"example"`

	rawConstraints `yaml:",inline"`
}

type rawConstraints struct {
	Type      typeName   `json:"type" yaml:"type"`
	Format    string     `json:"format" yaml:"format"`
	Enum      []any      `json:"enum" yaml:"enum"`
	MinLength *int       `json:"minLength" yaml:"minLength"`
	MaxLength *int       `json:"maxLength" yaml:"maxLength"`
	Minimum   *float64   `json:"minimum" yaml:"minimum"`
	Maximum   *float64   `json:"maximum" yaml:"maximum"`
	MinItems  *int       `json:"minItems" yaml:"minItems"`
	MaxItems  *int       `json:"maxItems" yaml:"maxItems"`
	Items     *rawSchema `json:"items" yaml:"items"`
}

type rawSecurityScheme struct {
	Type     string `json:"type" yaml:"type"`
	Scheme   string `json:"scheme" yaml:"scheme"`
	In       string `json:"in" yaml:"in"`
	Name     string `json:"name" yaml:"name"`
	TokenURL string `json:"tokenUrl" yaml:"tokenUrl"`
	Flows    map[string]*struct {
		TokenURL string `json:"tokenUrl" yaml:"tokenUrl"`
	} `json:"flows" yaml:"flows"`
}

// typeName accepts both `type: string` and the OpenAPI 3.1 list form
// `type: [string, "null"]`, keeping the first non-null entry.
type typeName string

func pickType(names []string) typeName {
	for _, n := range names {
		if n != "null" {
			return typeName(n)
		}
	}
	return ""
}

func (t *typeName) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*t = typeName(single)
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*t = pickType(list)
	return nil
}

func (t *typeName) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.SequenceNode {
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*t = pickType(list)
		return nil
	}
	var single string
	if err := node.Decode(&single); err != nil {
		return err
	}
	*t = typeName(single)
	return nil
}
