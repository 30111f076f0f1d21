package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Schemas holds the compiled wire schemas.
type Schemas struct {
	Hello   *jsonschema.Schema
	Welcome *jsonschema.Schema
	Act     *jsonschema.Schema
	Reset   *jsonschema.Schema
	Obs     *jsonschema.Schema
}

// CompileSchema compiles one embedded schema by file name.
func CompileSchema(name string) (*jsonschema.Schema, error) {
	raw, err := schemaFS.ReadFile("schemas/" + name)
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(name, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("schema %s: %w", name, err)
	}
	s, err := c.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", name, err)
	}
	return s, nil
}

func LoadSchemas() (*Schemas, error) {
	var out Schemas
	for _, x := range []struct {
		name string
		dst  **jsonschema.Schema
	}{
		{"hello.schema.json", &out.Hello},
		{"welcome.schema.json", &out.Welcome},
		{"act.schema.json", &out.Act},
		{"reset.schema.json", &out.Reset},
		{"obs.schema.json", &out.Obs},
	} {
		s, err := CompileSchema(x.name)
		if err != nil {
			return nil, err
		}
		*x.dst = s
	}
	return &out, nil
}

// ValidateJSON checks raw message bytes against s.
func ValidateJSON(s *jsonschema.Schema, raw []byte) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return s.Validate(v)
}
