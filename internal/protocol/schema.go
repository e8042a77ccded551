package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const schemaBaseURL = "mem://warfront/schemas/"

var schemaFiles = map[string]string{
	TypeHello:        "hello.schema.json",
	TypeCommand:      "command.schema.json",
	TypeChecksum:     "checksum.schema.json",
	TypeSyncRequest:  "sync_request.schema.json",
	TypeSyncResponse: "sync_response.schema.json",
	TypeQuit:         "quit.schema.json",
}

// Validator checks untrusted peer frames against the embedded JSON schemas
// before they are decoded into typed messages. Safe for concurrent use.
type Validator struct {
	byType map[string]*jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft7
	for _, name := range schemaFiles {
		b, err := schemaFS.ReadFile("schemas/" + name)
		if err != nil {
			return nil, err
		}
		if err := c.AddResource(schemaBaseURL+name, bytes.NewReader(b)); err != nil {
			return nil, fmt.Errorf("schema %s: %w", name, err)
		}
	}
	v := &Validator{byType: make(map[string]*jsonschema.Schema, len(schemaFiles))}
	for typ, name := range schemaFiles {
		s, err := c.Compile(schemaBaseURL + name)
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", name, err)
		}
		v.byType[typ] = s
	}
	return v, nil
}

// Validate checks b against the schema selected by its type field.
func (v *Validator) Validate(b []byte) (BaseMessage, error) {
	base, err := DecodeBase(b)
	if err != nil {
		return base, err
	}
	s := v.byType[base.Type]
	if s == nil {
		return base, fmt.Errorf("%w: %q", ErrUnknownType, base.Type)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return base, err
	}
	if err := s.Validate(doc); err != nil {
		return base, fmt.Errorf("%s: %w", base.Type, err)
	}
	return base, nil
}

// Decode validates b and returns the typed message.
func (v *Validator) Decode(b []byte) (Message, error) {
	if _, err := v.Validate(b); err != nil {
		return nil, err
	}
	return Decode(b)
}
