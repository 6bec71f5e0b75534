package service

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const maxCompiledSchemas = 256

// schemaValidator compiles output schemas once per definition version.
type schemaValidator struct {
	mu       sync.Mutex
	compiled map[string]*jsonschema.Schema
}

func newSchemaValidator() *schemaValidator {
	return &schemaValidator{compiled: make(map[string]*jsonschema.Schema)}
}

// Validate checks output against schema. versionID keys the compiled form.
func (v *schemaValidator) Validate(versionID string, schema, output json.RawMessage) error {
	if len(schema) == 0 {
		return nil
	}
	sch, err := v.compile(versionID, schema)
	if err != nil {
		return err
	}

	var payload any
	if err := json.Unmarshal(output, &payload); err != nil {
		return fmt.Errorf("output is not valid JSON: %w", err)
	}
	return sch.Validate(payload)
}

func (v *schemaValidator) compile(versionID string, schema json.RawMessage) (*jsonschema.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if sch, ok := v.compiled[versionID]; ok && versionID != "" {
		return sch, nil
	}

	var doc any
	if err := json.Unmarshal(schema, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	sch, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	if versionID != "" {
		if len(v.compiled) >= maxCompiledSchemas {
			clear(v.compiled)
		}
		v.compiled[versionID] = sch
	}
	return sch, nil
}
