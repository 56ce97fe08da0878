package agent

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaCache compiles each tool's parameter schema once and validates
// call arguments against it.
type schemaCache struct {
	mu       sync.Mutex
	compiled map[string]*jsonschema.Schema
}

func newSchemaCache() *schemaCache {
	return &schemaCache{compiled: make(map[string]*jsonschema.Schema)}
}

func (c *schemaCache) validate(tool Tool, args json.RawMessage) error {
	params := tool.Parameters()
	if len(params) == 0 {
		return nil
	}
	schema, err := c.schemaFor(tool.Name(), params)
	if err != nil {
		// A broken schema is the tool author's bug, not the model's;
		// skip validation rather than fail every call.
		return nil
	}
	var value any
	if len(args) == 0 {
		value = map[string]any{}
	} else if err := json.Unmarshal(args, &value); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	return schema.Validate(value)
}

func (c *schemaCache) schemaFor(name string, params json.RawMessage) (*jsonschema.Schema, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if schema, ok := c.compiled[name]; ok {
		return schema, nil
	}
	schema, err := jsonschema.CompileString(name+".json", string(params))
	if err != nil {
		return nil, err
	}
	c.compiled[name] = schema
	return schema, nil
}
