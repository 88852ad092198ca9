package agent

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/fernicar/gemini-cli/internal/llm"
)

// schemaValidator compiles tool parameter schemas once and validates raw
// arguments against them. Validation failures name the tool and the
// offending parameter so the model can correct itself on the next turn.
type schemaValidator struct {
	mu       sync.Mutex
	compiled map[string]*jsonschema.Schema
}

func newSchemaValidator() *schemaValidator {
	return &schemaValidator{compiled: make(map[string]*jsonschema.Schema)}
}

func (v *schemaValidator) Validate(spec llm.ToolSpec, args json.RawMessage) error {
	schema, err := v.compile(spec)
	if err != nil {
		return NewToolErrorf(ErrInvalidParams, "%s: invalid parameter schema: %v", spec.Name, err)
	}
	if schema == nil {
		return nil
	}

	var value interface{}
	if len(args) == 0 {
		value = map[string]interface{}{}
	} else if err := json.Unmarshal(args, &value); err != nil {
		return NewToolErrorf(ErrInvalidParams, "%s: arguments are not valid JSON: %v", spec.Name, err)
	}

	if err := schema.Validate(value); err != nil {
		return NewToolErrorf(ErrInvalidParams, "%s: %s", spec.Name, validationDetail(err))
	}
	return nil
}

func (v *schemaValidator) compile(spec llm.ToolSpec) (*jsonschema.Schema, error) {
	if spec.Schema == nil {
		return nil, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if schema, ok := v.compiled[spec.Name]; ok {
		return schema, nil
	}

	data, err := json.Marshal(spec.Schema)
	if err != nil {
		return nil, err
	}

	compiler := jsonschema.NewCompiler()
	url := fmt.Sprintf("tool:///%s.json", spec.Name)
	if err := compiler.AddResource(url, bytes.NewReader(data)); err != nil {
		return nil, err
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, err
	}
	v.compiled[spec.Name] = schema
	return schema, nil
}

// validationDetail extracts the most specific cause from a jsonschema
// validation error, including the failing instance location.
func validationDetail(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	if leaf.InstanceLocation != "" {
		return fmt.Sprintf("parameter %q %s", leaf.InstanceLocation, leaf.Message)
	}
	return leaf.Message
}
