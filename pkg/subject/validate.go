package subject

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// FindActionDefinition looks up name in defs, the slice an adapter's
// ListActionDefinitions returns.
func FindActionDefinition(defs []ActionDefinition, name string) (ActionDefinition, bool) {
	for _, d := range defs {
		if d.Name == name {
			return d, true
		}
	}
	return ActionDefinition{}, false
}

// ValidateParams checks params against the JSON schema implied by def's
// Parameters map, failing closed with an invalid_params ActionError before
// an adapter ever reaches the network. Adapters call this at the top of
// ExecuteAction and keep their own type assertions as a second, narrower
// check for the fields they actually dereference.
func ValidateParams(def ActionDefinition, params map[string]any) error {
	schema, err := compileParamSchema(def)
	if err != nil {
		return fmt.Errorf("compile schema for action %q: %w", def.Name, err)
	}
	if params == nil {
		params = map[string]any{}
	}
	if err := schema.Validate(params); err != nil {
		return &ActionError{Kind: ActionErrorInvalidParams, Err: err}
	}
	return nil
}

func compileParamSchema(def ActionDefinition) (*jsonschema.Schema, error) {
	properties := map[string]any{}
	var required []string
	for name, spec := range def.Parameters {
		prop := map[string]any{}
		if spec.Type != "" {
			prop["type"] = spec.Type
		}
		if spec.Description != "" {
			prop["description"] = spec.Description
		}
		properties[name] = prop
		if spec.Required {
			required = append(required, name)
		}
	}

	doc := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": true,
	}
	if len(required) > 0 {
		doc["required"] = required
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal generated schema: %w", err)
	}
	decoded, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode generated schema: %w", err)
	}

	resource := "mem://sreops/actions/" + def.Name
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resource, decoded); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return compiler.Compile(resource)
}
