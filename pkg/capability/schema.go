package capability

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tiangong-ai/workspace/pkg/errors"
)

// ArgDef describes a single argument in a capability I/O schema.
type ArgDef struct {
	Type        string   `json:"type"` // string, number, boolean, array, object
	Description string   `json:"description,omitempty"`
	Required    bool     `json:"required,omitempty"`
	Default     any      `json:"default,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

// Schema is a data-driven argument definition map shared between handler
// dispatch and the planner-facing tool metadata.
type Schema struct {
	Args map[string]ArgDef `json:"args"`
	// AllowExtra permits fields not declared in Args. Input schemas are
	// strict by default; output schemas usually set this.
	AllowExtra bool `json:"allow_extra,omitempty"`
}

var validArgTypes = map[string]bool{
	"string":  true,
	"number":  true,
	"boolean": true,
	"array":   true,
	"object":  true,
}

// Check verifies the schema definition itself is well formed.
func (s *Schema) Check() error {
	if s == nil {
		return nil
	}
	for name, def := range s.Args {
		if strings.TrimSpace(name) == "" {
			return errors.New(errors.CodeInvalidInput, "schema argument name is empty", nil)
		}
		if !validArgTypes[def.Type] {
			return errors.New(errors.CodeInvalidInput,
				fmt.Sprintf("argument %q has unknown type %q", name, def.Type), nil)
		}
		if def.Default != nil && !matchesType(def.Default, def.Type) {
			return errors.New(errors.CodeInvalidInput,
				fmt.Sprintf("argument %q default does not match type %q", name, def.Type), nil)
		}
	}
	return nil
}

// Validate checks args against the schema fail-closed: required fields must
// be present, provided values must match declared types, defaults are applied
// for absent optional fields. Returns a normalized copy, never mutating args.
func (s *Schema) Validate(args map[string]any) (map[string]any, error) {
	normalized := make(map[string]any, len(args))
	for k, v := range args {
		normalized[k] = v
	}
	if s == nil {
		return normalized, nil
	}

	for name, def := range s.Args {
		value, exists := normalized[name]
		if !exists {
			if def.Required {
				return nil, errors.New(errors.CodeInvalidInput,
					fmt.Sprintf("required field %q is missing", name), nil)
			}
			if def.Default != nil {
				normalized[name] = def.Default
			}
			continue
		}
		if !matchesType(value, def.Type) {
			return nil, errors.New(errors.CodeInvalidInput,
				fmt.Sprintf("field %q has wrong type, expected %s", name, def.Type), nil)
		}
		if len(def.Enum) > 0 {
			if str, ok := value.(string); !ok || !containsString(def.Enum, str) {
				return nil, errors.New(errors.CodeInvalidInput,
					fmt.Sprintf("field %q must be one of: %s", name, strings.Join(def.Enum, ", ")), nil)
			}
		}
	}

	if !s.AllowExtra {
		for name := range normalized {
			if _, declared := s.Args[name]; !declared {
				return nil, errors.New(errors.CodeInvalidInput,
					fmt.Sprintf("unknown field %q", name), nil)
			}
		}
	}

	return normalized, nil
}

// JSONSchema renders the schema as a JSON-Schema-shaped map for planner tool
// definitions.
func (s *Schema) JSONSchema() map[string]any {
	properties := map[string]any{}
	var required []string
	if s != nil {
		for name, def := range s.Args {
			prop := map[string]any{"type": def.Type}
			if def.Description != "" {
				prop["description"] = def.Description
			}
			if len(def.Enum) > 0 {
				prop["enum"] = def.Enum
			}
			properties[name] = prop
			if def.Required {
				required = append(required, name)
			}
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		// Map iteration order would leak into rendered prompts otherwise.
		sort.Strings(required)
		schema["required"] = required
	}
	return schema
}

func matchesType(value any, expectedType string) bool {
	switch expectedType {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		switch value.(type) {
		case int, int32, int64, float32, float64:
			return true
		default:
			return false
		}
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		switch value.(type) {
		case []interface{}, []string, []int, []float64:
			return true
		default:
			return false
		}
	case "object":
		_, ok := value.(map[string]interface{})
		return ok
	default:
		return false
	}
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
