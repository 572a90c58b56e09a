package mcp

import (
	"fmt"
	"strings"
)

// ValidateArguments checks call arguments against a tool's JSON input
// schema before anything goes over the wire. Validation is shallow:
// required fields must be present and top-level property types must
// match. Unknown properties pass through untouched; servers own the
// full validation story and we only catch the cheap, obvious mistakes
// locally.
func ValidateArguments(schema map[string]any, args map[string]any) error {
	if schema == nil {
		return nil
	}

	if required, ok := schema["required"].([]any); ok {
		var missing []string
		for _, r := range required {
			name, ok := r.(string)
			if !ok {
				continue
			}
			if _, present := args[name]; !present {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("%w: missing required: %s", ErrInvalidArguments, strings.Join(missing, ", "))
		}
	}

	properties, ok := schema["properties"].(map[string]any)
	if !ok {
		return nil
	}

	for name, value := range args {
		propAny, known := properties[name]
		if !known {
			continue
		}
		prop, ok := propAny.(map[string]any)
		if !ok {
			continue
		}
		want, ok := prop["type"].(string)
		if !ok {
			continue
		}
		if err := checkType(name, want, value); err != nil {
			return err
		}
	}

	return nil
}

// checkType verifies a value against a JSON schema primitive type name.
func checkType(name, want string, value any) error {
	if value == nil {
		return nil
	}

	ok := true
	switch want {
	case "string":
		_, ok = value.(string)
	case "boolean":
		_, ok = value.(bool)
	case "number":
		ok = isNumber(value)
	case "integer":
		switch v := value.(type) {
		case int, int32, int64:
		case float64:
			ok = v == float64(int64(v))
		case float32:
			ok = v == float32(int64(v))
		default:
			ok = false
		}
	case "array":
		switch value.(type) {
		case []any, []string:
		default:
			ok = false
		}
	case "object":
		_, ok = value.(map[string]any)
	}

	if !ok {
		return fmt.Errorf("%w: %s must be of type %s, got %T", ErrInvalidArguments, name, want, value)
	}
	return nil
}

func isNumber(value any) bool {
	switch value.(type) {
	case int, int32, int64, float32, float64:
		return true
	}
	return false
}
