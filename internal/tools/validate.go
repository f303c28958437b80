package tools

import "fmt"

// ValidateParams checks args against the tool's JSON-schema parameter
// definition before execution: every required parameter must be present,
// and any supplied parameter with a declared primitive type (string,
// number, boolean) must match it. Parameters without a declared type,
// and declared types beyond the primitives, pass through unchecked.
func ValidateParams(t *Tool, args map[string]any) error {
	for _, name := range requiredNames(t.Parameters["required"]) {
		if _, ok := args[name]; !ok {
			return fmt.Errorf("Missing required parameter: %s", name)
		}
	}

	properties, _ := t.Parameters["properties"].(map[string]any)
	for name, value := range args {
		prop, ok := properties[name].(map[string]any)
		if !ok {
			continue
		}
		declared, _ := prop["type"].(string)
		switch declared {
		case "string":
			if _, ok := value.(string); !ok {
				return fmt.Errorf("Parameter '%s' must be a string", name)
			}
		case "number":
			if !isNumber(value) {
				return fmt.Errorf("Parameter '%s' must be a number", name)
			}
		case "boolean":
			if _, ok := value.(bool); !ok {
				return fmt.Errorf("Parameter '%s' must be a boolean", name)
			}
		}
	}

	return nil
}

// requiredNames accepts both shapes a required list arrives in:
// []string from in-process registrations, []any after a JSON round trip
// of the schema. Any other shape yields no required parameters.
func requiredNames(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		names := make([]string, 0, len(list))
		for _, item := range list {
			if name, ok := item.(string); ok {
				names = append(names, name)
			}
		}
		return names
	}
	return nil
}

// isNumber accepts the numeric shapes args arrive in: float64 from JSON
// decoding, int variants from in-process callers.
func isNumber(v any) bool {
	switch v.(type) {
	case float64, float32, int, int32, int64:
		return true
	}
	return false
}

// numberArg extracts a numeric argument as float64.
func numberArg(args map[string]any, name string) float64 {
	switch n := args[name].(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

// stringArg extracts a string argument, empty if absent or mistyped.
func stringArg(args map[string]any, name string) string {
	s, _ := args[name].(string)
	return s
}
