package tools

import "testing"

func validationTool() *Tool {
	return &Tool{
		Name: "test_tool",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name":   map[string]any{"type": "string"},
				"count":  map[string]any{"type": "number"},
				"active": map[string]any{"type": "boolean"},
				"extra":  map[string]any{"type": "string"},
			},
			"required": []string{"name", "count"},
		},
	}
}

func TestValidateParams(t *testing.T) {
	tests := []struct {
		name    string
		args    map[string]any
		wantErr string
	}{
		{
			name: "valid",
			args: map[string]any{"name": "x", "count": float64(3), "active": true},
		},
		{
			name:    "missing required",
			args:    map[string]any{"name": "x"},
			wantErr: "Missing required parameter: count",
		},
		{
			name:    "wrong string type",
			args:    map[string]any{"name": 42, "count": float64(3)},
			wantErr: "Parameter 'name' must be a string",
		},
		{
			name:    "wrong number type",
			args:    map[string]any{"name": "x", "count": "three"},
			wantErr: "Parameter 'count' must be a number",
		},
		{
			name:    "wrong boolean type",
			args:    map[string]any{"name": "x", "count": float64(1), "active": "yes"},
			wantErr: "Parameter 'active' must be a boolean",
		},
		{
			name: "int accepted as number",
			args: map[string]any{"name": "x", "count": 3},
		},
		{
			name: "optional params may be absent",
			args: map[string]any{"name": "x", "count": float64(1)},
		},
		{
			name: "undeclared params pass through",
			args: map[string]any{"name": "x", "count": float64(1), "mystery": []int{1}},
		},
	}

	tool := validationTool()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateParams(tool, tt.args)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("ValidateParams() error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("ValidateParams() = nil, want %q", tt.wantErr)
			}
			if err.Error() != tt.wantErr {
				t.Errorf("ValidateParams() = %q, want %q", err.Error(), tt.wantErr)
			}
		})
	}
}

// A schema that went through a JSON round trip carries its required
// list as []any; the check must still enforce it.
func TestValidateParamsRequiredAfterJSONRoundTrip(t *testing.T) {
	tool := &Tool{
		Name: "test_tool",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name": map[string]any{"type": "string"},
			},
			"required": []any{"name"},
		},
	}

	if err := ValidateParams(tool, map[string]any{}); err == nil {
		t.Fatal("missing required parameter passed validation")
	} else if err.Error() != "Missing required parameter: name" {
		t.Errorf("error = %q", err.Error())
	}
	if err := ValidateParams(tool, map[string]any{"name": "x"}); err != nil {
		t.Errorf("valid args rejected: %v", err)
	}
}
