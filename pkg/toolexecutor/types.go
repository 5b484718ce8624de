package toolexecutor

import (
	"context"
	"errors"
)

var (
	// ErrCapabilityNotFound is returned when the model names an unknown tool.
	ErrCapabilityNotFound = errors.New("capability not found")
	// ErrInvalidArguments is returned when arguments fail schema validation.
	ErrInvalidArguments = errors.New("invalid tool arguments")
)

// ToolSpec describes a capability to the model.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// RequiredFields returns the schema's "required" list, tolerating both
// []string and decoded-JSON []any forms.
func (s ToolSpec) RequiredFields() []string {
	switch req := s.InputSchema["required"].(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, v := range req {
			if str, ok := v.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

// ToolHandler executes a capability and returns its textual result.
type ToolHandler func(ctx context.Context, args map[string]any) (string, error)

// Capability is a named, invocable tool.
type Capability struct {
	Spec    ToolSpec
	Handler ToolHandler
}

// Registry enumerates capabilities from some source.
type Registry interface {
	Capabilities(ctx context.Context) ([]Capability, error)
}
