package toolexecutor

import (
	"context"
	"fmt"
)

// ToolParameter defines a parameter for a tool
type ToolParameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
}

// StaticRegistry serves a fixed, in-process set of capabilities.
type StaticRegistry struct {
	caps []Capability
}

// NewStaticRegistry creates a registry over caps.
func NewStaticRegistry(caps ...Capability) *StaticRegistry {
	return &StaticRegistry{caps: caps}
}

// Capabilities returns the registered capabilities.
func (r *StaticRegistry) Capabilities(context.Context) ([]Capability, error) {
	out := make([]Capability, len(r.caps))
	copy(out, r.caps)
	return out, nil
}

// NewFunctionCapability builds a capability from a parameter list, generating
// its JSON schema.
func NewFunctionCapability(name, description string, params []ToolParameter, handler ToolHandler) (Capability, error) {
	if name == "" {
		return Capability{}, fmt.Errorf("tool name is required")
	}
	if description == "" {
		return Capability{}, fmt.Errorf("tool description is required")
	}
	if handler == nil {
		return Capability{}, fmt.Errorf("tool handler is required")
	}

	properties := make(map[string]any, len(params))
	required := []string{}
	for _, p := range params {
		if p.Name == "" {
			return Capability{}, fmt.Errorf("parameter name is required")
		}
		prop := map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}

	return Capability{
		Spec: ToolSpec{
			Name:        name,
			Description: description,
			InputSchema: schema,
		},
		Handler: handler,
	}, nil
}
