// Package toolexecutor resolves and invokes the external capabilities the
// model may call.
//
// Invariants:
// - The capability table is resolved once, at construction, and never
//   changes afterwards.
// - A registry failure at startup yields an empty table, not an error.
// - Every call emits tool.called followed by exactly one of tool.completed or
//   tool.failed, and failures are always returned to the caller.
// - Arguments are validated against the capability's JSON schema first.
//
// Usage:
//
//	registry := toolexecutor.NewMCPRegistry(toolexecutor.MCPConfig{Endpoint: url})
//	inv := toolexecutor.NewInvoker(ctx, toolexecutor.Config{Registry: registry, Emitter: hub})
//	out, err := inv.Call(ctx, "search", map[string]any{"q": "weather"})
package toolexecutor
