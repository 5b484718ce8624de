// Package agent drives a model through the agent and tool loop for one
// conversation turn.
//
// Invariants:
// - History is trimmed to a message budget before a run; a leading system
//   message always survives and the kept suffix starts on a user turn.
// - At most CacheAnnotator.Budget history messages carry a cache marker.
//   Annotation works on copies and never touches stored history.
// - Every delta is handed to the caller before the model stream advances.
// - A run makes at most MaxIterations model calls, then fails with
//   ErrToolLoopExceeded.
// - Tool calls run sequentially and their results are appended in call order.
//
// Usage:
//
//	orch, _ := agent.NewOrchestrator(agent.OrchestratorConfig{Model: model, Tools: invoker})
//	agg := agent.NewAggregator(agent.ModeBuffered, nil, "")
//	msgs, _ := agent.NewCacheAnnotator(3).Annotate(agent.NewTrimmer(15).Trim(history))
//	_, err := orch.Run(ctx, msgs, agg.Consume)
//	result, _ := agg.Finish()
package agent
