// Package chat runs one conversation turn end to end: it combines stored
// history with the caller's messages, trims and cache-annotates the prompt,
// drives the orchestrator and writes the outcome back to the session store.
//
// Invariants:
// - Turns on the same session never interleave.
// - Every successful turn persists the latest user message followed by the
//   full assistant text, which is the fallback placeholder when the model
//   produced nothing.
// - Failed turns persist nothing.
package chat
