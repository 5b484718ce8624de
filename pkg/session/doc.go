// Package session keeps per-session conversation history in memory.
//
// Invariants:
// - History is returned as a copy; callers never alias stored messages.
// - After Append a session holds at most MaxHistory messages, and a system
//   message at the head of history survives truncation.
// - Sessions untouched for longer than the idle timeout are evicted by the
//   Sweeper, whatever the request traffic.
// - Lock serializes whole turns per session id.
//
// Usage:
//
//	store := session.New(session.Config{})
//	unlock := store.Lock("chat_1")
//	history := store.Get("chat_1")
//	store.Append("chat_1", agent.UserMessage("hi"), agent.AssistantMessage("hello"))
//	unlock()
package session
