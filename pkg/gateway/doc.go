// Package gateway exposes the chat service over HTTP.
//
// Routes:
//
//	POST /api/chat             buffered JSON, or SSE with ?stream=true / Accept: text/event-stream
//	POST /api/messages         single message, buffered
//	GET  /api/session/{id}     history size for one session
//	GET  /api/sessions/stats   store-wide figures
//	GET  /api/logs/stream      event feed as server-sent events
//	GET  /api/logs/ws          event feed over a websocket
//	GET  /api/logs/stats       feed subscriber count
//	GET  /health, /metrics, /  liveness, Prometheus, frontend or API info
//
// Request bodies are checked against a JSON schema before any turn starts.
// Unknown /api paths get a JSON 404; other unknown paths are served from the
// public directory or redirected to the frontend when one exists.
package gateway
