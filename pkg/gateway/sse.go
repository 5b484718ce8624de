package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// SSEHeartbeatInterval is how often idle log streams get a comment line.
const SSEHeartbeatInterval = 30 * time.Second

// sseWriter writes unnamed server-sent events, one JSON object per event.
type sseWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	return &sseWriter{w: w, rc: http.NewResponseController(w)}
}

// open sends the status line and headers.
func (s *sseWriter) open() error {
	s.w.WriteHeader(http.StatusOK)
	return s.flush()
}

func (s *sseWriter) writeData(data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	return s.flush()
}

func (s *sseWriter) writeHeartbeat() error {
	if _, err := fmt.Fprint(s.w, ": heartbeat\n\n"); err != nil {
		return err
	}
	return s.flush()
}

func (s *sseWriter) flush() error {
	if err := s.rc.Flush(); err != nil {
		if f, ok := s.w.(http.Flusher); ok {
			f.Flush()
			return nil
		}
		return err
	}
	return nil
}

// chatSink forwards a streamed reply as chunk and done events.
type chatSink struct {
	sse       *sseWriter
	sessionID string
}

type chatEvent struct {
	Type         string `json:"type"`
	Content      string `json:"content,omitempty"`
	FullResponse string `json:"fullResponse,omitempty"`
	Message      string `json:"message,omitempty"`
	SessionID    string `json:"sessionId"`
	ChatID       string `json:"chatId"`
}

func (c *chatSink) Chunk(text string) error {
	return c.sse.writeData(chatEvent{Type: "chunk", Content: text, SessionID: c.sessionID, ChatID: c.sessionID})
}

func (c *chatSink) Done(full string) error {
	return c.sse.writeData(chatEvent{Type: "done", FullResponse: full, SessionID: c.sessionID, ChatID: c.sessionID})
}

func (c *chatSink) Error(err error) error {
	return c.sse.writeData(chatEvent{Type: "error", Message: err.Error(), SessionID: c.sessionID, ChatID: c.sessionID})
}
