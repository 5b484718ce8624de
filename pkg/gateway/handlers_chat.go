package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/harun/parley/internal/tracing"
	"github.com/harun/parley/pkg/agent"
	"github.com/harun/parley/pkg/chat"
)

// maxBodyBytes caps request bodies on the chat endpoints.
const maxBodyBytes = 1 << 20

type chatRequest struct {
	Messages  []agent.Message `json:"messages"`
	ChatID    string          `json:"chatId"`
	SessionID string          `json:"sessionId"`
}

type messageRequest struct {
	Message string `json:"message"`
	ChatID  string `json:"chatId"`
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	return body, nil
}

// decodeChatRequest validates the raw body before decoding it.
func decodeChatRequest(w http.ResponseWriter, r *http.Request) (chatRequest, error) {
	var req chatRequest
	body, err := readBody(w, r)
	if err != nil {
		return req, err
	}
	if err := validateBody(chatSchema, body); err != nil {
		return req, err
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return req, fmt.Errorf("invalid JSON body: %w", err)
	}
	return req, nil
}

func wantsStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream") ||
		r.URL.Query().Get("stream") == "true"
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, err := decodeChatRequest(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   errMessagesRequired,
			"message": err.Error(),
			"example": chatExample,
		})
		return
	}

	id := req.ChatID
	if id == "" {
		id = req.SessionID
	}
	if id == "" {
		id = chat.NewSessionID()
	}
	creq := chat.Request{SessionID: id, Messages: req.Messages}

	streaming := wantsStream(r)
	logger := tracing.LoggerFromContext(r.Context(), s.logger)
	logger.Info().
		Str("session_id", id).
		Int("messages", len(req.Messages)).
		Bool("stream", streaming).
		Msg("Chat request received")

	if streaming {
		s.streamChat(w, r, creq)
		return
	}

	resp, err := s.chat.Send(r.Context(), creq)
	if err != nil {
		if errors.Is(err, chat.ErrInvalidRequest) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":   errMessagesRequired,
				"message": err.Error(),
				"example": chatExample,
			})
			return
		}
		writeFailure(w, errChatFailed, err)
		return
	}

	out := map[string]any{
		"success":   true,
		"response":  resp.Text,
		"sessionId": resp.SessionID,
		"chatId":    resp.SessionID,
		"timestamp": now(),
	}
	if len(resp.ToolCalls) > 0 {
		out["toolCalls"] = resp.ToolCalls
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, req chat.Request) {
	logger := tracing.LoggerFromContext(r.Context(), s.logger)

	sse := newSSEWriter(w)
	if err := sse.open(); err != nil {
		logger.Error().Err(err).Msg("Streaming not supported")
		return
	}

	sink := &chatSink{sse: sse, sessionID: req.SessionID}
	if _, err := s.chat.Stream(r.Context(), req, sink); err != nil {
		if r.Context().Err() != nil {
			logger.Info().Str("session_id", req.SessionID).Msg("Chat stream client disconnected")
			return
		}
		if werr := sink.Error(err); werr != nil {
			logger.Debug().Err(werr).Msg("Failed to send stream error")
		}
	}
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err == nil {
		err = validateBody(messageSchema, body)
	}
	var req messageRequest
	if err == nil {
		err = json.Unmarshal(body, &req)
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   errMessageRequired,
			"message": err.Error(),
		})
		return
	}

	logger := tracing.LoggerFromContext(r.Context(), s.logger)
	logger.Info().Int("message_len", len(req.Message)).Msg("Message received")

	resp, err := s.chat.SimpleMessage(r.Context(), req.ChatID, req.Message)
	if err != nil {
		if errors.Is(err, chat.ErrInvalidRequest) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":   errMessageRequired,
				"message": err.Error(),
			})
			return
		}
		writeFailure(w, errMessageFailed, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"message":   "Message received and processed",
		"response":  resp.Text,
		"received":  req.Message,
		"sessionId": resp.SessionID,
		"chatId":    resp.SessionID,
		"timestamp": now(),
	})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	info := s.chat.SessionInfo(chi.URLParam(r, "sessionID"))
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"sessionId":    info.SessionID,
		"messageCount": info.MessageCount,
		"hasHistory":   info.HasHistory,
		"timestamp":    now(),
	})
}

func (s *Server) handleSessionStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.chat.Stats())
}
