package gateway

import (
	"encoding/json"
	"net/http"
	"time"
)

// Error messages returned to clients.
const (
	errMessagesRequired = "Messages array is required"
	errMessageRequired  = "Message is required"
	errChatFailed       = "Failed to process chat request"
	errMessageFailed    = "Failed to process message"
	errAPINotFound      = "API endpoint not found"
	errNotFound         = "Endpoint not found"
)

// chatExample is echoed back on malformed chat requests.
var chatExample = map[string]any{
	"messages": []map[string]string{{"role": "user", "content": "Hello!"}},
	"chatId":   "optional-chat-id",
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeFailure writes the 500 body shared by the chat endpoints.
func writeFailure(w http.ResponseWriter, title string, err error) {
	writeJSON(w, http.StatusInternalServerError, map[string]any{
		"error":     title,
		"message":   err.Error(),
		"timestamp": now(),
	})
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
