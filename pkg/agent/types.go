package agent

import (
	"encoding/json"
	"errors"
	"net"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// NormalizeRole maps caller-supplied role names onto Role. Anything that is
// not recognisably user, system or tool is treated as an assistant turn.
func NormalizeRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user", "human":
		return RoleUser
	case "system":
		return RoleSystem
	case "tool", "function":
		return RoleTool
	default:
		return RoleAssistant
	}
}

// UnmarshalJSON normalizes role aliases.
func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*r = NormalizeRole(s)
	return nil
}

// Message is one conversation turn.
type Message struct {
	Role       Role       `json:"role"`
	Content    Content    `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// UserMessage builds a plain-text user turn.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: NewTextContent(text)}
}

// AssistantMessage builds a plain-text assistant turn.
func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: NewTextContent(text)}
}

// SystemMessage builds a system turn.
func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: NewTextContent(text)}
}

// ToolResultMessage builds the turn that answers a tool call.
func ToolResultMessage(toolCallID, result string) Message {
	return Message{Role: RoleTool, Content: NewTextContent(result), ToolCallID: toolCallID}
}

// Clone returns a deep copy.
func (m Message) Clone() Message {
	out := m
	out.Content = m.Content.clone()
	if m.ToolCalls != nil {
		out.ToolCalls = make([]ToolCall, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			out.ToolCalls[i] = tc.Clone()
		}
	}
	return out
}

// CloneMessages deep-copies a message list. A nil input yields an empty,
// non-nil slice.
func CloneMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

// ToolCall is a model request to invoke a named capability.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Clone copies the top level of the argument map.
func (tc ToolCall) Clone() ToolCall {
	out := tc
	if tc.Arguments != nil {
		out.Arguments = make(map[string]any, len(tc.Arguments))
		for k, v := range tc.Arguments {
			out.Arguments[k] = v
		}
	}
	return out
}

// ToolCallFragment is a piece of a tool call as it streams in. ID is always
// set; Name is set at least on the first fragment; Arguments carries partial
// JSON to be concatenated.
type ToolCallFragment struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// Delta is one incremental output event from a model stream.
type Delta struct {
	Content  Content
	ToolCall *ToolCallFragment
}

// Usage is the token accounting reported for one model turn.
type Usage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
}

// Total is input plus output tokens.
func (u Usage) Total() int64 {
	return u.InputTokens + u.OutputTokens
}

// Add accumulates another report.
func (u *Usage) Add(o Usage) {
	u.InputTokens += o.InputTokens
	u.OutputTokens += o.OutputTokens
	u.CacheCreationInputTokens += o.CacheCreationInputTokens
	u.CacheReadInputTokens += o.CacheReadInputTokens
}

// Turn is the finalized result of one model call.
type Turn struct {
	Text       string
	ToolCalls  []ToolCall
	Usage      Usage
	StopReason string
}

// Message converts the turn into the assistant message that records it.
func (t Turn) Message() Message {
	return Message{
		Role:      RoleAssistant,
		Content:   NewTextContent(t.Text),
		ToolCalls: t.ToolCalls,
	}
}

// IsRetryableError reports whether err is a transient model failure worth
// another attempt: rate limits, overload, server errors and dropped
// connections.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		return retryableStatus(anthropicErr.StatusCode)
	}
	var openaiErr *openai.Error
	if errors.As(err, &openaiErr) {
		return retryableStatus(openaiErr.StatusCode)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"econnreset", "etimedout", "connection reset", "overloaded", "rate limit", "429", "502", "503", "504", "529"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func retryableStatus(code int) bool {
	return code == 408 || code == 409 || code == 429 || code >= 500
}
