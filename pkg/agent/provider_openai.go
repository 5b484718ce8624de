package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/harun/parley/pkg/toolexecutor"
)

// OpenAIModel streams from the Chat Completions API. Cache markers are
// ignored: OpenAI caches long prefixes automatically.
type OpenAIModel struct {
	client      openai.Client
	model       string
	maxTokens   int64
	temperature float64
}

// NewOpenAIModel creates a new OpenAI model
func NewOpenAIModel(cfg ModelConfig) *OpenAIModel {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIModel{
		client:      openai.NewClient(opts...),
		model:       cfg.Model,
		maxTokens:   int64(cfg.MaxTokens),
		temperature: cfg.Temperature,
	}
}

// Provider returns the provider name
func (m *OpenAIModel) Provider() string {
	return "openai"
}

// Stream starts a streaming chat completion.
func (m *OpenAIModel) Stream(ctx context.Context, prompt Prompt) (Stream, error) {
	params, err := m.buildParams(prompt)
	if err != nil {
		return nil, err
	}
	return &openaiStream{
		stream: m.client.Chat.Completions.NewStreaming(ctx, params),
		ids:    make(map[int64]string),
	}, nil
}

func (m *OpenAIModel) buildParams(prompt Prompt) (openai.ChatCompletionNewParams, error) {
	var messages []openai.ChatCompletionMessageParamUnion

	if prompt.System != "" {
		messages = append(messages, openai.SystemMessage(prompt.System))
	}

	for _, msg := range prompt.Messages {
		switch msg.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content.String()))
		case RoleUser:
			messages = append(messages, openai.UserMessage(msg.Content.String()))
		case RoleTool:
			messages = append(messages, openai.ToolMessage(msg.Content.String(), msg.ToolCallID))
		case RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				messages = append(messages, openai.AssistantMessage(msg.Content.String()))
				continue
			}
			toolCalls := make([]openai.ChatCompletionMessageToolCall, 0, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				argsJSON, err := json.Marshal(tc.Arguments)
				if err != nil {
					return openai.ChatCompletionNewParams{}, fmt.Errorf("failed to marshal tool arguments: %w", err)
				}
				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunction{
						Name:      tc.Name,
						Arguments: string(argsJSON),
					},
				})
			}
			assistantMsg := openai.ChatCompletionMessage{
				Role:      "assistant",
				Content:   msg.Content.String(),
				ToolCalls: toolCalls,
			}
			messages = append(messages, assistantMsg.ToParam())
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(m.model),
		Messages:    messages,
		Temperature: openai.Float(m.temperature),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if m.maxTokens > 0 {
		params.MaxTokens = openai.Int(m.maxTokens)
	}
	if len(prompt.Tools) > 0 {
		params.Tools = openaiTools(prompt.Tools)
	}
	return params, nil
}

func openaiTools(specs []toolexecutor.ToolSpec) []openai.ChatCompletionToolParam {
	tools := make([]openai.ChatCompletionToolParam, 0, len(specs))
	for _, spec := range specs {
		schema := spec.InputSchema
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		tools = append(tools, openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        spec.Name,
				Description: openai.String(spec.Description),
				Parameters:  openai.FunctionParameters(schema),
			},
		})
	}
	return tools
}

type openaiStream struct {
	stream  *ssestream.Stream[openai.ChatCompletionChunk]
	acc     openai.ChatCompletionAccumulator
	ids     map[int64]string
	builder turnBuilder
	pending []Delta
	current Delta
	finish  string
}

func (s *openaiStream) Next() bool {
	for len(s.pending) == 0 {
		if !s.stream.Next() {
			return false
		}
		chunk := s.stream.Current()
		s.acc.AddChunk(chunk)
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			s.finish = choice.FinishReason
		}
		if choice.Delta.Content != "" {
			s.builder.text.WriteString(choice.Delta.Content)
			s.pending = append(s.pending, Delta{Content: NewTextContent(choice.Delta.Content)})
		}
		// Only the first fragment of a call carries its id.
		for _, tc := range choice.Delta.ToolCalls {
			if tc.ID != "" {
				s.ids[tc.Index] = tc.ID
			}
			id, ok := s.ids[tc.Index]
			if !ok {
				continue
			}
			frag := ToolCallFragment{ID: id, Name: tc.Function.Name, Arguments: tc.Function.Arguments}
			s.builder.calls.add(frag)
			s.pending = append(s.pending, Delta{ToolCall: &frag})
		}
	}

	s.current = s.pending[0]
	s.pending = s.pending[1:]
	return true
}

func (s *openaiStream) Current() Delta {
	return s.current
}

func (s *openaiStream) Err() error {
	return s.stream.Err()
}

func (s *openaiStream) Turn() (Turn, error) {
	u := s.acc.Usage
	return s.builder.build(Usage{
		InputTokens:          u.PromptTokens,
		OutputTokens:         u.CompletionTokens,
		CacheReadInputTokens: u.PromptTokensDetails.CachedTokens,
	}, s.finish)
}

func (s *openaiStream) Close() error {
	return s.stream.Close()
}
