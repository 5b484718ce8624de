package agent

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/harun/parley/pkg/toolexecutor"
)

// AnthropicModel streams from the Anthropic Messages API and translates
// cache markers into cache_control blocks.
type AnthropicModel struct {
	client        anthropic.Client
	model         string
	maxTokens     int64
	temperature   float64
	promptCaching bool
}

// NewAnthropicModel creates a new Anthropic model. SDK retries are disabled;
// the orchestrator owns retry policy.
func NewAnthropicModel(cfg ModelConfig) *AnthropicModel {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicModel{
		client:        anthropic.NewClient(opts...),
		model:         cfg.Model,
		maxTokens:     int64(cfg.MaxTokens),
		temperature:   cfg.Temperature,
		promptCaching: cfg.PromptCaching,
	}
}

// Provider returns the provider name
func (m *AnthropicModel) Provider() string {
	return "anthropic"
}

// Stream starts a streaming Messages call.
func (m *AnthropicModel) Stream(ctx context.Context, prompt Prompt) (Stream, error) {
	params := m.buildParams(prompt)
	return &anthropicStream{
		stream: m.client.Messages.NewStreaming(ctx, params),
		blocks: make(map[int64]ToolCallFragment),
	}, nil
}

func (m *AnthropicModel) buildParams(prompt Prompt) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(m.model),
		MaxTokens:   m.maxTokens,
		Temperature: anthropic.Float(m.temperature),
		Messages:    m.convertMessages(prompt.Messages),
	}

	var system []anthropic.TextBlockParam
	if prompt.System != "" {
		block := anthropic.TextBlockParam{Text: prompt.System}
		if prompt.CacheSystem && m.promptCaching {
			block.CacheControl = anthropic.NewCacheControlEphemeralParam()
		}
		system = append(system, block)
	}
	// The Messages API has no system role inside the conversation.
	for _, msg := range prompt.Messages {
		if msg.Role == RoleSystem && !msg.Content.IsEmpty() {
			system = append(system, anthropic.TextBlockParam{Text: msg.Content.String()})
		}
	}
	params.System = system

	if len(prompt.Tools) > 0 {
		params.Tools = anthropicTools(prompt.Tools)
	}
	return params
}

func (m *AnthropicModel) convertMessages(msgs []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))

	for i := 0; i < len(msgs); i++ {
		msg := msgs[i]
		switch msg.Role {
		case RoleSystem:
			continue

		case RoleTool:
			// Consecutive tool results travel together in one user turn.
			var blocks []anthropic.ContentBlockParamUnion
			for ; i < len(msgs) && msgs[i].Role == RoleTool; i++ {
				block := anthropic.NewToolResultBlock(msgs[i].ToolCallID, msgs[i].Content.String(), false)
				if m.promptCaching && msgs[i].Content.CacheMarked() {
					block.OfToolResult.CacheControl = anthropic.NewCacheControlEphemeralParam()
				}
				blocks = append(blocks, block)
			}
			i--
			out = append(out, anthropic.NewUserMessage(blocks...))

		case RoleAssistant:
			blocks := m.textBlocks(msg.Content)
			for _, tc := range msg.ToolCalls {
				args := tc.Arguments
				if args == nil {
					args = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, args, tc.Name))
			}
			if len(msg.ToolCalls) > 0 && m.promptCaching && msg.Content.CacheMarked() {
				blocks[len(blocks)-1].OfToolUse.CacheControl = anthropic.NewCacheControlEphemeralParam()
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: blocks,
			})

		default:
			blocks := m.textBlocks(msg.Content)
			if len(blocks) == 0 {
				continue
			}
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}

	return out
}

// textBlocks converts content into text blocks. Empty text is dropped
// because the API rejects empty blocks.
func (m *AnthropicModel) textBlocks(c Content) []anthropic.ContentBlockParamUnion {
	var blocks []anthropic.ContentBlockParamUnion
	for _, p := range c.Parts() {
		if p.Text == "" {
			continue
		}
		tb := anthropic.TextBlockParam{Text: p.Text}
		if m.promptCaching && p.CacheControl != nil {
			tb.CacheControl = anthropic.NewCacheControlEphemeralParam()
		}
		blocks = append(blocks, anthropic.ContentBlockParamUnion{OfText: &tb})
	}
	return blocks
}

func anthropicTools(specs []toolexecutor.ToolSpec) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		toolParam := anthropic.ToolParam{
			Name:        spec.Name,
			Description: anthropic.String(spec.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: spec.InputSchema["properties"],
				Required:   spec.RequiredFields(),
			},
		}
		tools = append(tools, anthropic.ToolUnionParam{OfTool: &toolParam})
	}
	return tools
}

type anthropicStream struct {
	stream  *ssestream.Stream[anthropic.MessageStreamEventUnion]
	message anthropic.Message
	blocks  map[int64]ToolCallFragment
	builder turnBuilder
	current Delta
	err     error
}

func (s *anthropicStream) Next() bool {
	if s.err != nil {
		return false
	}
	for s.stream.Next() {
		event := s.stream.Current()
		if err := s.message.Accumulate(event); err != nil {
			s.err = err
			return false
		}

		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			if ev.ContentBlock.Type != "tool_use" {
				continue
			}
			frag := ToolCallFragment{ID: ev.ContentBlock.ID, Name: ev.ContentBlock.Name}
			s.blocks[ev.Index] = frag
			s.builder.calls.add(frag)
			s.current = Delta{ToolCall: &frag}
			return true

		case anthropic.ContentBlockDeltaEvent:
			switch d := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if d.Text == "" {
					continue
				}
				s.builder.text.WriteString(d.Text)
				s.current = Delta{Content: NewTextContent(d.Text)}
				return true
			case anthropic.InputJSONDelta:
				block, ok := s.blocks[ev.Index]
				if !ok || d.PartialJSON == "" {
					continue
				}
				frag := ToolCallFragment{ID: block.ID, Arguments: d.PartialJSON}
				s.builder.calls.add(frag)
				s.current = Delta{ToolCall: &frag}
				return true
			}
		}
	}
	return false
}

func (s *anthropicStream) Current() Delta {
	return s.current
}

func (s *anthropicStream) Err() error {
	if s.err != nil {
		return s.err
	}
	return s.stream.Err()
}

func (s *anthropicStream) Turn() (Turn, error) {
	u := s.message.Usage
	return s.builder.build(Usage{
		InputTokens:              u.InputTokens,
		OutputTokens:             u.OutputTokens,
		CacheCreationInputTokens: u.CacheCreationInputTokens,
		CacheReadInputTokens:     u.CacheReadInputTokens,
	}, string(s.message.StopReason))
}

func (s *anthropicStream) Close() error {
	return s.stream.Close()
}
