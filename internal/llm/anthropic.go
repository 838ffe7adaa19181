package llm

import (
	"context"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/1thirteeng3/rlm/internal/errdefs"
)

// AnthropicClient implements Provider using the official Anthropic SDK.
type AnthropicClient struct {
	client anthropic.Client
	model  string
	logger *slog.Logger
}

// NewAnthropicClient creates an Anthropic provider.
func NewAnthropicClient(apiKey, model string, logger *slog.Logger) *AnthropicClient {
	return &AnthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
		logger: logger,
	}
}

func (c *AnthropicClient) Name() string { return "anthropic" }

// Complete sends the conversation to the Messages API.
func (c *AnthropicClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	resp, err := c.client.Messages.New(ctx, c.buildParams(req))
	if err != nil {
		return nil, &errdefs.LLMError{Provider: c.Name(), Err: err}
	}
	out := c.toResponse(resp)
	c.logCompletion(ctx, out)
	return out, nil
}

// Stream sends the conversation and forwards text deltas to onChunk.
func (c *AnthropicClient) Stream(ctx context.Context, req *Request, onChunk func(string)) (*Response, error) {
	stream := c.client.Messages.NewStreaming(ctx, c.buildParams(req))

	var message anthropic.Message
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return nil, &errdefs.LLMError{Provider: c.Name(), Err: err}
		}
		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok {
				onChunk(delta.Text)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, &errdefs.LLMError{Provider: c.Name(), Err: err}
	}
	out := c.toResponse(&message)
	c.logCompletion(ctx, out)
	return out, nil
}

func (c *AnthropicClient) buildParams(req *Request) anthropic.MessageNewParams {
	var messages []anthropic.MessageParam
	for _, m := range req.Messages {
		block := anthropic.NewTextBlock(m.Content)
		switch m.Role {
		case RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(block))
		default:
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	return params
}

func (c *AnthropicClient) toResponse(msg *anthropic.Message) *Response {
	var content string
	for _, block := range msg.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}
	return &Response{
		Content:    content,
		Model:      string(msg.Model),
		StopReason: string(msg.StopReason),
		Usage: Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
}

func (c *AnthropicClient) logCompletion(ctx context.Context, resp *Response) {
	c.logger.DebugContext(ctx, "llm request completed",
		slog.String("provider", c.Name()),
		slog.String("model", resp.Model),
		slog.Int("input_tokens", resp.Usage.InputTokens),
		slog.Int("output_tokens", resp.Usage.OutputTokens),
		slog.String("stop_reason", resp.StopReason),
	)
}
