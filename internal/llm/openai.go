package llm

import (
	"context"
	"log/slog"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/1thirteeng3/rlm/internal/errdefs"
)

// OpenAIClient implements Provider using the official OpenAI SDK.
type OpenAIClient struct {
	client openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAIClient creates an OpenAI provider. baseURL may be empty for the
// public API; set it to point at any OpenAI-compatible server.
func NewOpenAIClient(apiKey, model, baseURL string, logger *slog.Logger) *OpenAIClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIClient{
		client: openai.NewClient(opts...),
		model:  model,
		logger: logger,
	}
}

func (c *OpenAIClient) Name() string { return "openai" }

// Complete sends the conversation to the Chat Completions API.
func (c *OpenAIClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	resp, err := c.client.Chat.Completions.New(ctx, c.buildParams(req))
	if err != nil {
		return nil, &errdefs.LLMError{Provider: c.Name(), Err: err}
	}

	var content string
	var stopReason string
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
		stopReason = string(resp.Choices[0].FinishReason)
	}

	out := &Response{
		Content:    content,
		Model:      resp.Model,
		StopReason: stopReason,
		Usage: Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}
	c.logCompletion(ctx, out)
	return out, nil
}

// Stream sends the conversation and forwards content deltas to onChunk.
func (c *OpenAIClient) Stream(ctx context.Context, req *Request, onChunk func(string)) (*Response, error) {
	stream := c.client.Chat.Completions.NewStreaming(ctx, c.buildParams(req))
	defer stream.Close()

	var acc openai.ChatCompletionAccumulator
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			onChunk(chunk.Choices[0].Delta.Content)
		}
	}
	if err := stream.Err(); err != nil {
		return nil, &errdefs.LLMError{Provider: c.Name(), Err: err}
	}

	var content string
	var stopReason string
	if len(acc.Choices) > 0 {
		content = acc.Choices[0].Message.Content
		stopReason = string(acc.Choices[0].FinishReason)
	}
	out := &Response{
		Content:    content,
		Model:      acc.Model,
		StopReason: stopReason,
		Usage: Usage{
			InputTokens:  int(acc.Usage.PromptTokens),
			OutputTokens: int(acc.Usage.CompletionTokens),
		},
	}
	c.logCompletion(ctx, out)
	return out, nil
}

func (c *OpenAIClient) buildParams(req *Request) openai.ChatCompletionNewParams {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(c.model),
		Messages:            messages,
		MaxCompletionTokens: openai.Int(int64(maxTokens)),
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	return params
}

func (c *OpenAIClient) logCompletion(ctx context.Context, resp *Response) {
	c.logger.DebugContext(ctx, "llm request completed",
		slog.String("provider", c.Name()),
		slog.String("model", resp.Model),
		slog.Int("input_tokens", resp.Usage.InputTokens),
		slog.Int("output_tokens", resp.Usage.OutputTokens),
		slog.String("stop_reason", resp.StopReason),
	)
}
