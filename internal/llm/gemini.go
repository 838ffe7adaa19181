package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/1thirteeng3/rlm/internal/errdefs"
)

const geminiDefaultBaseURL = "https://generativelanguage.googleapis.com"

// GeminiClient implements Provider against the Gemini generateContent API.
type GeminiClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewGeminiClient creates a Gemini provider. baseURL may be empty for the
// public endpoint.
func NewGeminiClient(apiKey, model, baseURL string, logger *slog.Logger) *GeminiClient {
	if baseURL == "" {
		baseURL = geminiDefaultBaseURL
	}
	return &GeminiClient{
		apiKey:     apiKey,
		model:      model,
		baseURL:    baseURL,
		httpClient: http.DefaultClient,
		logger:     logger,
	}
}

func (c *GeminiClient) Name() string { return "gemini" }

// Complete sends the conversation to the generateContent endpoint.
func (c *GeminiClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	apiReq := c.buildRequest(req)

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, &errdefs.LLMError{Provider: c.Name(), Err: fmt.Errorf("marshaling request: %w", err)}
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, c.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &errdefs.LLMError{Provider: c.Name(), Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &errdefs.LLMError{Provider: c.Name(), Err: err}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &errdefs.LLMError{Provider: c.Name(), Err: err}
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, &errdefs.LLMError{
			Provider: c.Name(),
			Err:      fmt.Errorf("API error (status %d): %s", httpResp.StatusCode, respBody),
		}
	}

	var apiResp geminiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, &errdefs.LLMError{Provider: c.Name(), Err: fmt.Errorf("parsing response: %w", err)}
	}

	var content string
	var stopReason string
	if len(apiResp.Candidates) > 0 {
		for _, part := range apiResp.Candidates[0].Content.Parts {
			content += part.Text
		}
		stopReason = apiResp.Candidates[0].FinishReason
	}

	out := &Response{
		Content:    content,
		Model:      c.model,
		StopReason: stopReason,
		Usage: Usage{
			InputTokens:  apiResp.UsageMetadata.PromptTokenCount,
			OutputTokens: apiResp.UsageMetadata.CandidatesTokenCount,
		},
	}
	c.logger.DebugContext(ctx, "llm request completed",
		slog.String("provider", c.Name()),
		slog.String("model", c.model),
		slog.Int("input_tokens", out.Usage.InputTokens),
		slog.Int("output_tokens", out.Usage.OutputTokens),
	)
	return out, nil
}

// Stream completes the request and delivers the result as a single chunk.
// The generateContent endpoint used here has no incremental mode.
func (c *GeminiClient) Stream(ctx context.Context, req *Request, onChunk func(string)) (*Response, error) {
	resp, err := c.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Content != "" {
		onChunk(resp.Content)
	}
	return resp, nil
}

func (c *GeminiClient) buildRequest(req *Request) geminiRequest {
	apiReq := geminiRequest{}
	if req.SystemPrompt != "" {
		apiReq.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.SystemPrompt}}}
	}
	for _, m := range req.Messages {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		apiReq.Contents = append(apiReq.Contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: m.Content}},
		})
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	apiReq.GenerationConfig = &geminiGenerationConfig{
		MaxOutputTokens: maxTokens,
		Temperature:     req.Temperature,
	}
	return apiReq
}

// --- Gemini API wire types (unexported) ---

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}
