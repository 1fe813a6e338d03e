package agent

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAI-compatible endpoints of the non-OpenAI vendors.
const (
	AnthropicBaseURL = "https://api.anthropic.com/v1/"
	GeminiBaseURL    = "https://generativelanguage.googleapis.com/v1beta/openai/"
)

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	client openai.Client
}

// DefaultBaseURL returns the endpoint for vendor, or "" for the SDK default.
func DefaultBaseURL(vendor Vendor) string {
	switch vendor {
	case VendorAnthropic:
		return AnthropicBaseURL
	case VendorGemini:
		return GeminiBaseURL
	}
	return ""
}

// NewOpenAIClient creates a client for vendor. baseURL overrides the
// vendor default.
func NewOpenAIClient(vendor Vendor, baseURL, apiKey string, opts ...option.RequestOption) *OpenAIClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL(vendor)
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	reqOpts = append(reqOpts, opts...)
	return &OpenAIClient{client: openai.NewClient(reqOpts...)}
}

// Complete sends one system + user exchange.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (Response, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(req.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.User),
		},
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Response{}, err
	}
	if len(completion.Choices) == 0 {
		return Response{}, fmt.Errorf("completion %s returned no choices", completion.ID)
	}
	return Response{
		Content:          completion.Choices[0].Message.Content,
		PromptTokens:     int(completion.Usage.PromptTokens),
		CompletionTokens: int(completion.Usage.CompletionTokens),
	}, nil
}
