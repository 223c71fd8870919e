package summarize

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/deusflow/newsdesk/internal/retry"
)

const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAI summarizes through the chat completions API.
type OpenAI struct {
	client *openai.Client
	opts   Options
}

// NewOpenAI builds a client. baseURL and httpClient are optional.
func NewOpenAI(apiKey, baseURL string, httpClient *http.Client, opts Options) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	if opts.Model == "" {
		opts.Model = DefaultOpenAIModel
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg), opts: opts}
}

func (o *OpenAI) Summarize(ctx context.Context, url, title, text string) (*Summary, error) {
	req := openai.ChatCompletionRequest{
		Model: o.opts.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: UserPrompt(url, title, text, o.opts.charCap())},
		},
		Temperature: 0,
		MaxTokens:   o.opts.outputTokens(),
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	var raw string
	err := retry.WithRetry(ctx, o.opts.retryConfig("openai", url), func() error {
		resp, err := o.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return classify(openAIStatus(err), err)
		}
		if len(resp.Choices) == 0 {
			return errors.New("no choices in completion")
		}
		raw = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("openai summarize: %w", err)
	}

	return Parse(raw, url, title)
}

func openAIStatus(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
