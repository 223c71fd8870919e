package summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/deusflow/newsdesk/internal/retry"
)

const DefaultGeminiModel = "gemini-1.5-flash"

type Gemini struct {
	client *genai.Client
	opts   Options
}

func NewGemini(ctx context.Context, apiKey string, opts Options, extra ...option.ClientOption) (*Gemini, error) {
	clientOpts := append([]option.ClientOption{option.WithAPIKey(apiKey)}, extra...)
	client, err := genai.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	if opts.Model == "" {
		opts.Model = DefaultGeminiModel
	}
	return &Gemini{client: client, opts: opts}, nil
}

func (g *Gemini) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *Gemini) Summarize(ctx context.Context, url, title, text string) (*Summary, error) {
	model := g.client.GenerativeModel(g.opts.Model)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(SystemPrompt)}}
	model.ResponseMIMEType = "application/json"
	model.SetTemperature(0)
	model.SetMaxOutputTokens(int32(g.opts.outputTokens()))

	prompt := UserPrompt(url, title, text, g.opts.charCap())

	var raw string
	err := retry.WithRetry(ctx, g.opts.retryConfig("gemini", url), func() error {
		resp, err := model.GenerateContent(ctx, genai.Text(prompt))
		if err != nil {
			return classifyGemini(err)
		}
		raw = responseText(resp)
		if raw == "" {
			return errors.New("no response from Gemini")
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("gemini summarize: %w", err)
	}

	return Parse(raw, url, title)
}

func classifyGemini(err error) error {
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return retry.Permanent(err)
	}
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return classify(gErr.Code, err)
	}
	return err
}

// responseText joins the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return strings.TrimSpace(b.String())
}
