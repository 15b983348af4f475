package oracle

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/conftool-helper/internal/cost"
	"github.com/sells-group/conftool-helper/internal/model"
	"github.com/sells-group/conftool-helper/pkg/anthropic"
	"github.com/sells-group/conftool-helper/pkg/gemini"
)

// Provider is one concrete LLM API behind the gateway.
type Provider interface {
	Name() string
	Model() string
	Complete(ctx context.Context, systemPrompt, userPrompt string) (*Completion, error)
}

// Completion is the outcome of one provider call. OK is false when the
// provider answered without any candidate.
type Completion struct {
	Text  string
	OK    bool
	Usage model.TokenUsage
}

// AnthropicProvider sends prompts through the Messages API.
type AnthropicProvider struct {
	client      anthropic.Client
	model       string
	maxTokens   int64
	cacheSystem bool
	temperature *float64
}

// AnthropicOptions configures an AnthropicProvider.
type AnthropicOptions struct {
	Model       string
	MaxTokens   int64
	CacheSystem bool
	Temperature *float64
}

// NewAnthropicProvider wraps an already constructed client.
func NewAnthropicProvider(client anthropic.Client, opts AnthropicOptions) *AnthropicProvider {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4096
	}
	return &AnthropicProvider{
		client:      client,
		model:       opts.Model,
		maxTokens:   opts.MaxTokens,
		cacheSystem: opts.CacheSystem,
		temperature: opts.Temperature,
	}
}

func (p *AnthropicProvider) Name() string  { return cost.ProviderAnthropic }
func (p *AnthropicProvider) Model() string { return p.model }

func (p *AnthropicProvider) Complete(ctx context.Context, systemPrompt, userPrompt string) (*Completion, error) {
	system := anthropic.BuildSystemBlocks(systemPrompt)
	if p.cacheSystem && systemPrompt != "" {
		system = anthropic.BuildCachedSystemBlocks(systemPrompt)
	}

	resp, err := p.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       p.model,
		MaxTokens:   p.maxTokens,
		System:      system,
		Messages:    []anthropic.Message{{Role: "user", Content: userPrompt}},
		Temperature: p.temperature,
	})
	if err != nil {
		return nil, eris.Wrap(err, "oracle: anthropic call")
	}

	text, ok := resp.FirstText()
	return &Completion{
		Text: text,
		OK:   ok,
		Usage: model.TokenUsage{
			InputTokens:         int(resp.Usage.InputTokens),
			OutputTokens:        int(resp.Usage.OutputTokens),
			CacheCreationTokens: int(resp.Usage.CacheCreationInputTokens),
			CacheReadTokens:     int(resp.Usage.CacheReadInputTokens),
		},
	}, nil
}

// GeminiProvider sends prompts through the GenAI generateContent API.
type GeminiProvider struct {
	client      gemini.Client
	model       string
	maxTokens   int32
	temperature *float32
}

// GeminiOptions configures a GeminiProvider.
type GeminiOptions struct {
	Model       string
	MaxTokens   int32
	Temperature *float32
}

// NewGeminiProvider wraps an already constructed client.
func NewGeminiProvider(client gemini.Client, opts GeminiOptions) *GeminiProvider {
	return &GeminiProvider{
		client:      client,
		model:       opts.Model,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
	}
}

func (p *GeminiProvider) Name() string  { return cost.ProviderGemini }
func (p *GeminiProvider) Model() string { return p.model }

func (p *GeminiProvider) Complete(ctx context.Context, systemPrompt, userPrompt string) (*Completion, error) {
	resp, err := p.client.GenerateContent(ctx, gemini.GenerateRequest{
		Model:           p.model,
		System:          systemPrompt,
		Prompt:          userPrompt,
		MaxOutputTokens: p.maxTokens,
		Temperature:     p.temperature,
	})
	if err != nil {
		return nil, eris.Wrap(err, "oracle: gemini call")
	}

	text, ok := resp.FirstText()
	return &Completion{
		Text: text,
		OK:   ok,
		Usage: model.TokenUsage{
			InputTokens:     int(resp.Usage.PromptTokens),
			OutputTokens:    int(resp.Usage.OutputTokens),
			CacheReadTokens: int(resp.Usage.CachedTokens),
		},
	}, nil
}
