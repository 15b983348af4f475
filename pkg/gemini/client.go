// Package gemini wraps the Google GenAI SDK behind a small text-generation
// interface.
package gemini

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"google.golang.org/genai"

	"github.com/sells-group/conftool-helper/internal/resilience"
)

// Client defines the Gemini API operations used by the oracle gateway.
type Client interface {
	GenerateContent(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
}

// GenerateRequest is a single-turn generation request.
type GenerateRequest struct {
	Model           string
	System          string
	Prompt          string
	MaxOutputTokens int32
	Temperature     *float32
}

// GenerateResponse holds the text of each returned candidate.
type GenerateResponse struct {
	Model      string
	Candidates []Candidate
	Usage      TokenUsage
}

// Candidate is one generated answer.
type Candidate struct {
	Text         string
	FinishReason string
}

// FirstText returns the text of the first candidate, and false when the
// response carries none.
func (r *GenerateResponse) FirstText() (string, bool) {
	if r == nil || len(r.Candidates) == 0 {
		return "", false
	}
	return r.Candidates[0].Text, true
}

// TokenUsage tracks token consumption. CachedTokens is a subset of
// PromptTokens.
type TokenUsage struct {
	PromptTokens int32
	OutputTokens int32
	CachedTokens int32
}

type sdkClient struct {
	client *genai.Client
}

// NewClient creates a Gemini API client. An empty baseURL keeps the SDK
// default endpoint.
func NewClient(ctx context.Context, apiKey, baseURL string) (Client, error) {
	if apiKey == "" {
		return nil, eris.New("gemini: api key is required")
	}

	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "gemini: create client")
	}
	return &sdkClient{client: client}, nil
}

func (c *sdkClient) GenerateContent(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: req.MaxOutputTokens,
		Temperature:     req.Temperature,
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	resp, err := c.client.Models.GenerateContent(ctx, req.Model, genai.Text(req.Prompt), cfg)
	if err != nil {
		return nil, eris.Wrap(classifyError(err), "gemini: generate content")
	}

	return fromSDKResponse(req.Model, resp), nil
}

func classifyError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && resilience.IsTransientHTTPStatus(apiErr.Code) {
		return resilience.NewTransientError(err, apiErr.Code)
	}
	return err
}

func fromSDKResponse(model string, resp *genai.GenerateContentResponse) *GenerateResponse {
	out := &GenerateResponse{Model: model}
	if resp == nil {
		return out
	}
	if resp.ModelVersion != "" {
		out.Model = resp.ModelVersion
	}

	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		var sb strings.Builder
		for _, part := range cand.Content.Parts {
			if part == nil || part.Thought {
				continue
			}
			sb.WriteString(part.Text)
		}
		out.Candidates = append(out.Candidates, Candidate{
			Text:         sb.String(),
			FinishReason: string(cand.FinishReason),
		})
	}

	if u := resp.UsageMetadata; u != nil {
		out.Usage = TokenUsage{
			PromptTokens: u.PromptTokenCount,
			OutputTokens: u.CandidatesTokenCount,
			CachedTokens: u.CachedContentTokenCount,
		}
	}
	return out
}
