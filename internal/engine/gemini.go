package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"
)

// DefaultGeminiModel is used when the turn's selector is empty or "auto";
// Gemini has no gateway router to resolve "auto" for us.
const DefaultGeminiModel = "gemini-2.5-flash"

// Gemini is the direct google.golang.org/genai engine adapter.
//
// It performs plain generation without tool calling: retrieval tools here
// are bound to the gateway protocol, and the Gemini path serves
// deployments that talk to the model directly.
type Gemini struct {
	client    *genai.Client
	maxTokens int
	logger    *slog.Logger
}

// NewGemini creates a Gemini adapter.
func NewGemini(ctx context.Context, apiKey string, maxTokens int, logger *slog.Logger) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &Gemini{client: client, maxTokens: maxTokens, logger: logger}, nil
}

// Generate implements Engine.
func (g *Gemini) Generate(ctx context.Context, conv Context, text, model string) (string, error) {
	if model == "" || model == ModelAuto {
		model = DefaultGeminiModel
	}

	contents := make([]*genai.Content, 0, len(conv.Messages)+1)
	for _, m := range conv.Messages {
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))

	cfg := &genai.GenerateContentConfig{}
	if conv.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(conv.System, genai.RoleUser)
	}
	if g.maxTokens > 0 {
		cfg.MaxOutputTokens = int32(g.maxTokens)
	}

	resp, err := g.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	final := strings.TrimSpace(resp.Text())
	if final == "" {
		return "", fmt.Errorf("%w: model returned empty content", ErrGenerationFailed)
	}

	g.logger.Debug("generation completed", "model", model, "response_len", len(final))
	return final, nil
}
