package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// maxToolIterations bounds the reasoning loop: a model that keeps asking
// for tools past this point is not converging.
const maxToolIterations = 10

// GatewayConfig configures the Gateway engine adapter.
type GatewayConfig struct {
	BaseURL      string
	APIKey       string
	DefaultModel string // used when the selector is empty or "auto" falls through gateway routing
	MaxTokens    int
	Timeout      time.Duration
	Retry        RetryConfig

	// RequestsPerSecond limits outbound generation calls. Zero means the
	// default of 2 req/s.
	RequestsPerSecond float64
}

// Gateway is the OpenAI-compatible chat-completions engine adapter.
// It talks to the Concentrate AI gateway, which routes the model selector
// ("auto" or a concrete model name) to an upstream provider. Retrieval
// tools are offered to the model and executed locally in a bounded loop.
type Gateway struct {
	cfg     GatewayConfig
	client  *http.Client
	toolkit Toolkit
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewGateway creates a Gateway adapter. toolkit may be nil to disable
// tool calling.
func NewGateway(cfg GatewayConfig, toolkit Toolkit, logger *slog.Logger) *Gateway {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig()
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Gateway{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		toolkit: toolkit,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		logger:  logger,
	}
}

// Wire types for the chat-completions protocol.

type chatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []toolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type toolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

type chatRequest struct {
	Model     string           `json:"model"`
	Messages  []chatMessage    `json:"messages"`
	Tools     []map[string]any `json:"tools,omitempty"`
	MaxTokens int              `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

// Generate implements Engine. The conversation is replayed to the
// gateway; if the model requests tool calls they are executed and fed
// back until it produces final text or the iteration bound is hit.
func (g *Gateway) Generate(ctx context.Context, conv Context, text, model string) (string, error) {
	msgs := make([]chatMessage, 0, len(conv.Messages)+2)
	if conv.System != "" {
		msgs = append(msgs, chatMessage{Role: RoleSystem, Content: conv.System})
	}
	for _, m := range conv.Messages {
		msgs = append(msgs, chatMessage{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, chatMessage{Role: RoleUser, Content: text})

	selected := g.resolveModel(model)

	for iteration := 0; iteration < maxToolIterations; iteration++ {
		resp, err := withRetry(ctx, g.cfg.Retry, g.limiter, g.logger, func() (*chatResponse, error) {
			return g.complete(ctx, selected, msgs)
		})
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrGenerationFailed, err)
		}

		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("%w: gateway returned no choices", ErrGenerationFailed)
		}

		reply := resp.Choices[0].Message
		if len(reply.ToolCalls) == 0 {
			final := strings.TrimSpace(reply.Content)
			if final == "" {
				return "", fmt.Errorf("%w: gateway returned empty content", ErrGenerationFailed)
			}
			return final, nil
		}

		if g.toolkit == nil {
			return "", fmt.Errorf("%w: model requested tools but none are configured", ErrGenerationFailed)
		}

		msgs = append(msgs, reply)
		for _, call := range reply.ToolCalls {
			result, err := g.toolkit.Call(ctx, call.Function.Name, call.Function.Arguments)
			if err != nil {
				// The model gets the failure and may recover or apologize.
				result = fmt.Sprintf(`{"error": %q}`, err.Error())
				g.logger.Warn("tool call failed",
					"tool", call.Function.Name, "error", err)
			}
			msgs = append(msgs, chatMessage{
				Role:       RoleTool,
				Content:    result,
				ToolCallID: call.ID,
			})
		}
	}

	return "", fmt.Errorf("%w: tool loop exceeded %d iterations", ErrGenerationFailed, maxToolIterations)
}

// resolveModel maps the per-turn selector onto a gateway model name.
func (g *Gateway) resolveModel(model string) string {
	if model == "" {
		return g.cfg.DefaultModel
	}
	// "auto" is meaningful to the gateway router; pass it through.
	return model
}

// complete performs one chat-completions round trip.
func (g *Gateway) complete(ctx context.Context, model string, msgs []chatMessage) (*chatResponse, error) {
	req := chatRequest{
		Model:     model,
		Messages:  msgs,
		MaxTokens: g.cfg.MaxTokens,
	}
	if g.toolkit != nil {
		for _, spec := range g.toolkit.Specs() {
			req.Tools = append(req.Tools, map[string]any{
				"type":     "function",
				"function": spec,
			})
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(g.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, fmt.Errorf("gateway error %d: %s", httpResp.StatusCode, respBody)
	}

	var resp chatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &resp, nil
}
