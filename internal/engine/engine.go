// Package engine defines the reasoning-engine port and its adapters.
//
// The engine is an external collaborator: it receives the hydrated
// conversation context plus the new user text and returns final text in
// one piece. It never produces partial output; any downstream failure
// surfaces as ErrGenerationFailed. Two adapters are provided: Gateway
// (OpenAI-compatible chat endpoint with retrieval tool calling) and
// Gemini (direct google.golang.org/genai client).
package engine

import (
	"context"
	"encoding/json"
	"errors"
)

// Message roles understood by the engine adapters.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ModelAuto lets the provider route the request to a model of its choice.
const ModelAuto = "auto"

var (
	// ErrGenerationFailed indicates the engine failed or returned unusable
	// output. The turn becomes Failed; the user message stays persisted.
	ErrGenerationFailed = errors.New("generation failed")
)

// Message is one entry of the hydrated conversation context.
type Message struct {
	Role    string
	Content string
}

// Context is the transient, per-turn conversation context produced by
// hydration. It is never persisted and never shared between turns.
type Context struct {
	System   string
	Messages []Message
}

// Engine generates a final reply for one turn.
//
// The returned text is complete or the call fails; there is no partial
// success. Implementations must respect ctx cancellation at their next
// network boundary.
type Engine interface {
	Generate(ctx context.Context, conv Context, text, model string) (string, error)
}

// Toolkit provides the data-retrieval capabilities the engine may call
// while reasoning. Specs returns provider-neutral function declarations;
// Call executes one of them.
type Toolkit interface {
	Specs() []ToolSpec
	Call(ctx context.Context, name string, args json.RawMessage) (string, error)
}

// ToolSpec describes one callable capability.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}
