// Package chat orchestrates conversation turns.
//
// A turn is persistence-first: the user message is durably written
// before any reasoning starts, the reasoning runs as a background
// computation that survives client disconnects, and the assistant reply
// is durably written before the turn's handle leaves the registry. The
// durable log is the only state shared between turns; everything else
// here is rebuilt per call.
package chat

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/cinemesh/cinemesh/internal/engine"
	"github.com/cinemesh/cinemesh/internal/session"
)

// Hydrator rebuilds a transient conversation context from the durable
// log. It holds no per-session state: every Hydrate call reads the
// freshest persisted history and returns a new context.
type Hydrator struct {
	store  *session.Store
	system string
	budget int
}

// NewHydrator creates a hydrator. budget bounds how many of the most
// recent messages enter the context; older entries are dropped first.
func NewHydrator(store *session.Store, systemPrompt string, budget int) *Hydrator {
	return &Hydrator{store: store, system: systemPrompt, budget: budget}
}

// Hydrate builds the context for one turn of the given session.
// Returns session.ErrNotFound for unknown sessions.
func (h *Hydrator) Hydrate(ctx context.Context, sessionID uuid.UUID) (engine.Context, error) {
	msgs, err := h.store.Messages(ctx, sessionID)
	if err != nil {
		return engine.Context{}, fmt.Errorf("load history: %w", err)
	}

	if h.budget > 0 && len(msgs) > h.budget {
		msgs = msgs[len(msgs)-h.budget:]
	}

	conv := engine.Context{
		System:   h.system,
		Messages: make([]engine.Message, 0, len(msgs)),
	}
	for _, m := range msgs {
		conv.Messages = append(conv.Messages, engine.Message{Role: m.Role, Content: m.Content})
	}
	return conv, nil
}
