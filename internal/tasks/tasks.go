// Package tasks tracks in-flight background turns.
//
// The registry is process-wide state: it maps each session to the set of
// turns currently computing for it, so status and cancellation can reach
// work that outlives the submitting request. Entries exist only while a
// turn runs; completed turns leave no trace here.
package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Handle is the controllable surface of one background turn. The
// executor creates it, runs the turn's goroutine under its context, and
// finishes it exactly once on any exit path.
type Handle struct {
	id        uuid.UUID
	sessionID uuid.UUID
	startedAt time.Time

	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	result string
	err    error
}

// NewHandle creates a handle owning cancel.
func NewHandle(id, sessionID uuid.UUID, cancel context.CancelFunc) *Handle {
	return &Handle{
		id:        id,
		sessionID: sessionID,
		startedAt: time.Now().UTC(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// ID returns the turn's identifier.
func (h *Handle) ID() uuid.UUID { return h.id }

// SessionID returns the owning session.
func (h *Handle) SessionID() uuid.UUID { return h.sessionID }

// StartedAt returns when the turn began computing.
func (h *Handle) StartedAt() time.Time { return h.startedAt }

// Cancel signals the turn's context. Safe to call multiple times and
// after completion; cancelling a finished turn has no effect on its
// recorded outcome.
func (h *Handle) Cancel() { h.cancel() }

// Finish records the turn's outcome and releases waiters. Must be called
// exactly once.
func (h *Handle) Finish(result string, err error) {
	h.mu.Lock()
	h.result, h.err = result, err
	h.mu.Unlock()
	close(h.done)
}

// Done returns a channel closed when the turn finishes.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the turn finishes or ctx expires. The returned
// values are the turn's outcome, not ctx's: a caller giving up does not
// disturb the computation.
func (h *Handle) Wait(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.result, h.err
	}
}

// Registry indexes running turns by session.
type Registry struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]map[uuid.UUID]*Handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[uuid.UUID]map[uuid.UUID]*Handle)}
}

// Add registers a running turn.
func (r *Registry) Add(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	turns, ok := r.sessions[h.sessionID]
	if !ok {
		turns = make(map[uuid.UUID]*Handle)
		r.sessions[h.sessionID] = turns
	}
	turns[h.id] = h
}

// Remove deregisters a turn, dropping the session's bucket when it
// empties. Removing an unknown turn is a no-op.
func (r *Registry) Remove(sessionID, turnID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	turns, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	delete(turns, turnID)
	if len(turns) == 0 {
		delete(r.sessions, sessionID)
	}
}

// Pending returns the handles of the session's running turns. The slice
// is a snapshot; turns may finish the moment it is taken.
func (r *Registry) Pending(sessionID uuid.UUID) []*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	turns := r.sessions[sessionID]
	out := make([]*Handle, 0, len(turns))
	for _, h := range turns {
		out = append(out, h)
	}
	return out
}

// CancelAll cancels every turn currently registered for the session and
// returns how many were signalled. Turns that already finished but have
// not deregistered yet still count; a second call on a drained session
// returns zero.
func (r *Registry) CancelAll(sessionID uuid.UUID) int {
	handles := r.Pending(sessionID)
	for _, h := range handles {
		h.Cancel()
	}
	return len(handles)
}
