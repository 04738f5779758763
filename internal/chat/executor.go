package chat

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cinemesh/cinemesh/internal/engine"
	"github.com/cinemesh/cinemesh/internal/session"
	"github.com/cinemesh/cinemesh/internal/tasks"
)

// persistTimeout bounds the detached assistant-message write after a
// turn completes.
const persistTimeout = 10 * time.Second

// Executor runs conversation turns against the durable log and the
// reasoning engine. One executor serves all sessions.
type Executor struct {
	store    *session.Store
	hydrator *Hydrator
	engine   engine.Engine
	registry *tasks.Registry
	logger   *slog.Logger
}

// NewExecutor wires an executor. registry is shared with the status and
// cancel surfaces.
func NewExecutor(store *session.Store, hydrator *Hydrator, eng engine.Engine, registry *tasks.Registry, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		store:    store,
		hydrator: hydrator,
		engine:   eng,
		registry: registry,
		logger:   logger,
	}
}

// Turn is the synchronous result of a submission: the already-persisted
// user message plus the handle of the background computation.
type Turn struct {
	UserMessage *session.Message
	Handle      *tasks.Handle
}

// Submit starts one turn. The user message is persisted before Submit
// returns; if that write fails no computation is started. The reasoning
// then runs in the background under its own context, detached from ctx:
// the caller may await the handle, stream from it, or walk away without
// affecting the turn. Only Handle.Cancel (or a registry-wide cancel)
// stops it.
func (e *Executor) Submit(ctx context.Context, sessionID uuid.UUID, text, model string) (*Turn, error) {
	userMsg, err := e.store.AppendMessage(ctx, sessionID, session.RoleUser, text)
	if err != nil {
		return nil, err
	}

	conv, err := e.hydrator.Hydrate(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	turnCtx, cancel := context.WithCancel(context.Background())
	h := tasks.NewHandle(uuid.New(), sessionID, cancel)
	e.registry.Add(h)

	go e.run(turnCtx, h, conv, text, model)

	return &Turn{UserMessage: userMsg, Handle: h}, nil
}

// run executes the registered computation. The assistant message is
// durably persisted before the handle is deregistered; on failure or
// cancellation nothing is written and the turn leaves no trace beyond
// the user message.
func (e *Executor) run(ctx context.Context, h *tasks.Handle, conv engine.Context, text, model string) {
	defer e.registry.Remove(h.SessionID(), h.ID())
	defer h.Cancel()

	logger := e.logger.With("session_id", h.SessionID(), "turn_id", h.ID())

	reply, err := e.engine.Generate(ctx, conv, text, model)
	switch {
	case err == nil:
		if perr := e.persistReply(ctx, h.SessionID(), reply); perr != nil {
			logger.Error("assistant message write failed", "error", perr)
			h.Finish("", perr)
			return
		}
		logger.Info("turn completed", "elapsed", time.Since(h.StartedAt()), "reply_len", len(reply))
		h.Finish(reply, nil)

	case errors.Is(err, context.Canceled):
		logger.Info("turn cancelled", "elapsed", time.Since(h.StartedAt()))
		h.Finish("", err)

	default:
		logger.Error("turn failed", "error", err)
		h.Finish("", err)
	}
}

// persistReply writes the assistant message on a context detached from
// the turn: a cancel racing a completed generation must not produce a
// half-written reply.
func (e *Executor) persistReply(ctx context.Context, sessionID uuid.UUID, reply string) error {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	_, err := e.store.AppendMessage(writeCtx, sessionID, session.RoleAssistant, reply)
	return err
}

// Pending reports whether the session has at least one in-flight turn.
func (e *Executor) Pending(sessionID uuid.UUID) bool {
	return len(e.registry.Pending(sessionID)) > 0
}

// Cancel requests cancellation of every in-flight turn for the session
// and returns how many were signalled. Idempotent: a session with
// nothing pending cancels zero.
func (e *Executor) Cancel(sessionID uuid.UUID) int {
	return e.registry.CancelAll(sessionID)
}

// DeleteSession cancels the session's in-flight turns and then removes
// the session and its messages. Cancellation comes first so no turn can
// append into a half-deleted session.
func (e *Executor) DeleteSession(ctx context.Context, sessionID uuid.UUID) error {
	if n := e.registry.CancelAll(sessionID); n > 0 {
		e.logger.Info("cancelled in-flight turns before delete", "session_id", sessionID, "count", n)
	}
	return e.store.DeleteSession(ctx, sessionID)
}
