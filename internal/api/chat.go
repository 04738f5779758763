package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/cinemesh/cinemesh/internal/chat"
	"github.com/cinemesh/cinemesh/internal/session"
)

type chatHandler struct {
	logger     *slog.Logger
	store      *session.Store
	executor   *chat.Executor
	batchWords int
	delay      time.Duration
}

// ChatRequest is the turn-submission payload.
type ChatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	Model     string `json:"model,omitempty"`
	Stream    bool   `json:"stream,omitempty"`
}

// ChatResponse is the non-streaming reply payload.
type ChatResponse struct {
	Content   string    `json:"content"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
}

// send handles POST /api/v1/chat. The user message is persisted before
// any response bytes are produced; the reply is then either returned
// whole or streamed as paced SSE frames. An omitted session_id starts a
// fresh session.
func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1024*1024)

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if req.Message == "" {
		writeError(w, r, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "message is required")
		return
	}
	if len(req.Message) > maxMessageLength {
		writeError(w, r, http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			fmt.Sprintf("message exceeds %d characters", maxMessageLength))
		return
	}

	sessionID, err := h.resolveSession(r.Context(), req.SessionID)
	if err != nil {
		if errors.Is(err, errBadSessionID) {
			writeError(w, r, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "session_id must be a UUID")
			return
		}
		h.logger.Error("session create failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create session")
		return
	}

	logger := h.logger.With("request_id", requestIDFromContext(r.Context()), "session_id", sessionID)
	logger.Info("chat request", "stream", req.Stream, "model", req.Model)

	turn, err := h.executor.Submit(r.Context(), sessionID, req.Message, req.Model)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "SESSION_NOT_FOUND", "Session not found")
			return
		}
		logger.Error("submit failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, "PERSISTENCE_FAILURE", "Failed to persist message")
		return
	}

	if req.Stream {
		h.streamReply(w, r, sessionID, turn, logger)
		return
	}

	reply, err := turn.Handle.Wait(r.Context())
	if err != nil {
		h.writeTurnError(w, r, err, logger)
		return
	}

	logger.Info("chat completed")
	writeJSON(w, http.StatusOK, ChatResponse{
		Content:   reply,
		SessionID: sessionID.String(),
		Timestamp: time.Now().UTC(),
	})
}

var errBadSessionID = errors.New("invalid session id")

// resolveSession parses the submitted session id, creating a new
// session when none was given.
func (h *chatHandler) resolveSession(ctx context.Context, raw string) (uuid.UUID, error) {
	if raw == "" {
		sess, err := h.store.CreateSession(ctx, "", nil)
		if err != nil {
			return uuid.Nil, err
		}
		return sess.ID, nil
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errBadSessionID
	}
	return id, nil
}

func (h *chatHandler) writeTurnError(w http.ResponseWriter, r *http.Request, err error, logger *slog.Logger) {
	switch {
	case errors.Is(err, context.Canceled):
		logger.Info("turn cancelled before reply")
		writeError(w, r, http.StatusConflict, "CANCELLED", "Turn was cancelled")
	default:
		logger.Error("turn failed", "error", err)
		writeError(w, r, http.StatusBadGateway, "GENERATION_FAILED",
			"Something went wrong — please try again")
	}
}

// sseFrame is one streamed delivery chunk.
type sseFrame struct {
	Content   string `json:"content,omitempty"`
	Error     string `json:"error,omitempty"`
	SessionID string `json:"session_id"`
	Done      bool   `json:"done,omitempty"`
}

// streamReply awaits the turn and emits the finished reply as paced SSE
// data frames terminated by a done frame. The turn itself keeps running
// if the client disconnects mid-stream; only the presentation stops.
func (h *chatHandler) streamReply(w http.ResponseWriter, r *http.Request, sessionID uuid.UUID, turn *chat.Turn, logger *slog.Logger) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "STREAMING_UNSUPPORTED", "Streaming not supported")
		return
	}

	writeFrame := func(f sseFrame) error {
		payload, err := json.Marshal(f)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	reply, err := turn.Handle.Wait(r.Context())
	if err != nil {
		logger.Warn("streamed turn did not complete", "error", err)
		_ = writeFrame(sseFrame{
			Error:     "Something went wrong — please try again",
			SessionID: sessionID.String(),
			Done:      true,
		})
		return
	}

	err = chat.Deliver(r.Context(), reply, h.batchWords, h.delay, func(f chat.Frame) error {
		if f.Done {
			return writeFrame(sseFrame{SessionID: sessionID.String(), Done: true})
		}
		return writeFrame(sseFrame{Content: f.Content, SessionID: sessionID.String()})
	})
	if err != nil {
		logger.Info("stream interrupted", "error", err)
		return
	}
	logger.Info("streaming completed")
}
