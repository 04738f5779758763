package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/cinemesh/cinemesh/internal/chat"
	"github.com/cinemesh/cinemesh/internal/session"
)

type sessionHandler struct {
	logger   *slog.Logger
	store    *session.Store
	executor *chat.Executor
}

// pathID parses the {id} path segment. On failure it writes the error
// response and returns false.
func (h *sessionHandler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "session id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *sessionHandler) notFoundOrInternal(w http.ResponseWriter, r *http.Request, err error, op string) {
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "SESSION_NOT_FOUND", "Session not found")
		return
	}
	h.logger.Error(op+" failed", "error", err, "request_id", requestIDFromContext(r.Context()))
	writeError(w, r, http.StatusInternalServerError, "PERSISTENCE_FAILURE", "Storage operation failed")
}

type createSessionRequest struct {
	Title    string         `json:"title,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (h *sessionHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
			return
		}
	}

	sess, err := h.store.CreateSession(r.Context(), req.Title, req.Metadata)
	if err != nil {
		h.logger.Error("session create failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, "PERSISTENCE_FAILURE", "Failed to create session")
		return
	}

	h.logger.Info("session created", "session_id", sess.ID)
	writeJSON(w, http.StatusCreated, sess)
}

func (h *sessionHandler) list(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.ListSessions(r.Context())
	if err != nil {
		h.notFoundOrInternal(w, r, err, "session list")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

func (h *sessionHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	sess, err := h.store.GetSession(r.Context(), id)
	if err != nil {
		h.notFoundOrInternal(w, r, err, "session get")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

type updateSessionRequest struct {
	Title    *string        `json:"title,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (h *sessionHandler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req updateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	sess, err := h.store.UpdateSession(r.Context(), id, req.Title, req.Metadata)
	if err != nil {
		h.notFoundOrInternal(w, r, err, "session update")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// delete removes a session. In-flight turns are cancelled before the
// cascade so nothing writes into a vanishing session.
func (h *sessionHandler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	if err := h.executor.DeleteSession(r.Context(), id); err != nil {
		h.notFoundOrInternal(w, r, err, "session delete")
		return
	}

	h.logger.Info("session deleted", "session_id", id)
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id.String(),
		"deleted":    true,
	})
}

func (h *sessionHandler) messages(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	msgs, err := h.store.Messages(r.Context(), id)
	if err != nil {
		h.notFoundOrInternal(w, r, err, "messages list")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id.String(),
		"messages":   msgs,
		"total":      len(msgs),
	})
}

func (h *sessionHandler) clearMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	if err := h.store.ClearMessages(r.Context(), id); err != nil {
		h.notFoundOrInternal(w, r, err, "messages clear")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id.String(),
		"cleared":    true,
	})
}

func (h *sessionHandler) pending(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id.String(),
		"pending":    h.executor.Pending(id),
	})
}

func (h *sessionHandler) cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	count := h.executor.Cancel(id)
	h.logger.Info("cancel requested", "session_id", id, "count", count)
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id.String(),
		"cancelled":  count,
	})
}
