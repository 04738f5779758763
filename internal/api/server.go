// Package api exposes the conversational service over HTTP: turn
// submission with optional paced streaming, session lifecycle, history,
// pending status, cancellation, and health probes.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cinemesh/cinemesh/internal/chat"
	"github.com/cinemesh/cinemesh/internal/session"
)

// maxMessageLength bounds one user message.
const maxMessageLength = 2000

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger   *slog.Logger
	Store    *session.Store // Required
	Executor *chat.Executor // Required

	// Delivery pacing for streamed replies. Zero values use the chat
	// package defaults.
	StreamBatchWords int
	StreamDelay      time.Duration
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates the API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("session store is required")
	}
	if cfg.Executor == nil {
		return nil, errors.New("executor is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ch := &chatHandler{
		logger:     logger,
		store:      cfg.Store,
		executor:   cfg.Executor,
		batchWords: cfg.StreamBatchWords,
		delay:      cfg.StreamDelay,
	}
	sh := &sessionHandler{
		logger:   logger,
		store:    cfg.Store,
		executor: cfg.Executor,
	}

	mux := http.NewServeMux()

	// Chat
	mux.HandleFunc("POST /api/v1/chat", ch.send)

	// Session lifecycle
	mux.HandleFunc("POST /api/v1/sessions", sh.create)
	mux.HandleFunc("GET /api/v1/sessions", sh.list)
	mux.HandleFunc("GET /api/v1/sessions/{id}", sh.get)
	mux.HandleFunc("PATCH /api/v1/sessions/{id}", sh.update)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", sh.delete)

	// History
	mux.HandleFunc("GET /api/v1/sessions/{id}/messages", sh.messages)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}/messages", sh.clearMessages)

	// Pending / cancel
	mux.HandleFunc("GET /api/v1/sessions/{id}/pending", sh.pending)
	mux.HandleFunc("POST /api/v1/sessions/{id}/cancel", sh.cancel)

	handler := chain(mux,
		recoveryMiddleware(logger),
		requestIDMiddleware(),
		loggingMiddleware(logger),
	)

	// Health probes bypass the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Store))
	topMux.HandleFunc("GET /{$}", welcome)
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
