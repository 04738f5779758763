package api

import (
	"net/http"

	"github.com/cinemesh/cinemesh/internal/session"
)

// health is the liveness probe: the process is up and serving.
func health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readiness reports whether the durable log is reachable.
func readiness(store *session.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		components := map[string]string{"api": "operational", "database": "operational"}
		status := "healthy"
		code := http.StatusOK

		if err := store.Ping(r.Context()); err != nil {
			components["database"] = "degraded"
			status = "degraded"
			code = http.StatusServiceUnavailable
		}

		writeJSON(w, code, map[string]any{
			"status":     status,
			"components": components,
		})
	})
}

// welcome describes the service at the root path.
func welcome(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":        "Cinemesh API",
		"description": "Conversational movie and TV research assistant",
		"endpoints": map[string]string{
			"chat":     "POST /api/v1/chat",
			"sessions": "GET /api/v1/sessions",
			"health":   "GET /health",
		},
	})
}
