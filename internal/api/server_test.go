package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cinemesh/cinemesh/internal/chat"
	"github.com/cinemesh/cinemesh/internal/database"
	"github.com/cinemesh/cinemesh/internal/engine"
	"github.com/cinemesh/cinemesh/internal/log"
	"github.com/cinemesh/cinemesh/internal/session"
	"github.com/cinemesh/cinemesh/internal/tasks"
)

type testServer struct {
	server *Server
	store  *session.Store
	stub   *engine.Stub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "api_test.db"))
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { _ = db.Close() })

	logger := log.NewNop()
	store := session.New(db, logger)
	stub := engine.NewStub("Inception is a 2010 film by Christopher Nolan.")
	registry := tasks.NewRegistry()
	hydrator := chat.NewHydrator(store, "You are Movie Analyst.", 40)
	executor := chat.NewExecutor(store, hydrator, stub, registry, logger)

	server, err := NewServer(ServerConfig{
		Logger:   logger,
		Store:    store,
		Executor: executor,
	})
	require.NoError(t, err)

	return &testServer{server: server, store: store, stub: stub}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func (ts *testServer) createSession(t *testing.T) uuid.UUID {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/v1/sessions", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	sess := decode[session.Session](t, rec)
	return sess.ID
}

func TestHealthAndWelcome(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	ready := decode[map[string]any](t, rec)
	assert.Equal(t, "healthy", ready["status"])

	rec = ts.do(t, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	welcome := decode[map[string]any](t, rec)
	assert.Equal(t, "Cinemesh API", welcome["name"])
}

func TestChat_Sync(t *testing.T) {
	ts := newTestServer(t)
	sessionID := ts.createSession(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/chat", ChatRequest{
		SessionID: sessionID.String(),
		Message:   "Tell me about Inception",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[ChatResponse](t, rec)
	assert.Equal(t, "Inception is a 2010 film by Christopher Nolan.", resp.Content)
	assert.Equal(t, sessionID.String(), resp.SessionID)

	// Both sides of the turn are persisted.
	rec = ts.do(t, http.MethodGet, "/api/v1/sessions/"+sessionID.String()+"/messages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[struct {
		Messages []session.Message `json:"messages"`
		Total    int               `json:"total"`
	}](t, rec)
	require.Equal(t, 2, history.Total)
	assert.Equal(t, session.RoleUser, history.Messages[0].Role)
	assert.Equal(t, session.RoleAssistant, history.Messages[1].Role)
}

func TestChat_OmittedSessionCreatesOne(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/chat", ChatRequest{Message: "hi"})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[ChatResponse](t, rec)
	id, err := uuid.Parse(resp.SessionID)
	require.NoError(t, err)

	rec = ts.do(t, http.MethodGet, "/api/v1/sessions/"+id.String(), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestChat_Validation(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		req  ChatRequest
		code string
	}{
		{"empty message", ChatRequest{SessionID: uuid.NewString()}, "VALIDATION_ERROR"},
		{"oversized message", ChatRequest{SessionID: uuid.NewString(), Message: strings.Repeat("x", 2001)}, "VALIDATION_ERROR"},
		{"malformed session id", ChatRequest{SessionID: "not-a-uuid", Message: "hi"}, "VALIDATION_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/v1/chat", tt.req)
			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			resp := decode[ErrorResponse](t, rec)
			assert.Equal(t, tt.code, resp.ErrorCode)
			assert.NotEmpty(t, resp.RequestID)
		})
	}
}

func TestChat_UnknownSession(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/chat", ChatRequest{
		SessionID: uuid.NewString(),
		Message:   "hello?",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "SESSION_NOT_FOUND", decode[ErrorResponse](t, rec).ErrorCode)
}

func TestChat_EngineFailure(t *testing.T) {
	ts := newTestServer(t)
	sessionID := ts.createSession(t)

	ts.stub.Err = fmt.Errorf("model on fire")
	rec := ts.do(t, http.MethodPost, "/api/v1/chat", ChatRequest{
		SessionID: sessionID.String(),
		Message:   "doomed",
	})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "GENERATION_FAILED", decode[ErrorResponse](t, rec).ErrorCode)

	// The user message survives the failed turn.
	rec = ts.do(t, http.MethodGet, "/api/v1/sessions/"+sessionID.String()+"/messages", nil)
	history := decode[struct {
		Total int `json:"total"`
	}](t, rec)
	assert.Equal(t, 1, history.Total)
}

// parseSSE extracts the data payloads from an SSE body.
func parseSSE(t *testing.T, body string) []sseFrame {
	t.Helper()
	var frames []sseFrame
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if payload, ok := strings.CutPrefix(line, "data: "); ok {
			var f sseFrame
			require.NoError(t, json.Unmarshal([]byte(payload), &f))
			frames = append(frames, f)
		}
	}
	return frames
}

func TestChat_Stream(t *testing.T) {
	ts := newTestServer(t)
	sessionID := ts.createSession(t)
	ts.stub.Reply = "one two three four five"

	rec := ts.do(t, http.MethodPost, "/api/v1/chat", ChatRequest{
		SessionID: sessionID.String(),
		Message:   "count to five",
		Stream:    true,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	frames := parseSSE(t, rec.Body.String())
	require.Len(t, frames, 3)
	assert.Equal(t, "one two three ", frames[0].Content)
	assert.Equal(t, "four five", frames[1].Content)
	assert.True(t, frames[2].Done)

	var b strings.Builder
	for _, f := range frames {
		b.WriteString(f.Content)
	}
	assert.Equal(t, "one two three four five", b.String())

	for _, f := range frames {
		assert.Equal(t, sessionID.String(), f.SessionID)
	}
}

func TestChat_StreamEngineFailure(t *testing.T) {
	ts := newTestServer(t)
	sessionID := ts.createSession(t)
	ts.stub.Err = fmt.Errorf("gateway down")

	rec := ts.do(t, http.MethodPost, "/api/v1/chat", ChatRequest{
		SessionID: sessionID.String(),
		Message:   "stream me",
		Stream:    true,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	frames := parseSSE(t, rec.Body.String())
	require.Len(t, frames, 1)
	assert.NotEmpty(t, frames[0].Error)
	assert.True(t, frames[0].Done)
}

func TestSessions_CRUD(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/sessions", createSessionRequest{Title: "Noir Marathon"})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[session.Session](t, rec)
	assert.Equal(t, "Noir Marathon", created.Title)

	rec = ts.do(t, http.MethodGet, "/api/v1/sessions/"+created.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	newTitle := "French New Wave"
	rec = ts.do(t, http.MethodPatch, "/api/v1/sessions/"+created.ID.String(),
		updateSessionRequest{Title: &newTitle})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, newTitle, decode[session.Session](t, rec).Title)

	rec = ts.do(t, http.MethodGet, "/api/v1/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listing := decode[struct {
		Total int `json:"total"`
	}](t, rec)
	assert.Equal(t, 1, listing.Total)

	rec = ts.do(t, http.MethodDelete, "/api/v1/sessions/"+created.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/sessions/"+created.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "SESSION_NOT_FOUND", decode[ErrorResponse](t, rec).ErrorCode)
}

func TestSessions_ClearMessagesKeepsSession(t *testing.T) {
	ts := newTestServer(t)
	sessionID := ts.createSession(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/chat", ChatRequest{
		SessionID: sessionID.String(), Message: "hello",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/api/v1/sessions/"+sessionID.String()+"/messages", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/sessions/"+sessionID.String()+"/messages", nil)
	history := decode[struct {
		Total int `json:"total"`
	}](t, rec)
	assert.Equal(t, 0, history.Total)

	rec = ts.do(t, http.MethodGet, "/api/v1/sessions/"+sessionID.String(), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPendingAndCancel(t *testing.T) {
	ts := newTestServer(t)
	sessionID := ts.createSession(t)

	type pendingResp struct {
		Pending bool `json:"pending"`
	}
	type cancelResp struct {
		Cancelled int `json:"cancelled"`
	}

	rec := ts.do(t, http.MethodGet, "/api/v1/sessions/"+sessionID.String()+"/pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[pendingResp](t, rec).Pending)

	// Hold a turn open, observe it pending, then cancel it.
	ts.stub.Block = true
	go func() {
		_ = ts.do(t, http.MethodPost, "/api/v1/chat", ChatRequest{
			SessionID: sessionID.String(), Message: "slow question",
		})
	}()

	require.Eventually(t, func() bool {
		rec := ts.do(t, http.MethodGet, "/api/v1/sessions/"+sessionID.String()+"/pending", nil)
		return decode[pendingResp](t, rec).Pending
	}, 2*time.Second, 5*time.Millisecond)

	rec = ts.do(t, http.MethodPost, "/api/v1/sessions/"+sessionID.String()+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[cancelResp](t, rec).Cancelled)

	require.Eventually(t, func() bool {
		rec := ts.do(t, http.MethodGet, "/api/v1/sessions/"+sessionID.String()+"/pending", nil)
		return !decode[pendingResp](t, rec).Pending
	}, 2*time.Second, 5*time.Millisecond)

	// Idempotent: a drained session cancels zero, twice.
	for i := 0; i < 2; i++ {
		rec = ts.do(t, http.MethodPost, "/api/v1/sessions/"+sessionID.String()+"/cancel", nil)
		assert.Equal(t, 0, decode[cancelResp](t, rec).Cancelled)
	}
}

func TestRequestIDEchoedAndGenerated(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	req.Header.Set("X-Request-Id", "trace-123")
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "trace-123", rec.Header().Get("X-Request-Id"))

	rec = ts.do(t, http.MethodGet, "/api/v1/sessions", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}
