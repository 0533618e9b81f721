package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/c3-chat/backend/internal/config"
	authService "github.com/zhouzirui/c3-chat/backend/internal/service/auth"
	"github.com/zhouzirui/c3-chat/backend/internal/service/session"
	"github.com/zhouzirui/c3-chat/backend/internal/service/turn"
	"github.com/zhouzirui/c3-chat/backend/internal/store"
	"github.com/zhouzirui/c3-chat/backend/internal/testutil"
)

func newTestRouter(steps ...testutil.Step) http.Handler {
	st := store.NewMemory()
	b := &testutil.Broker{}
	authSvc := authService.NewService(st, config.AuthConfig{AdminUsername: "admin", AdminPassword: "admin"})
	controller := turn.NewController(testutil.NewGateway(steps...), b, turn.Options{}, zerolog.Nop())
	sessions := session.NewManager(st, b, controller, session.Options{SystemPrompt: "sys"}, zerolog.Nop())
	return NewRouter(authSvc, sessions, zerolog.Nop())
}

func TestHealthz(t *testing.T) {
	resp := httptest.NewRecorder()
	newTestRouter().ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"status":"ok"}`, resp.Body.String())
}

func TestAPIRequiresToken(t *testing.T) {
	r := newTestRouter()
	for _, path := range []string{"/api/threads", "/api/threads/t1", "/api/stream/t1?message=hi", "/api/ws/t1"} {
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusUnauthorized, resp.Code, path)
	}
}

func TestLoginThenChat(t *testing.T) {
	r := newTestRouter(testutil.Step{Response: testutil.TextResponse("Hi admin")})

	login := httptest.NewRecorder()
	r.ServeHTTP(login, httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"username":"admin","password":"admin"}`)))
	require.Equal(t, http.StatusOK, login.Code)
	var creds struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(login.Body.Bytes(), &creds))

	authed := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+creds.Token)
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)
		return resp
	}

	start := authed(http.MethodPost, "/api/threads", "")
	require.Equal(t, http.StatusCreated, start.Code)
	var thread struct {
		ThreadID string `json:"threadId"`
	}
	require.NoError(t, json.Unmarshal(start.Body.Bytes(), &thread))

	msg := authed(http.MethodPost, "/api/threads/"+thread.ThreadID+"/messages", `{"content":"hello"}`)
	require.Equal(t, http.StatusOK, msg.Code)
	assert.Contains(t, msg.Body.String(), "Hi admin")

	list := authed(http.MethodGet, "/api/threads", "")
	require.Equal(t, http.StatusOK, list.Code)
	assert.Contains(t, list.Body.String(), thread.ThreadID)
}

func TestCORSPreflightBypassesAuth(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/api/threads", nil)
	req.Header.Set("Origin", "https://chat.example.com")
	resp := httptest.NewRecorder()
	newTestRouter().ServeHTTP(resp, req)
	assert.Equal(t, http.StatusNoContent, resp.Code)
}

func TestLogoutRevokesToken(t *testing.T) {
	r := newTestRouter()

	login := httptest.NewRecorder()
	r.ServeHTTP(login, httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"username":"admin","password":"admin"}`)))
	require.Equal(t, http.StatusOK, login.Code)
	var creds struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(login.Body.Bytes(), &creds))

	send := func(method, path string) int {
		req := httptest.NewRequest(method, path, nil)
		req.Header.Set("Authorization", "Bearer "+creds.Token)
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)
		return resp.Code
	}

	require.Equal(t, http.StatusOK, send(http.MethodGet, "/api/threads"))
	require.Equal(t, http.StatusNoContent, send(http.MethodPost, "/api/auth/logout"))
	assert.Equal(t, http.StatusUnauthorized, send(http.MethodGet, "/api/threads"))
	assert.Equal(t, http.StatusUnauthorized, send(http.MethodPost, "/api/auth/logout"))
}
