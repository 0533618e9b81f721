package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/c3-chat/backend/internal/config"
	authService "github.com/zhouzirui/c3-chat/backend/internal/service/auth"
	"github.com/zhouzirui/c3-chat/backend/internal/store"
)

func setupRouter() *chi.Mux {
	svc := authService.NewService(store.NewMemory(), config.AuthConfig{AdminUsername: "admin", AdminPassword: "admin"})
	r := chi.NewRouter()
	New(svc, zerolog.Nop()).RegisterRoutes(r)
	return r
}

func TestLogin(t *testing.T) {
	r := setupRouter()
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"username":"admin","password":"admin"}`))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	var body loginResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Token)
	assert.Equal(t, "admin", body.User.Identifier)
	assert.Equal(t, "credentials", body.User.Metadata["provider"])
}

func TestLoginWrongPassword(t *testing.T) {
	r := setupRouter()
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"username":"admin","password":"nope"}`))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestLoginBadBody(t *testing.T) {
	r := setupRouter()
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{`))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestLogoutWithoutToken(t *testing.T) {
	svc := authService.NewService(store.NewMemory(), config.AuthConfig{AdminUsername: "admin", AdminPassword: "admin"})
	r := chi.NewRouter()
	New(svc, zerolog.Nop()).RegisterProtectedRoutes(r)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}
