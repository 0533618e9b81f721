package middleware

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/zhouzirui/c3-chat/backend/internal/model/chat"
)

func validator(ctx context.Context, token string) (chat.User, error) {
	if token != "valid-token" {
		return chat.User{}, errors.New("invalid")
	}
	return chat.User{ID: "u1", Identifier: "admin"}, nil
}

func protected(gotUser *string) http.Handler {
	return Auth(validator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, ok := UserFromCtx(r.Context()); ok {
			*gotUser = user.ID
		}
		w.WriteHeader(http.StatusNoContent)
	}))
}

func TestAuthRequiresBearer(t *testing.T) {
	var got string
	rr := httptest.NewRecorder()
	protected(&got).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/threads", nil))

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Empty(t, got)
}

func TestAuthRejectsInvalidToken(t *testing.T) {
	var got string
	req := httptest.NewRequest(http.MethodGet, "/api/threads", nil)
	req.Header.Set("Authorization", "Bearer nope")
	rr := httptest.NewRecorder()
	protected(&got).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAuthInjectsUser(t *testing.T) {
	var got string
	req := httptest.NewRequest(http.MethodGet, "/api/threads", nil)
	req.Header.Set("Authorization", "Bearer valid-token")
	rr := httptest.NewRecorder()
	protected(&got).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "u1", got)
}

func TestAuthAcceptsQueryToken(t *testing.T) {
	var got string
	rr := httptest.NewRecorder()
	protected(&got).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/ws/t1?access_token=valid-token", nil))

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "u1", got)
}

func TestCORSPreflight(t *testing.T) {
	called := false
	h := CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodOptions, "/api/threads", nil)
	req.Header.Set("Origin", "https://chat.example.com")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.False(t, called)
	assert.Equal(t, "https://chat.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Headers"), "Authorization")
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	h := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		zerolog.Ctx(r.Context()).Info().Msg("inside")
		w.WriteHeader(http.StatusTeapot)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	out := buf.String()
	assert.Contains(t, out, `"message":"inside"`)
	assert.Contains(t, out, `"status":418`)
	assert.Contains(t, out, `"path":"/healthz"`)
}
