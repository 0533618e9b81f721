package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/zhouzirui/c3-chat/backend/internal/model/chat"
	"github.com/zhouzirui/c3-chat/backend/pkg/utils"
)

type contextKey string

const (
	ctxUser  contextKey = "user"
	ctxToken contextKey = "token"
)

// TokenValidator resolves a bearer token to its user.
type TokenValidator func(ctx context.Context, token string) (chat.User, error)

// Auth requires Authorization: Bearer <token>. Browsers cannot set headers on
// EventSource or WebSocket requests, so an access_token query parameter is
// accepted as well.
func Auth(validate TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				utils.RespondError(w, http.StatusUnauthorized, "missing token")
				return
			}
			user, err := validate(r.Context(), token)
			if err != nil {
				utils.RespondError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			ctx := WithUser(r.Context(), user)
			ctx = context.WithValue(ctx, ctxToken, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return r.URL.Query().Get("access_token")
}

// WithUser stores the authenticated user on ctx.
func WithUser(ctx context.Context, user chat.User) context.Context {
	return context.WithValue(ctx, ctxUser, user)
}

// UserFromCtx extracts the authenticated user from context.
func UserFromCtx(ctx context.Context) (chat.User, bool) {
	u, ok := ctx.Value(ctxUser).(chat.User)
	return u, ok
}

// TokenFromCtx returns the bearer token the request was authenticated with.
func TokenFromCtx(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(ctxToken).(string)
	return token, ok
}
