// Package httperr maps service errors onto HTTP responses.
package httperr

import (
	"context"
	"errors"
	"net/http"

	"github.com/zhouzirui/c3-chat/backend/internal/service/auth"
	"github.com/zhouzirui/c3-chat/backend/internal/service/session"
	"github.com/zhouzirui/c3-chat/backend/internal/store"
	"github.com/zhouzirui/c3-chat/backend/pkg/utils"
)

// Status picks the response code for err. Unrecognised errors come from the
// model or tool backends and are reported as a bad gateway.
func Status(err error) int {
	switch {
	case errors.Is(err, store.ErrThreadNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, session.ErrUnknownAction):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// Write sends err as a JSON error body.
func Write(w http.ResponseWriter, err error) {
	utils.RespondError(w, Status(err), err.Error())
}
