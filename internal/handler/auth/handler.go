package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/c3-chat/backend/internal/middleware"
	"github.com/zhouzirui/c3-chat/backend/internal/model/chat"
	authService "github.com/zhouzirui/c3-chat/backend/internal/service/auth"
	"github.com/zhouzirui/c3-chat/backend/pkg/utils"
)

// Handler 登录认证的HTTP处理器
type Handler struct {
	authSvc *authService.Service
	logger  zerolog.Logger
}

// New 创建认证处理器
func New(authSvc *authService.Service, logger zerolog.Logger) *Handler {
	return &Handler{authSvc: authSvc, logger: logger.With().Str("component", "auth_handler").Logger()}
}

// RegisterRoutes 注册认证路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/auth/login", h.handleLogin)
}

// RegisterProtectedRoutes 注册需要登录后访问的认证路由
func (h *Handler) RegisterProtectedRoutes(r chi.Router) {
	r.Post("/auth/logout", h.handleLogout)
}

type loginResponse struct {
	Token string    `json:"token"`
	User  chat.User `json:"user"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, user, err := h.authSvc.Login(r.Context(), payload.Username, payload.Password)
	if errors.Is(err, authService.ErrInvalidCredentials) {
		utils.RespondError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("login failed")
		utils.RespondError(w, http.StatusInternalServerError, "login failed")
		return
	}

	h.logger.Info().Str("user_id", user.ID).Msg("user logged in")
	utils.RespondJSON(w, http.StatusOK, loginResponse{Token: token, User: user})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.TokenFromCtx(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	h.authSvc.Logout(token)

	if user, ok := middleware.UserFromCtx(r.Context()); ok {
		h.logger.Info().Str("user_id", user.ID).Msg("user logged out")
	}
	w.WriteHeader(http.StatusNoContent)
}
