package chat

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/c3-chat/backend/internal/handler/httperr"
	"github.com/zhouzirui/c3-chat/backend/internal/middleware"
	"github.com/zhouzirui/c3-chat/backend/internal/model/chat"
	"github.com/zhouzirui/c3-chat/backend/internal/service/session"
	"github.com/zhouzirui/c3-chat/backend/pkg/utils"
)

// Handler 会话线程的HTTP处理器
type Handler struct {
	sessions *session.Manager
	logger   zerolog.Logger
}

// New 创建线程处理器
func New(sessions *session.Manager, logger zerolog.Logger) *Handler {
	return &Handler{
		sessions: sessions,
		logger:   logger.With().Str("component", "chat_handler").Logger(),
	}
}

// RegisterRoutes 注册线程相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/threads", h.handleListThreads)
	r.Post("/threads", h.handleStartThread)
	r.Get("/threads/{threadID}", h.handleGetThread)
	r.Post("/threads/{threadID}/resume", h.handleResumeThread)
	r.Post("/threads/{threadID}/messages", h.handleSendMessage)
	r.Post("/threads/{threadID}/actions/{name}", h.handleAction)
}

type threadResponse struct {
	ThreadID       string           `json:"threadId"`
	History        chat.History     `json:"history"`
	ToolsConnected bool             `json:"toolsConnected"`
	Messages       []chat.Utterance `json:"messages"`
}

type turnResponse struct {
	Messages []chat.Utterance `json:"messages"`
	Error    string           `json:"error,omitempty"`
}

func sessionResponse(sess chat.Session, out *chat.Collector) threadResponse {
	resp := threadResponse{
		ThreadID:       sess.ThreadID,
		History:        sess.History,
		ToolsConnected: sess.HasTools(),
		Messages:       []chat.Utterance{},
	}
	if resp.History == nil {
		resp.History = chat.History{}
	}
	if out != nil && out.Utterances != nil {
		resp.Messages = out.Utterances
	}
	return resp
}

func (h *Handler) handleListThreads(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	threads, err := h.sessions.ListThreads(r.Context(), user)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list threads")
		utils.RespondError(w, http.StatusInternalServerError, "failed to list threads")
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"threads": threads})
}

// handleStartThread 创建新线程并检查工具连接
func (h *Handler) handleStartThread(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	out := &chat.Collector{}
	sess, err := h.sessions.Start(r.Context(), user, out)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to start thread")
		utils.RespondError(w, http.StatusInternalServerError, "failed to start thread")
		return
	}
	utils.RespondJSON(w, http.StatusCreated, sessionResponse(*sess, out))
}

func (h *Handler) handleResumeThread(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	sess, err := h.sessions.Resume(r.Context(), user, chi.URLParam(r, "threadID"))
	if err != nil {
		httperr.Write(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, sessionResponse(*sess, nil))
}

func (h *Handler) handleGetThread(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	threadID := chi.URLParam(r, "threadID")

	thread, err := h.sessions.Thread(r.Context(), user, threadID)
	if err != nil {
		httperr.Write(w, err)
		return
	}

	if sess, live := h.sessions.Get(threadID); live {
		utils.RespondJSON(w, http.StatusOK, sessionResponse(sess, nil))
		return
	}

	history, _, err := thread.Messages()
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "stored history is unreadable")
		return
	}
	utils.RespondJSON(w, http.StatusOK, sessionResponse(chat.Session{ThreadID: thread.ID, History: history}, nil))
}

// handleSendMessage 处理一轮用户消息
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var payload struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(payload.Content) == "" {
		utils.RespondError(w, http.StatusBadRequest, "content is required")
		return
	}

	out := &chat.Collector{}
	err := h.sessions.HandleMessage(r.Context(), user, chi.URLParam(r, "threadID"), payload.Content, out)
	h.respondTurn(w, out, err)
}

func (h *Handler) handleAction(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var payload struct {
		Payload map[string]string `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	action := chat.Action{Name: chi.URLParam(r, "name"), Payload: payload.Payload}
	out := &chat.Collector{}
	err := h.sessions.HandleAction(r.Context(), user, chi.URLParam(r, "threadID"), action, out)
	h.respondTurn(w, out, err)
}

func (h *Handler) respondTurn(w http.ResponseWriter, out *chat.Collector, err error) {
	resp := turnResponse{Messages: out.Utterances}
	if resp.Messages == nil {
		resp.Messages = []chat.Utterance{}
	}
	if err != nil {
		resp.Error = err.Error()
		utils.RespondJSON(w, httperr.Status(err), resp)
		return
	}
	utils.RespondJSON(w, http.StatusOK, resp)
}

func currentUser(w http.ResponseWriter, r *http.Request) (chat.User, bool) {
	user, ok := middleware.UserFromCtx(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "authentication required")
	}
	return user, ok
}
