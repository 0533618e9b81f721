package stream

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/c3-chat/backend/internal/handler/httperr"
	"github.com/zhouzirui/c3-chat/backend/internal/middleware"
	"github.com/zhouzirui/c3-chat/backend/internal/model/chat"
	"github.com/zhouzirui/c3-chat/backend/internal/service/session"
	"github.com/zhouzirui/c3-chat/backend/pkg/utils"
)

// Handler runs a turn and relays its output via Server-Sent Events
type Handler struct {
	sessions *session.Manager
	logger   zerolog.Logger
}

// New creates a new stream handler
func New(sessions *session.Manager, logger zerolog.Logger) *Handler {
	return &Handler{
		sessions: sessions,
		logger:   logger.With().Str("component", "stream").Logger(),
	}
}

// RegisterRoutes mounts GET /stream/{threadID}?message=...
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/stream/{threadID}", h.handleStream)
}

// StreamResponse represents a streaming response chunk
type StreamResponse struct {
	Event    string        `json:"event"`
	Content  string        `json:"content,omitempty"`
	ThreadID string        `json:"threadId,omitempty"`
	Actions  []chat.Action `json:"actions,omitempty"`
	Finished bool          `json:"finished,omitempty"`
	Error    string        `json:"error,omitempty"`
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	userMessage := r.URL.Query().Get("message")
	if userMessage == "" {
		utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
		return
	}

	user, ok := middleware.UserFromCtx(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	// Ownership and existence are checked before the stream opens so they can
	// still be reported as HTTP statuses.
	if _, err := h.sessions.Thread(r.Context(), user, threadID); err != nil {
		httperr.Write(w, err)
		return
	}

	if err := h.HandleStreamRequest(r.Context(), w, user, threadID, userMessage); err != nil {
		h.logger.Error().Err(err).Str("thread_id", threadID).Msg("error handling stream request")
	}
}

// HandleStreamRequest processes one message on a thread, streaming deltas and
// utterances as they are produced.
func (h *Handler) HandleStreamRequest(ctx context.Context, w http.ResponseWriter, user chat.User, threadID, userMessage string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return fmt.Errorf("streaming unsupported")
	}

	utils.SetupSSEHeaders(w)

	emitter := &sseEmitter{w: w, flusher: flusher, threadID: threadID}
	emitter.send(StreamResponse{Event: "start", ThreadID: threadID})

	if err := h.sessions.HandleMessage(ctx, user, threadID, userMessage, emitter); err != nil {
		emitter.send(StreamResponse{Event: "error", ThreadID: threadID, Error: err.Error()})
		return err
	}

	emitter.send(StreamResponse{Event: "end", ThreadID: threadID, Finished: true})
	h.logger.Debug().Str("thread_id", threadID).Msg("completed stream")
	return nil
}

// sseEmitter writes utterances and text deltas as named SSE events.
type sseEmitter struct {
	w        http.ResponseWriter
	flusher  http.Flusher
	threadID string
}

func (e *sseEmitter) Emit(_ context.Context, u chat.Utterance) error {
	return e.send(StreamResponse{Event: "message", ThreadID: e.threadID, Content: u.Content, Actions: u.Actions})
}

func (e *sseEmitter) EmitDelta(_ context.Context, text string) error {
	return e.send(StreamResponse{Event: "delta", ThreadID: e.threadID, Content: text})
}

func (e *sseEmitter) send(resp StreamResponse) error {
	return utils.SendSSEEvent(e.w, e.flusher, resp.Event, resp)
}
