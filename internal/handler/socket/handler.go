package socket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/c3-chat/backend/internal/handler/httperr"
	"github.com/zhouzirui/c3-chat/backend/internal/middleware"
	"github.com/zhouzirui/c3-chat/backend/internal/model/chat"
	"github.com/zhouzirui/c3-chat/backend/internal/service/session"
	"github.com/zhouzirui/c3-chat/backend/pkg/utils"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second

	// 每个连接排队等待处理的请求上限
	maxPending = 8
)

// Handler WebSocket聊天处理器
type Handler struct {
	sessions   *session.Manager
	upgrader   websocket.Upgrader
	logger     zerolog.Logger
	pongWait   time.Duration
	pingPeriod time.Duration
}

// New 创建WebSocket处理器
func New(sessions *session.Manager, logger zerolog.Logger) *Handler {
	return &Handler{
		sessions:   sessions,
		logger:     logger.With().Str("component", "websocket").Logger(),
		pongWait:   pongWait,
		pingPeriod: pingPeriod,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{threadID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type     string          `json:"type"`
	ThreadID string          `json:"threadId"`
	Data     json.RawMessage `json:"data"`
}

// TextMessage 用户文本消息
type TextMessage struct {
	Text string `json:"text"`
}

// ActionMessage 用户点击的动作
type ActionMessage struct {
	Name    string            `json:"name"`
	Payload map[string]string `json:"payload"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	ThreadID  string      `json:"threadId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// conn serialises writes; gorilla allows only one concurrent writer.
type conn struct {
	ws       *websocket.Conn
	threadID string
	mu       sync.Mutex
	logger   zerolog.Logger
}

func (c *conn) write(msgType string, data interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(outgoingMessage{
		Type:      msgType,
		ThreadID:  c.threadID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
}

func (c *conn) Emit(_ context.Context, u chat.Utterance) error {
	return c.write("message", u)
}

func (c *conn) EmitDelta(_ context.Context, text string) error {
	return c.write("delta", map[string]string{"text": text})
}

func (c *conn) sendError(message string) {
	if err := c.write("error", map[string]string{"message": message}); err != nil {
		c.logger.Warn().Err(err).Msg("write error failed")
	}
}

// handleWebSocket 处理WebSocket连接
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	user, ok := middleware.UserFromCtx(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	if _, err := h.sessions.Thread(r.Context(), user, threadID); err != nil {
		httperr.Write(w, err)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("upgrade failed")
		return
	}
	defer ws.Close()

	logger := h.logger.With().Str("thread_id", threadID).Logger()
	logger.Info().Msg("new connection")

	c := &conn{ws: ws, threadID: threadID, logger: logger}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ws.SetReadDeadline(time.Now().Add(h.pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(h.pongWait))
		return nil
	})

	go pingLoop(ctx, ws, h.pingPeriod)

	if err := c.write("connected", map[string]string{"threadId": threadID}); err != nil {
		return
	}

	// Turns run on a worker so the reader keeps handling pongs while a slow
	// model or tool call is in flight. Requests are processed in order.
	pending := make(chan *inboundMessage, maxPending)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for msg := range pending {
			h.handleMessage(ctx, c, user, msg)
		}
	}()
	defer func() {
		close(pending)
		cancel()
		wg.Wait()
	}()

	for {
		var msg inboundMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn().Err(err).Msg("read error")
			}
			return
		}

		ws.SetReadDeadline(time.Now().Add(h.pongWait))

		if msg.ThreadID != "" && msg.ThreadID != threadID {
			c.sendError("thread mismatch")
			continue
		}

		select {
		case pending <- &msg:
		default:
			c.sendError("too many pending requests")
		}
	}
}

func (h *Handler) handleMessage(ctx context.Context, c *conn, user chat.User, msg *inboundMessage) {
	var err error
	switch msg.Type {
	case "message":
		var text TextMessage
		if decodeErr := json.Unmarshal(msg.Data, &text); decodeErr != nil || text.Text == "" {
			c.sendError("invalid message payload")
			return
		}
		err = h.sessions.HandleMessage(ctx, user, c.threadID, text.Text, c)
	case "action":
		var action ActionMessage
		if decodeErr := json.Unmarshal(msg.Data, &action); decodeErr != nil || action.Name == "" {
			c.sendError("invalid action payload")
			return
		}
		err = h.sessions.HandleAction(ctx, user, c.threadID, chat.Action{Name: action.Name, Payload: action.Payload}, c)
	default:
		c.sendError("unsupported message type: " + msg.Type)
		return
	}

	if err != nil {
		c.logger.Error().Err(err).Str("type", msg.Type).Msg("request failed")
		c.sendError(err.Error())
		return
	}
	if err := c.write("done", nil); err != nil {
		c.logger.Warn().Err(err).Msg("write done failed")
	}
}

// pingLoop 定期发送ping消息
func pingLoop(ctx context.Context, ws *websocket.Conn, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
