package socket

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/c3-chat/backend/internal/middleware"
	"github.com/zhouzirui/c3-chat/backend/internal/model/chat"
	"github.com/zhouzirui/c3-chat/backend/internal/service/session"
	"github.com/zhouzirui/c3-chat/backend/internal/service/turn"
	"github.com/zhouzirui/c3-chat/backend/internal/store"
	"github.com/zhouzirui/c3-chat/backend/internal/testutil"
)

var viewer = chat.User{ID: "user-1"}

type received struct {
	Type     string          `json:"type"`
	ThreadID string          `json:"threadId"`
	Data     json.RawMessage `json:"data"`
}

func startServer(t *testing.T, b *testutil.Broker, domain string, steps ...testutil.Step) (*httptest.Server, *store.Memory) {
	t.Helper()
	return startServerWith(t, b, domain, nil, steps...)
}

func startServerWith(t *testing.T, b *testutil.Broker, domain string, configure func(*Handler), steps ...testutil.Step) (*httptest.Server, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	controller := turn.NewController(testutil.NewGateway(steps...), b, turn.Options{}, zerolog.Nop())
	manager := session.NewManager(st, b, controller, session.Options{SystemPrompt: "sys", PublicDomain: domain}, zerolog.Nop())

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(middleware.WithUser(req.Context(), viewer)))
		})
	})
	h := New(manager, zerolog.Nop())
	if configure != nil {
		configure(h)
	}
	h.RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, st
}

func dial(t *testing.T, srv *httptest.Server, threadID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + threadID
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	return ws
}

func readUntil(t *testing.T, ws *websocket.Conn, last string) []received {
	t.Helper()
	var out []received
	for {
		var msg received
		require.NoError(t, ws.ReadJSON(&msg))
		out = append(out, msg)
		if msg.Type == last || msg.Type == "error" {
			return out
		}
	}
}

func TestWebSocketMessageTurn(t *testing.T) {
	srv, st := startServer(t, &testutil.Broker{}, "", testutil.Step{Response: testutil.TextResponse("Hello over the wire")})
	require.NoError(t, st.CreateThread(t.Context(), chat.Thread{ID: "t1", UserID: viewer.ID}))

	ws := dial(t, srv, "t1")
	hello := readUntil(t, ws, "connected")
	require.Len(t, hello, 1)

	require.NoError(t, ws.WriteJSON(map[string]any{"type": "message", "data": map[string]string{"text": "hi"}}))
	msgs := readUntil(t, ws, "done")

	require.Len(t, msgs, 2)
	assert.Equal(t, "message", msgs[0].Type)
	var u chat.Utterance
	require.NoError(t, json.Unmarshal(msgs[0].Data, &u))
	assert.Equal(t, "Hello over the wire", u.Content)
	assert.Equal(t, "t1", msgs[0].ThreadID)
}

func TestWebSocketAction(t *testing.T) {
	b := &testutil.Broker{RedirectURL: "https://connect.example/oauth"}
	srv, st := startServer(t, b, "chat.example.com")
	require.NoError(t, st.CreateThread(t.Context(), chat.Thread{ID: "t1", UserID: viewer.ID}))

	ws := dial(t, srv, "t1")
	readUntil(t, ws, "connected")

	require.NoError(t, ws.WriteJSON(map[string]any{
		"type": "action",
		"data": map[string]any{"name": "github", "payload": map[string]string{"value": "github", "thread_id": "t1"}},
	}))
	msgs := readUntil(t, ws, "done")

	require.Len(t, msgs, 2)
	var u chat.Utterance
	require.NoError(t, json.Unmarshal(msgs[0].Data, &u))
	assert.Equal(t, "Click [here](https://connect.example/oauth) to connect!", u.Content)
}

func TestWebSocketErrors(t *testing.T) {
	srv, st := startServer(t, &testutil.Broker{}, "", testutil.Step{Err: errors.New("overloaded")})
	require.NoError(t, st.CreateThread(t.Context(), chat.Thread{ID: "t1", UserID: viewer.ID}))

	ws := dial(t, srv, "t1")
	readUntil(t, ws, "connected")

	require.NoError(t, ws.WriteJSON(map[string]any{"type": "bogus"}))
	msgs := readUntil(t, ws, "done")
	assert.Equal(t, "error", msgs[len(msgs)-1].Type)

	require.NoError(t, ws.WriteJSON(map[string]any{"type": "message", "threadId": "t2", "data": map[string]string{"text": "hi"}}))
	msgs = readUntil(t, ws, "done")
	assert.Contains(t, string(msgs[len(msgs)-1].Data), "thread mismatch")

	require.NoError(t, ws.WriteJSON(map[string]any{"type": "message", "data": map[string]string{"text": "hi"}}))
	msgs = readUntil(t, ws, "done")
	assert.Contains(t, string(msgs[len(msgs)-1].Data), "overloaded")
}

func TestWebSocketRejectsUnknownThread(t *testing.T) {
	srv, _ := startServer(t, &testutil.Broker{}, "")

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/missing"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebSocketSurvivesTurnLongerThanPongWait(t *testing.T) {
	srv, st := startServerWith(t, &testutil.Broker{}, "", func(h *Handler) {
		h.pongWait = 300 * time.Millisecond
		h.pingPeriod = 50 * time.Millisecond
	},
		testutil.Step{Response: testutil.TextResponse("slow answer"), Delay: time.Second},
		testutil.Step{Response: testutil.TextResponse("quick answer")},
	)
	require.NoError(t, st.CreateThread(t.Context(), chat.Thread{ID: "t1", UserID: viewer.ID}))

	ws := dial(t, srv, "t1")
	readUntil(t, ws, "connected")

	require.NoError(t, ws.WriteJSON(map[string]any{"type": "message", "data": map[string]string{"text": "take your time"}}))
	msgs := readUntil(t, ws, "done")
	require.Equal(t, "done", msgs[len(msgs)-1].Type)

	// the connection is still open for the next turn
	require.NoError(t, ws.WriteJSON(map[string]any{"type": "message", "data": map[string]string{"text": "again"}}))
	msgs = readUntil(t, ws, "done")
	require.Len(t, msgs, 2)
	var u chat.Utterance
	require.NoError(t, json.Unmarshal(msgs[0].Data, &u))
	assert.Equal(t, "quick answer", u.Content)
}
