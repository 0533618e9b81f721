package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/c3-chat/backend/internal/logging"
	"github.com/zhouzirui/c3-chat/backend/internal/model/chat"
	"github.com/zhouzirui/c3-chat/backend/internal/model/tool"
	"github.com/zhouzirui/c3-chat/backend/internal/service/broker"
	"github.com/zhouzirui/c3-chat/backend/internal/service/turn"
	"github.com/zhouzirui/c3-chat/backend/internal/store"
)

var (
	ErrForbidden     = errors.New("thread belongs to another user")
	ErrUnknownAction = errors.New("unknown action")
)

const missingDomainMessage = "Error: Missing RAILWAY_PUBLIC_DOMAIN environment variable"

// Options configure a Manager.
type Options struct {
	// App is the toolkit the user is asked to connect, e.g. "github".
	App string
	// PublicDomain is the host users are sent back to after authorising.
	PublicDomain string
	SystemPrompt string
	// MaxLive bounds the sessions held in memory. Zero means unbounded.
	MaxLive int
}

// Manager owns the live sessions and their durable threads.
type Manager struct {
	store      store.Store
	broker     broker.Broker
	controller *turn.Controller
	opts       Options
	logger     zerolog.Logger

	live  *liveSessions
	locks *threadLocks
}

// NewManager creates a session manager.
func NewManager(st store.Store, b broker.Broker, controller *turn.Controller, opts Options, logger zerolog.Logger) *Manager {
	if opts.App == "" {
		opts.App = "github"
	}
	return &Manager{
		store:      st,
		broker:     b,
		controller: controller,
		opts:       opts,
		logger:     logging.Component(logger, "session"),
		live:       newLiveSessions(opts.MaxLive),
		locks:      newThreadLocks(),
	}
}

// Start creates a thread for user and checks whether the toolkit is connected.
// When it is, the tool catalog is attached to the session; otherwise a single
// message carrying the connect action is emitted. Broker failures are reported
// to the user and do not fail the start.
func (m *Manager) Start(ctx context.Context, user chat.User, emit chat.Emitter) (*chat.Session, error) {
	thread := chat.Thread{ID: uuid.NewString(), UserID: user.ID}
	if err := m.store.CreateThread(ctx, thread); err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}

	sess := &chat.Session{
		ThreadID:     thread.ID,
		UserID:       user.ID,
		History:      chat.History{},
		SystemPrompt: m.opts.SystemPrompt,
	}

	logger := m.logger.With().Str("thread_id", thread.ID).Str("user_id", user.ID).Logger()
	logger.Info().Str("app", m.opts.App).Msg("checking connection")

	unlock := m.locks.lock(thread.ID)
	defer unlock()
	m.setLive(sess)

	tools, connected, err := m.connectedTools(ctx, user.ID)
	if err != nil {
		logger.Error().Err(err).Msg("error during chat initialization")
		if emitErr := emit.Emit(ctx, chat.Utterance{Content: fmt.Sprintf("Error initializing chat: %s", err)}); emitErr != nil {
			return sess, emitErr
		}
		return sess, nil
	}

	if connected {
		sess.Tools = &tools
		return sess, nil
	}

	display := displayName(m.opts.App)
	prompt := chat.Utterance{
		Content: fmt.Sprintf("Authenticate with %s to use %s Tools!", display, display),
		Actions: []chat.Action{connectAction(m.opts.App, thread.ID)},
	}
	if err := emit.Emit(ctx, prompt); err != nil {
		return sess, err
	}
	return sess, nil
}

func (m *Manager) connectedTools(ctx context.Context, userID string) (tool.Catalog, bool, error) {
	connected, err := m.broker.CheckConnection(ctx, userID, m.opts.App)
	if err != nil || !connected {
		return nil, false, err
	}
	tools, err := m.broker.Tools(ctx, []string{m.opts.App})
	if err != nil {
		return nil, false, err
	}
	return tools, true, nil
}

// Resume rebuilds live state from the persisted thread. Tools are not
// restored; the user has to reconnect to get them back.
func (m *Manager) Resume(ctx context.Context, user chat.User, threadID string) (*chat.Session, error) {
	unlock := m.locks.lock(threadID)
	defer unlock()
	return m.resume(ctx, user, threadID)
}

func (m *Manager) resume(ctx context.Context, user chat.User, threadID string) (*chat.Session, error) {
	thread, err := m.Thread(ctx, user, threadID)
	if err != nil {
		return nil, err
	}

	history, ok, err := thread.Messages()
	if err != nil {
		return nil, fmt.Errorf("decode thread messages: %w", err)
	}
	if !ok {
		history = chat.History{}
	}

	sess := &chat.Session{
		ThreadID:     thread.ID,
		UserID:       thread.UserID,
		History:      history,
		SystemPrompt: m.opts.SystemPrompt,
	}
	m.setLive(sess)

	m.logger.Info().Str("thread_id", threadID).Int("history", len(history)).Msg("session resumed")
	return sess, nil
}

// HandleMessage runs one turn on the thread and persists the resulting
// history, including the partial history of a failed turn. Turns on the same
// thread never overlap.
func (m *Manager) HandleMessage(ctx context.Context, user chat.User, threadID, text string, emit chat.Emitter) error {
	unlock := m.locks.lock(threadID)
	defer unlock()

	sess, err := m.liveSession(ctx, user, threadID)
	if err != nil {
		return err
	}

	turnErr := m.controller.Process(ctx, sess, text, emit)
	if turnErr != nil {
		m.logger.Error().Err(turnErr).Str("thread_id", threadID).Msg("turn failed")
	}

	// History is written even when the client has gone away.
	if err := m.persist(context.WithoutCancel(ctx), sess); err != nil {
		m.logger.Error().Err(err).Str("thread_id", threadID).Msg("failed to persist history")
		return errors.Join(turnErr, err)
	}
	return turnErr
}

// HandleAction reacts to a user clicking an action button. The only action is
// the toolkit connect flow: it starts the OAuth connection, hands the user the
// redirect link and attaches the tool catalog to the session.
func (m *Manager) HandleAction(ctx context.Context, user chat.User, threadID string, action chat.Action, emit chat.Emitter) error {
	app := action.Payload["value"]
	if app == "" {
		app = action.Name
	}
	if !strings.EqualFold(action.Name, m.opts.App) && !strings.EqualFold(app, m.opts.App) {
		return fmt.Errorf("%w: %s", ErrUnknownAction, action.Name)
	}

	unlock := m.locks.lock(threadID)
	defer unlock()

	sess, err := m.liveSession(ctx, user, threadID)
	if err != nil {
		return err
	}

	if m.opts.PublicDomain == "" {
		return emit.Emit(ctx, chat.Utterance{Content: missingDomainMessage})
	}

	target := action.Payload["thread_id"]
	if target == "" {
		target = threadID
	}

	catalog, redirectURL, err := m.connect(ctx, user.ID, app, target)
	if redirectURL != "" {
		if emitErr := emit.Emit(ctx, chat.Utterance{Content: fmt.Sprintf("Click [here](%s) to connect!", redirectURL)}); emitErr != nil {
			return emitErr
		}
	}
	if err != nil {
		m.logger.Error().Err(err).Str("thread_id", threadID).Str("app", app).Msg("error connecting toolkit")
		return emit.Emit(ctx, chat.Utterance{Content: fmt.Sprintf("Error connecting to %s: %s", displayName(app), err)})
	}

	sess.Tools = &catalog
	return nil
}

func (m *Manager) connect(ctx context.Context, userID, app, threadID string) (tool.Catalog, string, error) {
	req, err := m.broker.InitiateConnection(ctx, userID, app, threadID, m.opts.PublicDomain)
	if err != nil {
		return nil, "", err
	}
	catalog, err := m.broker.Tools(ctx, []string{m.opts.App})
	if err != nil {
		return nil, req.RedirectURL, err
	}
	return catalog, req.RedirectURL, nil
}

// Thread loads a persisted thread owned by user.
func (m *Manager) Thread(ctx context.Context, user chat.User, threadID string) (chat.Thread, error) {
	thread, err := m.store.GetThread(ctx, threadID)
	if err != nil {
		return chat.Thread{}, err
	}
	if thread.UserID != user.ID {
		return chat.Thread{}, ErrForbidden
	}
	return thread, nil
}

// ListThreads returns the user's threads, newest first.
func (m *Manager) ListThreads(ctx context.Context, user chat.User) ([]chat.Thread, error) {
	return m.store.ListThreads(ctx, user.ID)
}

// Get returns a snapshot of the live session, waiting for any running turn on
// the thread to finish.
func (m *Manager) Get(threadID string) (chat.Session, bool) {
	unlock := m.locks.lock(threadID)
	defer unlock()

	sess, ok := m.live.get(threadID)
	if !ok {
		return chat.Session{}, false
	}

	snapshot := *sess
	snapshot.History = append(chat.History(nil), sess.History...)
	if sess.Tools != nil {
		tools := append(tool.Catalog(nil), (*sess.Tools)...)
		snapshot.Tools = &tools
	}
	return snapshot, true
}

func (m *Manager) liveSession(ctx context.Context, user chat.User, threadID string) (*chat.Session, error) {
	sess, ok := m.live.get(threadID)
	if !ok {
		return m.resume(ctx, user, threadID)
	}
	if sess.UserID != user.ID {
		return nil, ErrForbidden
	}
	return sess, nil
}

func (m *Manager) setLive(sess *chat.Session) {
	if evicted, ok := m.live.put(sess); ok {
		m.logger.Debug().Str("thread_id", evicted).Msg("evicted idle session")
	}
}

func (m *Manager) persist(ctx context.Context, sess *chat.Session) error {
	raw, err := json.Marshal(sess.History)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	return m.store.UpdateThreadMetadata(ctx, sess.ThreadID, chat.MetadataMessagesKey, raw)
}

func connectAction(app, threadID string) chat.Action {
	return chat.Action{
		Name:    app,
		Payload: map[string]string{"value": app, "thread_id": threadID},
		Label:   displayName(app) + " 💻",
	}
}

var displayNames = map[string]string{
	"github": "GitHub",
	"gitlab": "GitLab",
}

func displayName(app string) string {
	if name, ok := displayNames[strings.ToLower(app)]; ok {
		return name
	}
	if app == "" {
		return app
	}
	return strings.ToUpper(app[:1]) + app[1:]
}
