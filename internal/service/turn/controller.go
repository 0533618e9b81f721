package turn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/c3-chat/backend/internal/logging"
	"github.com/zhouzirui/c3-chat/backend/internal/model/chat"
	"github.com/zhouzirui/c3-chat/backend/internal/model/tool"
	"github.com/zhouzirui/c3-chat/backend/internal/service/ai"
	"github.com/zhouzirui/c3-chat/backend/internal/service/broker"
)

// ErrMalformedToolUse is returned when the model stops for tool use but its
// last content block is not a tool use.
var ErrMalformedToolUse = errors.New("tool_use stop reason without trailing tool_use block")

// Options tune a Controller.
type Options struct {
	ModelTimeout time.Duration
	ToolTimeout  time.Duration
	Stream       bool
}

// Controller drives one user message through at most one model, tool, model
// round trip. It keeps no state between calls beyond the session history.
type Controller struct {
	gateway ai.Gateway
	broker  broker.Broker
	opts    Options
	logger  zerolog.Logger
}

// NewController wires a controller to its collaborators.
func NewController(gateway ai.Gateway, b broker.Broker, opts Options, logger zerolog.Logger) *Controller {
	return &Controller{
		gateway: gateway,
		broker:  b,
		opts:    opts,
		logger:  logging.Component(logger, "turn"),
	}
}

// Process appends userText to the session history, calls the model, runs the
// requested tool if any, and surfaces assistant text through emit. History
// appended before a failing model call is left in place. A failing emitter
// does not stop the turn; its first error is returned once history is complete.
func (c *Controller) Process(ctx context.Context, sess *chat.Session, userText string, emit chat.Emitter) error {
	logger := c.logger.With().Str("thread_id", sess.ThreadID).Logger()
	ctx = logger.WithContext(ctx)

	logger.Info().Msg("processing message")

	sess.History = append(sess.History, chat.UserText(userText))

	first, err := c.generate(ctx, sess, emit)
	if err != nil {
		return fmt.Errorf("model call: %w", err)
	}
	emitErr := c.surface(ctx, first, emit)

	if first.StopReason != ai.StopToolUse {
		sess.History = append(sess.History, chat.AssistantText(first.Text()))
		logger.Debug().Str("stop_reason", string(first.StopReason)).Int("history", len(sess.History)).Msg("turn complete")
		return emitErr
	}

	// Only the final block drives the tool branch; blocks before it are not
	// carried into history.
	call, ok := first.LastToolUse()
	if !ok {
		return ErrMalformedToolUse
	}
	sess.History = append(sess.History, chat.Message{Role: chat.RoleAssistant, Content: []chat.Block{call}})

	result := c.runTool(ctx, sess, first)
	sess.History = append(sess.History, chat.Message{Role: chat.RoleUser, Content: []chat.Block{result}})

	second, err := c.generate(ctx, sess, emit)
	if err != nil {
		return fmt.Errorf("follow-up model call: %w", err)
	}
	if err := c.surface(ctx, second, emit); err != nil && emitErr == nil {
		emitErr = err
	}

	sess.History = append(sess.History, chat.AssistantText(second.Text()))
	logger.Debug().Str("tool", call.Name).Int("history", len(sess.History)).Msg("turn complete")
	return emitErr
}

func (c *Controller) generate(ctx context.Context, sess *chat.Session, emit chat.Emitter) (*ai.Response, error) {
	if c.opts.ModelTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.ModelTimeout)
		defer cancel()
	}

	req := ai.Request{History: sess.History, System: sess.SystemPrompt}
	if sess.Tools != nil {
		req.Tools = *sess.Tools
	}

	deltas, ok := emit.(chat.DeltaEmitter)
	if !c.opts.Stream || !ok {
		return c.gateway.Generate(ctx, req)
	}

	return c.gateway.Stream(ctx, req, func(text string) {
		if err := deltas.EmitDelta(ctx, text); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to emit delta")
		}
	})
}

func (c *Controller) runTool(ctx context.Context, sess *chat.Session, resp *ai.Response) chat.ToolResultBlock {
	if c.opts.ToolTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.ToolTimeout)
		defer cancel()
	}

	var catalog tool.Catalog
	if sess.Tools != nil {
		catalog = *sess.Tools
	}
	return broker.Resolve(ctx, c.broker, sess.UserID, resp, catalog)
}

// surface shows the response's leading text, if any.
func (c *Controller) surface(ctx context.Context, resp *ai.Response, emit chat.Emitter) error {
	text, ok := resp.LeadingText()
	if !ok {
		return nil
	}
	if err := emit.Emit(ctx, chat.Utterance{Content: text}); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to emit message")
		return fmt.Errorf("emit: %w", err)
	}
	return nil
}
