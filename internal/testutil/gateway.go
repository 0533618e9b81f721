// Package testutil provides scripted collaborators for service tests.
package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zhouzirui/c3-chat/backend/internal/model/chat"
	"github.com/zhouzirui/c3-chat/backend/internal/service/ai"
)

// ErrScriptExhausted is returned when a gateway is called more often than
// scripted.
var ErrScriptExhausted = errors.New("scripted gateway: no more responses")

// Step is one scripted gateway answer.
type Step struct {
	Response *ai.Response
	Err      error
	Deltas   []string
	// Block makes the call wait for context cancellation.
	Block bool
	// Delay holds the answer back, as a slow model would.
	Delay time.Duration
}

// Gateway replays scripted responses in order and records every request.
type Gateway struct {
	mu       sync.Mutex
	steps    []Step
	Requests []ai.Request
}

// NewGateway scripts the given steps.
func NewGateway(steps ...Step) *Gateway {
	return &Gateway{steps: steps}
}

func (g *Gateway) next(req ai.Request) (Step, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	history := make(chat.History, len(req.History))
	copy(history, req.History)
	req.History = history
	g.Requests = append(g.Requests, req)

	if len(g.steps) == 0 {
		return Step{}, ErrScriptExhausted
	}
	step := g.steps[0]
	g.steps = g.steps[1:]
	return step, nil
}

func (g *Gateway) Generate(ctx context.Context, req ai.Request) (*ai.Response, error) {
	return g.Stream(ctx, req, nil)
}

func (g *Gateway) Stream(ctx context.Context, req ai.Request, onDelta func(string)) (*ai.Response, error) {
	step, err := g.next(req)
	if err != nil {
		return nil, err
	}
	if step.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if step.Delay > 0 {
		select {
		case <-time.After(step.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if onDelta != nil {
		for _, d := range step.Deltas {
			onDelta(d)
		}
	}
	return step.Response, step.Err
}

// Calls reports how many requests were made.
func (g *Gateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Requests)
}

// TextResponse is a terminal response with a single text block.
func TextResponse(text string) *ai.Response {
	return &ai.Response{
		Role:       chat.RoleAssistant,
		StopReason: ai.StopEndTurn,
		Content:    []chat.Block{chat.TextBlock{Text: text}},
	}
}

// ToolUseResponse is a tool_use response, optionally preceded by text.
func ToolUseResponse(preamble string, call chat.ToolUseBlock) *ai.Response {
	content := []chat.Block{}
	if preamble != "" {
		content = append(content, chat.TextBlock{Text: preamble})
	}
	content = append(content, call)
	return &ai.Response{Role: chat.RoleAssistant, StopReason: ai.StopToolUse, Content: content}
}
