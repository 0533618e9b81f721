package testutil

import (
	"context"
	"sync"

	"github.com/zhouzirui/c3-chat/backend/internal/model/chat"
	"github.com/zhouzirui/c3-chat/backend/internal/model/tool"
	"github.com/zhouzirui/c3-chat/backend/internal/service/broker"
)

// Broker is an in-memory broker.Broker.
type Broker struct {
	mu sync.Mutex

	Connected   map[string]bool
	CheckErr    error
	Catalog     tool.Catalog
	ToolsErr    error
	Results     map[string]string
	ExecErr     error
	RedirectURL string
	InitiateErr error
	// ExecBlock makes Execute wait for context cancellation.
	ExecBlock bool

	Executed  []chat.ToolUseBlock
	Initiated []InitiateCall
}

// InitiateCall records one InitiateConnection invocation.
type InitiateCall struct {
	UserID, App, ThreadID, Domain string
}

var _ broker.Broker = (*Broker)(nil)

func (b *Broker) CheckConnection(_ context.Context, userID, _ string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.CheckErr != nil {
		return false, b.CheckErr
	}
	return b.Connected[userID], nil
}

func (b *Broker) Tools(context.Context, []string) (tool.Catalog, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ToolsErr != nil {
		return nil, b.ToolsErr
	}
	return append(tool.Catalog(nil), b.Catalog...), nil
}

func (b *Broker) Execute(ctx context.Context, _ string, call chat.ToolUseBlock) (string, error) {
	b.mu.Lock()
	b.Executed = append(b.Executed, call)
	block, out, err := b.ExecBlock, b.Results[call.Name], b.ExecErr
	b.mu.Unlock()

	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return out, err
}

func (b *Broker) InitiateConnection(_ context.Context, userID, app, threadID, domain string) (broker.ConnectionRequest, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Initiated = append(b.Initiated, InitiateCall{UserID: userID, App: app, ThreadID: threadID, Domain: domain})
	if b.InitiateErr != nil {
		return broker.ConnectionRequest{}, b.InitiateErr
	}
	return broker.ConnectionRequest{RedirectURL: b.RedirectURL, Status: "INITIATED"}, nil
}
