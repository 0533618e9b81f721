package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zhouzirui/c3-chat/backend/internal/config"
	"github.com/zhouzirui/c3-chat/backend/internal/model/chat"
)

var (
	ErrThreadNotFound   = errors.New("thread not found")
	ErrThreadExists     = errors.New("thread already exists")
	ErrIdentifierNeeded = errors.New("user identifier is required")
)

// Store persists users and threads. Thread metadata is opaque apart from the
// key being written.
type Store interface {
	UpsertUser(ctx context.Context, identifier string, metadata map[string]string) (chat.User, error)
	CreateThread(ctx context.Context, thread chat.Thread) error
	GetThread(ctx context.Context, id string) (chat.Thread, error)
	// UpdateThreadMetadata sets one metadata key, leaving the others untouched.
	UpdateThreadMetadata(ctx context.Context, id, key string, value json.RawMessage) error
	// ListThreads returns a user's threads, newest first.
	ListThreads(ctx context.Context, userID string) ([]chat.Thread, error)
	Close() error
}

// Open returns the store selected by STORE_DRIVER.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "memory":
		return NewMemory(), nil
	case "sqlite":
		return OpenSQLite(ctx, cfg.SQLitePath)
	case "postgres":
		return OpenPostgres(ctx, cfg.DatabaseURL)
	case "redis":
		return OpenRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Driver)
	}
}

// timeLayout is fixed width so lexical order matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func copyMetadata(in map[string]json.RawMessage) map[string]json.RawMessage {
	if in == nil {
		return nil
	}
	out := make(map[string]json.RawMessage, len(in))
	for k, v := range in {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

func copyThread(t chat.Thread) chat.Thread {
	t.Metadata = copyMetadata(t.Metadata)
	return t
}
