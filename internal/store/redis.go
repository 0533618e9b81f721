package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/zhouzirui/c3-chat/backend/internal/model/chat"
)

const redisPrefix = "c3chat:"

// Redis stores users and threads as JSON strings, with a sorted set per user
// indexing thread ids by creation time.
type Redis struct {
	client *redis.Client
}

// OpenRedis connects to a Redis server.
func OpenRedis(ctx context.Context, addr, password string, db int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedis(client), nil
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func userKey(identifier string) string { return redisPrefix + "user:" + identifier }
func threadKey(id string) string       { return redisPrefix + "thread:" + id }
func userThreadsKey(userID string) string {
	return redisPrefix + "user_threads:" + userID
}

func (s *Redis) UpsertUser(ctx context.Context, identifier string, metadata map[string]string) (chat.User, error) {
	if identifier == "" {
		return chat.User{}, ErrIdentifierNeeded
	}

	var user chat.User
	key := userKey(identifier)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			user = chat.User{ID: uuid.NewString(), Identifier: identifier, CreatedAt: time.Now().UTC()}
		case err != nil:
			return err
		default:
			if err := json.Unmarshal(raw, &user); err != nil {
				return fmt.Errorf("decode user: %w", err)
			}
		}
		user.Metadata = copyStrings(metadata)

		encoded, err := json.Marshal(user)
		if err != nil {
			return fmt.Errorf("encode user: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return chat.User{}, fmt.Errorf("upsert user: %w", err)
	}
	return user, nil
}

func (s *Redis) CreateThread(ctx context.Context, thread chat.Thread) error {
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = time.Now().UTC()
	}
	thread.UpdatedAt = thread.CreatedAt

	encoded, err := json.Marshal(thread)
	if err != nil {
		return fmt.Errorf("encode thread: %w", err)
	}

	ok, err := s.client.SetNX(ctx, threadKey(thread.ID), encoded, 0).Result()
	if err != nil {
		return fmt.Errorf("insert thread: %w", err)
	}
	if !ok {
		return ErrThreadExists
	}

	score := float64(thread.CreatedAt.UnixNano())
	if err := s.client.ZAdd(ctx, userThreadsKey(thread.UserID), redis.Z{Score: score, Member: thread.ID}).Err(); err != nil {
		return fmt.Errorf("index thread: %w", err)
	}
	return nil
}

func (s *Redis) GetThread(ctx context.Context, id string) (chat.Thread, error) {
	raw, err := s.client.Get(ctx, threadKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return chat.Thread{}, ErrThreadNotFound
	}
	if err != nil {
		return chat.Thread{}, fmt.Errorf("get thread: %w", err)
	}
	var thread chat.Thread
	if err := json.Unmarshal(raw, &thread); err != nil {
		return chat.Thread{}, fmt.Errorf("decode thread: %w", err)
	}
	return thread, nil
}

func (s *Redis) UpdateThreadMetadata(ctx context.Context, id, key string, value json.RawMessage) error {
	k := threadKey(id)
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, k).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrThreadNotFound
		}
		if err != nil {
			return fmt.Errorf("get thread: %w", err)
		}

		var thread chat.Thread
		if err := json.Unmarshal(raw, &thread); err != nil {
			return fmt.Errorf("decode thread: %w", err)
		}
		if thread.Metadata == nil {
			thread.Metadata = make(map[string]json.RawMessage)
		}
		thread.Metadata[key] = value
		thread.UpdatedAt = time.Now().UTC()

		encoded, err := json.Marshal(thread)
		if err != nil {
			return fmt.Errorf("encode thread: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, encoded, 0)
			return nil
		})
		return err
	}, k)
}

func (s *Redis) ListThreads(ctx context.Context, userID string) ([]chat.Thread, error) {
	ids, err := s.client.ZRevRange(ctx, userThreadsKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list thread ids: %w", err)
	}

	threads := make([]chat.Thread, 0, len(ids))
	for _, id := range ids {
		thread, err := s.GetThread(ctx, id)
		if errors.Is(err, ErrThreadNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		threads = append(threads, thread)
	}
	return threads, nil
}

func (s *Redis) Close() error { return s.client.Close() }
