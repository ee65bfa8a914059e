package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"gudagent/pkg/llm"

	goredis "github.com/redis/go-redis/v9"
)

const (
	historyLimit   = 50
	historyKeep    = 30
	historyTTL     = 24 * time.Hour
	historyKeyBase = "gud-agent:history:"
)

// HistoryStore keeps the user/assistant turns of each conversation.
type HistoryStore interface {
	Load(ctx context.Context, conversationID string) ([]llm.Message, error)
	Save(ctx context.Context, conversationID string, turns []llm.Message) error
	Reset(ctx context.Context, conversationID string) error
}

// capHistory drops to the most recent historyKeep turns once the history
// grows past historyLimit.
func capHistory(turns []llm.Message) []llm.Message {
	if len(turns) <= historyLimit {
		return turns
	}
	return append([]llm.Message(nil), turns[len(turns)-historyKeep:]...)
}

type MemoryHistory struct {
	mu    sync.Mutex
	turns map[string][]llm.Message
}

func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{turns: make(map[string][]llm.Message)}
}

func (m *MemoryHistory) Load(_ context.Context, conversationID string) ([]llm.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.Message(nil), m.turns[conversationID]...), nil
}

func (m *MemoryHistory) Save(_ context.Context, conversationID string, turns []llm.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns[conversationID] = append([]llm.Message(nil), capHistory(turns)...)
	return nil
}

func (m *MemoryHistory) Reset(_ context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.turns, conversationID)
	return nil
}

// RedisHistory stores each conversation as a Redis list of JSON turns that
// expires after a day without activity.
type RedisHistory struct {
	client goredis.UniversalClient
	ttl    time.Duration
}

func NewRedisHistory(client goredis.UniversalClient) *RedisHistory {
	return &RedisHistory{client: client, ttl: historyTTL}
}

func (r *RedisHistory) key(conversationID string) string {
	return historyKeyBase + conversationID
}

func (r *RedisHistory) Load(ctx context.Context, conversationID string) ([]llm.Message, error) {
	raw, err := r.client.LRange(ctx, r.key(conversationID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	turns := make([]llm.Message, 0, len(raw))
	for _, item := range raw {
		var msg llm.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("decode history turn: %w", err)
		}
		turns = append(turns, msg)
	}
	return turns, nil
}

func (r *RedisHistory) Save(ctx context.Context, conversationID string, turns []llm.Message) error {
	turns = capHistory(turns)
	values := make([]any, 0, len(turns))
	for _, turn := range turns {
		encoded, err := json.Marshal(turn)
		if err != nil {
			return fmt.Errorf("encode history turn: %w", err)
		}
		values = append(values, encoded)
	}

	key := r.key(conversationID)
	_, err := r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(values) > 0 {
			pipe.RPush(ctx, key, values...)
			pipe.Expire(ctx, key, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	return nil
}

func (r *RedisHistory) Reset(ctx context.Context, conversationID string) error {
	if err := r.client.Del(ctx, r.key(conversationID)).Err(); err != nil {
		return fmt.Errorf("reset history: %w", err)
	}
	return nil
}
