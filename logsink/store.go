package logsink

import (
	"context"
	"sort"
	"sync"

	"github.com/go-redis/redis/v8"

	"github.com/jcmrest/jcmrest/core"
)

// Store keeps the formatted log lines of every agent. A buffer exists once
// Ensure or Append has been called for the agent, even if it holds no lines.
type Store interface {
	Ensure(ctx context.Context, agent string) error
	Append(ctx context.Context, agent, line string) error
	Lines(ctx context.Context, agent string) ([]string, bool, error)
	Clear(ctx context.Context, agent string) error
	Delete(ctx context.Context, agent string) error
	Agents(ctx context.Context) ([]string, error)
}

// MemoryStore is an in-memory implementation of Store
type MemoryStore struct {
	mu      sync.RWMutex
	buffers map[string][]string
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buffers: make(map[string][]string)}
}

func (m *MemoryStore) Ensure(ctx context.Context, agent string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.buffers[agent]; !ok {
		m.buffers[agent] = []string{}
	}
	return nil
}

func (m *MemoryStore) Append(ctx context.Context, agent, line string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buffers[agent] = append(m.buffers[agent], line)
	return nil
}

func (m *MemoryStore) Lines(ctx context.Context, agent string) ([]string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lines, ok := m.buffers[agent]
	if !ok {
		return nil, false, nil
	}
	return append([]string(nil), lines...), true, nil
}

func (m *MemoryStore) Clear(ctx context.Context, agent string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.buffers[agent]; ok {
		m.buffers[agent] = []string{}
	}
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, agent string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.buffers, agent)
	return nil
}

func (m *MemoryStore) Agents(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	agents := make([]string, 0, len(m.buffers))
	for a := range m.buffers {
		agents = append(agents, a)
	}
	sort.Strings(agents)
	return agents, nil
}

// RedisStore keeps each buffer in a Redis list "<ns>:logs:<agent>". An index
// set "<ns>:logs:index" records which buffers exist, since Redis drops empty
// lists.
type RedisStore struct {
	client *core.RedisClient
}

const redisIndexKey = "logs:index"

// NewRedisStore wraps a connected client. Use core.RedisDBAgentLogs for its DB.
func NewRedisStore(client *core.RedisClient) *RedisStore {
	return &RedisStore{client: client}
}

func logKey(agent string) string {
	return "logs:" + agent
}

func (r *RedisStore) Ensure(ctx context.Context, agent string) error {
	return r.client.SAdd(ctx, redisIndexKey, agent)
}

func (r *RedisStore) Append(ctx context.Context, agent, line string) error {
	return r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, r.client.Key(redisIndexKey), agent)
		pipe.RPush(ctx, r.client.Key(logKey(agent)), line)
		return nil
	})
}

func (r *RedisStore) Lines(ctx context.Context, agent string) ([]string, bool, error) {
	ok, err := r.client.SIsMember(ctx, redisIndexKey, agent)
	if err != nil || !ok {
		return nil, false, err
	}
	lines, err := r.client.LRange(ctx, logKey(agent), 0, -1)
	if err != nil {
		return nil, false, err
	}
	return lines, true, nil
}

func (r *RedisStore) Clear(ctx context.Context, agent string) error {
	return r.client.Del(ctx, logKey(agent))
}

func (r *RedisStore) Delete(ctx context.Context, agent string) error {
	return r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.client.Key(logKey(agent)))
		pipe.SRem(ctx, r.client.Key(redisIndexKey), agent)
		return nil
	})
}

func (r *RedisStore) Agents(ctx context.Context) ([]string, error) {
	agents, err := r.client.SMembers(ctx, redisIndexKey)
	if err != nil {
		return nil, err
	}
	sort.Strings(agents)
	return agents, nil
}
