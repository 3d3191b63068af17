package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"chatgraph/agent"

	backend "github.com/redis/go-redis/v9"
)

// Keys are prefix + "state:" + threadID for snapshots, prefix + "index" for
// the thread index and prefix + "lock:" + threadID for thread locks. The
// fixed segments keep client-chosen thread ids from reaching the other
// namespaces.
const defaultPrefix = "chatgraph:"

// RedisStore keeps snapshots in Redis as JSON, one key per thread, with a
// sorted-set index for listing.
type RedisStore struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithTTL expires idle threads. Zero keeps them forever.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore connects to a Redis server.
func NewRedisStore(address, password string, db int, opts ...RedisOption) *RedisStore {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewRedisStoreFromClient(rdb, opts...)
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *backend.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: defaultPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Client exposes the underlying client so a Locker can share the connection.
func (s *RedisStore) Client() *backend.Client {
	return s.client
}

func (s *RedisStore) key(threadID string) string {
	return s.prefix + "state:" + threadID
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "index"
}

// Load returns the thread's snapshot, or an empty state.
func (s *RedisStore) Load(ctx context.Context, threadID string) (*agent.ExecutionState, error) {
	val, err := s.client.Get(ctx, s.key(threadID)).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return agent.NewExecutionState(threadID), nil
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var state agent.ExecutionState
	if err := json.Unmarshal(val, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if state.Messages == nil {
		state.Messages = make([]agent.Message, 0)
	}
	return &state, nil
}

// Save writes the snapshot and refreshes the index entry.
func (s *RedisStore) Save(ctx context.Context, threadID string, state *agent.ExecutionState) error {
	snapshot := state.Clone()
	if snapshot == nil {
		snapshot = agent.NewExecutionState(threadID)
	}
	snapshot.ThreadID = threadID
	if snapshot.UpdatedAt.IsZero() {
		snapshot.UpdatedAt = time.Now()
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	// Index score is the expiry time; threads without TTL sort last.
	score := float64(time.Now().Add(s.ttl).Unix())
	if s.ttl == 0 {
		score = 4102444800
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.key(threadID), data, s.ttl)
	pipe.ZAdd(ctx, s.indexKey(), backend.Z{Score: score, Member: threadID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

// Delete removes the thread and its index entry.
func (s *RedisStore) Delete(ctx context.Context, threadID string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.key(threadID))
	pipe.ZRem(ctx, s.indexKey(), threadID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete from redis: %w", err)
	}
	return nil
}

// List returns live thread ids, pruning expired index entries first.
func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	now := float64(time.Now().Unix())
	if err := s.client.ZRemRangeByScore(ctx, s.indexKey(), "-inf", fmt.Sprintf("%f", now)).Err(); err != nil {
		return nil, fmt.Errorf("failed to prune expired threads: %w", err)
	}
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	return ids, nil
}

// Stats counts threads and messages. It loads every snapshot and is meant
// for the status endpoint, not hot paths.
func (s *RedisStore) Stats(ctx context.Context) (Stats, error) {
	ids, err := s.List(ctx)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{Threads: len(ids)}
	for _, id := range ids {
		state, err := s.Load(ctx, id)
		if err != nil {
			return Stats{}, err
		}
		stats.Messages += len(state.Messages)
	}
	return stats, nil
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
