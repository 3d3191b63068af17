package checkpoint

import (
	"context"

	"chatgraph/agent"
)

// Store is a checkpoint store with the housekeeping operations the HTTP
// layer needs on top of agent.CheckpointStore.
type Store interface {
	agent.CheckpointStore
	Delete(ctx context.Context, threadID string) error
	List(ctx context.Context) ([]string, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*RedisStore)(nil)
)
