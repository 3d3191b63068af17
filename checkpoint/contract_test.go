package checkpoint_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"chatgraph/agent"
	"chatgraph/checkpoint"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreContract checks the behavior every checkpoint.Store must share.
func runStoreContract(t *testing.T, store checkpoint.Store) {
	ctx := context.Background()
	threadID := "contract-" + time.Now().Format("20060102150405.000")

	t.Run("Load Unknown Thread", func(t *testing.T) {
		state, err := store.Load(ctx, "unknown-"+threadID)
		require.NoError(t, err)
		assert.True(t, state.IsEmpty())
		assert.Equal(t, "unknown-"+threadID, state.ThreadID)
	})

	t.Run("Save and Load", func(t *testing.T) {
		state := agent.NewExecutionState(threadID)
		state.Append(
			agent.UserMessage("what is 2+2?"),
			agent.AssistantMessage("", []agent.ToolCallRequest{{
				ToolName: "calculator",
				Input:    json.RawMessage(`{"input":"2+2"}`),
				CallID:   "call_1",
			}}),
		)
		require.NoError(t, state.AppendToolResults([]agent.ToolResult{{CallID: "call_1", ToolName: "calculator", Output: "4"}}))
		state.Append(agent.AssistantMessage("It is 4.", nil))

		require.NoError(t, store.Save(ctx, threadID, state))

		loaded, err := store.Load(ctx, threadID)
		require.NoError(t, err)
		require.Len(t, loaded.Messages, 4)
		assert.Equal(t, agent.RoleUser, loaded.Messages[0].Role)
		assert.Equal(t, "calculator", loaded.Messages[1].ToolCalls[0].ToolName)
		assert.JSONEq(t, `{"input":"2+2"}`, string(loaded.Messages[1].ToolCalls[0].Input))
		assert.Equal(t, "call_1", loaded.Messages[2].CallID)
		assert.Equal(t, "It is 4.", loaded.Messages[3].Content)
	})

	t.Run("Loaded State Is A Copy", func(t *testing.T) {
		loaded, err := store.Load(ctx, threadID)
		require.NoError(t, err)
		before := len(loaded.Messages)
		loaded.Append(agent.UserMessage("not saved"))

		again, err := store.Load(ctx, threadID)
		require.NoError(t, err)
		assert.Len(t, again.Messages, before)
	})

	t.Run("List and Stats", func(t *testing.T) {
		other := threadID + "-other"
		require.NoError(t, store.Save(ctx, other, agent.NewExecutionState(other)))
		defer func() { _ = store.Delete(ctx, other) }()

		ids, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, threadID)
		assert.Contains(t, ids, other)

		stats, err := store.Stats(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, stats.Threads, 2)
		assert.GreaterOrEqual(t, stats.Messages, 4)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, threadID))

		state, err := store.Load(ctx, threadID)
		require.NoError(t, err)
		assert.True(t, state.IsEmpty())

		ids, err := store.List(ctx)
		require.NoError(t, err)
		assert.NotContains(t, ids, threadID)

		assert.NoError(t, store.Delete(ctx, threadID), "deleting twice is not an error")
	})
}

func TestMemoryStore_Contract(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	defer store.Close()
	runStoreContract(t, store)
}

func TestRedisStore_Contract(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	store := checkpoint.NewRedisStore(mr.Addr(), "", 0, checkpoint.WithPrefix("test:"))
	defer store.Close()
	runStoreContract(t, store)
}

func TestRedisStore_ThreadIDsCannotReachOtherKeys(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	store := checkpoint.NewRedisStoreFromClient(client)
	locker := checkpoint.NewRedisLocker(client, "")
	ctx := context.Background()

	unlock, err := locker.TryLock(ctx, "victim", time.Minute)
	require.NoError(t, err)

	for _, id := range []string{"index", "lock:victim", "state:victim"} {
		state := agent.NewExecutionState(id)
		state.Append(agent.UserMessage("hello"))
		require.NoError(t, store.Save(ctx, id, state), "save %q", id)
	}

	other := agent.NewExecutionState("t2")
	other.Append(agent.UserMessage("still works"))
	require.NoError(t, store.Save(ctx, "t2", other))

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"index", "lock:victim", "state:victim", "t2"}, ids)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Threads)

	require.NoError(t, unlock(ctx))
	assert.False(t, mr.Exists("chatgraph:lock:victim"))
	_, err = locker.TryLock(ctx, "victim", time.Minute)
	require.NoError(t, err, "the victim thread can be locked again")
}

func TestRedisStore_TTL(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	store := checkpoint.NewRedisStoreFromClient(client, checkpoint.WithTTL(time.Minute))
	ctx := context.Background()

	state := agent.NewExecutionState("t1")
	state.Append(agent.UserMessage("hello"))
	require.NoError(t, store.Save(ctx, "t1", state))
	assert.True(t, mr.Exists("chatgraph:state:t1"))
	assert.Equal(t, time.Minute, mr.TTL("chatgraph:state:t1"))

	mr.FastForward(2 * time.Minute)

	loaded, err := store.Load(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, loaded.IsEmpty())
}
