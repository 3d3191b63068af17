package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "chat.db")
	s, err := NewSQLiteStore(path, nil)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestEnsureThread(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	thread, err := s.EnsureThread(ctx, "t1", "alice", "  What is   the weather in Paris today?  ")
	require.NoError(t, err)
	assert.Equal(t, "alice", thread.OwnerID)
	assert.Equal(t, "What is the weather in Paris today?", thread.Title)

	again, err := s.EnsureThread(ctx, "t1", "alice", "ignored")
	require.NoError(t, err)
	assert.Equal(t, thread.Title, again.Title, "existing thread keeps its title")

	_, err = s.EnsureThread(ctx, "t1", "mallory", "hi")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestEnsureThread_Title(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	thread, err := s.EnsureThread(ctx, "empty", "u", "   ")
	require.NoError(t, err)
	assert.Equal(t, "New chat", thread.Title)

	thread, err = s.EnsureThread(ctx, "long", "u", strings.Repeat("é", 100))
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("é", maxTitleLength)+"...", thread.Title)
}

func TestGetThread_NotFound(t *testing.T) {
	_, err := newTestStore(t).GetThread(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.EnsureThread(ctx, "t1", "alice", "hello")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		msg := &Message{Role: role, Content: fmt.Sprintf("m%d", i)}
		require.NoError(t, s.AppendMessage(ctx, "t1", msg))
		assert.NotEmpty(t, msg.ID)
		assert.Equal(t, "t1", msg.ThreadID)
	}

	all, err := s.ListMessages(ctx, "t1", 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i, m := range all {
		assert.Equal(t, fmt.Sprintf("m%d", i), m.Content)
	}

	latest, err := s.ListMessages(ctx, "t1", 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "m3", latest[0].Content)
	assert.Equal(t, "m4", latest[1].Content)

	none, err := s.ListMessages(ctx, "other", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestAppendMessage_UnknownThread(t *testing.T) {
	err := newTestStore(t).AppendMessage(context.Background(), "ghost", &Message{Role: "user", Content: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteThread(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.EnsureThread(ctx, "t1", "alice", "hello")
	require.NoError(t, err)
	require.NoError(t, s.AppendMessage(ctx, "t1", &Message{Role: "user", Content: "hello"}))
	_, err = s.EnsureThread(ctx, "t2", "alice", "other")
	require.NoError(t, err)
	require.NoError(t, s.AppendMessage(ctx, "t2", &Message{Role: "user", Content: "keep me"}))

	require.NoError(t, s.DeleteThread(ctx, "t1"))

	_, err = s.GetThread(ctx, "t1")
	assert.ErrorIs(t, err, ErrNotFound)
	msgs, err := s.ListMessages(ctx, "t1", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	kept, err := s.ListMessages(ctx, "t2", 0)
	require.NoError(t, err)
	assert.Len(t, kept, 1)

	assert.ErrorIs(t, s.DeleteThread(ctx, "t1"), ErrNotFound)
}

func TestEnsureThread_Concurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.EnsureThread(ctx, "shared", "alice", "hi")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
}
