// Package store persists chat threads and their visible messages. It is the
// record shown to users, separate from the checkpoint the engine resumes from.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a thread does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when a thread belongs to another caller.
	ErrForbidden = errors.New("thread belongs to another user")
)

// Thread is one conversation owned by a single caller.
type Thread struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Message is a user or assistant message as shown in the chat.
type Message struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"threadId"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store is the persistence collaborator used by the HTTP layer.
type Store interface {
	// EnsureThread returns the thread, creating it for ownerID if missing.
	// It fails with ErrForbidden if the thread has another owner.
	EnsureThread(ctx context.Context, threadID, ownerID, title string) (*Thread, error)
	GetThread(ctx context.Context, threadID string) (*Thread, error)
	AppendMessage(ctx context.Context, threadID string, msg *Message) error
	// ListMessages returns messages oldest first. limit <= 0 returns all.
	ListMessages(ctx context.Context, threadID string, limit int) ([]Message, error)
	// DeleteThread removes the thread and all of its messages.
	DeleteThread(ctx context.Context, threadID string) error
	Close() error
}
