package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

const maxTitleLength = 60

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger logrus.FieldLogger
}

// NewSQLiteStore opens (or creates) the database at path. Parent directories
// are created if needed.
func NewSQLiteStore(path string, logger logrus.FieldLogger) (*SQLiteStore, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("component", "store")

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	// Connection-scoped pragmas go in the DSN so every pooled connection
	// gets them.
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.WithField("path", path).Info("SQLite store initialized")
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS threads (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			title TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_threads_owner ON threads(owner_id);

		CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			thread_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TEXT NOT NULL,
			FOREIGN KEY (thread_id) REFERENCES threads(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

// EnsureThread implements Store.
func (s *SQLiteStore) EnsureThread(ctx context.Context, threadID, ownerID, title string) (*Thread, error) {
	thread, err := s.GetThread(ctx, threadID)
	switch {
	case err == nil:
		if thread.OwnerID != ownerID {
			return nil, ErrForbidden
		}
		return thread, nil
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	now := time.Now().UTC()
	thread = &Thread{
		ID:        threadID,
		OwnerID:   ownerID,
		Title:     makeTitle(title),
		CreatedAt: now,
		UpdatedAt: now,
	}
	// A concurrent creator may win the insert; re-read in that case.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO threads (id, owner_id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, thread.ID, thread.OwnerID, thread.Title, formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("inserting thread: %w", err)
	}

	stored, err := s.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if stored.OwnerID != ownerID {
		return nil, ErrForbidden
	}
	s.logger.WithFields(logrus.Fields{"threadId": threadID, "ownerId": ownerID}).Debug("Created thread")
	return stored, nil
}

// GetThread implements Store.
func (s *SQLiteStore) GetThread(ctx context.Context, threadID string) (*Thread, error) {
	var (
		thread               Thread
		createdAt, updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, title, created_at, updated_at
		FROM threads
		WHERE id = ?
	`, threadID).Scan(&thread.ID, &thread.OwnerID, &thread.Title, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying thread: %w", err)
	}

	if thread.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if thread.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &thread, nil
}

// AppendMessage implements Store. ID and CreatedAt are filled in when empty.
func (s *SQLiteStore) AppendMessage(ctx context.Context, threadID string, msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	msg.ThreadID = threadID

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, thread_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, msg.ID, threadID, msg.Role, msg.Content, formatTime(msg.CreatedAt))
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY") {
			return ErrNotFound
		}
		return fmt.Errorf("inserting message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE threads SET updated_at = ? WHERE id = ?`,
		formatTime(msg.CreatedAt), threadID); err != nil {
		return fmt.Errorf("touching thread: %w", err)
	}
	return tx.Commit()
}

// ListMessages implements Store.
func (s *SQLiteStore) ListMessages(ctx context.Context, threadID string, limit int) ([]Message, error) {
	query := `
		SELECT id, thread_id, role, content, created_at FROM (
			SELECT seq, id, thread_id, role, content, created_at
			FROM messages
			WHERE thread_id = ?
			ORDER BY seq DESC
			LIMIT ?
		) ORDER BY seq ASC
	`
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, query, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	messages := make([]Message, 0)
	for rows.Next() {
		var (
			msg       Message
			createdAt string
		)
		if err := rows.Scan(&msg.ID, &msg.ThreadID, &msg.Role, &msg.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		if msg.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// DeleteThread implements Store.
func (s *SQLiteStore) DeleteThread(ctx context.Context, threadID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("deleting messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM threads WHERE id = ?`, threadID)
	if err != nil {
		return fmt.Errorf("deleting thread: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}
	s.logger.WithField("threadId", threadID).Info("Thread deleted")
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func makeTitle(text string) string {
	title := strings.Join(strings.Fields(text), " ")
	if title == "" {
		return "New chat"
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		runes := []rune(title)
		title = string(runes[:maxTitleLength]) + "..."
	}
	return title
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

var _ Store = (*SQLiteStore)(nil)
