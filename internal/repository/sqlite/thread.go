package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sakif/gemix-chat/internal/apperror"
	"github.com/sakif/gemix-chat/internal/model"
	"github.com/sakif/gemix-chat/internal/repository"
)

var _ repository.ThreadRepository = (*ThreadStore)(nil)

// ThreadStore persists conversation threads.
type ThreadStore struct {
	conn *sql.DB
}

// Create inserts a thread owned by userID. If threadID already exists the
// existing row keeps its owner and creation time and only its title is
// replaced, so callers may call Create unconditionally.
func (s *ThreadStore) Create(ctx context.Context, threadID string, userID int64, title string) error {
	if strings.TrimSpace(title) == "" {
		title = model.DefaultThreadTitle
	}

	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO threads (thread_id, user_id, title, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(thread_id) DO UPDATE SET title = excluded.title`,
		threadID,
		userID,
		title,
		time.Now().UTC(),
	)
	if err != nil {
		if isConstraintViolation(err, "FOREIGN KEY") {
			return apperror.NotFound("user", fmt.Sprint(userID))
		}
		return fmt.Errorf("sqlite: creating thread %s: %w", threadID, err)
	}
	return nil
}

// Get returns a single thread.
// Returns apperror.ErrNotFound if it does not exist.
func (s *ThreadStore) Get(ctx context.Context, threadID string) (*model.Thread, error) {
	var (
		t     model.Thread
		title sql.NullString
		at    sql.NullTime
	)
	err := s.conn.QueryRowContext(ctx,
		`SELECT thread_id, user_id, title, created_at FROM threads WHERE thread_id = ?`,
		threadID,
	).Scan(&t.ID, &t.UserID, &title, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("thread", threadID)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting thread %s: %w", threadID, err)
	}
	t.Title = displayTitle(title)
	t.CreatedAt = at.Time
	return &t, nil
}

// List returns every thread owned by userID, newest first. Threads created
// within the same clock tick keep insertion order (later first).
func (s *ThreadStore) List(ctx context.Context, userID int64) ([]model.Thread, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT thread_id, user_id, title, created_at
		 FROM threads
		 WHERE user_id = ?
		 ORDER BY created_at DESC, rowid DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing threads for user %d: %w", userID, err)
	}
	defer rows.Close()

	threads := make([]model.Thread, 0)
	for rows.Next() {
		var (
			t     model.Thread
			title sql.NullString
			at    sql.NullTime
		)
		if err := rows.Scan(&t.ID, &t.UserID, &title, &at); err != nil {
			return nil, fmt.Errorf("sqlite: scanning thread row: %w", err)
		}
		t.Title = displayTitle(title)
		t.CreatedAt = at.Time
		threads = append(threads, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating threads: %w", err)
	}
	return threads, nil
}

// SetTitle overwrites the title. It does not check ownership.
func (s *ThreadStore) SetTitle(ctx context.Context, threadID, title string) error {
	if _, err := s.conn.ExecContext(ctx,
		`UPDATE threads SET title = ? WHERE thread_id = ?`, title, threadID,
	); err != nil {
		return fmt.Errorf("sqlite: setting title of thread %s: %w", threadID, err)
	}
	return nil
}

// Delete removes the thread; its messages go with it through ON DELETE CASCADE.
// Deleting a thread that does not exist is not an error.
func (s *ThreadStore) Delete(ctx context.Context, threadID string) error {
	if _, err := s.conn.ExecContext(ctx,
		`DELETE FROM threads WHERE thread_id = ?`, threadID,
	); err != nil {
		return fmt.Errorf("sqlite: deleting thread %s: %w", threadID, err)
	}
	return nil
}

// BelongsTo reports whether threadID exists and is owned by userID.
func (s *ThreadStore) BelongsTo(ctx context.Context, threadID string, userID int64) (bool, error) {
	var one int
	err := s.conn.QueryRowContext(ctx,
		`SELECT 1 FROM threads WHERE thread_id = ? AND user_id = ?`,
		threadID, userID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqlite: checking owner of thread %s: %w", threadID, err)
	}
	return true, nil
}

func displayTitle(title sql.NullString) string {
	if title.String == "" {
		return model.UntitledThreadTitle
	}
	return title.String
}
