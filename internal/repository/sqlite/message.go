package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sakif/gemix-chat/internal/apperror"
	"github.com/sakif/gemix-chat/internal/model"
	"github.com/sakif/gemix-chat/internal/repository"
)

var _ repository.MessageRepository = (*MessageStore)(nil)

// maxAppendAttempts bounds the retries of an append that lost an index race.
const maxAppendAttempts = 5

// MessageStore is the append-only log in thread_messages.
type MessageStore struct {
	conn *sql.DB
}

// Append adds a message at the end of the thread and returns it with its
// index filled in.
//
// The index is computed and written by one INSERT ... SELECT statement, so
// the read of MAX(idx) and the insert cannot interleave with another
// append. The (thread_id, idx) primary key is the backstop: a writer that
// still collides, or finds the database busy, retries.
func (s *MessageStore) Append(ctx context.Context, threadID string, role model.Role, content, mediaB64 string) (model.Message, error) {
	if !role.Valid() {
		return model.Message{}, apperror.ValidationFailed("role", fmt.Sprintf("invalid role %q", role))
	}

	var err error
	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		var idx int
		err = s.conn.QueryRowContext(ctx,
			`INSERT INTO thread_messages (thread_id, idx, role, content, media_b64)
			 SELECT ?, COALESCE(MAX(idx), -1) + 1, ?, ?, ?
			 FROM thread_messages WHERE thread_id = ?
			 RETURNING idx`,
			threadID, string(role), content, nullString(mediaB64), threadID,
		).Scan(&idx)
		if err == nil {
			return model.Message{
				ThreadID: threadID,
				Index:    idx,
				Role:     role,
				Content:  content,
				MediaB64: mediaB64,
			}, nil
		}
		if isConstraintViolation(err, "FOREIGN KEY") {
			return model.Message{}, apperror.NotFound("thread", threadID)
		}
		if !isConstraintViolation(err, "thread_messages") && !isBusy(err) {
			return model.Message{}, fmt.Errorf("sqlite: appending message to thread %s: %w", threadID, err)
		}
		if ctx.Err() != nil {
			return model.Message{}, ctx.Err()
		}
	}
	// Every attempt lost the index race or found the database busy.
	return model.Message{}, apperror.Conflict("thread", threadID)
}

// Load returns the thread's messages in ascending index order.
func (s *MessageStore) Load(ctx context.Context, threadID string) ([]model.Message, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT idx, role, content, media_b64
		 FROM thread_messages
		 WHERE thread_id = ?
		 ORDER BY idx`,
		threadID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: loading messages for thread %s: %w", threadID, err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0)
	for rows.Next() {
		var (
			m              model.Message
			role           string
			content, media sql.NullString
		)
		if err := rows.Scan(&m.Index, &role, &content, &media); err != nil {
			return nil, fmt.Errorf("sqlite: scanning message row: %w", err)
		}
		m.ThreadID = threadID
		m.Role = model.Role(role)
		m.Content = content.String
		m.MediaB64 = media.String
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating messages: %w", err)
	}
	return messages, nil
}

// Count returns the number of messages in the thread.
func (s *MessageStore) Count(ctx context.Context, threadID string) (int, error) {
	var n int
	if err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM thread_messages WHERE thread_id = ?`, threadID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: counting messages for thread %s: %w", threadID, err)
	}
	return n, nil
}
