// Package repository declares the storage contracts the services depend on.
// internal/repository/sqlite provides the implementation.
package repository

import (
	"context"

	"github.com/sakif/gemix-chat/internal/model"
)

// UserRepository stores accounts. Username and email lookups are
// case-insensitive; the Get*By* methods return (nil, nil) when absent.
type UserRepository interface {
	Create(ctx context.Context, user *model.User) (int64, error)
	GetByID(ctx context.Context, id int64) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	UpdatePassword(ctx context.Context, id int64, digest string) error
	UpdateProfile(ctx context.Context, id int64, firstName, lastName string) error
}

// ThreadRepository stores conversation threads scoped to a user.
type ThreadRepository interface {
	// Create inserts the thread, or retitles it when threadID already exists.
	Create(ctx context.Context, threadID string, userID int64, title string) error
	Get(ctx context.Context, threadID string) (*model.Thread, error)
	List(ctx context.Context, userID int64) ([]model.Thread, error)
	SetTitle(ctx context.Context, threadID, title string) error
	Delete(ctx context.Context, threadID string) error
	BelongsTo(ctx context.Context, threadID string, userID int64) (bool, error)
}

// MessageRepository is the append-only message log of a thread.
type MessageRepository interface {
	Append(ctx context.Context, threadID string, role model.Role, content, mediaB64 string) (model.Message, error)
	Load(ctx context.Context, threadID string) ([]model.Message, error)
	Count(ctx context.Context, threadID string) (int, error)
}
