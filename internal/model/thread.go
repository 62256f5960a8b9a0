package model

import "time"

const (
	// DefaultThreadTitle is assigned when a thread is created without a title.
	DefaultThreadTitle = "New Chat"

	// UntitledThreadTitle is shown in listings for threads whose stored title is empty.
	UntitledThreadTitle = "New Conversation"
)

// Thread is a persisted conversation owned by exactly one user.
// The owner never changes after creation.
type Thread struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"userId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}
