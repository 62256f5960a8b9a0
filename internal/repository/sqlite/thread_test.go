package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/sakif/gemix-chat/internal/apperror"
	"github.com/sakif/gemix-chat/internal/model"
)

func mustCreateThread(t *testing.T, db *DB, threadID string, userID int64, title string) {
	t.Helper()
	if err := db.Threads().Create(context.Background(), threadID, userID, title); err != nil {
		t.Fatalf("Create(%s) error = %v", threadID, err)
	}
}

func mustAppend(t *testing.T, db *DB, threadID string, role model.Role, content string) model.Message {
	t.Helper()
	msg, err := db.Messages().Append(context.Background(), threadID, role, content, "")
	if err != nil {
		t.Fatalf("Append(%s) error = %v", threadID, err)
	}
	return msg
}

func mustCount(t *testing.T, db *DB, threadID string) int {
	t.Helper()
	n, err := db.Messages().Count(context.Background(), threadID)
	if err != nil {
		t.Fatalf("Count(%s) error = %v", threadID, err)
	}
	return n
}

// =========================================================================
// CREATE TESTS
// =========================================================================

func TestThreadCreate_ThenGet(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db, "alice")

	mustCreateThread(t, db, "t-1", user.ID, "Trip plans")

	got, err := db.Threads().Get(context.Background(), "t-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ID != "t-1" {
		t.Errorf("ID = %q, want t-1", got.ID)
	}
	if got.UserID != user.ID {
		t.Errorf("UserID = %d, want %d", got.UserID, user.ID)
	}
	if got.Title != "Trip plans" {
		t.Errorf("Title = %q, want %q", got.Title, "Trip plans")
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}
}

func TestThreadCreate_EmptyTitleDefaults(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db, "alice")

	mustCreateThread(t, db, "t-1", user.ID, "  ")

	got, err := db.Threads().Get(context.Background(), "t-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Title != model.DefaultThreadTitle {
		t.Errorf("Title = %q, want %q", got.Title, model.DefaultThreadTitle)
	}
}

func TestThreadCreate_ExistingIDOnlyRetitles(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	alice := createTestUser(t, db, "alice")
	bob := createTestUser(t, db, "bob")

	mustCreateThread(t, db, "t-1", alice.ID, "X")
	first, err := db.Threads().Get(ctx, "t-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	// A second create with a different owner must not steal the thread.
	mustCreateThread(t, db, "t-1", bob.ID, "Y")

	threads, err := db.Threads().List(ctx, alice.ID)
	if err != nil {
		t.Fatalf("List(alice) error = %v", err)
	}
	if len(threads) != 1 {
		t.Fatalf("alice has %d threads, want 1", len(threads))
	}
	if threads[0].Title != "Y" {
		t.Errorf("Title = %q, want Y", threads[0].Title)
	}
	if threads[0].UserID != alice.ID {
		t.Errorf("owner changed to %d", threads[0].UserID)
	}
	if !threads[0].CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("CreatedAt changed from %v to %v", first.CreatedAt, threads[0].CreatedAt)
	}

	bobs, err := db.Threads().List(ctx, bob.ID)
	if err != nil {
		t.Fatalf("List(bob) error = %v", err)
	}
	if len(bobs) != 0 {
		t.Errorf("bob has %d threads, want 0", len(bobs))
	}
}

func TestThreadCreate_UnknownUser(t *testing.T) {
	db := newTestDB(t)

	err := db.Threads().Create(context.Background(), "t-1", 42, "X")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("Create() error = %v, want ErrNotFound", err)
	}
}

// =========================================================================
// READ TESTS
// =========================================================================

func TestThreadGet_NotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.Threads().Get(context.Background(), "missing")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestThreadList_NewestFirst(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db, "alice")

	for _, id := range []string{"a", "b", "c"} {
		mustCreateThread(t, db, id, user.ID, "thread "+id)
	}

	threads, err := db.Threads().List(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(threads) != 3 {
		t.Fatalf("got %d threads, want 3", len(threads))
	}
	for i, want := range []string{"c", "b", "a"} {
		if threads[i].ID != want {
			t.Errorf("threads[%d].ID = %q, want %q", i, threads[i].ID, want)
		}
	}
}

func TestThreadList_EmptyForNewUser(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db, "alice")

	threads, err := db.Threads().List(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	// An empty slice, not nil, so it encodes as [] rather than null.
	if threads == nil {
		t.Error("List() returned nil, want empty slice")
	}
	if len(threads) != 0 {
		t.Errorf("got %d threads, want 0", len(threads))
	}
}

func TestThreadList_NullTitleDisplaysPlaceholder(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db, "alice")
	mustCreateThread(t, db, "t-1", user.ID, "X")

	if _, err := db.conn.Exec(`UPDATE threads SET title = NULL WHERE thread_id = 't-1'`); err != nil {
		t.Fatalf("clearing title: %v", err)
	}

	threads, err := db.Threads().List(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(threads) != 1 {
		t.Fatalf("got %d threads, want 1", len(threads))
	}
	if threads[0].Title != model.UntitledThreadTitle {
		t.Errorf("Title = %q, want %q", threads[0].Title, model.UntitledThreadTitle)
	}
}

func TestThreadBelongsTo(t *testing.T) {
	db := newTestDB(t)
	alice := createTestUser(t, db, "alice")
	bob := createTestUser(t, db, "bob")
	mustCreateThread(t, db, "t-1", alice.ID, "X")

	tests := []struct {
		name     string
		threadID string
		userID   int64
		want     bool
	}{
		{"owner", "t-1", alice.ID, true},
		{"other user", "t-1", bob.ID, false},
		{"unknown thread", "t-2", alice.ID, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := db.Threads().BelongsTo(context.Background(), tt.threadID, tt.userID)
			if err != nil {
				t.Fatalf("BelongsTo() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("BelongsTo(%s, %d) = %v, want %v", tt.threadID, tt.userID, got, tt.want)
			}
		})
	}
}

// =========================================================================
// UPDATE TESTS
// =========================================================================

func TestThreadSetTitle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, "alice")
	mustCreateThread(t, db, "t-1", user.ID, "")

	if err := db.Threads().SetTitle(ctx, "t-1", "Weekend Recipes"); err != nil {
		t.Fatalf("SetTitle() error = %v", err)
	}

	got, err := db.Threads().Get(ctx, "t-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Title != "Weekend Recipes" {
		t.Errorf("Title = %q, want %q", got.Title, "Weekend Recipes")
	}
}

// =========================================================================
// DELETE TESTS
// =========================================================================

func TestThreadDelete_CascadesMessages(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, "alice")
	mustCreateThread(t, db, "t-1", user.ID, "X")

	for i := 0; i < 5; i++ {
		mustAppend(t, db, "t-1", model.RoleUser, "hello")
	}

	if err := db.Threads().Delete(ctx, "t-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if n := mustCount(t, db, "t-1"); n != 0 {
		t.Errorf("%d messages survived the delete", n)
	}
	owned, err := db.Threads().BelongsTo(ctx, "t-1", user.ID)
	if err != nil {
		t.Fatalf("BelongsTo() error = %v", err)
	}
	if owned {
		t.Error("deleted thread still belongs to its owner")
	}
}

func TestThreadDelete_MissingIsNotAnError(t *testing.T) {
	db := newTestDB(t)

	if err := db.Threads().Delete(context.Background(), "never-existed"); err != nil {
		t.Errorf("Delete() error = %v, want nil", err)
	}
}

func TestThreadDeleteUser_CascadesThreads(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db, "alice")
	mustCreateThread(t, db, "t-1", user.ID, "X")
	mustAppend(t, db, "t-1", model.RoleUser, "hi")

	if _, err := db.conn.Exec(`DELETE FROM users WHERE id = ?`, user.ID); err != nil {
		t.Fatalf("deleting user: %v", err)
	}

	if _, err := db.Threads().Get(context.Background(), "t-1"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
	if n := mustCount(t, db, "t-1"); n != 0 {
		t.Errorf("%d messages survived the user delete", n)
	}
}
