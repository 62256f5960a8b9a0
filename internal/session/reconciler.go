package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/xid"

	"github.com/sakif/gemix-chat/internal/model"
	"github.com/sakif/gemix-chat/internal/repository"
)

// Reconciler decides which thread a session is in and whether the session
// may see it. Every method takes the session lock for its whole duration,
// so a session never observes a half-applied transition.
type Reconciler struct {
	threads  repository.ThreadRepository
	messages repository.MessageRepository
	logger   *slog.Logger
	now      func() time.Time
}

// NewReconciler creates a Reconciler over the given stores.
func NewReconciler(threads repository.ThreadRepository, messages repository.MessageRepository, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		threads:  threads,
		messages: messages,
		logger:   logger.With(slog.String("component", "session")),
		now:      time.Now,
	}
}

// Conversation is the current thread as shown to the client.
type Conversation struct {
	ThreadID string          `json:"threadId"`
	Title    string          `json:"title"`
	Guest    bool            `json:"guest"`
	Messages []model.Message `json:"messages"`
}

// NewGuest returns a fresh guest session with its own placeholder thread.
func (r *Reconciler) NewGuest() *Session {
	return newSession(xid.New().String(), newGuestThreadID(), r.now())
}

// Reconcile runs on every request before the session is used.
//
// A guest always has a guest placeholder. A signed-in user always ends up
// in a thread they own: an empty id, a leftover guest placeholder, or a
// thread that fails the ownership check is replaced by a newly created
// thread. A failed ownership check is not reported to the caller.
func (r *Reconciler) Reconcile(ctx context.Context, s *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.user == nil {
		if !IsGuestThreadID(s.threadID) {
			s.resetGuestLocked()
		}
		return nil
	}
	return r.ensureOwnedLocked(ctx, s)
}

// SignIn moves the session from guest to authenticated as user. Buffered
// guest messages are discarded, not persisted into the new thread.
func (r *Reconciler) SignIn(ctx context.Context, s *Session, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked()
	if dropped := len(s.guestMessages); dropped > 0 {
		r.logger.Debug("discarding guest messages on sign-in",
			slog.String("sessionID", s.ID),
			slog.Int("messages", dropped),
		)
	}
	s.user = user
	s.guestMessages = nil
	return r.ensureOwnedLocked(ctx, s)
}

// Logout discards all state of s and returns the guest session that
// replaces it. The caller swaps the two in the registry.
func (r *Reconciler) Logout(s *Session) *Session {
	s.mu.Lock()
	s.cancelLocked()
	s.user = nil
	s.threadID = ""
	s.titleGenerated = false
	s.guestMessages = nil
	s.mu.Unlock()

	return r.NewGuest()
}

// NewChat switches the session to an empty thread. For a user this creates
// a thread row; it stays out of History until it has a message.
func (r *Reconciler) NewChat(ctx context.Context, s *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked()
	if s.user == nil {
		s.resetGuestLocked()
		return nil
	}
	return r.provisionLocked(ctx, s)
}

// SelectThread makes threadID the current thread if the user owns it. A
// thread the user does not own silently lands them in a fresh thread
// instead.
func (r *Reconciler) SelectThread(ctx context.Context, s *Session, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if threadID == s.threadID {
		return nil
	}
	if s.user == nil {
		s.cancelLocked()
		s.resetGuestLocked()
		return nil
	}

	owned, err := r.threads.BelongsTo(ctx, threadID, s.user.ID)
	if err != nil {
		return fmt.Errorf("session: checking thread owner: %w", err)
	}
	s.cancelLocked()
	if !owned {
		r.logger.Info("thread not owned, redirecting to a new thread",
			slog.String("threadID", threadID),
			slog.Int64("userID", s.user.ID),
		)
		return r.provisionLocked(ctx, s)
	}

	s.threadID = threadID
	s.titleGenerated = true
	return nil
}

// DeleteThread deletes a thread the user owns. When it is the current
// thread, a replacement is created and installed first, so the session
// never points at a deleted thread.
//
// A guest, or a thread owned by someone else, is a no-op: the caller only
// ever sees its unchanged current thread.
func (r *Reconciler) DeleteThread(ctx context.Context, s *Session, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.user == nil {
		r.logger.Info("guest delete ignored", slog.String("threadID", threadID))
		return nil
	}
	owned, err := r.threads.BelongsTo(ctx, threadID, s.user.ID)
	if err != nil {
		return fmt.Errorf("session: checking thread owner: %w", err)
	}
	if !owned {
		r.logger.Info("thread not owned, delete ignored",
			slog.String("threadID", threadID),
			slog.Int64("userID", s.user.ID),
		)
		return nil
	}

	if threadID == s.threadID {
		s.cancelLocked()
		if err := r.provisionLocked(ctx, s); err != nil {
			return err
		}
	}
	return r.threads.Delete(ctx, threadID)
}

// History lists the user's threads that have at least one message, newest
// first. A non-empty query keeps only titles containing it, ignoring case.
// Guests have no history.
func (r *Reconciler) History(ctx context.Context, s *Session, query string) ([]model.Thread, error) {
	user := s.User()
	out := make([]model.Thread, 0)
	if user == nil {
		return out, nil
	}

	threads, err := r.threads.List(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	q := strings.ToLower(strings.TrimSpace(query))
	for _, t := range threads {
		if q != "" && !strings.Contains(strings.ToLower(t.Title), q) {
			continue
		}
		n, err := r.messages.Count(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			out = append(out, t)
		}
	}
	return out, nil
}

// Current returns the current thread with its title and messages.
func (r *Reconciler) Current(ctx context.Context, s *Session) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := Conversation{
		ThreadID: s.threadID,
		Title:    model.DefaultThreadTitle,
		Guest:    s.user == nil,
	}
	if conv.Guest {
		conv.Messages = make([]model.Message, len(s.guestMessages))
		copy(conv.Messages, s.guestMessages)
		return conv, nil
	}

	t, err := r.threads.Get(ctx, s.threadID)
	if err != nil {
		return Conversation{}, err
	}
	conv.Title = t.Title
	if conv.Messages, err = r.messages.Load(ctx, s.threadID); err != nil {
		return Conversation{}, err
	}
	return conv, nil
}

func (r *Reconciler) ensureOwnedLocked(ctx context.Context, s *Session) error {
	if s.threadID != "" && !IsGuestThreadID(s.threadID) {
		owned, err := r.threads.BelongsTo(ctx, s.threadID, s.user.ID)
		if err != nil {
			return fmt.Errorf("session: checking thread owner: %w", err)
		}
		if owned {
			return nil
		}
		r.logger.Info("current thread not owned, starting a new one",
			slog.String("threadID", s.threadID),
			slog.Int64("userID", s.user.ID),
		)
	}
	return r.provisionLocked(ctx, s)
}

// provisionLocked creates an owned thread and makes it current.
func (r *Reconciler) provisionLocked(ctx context.Context, s *Session) error {
	id := uuid.NewString()
	if err := r.threads.Create(ctx, id, s.user.ID, model.DefaultThreadTitle); err != nil {
		return fmt.Errorf("session: creating thread: %w", err)
	}
	s.threadID = id
	s.titleGenerated = false
	s.guestMessages = nil
	return nil
}

func (s *Session) resetGuestLocked() {
	s.threadID = newGuestThreadID()
	s.titleGenerated = false
	s.guestMessages = nil
}

func newGuestThreadID() string {
	return GuestThreadPrefix + uuid.NewString()
}
