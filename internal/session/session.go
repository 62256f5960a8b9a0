// Package session tracks who is talking and which thread they are in.
//
// A Session is server-side state keyed by an opaque id that the client
// holds in a signed cookie. It is either a guest session (no user, messages
// buffered in memory and never persisted) or an authenticated one (a user
// and a current thread id that the Reconciler keeps pointing at a thread
// the user owns).
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sakif/gemix-chat/internal/model"
)

// GuestThreadPrefix marks a placeholder thread id that has no row in the
// thread store.
const GuestThreadPrefix = "guest_"

// IsGuestThreadID reports whether id is a guest placeholder.
func IsGuestThreadID(id string) bool {
	return strings.HasPrefix(id, GuestThreadPrefix)
}

// Session is one browser's conversation state. All fields are guarded by
// mu; callers outside this package use the accessor methods.
type Session struct {
	ID string

	mu             sync.Mutex
	user           *model.User
	threadID       string
	titleGenerated bool
	guestMessages  []model.Message
	lastSeen       time.Time

	// turnMu serializes chat turns. cancelTurn aborts the turn in flight
	// when a newer one starts; turnSeq tells the two apart.
	turnMu     sync.Mutex
	cancelTurn context.CancelFunc
	turnSeq    uint64
}

func newSession(id, threadID string, now time.Time) *Session {
	return &Session{ID: id, threadID: threadID, lastSeen: now}
}

// IsGuest reports whether no user is signed in.
func (s *Session) IsGuest() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user == nil
}

// User returns the signed-in user, or nil for a guest.
func (s *Session) User() *model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// SetUser replaces the stored user record, e.g. after a profile edit. It
// does not change the session's identity state.
func (s *Session) SetUser(u *model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user != nil && u != nil && s.user.ID == u.ID {
		s.user = u
	}
}

// ThreadID returns the current thread id.
func (s *Session) ThreadID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadID
}

// TitleGenerated reports whether the current thread already has its
// generated title.
func (s *Session) TitleGenerated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.titleGenerated
}

// MarkTitled sets the title flag, but only while threadID is still the
// current thread. It returns false when the session moved on meanwhile.
func (s *Session) MarkTitled(threadID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.threadID != threadID {
		return false
	}
	s.titleGenerated = true
	return true
}

// AppendGuest adds a message to the in-memory guest buffer of threadID
// and returns it with its index set. When the session has moved to another
// thread since the turn began (new chat, sign-in, logout), nothing is
// written and ok is false.
func (s *Session) AppendGuest(threadID string, role model.Role, content, mediaB64 string) (msg model.Message, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user != nil || s.threadID != threadID {
		return model.Message{}, false
	}
	m := model.Message{
		ThreadID: s.threadID,
		Index:    len(s.guestMessages),
		Role:     role,
		Content:  content,
		MediaB64: mediaB64,
	}
	s.guestMessages = append(s.guestMessages, m)
	return m, true
}

// GuestMessages returns a copy of the guest buffer.
func (s *Session) GuestMessages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Message, len(s.guestMessages))
	copy(out, s.guestMessages)
	return out
}

// LastSeen returns the time of the last request that used the session.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

// BeginTurn starts a chat turn. Any turn still running on this session is
// cancelled, and BeginTurn blocks until it has returned, so turns never
// interleave. The returned context is cancelled when ctx is, or when a
// later turn starts. end must be called when the turn is over.
func (s *Session) BeginTurn(ctx context.Context) (turnCtx context.Context, end func()) {
	turnCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.cancelTurn != nil {
		s.cancelTurn()
	}
	s.turnSeq++
	seq := s.turnSeq
	s.cancelTurn = cancel
	s.mu.Unlock()

	s.turnMu.Lock()
	return turnCtx, func() {
		s.turnMu.Unlock()
		s.mu.Lock()
		if s.turnSeq == seq {
			s.cancelTurn = nil
		}
		s.mu.Unlock()
		cancel()
	}
}

// CancelTurn aborts the turn in flight, if any. Navigation away from the
// current thread calls it.
func (s *Session) CancelTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
}

func (s *Session) cancelLocked() {
	if s.cancelTurn != nil {
		s.cancelTurn()
		s.cancelTurn = nil
	}
}
