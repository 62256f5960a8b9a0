package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/gemix-chat/internal/auth"
	"github.com/sakif/gemix-chat/internal/handler"
	"github.com/sakif/gemix-chat/internal/llm"
	"github.com/sakif/gemix-chat/internal/model"
	"github.com/sakif/gemix-chat/internal/repository/sqlite"
	"github.com/sakif/gemix-chat/internal/service"
	"github.com/sakif/gemix-chat/internal/session"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

// echoChat answers every prompt with "echo: <prompt>".
type echoChat struct{}

func (echoChat) Reply(_ context.Context, _ []model.Message, prompt string) (string, error) {
	return "echo: " + prompt, nil
}

type fixedCaption struct{}

func (fixedCaption) Caption(context.Context, []byte, string) (string, error) {
	return "A single pixel.", nil
}

// =========================================================================
// TEST ENVIRONMENT
// =========================================================================

type testEnv struct {
	server *httptest.Server
	db     *sqlite.DB
}

// client is a browser: it keeps its own cookie jar.
type client struct {
	t    *testing.T
	base string
	http *http.Client
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := sqlite.New(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tokens, err := auth.NewTokenService("handler-test-secret-0123456789", 0)
	require.NoError(t, err)

	reconciler := session.NewReconciler(db.Threads(), db.Messages(), logger)
	accounts := service.NewAuthService(db.Users(), auth.NewPasswordServiceForTest(4), logger)
	titles := service.NewTitleGenerator(nil, logger)
	chat := service.NewChatService(db.Messages(), db.Threads(), titles, echoChat{}, llm.Unavailable{}, fixedCaption{}, logger)

	sessions := handler.NewSessionManager(session.NewRegistry(), reconciler, tokens, logger)
	authH := handler.NewAuthHandler(accounts, reconciler, sessions, logger)
	threadH := handler.NewThreadHandler(reconciler, logger)
	chatH := handler.NewChatHandler(chat, logger)

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Use(auth.SessionCookie(tokens))
		r.Use(sessions.Middleware)
		r.Post("/auth/signup", authH.HandleSignUp)
		r.Post("/auth/signin", authH.HandleSignIn)
		r.Post("/auth/logout", authH.HandleLogout)
		r.Get("/me", authH.HandleMe)
		r.Put("/me/profile", authH.HandleUpdateProfile)
		r.Put("/me/password", authH.HandleChangePassword)
		r.Get("/threads", threadH.HandleList)
		r.Post("/threads", threadH.HandleNew)
		r.Get("/threads/current", threadH.HandleCurrent)
		r.Put("/threads/current", threadH.HandleSelect)
		r.Delete("/threads/{id}", threadH.HandleDelete)
		r.Post("/chat", chatH.HandleSend)
		r.Post("/images", chatH.HandleGenerateImage)
		r.Post("/captions", chatH.HandleCaption)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testEnv{server: srv, db: db}
}

func (e *testEnv) newClient(t *testing.T) *client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &client{t: t, base: e.server.URL, http: &http.Client{Jar: jar}}
}

func (c *client) do(method, path string, body any) *http.Response {
	c.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(c.t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.base+path, rd)
	require.NoError(c.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	require.NoError(c.t, err)
	c.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (c *client) current() session.Conversation {
	c.t.Helper()
	resp := c.do(http.MethodGet, "/api/threads/current", nil)
	require.Equal(c.t, http.StatusOK, resp.StatusCode)
	return decode[session.Conversation](c.t, resp)
}

func (c *client) signUp(username string) handler.AccountResponse {
	c.t.Helper()
	resp := c.do(http.MethodPost, "/api/auth/signup", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "password123",
	})
	require.Equal(c.t, http.StatusCreated, resp.StatusCode)
	return decode[handler.AccountResponse](c.t, resp)
}

func (c *client) say(prompt string) service.Turn {
	c.t.Helper()
	resp := c.do(http.MethodPost, "/api/chat", map[string]string{"prompt": prompt})
	require.Equal(c.t, http.StatusOK, resp.StatusCode)
	return decode[service.Turn](c.t, resp)
}

// =========================================================================
// SESSIONS
// =========================================================================

func TestSession_GuestCookieIssuedAndReused(t *testing.T) {
	env := newTestEnv(t)
	c := env.newClient(t)

	resp := c.do(http.MethodGet, "/api/me", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var cookie *http.Cookie
	for _, ck := range resp.Cookies() {
		if ck.Name == auth.CookieName {
			cookie = ck
		}
	}
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)

	me := decode[handler.AccountResponse](t, resp)
	assert.True(t, me.Guest)
	assert.Nil(t, me.User)
	assert.True(t, session.IsGuestThreadID(me.ThreadID))

	assert.Equal(t, me.ThreadID, c.current().ThreadID)
}

func TestSession_ForgedCookieStartsNewGuest(t *testing.T) {
	env := newTestEnv(t)

	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/api/me", nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: "not-a-token"})

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[handler.AccountResponse](t, resp).Guest)
}

// =========================================================================
// AUTH
// =========================================================================

func TestSignUp_PersistsConversation(t *testing.T) {
	env := newTestEnv(t)
	c := env.newClient(t)

	acct := c.signUp("alice")
	require.NotNil(t, acct.User)
	assert.Equal(t, "alice", acct.User.Username)
	assert.False(t, acct.Guest)
	assert.False(t, session.IsGuestThreadID(acct.ThreadID))

	turn := c.say("plan a trip to the mountains")
	assert.Equal(t, acct.ThreadID, turn.ThreadID)
	assert.Equal(t, "Plan a trip to the mountains", turn.Title)
	require.Len(t, turn.Messages, 2)
	assert.Equal(t, "echo: plan a trip to the mountains", turn.Messages[1].Content)

	resp := c.do(http.MethodGet, "/api/threads", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[struct {
		Threads []model.Thread `json:"threads"`
	}](t, resp)
	require.Len(t, list.Threads, 1)
	assert.Equal(t, turn.Title, list.Threads[0].Title)

	stored, err := env.db.Messages().Load(context.Background(), acct.ThreadID)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestSignUp_Errors(t *testing.T) {
	env := newTestEnv(t)
	env.newClient(t).signUp("taken")

	tests := []struct {
		name       string
		body       map[string]string
		wantStatus int
		wantError  string
		wantField  string
	}{
		{
			"duplicate username",
			map[string]string{"username": "TAKEN", "email": "x@example.com", "password": "password123"},
			http.StatusConflict, "duplicate_username", "username",
		},
		{
			"duplicate email",
			map[string]string{"username": "other", "email": "taken@example.com", "password": "password123"},
			http.StatusConflict, "duplicate_email", "email",
		},
		{
			"bad email",
			map[string]string{"username": "bob", "email": "bob", "password": "password123"},
			http.StatusBadRequest, "validation_error", "email",
		},
		{
			"short password",
			map[string]string{"username": "bob", "email": "bob@example.com", "password": "short"},
			http.StatusBadRequest, "validation_error", "password",
		},
		{
			"unknown field",
			map[string]string{"user": "bob"},
			http.StatusBadRequest, "validation_error", "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.newClient(t).do(http.MethodPost, "/api/auth/signup", tt.body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			body := decode[handler.ErrorResponse](t, resp)
			assert.Equal(t, tt.wantError, body.Error)
			assert.Equal(t, tt.wantField, body.Field)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestSignIn_WrongPassword(t *testing.T) {
	env := newTestEnv(t)
	env.newClient(t).signUp("carol")

	c := env.newClient(t)
	resp := c.do(http.MethodPost, "/api/auth/signin", map[string]string{
		"identifier": "carol", "password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid_credentials", decode[handler.ErrorResponse](t, resp).Error)
}

func TestSignIn_DiscardsGuestMessages(t *testing.T) {
	env := newTestEnv(t)
	env.newClient(t).signUp("dan")

	c := env.newClient(t)
	c.say("hello as a guest")
	require.Len(t, c.current().Messages, 2)

	resp := c.do(http.MethodPost, "/api/auth/signin", map[string]string{
		"identifier": "dan@example.com", "password": "password123",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	conv := c.current()
	assert.False(t, conv.Guest)
	assert.Empty(t, conv.Messages)
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	c := env.newClient(t)
	acct := c.signUp("erin")
	c.say("remember this")

	resp := c.do(http.MethodPost, "/api/auth/logout", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[handler.AccountResponse](t, resp)
	assert.True(t, out.Guest)

	conv := c.current()
	assert.True(t, conv.Guest)
	assert.NotEqual(t, acct.ThreadID, conv.ThreadID)
	assert.Empty(t, conv.Messages)

	resp = c.do(http.MethodGet, "/api/threads", nil)
	assert.Empty(t, decode[struct {
		Threads []model.Thread `json:"threads"`
	}](t, resp).Threads)
}

func TestProfileAndPassword(t *testing.T) {
	env := newTestEnv(t)
	c := env.newClient(t)
	c.signUp("frank")

	resp := c.do(http.MethodPut, "/api/me/profile", map[string]string{"firstName": "Frank", "lastName": "Lee"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Frank", decode[handler.AccountResponse](t, resp).User.FirstName)

	resp = c.do(http.MethodGet, "/api/me", nil)
	assert.Equal(t, "Lee", decode[handler.AccountResponse](t, resp).User.LastName)

	resp = c.do(http.MethodPut, "/api/me/password", map[string]string{
		"currentPassword": "password123", "newPassword": "password456", "confirmPassword": "password456",
	})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = c.do(http.MethodPut, "/api/me/password", map[string]string{
		"currentPassword": "password123", "newPassword": "password789", "confirmPassword": "password789",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "currentPassword", decode[handler.ErrorResponse](t, resp).Field)
}

func TestMe_DisplayName(t *testing.T) {
	env := newTestEnv(t)
	c := env.newClient(t)

	guest := decode[handler.AccountResponse](t, c.do(http.MethodGet, "/api/me", nil))
	assert.True(t, guest.Guest)
	assert.Empty(t, guest.DisplayName)

	assert.Equal(t, "kate", c.signUp("kate").DisplayName)

	resp := c.do(http.MethodPut, "/api/me/profile", map[string]string{"firstName": "Kate", "lastName": "Moss"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Kate", decode[handler.AccountResponse](t, resp).DisplayName)
}

func TestMe_RereadsProfileChangedElsewhere(t *testing.T) {
	env := newTestEnv(t)
	c := env.newClient(t)
	me := c.signUp("liam")

	// Another session, or an admin, renames the user.
	require.NoError(t, env.db.Users().UpdateProfile(context.Background(), me.User.ID, "Liam", "Neeson"))

	resp := c.do(http.MethodGet, "/api/me", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[handler.AccountResponse](t, resp)
	assert.Equal(t, "Neeson", got.User.LastName)
	assert.Equal(t, "Liam", got.DisplayName)
}

func TestProfile_GuestForbidden(t *testing.T) {
	env := newTestEnv(t)
	c := env.newClient(t)

	resp := c.do(http.MethodPut, "/api/me/profile", map[string]string{"firstName": "Ghost"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

// =========================================================================
// THREADS
// =========================================================================

func TestThreads_NewChatAndSelect(t *testing.T) {
	env := newTestEnv(t)
	c := env.newClient(t)
	first := c.signUp("gina").ThreadID
	c.say("first thread message")

	resp := c.do(http.MethodPost, "/api/threads", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	second := decode[session.Conversation](t, resp)
	assert.NotEqual(t, first, second.ThreadID)
	assert.Empty(t, second.Messages)

	resp = c.do(http.MethodPut, "/api/threads/current", map[string]string{"threadId": first})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	conv := decode[session.Conversation](t, resp)
	assert.Equal(t, first, conv.ThreadID)
	assert.Len(t, conv.Messages, 2)

	// Empty threads stay out of history.
	resp = c.do(http.MethodGet, "/api/threads?q=FIRST", nil)
	list := decode[struct {
		Threads []model.Thread `json:"threads"`
	}](t, resp)
	require.Len(t, list.Threads, 1)
	assert.Equal(t, first, list.Threads[0].ID)
}

func TestThreads_ForeignThread(t *testing.T) {
	env := newTestEnv(t)
	owner := env.newClient(t)
	theirs := owner.signUp("hank").ThreadID
	owner.say("private message")

	other := env.newClient(t)
	mine := other.signUp("ivy").ThreadID

	resp := other.do(http.MethodPut, "/api/threads/current", map[string]string{"threadId": theirs})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	conv := decode[session.Conversation](t, resp)
	assert.NotEqual(t, theirs, conv.ThreadID)
	assert.NotEqual(t, mine, conv.ThreadID)
	assert.Empty(t, conv.Messages)

	// Deleting it answers with the caller's own, unchanged conversation.
	resp = other.do(http.MethodDelete, "/api/threads/"+theirs, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, conv.ThreadID, decode[session.Conversation](t, resp).ThreadID)
	assert.Len(t, owner.current().Messages, 2)
}

func TestThreads_GuestDeleteKeepsConversation(t *testing.T) {
	env := newTestEnv(t)
	c := env.newClient(t)
	c.say("hello")
	before := c.current()

	resp := c.do(http.MethodDelete, "/api/threads/"+before.ThreadID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	conv := decode[session.Conversation](t, resp)
	assert.Equal(t, before.ThreadID, conv.ThreadID)
	assert.Len(t, conv.Messages, 2)
}

func TestThreads_GuestReselectKeepsConversation(t *testing.T) {
	env := newTestEnv(t)
	c := env.newClient(t)
	c.say("hello")
	before := c.current()

	resp := c.do(http.MethodPut, "/api/threads/current", map[string]string{"threadId": before.ThreadID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	conv := decode[session.Conversation](t, resp)
	assert.Equal(t, before.ThreadID, conv.ThreadID)
	assert.Len(t, conv.Messages, 2)
}

func TestThreads_DeleteCurrent(t *testing.T) {
	env := newTestEnv(t)
	c := env.newClient(t)
	id := c.signUp("jack").ThreadID
	c.say("soon gone")

	resp := c.do(http.MethodDelete, "/api/threads/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	conv := decode[session.Conversation](t, resp)
	assert.NotEqual(t, id, conv.ThreadID)
	assert.Empty(t, conv.Messages)

	_, err := env.db.Threads().Get(context.Background(), id)
	assert.Error(t, err)
}

// =========================================================================
// TURNS
// =========================================================================

func TestChat_EmptyPrompt(t *testing.T) {
	env := newTestEnv(t)
	resp := env.newClient(t).do(http.MethodPost, "/api/chat", map[string]string{"prompt": "  "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestImages_Unconfigured(t *testing.T) {
	env := newTestEnv(t)
	resp := env.newClient(t).do(http.MethodPost, "/api/images", map[string]string{"prompt": "a lighthouse"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	turn := decode[service.Turn](t, resp)
	require.Len(t, turn.Messages, 2)
	assert.Equal(t, service.ImageFailedReply, turn.Messages[1].Content)
	assert.NotEmpty(t, turn.Notice)
}

func TestCaptions_Upload(t *testing.T) {
	env := newTestEnv(t)
	c := env.newClient(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", "pixel.png")
	require.NoError(t, err)
	part.Write(pngBytes)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, c.base+"/api/captions", &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := c.http.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	turn := decode[service.Turn](t, resp)
	require.Len(t, turn.Messages, 2)
	assert.Equal(t, service.ImageMarker, turn.Messages[0].Content)
	assert.NotEmpty(t, turn.Messages[0].MediaB64)
	assert.Equal(t, "A single pixel.", turn.Messages[1].Content)
}

func TestCaptions_MissingFile(t *testing.T) {
	env := newTestEnv(t)
	c := env.newClient(t)

	req, err := http.NewRequest(http.MethodPost, c.base+"/api/captions", strings.NewReader("nothing"))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "text/plain")
	resp, err := c.http.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "image", decode[handler.ErrorResponse](t, resp).Field)
}
