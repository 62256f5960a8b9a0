package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/gemix-chat/internal/apperror"
	"github.com/sakif/gemix-chat/internal/model"
	"github.com/sakif/gemix-chat/internal/session"
)

// ThreadHandler serves the thread sidebar: history, new chat, switching
// and deleting threads.
type ThreadHandler struct {
	reconciler *session.Reconciler
	logger     *slog.Logger
}

// NewThreadHandler creates a ThreadHandler.
func NewThreadHandler(reconciler *session.Reconciler, logger *slog.Logger) *ThreadHandler {
	return &ThreadHandler{
		reconciler: reconciler,
		logger:     logger.With(slog.String("component", "thread_handler")),
	}
}

// HandleList returns the user's non-empty threads, newest first,
// optionally filtered by ?q= against the title.
//
// HTTP: GET /api/threads
func (h *ThreadHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	threads, err := h.reconciler.History(r.Context(), sessionFrom(r), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Threads []model.Thread `json:"threads"`
	}{threads})
}

// HandleNew starts an empty thread and returns it.
//
// HTTP: POST /api/threads
func (h *ThreadHandler) HandleNew(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r)
	if err := h.reconciler.NewChat(r.Context(), s); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.writeCurrent(w, r, s, http.StatusCreated)
}

// HandleCurrent returns the current thread with its messages.
//
// HTTP: GET /api/threads/current
func (h *ThreadHandler) HandleCurrent(w http.ResponseWriter, r *http.Request) {
	h.writeCurrent(w, r, sessionFrom(r), http.StatusOK)
}

type selectRequest struct {
	ThreadID string `json:"threadId"`
}

// HandleSelect switches to another thread. Selecting a thread the user
// does not own lands them in a new thread instead; the response always
// describes wherever the session ended up.
//
// HTTP: PUT /api/threads/current
func (h *ThreadHandler) HandleSelect(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if req.ThreadID == "" {
		writeError(w, h.logger, apperror.ValidationFailed("threadId", "threadId is required"))
		return
	}

	s := sessionFrom(r)
	if err := h.reconciler.SelectThread(r.Context(), s, req.ThreadID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.writeCurrent(w, r, s, http.StatusOK)
}

// HandleDelete deletes one of the user's threads and returns the current
// thread, which is a new one when the deleted thread was current. A thread
// the caller does not own is left alone and the answer is the same 200
// with the unchanged current thread.
//
// HTTP: DELETE /api/threads/{id}
func (h *ThreadHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r)
	if err := h.reconciler.DeleteThread(r.Context(), s, chi.URLParam(r, "id")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.writeCurrent(w, r, s, http.StatusOK)
}

func (h *ThreadHandler) writeCurrent(w http.ResponseWriter, r *http.Request, s *session.Session, status int) {
	conv, err := h.reconciler.Current(r.Context(), s)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, status, conv)
}
