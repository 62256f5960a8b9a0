package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/sakif/gemix-chat/internal/apperror"
	"github.com/sakif/gemix-chat/internal/service"
)

// uploadField is the multipart field carrying the image to caption.
const uploadField = "image"

// ChatHandler runs conversation turns: text chat, image generation and
// image captioning. Each responds with the messages the turn added.
type ChatHandler struct {
	chat   *service.ChatService
	logger *slog.Logger
}

// NewChatHandler creates a ChatHandler.
func NewChatHandler(chat *service.ChatService, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{
		chat:   chat,
		logger: logger.With(slog.String("component", "chat_handler")),
	}
}

type promptRequest struct {
	Prompt string `json:"prompt"`
}

// HandleSend answers a chat message.
//
// HTTP: POST /api/chat
func (h *ChatHandler) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	turn, err := h.chat.Send(r.Context(), sessionFrom(r), req.Prompt)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, turn)
}

// HandleGenerateImage renders an image for the prompt.
//
// HTTP: POST /api/images
func (h *ChatHandler) HandleGenerateImage(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	turn, err := h.chat.GenerateImage(r.Context(), sessionFrom(r), req.Prompt)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, turn)
}

// HandleCaption describes an uploaded PNG or JPEG.
//
// HTTP: POST /api/captions (multipart/form-data, field "image")
func (h *ChatHandler) HandleCaption(w http.ResponseWriter, r *http.Request) {
	image, err := readUpload(w, r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	turn, err := h.chat.Caption(r.Context(), sessionFrom(r), image)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, turn)
}

func readUpload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	// Room for the multipart envelope around the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, service.MaxUploadBytes+maxJSONBody)

	file, _, err := r.FormFile(uploadField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apperror.ValidationFailed(uploadField, "Image is too large.")
		}
		return nil, apperror.ValidationFailed(uploadField, "Upload an image in the \"image\" field.")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, service.MaxUploadBytes+1))
	if err != nil {
		return nil, apperror.ValidationFailed(uploadField, "Could not read the uploaded image.")
	}
	return data, nil
}
