package service

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sakif/gemix-chat/internal/apperror"
	"github.com/sakif/gemix-chat/internal/llm"
	"github.com/sakif/gemix-chat/internal/model"
	"github.com/sakif/gemix-chat/internal/repository"
	"github.com/sakif/gemix-chat/internal/session"
)

// Texts stored in place of an upstream answer.
const (
	FailedReply      = "Sorry, something went wrong."
	ImageReply       = "Here's your generated image:"
	ImageFailedReply = "Sorry, I couldn't generate that image."
	ImageWarmupReply = "Model is warming up... Please wait 1-2 minutes and try again."
	CaptionFailed    = "Caption failed."
	ImageMarker      = "[Image]"
)

// MaxUploadBytes bounds a caption upload.
const MaxUploadBytes = 10 << 20

// Turn is what one chat, image or caption request added to the current
// thread.
type Turn struct {
	ThreadID string          `json:"threadId"`
	Title    string          `json:"title,omitempty"` // set when this turn named the thread
	Messages []model.Message `json:"messages"`
	Notice   string          `json:"notice,omitempty"` // set when an upstream call failed and a placeholder was stored
}

// ChatService runs conversation turns for a session.
//
// For a signed-in user each turn issues independent writes: the user
// message, the title (first turn of a thread only) and the assistant
// message. A guest's turns only touch the session's in-memory buffer.
//
// Upstream failures are logged and replaced by a placeholder reply. A
// cancelled turn (client gone, or a newer turn on the same session)
// writes no assistant message and returns the context error.
type ChatService struct {
	messages  repository.MessageRepository
	threads   repository.ThreadRepository
	titles    *TitleGenerator
	chat      llm.ChatBackend
	images    llm.ImageGenerator
	captioner llm.Captioner
	logger    *slog.Logger
}

// NewChatService wires a ChatService. Pass llm.Unavailable{} for a
// collaborator that is not configured.
func NewChatService(
	messages repository.MessageRepository,
	threads repository.ThreadRepository,
	titles *TitleGenerator,
	chat llm.ChatBackend,
	images llm.ImageGenerator,
	captioner llm.Captioner,
	logger *slog.Logger,
) *ChatService {
	return &ChatService{
		messages:  messages,
		threads:   threads,
		titles:    titles,
		chat:      chat,
		images:    images,
		captioner: captioner,
		logger:    logger.With(slog.String("component", "chat")),
	}
}

// Send adds prompt to the current thread and answers it.
func (c *ChatService) Send(ctx context.Context, s *session.Session, prompt string) (Turn, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return Turn{}, apperror.ValidationFailed("prompt", "Message cannot be empty.")
	}

	ctx, end := s.BeginTurn(ctx)
	defer end()

	turn := Turn{ThreadID: s.ThreadID()}
	guest := s.IsGuest()

	history, err := c.history(ctx, s, guest, turn.ThreadID)
	if err != nil {
		return Turn{}, err
	}

	userMsg, err := c.append(ctx, s, guest, turn.ThreadID, model.RoleUser, prompt, "")
	if err != nil {
		return Turn{}, err
	}
	turn.Messages = append(turn.Messages, userMsg)

	if !guest && !s.TitleGenerated() {
		turn.Title = c.nameThread(ctx, s, turn.ThreadID, append(history, userMsg))
	}

	reply, err := c.chat.Reply(ctx, history, prompt)
	if err != nil {
		if ctx.Err() != nil {
			return turn, ctx.Err()
		}
		c.degrade(&turn, "chat", err)
		reply = FailedReply
	}

	asst, err := c.append(ctx, s, guest, turn.ThreadID, model.RoleAssistant, reply, "")
	if err != nil {
		return turn, err
	}
	turn.Messages = append(turn.Messages, asst)
	return turn, nil
}

// GenerateImage renders prompt and stores it with the image as an
// assistant message. On failure the prompt is stored with a placeholder.
func (c *ChatService) GenerateImage(ctx context.Context, s *session.Session, prompt string) (Turn, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return Turn{}, apperror.ValidationFailed("prompt", "Describe the image to generate.")
	}

	ctx, end := s.BeginTurn(ctx)
	defer end()

	turn := Turn{ThreadID: s.ThreadID()}
	guest := s.IsGuest()

	reply, media := ImageReply, ""
	img, err := c.images.Generate(ctx, prompt)
	switch {
	case err == nil:
		media = base64.StdEncoding.EncodeToString(img)
	case ctx.Err() != nil:
		return Turn{}, ctx.Err()
	default:
		c.degrade(&turn, "image generation", err)
		reply = ImageFailedReply
		if errors.Is(err, llm.ErrModelWarmingUp) {
			reply = ImageWarmupReply
		}
	}

	return c.record(ctx, s, guest, turn, prompt, "", reply, media)
}

// Caption describes an uploaded PNG or JPEG image. The upload is stored
// as a user message "[Image]" carrying the image, followed by the caption.
func (c *ChatService) Caption(ctx context.Context, s *session.Session, image []byte) (Turn, error) {
	if len(image) == 0 {
		return Turn{}, apperror.ValidationFailed("image", "Upload an image.")
	}
	if len(image) > MaxUploadBytes {
		return Turn{}, apperror.ValidationFailed("image", "Image is too large.")
	}
	mimeType := http.DetectContentType(image)
	if mimeType != "image/png" && mimeType != "image/jpeg" {
		return Turn{}, apperror.ValidationFailed("image", "Only PNG and JPEG images are supported.")
	}

	ctx, end := s.BeginTurn(ctx)
	defer end()

	turn := Turn{ThreadID: s.ThreadID()}
	guest := s.IsGuest()

	caption, err := c.captioner.Caption(ctx, image, mimeType)
	if err != nil {
		if ctx.Err() != nil {
			return Turn{}, ctx.Err()
		}
		c.degrade(&turn, "captioning", err)
		caption = CaptionFailed
	}

	upload := base64.StdEncoding.EncodeToString(image)
	return c.record(ctx, s, guest, turn, ImageMarker, upload, caption, "")
}

// record appends a user/assistant pair to the turn's thread.
func (c *ChatService) record(ctx context.Context, s *session.Session, guest bool, turn Turn, userText, userMedia, reply, replyMedia string) (Turn, error) {
	userMsg, err := c.append(ctx, s, guest, turn.ThreadID, model.RoleUser, userText, userMedia)
	if err != nil {
		return Turn{}, err
	}
	turn.Messages = append(turn.Messages, userMsg)

	asst, err := c.append(ctx, s, guest, turn.ThreadID, model.RoleAssistant, reply, replyMedia)
	if err != nil {
		return turn, err
	}
	turn.Messages = append(turn.Messages, asst)
	return turn, nil
}

func (c *ChatService) history(ctx context.Context, s *session.Session, guest bool, threadID string) ([]model.Message, error) {
	if guest {
		return s.GuestMessages(), nil
	}
	return c.messages.Load(ctx, threadID)
}

func (c *ChatService) append(ctx context.Context, s *session.Session, guest bool, threadID string, role model.Role, content, media string) (model.Message, error) {
	// A cancelled turn writes nothing, to the buffer or the store.
	if err := ctx.Err(); err != nil {
		return model.Message{}, err
	}
	if guest {
		msg, ok := s.AppendGuest(threadID, role, content, media)
		if !ok {
			return model.Message{}, context.Canceled
		}
		return msg, nil
	}
	return c.messages.Append(ctx, threadID, role, content, media)
}

// degrade logs an upstream failure and notes it on the turn.
func (c *ChatService) degrade(turn *Turn, service string, err error) {
	upErr := apperror.Upstream(service, err)
	c.logger.Warn("upstream call failed",
		slog.String("service", service),
		slog.String("threadID", turn.ThreadID),
		slog.String("error", upErr.Err.Error()),
	)
	turn.Notice = upErr.Message
}

// nameThread generates and stores the thread title. The session flag is
// only set once the title is written, so a failed write is retried on the
// next turn. Failures never fail the turn.
func (c *ChatService) nameThread(ctx context.Context, s *session.Session, threadID string, msgs []model.Message) string {
	title := c.titles.Generate(ctx, msgs)
	if err := c.threads.SetTitle(ctx, threadID, title); err != nil {
		c.logger.Warn("setting thread title failed",
			slog.String("threadID", threadID),
			slog.String("error", err.Error()),
		)
		return ""
	}
	s.MarkTitled(threadID)
	return title
}
