// Package llm wraps the upstream generative services: Gemini for chat,
// title summaries and image captions, and a Hugging Face inference
// endpoint for text-to-image.
package llm

import (
	"context"
	"errors"

	"github.com/sakif/gemix-chat/internal/model"
)

// ErrUnavailable is returned by every method of Unavailable.
var ErrUnavailable = errors.New("llm: service not configured")

// ChatBackend produces the assistant reply to prompt, given the earlier
// messages of the conversation in order.
type ChatBackend interface {
	Reply(ctx context.Context, history []model.Message, prompt string) (string, error)
}

// Summarizer answers a single free-form prompt. Title generation uses it.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

// Captioner describes an image in a short sentence.
type Captioner interface {
	Caption(ctx context.Context, image []byte, mimeType string) (string, error)
}

// ImageGenerator renders an image for a text prompt and returns the
// encoded image bytes.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) ([]byte, error)
}

// Unavailable stands in for any collaborator whose credentials are not
// configured. Callers degrade exactly as they would on an upstream outage.
type Unavailable struct{}

var (
	_ ChatBackend    = Unavailable{}
	_ Summarizer     = Unavailable{}
	_ Captioner      = Unavailable{}
	_ ImageGenerator = Unavailable{}
)

func (Unavailable) Reply(context.Context, []model.Message, string) (string, error) {
	return "", ErrUnavailable
}

func (Unavailable) Summarize(context.Context, string) (string, error) {
	return "", ErrUnavailable
}

func (Unavailable) Caption(context.Context, []byte, string) (string, error) {
	return "", ErrUnavailable
}

func (Unavailable) Generate(context.Context, string) ([]byte, error) {
	return nil, ErrUnavailable
}
