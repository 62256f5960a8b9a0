package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/sakif/gemix-chat/internal/model"
)

// DefaultGeminiModel is used when no model name is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

const (
	summaryTemperature = 0.3
	summaryMaxTokens   = 15

	captionPrompt = "Describe this image in one short sentence."
)

// Gemini implements ChatBackend, Summarizer and Captioner on the Gemini API.
type Gemini struct {
	client    *genai.Client
	modelName string
	logger    *slog.Logger
}

var (
	_ ChatBackend = (*Gemini)(nil)
	_ Summarizer  = (*Gemini)(nil)
	_ Captioner   = (*Gemini)(nil)
)

// NewGemini creates a client authenticated with apiKey. The client holds a
// connection pool and must be closed.
func NewGemini(ctx context.Context, apiKey, modelName string, logger *slog.Logger) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("llm: gemini API key is empty")
	}
	if modelName == "" {
		modelName = DefaultGeminiModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("llm: creating gemini client: %w", err)
	}
	return &Gemini{
		client:    client,
		modelName: modelName,
		logger:    logger.With(slog.String("component", "gemini")),
	}, nil
}

// Close releases the underlying client.
func (g *Gemini) Close() error {
	return g.client.Close()
}

// Reply streams the model's answer and returns it once complete. A
// cancelled ctx stops the stream and returns ctx's error with no partial
// text, so callers never persist half an answer.
func (g *Gemini) Reply(ctx context.Context, history []model.Message, prompt string) (string, error) {
	cs := g.client.GenerativeModel(g.modelName).StartChat()
	cs.History = toContents(history)

	iter := cs.SendMessageStream(ctx, genai.Text(prompt))
	var (
		sb     strings.Builder
		chunks int
	)
	for {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			return "", fmt.Errorf("llm: gemini stream: %w", err)
		}
		sb.WriteString(responseText(resp))
		chunks++
	}
	g.logger.Debug("reply streamed",
		slog.Int("historyLen", len(cs.History)),
		slog.Int("chunks", chunks),
		slog.Int("chars", sb.Len()),
	)

	if sb.Len() == 0 {
		return "", errors.New("llm: gemini returned an empty reply")
	}
	return sb.String(), nil
}

// Summarize runs a single low-temperature, short completion.
func (g *Gemini) Summarize(ctx context.Context, prompt string) (string, error) {
	m := g.client.GenerativeModel(g.modelName)
	m.SetTemperature(summaryTemperature)
	m.SetMaxOutputTokens(summaryMaxTokens)

	resp, err := m.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("llm: gemini summary: %w", err)
	}
	text := responseText(resp)
	if text == "" {
		return "", errors.New("llm: gemini returned an empty summary")
	}
	return text, nil
}

// Caption asks the model for a one-sentence description of image.
// mimeType is e.g. "image/png".
func (g *Gemini) Caption(ctx context.Context, image []byte, mimeType string) (string, error) {
	format := strings.TrimPrefix(mimeType, "image/")
	if format == "" {
		format = "png"
	}

	m := g.client.GenerativeModel(g.modelName)
	resp, err := m.GenerateContent(ctx, genai.ImageData(format, image), genai.Text(captionPrompt))
	if err != nil {
		return "", fmt.Errorf("llm: gemini caption: %w", err)
	}
	text := strings.TrimSpace(responseText(resp))
	if text == "" {
		return "", errors.New("llm: gemini returned an empty caption")
	}
	return text, nil
}

// toContents maps stored messages to genai history. Gemini calls the
// assistant "model". Messages without text (image-only) are skipped.
func toContents(history []model.Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(history))
	for _, m := range history {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		role := "user"
		if m.Role == model.RoleAssistant {
			role = "model"
		}
		out = append(out, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(m.Content)},
		})
	}
	return out
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	return sb.String()
}
