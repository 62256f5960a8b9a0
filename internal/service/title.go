package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/sakif/gemix-chat/internal/llm"
	"github.com/sakif/gemix-chat/internal/model"
)

const (
	titleMessages    = 6
	titleWords       = 6
	titleMaxRunes    = 50
	titleMinRunes    = 4
	titlePromptStart = "Return ONE title (3–6 words). Capitalize. No quotes.\nConversation:\n"
)

// TitleGenerator derives a short thread title from the opening messages.
type TitleGenerator struct {
	summarizer llm.Summarizer
	logger     *slog.Logger
}

// NewTitleGenerator creates a TitleGenerator. A nil summarizer means every
// title comes from the first user message.
func NewTitleGenerator(summarizer llm.Summarizer, logger *slog.Logger) *TitleGenerator {
	return &TitleGenerator{
		summarizer: summarizer,
		logger:     logger.With(slog.String("component", "title")),
	}
}

// Generate returns a title for a conversation. Only the first six messages
// are considered. It never fails: when the summarizer is missing, errors
// or answers with something unusable, the first user message is used, and
// when that is empty too the title is model.DefaultThreadTitle.
func (g *TitleGenerator) Generate(ctx context.Context, msgs []model.Message) string {
	if len(msgs) > titleMessages {
		msgs = msgs[:titleMessages]
	}

	if g.summarizer != nil {
		out, err := g.summarizer.Summarize(ctx, titlePrompt(msgs))
		if err == nil {
			return cleanSummary(out)
		}
		g.logger.Warn("title summarizer failed, using first message",
			slog.String("error", err.Error()),
		)
	}
	return fallbackTitle(msgs)
}

func titlePrompt(msgs []model.Message) string {
	var sb strings.Builder
	sb.WriteString(titlePromptStart)
	for _, m := range msgs {
		speaker := "You"
		if m.Role == model.RoleAssistant {
			speaker = "Assistant"
		}
		fmt.Fprintf(&sb, "%s: %s\n", speaker, m.Content)
	}
	sb.WriteString("Title:")
	return sb.String()
}

// cleanSummary strips punctuation from the model's answer, keeps six words
// and capitalizes. Three characters or fewer is not a title.
func cleanSummary(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || unicode.IsSpace(r) {
			return r
		}
		return -1
	}, strings.TrimSpace(s))

	title := capitalize(firstWords(s, titleWords))
	if utf8.RuneCountInString(title) < titleMinRunes {
		return model.DefaultThreadTitle
	}
	return title
}

// fallbackTitle builds a title from the first user message: six words,
// capitalized, cut to 50 characters plus an ellipsis.
func fallbackTitle(msgs []model.Message) string {
	var first string
	for _, m := range msgs {
		if m.Role == model.RoleUser {
			first = m.Content
			break
		}
	}

	title := capitalize(firstWords(first, titleWords))
	if utf8.RuneCountInString(title) > titleMaxRunes {
		title = string([]rune(title)[:titleMaxRunes]) + "..."
	}
	if utf8.RuneCountInString(title) < titleMinRunes {
		return model.DefaultThreadTitle
	}
	return title
}

func firstWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}

// capitalize upper-cases the first rune and lower-cases the rest.
func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}
