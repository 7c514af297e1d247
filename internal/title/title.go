// Package title auto-generates thread titles from the first user message.
// Generation is best-effort: when the model is unavailable or slow, the
// message itself is truncated into a usable title.
package title

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/writersroom/backend/internal/assemble"
	"github.com/writersroom/backend/internal/provider"
	"github.com/writersroom/backend/internal/thread"
)

// MaxLength is the maximum length for auto-generated thread titles.
const MaxLength = 50

// generationTimeout bounds the model call. Kept short so a slow provider
// never delays the first turn noticeably.
const generationTimeout = 5 * time.Second

// inputMaxRunes limits the message length sent to the model, reducing
// latency and cost.
const inputMaxRunes = 500

// titlePrompt is the prompt template for title generation.
const titlePrompt = `Generate a concise title (max 50 characters) for a writing thread based on this first message.
The title should capture the main topic or intent.
Return ONLY the title text, no quotes, no explanations, no punctuation at the end.

Message: %s

Title:`

// Generator produces thread titles through the provider router.
type Generator struct {
	router   *provider.Router
	threads  *thread.Store
	provider string
	model    string
	logger   *slog.Logger
}

// NewGenerator creates a Generator that calls the given provider and model.
// logger may be nil.
func NewGenerator(router *provider.Router, threads *thread.Store, providerID, model string, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		router:   router,
		threads:  threads,
		provider: providerID,
		model:    model,
		logger:   logger,
	}
}

// Generate returns a title for the first user message. The model result is
// used when available; on any failure the truncated message is returned, so
// the caller always gets a usable title.
func (g *Generator) Generate(ctx context.Context, userMessage string) string {
	if title := g.generateWithModel(ctx, userMessage); title != "" {
		return title
	}
	return Truncate(userMessage)
}

// MaybeSetTitle titles a thread from its first user message if it has no
// title yet. Idempotent; errors other than a missing thread are logged and
// swallowed.
func (g *Generator) MaybeSetTitle(ctx context.Context, threadID uuid.UUID, userMessage string) {
	th, err := g.threads.Get(ctx, threadID)
	if err != nil {
		g.logger.Debug("title skipped, thread lookup failed", "thread_id", threadID, "error", err)
		return
	}
	if th.Title != "" {
		return
	}

	title := g.Generate(ctx, userMessage)
	if err := g.threads.SetTitle(ctx, threadID, title); err != nil {
		g.logger.Warn("failed to set thread title", "thread_id", threadID, "error", err)
	}
}

// generateWithModel asks the configured provider for a title. Returns empty
// string on failure so the caller falls back to truncation.
func (g *Generator) generateWithModel(ctx context.Context, userMessage string) string {
	if g.router == nil {
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, generationTimeout)
	defer cancel()

	inputRunes := []rune(userMessage)
	if len(inputRunes) > inputMaxRunes {
		userMessage = string(inputRunes[:inputMaxRunes]) + "..."
	}

	events := g.router.Stream(ctx, g.provider, g.model, provider.Request{
		Context: &assemble.PromptContext{
			UserText: fmt.Sprintf(titlePrompt, userMessage),
		},
	})

	var buf strings.Builder
	var streamErr error
	for ev := range events {
		switch ev.Kind {
		case provider.EventToken:
			buf.WriteString(ev.Token)
		case provider.EventError:
			streamErr = ev.Err
		}
	}
	if streamErr != nil {
		g.logger.Debug("title generation failed, using truncation fallback", "error", streamErr)
		return ""
	}

	title := strings.TrimSpace(buf.String())
	if title == "" {
		return ""
	}

	titleRunes := []rune(title)
	if len(titleRunes) > MaxLength {
		title = string(titleRunes[:MaxLength-3]) + "..."
	}
	return title
}

// Truncate turns a message into a title without a model call: max 50 runes,
// cut at a word boundary when possible.
func Truncate(message string) string {
	message = strings.TrimSpace(message)
	runes := []rune(message)
	if len(runes) <= MaxLength {
		return message
	}

	truncated := string(runes[:MaxLength])
	lastSpace := strings.LastIndex(truncated, " ")
	if lastSpace > MaxLength/2 {
		truncated = truncated[:lastSpace]
	}

	return strings.TrimSpace(truncated) + "..."
}
