package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/writersroom/backend/internal/assemble"
	"github.com/writersroom/backend/internal/thread"
)

// genkitProvider is the shared implementation behind the concrete provider
// variants. Variants differ only in name and capabilities; the capability
// set drives how the shared PromptContext maps onto wire messages.
type genkitProvider struct {
	g    *genkit.Genkit
	name string
	caps Capabilities
}

// NewGoogleAI returns the Google AI provider variant.
func NewGoogleAI(g *genkit.Genkit) Provider {
	return &genkitProvider{g: g, name: "googleai",
		caps: Capabilities{Streaming: true, SystemRole: true}}
}

// NewOpenAI returns the OpenAI provider variant.
func NewOpenAI(g *genkit.Genkit) Provider {
	return &genkitProvider{g: g, name: "openai",
		caps: Capabilities{Streaming: true, SystemRole: true}}
}

// NewOllama returns the Ollama provider variant. Locally served models do
// not reliably honor a system role, so system content folds into the first
// user turn instead.
func NewOllama(g *genkit.Genkit) Provider {
	return &genkitProvider{g: g, name: "ollama",
		caps: Capabilities{Streaming: true, SystemRole: false}}
}

func (p *genkitProvider) Name() string               { return p.name }
func (p *genkitProvider) Capabilities() Capabilities { return p.caps }

func (p *genkitProvider) Complete(ctx context.Context, req Request, emit func(token string) error) error {
	msgs := p.buildMessages(req.Context)

	opts := []ai.GenerateOption{
		ai.WithModelName(p.name + "/" + req.Model),
		ai.WithMessages(msgs...),
	}
	if req.Temperature > 0 || req.MaxTokens > 0 {
		cfg := &ai.GenerationCommonConfig{}
		if req.Temperature > 0 {
			cfg.Temperature = float64(req.Temperature)
		}
		if req.MaxTokens > 0 {
			cfg.MaxOutputTokens = req.MaxTokens
		}
		opts = append(opts, ai.WithConfig(cfg))
	}
	if p.caps.Streaming {
		opts = append(opts, ai.WithStreaming(func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
			return emit(chunk.Text())
		}))
	}

	resp, err := genkit.Generate(ctx, p.g, opts...)
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}
	// Non-streaming variants deliver the whole response as one token.
	if !p.caps.Streaming {
		return emit(resp.Text())
	}
	return nil
}

// buildMessages maps the PromptContext onto wire messages. System content
// (retrieved context, then project instructions) leads; history follows in
// order; the newest user text is always the final message.
func (p *genkitProvider) buildMessages(pc *assemble.PromptContext) []*ai.Message {
	var system string
	{
		parts := make([]string, 0, 2)
		if pc.ContextBlock != "" {
			parts = append(parts, pc.ContextBlock)
		}
		if pc.Instructions != "" {
			parts = append(parts, pc.Instructions)
		}
		system = strings.Join(parts, "\n\n")
	}

	msgs := make([]*ai.Message, 0, len(pc.History)+2)
	userText := pc.UserText

	if system != "" {
		if p.caps.SystemRole {
			msgs = append(msgs, ai.NewSystemTextMessage(system))
		} else if len(pc.History) > 0 && pc.History[0].Role == thread.RoleUser {
			msgs = append(msgs, ai.NewUserTextMessage(system+"\n\n"+pc.History[0].Content))
			pc = &assemble.PromptContext{
				History:  pc.History[1:],
				UserText: pc.UserText,
			}
		} else if len(pc.History) == 0 {
			userText = system + "\n\n" + userText
		} else {
			msgs = append(msgs, ai.NewUserTextMessage(system))
		}
	}

	for _, m := range pc.History {
		switch m.Role {
		case thread.RoleAssistant:
			msgs = append(msgs, ai.NewModelTextMessage(m.Content))
		case thread.RoleSystem:
			if p.caps.SystemRole {
				msgs = append(msgs, ai.NewSystemTextMessage(m.Content))
			} else {
				msgs = append(msgs, ai.NewUserTextMessage(m.Content))
			}
		default:
			msgs = append(msgs, ai.NewUserTextMessage(m.Content))
		}
	}

	return append(msgs, ai.NewUserTextMessage(userText))
}
