// Package assemble builds the bounded prompt for one completion turn:
// retrieved project material, project instructions, trimmed history, and
// the newest user message.
package assemble

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/writersroom/backend/internal/project"
	"github.com/writersroom/backend/internal/thread"
	"github.com/writersroom/backend/internal/vector"
)

// QueryEmbedder embeds a single query text.
type QueryEmbedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// Searcher answers project-scoped similarity queries.
type Searcher interface {
	Search(ctx context.Context, projectID uuid.UUID, queryVec []float32, threshold float64, topK int) ([]vector.ScoredChunk, error)
}

// Citation records where a retrieved context chunk came from.
type Citation struct {
	DocumentID uuid.UUID
	Filename   string
	ChunkIndex int
	Similarity float64
}

// PromptContext is the provider-neutral prompt for one turn. Ordering
// precedence, outermost first: ContextBlock, Instructions, History (oldest
// first, already trimmed to budget), then UserText. UserText is never
// trimmed and always goes last.
type PromptContext struct {
	ContextBlock string
	Instructions string
	History      []thread.Message
	UserText     string
	Citations    []Citation
}

// Assembler merges retrieval, instructions, and history into a prompt that
// fits a token budget.
type Assembler struct {
	embedder  QueryEmbedder
	search    Searcher
	counter   *TokenCounter
	threshold float64
	topK      int
	logger    *slog.Logger
}

// New creates an Assembler. logger may be nil.
func New(emb QueryEmbedder, search Searcher, threshold float64, topK int, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		embedder:  emb,
		search:    search,
		counter:   NewTokenCounter(),
		threshold: threshold,
		topK:      topK,
		logger:    logger,
	}
}

// Assemble builds the prompt for one turn. When proj is non-nil the user
// text is embedded and the project searched for relevant chunks; retrieval
// is best-effort enrichment, so an embedding or search failure degrades to
// a prompt without the context block rather than failing the turn.
func (a *Assembler) Assemble(ctx context.Context, history []thread.Message, proj *project.Project, userText string, tokenBudget int) (*PromptContext, error) {
	pc := &PromptContext{UserText: userText}

	if proj != nil {
		pc.Instructions = proj.Instructions
		pc.ContextBlock, pc.Citations = a.retrieve(ctx, proj.ID, userText)
	}

	// The fixed parts spend budget first; history gets the rest.
	used := a.counter.Count(pc.ContextBlock) +
		a.counter.Count(pc.Instructions) +
		a.counter.Count(userText)
	pc.History = a.trimHistory(history, tokenBudget-used)

	return pc, nil
}

// retrieve embeds the query and searches the project. Both failure modes
// are logged and swallowed.
func (a *Assembler) retrieve(ctx context.Context, projectID uuid.UUID, query string) (string, []Citation) {
	vec, err := a.embedder.EmbedOne(ctx, query)
	if err != nil {
		a.logger.Warn("query embedding failed, continuing without retrieval",
			"project_id", projectID, "error", err)
		return "", nil
	}

	results, err := a.search.Search(ctx, projectID, vec, a.threshold, a.topK)
	if err != nil {
		a.logger.Warn("similarity search failed, continuing without retrieval",
			"project_id", projectID, "error", err)
		return "", nil
	}
	if len(results) == 0 {
		return "", nil
	}

	var b strings.Builder
	b.WriteString("Relevant material from the project's documents:\n")
	citations := make([]Citation, 0, len(results))
	for _, r := range results {
		fmt.Fprintf(&b, "\n--- %s [chunk %d] ---\n%s\n", r.Filename, r.ChunkIndex, r.Text)
		citations = append(citations, Citation{
			DocumentID: r.DocumentID,
			Filename:   r.Filename,
			ChunkIndex: r.ChunkIndex,
			Similarity: r.Similarity,
		})
	}
	return b.String(), citations
}

// trimHistory drops the oldest messages until the rest fit the budget.
// Messages keep chronological order.
func (a *Assembler) trimHistory(history []thread.Message, budget int) []thread.Message {
	if len(history) == 0 || budget <= 0 {
		return nil
	}

	kept := make([]thread.Message, 0, len(history))
	remaining := budget
	for i := len(history) - 1; i >= 0; i-- {
		cost := a.counter.Count(history[i].Content)
		if cost > remaining {
			break
		}
		kept = append(kept, history[i])
		remaining -= cost
	}
	slices.Reverse(kept)

	if len(kept) < len(history) {
		a.logger.Debug("trimmed history to fit budget",
			"original", len(history), "kept", len(kept), "budget", budget)
	}
	return kept
}
