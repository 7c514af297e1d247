// Package stream drives one completion turn: it forwards token events to
// the caller live, accumulates them, and persists the finalized message
// transactionally according to how the stream ended.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/writersroom/backend/internal/assemble"
	"github.com/writersroom/backend/internal/project"
	"github.com/writersroom/backend/internal/provider"
	"github.com/writersroom/backend/internal/thread"
)

// ErrThreadBusy indicates another stream is active on the thread. The
// request was rejected, never interleaved; callers may retry after the
// active stream finishes.
var ErrThreadBusy = errors.New("thread busy")

// State is the lifecycle of one streamed turn.
type State int

const (
	// StatePending: context assembled, provider call issued.
	StatePending State = iota
	// StateStreaming: token events flowing.
	StateStreaming
	// StateCompleted: clean end; user and assistant messages persisted.
	StateCompleted
	// StateAborted: provider or transport error mid-stream; the partial
	// buffer is persisted with an abort marker.
	StateAborted
	// StateCancelled: caller stopped the turn; nothing is persisted.
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Options select the provider and model for one turn. Selection is
// per-call; nothing is remembered between turns.
type Options struct {
	Provider    string
	Model       string
	Temperature float32
	MaxTokens   int
}

// Result reports how a turn ended. Messages holds the rows persisted for
// the turn; it is empty for cancelled turns. Err carries the stream error
// for aborted turns.
type Result struct {
	State     State
	Content   string
	Messages  []thread.Message
	Citations []assemble.Citation
	Err       error
}

// Coordinator runs completion turns with a per-thread single-flight guard.
// Safe for concurrent use.
type Coordinator struct {
	threads   *thread.Store
	projects  *project.Store
	assembler *assemble.Assembler
	router    *provider.Router

	tokenBudget int
	timeout     time.Duration
	logger      *slog.Logger

	mu     sync.Mutex
	active map[uuid.UUID]struct{}
}

// New creates a Coordinator. logger may be nil.
func New(threads *thread.Store, projects *project.Store, asm *assemble.Assembler, router *provider.Router, tokenBudget int, timeout time.Duration, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		threads:     threads,
		projects:    projects,
		assembler:   asm,
		router:      router,
		tokenBudget: tokenBudget,
		timeout:     timeout,
		logger:      logger,
		active:      make(map[uuid.UUID]struct{}),
	}
}

// acquire takes the single-flight guard for a thread.
func (c *Coordinator) acquire(threadID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.active[threadID]; busy {
		return fmt.Errorf("thread %s: %w", threadID, ErrThreadBusy)
	}
	c.active[threadID] = struct{}{}
	return nil
}

func (c *Coordinator) release(threadID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.active, threadID)
}

// Stream runs one turn on a thread. Tokens are forwarded live through
// onToken (may be nil) and accumulated; at stream end the turn finalizes:
//
//   - clean end: the user message and the full assistant reply are
//     persisted together in one transaction
//   - transport or provider error: the partial reply is persisted with an
//     abort marker; the returned Result carries the error
//   - caller cancellation: nothing is persisted
//
// A second Stream call on the same thread while one is active fails with
// ErrThreadBusy. The guard is always released, whatever the outcome.
func (c *Coordinator) Stream(ctx context.Context, threadID uuid.UUID, userText string, opts Options, onToken func(token string)) (*Result, error) {
	if err := c.acquire(threadID); err != nil {
		return nil, err
	}
	defer c.release(threadID)

	th, err := c.threads.Get(ctx, threadID)
	if err != nil {
		return nil, err
	}

	history, err := c.threads.History(ctx, threadID)
	if err != nil {
		return nil, err
	}

	var proj *project.Project
	if th.ProjectID != nil {
		proj, err = c.projects.Get(ctx, *th.ProjectID)
		if err != nil {
			return nil, err
		}
	}

	pc, err := c.assembler.Assemble(ctx, history, proj, userText, c.tokenBudget)
	if err != nil {
		return nil, err
	}

	// Every provider call is bounded; exceeding the deadline aborts the
	// turn rather than hanging it.
	streamCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.logger.Debug("starting stream", "thread_id", threadID, "state", StatePending,
		"provider", opts.Provider, "model", opts.Model)

	events := c.router.Stream(streamCtx, opts.Provider, opts.Model, provider.Request{
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		Context:     pc,
	})

	var buf strings.Builder
	var streamErr error
	state := StateStreaming

	for ev := range events {
		switch ev.Kind {
		case provider.EventToken:
			buf.WriteString(ev.Token)
			if onToken != nil {
				onToken(ev.Token)
			}
		case provider.EventDone:
			state = StateCompleted
		case provider.EventError:
			streamErr = ev.Err
			if errors.Is(ev.Err, provider.ErrCancelled) {
				state = StateCancelled
			} else {
				state = StateAborted
			}
		}
	}

	result := &Result{
		State:     state,
		Content:   buf.String(),
		Citations: pc.Citations,
		Err:       streamErr,
	}

	switch state {
	case StateCompleted, StateAborted:
		msgs, err := c.threads.Append(ctx, threadID,
			thread.NewMessage{Role: thread.RoleUser, Content: userText},
			thread.NewMessage{
				Role:     thread.RoleAssistant,
				Content:  result.Content,
				Provider: opts.Provider,
				Model:    opts.Model,
				Aborted:  state == StateAborted,
			},
		)
		if err != nil {
			return nil, fmt.Errorf("persisting turn: %w", err)
		}
		result.Messages = msgs
	case StateCancelled:
		// Cancellation is explicit intent to discard: no rows.
	}

	c.logger.Info("stream finished", "thread_id", threadID, "state", state,
		"tokens", len(result.Content), "error", streamErr)
	return result, nil
}
