// Package provider abstracts multiple LLM providers behind one streaming
// completion interface. Providers form a closed set; adding one means a new
// variant plus a registration, never runtime reflection.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/writersroom/backend/internal/assemble"
)

var (
	// ErrTransport indicates the stream broke mid-flight: network failure,
	// provider-side error, or an exceeded deadline.
	ErrTransport = errors.New("stream transport error")

	// ErrProviderRejected indicates the provider refused the request, or
	// the requested provider is not registered.
	ErrProviderRejected = errors.New("provider rejected request")

	// ErrCancelled indicates the caller stopped the stream.
	ErrCancelled = errors.New("stream cancelled")
)

// EventKind discriminates TokenEvent variants.
type EventKind int

const (
	// EventToken carries one streamed token.
	EventToken EventKind = iota
	// EventDone is the terminal event of a clean stream.
	EventDone
	// EventError is the terminal event of a broken stream. It is distinct
	// from EventDone so the consumer can tell the two apart.
	EventError
)

// TokenEvent is one element of a completion stream. The stream ends with
// exactly one EventDone or EventError.
type TokenEvent struct {
	Kind  EventKind
	Token string
	Err   error
}

// Capabilities describes what a provider variant supports.
type Capabilities struct {
	Streaming  bool
	SystemRole bool
}

// Request is one completion call. Model selection is per-call; the router
// keeps no cross-message provider affinity.
type Request struct {
	Model       string
	Temperature float32
	MaxTokens   int
	Context     *assemble.PromptContext
}

// Provider is one LLM backend. Complete adapts the shared PromptContext to
// the provider's wire format, calls emit for every streamed token, and
// returns nil on clean end of stream.
type Provider interface {
	Name() string
	Capabilities() Capabilities
	Complete(ctx context.Context, req Request, emit func(token string) error) error
}

// Router dispatches completion calls to registered providers.
type Router struct {
	providers map[string]Provider
	logger    *slog.Logger
}

// NewRouter creates a Router over a fixed provider set. logger may be nil.
func NewRouter(logger *slog.Logger, providers ...Provider) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	m := make(map[string]Provider, len(providers))
	for _, p := range providers {
		m[p.Name()] = p
	}
	return &Router{providers: m, logger: logger}
}

// Providers returns the registered provider names.
func (r *Router) Providers() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// Stream starts a completion and returns its event sequence. The stream is
// cancellable through ctx; it always terminates with exactly one EventDone
// or EventError before the channel closes. The consumer must drain the
// channel until it closes. An unknown providerID yields an immediate
// terminal EventError wrapping ErrProviderRejected.
func (r *Router) Stream(ctx context.Context, providerID, modelID string, req Request) <-chan TokenEvent {
	events := make(chan TokenEvent, 32)

	p, ok := r.providers[providerID]
	if !ok {
		events <- TokenEvent{Kind: EventError,
			Err: fmt.Errorf("%w: unknown provider %q", ErrProviderRejected, providerID)}
		close(events)
		return events
	}
	req.Model = modelID

	go func() {
		defer close(events)

		emit := func(token string) error {
			select {
			case events <- TokenEvent{Kind: EventToken, Token: token}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := p.Complete(ctx, req, emit)
		if err == nil {
			events <- TokenEvent{Kind: EventDone}
			return
		}

		r.logger.Debug("completion stream ended with error",
			"provider", providerID, "model", modelID, "error", err)
		events <- TokenEvent{Kind: EventError, Err: mapStreamError(ctx, err)}
	}()

	return events
}

// mapStreamError folds provider errors into the stream error taxonomy.
func mapStreamError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: deadline exceeded: %v", ErrTransport, err)
	case errors.Is(err, ErrProviderRejected):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
}
