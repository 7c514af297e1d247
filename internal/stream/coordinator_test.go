package stream_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/writersroom/backend/internal/assemble"
	"github.com/writersroom/backend/internal/embedder"
	"github.com/writersroom/backend/internal/project"
	"github.com/writersroom/backend/internal/provider"
	"github.com/writersroom/backend/internal/stream"
	"github.com/writersroom/backend/internal/testutil"
	"github.com/writersroom/backend/internal/thread"
	"github.com/writersroom/backend/internal/vector"
)

// goleakOptions filters persistent goroutines owned by the container
// runtime and connection pool.
func goleakOptions() []goleak.Option {
	return []goleak.Option{
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("github.com/jackc/pgx/v5/pgxpool.(*Pool).backgroundHealthCheck"),
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	}
}

// scriptedProvider emits tokens in order, then ends per script: cleanly,
// with an error, or blocking until the context is cancelled.
type scriptedProvider struct {
	name   string
	tokens []string
	err    error
	block  bool
}

func (s *scriptedProvider) Name() string { return s.name }
func (s *scriptedProvider) Capabilities() provider.Capabilities {
	return provider.Capabilities{Streaming: true, SystemRole: true}
}

func (s *scriptedProvider) Complete(ctx context.Context, _ provider.Request, emit func(string) error) error {
	for _, tok := range s.tokens {
		if err := emit(tok); err != nil {
			return err
		}
	}
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.err
}

type fixture struct {
	threads     *thread.Store
	coordinator *stream.Coordinator
}

func setup(t *testing.T, providers ...provider.Provider) (*fixture, func()) {
	t.Helper()
	tdb, cleanup := testutil.SetupTestDB(t)

	threads := thread.NewStore(tdb.Pool, nil)
	projects := project.NewStore(tdb.Pool, nil)
	vectors := vector.New(tdb.Pool, nil)

	svc := embedder.New(testutil.NewMockEmbedder(1536), embedder.Config{
		Model: "test-model", Dimension: 1536, BatchSize: 16,
		MaxRetries: 1, InitialInterval: 1, MaxInterval: 1,
	}, nil)

	asm := assemble.New(svc, vectors, 0.72, 5, nil)
	router := provider.NewRouter(nil, providers...)
	coord := stream.New(threads, projects, asm, router, 8000, 30*time.Second, nil)

	return &fixture{threads: threads, coordinator: coord}, cleanup
}

func countRows(t *testing.T, f *fixture, th *thread.Thread) []thread.Message {
	t.Helper()
	history, err := f.threads.History(context.Background(), th.ID)
	require.NoError(t, err)
	return history
}

func TestCoordinator_CompletedPersistsTurn(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	defer goleak.VerifyNone(t, goleakOptions()...)

	f, cleanup := setup(t, &scriptedProvider{
		name: "openai", tokens: []string{"Once ", "upon ", "a ", "time."},
	})
	defer cleanup()

	ctx := context.Background()
	th, err := f.threads.Create(ctx, nil, nil)
	require.NoError(t, err)

	var streamed strings.Builder
	result, err := f.coordinator.Stream(ctx, th.ID, "tell me a story",
		stream.Options{Provider: "openai", Model: "gpt-4o"},
		func(tok string) { streamed.WriteString(tok) })
	require.NoError(t, err)

	assert.Equal(t, stream.StateCompleted, result.State)
	assert.Equal(t, "Once upon a time.", result.Content)
	// Tokens were forwarded live, not only at the end.
	assert.Equal(t, result.Content, streamed.String())

	history := countRows(t, f, th)
	require.Len(t, history, 2)
	assert.Equal(t, thread.RoleUser, history[0].Role)
	assert.Equal(t, "tell me a story", history[0].Content)
	assert.Equal(t, thread.RoleAssistant, history[1].Role)
	assert.Equal(t, "Once upon a time.", history[1].Content)
	assert.False(t, history[1].Aborted)
	require.NotNil(t, history[1].Provider)
	assert.Equal(t, "openai", *history[1].Provider)
	assert.Equal(t, "gpt-4o", *history[1].Model)
}

func TestCoordinator_CancelPersistsNothing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	defer goleak.VerifyNone(t, goleakOptions()...)

	f, cleanup := setup(t, &scriptedProvider{
		name: "openai", tokens: []string{"one ", "two ", "three "}, block: true,
	})
	defer cleanup()

	th, err := f.threads.Create(context.Background(), nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cancel after the third delivered token.
	delivered := 0
	result, err := f.coordinator.Stream(ctx, th.ID, "go on forever",
		stream.Options{Provider: "openai", Model: "gpt-4o"},
		func(string) {
			delivered++
			if delivered == 3 {
				cancel()
			}
		})
	require.NoError(t, err)

	assert.Equal(t, stream.StateCancelled, result.State)
	assert.ErrorIs(t, result.Err, provider.ErrCancelled)
	assert.Equal(t, 3, delivered)

	// Cancellation discards everything: zero rows for the turn.
	assert.Empty(t, countRows(t, f, th))
}

func TestCoordinator_TransportErrorPersistsPartial(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	defer goleak.VerifyNone(t, goleakOptions()...)

	f, cleanup := setup(t, &scriptedProvider{
		name:   "openai",
		tokens: []string{"a ", "b ", "c ", "d ", "e"},
		err:    errors.New("connection reset"),
	})
	defer cleanup()

	ctx := context.Background()
	th, err := f.threads.Create(ctx, nil, nil)
	require.NoError(t, err)

	result, err := f.coordinator.Stream(ctx, th.ID, "keep going",
		stream.Options{Provider: "openai", Model: "gpt-4o"}, nil)
	require.NoError(t, err)

	assert.Equal(t, stream.StateAborted, result.State)
	assert.ErrorIs(t, result.Err, provider.ErrTransport)
	assert.Equal(t, "a b c d e", result.Content)

	// Exactly one row carries the five partial tokens, flagged aborted.
	history := countRows(t, f, th)
	var partials []thread.Message
	for _, m := range history {
		if m.Content == "a b c d e" {
			partials = append(partials, m)
		}
	}
	require.Len(t, partials, 1)
	assert.True(t, partials[0].Aborted)
	assert.Equal(t, thread.RoleAssistant, partials[0].Role)
}

func TestCoordinator_ThreadBusy(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	defer goleak.VerifyNone(t, goleakOptions()...)

	f, cleanup := setup(t, &scriptedProvider{
		name: "openai", tokens: []string{"first "}, block: true,
	})
	defer cleanup()

	th, err := f.threads.Create(context.Background(), nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	var once sync.Once

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := f.coordinator.Stream(ctx, th.ID, "first request",
			stream.Options{Provider: "openai", Model: "gpt-4o"},
			func(string) { once.Do(func() { close(started) }) })
		assert.NoError(t, err)
	}()

	<-started

	// Exactly one stream may be active per thread; the second request is
	// rejected, never interleaved.
	_, err = f.coordinator.Stream(ctx, th.ID, "second request",
		stream.Options{Provider: "openai", Model: "gpt-4o"}, nil)
	assert.ErrorIs(t, err, stream.ErrThreadBusy)

	cancel()
	wg.Wait()

	// The guard is released once the first stream finished. The provider
	// still blocks, so cancel the third turn after its first token.
	ctx3, cancel3 := context.WithCancel(context.Background())
	defer cancel3()
	result, err := f.coordinator.Stream(ctx3, th.ID, "third request",
		stream.Options{Provider: "openai", Model: "gpt-4o"},
		func(string) { cancel3() })
	require.NoError(t, err)
	assert.NotEqual(t, stream.StateCompleted, result.State)
}

func TestCoordinator_GuardReleasedAfterCancel(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	defer goleak.VerifyNone(t, goleakOptions()...)

	f, cleanup := setup(t,
		&scriptedProvider{name: "openai", tokens: []string{"done."}},
	)
	defer cleanup()

	th, err := f.threads.Create(context.Background(), nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A turn that cancels immediately still releases the guard.
	result, err := f.coordinator.Stream(ctx, th.ID, "never mind",
		stream.Options{Provider: "openai", Model: "gpt-4o"}, nil)
	if err == nil {
		assert.Equal(t, stream.StateCancelled, result.State)
	}

	// The next turn proceeds normally.
	result, err = f.coordinator.Stream(context.Background(), th.ID, "hello again",
		stream.Options{Provider: "openai", Model: "gpt-4o"}, nil)
	require.NoError(t, err)
	assert.Equal(t, stream.StateCompleted, result.State)
}

func TestCoordinator_UnknownProviderAborts(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	defer goleak.VerifyNone(t, goleakOptions()...)

	f, cleanup := setup(t, &scriptedProvider{name: "openai", tokens: []string{"x"}})
	defer cleanup()

	ctx := context.Background()
	th, err := f.threads.Create(ctx, nil, nil)
	require.NoError(t, err)

	result, err := f.coordinator.Stream(ctx, th.ID, "hi",
		stream.Options{Provider: "anthropic", Model: "claude"}, nil)
	require.NoError(t, err)

	assert.Equal(t, stream.StateAborted, result.State)
	assert.ErrorIs(t, result.Err, provider.ErrProviderRejected)
}

func TestCoordinator_ProjectThreadUsesRetrieval(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	defer goleak.VerifyNone(t, goleakOptions()...)

	tdb, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	threads := thread.NewStore(tdb.Pool, nil)
	projects := project.NewStore(tdb.Pool, nil)
	vectors := vector.New(tdb.Pool, nil)

	mock := testutil.NewMockEmbedder(1536)
	svc := embedder.New(mock, embedder.Config{
		Model: "test-model", Dimension: 1536, BatchSize: 16,
		MaxRetries: 1, InitialInterval: 1, MaxInterval: 1,
	}, nil)

	proj, err := projects.Create(ctx, nil, "novel", "Write in past tense.")
	require.NoError(t, err)
	doc, err := projects.AddDocument(ctx, proj.ID, "lore.md", "text/markdown", "The dragon sleeps.")
	require.NoError(t, err)

	// Store a chunk whose vector matches the query exactly.
	query := "where is the dragon"
	vec, err := svc.EmbedOne(ctx, query)
	require.NoError(t, err)
	_, err = vectors.Upsert(ctx, vector.ChunkRecord{
		DocumentID: doc.ID, Index: 0, Text: "The dragon sleeps.", Start: 0, End: 18,
	}, vec, "test-model")
	require.NoError(t, err)

	asm := assemble.New(svc, vectors, 0.72, 5, nil)
	router := provider.NewRouter(nil, &scriptedProvider{name: "openai", tokens: []string{"In the mountain."}})
	coord := stream.New(threads, projects, asm, router, 8000, 30*time.Second, nil)

	th, err := threads.Create(ctx, nil, &proj.ID)
	require.NoError(t, err)

	result, err := coord.Stream(ctx, th.ID, query,
		stream.Options{Provider: "openai", Model: "gpt-4o"}, nil)
	require.NoError(t, err)

	assert.Equal(t, stream.StateCompleted, result.State)
	require.Len(t, result.Citations, 1)
	assert.Equal(t, "lore.md", result.Citations[0].Filename)
	assert.Equal(t, 0, result.Citations[0].ChunkIndex)
	assert.InDelta(t, 1.0, result.Citations[0].Similarity, 0.001)
}
