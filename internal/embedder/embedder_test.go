package embedder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
)

// fakeEmbedder implements ai.Embedder with scriptable failures.
type fakeEmbedder struct {
	mu        sync.Mutex
	dim       int
	calls     int
	failUntil int    // fail this many calls with transient errors
	failText  string // inputs containing this substring always fail
	failErr   error
}

func (f *fakeEmbedder) Name() string            { return "fake-embedder" }
func (f *fakeEmbedder) Register(_ api.Registry) {}

func (f *fakeEmbedder) Embed(_ context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	if f.calls <= f.failUntil {
		return nil, errors.New("503 service unavailable")
	}

	embeddings := make([]*ai.Embedding, len(req.Input))
	for i, doc := range req.Input {
		var text string
		for _, p := range doc.Content {
			if p.Kind == ai.PartText {
				text += p.Text
			}
		}
		if f.failText != "" && strings.Contains(text, f.failText) {
			if f.failErr != nil {
				return nil, f.failErr
			}
			return nil, errors.New("invalid input")
		}
		vec := make([]float32, f.dim)
		vec[0] = float32(len(text))
		embeddings[i] = &ai.Embedding{Embedding: vec}
	}
	return &ai.EmbedResponse{Embeddings: embeddings}, nil
}

func testConfig(dim, batchSize int) Config {
	return Config{
		Model:           "test-model",
		Dimension:       dim,
		BatchSize:       batchSize,
		MaxRetries:      2,
		InitialInterval: 1,
		MaxInterval:     1,
	}
}

func TestEmbedBatch_Success(t *testing.T) {
	fake := &fakeEmbedder{dim: 4}
	svc := New(fake, testConfig(4, 2), nil)

	texts := []string{"one", "two", "three", "four", "five"}
	results, err := svc.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}

	if len(results) != len(texts) {
		t.Fatalf("got %d results, want %d", len(results), len(texts))
	}
	for i, r := range results {
		if r.Index != i {
			t.Errorf("result %d has index %d", i, r.Index)
		}
		if r.Err != nil {
			t.Errorf("result %d failed: %v", i, r.Err)
		}
		if len(r.Vector) != 4 {
			t.Errorf("result %d has dimension %d", i, len(r.Vector))
		}
	}
	// 5 texts at batch size 2 means 3 provider calls.
	if fake.calls != 3 {
		t.Errorf("provider calls = %d, want 3", fake.calls)
	}
}

func TestEmbedBatch_PartialFailureReportedPerItem(t *testing.T) {
	fake := &fakeEmbedder{dim: 4, failText: "poison"}
	svc := New(fake, testConfig(4, 2), nil)

	texts := []string{"good one", "good two", "poison pill", "good three"}
	results, err := svc.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}

	// First sub-batch succeeds.
	for _, i := range []int{0, 1} {
		if results[i].Err != nil {
			t.Errorf("result %d failed: %v", i, results[i].Err)
		}
	}
	// Second sub-batch fails as a unit, reported on both items.
	for _, i := range []int{2, 3} {
		if !errors.Is(results[i].Err, ErrProviderFailure) {
			t.Errorf("result %d err = %v, want ErrProviderFailure", i, results[i].Err)
		}
		if results[i].Vector != nil {
			t.Errorf("result %d has vector despite failure", i)
		}
	}
}

func TestEmbedBatch_TransientErrorRetried(t *testing.T) {
	fake := &fakeEmbedder{dim: 4, failUntil: 2}
	svc := New(fake, testConfig(4, 10), nil)

	results, err := svc.EmbedBatch(context.Background(), []string{"hello"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if results[0].Err != nil {
		t.Fatalf("expected success after retries, got %v", results[0].Err)
	}
	if fake.calls != 3 {
		t.Errorf("provider calls = %d, want 3 (two failures then success)", fake.calls)
	}
}

func TestEmbedBatch_RetryBudgetExhausted(t *testing.T) {
	fake := &fakeEmbedder{dim: 4, failUntil: 100}
	svc := New(fake, testConfig(4, 10), nil)

	results, err := svc.EmbedBatch(context.Background(), []string{"hello", "world"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	for i, r := range results {
		if !errors.Is(r.Err, ErrProviderFailure) {
			t.Errorf("result %d err = %v, want ErrProviderFailure", i, r.Err)
		}
	}
	// MaxRetries=2 means 3 attempts total.
	if fake.calls != 3 {
		t.Errorf("provider calls = %d, want 3", fake.calls)
	}
}

func TestEmbedBatch_NonRetryableFailsImmediately(t *testing.T) {
	fake := &fakeEmbedder{dim: 4, failText: "bad"}
	svc := New(fake, testConfig(4, 10), nil)

	results, err := svc.EmbedBatch(context.Background(), []string{"bad input"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if !errors.Is(results[0].Err, ErrProviderFailure) {
		t.Errorf("err = %v, want ErrProviderFailure", results[0].Err)
	}
	if fake.calls != 1 {
		t.Errorf("provider calls = %d, want 1 (no retry on permanent error)", fake.calls)
	}
}

func TestEmbedBatch_RateLimitClassified(t *testing.T) {
	fake := &fakeEmbedder{dim: 4, failText: "x", failErr: errors.New("429 rate limit exceeded")}
	svc := New(fake, testConfig(4, 10), nil)

	results, err := svc.EmbedBatch(context.Background(), []string{"x"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if !errors.Is(results[0].Err, ErrRateLimited) {
		t.Errorf("err = %v, want ErrRateLimited", results[0].Err)
	}
}

func TestEmbedBatch_DimensionMismatch(t *testing.T) {
	fake := &fakeEmbedder{dim: 3}
	svc := New(fake, testConfig(1536, 10), nil)

	results, err := svc.EmbedBatch(context.Background(), []string{"hello"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if !errors.Is(results[0].Err, ErrDimension) {
		t.Errorf("err = %v, want ErrDimension", results[0].Err)
	}
}

func TestEmbedBatch_ContextCancelled(t *testing.T) {
	fake := &fakeEmbedder{dim: 4, failUntil: 100}
	svc := New(fake, testConfig(4, 10), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.EmbedBatch(ctx, []string{"hello"})
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

func TestEmbedOne(t *testing.T) {
	fake := &fakeEmbedder{dim: 4}
	svc := New(fake, testConfig(4, 10), nil)

	vec, err := svc.EmbedOne(context.Background(), "query text")
	if err != nil {
		t.Fatalf("EmbedOne: %v", err)
	}
	if len(vec) != 4 {
		t.Errorf("dimension = %d, want 4", len(vec))
	}
}

func TestRetryableError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("429 too many requests"), true},
		{errors.New("connection reset by peer"), true},
		{errors.New("503 Service Unavailable"), true},
		{errors.New("invalid api key"), false},
		{fmt.Errorf("wrapping: %w", errors.New("Quota Exceeded")), true},
	}
	for _, tt := range tests {
		if got := retryableError(tt.err); got != tt.want {
			t.Errorf("retryableError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want error
	}{
		{errors.New("429 rate limit"), ErrRateLimited},
		{context.DeadlineExceeded, ErrTimeout},
		{errors.New("request timeout"), ErrTimeout},
		{errors.New("invalid input"), ErrProviderFailure},
	}
	for _, tt := range tests {
		if got := classify(tt.err); !errors.Is(got, tt.want) {
			t.Errorf("classify(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
