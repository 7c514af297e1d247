package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
)

// MockEmbedder provides deterministic embedding vectors for testing.
//
// By default it derives a normalized vector from content using SHA-256.
// Explicit mappings can be added for precise cosine similarity control.
//
// Thread-safe for concurrent use.
type MockEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	dim     int

	// Err, when set, fails every Embed call. Used to exercise best-effort
	// retrieval paths.
	Err error
}

// NewMockEmbedder creates a mock embedder producing vectors of dim width.
func NewMockEmbedder(dim int) *MockEmbedder {
	return &MockEmbedder{
		vectors: make(map[string][]float32),
		dim:     dim,
	}
}

// SetVector registers an explicit vector for a given content string.
// Use this to control exact cosine similarity between test inputs.
func (e *MockEmbedder) SetVector(content string, vec []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vectors[content] = vec
}

func (e *MockEmbedder) Name() string            { return "mock-embedder" }
func (e *MockEmbedder) Register(_ api.Registry) {}

// Embed implements ai.Embedder.
func (e *MockEmbedder) Embed(_ context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	if e.Err != nil {
		return nil, e.Err
	}
	embeddings := make([]*ai.Embedding, len(req.Input))
	for i, doc := range req.Input {
		embeddings[i] = &ai.Embedding{
			Embedding: e.vectorFor(documentText(doc)),
		}
	}
	return &ai.EmbedResponse{Embeddings: embeddings}, nil
}

func (e *MockEmbedder) vectorFor(content string) []float32 {
	e.mu.Lock()
	if v, ok := e.vectors[content]; ok {
		e.mu.Unlock()
		return v
	}
	e.mu.Unlock()

	return deterministicVector(content, e.dim)
}

func documentText(doc *ai.Document) string {
	var sb strings.Builder
	for _, p := range doc.Content {
		if p.Kind == ai.PartText {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// deterministicVector generates a normalized vector from content using
// SHA-256. The same content always produces the same vector.
func deterministicVector(content string, dim int) []float32 {
	hash := sha256.Sum256([]byte(content))
	vec := make([]float32, dim)

	for i := range vec {
		idx := (i * 4) % len(hash)
		bits := binary.LittleEndian.Uint32([]byte{
			hash[idx%32],
			hash[(idx+1)%32],
			hash[(idx+2)%32],
			hash[(idx+3)%32],
		})
		vec[i] = (float32(bits)/float32(math.MaxUint32))*2 - 1
	}

	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	norm = float32(math.Sqrt(float64(norm)))
	if norm > 0 {
		for i := range vec {
			vec[i] /= norm
		}
	}

	return vec
}

// UnitVector returns a normalized vector of the given dimension with most
// of its weight on axis and a small deterministic spread elsewhere. Vectors
// built on different axes are near-orthogonal, useful for constructing
// fixtures with known cosine similarities.
func UnitVector(dim, axis int) []float32 {
	vec := make([]float32, dim)
	vec[axis%dim] = 1
	return vec
}

// BlendVectors returns the normalized weighted sum a*wa + b*wb. Searching
// with a against the blend yields cosine similarity wa/sqrt(wa²+wb²) when a
// and b are orthogonal unit vectors, letting tests pick exact similarities.
func BlendVectors(a, b []float32, wa, wb float32) []float32 {
	out := make([]float32, len(a))
	var norm float64
	for i := range a {
		out[i] = a[i]*wa + b[i]*wb
		norm += float64(out[i]) * float64(out[i])
	}
	n := float32(math.Sqrt(norm))
	if n > 0 {
		for i := range out {
			out[i] /= n
		}
	}
	return out
}
