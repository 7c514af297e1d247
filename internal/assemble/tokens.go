package assemble

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// The offline loader bundles the BPE files, so counting never needs
// network access at runtime.
func init() {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// TokenCounter counts prompt tokens with the cl100k_base encoding. When the
// encoding cannot be loaded it falls back to a rune-based estimate that is
// conservative for both English and CJK text.
type TokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTokenCounter creates a TokenCounter. The encoding is loaded once per
// process and shared.
func NewTokenCounter() *TokenCounter {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	return &TokenCounter{enc: encoding}
}

// Count returns the token count for text.
func (c *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	if c.enc != nil {
		return len(c.enc.Encode(text, nil, nil))
	}
	return utf8.RuneCountInString(text) / 2
}
