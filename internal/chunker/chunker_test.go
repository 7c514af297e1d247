package chunker

import (
	"errors"
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid sentence", Config{MaxChars: 1000, OverlapChars: 200, Boundary: BoundarySentence}, false},
		{"valid zero overlap", Config{MaxChars: 5, OverlapChars: 0, Boundary: BoundaryChar}, false},
		{"overlap equals max", Config{MaxChars: 100, OverlapChars: 100, Boundary: BoundarySentence}, true},
		{"overlap exceeds max", Config{MaxChars: 100, OverlapChars: 150, Boundary: BoundarySentence}, true},
		{"negative overlap", Config{MaxChars: 100, OverlapChars: -1, Boundary: BoundarySentence}, true},
		{"zero max chars", Config{MaxChars: 0, OverlapChars: 0, Boundary: BoundaryChar}, true},
		{"unknown boundary", Config{MaxChars: 100, OverlapChars: 0, Boundary: "word"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr && !errors.Is(err, ErrConfig) {
				t.Errorf("Validate() = %v, want ErrConfig", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
		})
	}
}

func TestSplit_EmptyInput(t *testing.T) {
	chunks, err := Split("", Config{MaxChars: 100, OverlapChars: 0, Boundary: BoundarySentence})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("expected zero chunks, got %d", len(chunks))
	}
}

func TestSplit_SentenceBoundaries(t *testing.T) {
	chunks, err := Split("A. B. C.", Config{MaxChars: 5, OverlapChars: 0, Boundary: BoundarySentence})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}

	want := []Chunk{
		{Index: 0, Text: "A.", Start: 0, End: 2},
		{Index: 1, Text: "B.", Start: 3, End: 5},
		{Index: 2, Text: "C.", Start: 6, End: 8},
	}
	if len(chunks) != len(want) {
		t.Fatalf("got %d chunks %v, want %d", len(chunks), chunks, len(want))
	}
	for i, w := range want {
		if chunks[i] != w {
			t.Errorf("chunk %d = %+v, want %+v", i, chunks[i], w)
		}
	}
}

func TestSplit_ParagraphBoundaries(t *testing.T) {
	text := "First paragraph.\n\nSecond paragraph.\n\nThird."
	chunks, err := Split(text, Config{MaxChars: 25, OverlapChars: 0, Boundary: BoundaryParagraph})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}

	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %v", chunks)
	}
	if chunks[0].Text != "First paragraph.\n" {
		t.Errorf("first chunk = %q", chunks[0].Text)
	}
	if chunks[1].Start != 18 {
		t.Errorf("second chunk start = %d, want 18", chunks[1].Start)
	}
}

func TestSplit_HardSplitWithoutBoundary(t *testing.T) {
	text := strings.Repeat("x", 12)
	chunks, err := Split(text, Config{MaxChars: 5, OverlapChars: 0, Boundary: BoundarySentence})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}

	want := []string{"xxxxx", "xxxxx", "xx"}
	if len(chunks) != len(want) {
		t.Fatalf("got %d chunks, want %d", len(chunks), len(want))
	}
	for i, w := range want {
		if chunks[i].Text != w {
			t.Errorf("chunk %d = %q, want %q", i, chunks[i].Text, w)
		}
	}
}

func TestSplit_CharModeReconstruction(t *testing.T) {
	text := "The quick brown fox jumps over the lazy dog and keeps going."
	cfg := Config{MaxChars: 10, OverlapChars: 3, Boundary: BoundaryChar}

	chunks, err := Split(text, cfg)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}

	// Concatenating with the overlap removed must reconstruct the input.
	var b strings.Builder
	for i, c := range chunks {
		runes := []rune(c.Text)
		if i == 0 {
			b.WriteString(c.Text)
			continue
		}
		skip := chunks[i-1].End - c.Start
		b.WriteString(string(runes[skip:]))
	}
	if b.String() != text {
		t.Errorf("reconstruction = %q, want %q", b.String(), text)
	}
}

func TestSplit_OffsetsMatchSource(t *testing.T) {
	text := "Alpha beta. Gamma delta epsilon. Zeta eta theta iota kappa."
	cfg := Config{MaxChars: 20, OverlapChars: 5, Boundary: BoundarySentence}

	chunks, err := Split(text, cfg)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	runes := []rune(text)
	for _, c := range chunks {
		if got := string(runes[c.Start:c.End]); got != c.Text {
			t.Errorf("chunk %d offsets (%d,%d) select %q, text is %q", c.Index, c.Start, c.End, got, c.Text)
		}
	}
}

func TestSplit_IndicesStrictlyIncreasing(t *testing.T) {
	text := strings.Repeat("Sentence one. Sentence two. ", 40)
	chunks, err := Split(text, Config{MaxChars: 50, OverlapChars: 10, Boundary: BoundarySentence})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}

	for i, c := range chunks {
		if c.Index != i {
			t.Fatalf("chunk %d has index %d", i, c.Index)
		}
		if c.End <= c.Start {
			t.Fatalf("chunk %d has empty span (%d,%d)", i, c.Start, c.End)
		}
		if i > 0 && c.Start <= chunks[i-1].Start {
			t.Fatalf("chunk %d start %d does not advance past %d", i, c.Start, chunks[i-1].Start)
		}
	}
}

func TestSplit_Idempotent(t *testing.T) {
	text := "One. Two. Three. Four. Five. Six. Seven. Eight. Nine. Ten."
	cfg := Config{MaxChars: 15, OverlapChars: 4, Boundary: BoundarySentence}

	first, err := Split(text, cfg)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	second, err := Split(text, cfg)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("chunk counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("chunk %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestSplit_MultibyteOffsets(t *testing.T) {
	text := "héllo wörld. ünïcode tëxt."
	chunks, err := Split(text, Config{MaxChars: 15, OverlapChars: 0, Boundary: BoundarySentence})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}

	runes := []rune(text)
	for _, c := range chunks {
		if c.End > len(runes) {
			t.Fatalf("chunk end %d exceeds rune length %d", c.End, len(runes))
		}
		if string(runes[c.Start:c.End]) != c.Text {
			t.Errorf("rune offsets (%d,%d) do not select %q", c.Start, c.End, c.Text)
		}
	}
}
