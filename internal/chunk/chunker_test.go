package chunk

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"main.go", "go"},
		{"app.ts", "typescript"},
		{"component.tsx", "tsx"},
		{"script.py", "python"},
		{"index.js", "javascript"},
		{"README.md", "md"},
		{"Makefile", "text"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectLanguage(tt.path))
		})
	}
}

func TestStructuralGoFunction(t *testing.T) {
	c := New(Config{Strategy: StrategyStructural})

	chunks, err := c.Split(context.Background(), &Document{
		Path:    "a.go",
		Content: []byte("package main\nfunc Hello(){}\n"),
	})
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	ck := chunks[0]
	assert.Equal(t, 2, ck.StartLine)
	assert.Equal(t, 2, ck.EndLine)
	assert.Contains(t, ck.Symbols, "Hello")
	assert.Equal(t, "go", ck.Language)
	assert.NotEmpty(t, ck.ID)
	assert.NotEmpty(t, ck.DocHash)
}

func TestStructuralMergesSmallDeclarations(t *testing.T) {
	c := New(Config{Strategy: StrategyStructural, MaxLines: 50})

	src := `package demo

func A() int { return 1 }

func B() int { return 2 }

type Pair struct {
	X int
	Y int
}
`
	chunks, err := c.Split(context.Background(), &Document{Path: "demo.go", Content: []byte(src)})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.ElementsMatch(t, []string{"A", "B", "Pair"}, chunks[0].Symbols)
}

func TestStructuralSplitsLargeGroups(t *testing.T) {
	c := New(Config{Strategy: StrategyStructural, MaxLines: 10, OverlapLines: 2})

	var sb strings.Builder
	sb.WriteString("package demo\n\n")
	for i := 0; i < 6; i++ {
		sb.WriteString("func F")
		sb.WriteByte(byte('0' + i))
		sb.WriteString("() {\n\t_ = 1\n\t_ = 2\n\t_ = 3\n}\n\n")
	}

	chunks, err := c.Split(context.Background(), &Document{Path: "big.go", Content: []byte(sb.String())})
	require.NoError(t, err)
	assert.Greater(t, len(chunks), 1)
	for _, ck := range chunks {
		assert.LessOrEqual(t, ck.EndLine-ck.StartLine+1, 10)
	}
}

func TestStableChunkIDs(t *testing.T) {
	c := New(Config{Strategy: StrategyStructural})
	doc := func() *Document {
		return &Document{Path: "a.go", Content: []byte("package main\nfunc Hello(){}\n")}
	}

	first, err := c.Split(context.Background(), doc())
	require.NoError(t, err)
	second, err := c.Split(context.Background(), doc())
	require.NoError(t, err)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, first[0].ContentHash, second[0].ContentHash)
}

func TestLineWindowsCoverAndOverlap(t *testing.T) {
	c := New(Config{Strategy: StrategyLines, MaxLines: 10, OverlapLines: 2})

	lines := make([]string, 25)
	for i := range lines {
		lines[i] = "line content"
	}
	content := strings.Join(lines, "\n")

	chunks, err := c.Split(context.Background(), &Document{Path: "notes.txt", Content: []byte(content)})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	// Full coverage: every line appears in at least one chunk.
	covered := make(map[int]bool)
	for _, ck := range chunks {
		assert.LessOrEqual(t, ck.EndLine-ck.StartLine+1, 10)
		for l := ck.StartLine; l <= ck.EndLine; l++ {
			covered[l] = true
		}
	}
	for l := 1; l <= 25; l++ {
		assert.True(t, covered[l], "line %d not covered", l)
	}

	// Consecutive windows overlap by the configured amount.
	require.Greater(t, len(chunks), 1)
	overlap := chunks[0].EndLine - chunks[1].StartLine + 1
	assert.Equal(t, 2, overlap)
}

func TestUnsupportedLanguageFallsBackToLines(t *testing.T) {
	c := New(Config{Strategy: StrategyStructural, MaxLines: 5})

	chunks, err := c.Split(context.Background(), &Document{
		Path:    "notes.md",
		Content: []byte("# Title\n\nSome prose here.\n"),
	})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Equal(t, "md", chunks[0].Language)
}

func TestEmptyDocument(t *testing.T) {
	c := New(Config{})
	chunks, err := c.Split(context.Background(), &Document{Path: "empty.go", Content: nil})
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestByteWindows(t *testing.T) {
	c := New(Config{Strategy: StrategyBytes})

	content := strings.Repeat("x", byteWindow+100)
	chunks, err := c.Split(context.Background(), &Document{Path: "blob.bin", Content: []byte(content)})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.NotEqual(t, chunks[0].ID, chunks[1].ID)

	total := 0
	for _, ck := range chunks {
		total += len(ck.Content)
	}
	assert.Equal(t, len(content), total)
}

func TestConfigNormalize(t *testing.T) {
	cfg := Config{}.Normalize()
	assert.Equal(t, StrategyStructural, cfg.Strategy)
	assert.Equal(t, DefaultMaxLines, cfg.MaxLines)

	// Overlap >= max lines resets to the default.
	cfg = Config{MaxLines: 10, OverlapLines: 10}.Normalize()
	assert.Equal(t, DefaultOverlapLines, cfg.OverlapLines)
}
