package splitter

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitEmptyFile(t *testing.T) {
	s := New()

	chunks, err := s.Split(context.Background(), nil, "go", "empty.go")
	require.NoError(t, err)
	assert.Empty(t, chunks)

	chunks, err = s.Split(context.Background(), []byte("  \n\t\n"), "go", "blank.go")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSplitGoDeclarations(t *testing.T) {
	source := `package demo

import "fmt"

func Hello() {
	fmt.Println("hello")
}

func World() {
	fmt.Println("world")
}
`
	s := New()
	chunks, err := s.Split(context.Background(), []byte(source), "go", "demo.go")
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	var joined strings.Builder
	for _, c := range chunks {
		assert.GreaterOrEqual(t, c.StartLine, 1)
		assert.GreaterOrEqual(t, c.EndLine, c.StartLine)
		assert.NotEmpty(t, strings.TrimSpace(c.Content))
		assert.Equal(t, "demo.go", c.FilePath)
		assert.Equal(t, "go", c.Language)
		joined.WriteString(c.Content)
	}
	assert.Contains(t, joined.String(), "func Hello()")
	assert.Contains(t, joined.String(), "func World()")
}

func TestSplitMergesSmallSiblings(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("package demo\n\n")
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&sb, "func F%d() int { return %d }\n\n", i, i)
	}

	s := New()
	chunks, err := s.Split(context.Background(), []byte(sb.String()), "go", "small.go")
	require.NoError(t, err)

	// Ten tiny functions fit well under the size target together.
	assert.Less(t, len(chunks), 10)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c.Content), MaxChunkSize)
	}
}

func TestSplitOversizedFunctionWindowed(t *testing.T) {
	var body strings.Builder
	body.WriteString("package demo\n\nfunc Big() {\n")
	for i := 0; i < 200; i++ {
		fmt.Fprintf(&body, "\tdoSomethingVerbose(%d, \"some long argument string\")\n", i)
	}
	body.WriteString("}\n")

	s := New()
	chunks, err := s.Split(context.Background(), []byte(body.String()), "go", "big.go")
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for _, c := range chunks {
		assert.LessOrEqual(t, len(c.Content), MaxChunkSize)
		assert.GreaterOrEqual(t, c.EndLine, c.StartLine)
	}
}

func TestSplitUnknownLanguageUsesWindow(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 300; i++ {
		fmt.Fprintf(&sb, "line %d of an unparseable file format\n", i)
	}

	s := New()
	chunks, err := s.Split(context.Background(), []byte(sb.String()), "cobol", "legacy.cbl")
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	// Adjacent windows overlap and line numbers advance.
	for i := 1; i < len(chunks); i++ {
		assert.Greater(t, chunks[i].StartLine, chunks[i-1].StartLine)
		assert.LessOrEqual(t, chunks[i].StartLine, chunks[i-1].EndLine+1)
	}
}

func TestSplitNumbersChunksWithinFile(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 300; i++ {
		fmt.Fprintf(&sb, "line %d of an unparseable file format\n", i)
	}

	s := New()
	chunks, err := s.Split(context.Background(), []byte(sb.String()), "", "notes.txt")
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
	}

	// Syntax splits are numbered the same way.
	source := "package p\n\nfunc A() {}\n\nfunc B() {}\n"
	chunks, err = s.Split(context.Background(), []byte(source), "go", "p.go")
	require.NoError(t, err)
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
	}
}

func TestSplitWindowOverlap(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 100; i++ {
		fmt.Fprintf(&sb, "row-%03d %s\n", i, strings.Repeat("x", 40))
	}

	chunks := splitWindow(sb.String(), 1, "text", "notes.txt")
	require.Greater(t, len(chunks), 1)

	// The tail of each chunk reappears at the head of the next.
	for i := 1; i < len(chunks); i++ {
		firstLine := strings.SplitN(chunks[i].Content, "\n", 2)[0]
		assert.Contains(t, chunks[i-1].Content, firstLine)
	}
}

func TestSplitMixedLineEndings(t *testing.T) {
	source := "def a():\r\n    pass\r\n\r\ndef b():\n    pass\n"

	s := New()
	chunks, err := s.Split(context.Background(), []byte(source), "python", "mixed.py")
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	// \r\n counts as one logical line: the file has 5 lines.
	last := chunks[len(chunks)-1]
	assert.LessOrEqual(t, last.EndLine, 5)
}

func TestSplitSingleGiantLine(t *testing.T) {
	line := strings.Repeat("a", 3*MaxChunkSize)

	chunks := splitWindow(line, 7, "text", "one.txt")
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.Equal(t, 7, c.StartLine)
		assert.Equal(t, 7, c.EndLine)
		assert.LessOrEqual(t, len(c.Content), MaxChunkSize)
	}
}

func TestChunkIDDeterministic(t *testing.T) {
	a := Chunk{FilePath: "pkg/a.go", StartLine: 1, EndLine: 10, Content: "func A() {}"}
	b := Chunk{FilePath: "pkg/a.go", StartLine: 1, EndLine: 10, Content: "func A() {}"}
	c := Chunk{FilePath: "pkg/a.go", StartLine: 1, EndLine: 11, Content: "func A() {}"}

	assert.Equal(t, a.ID(), b.ID())
	assert.NotEqual(t, a.ID(), c.ID())
	assert.True(t, strings.HasPrefix(a.ID(), "chunk_"))
	assert.Len(t, strings.TrimPrefix(a.ID(), "chunk_"), 16)
}

func TestLanguageForExtension(t *testing.T) {
	s := New()

	assert.Equal(t, "go", s.LanguageFor(".go"))
	assert.Equal(t, "typescript", s.LanguageFor("ts"))
	assert.Equal(t, "tsx", s.LanguageFor(".tsx"))
	assert.Equal(t, "python", s.LanguageFor(".py"))
	assert.Equal(t, "", s.LanguageFor(".xyz"))
}
