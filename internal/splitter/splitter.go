// Package splitter converts file contents into chunks. It prefers a
// syntax-aware strategy along top-level declarations when a tree-sitter
// grammar is available and falls back to a character-window strategy
// otherwise.
package splitter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	cerr "github.com/probeshift/codectx/internal/errors"
)

const (
	// MaxChunkSize is the target upper bound on chunk content bytes.
	MaxChunkSize = 2500
	// ChunkOverlap is the approximate byte overlap between adjacent
	// window chunks.
	ChunkOverlap = 300
)

// Chunk is a contiguous span of a file.
type Chunk struct {
	// FilePath is relative to the codebase root, with / separators.
	FilePath  string
	StartLine int
	EndLine   int
	Content   string
	Language  string
	// Index is the chunk's zero-based position within its file.
	Index int
}

// ID returns the deterministic chunk document id: "chunk_" plus a 16-hex
// prefix of SHA-256 over (relative path, start line, end line, content).
// Identical spans produce identical ids, so reinserts are idempotent.
func (c Chunk) ID() string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%d\x00%d\x00%s", c.FilePath, c.StartLine, c.EndLine, c.Content)))
	return "chunk_" + hex.EncodeToString(h[:])[:16]
}

// Splitter splits file contents into chunks.
type Splitter struct {
	registry *LanguageRegistry
}

// New creates a Splitter with the default language registry.
func New() *Splitter {
	return &Splitter{registry: DefaultRegistry()}
}

// NewWithRegistry creates a Splitter with a custom registry.
func NewWithRegistry(registry *LanguageRegistry) *Splitter {
	return &Splitter{registry: registry}
}

// LanguageFor maps a file extension to a known language tag, or "".
func (s *Splitter) LanguageFor(ext string) string {
	return s.registry.LanguageForExtension(ext)
}

// Split converts content into chunks. Empty files yield zero chunks.
// Every returned chunk has StartLine >= 1, EndLine >= StartLine, and
// non-empty content.
func (s *Splitter) Split(ctx context.Context, content []byte, language, filePath string) ([]Chunk, error) {
	if len(strings.TrimSpace(string(content))) == 0 {
		return nil, nil
	}

	if _, ok := s.registry.Grammar(language); ok {
		chunks, err := s.splitSyntax(ctx, content, language, filePath)
		if err == nil {
			return numberChunks(chunks), nil
		}
		slog.Debug("syntax split failed, using window fallback",
			slog.String("file", filePath),
			slog.String("language", language),
			slog.String("error", err.Error()))
	}

	return numberChunks(splitWindow(string(content), 1, language, filePath)), nil
}

// numberChunks assigns each chunk its position within the file.
func numberChunks(chunks []Chunk) []Chunk {
	for i := range chunks {
		chunks[i].Index = i
	}
	return chunks
}

// splitSyntax emits chunks along top-level declaration boundaries,
// concatenating small siblings to approach the size target without
// exceeding it. Oversized declarations are window-split in place.
func (s *Splitter) splitSyntax(ctx context.Context, source []byte, language, filePath string) ([]Chunk, error) {
	grammar, ok := s.registry.Grammar(language)
	if !ok {
		return nil, cerr.SplitError(fmt.Sprintf("no grammar for language %q", language), nil)
	}
	config, _ := s.registry.Config(language)

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(grammar)

	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, cerr.SplitError("parse failed", err)
	}
	if tree == nil {
		return nil, cerr.SplitError("parse produced no tree", nil)
	}
	defer tree.Close()

	root := tree.RootNode()

	var chunks []Chunk
	var groupStart, groupEnd uint32
	groupOpen := false

	flush := func() {
		if !groupOpen {
			return
		}
		text := string(source[groupStart:groupEnd])
		if strings.TrimSpace(text) != "" {
			chunks = append(chunks, Chunk{
				FilePath:  filePath,
				StartLine: lineAt(source, groupStart),
				EndLine:   lineAt(source, groupEnd-1),
				Content:   text,
				Language:  language,
			})
		}
		groupOpen = false
	}

	for i := 0; i < int(root.NamedChildCount()); i++ {
		node := root.NamedChild(i)
		if node == nil || node.StartByte() >= node.EndByte() {
			continue
		}
		// Groups may only break at declaration boundaries; other top-level
		// nodes stay glued to the declaration they follow.
		isDecl := true
		if config != nil && len(config.DeclarationTypes) > 0 {
			_, isDecl = config.DeclarationTypes[node.Type()]
		}

		size := node.EndByte() - node.StartByte()

		if size > MaxChunkSize {
			flush()
			text := string(source[node.StartByte():node.EndByte()])
			chunks = append(chunks, splitWindow(text, int(node.StartPoint().Row)+1, language, filePath)...)
			continue
		}

		if groupOpen && isDecl && node.EndByte()-groupStart > MaxChunkSize {
			flush()
		}
		if !groupOpen {
			groupStart = node.StartByte()
			groupOpen = true
		}
		groupEnd = node.EndByte()
	}
	flush()

	if len(chunks) == 0 {
		// Grammar matched nothing useful (e.g. a file of comments).
		return splitWindow(string(source), 1, language, filePath), nil
	}
	return chunks, nil
}

// splitWindow splits text into chunks of at most MaxChunkSize bytes with
// roughly ChunkOverlap bytes of overlap, aligned to line boundaries.
// baseLine is the 1-based logical line number of the first line of text.
func splitWindow(text string, baseLine int, language, filePath string) []Chunk {
	lines := splitKeepEnds(text)
	if len(lines) == 0 {
		return nil
	}

	var chunks []Chunk
	start := 0
	for start < len(lines) {
		size := 0
		end := start
		for end < len(lines) {
			lineLen := len(lines[end])
			if size > 0 && size+lineLen > MaxChunkSize {
				break
			}
			size += lineLen
			end++
			if size >= MaxChunkSize {
				break
			}
		}

		content := strings.Join(lines[start:end], "")
		if len(content) > MaxChunkSize && end-start == 1 {
			// A single line larger than the window: hard-split by bytes.
			chunks = append(chunks, splitLongLine(content, baseLine+start, language, filePath)...)
		} else if strings.TrimSpace(content) != "" {
			chunks = append(chunks, Chunk{
				FilePath:  filePath,
				StartLine: baseLine + start,
				EndLine:   baseLine + end - 1,
				Content:   content,
				Language:  language,
			})
		}

		if end >= len(lines) {
			break
		}

		// Back up whole lines until roughly ChunkOverlap bytes repeat,
		// always advancing by at least one line.
		next := end
		overlap := 0
		for next > start+1 && overlap < ChunkOverlap {
			next--
			overlap += len(lines[next])
		}
		start = next
	}

	return chunks
}

// splitLongLine splits one oversized line into byte windows that all carry
// the same logical line number.
func splitLongLine(line string, lineNo int, language, filePath string) []Chunk {
	var chunks []Chunk
	step := MaxChunkSize - ChunkOverlap
	for off := 0; off < len(line); off += step {
		end := off + MaxChunkSize
		if end > len(line) {
			end = len(line)
		}
		part := line[off:end]
		if strings.TrimSpace(part) != "" {
			chunks = append(chunks, Chunk{
				FilePath:  filePath,
				StartLine: lineNo,
				EndLine:   lineNo,
				Content:   part,
				Language:  language,
			})
		}
		if end == len(line) {
			break
		}
	}
	return chunks
}

// splitKeepEnds splits text into lines keeping terminators, so that
// concatenation reproduces the input. Both \n and \r\n terminate a line.
func splitKeepEnds(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.SplitAfter(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// lineAt returns the 1-based logical line number of the byte at offset.
func lineAt(source []byte, offset uint32) int {
	if int(offset) > len(source) {
		offset = uint32(len(source))
	}
	line := 1
	for _, b := range source[:offset] {
		if b == '\n' {
			line++
		}
	}
	return line
}
