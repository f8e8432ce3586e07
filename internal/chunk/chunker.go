package chunk

import (
	"context"
	"strings"
)

// Chunker splits documents into chunks.
type Chunker struct {
	config Config
}

// New creates a chunker for one store version's config.
func New(cfg Config) *Chunker {
	return &Chunker{config: cfg.Normalize()}
}

// Split splits a document according to the configured strategy.
// Structural chunking falls back to line windows when the language has
// no parser or parsing fails; line chunking falls back to byte windows
// when the content has no line structure.
func (c *Chunker) Split(ctx context.Context, doc *Document) ([]*Chunk, error) {
	if len(doc.Content) == 0 {
		return nil, nil
	}
	if doc.Language == "" {
		doc.Language = DetectLanguage(doc.Path)
	}
	if doc.Hash == "" {
		doc.Hash = HashContent(doc.Content)
	}

	switch c.config.Strategy {
	case StrategyStructural:
		if structuralSupported(doc.Language) {
			chunks, err := c.splitStructural(ctx, doc)
			if err == nil && len(chunks) > 0 {
				return chunks, nil
			}
		}
		return c.splitLines(doc), nil
	case StrategyLines:
		return c.splitLines(doc), nil
	default:
		return c.splitBytes(doc), nil
	}
}

// splitLines produces fixed-line windows with the configured overlap.
func (c *Chunker) splitLines(doc *Document) []*Chunk {
	text := string(doc.Content)
	if !strings.Contains(text, "\n") && len(text) > c.config.MaxLines*200 {
		// No line structure at all: byte windows cover better.
		return c.splitBytes(doc)
	}

	lines := strings.Split(text, "\n")
	// A trailing newline yields one empty trailing element; drop it so
	// line ranges stay inclusive.
	if len(lines) > 1 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	step := c.config.MaxLines - c.config.OverlapLines
	if step <= 0 {
		step = c.config.MaxLines
	}

	var chunks []*Chunk
	byteOffsets := lineByteOffsets(text)
	for start := 0; start < len(lines); start += step {
		end := start + c.config.MaxLines
		if end > len(lines) {
			end = len(lines)
		}
		content := strings.Join(lines[start:end], "\n")
		if strings.TrimSpace(content) == "" {
			if end == len(lines) {
				break
			}
			continue
		}
		chunks = append(chunks, c.build(doc, content, byteOffsets[start], start+1, end))
		if end == len(lines) {
			break
		}
	}
	return chunks
}

// splitBytes produces fixed byte windows; the last-resort strategy for
// content without usable line structure.
func (c *Chunker) splitBytes(doc *Document) []*Chunk {
	var chunks []*Chunk
	content := doc.Content
	for start := 0; start < len(content); start += byteWindow {
		end := start + byteWindow
		if end > len(content) {
			end = len(content)
		}
		text := string(content[start:end])
		ck := c.build(doc, text, start, 1, 1)
		// Byte chunks have no line geometry; line range collapses to the
		// window ordinal so ids stay distinct.
		ck.StartLine = start/byteWindow + 1
		ck.EndLine = ck.StartLine
		ck.ID = ChunkID(doc.Hash, ck.StartLine, ck.EndLine)
		chunks = append(chunks, ck)
	}
	return chunks
}

// build assembles one chunk with derived ids and hashes.
func (c *Chunker) build(doc *Document, content string, startByte, startLine, endLine int) *Chunk {
	return &Chunk{
		ID:          ChunkID(doc.Hash, startLine, endLine),
		DocHash:     doc.Hash,
		Content:     content,
		ContentHash: HashContent([]byte(content)),
		Language:    doc.Language,
		StartByte:   startByte,
		EndByte:     startByte + len(content),
		StartLine:   startLine,
		EndLine:     endLine,
	}
}

// lineByteOffsets returns the byte offset of each line start.
func lineByteOffsets(text string) []int {
	offsets := []int{0}
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			offsets = append(offsets, i+1)
		}
	}
	return offsets
}
