// Package chunk splits documents into ordered, structure-aware chunks.
// Strategies: structural (tree-sitter boundaries around declarations),
// fixed-line windows with overlap, and a byte-window fallback. Line and
// byte windows cover every non-empty region of a document; structural
// chunks cover the symbol declarations only, so the file preamble and
// lines between separately flushed declaration groups are not chunked.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Strategy selects how a document is split.
type Strategy string

const (
	StrategyStructural Strategy = "structural"
	StrategyLines      Strategy = "lines"
	StrategyBytes      Strategy = "bytes"
)

// Defaults for chunk geometry.
const (
	DefaultMaxLines     = 120
	DefaultOverlapLines = 10
	// byteWindow is the fallback window for content without line
	// structure.
	byteWindow = 4096
)

// Config controls chunk geometry for one store version.
type Config struct {
	Strategy     Strategy
	MaxLines     int
	OverlapLines int
}

// Normalize fills zero fields with defaults.
func (c Config) Normalize() Config {
	if c.Strategy == "" {
		c.Strategy = StrategyStructural
	}
	if c.MaxLines <= 0 {
		c.MaxLines = DefaultMaxLines
	}
	if c.OverlapLines < 0 || c.OverlapLines >= c.MaxLines {
		c.OverlapLines = DefaultOverlapLines
	}
	return c
}

// Document is the chunker input.
type Document struct {
	Path     string
	Content  []byte
	Language string // detected when empty
	Hash     string // content hash of the whole document
}

// Chunk is a contiguous span of a document.
type Chunk struct {
	// ID is stable, derived from (doc_hash, start_line, end_line).
	ID string
	// DocHash is the owning document's content hash.
	DocHash string
	// Content is the chunk text.
	Content string
	// ContentHash is the hash of Content.
	ContentHash string
	// Language is the detected or declared language.
	Language string
	// StartByte/EndByte is the byte range (end exclusive).
	StartByte int
	EndByte   int
	// StartLine/EndLine is the 1-indexed inclusive line range.
	StartLine int
	EndLine   int
	// Symbols are names extracted from the parser when available.
	Symbols []string
}

// ChunkID derives the stable chunk id.
func ChunkID(docHash string, startLine, endLine int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%d", docHash, startLine, endLine)))
	return hex.EncodeToString(h[:16])
}

// HashContent hashes arbitrary content.
func HashContent(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}
