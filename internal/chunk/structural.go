package chunk

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// splitStructural chunks along parser-driven declaration boundaries.
// Symbol-defining declarations (functions, methods, classes, types)
// seed the chunks; consecutive small declarations merge up to MaxLines
// and oversized ones fall back to line windows over the declaration
// span. Preamble (package clause, imports, file comments) is not
// emitted as its own chunk; files with no symbol declarations fall back
// to line windows at the caller.
func (c *Chunker) splitStructural(ctx context.Context, doc *Document) ([]*Chunk, error) {
	lang := languages[doc.Language]
	if lang == nil {
		return nil, fmt.Errorf("unsupported language: %s", doc.Language)
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang.sitterLang)

	tree, err := parser.ParseCtx(ctx, nil, doc.Content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", doc.Path, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		return nil, fmt.Errorf("parse %s: nil root", doc.Path)
	}

	lines := strings.Split(string(doc.Content), "\n")
	if len(lines) > 1 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	// Collect symbol declaration spans in document order.
	type span struct {
		startLine int // 1-indexed
		endLine   int
		symbols   []string
	}
	var spans []span
	for i := 0; i < int(root.NamedChildCount()); i++ {
		node := root.NamedChild(i)
		if !lang.symbolTypes[node.Type()] {
			continue
		}
		spans = append(spans, span{
			startLine: int(node.StartPoint().Row) + 1,
			endLine:   int(node.EndPoint().Row) + 1,
			symbols:   extractSymbols(node, doc.Content),
		})
	}
	if len(spans) == 0 {
		return nil, nil
	}

	// Merge consecutive spans into chunks: a running group grows until
	// adding the next span would exceed MaxLines.
	var chunks []*Chunk
	groupStart := spans[0].startLine
	groupEnd := spans[0].endLine
	groupSymbols := append([]string(nil), spans[0].symbols...)

	flush := func() {
		end := groupEnd
		if end > len(lines) {
			end = len(lines)
		}
		if end < groupStart {
			return
		}
		if end-groupStart+1 > c.config.MaxLines {
			chunks = append(chunks, c.windowRange(doc, lines, groupStart, end, groupSymbols)...)
			return
		}
		content := strings.Join(lines[groupStart-1:end], "\n")
		if strings.TrimSpace(content) == "" {
			return
		}
		ck := c.build(doc, content, lineStartByte(doc.Content, groupStart), groupStart, end)
		ck.Symbols = groupSymbols
		chunks = append(chunks, ck)
	}

	for _, s := range spans[1:] {
		if s.endLine-groupStart+1 > c.config.MaxLines {
			flush()
			groupStart = s.startLine
			groupEnd = s.endLine
			groupSymbols = append([]string(nil), s.symbols...)
			continue
		}
		groupEnd = s.endLine
		groupSymbols = append(groupSymbols, s.symbols...)
	}
	flush()

	return chunks, nil
}

// windowRange line-windows an oversized declaration span, carrying the
// symbols on the first window.
func (c *Chunker) windowRange(doc *Document, lines []string, startLine, endLine int, symbols []string) []*Chunk {
	step := c.config.MaxLines - c.config.OverlapLines
	if step <= 0 {
		step = c.config.MaxLines
	}

	var chunks []*Chunk
	for s := startLine; s <= endLine; s += step {
		e := s + c.config.MaxLines - 1
		if e > endLine {
			e = endLine
		}
		content := strings.Join(lines[s-1:e], "\n")
		ck := c.build(doc, content, lineStartByte(doc.Content, s), s, e)
		if s == startLine {
			ck.Symbols = symbols
		}
		chunks = append(chunks, ck)
		if e == endLine {
			break
		}
	}
	return chunks
}

// extractSymbols pulls declared names out of a declaration node.
func extractSymbols(node *sitter.Node, source []byte) []string {
	var symbols []string

	if name := node.ChildByFieldName("name"); name != nil {
		symbols = append(symbols, name.Content(source))
		return symbols
	}

	// Declarations without a direct name field (type/const/var groups,
	// lexical declarations) carry names on nested specs.
	var walk func(n *sitter.Node, depth int)
	walk = func(n *sitter.Node, depth int) {
		if depth > 3 {
			return
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			child := n.NamedChild(i)
			if name := child.ChildByFieldName("name"); name != nil {
				symbols = append(symbols, name.Content(source))
				continue
			}
			walk(child, depth+1)
		}
	}
	walk(node, 0)
	return symbols
}

// lineStartByte returns the byte offset where a 1-indexed line begins.
func lineStartByte(content []byte, line int) int {
	if line <= 1 {
		return 0
	}
	seen := 1
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			seen++
			if seen == line {
				return i + 1
			}
		}
	}
	return len(content)
}
