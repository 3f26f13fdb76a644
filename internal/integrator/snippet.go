package integrator

import (
	"os"
	"strings"

	"github.com/codegraph-io/codegraph/internal/graph"
)

// SnippetExtractor produces the text an Embedder consumes for a node:
// the node's own content if present, otherwise a context window read
// from its source file around its location.
type SnippetExtractor struct {
	ContextLines int
	MaxReadBytes int64

	scratch *bufferPool
}

// DefaultSnippetExtractor matches the window size used elsewhere in the
// pipeline for ranking and search context.
func DefaultSnippetExtractor() SnippetExtractor {
	const maxRead = 256 * 1024
	return SnippetExtractor{ContextLines: 40, MaxReadBytes: maxRead, scratch: newBufferPool(maxRead)}
}

// Extract returns the composed embedding text for n.
func (e SnippetExtractor) Extract(n *graph.CodeNode) string {
	if n.Content != "" {
		return nodeText(n, n.Content)
	}
	body, err := e.windowFromFile(n)
	if err != nil {
		return nodeText(n, "")
	}
	return nodeText(n, body)
}

// windowFromFile reads the node's source file and slices out the lines
// around its location plus ContextLines of padding on each side. Files
// are read in full up to MaxReadBytes rather than mmap'd: the pack
// carries no memory-mapping library, and a bounded os.ReadFile is simpler
// and safe for the snippet sizes this component handles.
func (e SnippetExtractor) windowFromFile(n *graph.CodeNode) (string, error) {
	f, err := os.Open(n.Location.FilePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	size := info.Size()
	if size > e.MaxReadBytes {
		size = e.MaxReadBytes
	}

	pool := e.scratch
	if pool == nil {
		pool = newBufferPool(int(e.MaxReadBytes))
	}
	buf := pool.get()
	if int64(cap(buf)) < size {
		buf = make([]byte, size)
	} else {
		buf = buf[:size]
	}
	defer pool.put(buf)

	if _, err := f.Read(buf); err != nil {
		return "", err
	}
	content := string(buf)

	start, end := e.windowAround(content, n)
	if start >= 0 && end > start {
		return content[start:end], nil
	}
	if len(content) > int(e.MaxReadBytes)/2 {
		return content[:e.MaxReadBytes/2], nil
	}
	return content, nil
}

// windowAround maps the node's 1-based start/end lines, padded by
// ContextLines, to byte offsets in content.
func (e SnippetExtractor) windowAround(content string, n *graph.CodeNode) (int, int) {
	line := n.Location.StartLine
	if line <= 0 {
		return -1, -1
	}
	startLine := line - e.ContextLines
	if startLine < 1 {
		startLine = 1
	}
	endSrc := n.Location.EndLine
	if endSrc <= 0 {
		endSrc = line
	}
	endLine := endSrc + e.ContextLines

	cur := 1
	startIdx, endIdx := 0, len(content)
	for i := 0; i < len(content); i++ {
		if cur == startLine {
			startIdx = i
		}
		if cur > endLine {
			endIdx = i
			break
		}
		if content[i] == '\n' {
			cur++
		}
	}
	return startIdx, endIdx
}

// composeTextForQuery builds the synthetic embedding input for a
// free-text query, mirroring nodeText's layout so query and node vectors
// land in the same projection space for a HashEmbedder.
func composeTextForQuery(query string) string {
	var b strings.Builder
	b.WriteString("text query __query__\n")
	b.WriteString(query)
	return b.String()
}
