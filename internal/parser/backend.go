package parser

import (
	"regexp"
	"strings"
	"time"

	"github.com/codegraph-io/codegraph/internal/graph"
	"github.com/codegraph-io/codegraph/internal/ids"
)

// Backend turns a file's full source into graph nodes/edges. The pack
// carries no tree-sitter binding, so production deployments inject their
// own language-server- or tree-sitter-cgo-backed implementation here;
// HeuristicBackend below is the dependency-free default, good enough for
// tests and for languages nobody has wired a real grammar for yet.
type Backend interface {
	Parse(path, language, content string) (ParseResult, error)
}

// HeuristicBackend recognizes top-level function-like declarations by a
// small set of per-language regexes. It does not build a real AST or
// resolve references; ResolveEdges in internal/graph is expected to bind
// whatever symbol edges a real backend discovers later.
type HeuristicBackend struct {
	patterns map[string]*regexp.Regexp
}

// NewHeuristicBackend builds a HeuristicBackend with a default pattern set
// covering the languages exercised by the test corpus.
func NewHeuristicBackend() *HeuristicBackend {
	return &HeuristicBackend{
		patterns: map[string]*regexp.Regexp{
			"go":         regexp.MustCompile(`^func\s+(?:\([^)]*\)\s+)?(\w+)\s*\(`),
			"rust":       regexp.MustCompile(`^\s*(?:pub\s+)?fn\s+(\w+)\s*\(`),
			"python":     regexp.MustCompile(`^def\s+(\w+)\s*\(`),
			"typescript": regexp.MustCompile(`^\s*(?:export\s+)?function\s+(\w+)\s*\(`),
			"javascript": regexp.MustCompile(`^\s*(?:export\s+)?function\s+(\w+)\s*\(`),
		},
	}
}

// Parse scans content line by line, emitting one CodeNode per matched
// declaration, spanning from its declaration line to the next
// declaration (or end of file).
func (b *HeuristicBackend) Parse(path, language, content string) (ParseResult, error) {
	pattern := b.patterns[language]
	lines := strings.Split(content, "\n")

	type decl struct {
		name string
		line int
	}
	var decls []decl
	if pattern != nil {
		for i, l := range lines {
			if m := pattern.FindStringSubmatch(l); m != nil {
				decls = append(decls, decl{name: m[1], line: i + 1})
			}
		}
	}

	now := time.Now()
	nodes := make([]*graph.CodeNode, 0, len(decls))
	for i, d := range decls {
		end := len(lines)
		if i+1 < len(decls) {
			end = decls[i+1].line - 1
		}
		body := strings.Join(lines[d.line-1:min(end, len(lines))], "\n")
		nodes = append(nodes, &graph.CodeNode{
			ID:       ids.NewNode(),
			Name:     d.name,
			NodeType: graph.NodeFunction,
			Language: language,
			Location: graph.Location{FilePath: path, StartLine: d.line, EndLine: end},
			Content:  body,
			CreatedAt: now, UpdatedAt: now,
		})
	}
	return ParseResult{Nodes: nodes}, nil
}
