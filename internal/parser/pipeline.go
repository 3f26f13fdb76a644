package parser

import (
	"context"
	"log/slog"
	"sync"

	"github.com/codegraph-io/codegraph/internal/graph"
	"github.com/codegraph-io/codegraph/internal/ids"
	"github.com/codegraph-io/codegraph/internal/integrator"
)

// Result summarizes one ProcessChange call for logging and tests.
type Result struct {
	Path      string
	Selective bool
	Regions   int
	Affected  int
	Added     int
	Removed   int
}

// Pipeline applies file changes to a graph (and, if wired, keeps the
// vector index in sync through an Integrator): diff against the last
// known content, map the diff to affected nodes, and either patch the
// graph selectively or drop and reparse the whole file.
type Pipeline struct {
	backend Backend
	graph   *graph.Graph
	sync    *integrator.Integrator
	logger  *slog.Logger

	mu       sync.Mutex
	contents map[string]string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithIntegrator wires a C7 integrator so indexed/removed nodes also
// update the vector index within the same ProcessChange call.
func WithIntegrator(it *integrator.Integrator) Option {
	return func(p *Pipeline) { p.sync = it }
}

// WithLogger overrides the default logger (slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// NewPipeline builds a Pipeline over g using backend to parse full files.
func NewPipeline(g *graph.Graph, backend Backend, opts ...Option) *Pipeline {
	p := &Pipeline{
		backend:  backend,
		graph:    g,
		logger:   slog.Default(),
		contents: make(map[string]string),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// ProcessChange handles one file's new content: on first sight of path it
// does a full parse; on subsequent edits it diffs against the cached
// prior content, decides selective vs full reparse, and applies the
// result to the graph (and vector index, if wired).
func (p *Pipeline) ProcessChange(ctx context.Context, event FileEvent) (Result, error) {
	p.mu.Lock()
	old, known := p.contents[event.Path]
	p.mu.Unlock()

	if event.Deleted {
		return p.processDelete(ctx, event.Path)
	}

	if !known {
		return p.fullReparse(ctx, event)
	}
	if old == event.Content {
		return Result{Path: event.Path, Selective: true}, nil
	}

	regions := computeChangedRegions(old, event.Content)
	existing := p.nodesForFile(event.Path)
	affected := findAffectedNodes(event.Path, existing, regions)

	if shouldFullReparse(regions, affected) {
		return p.fullReparse(ctx, event)
	}
	return p.selectiveReparse(ctx, event, len(regions), affected)
}

func (p *Pipeline) nodesForFile(path string) []*graph.CodeNode {
	var out []*graph.CodeNode
	for _, id := range p.graph.NodeIDs() {
		n, err := p.graph.GetNode(id)
		if err != nil {
			continue
		}
		if n.Location.FilePath == path {
			out = append(out, n)
		}
	}
	return out
}

func (p *Pipeline) fullReparse(ctx context.Context, event FileEvent) (Result, error) {
	existing := p.nodesForFile(event.Path)
	oldIDs := make([]ids.NodeId, len(existing))
	for i, n := range existing {
		oldIDs[i] = n.ID
	}

	parsed, err := p.backend.Parse(event.Path, event.Language, event.Content)
	if err != nil {
		return Result{}, err
	}

	if err := p.graph.SelectiveUpdate(oldIDs, parsed.Nodes, graph.Replace, 0, nil); err != nil {
		return Result{}, err
	}
	for _, e := range parsed.Edges {
		if err := p.graph.AddEdge(e); err != nil {
			p.logger.Warn("parser: dropped edge after full reparse", "file", event.Path, "error", err)
		}
	}

	p.commitContent(event.Path, event.Content)
	added, removed := p.syncVectors(ctx, parsed.Nodes, oldIDs)
	p.logger.Info("parser: full reparse", "file", event.Path, "nodes", len(parsed.Nodes))
	return Result{Path: event.Path, Selective: false, Added: added, Removed: removed}, nil
}

func (p *Pipeline) selectiveReparse(ctx context.Context, event FileEvent, regions int, affected []AffectedNode) (Result, error) {
	ids_ := affectedIDs(affected)
	parsed, err := p.backend.Parse(event.Path, event.Language, event.Content)
	if err != nil {
		return Result{}, err
	}

	strategy := graph.DiffOnly
	if event.Language == "go" {
		strategy = graph.Replace
	}
	if err := p.graph.SelectiveUpdate(ids_, parsed.Nodes, strategy, 0.8, nil); err != nil {
		return Result{}, err
	}

	p.commitContent(event.Path, event.Content)
	added, removed := p.syncVectors(ctx, parsed.Nodes, ids_)
	return Result{Path: event.Path, Selective: true, Regions: regions, Affected: len(affected), Added: added, Removed: removed}, nil
}

func (p *Pipeline) processDelete(ctx context.Context, path string) (Result, error) {
	existing := p.nodesForFile(path)
	removedIDs := make([]ids.NodeId, len(existing))
	for i, n := range existing {
		removedIDs[i] = n.ID
		if err := p.graph.RemoveNode(n.ID); err != nil {
			return Result{}, err
		}
	}
	p.mu.Lock()
	delete(p.contents, path)
	p.mu.Unlock()

	_, removed := p.syncVectors(ctx, nil, removedIDs)
	return Result{Path: path, Removed: removed}, nil
}

func (p *Pipeline) commitContent(path, content string) {
	p.mu.Lock()
	p.contents[path] = content
	p.mu.Unlock()
}

func (p *Pipeline) syncVectors(ctx context.Context, added []*graph.CodeNode, removed []ids.NodeId) (int, int) {
	if p.sync == nil {
		return 0, 0
	}
	n, r, err := p.sync.SyncChanges(ctx, added, removed)
	if err != nil {
		p.logger.Warn("parser: vector sync failed", "error", err)
		return 0, 0
	}
	return n, r
}
