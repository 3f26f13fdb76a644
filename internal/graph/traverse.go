package graph

import (
	"container/heap"

	"github.com/codegraph-io/codegraph/internal/ids"
)

// TraversalConfig bounds a BFS/DFS walk.
type TraversalConfig struct {
	MaxDepth     int // 0 = unbounded
	MaxNodes     int // 0 = unbounded
	IncludeStart bool
	Filter       func(ids.NodeId) bool
}

// BFS walks outbound edges breadth-first from start, returning visited ids
// in visit order. Always terminates: a visited set bounds revisits even on
// cyclic graphs.
func (g *Graph) BFS(start ids.NodeId, cfg TraversalConfig) []ids.NodeId {
	type item struct {
		id    ids.NodeId
		depth int
	}
	visited := map[ids.NodeId]bool{start: true}
	queue := []item{{start, 0}}
	var out []ids.NodeId
	if cfg.IncludeStart && passesFilter(cfg.Filter, start) {
		out = append(out, start)
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cfg.MaxDepth > 0 && cur.depth >= cfg.MaxDepth {
			continue
		}
		for _, next := range g.Neighbors(cur.id) {
			if visited[next] {
				continue
			}
			visited[next] = true
			if passesFilter(cfg.Filter, next) {
				out = append(out, next)
				if cfg.MaxNodes > 0 && len(out) >= cfg.MaxNodes {
					return out
				}
			}
			queue = append(queue, item{next, cur.depth + 1})
		}
	}
	return out
}

// DFS walks outbound edges depth-first (iterative, explicit stack) from
// start.
func (g *Graph) DFS(start ids.NodeId, cfg TraversalConfig) []ids.NodeId {
	type item struct {
		id    ids.NodeId
		depth int
	}
	visited := map[ids.NodeId]bool{start: true}
	stack := []item{{start, 0}}
	var out []ids.NodeId
	if cfg.IncludeStart && passesFilter(cfg.Filter, start) {
		out = append(out, start)
	}

	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cfg.MaxDepth > 0 && cur.depth >= cfg.MaxDepth {
			continue
		}
		neighbors := g.Neighbors(cur.id)
		for i := len(neighbors) - 1; i >= 0; i-- {
			next := neighbors[i]
			if visited[next] {
				continue
			}
			visited[next] = true
			if passesFilter(cfg.Filter, next) {
				out = append(out, next)
				if cfg.MaxNodes > 0 && len(out) >= cfg.MaxNodes {
					return out
				}
			}
			stack = append(stack, item{next, cur.depth + 1})
		}
	}
	return out
}

func passesFilter(f func(ids.NodeId) bool, id ids.NodeId) bool {
	return f == nil || f(id)
}

type pqItem struct {
	id       ids.NodeId
	priority float64
	index    int
}

type priorityQueue []*pqItem

func (pq priorityQueue) Len() int            { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool  { return pq[i].priority < pq[j].priority }
func (pq priorityQueue) Swap(i, j int)       { pq[i], pq[j] = pq[j], pq[i]; pq[i].index, pq[j].index = i, j }
func (pq *priorityQueue) Push(x interface{}) { item := x.(*pqItem); item.index = len(*pq); *pq = append(*pq, item) }
func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	*pq = old[:n-1]
	return item
}

// edgeWeight returns the weight of the resolved edge from->to, taking the
// minimum when parallel edges exist and defaulting to 1.0 when there is
// no resolved edge.
func (g *Graph) edgeWeight(from, to ids.NodeId) float64 {
	best := -1.0
	for _, e := range g.GetEdgesFrom(from) {
		if e.Resolved && e.To == to {
			w := float64(e.Weight)
			if best < 0 || w < best {
				best = w
			}
		}
	}
	if best < 0 {
		return 1.0
	}
	return best
}

// ShortestPath runs Dijkstra's algorithm from start to goal over
// non-negative edge weights, returning the path (inclusive) or nil if
// unreachable.
func (g *Graph) ShortestPath(start, goal ids.NodeId) []ids.NodeId {
	return g.shortestPath(start, goal, nil)
}

// AStar runs A* using h as an admissible heuristic estimating remaining
// distance to goal.
func (g *Graph) AStar(start, goal ids.NodeId, h func(n, goal ids.NodeId) float64) []ids.NodeId {
	return g.shortestPath(start, goal, h)
}

func (g *Graph) shortestPath(start, goal ids.NodeId, h func(a, b ids.NodeId) float64) []ids.NodeId {
	dist := map[ids.NodeId]float64{start: 0}
	prev := map[ids.NodeId]ids.NodeId{}
	visited := map[ids.NodeId]bool{}

	pq := &priorityQueue{}
	heap.Init(pq)
	heap.Push(pq, &pqItem{id: start, priority: 0})

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(*pqItem)
		if visited[cur.id] {
			continue
		}
		visited[cur.id] = true
		if cur.id == goal {
			break
		}
		for _, next := range g.Neighbors(cur.id) {
			w := g.edgeWeight(cur.id, next)
			nd := dist[cur.id] + w
			if existing, ok := dist[next]; !ok || nd < existing {
				dist[next] = nd
				prev[next] = cur.id
				priority := nd
				if h != nil {
					priority += h(next, goal)
				}
				heap.Push(pq, &pqItem{id: next, priority: priority})
			}
		}
	}

	if _, ok := dist[goal]; !ok {
		return nil
	}
	var path []ids.NodeId
	for at := goal; ; {
		path = append([]ids.NodeId{at}, path...)
		if at == start {
			break
		}
		p, ok := prev[at]
		if !ok {
			return nil
		}
		at = p
	}
	return path
}

// TarjanSCC returns the strongly connected components of the graph,
// computed iteratively to tolerate deep call graphs without stack growth.
func (g *Graph) TarjanSCC() [][]ids.NodeId {
	index := 0
	indices := map[ids.NodeId]int{}
	lowlink := map[ids.NodeId]int{}
	onStack := map[ids.NodeId]bool{}
	var stack []ids.NodeId
	var sccs [][]ids.NodeId

	type frame struct {
		node     ids.NodeId
		children []ids.NodeId
		ci       int
	}

	for _, v := range g.NodeIDs() {
		if _, seen := indices[v]; seen {
			continue
		}
		var work []*frame
		work = append(work, &frame{node: v, children: g.Neighbors(v)})
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for len(work) > 0 {
			top := work[len(work)-1]
			if top.ci < len(top.children) {
				w := top.children[top.ci]
				top.ci++
				if _, seen := indices[w]; !seen {
					indices[w] = index
					lowlink[w] = index
					index++
					stack = append(stack, w)
					onStack[w] = true
					work = append(work, &frame{node: w, children: g.Neighbors(w)})
				} else if onStack[w] {
					if indices[w] < lowlink[top.node] {
						lowlink[top.node] = indices[w]
					}
				}
				continue
			}

			work = work[:len(work)-1]
			if len(work) > 0 {
				parent := work[len(work)-1]
				if lowlink[top.node] < lowlink[parent.node] {
					lowlink[parent.node] = lowlink[top.node]
				}
			}

			if lowlink[top.node] == indices[top.node] {
				var comp []ids.NodeId
				for {
					n := stack[len(stack)-1]
					stack = stack[:len(stack)-1]
					onStack[n] = false
					comp = append(comp, n)
					if n == top.node {
						break
					}
				}
				sccs = append(sccs, comp)
			}
		}
	}
	return sccs
}

// DetectCycles returns one cycle per back edge found by coloring DFS
// (white/gray/black), as ordered node sequences starting and ending at the
// same node. Cycles that share their back edge with one already reported
// are not listed separately, so this is not every simple cycle.
func (g *Graph) DetectCycles() [][]ids.NodeId {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[ids.NodeId]int{}
	var path []ids.NodeId
	var cycles [][]ids.NodeId

	var visit func(id ids.NodeId)
	visit = func(id ids.NodeId) {
		color[id] = gray
		path = append(path, id)
		for _, next := range g.Neighbors(id) {
			switch color[next] {
			case white:
				visit(next)
			case gray:
				// Found a back edge; extract the cycle from path.
				for i, n := range path {
					if n == next {
						cycle := append([]ids.NodeId(nil), path[i:]...)
						cycle = append(cycle, next)
						cycles = append(cycles, cycle)
						break
					}
				}
			}
		}
		path = path[:len(path)-1]
		color[id] = black
	}

	for _, id := range g.NodeIDs() {
		if color[id] == white {
			visit(id)
		}
	}
	return cycles
}
