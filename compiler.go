package framegraph

import (
	"fmt"
	"strings"
)

// CompileReport is the result of ordering the dependency graph.
type CompileReport struct {
	// Order is a valid topological execution order over the included
	// nodes: every producer precedes every consumer of its outputs.
	Order []NodeID

	// Excluded lists nodes left out of Order because they participate in
	// (or depend on) a cycle. Empty for full compilations.
	Excluded []NodeID

	// Partial reports whether Order covers only the acyclic prefix.
	Partial bool
}

// Cycle is one reconstructed dependency cycle. Nodes is a closed chain:
// Nodes[0] == Nodes[len(Nodes)-1]. Links annotate each chain edge with the
// resource responsible for it.
type Cycle struct {
	Nodes []NodeID
	Links []CycleLink
}

// CycleLink is one producer→consumer edge inside a cycle.
type CycleLink struct {
	From     NodeID
	To       NodeID
	Resource ResourceID
}

// CycleError reports that the declared dependencies contain at least one
// cycle, with reconstructed paths and resolution suggestions. It is a
// debugging aid: the orchestrator separately attempts partial compilation.
type CycleError struct {
	// Cycles are the reconstructed cycle paths.
	Cycles []Cycle
	// Suggestions are human-readable resolution hints, one group per cycle.
	Suggestions []string
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "framegraph: dependency cycle detected (%d cycle(s))", len(e.Cycles))
	for _, c := range e.Cycles {
		sb.WriteString("; chain ")
		for i, n := range c.Nodes {
			if i > 0 {
				sb.WriteString(" -> ")
			}
			fmt.Fprintf(&sb, "%d", uint32(n))
		}
	}
	return sb.String()
}

// edgeKey identifies a producer→consumer edge for resource annotation.
type edgeKey struct {
	from NodeID
	to   NodeID
}

// depGraph is the adjacency view rebuilt on every compile. Arena-indexed
// id slices keep the cycle DFS allocation-light; there are no node
// pointers in the graph itself.
type depGraph struct {
	// order preserves node insertion order, which seeds Kahn's queue so
	// nodes without mutual dependencies keep their registration order.
	order []NodeID
	// adjacency maps producer id to consumer ids.
	adjacency map[NodeID][]NodeID
	// inDegree counts incoming edges per node.
	inDegree map[NodeID]int
	// edgeResource records the resource responsible for each edge.
	edgeResource map[edgeKey]ResourceID
	// names resolves node ids for suggestions.
	names map[NodeID]string
}

// buildDepGraph derives the producer→consumer graph from declared I/O.
// The producer map takes the last declared writer of each resource;
// self-edges are excluded so a node may legally read what it also writes.
func buildDepGraph(entries []*nodeEntry) *depGraph {
	g := &depGraph{
		adjacency:    make(map[NodeID][]NodeID, len(entries)),
		inDegree:     make(map[NodeID]int, len(entries)),
		edgeResource: make(map[edgeKey]ResourceID),
		names:        make(map[NodeID]string, len(entries)),
	}

	producers := make(map[ResourceID]NodeID)
	for _, e := range entries {
		g.order = append(g.order, e.id)
		g.inDegree[e.id] = 0
		g.names[e.id] = e.node.Name()
		for _, out := range e.node.Outputs() {
			if !out.Resource.IsValid() {
				continue
			}
			producers[out.Resource] = e.id
		}
	}

	for _, e := range entries {
		for _, in := range e.node.Inputs() {
			producer, ok := producers[in.Resource]
			if !ok || producer == e.id {
				continue
			}
			key := edgeKey{from: producer, to: e.id}
			if _, dup := g.edgeResource[key]; dup {
				// One ordering edge per node pair is enough.
				continue
			}
			g.edgeResource[key] = in.Resource
			g.adjacency[producer] = append(g.adjacency[producer], e.id)
			g.inDegree[e.id]++
		}
	}
	return g
}

// compile computes a topological order with Kahn's algorithm. On success
// the report covers every node. On a cycle it returns the maximal acyclic
// prefix as a partial report together with a CycleError describing the
// cyclic remainder, so the caller can choose degraded execution.
func compile(entries []*nodeEntry) (CompileReport, error) {
	g := buildDepGraph(entries)

	// Kahn peeling: repeatedly take zero-in-degree nodes in insertion
	// order. A FIFO seeded that way keeps unordered nodes stable.
	inDegree := make(map[NodeID]int, len(g.inDegree))
	for id, d := range g.inDegree {
		inDegree[id] = d
	}
	var queue []NodeID
	for _, id := range g.order {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	order := make([]NodeID, 0, len(g.order))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, next := range g.adjacency[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(order) == len(g.order) {
		return CompileReport{Order: order}, nil
	}

	// Nodes with residual in-degree form the cycle set; everything peeled
	// is the maximal acyclic prefix.
	var excluded []NodeID
	residual := make(map[NodeID]bool)
	for _, id := range g.order {
		if inDegree[id] > 0 {
			residual[id] = true
		}
	}
	for _, id := range g.order {
		if !contains(order, id) {
			excluded = append(excluded, id)
		}
	}

	cycleErr := diagnoseCycles(g, residual)
	return CompileReport{Order: order, Excluded: excluded, Partial: true}, cycleErr
}

// contains reports whether ids holds id. Orders are small (tens of
// nodes), so a linear scan beats a set here.
func contains(ids []NodeID, id NodeID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// diagnoseCycles reconstructs actual cycle paths with a depth-first walk
// restricted to the residual node set, then derives resolution
// suggestions from them.
func diagnoseCycles(g *depGraph, residual map[NodeID]bool) *CycleError {
	ce := &CycleError{}
	visited := make(map[NodeID]bool)

	for _, start := range g.order {
		if !residual[start] || visited[start] {
			continue
		}
		// Iterative DFS keeping the current path; a back edge onto the
		// path closes a cycle.
		onPath := make(map[NodeID]int)
		var path []NodeID
		var walk func(id NodeID) bool
		walk = func(id NodeID) bool {
			if at, ok := onPath[id]; ok {
				chain := append([]NodeID{}, path[at:]...)
				chain = append(chain, id)
				ce.Cycles = append(ce.Cycles, buildCycle(g, chain))
				return true
			}
			if visited[id] {
				return false
			}
			visited[id] = true
			onPath[id] = len(path)
			path = append(path, id)
			for _, next := range g.adjacency[id] {
				if !residual[next] {
					continue
				}
				if walk(next) {
					// One cycle per DFS tree keeps the report readable.
					break
				}
			}
			path = path[:len(path)-1]
			delete(onPath, id)
			return false
		}
		walk(start)
	}

	ce.Suggestions = suggestResolutions(g, ce.Cycles)
	return ce
}

// buildCycle annotates a closed node chain with the resource behind each
// edge.
func buildCycle(g *depGraph, chain []NodeID) Cycle {
	c := Cycle{Nodes: chain}
	for i := 0; i+1 < len(chain); i++ {
		c.Links = append(c.Links, CycleLink{
			From:     chain[i],
			To:       chain[i+1],
			Resource: g.edgeResource[edgeKey{from: chain[i], to: chain[i+1]}],
		})
	}
	return c
}

// suggestResolutions generates human-readable hints for breaking each
// cycle. These are debugging aids, not a correctness mechanism.
func suggestResolutions(g *depGraph, cycles []Cycle) []string {
	var out []string
	for _, c := range cycles {
		if len(c.Links) == 0 {
			continue
		}
		first := c.Links[0]
		out = append(out,
			fmt.Sprintf("break the dependency of %q on %q (resource %d), e.g. by reading last frame's data",
				g.names[first.To], g.names[first.From], uint32(first.Resource)),
			fmt.Sprintf("introduce an intermediate resource so %q no longer writes what %q reads",
				g.names[first.From], g.names[first.To]),
			fmt.Sprintf("double-buffer resource %d so producer and consumer touch different copies",
				uint32(first.Resource)))
		if len(c.Nodes) > 2 {
			out = append(out, fmt.Sprintf("merge or reorder %q and %q if they operate on the same pass",
				g.names[c.Nodes[0]], g.names[c.Nodes[1]]))
		}
	}
	if len(out) == 0 {
		out = append(out, "inspect the declared inputs and outputs of the excluded nodes")
	}
	return out
}
