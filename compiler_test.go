package framegraph

import (
	"errors"
	"strings"
	"testing"
)

// entriesFor wraps nodes in registry entries with ids 1..n, matching the
// ids AddNode would issue.
func entriesFor(nodes ...Node) []*nodeEntry {
	entries := make([]*nodeEntry, len(nodes))
	for i, n := range nodes {
		entries[i] = &nodeEntry{id: NodeID(i + 1), node: n}
	}
	return entries
}

func orderEqual(got []NodeID, want ...NodeID) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range want {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

// =============================================================================
// Topological Ordering
// =============================================================================

func TestCompile_LinearChain(t *testing.T) {
	const (
		r1 ResourceID = iota + 1
		r2
	)
	// Registered in reverse so insertion order alone cannot pass the test.
	entries := entriesFor(
		graphicsNode("present", reads(r2, StageFragmentShader), nil),
		graphicsNode("shade", reads(r1, StageFragmentShader), writes(r2, StageColorOutput)),
		computeNode("simulate", nil, writes(r1, StageComputeShader)),
	)

	report, err := compile(entries)
	if err != nil {
		t.Fatalf("compile() = %v", err)
	}
	if report.Partial {
		t.Error("Partial = true for acyclic graph")
	}
	// simulate(3) -> shade(2) -> present(1)
	if !orderEqual(report.Order, 3, 2, 1) {
		t.Errorf("Order = %v, want [3 2 1]", report.Order)
	}
	if len(report.Excluded) != 0 {
		t.Errorf("Excluded = %v, want empty", report.Excluded)
	}
}

func TestCompile_UnorderedNodesKeepInsertionOrder(t *testing.T) {
	// Four nodes with no dependencies between them: the order must be
	// exactly the registration order.
	entries := entriesFor(
		computeNode("w", nil, writes(10, StageComputeShader)),
		computeNode("x", nil, writes(11, StageComputeShader)),
		graphicsNode("y", nil, writes(12, StageColorOutput)),
		computeNode("z", nil, writes(13, StageComputeShader)),
	)

	report, err := compile(entries)
	if err != nil {
		t.Fatalf("compile() = %v", err)
	}
	if !orderEqual(report.Order, 1, 2, 3, 4) {
		t.Errorf("Order = %v, want insertion order [1 2 3 4]", report.Order)
	}
}

func TestCompile_DiamondProducerFirst(t *testing.T) {
	const (
		src ResourceID = iota + 1
		left
		right
	)
	entries := entriesFor(
		computeNode("source", nil, writes(src, StageComputeShader)),
		computeNode("branch_a", reads(src, StageComputeShader), writes(left, StageComputeShader)),
		computeNode("branch_b", reads(src, StageComputeShader), writes(right, StageComputeShader)),
		graphicsNode("join", append(reads(left, StageFragmentShader), reads(right, StageFragmentShader)...), nil),
	)

	report, err := compile(entries)
	if err != nil {
		t.Fatalf("compile() = %v", err)
	}
	if !orderEqual(report.Order, 1, 2, 3, 4) {
		t.Errorf("Order = %v, want [1 2 3 4]", report.Order)
	}
}

func TestCompile_SelfReadWriteIsNotACycle(t *testing.T) {
	// A node may read and write the same resource (in-place update)
	// without creating a self-edge.
	const state ResourceID = 7
	entries := entriesFor(
		computeNode("advance",
			[]Dependency{{Resource: state, Access: AccessReadWrite, Stage: StageComputeShader}},
			writes(state, StageComputeShader)),
		graphicsNode("draw", reads(state, StageVertexShader), nil),
	)

	report, err := compile(entries)
	if err != nil {
		t.Fatalf("compile() = %v", err)
	}
	if !orderEqual(report.Order, 1, 2) {
		t.Errorf("Order = %v, want [1 2]", report.Order)
	}
}

func TestCompile_EmptyGraph(t *testing.T) {
	report, err := compile(nil)
	if err != nil {
		t.Fatalf("compile(nil) = %v", err)
	}
	if len(report.Order) != 0 || report.Partial {
		t.Errorf("report = %+v, want empty non-partial", report)
	}
}

// =============================================================================
// Cycle Detection and Diagnosis
// =============================================================================

func TestCompile_TwoNodeCycle(t *testing.T) {
	const (
		rA ResourceID = iota + 1
		rB
	)
	entries := entriesFor(
		computeNode("ping", reads(rB, StageComputeShader), writes(rA, StageComputeShader)),
		computeNode("pong", reads(rA, StageComputeShader), writes(rB, StageComputeShader)),
	)

	report, err := compile(entries)
	if err == nil {
		t.Fatal("compile() = nil error for cyclic graph")
	}
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("err = %T, want *CycleError", err)
	}

	if !report.Partial {
		t.Error("Partial = false, want true")
	}
	if len(report.Order) != 0 {
		t.Errorf("Order = %v, want empty (both nodes cyclic)", report.Order)
	}
	if len(report.Excluded) != 2 {
		t.Errorf("Excluded = %v, want both nodes", report.Excluded)
	}

	if len(cycleErr.Cycles) != 1 {
		t.Fatalf("Cycles = %d, want 1", len(cycleErr.Cycles))
	}
	c := cycleErr.Cycles[0]
	if len(c.Nodes) < 3 || c.Nodes[0] != c.Nodes[len(c.Nodes)-1] {
		t.Errorf("cycle chain %v is not closed", c.Nodes)
	}
	for _, link := range c.Links {
		if !link.Resource.IsValid() {
			t.Errorf("link %d->%d lacks a resource annotation", link.From, link.To)
		}
	}
	if len(cycleErr.Suggestions) == 0 {
		t.Error("no resolution suggestions generated")
	}
}

func TestCompile_PartialPrefixSurvivesCycle(t *testing.T) {
	const (
		rA ResourceID = iota + 1
		rB
		rOK
	)
	entries := entriesFor(
		computeNode("healthy", nil, writes(rOK, StageComputeShader)),
		computeNode("ping", reads(rB, StageComputeShader), writes(rA, StageComputeShader)),
		computeNode("pong", reads(rA, StageComputeShader), writes(rB, StageComputeShader)),
		graphicsNode("consumer", reads(rOK, StageFragmentShader), nil),
	)

	report, err := compile(entries)
	if err == nil {
		t.Fatal("expected cycle error")
	}
	if !orderEqual(report.Order, 1, 4) {
		t.Errorf("Order = %v, want acyclic prefix [1 4]", report.Order)
	}
	if !orderEqual(report.Excluded, 2, 3) {
		t.Errorf("Excluded = %v, want [2 3]", report.Excluded)
	}
}

func TestCompile_DownstreamOfCycleExcluded(t *testing.T) {
	const (
		rA ResourceID = iota + 1
		rB
	)
	entries := entriesFor(
		computeNode("ping", reads(rB, StageComputeShader), writes(rA, StageComputeShader)),
		computeNode("pong", reads(rA, StageComputeShader), writes(rB, StageComputeShader)),
		// Depends on cyclic output: cannot be scheduled either.
		graphicsNode("victim", reads(rA, StageFragmentShader), nil),
	)

	report, err := compile(entries)
	if err == nil {
		t.Fatal("expected cycle error")
	}
	if !orderEqual(report.Excluded, 1, 2, 3) {
		t.Errorf("Excluded = %v, want the cycle and its dependents", report.Excluded)
	}
}

func TestCycleError_MessageNamesChain(t *testing.T) {
	entries := entriesFor(
		computeNode("ping", reads(2, StageComputeShader), writes(1, StageComputeShader)),
		computeNode("pong", reads(1, StageComputeShader), writes(2, StageComputeShader)),
	)
	_, err := compile(entries)
	if err == nil {
		t.Fatal("expected cycle error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "cycle") || !strings.Contains(msg, "->") {
		t.Errorf("Error() = %q, want a chain description", msg)
	}
}

func TestSuggestResolutions_NameNodes(t *testing.T) {
	entries := entriesFor(
		computeNode("ping", reads(2, StageComputeShader), writes(1, StageComputeShader)),
		computeNode("pong", reads(1, StageComputeShader), writes(2, StageComputeShader)),
	)
	_, err := compile(entries)
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("err = %T, want *CycleError", err)
	}
	joined := strings.Join(cycleErr.Suggestions, "\n")
	if !strings.Contains(joined, "ping") || !strings.Contains(joined, "pong") {
		t.Errorf("suggestions do not name the cyclic nodes:\n%s", joined)
	}
}

// =============================================================================
// Dependency Graph Construction
// =============================================================================

func TestBuildDepGraph_LastWriterWins(t *testing.T) {
	const shared ResourceID = 5
	entries := entriesFor(
		computeNode("first_writer", nil, writes(shared, StageComputeShader)),
		computeNode("second_writer", nil, writes(shared, StageComputeShader)),
		graphicsNode("reader", reads(shared, StageFragmentShader), nil),
	)

	g := buildDepGraph(entries)
	if got := g.adjacency[2]; len(got) != 1 || got[0] != 3 {
		t.Errorf("adjacency[second_writer] = %v, want [reader]", got)
	}
	if got := g.adjacency[1]; len(got) != 0 {
		t.Errorf("adjacency[first_writer] = %v, want none (last writer wins)", got)
	}
}

func TestBuildDepGraph_OneEdgePerNodePair(t *testing.T) {
	const (
		r1 ResourceID = iota + 1
		r2
	)
	producer := computeNode("producer", nil,
		append(writes(r1, StageComputeShader), writes(r2, StageComputeShader)...))
	consumer := graphicsNode("consumer",
		append(reads(r1, StageFragmentShader), reads(r2, StageFragmentShader)...), nil)
	g := buildDepGraph(entriesFor(producer, consumer))

	if got := g.adjacency[1]; len(got) != 1 {
		t.Errorf("adjacency[producer] = %v, want a single collapsed edge", got)
	}
	if g.inDegree[2] != 1 {
		t.Errorf("inDegree[consumer] = %d, want 1", g.inDegree[2])
	}
}

func TestBuildDepGraph_InvalidResourceIgnored(t *testing.T) {
	entries := entriesFor(
		computeNode("a", nil, writes(InvalidResource, StageComputeShader)),
		computeNode("b", reads(InvalidResource, StageComputeShader), nil),
	)
	g := buildDepGraph(entries)
	if g.inDegree[2] != 0 {
		t.Errorf("InvalidResource created an edge: inDegree = %d", g.inDegree[2])
	}
}
