package framegraph

import "fmt"

// NodeID identifies a node registered with a graph. Ids are issued by
// AddNode, are stable for the session, and are never reused.
type NodeID uint32

// InvalidNode is never issued for a registered node.
const InvalidNode NodeID = 0

// Dependency declares one resource access of a node.
type Dependency struct {
	// Resource is the accessed resource id.
	Resource ResourceID
	// Access is how the node touches the resource.
	Access AccessMode
	// Stage is the pipeline stage the access happens at.
	Stage PipelineStage
}

// String returns a compact representation for diagnostics.
func (d Dependency) String() string {
	return fmt.Sprintf("%d/%s@%s", uint32(d.Resource), d.Access, d.Stage)
}

// FrameData carries the per-frame parameters pushed into nodes before
// execution. Nodes receive it through the optional FrameUpdater interface.
type FrameData struct {
	// Time is seconds since graph initialization.
	Time float64
	// Delta is seconds since the previous executed frame.
	Delta float64
	// FrameIndex is the caller-supplied frame counter.
	FrameIndex uint64
}

// Node is a unit of GPU work scheduled by the graph. Nodes are created
// once per session and mutated in place for per-frame parameters; they are
// never recreated mid-session.
//
// Inputs and Outputs declare the resource dependencies the compiler orders
// by: an edge exists from the node producing a resource to every node
// consuming it. Declarations must be stable between AddNode and Shutdown;
// changing them requires removing and re-adding the node.
type Node interface {
	// Name is the human-readable node name used in logs and diagnostics.
	Name() string

	// Inputs are the resources this node consumes.
	Inputs() []Dependency

	// Outputs are the resources this node produces.
	Outputs() []Dependency

	// NeedsComputeQueue reports whether the node records compute work.
	NeedsComputeQueue() bool

	// NeedsGraphicsQueue reports whether the node records graphics work.
	NeedsGraphicsQueue() bool

	// Setup is invoked once after the first successful compilation that
	// includes the node. Pipeline and bind group creation belongs here.
	Setup(g *Graph) error

	// Execute records the node's GPU commands. The context carries the
	// command encoders for the queues active this frame and the barrier
	// batch already flushed on the node's behalf.
	Execute(ec *ExecContext) error
}

// FrameUpdater is an optional Node interface. Nodes implementing it
// receive per-frame parameters before each Execute. The graph detects the
// interface once at AddNode, so there is no per-frame type inspection.
type FrameUpdater interface {
	UpdateFrame(fd FrameData)
}

// nodeEntry is the graph's bookkeeping for one registered node.
type nodeEntry struct {
	id      NodeID
	node    Node
	updater FrameUpdater // nil unless the node implements FrameUpdater
	sizer   WorkloadEstimator
	setup   bool
}

// queueFor returns the queue a node's commands are recorded on. Nodes
// flagged for compute run on the compute queue even when they also touch
// graphics state; pure graphics nodes run on the graphics queue.
func queueFor(n Node) QueueKind {
	if n.NeedsComputeQueue() {
		return QueueCompute
	}
	return QueueGraphics
}
