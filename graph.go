package framegraph

import (
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/wgpu/hal"
)

// GraphState is the orchestrator lifecycle state.
type GraphState int

const (
	// StateUninitialized is the state before Initialize and after Shutdown.
	StateUninitialized GraphState = iota
	// StateInitialized means device and queues are bound but no valid
	// execution order exists.
	StateInitialized
	// StateCompiled means a valid (possibly partial) order and its barrier
	// batches are cached.
	StateCompiled
	// StateExecuting is transient while a frame is being recorded.
	StateExecuting
)

// String returns the string representation of GraphState.
func (s GraphState) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateInitialized:
		return "Initialized"
	case StateCompiled:
		return "Compiled"
	case StateExecuting:
		return "Executing"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Config binds the graph to its collaborators. Device and Allocator plus
// at least one queue are required; the monitors are optional.
type Config struct {
	// Device records command buffers. Required.
	Device Device

	// Allocator backs resource creation. Required.
	Allocator Allocator

	// ComputeQueue and GraphicsQueue are the submission targets the
	// recorded command buffers are meant for. The graph never submits;
	// the handles exist so callers can route ExecutionResult buffers.
	// At least one must be non-nil.
	ComputeQueue  hal.Queue
	GraphicsQueue hal.Queue

	// Health optionally wraps compute-capable node execution with
	// dispatch monitoring. Nil disables health checkpoints.
	Health HealthMonitor

	// Pressure optionally reports external memory pressure consumed
	// before each frame. Nil disables pressure-driven eviction.
	Pressure PressureSource

	// Resources tunes the resource manager. Allocator, Telemetry and
	// Pressure fields are overwritten from this Config.
	Resources ResourceManagerConfig
}

// ExecutionResult reports which queues a frame populated and carries the
// finished command buffers for the caller's submission service.
type ExecutionResult struct {
	// ComputeUsed reports whether the compute command buffer was recorded.
	ComputeUsed bool
	// GraphicsUsed reports whether the graphics command buffer was recorded.
	GraphicsUsed bool
	// ComputeCommands is the finished compute command buffer, nil when unused.
	ComputeCommands hal.CommandBuffer
	// GraphicsCommands is the finished graphics command buffer, nil when unused.
	GraphicsCommands hal.CommandBuffer
	// NodesExecuted counts nodes that recorded work this frame.
	NodesExecuted int
}

// ExecContext is handed to every node Execute call.
type ExecContext struct {
	// Frame carries the per-frame parameters.
	Frame FrameData
	// Queue is the queue this node's commands are recorded on.
	Queue QueueKind
	// Encoder is the command encoder for Queue.
	Encoder CommandEncoder
	// ComputeEncoder and GraphicsEncoder are the frame's encoders; either
	// may be nil when the corresponding queue is unused this frame.
	ComputeEncoder  CommandEncoder
	GraphicsEncoder CommandEncoder
	// Barriers is the batch flushed immediately before this node, nil
	// when the node needed none.
	Barriers *BarrierBatch
	// Resources resolves declared dependency ids to handles.
	Resources *ResourceManager
	// Graph is the owning orchestrator.
	Graph *Graph
}

// Graph owns nodes and resources and drives compile, execute and reset
// cycles over two hardware queues. A single CPU thread must drive it:
// command recording is not safe to parallelize across nodes.
type Graph struct {
	mu sync.Mutex

	state     GraphState
	device    Device
	computeQ  hal.Queue
	graphicsQ hal.Queue
	health    HealthMonitor
	pressure  PressureSource

	resources *ResourceManager
	telemetry *Telemetry

	// Node registry in insertion order. nextNode issues stable ids.
	entries  []*nodeEntry
	byID     map[NodeID]*nodeEntry
	nextNode NodeID

	// topoGen increments on every node add/remove; compiledGen records
	// the generation the cached schedule was derived from. Recompilation
	// is topology-triggered, never frame-triggered.
	topoGen     uint64
	compiledGen uint64

	compiled  bool
	order     []NodeID
	excluded  []NodeID
	barriers  map[NodeID]*BarrierBatch
	lastCycle *CycleError

	initTime  time.Time
	lastFrame time.Time
}

// NewGraph returns an uninitialized graph. Call Initialize before use.
func NewGraph() *Graph {
	return &Graph{
		byID:      make(map[NodeID]*nodeEntry),
		nextNode:  1,
		telemetry: &Telemetry{},
	}
}

// Initialize binds the device and queue context. It fails fast when the
// device, the allocator, or both queues are missing.
func (g *Graph) Initialize(cfg Config) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != StateUninitialized {
		return ErrAlreadyInitialized
	}
	if cfg.Device == nil {
		return ErrNilDevice
	}
	if cfg.Allocator == nil {
		return ErrNilAllocator
	}
	if cfg.ComputeQueue == nil && cfg.GraphicsQueue == nil {
		return ErrNilQueue
	}

	rmCfg := cfg.Resources
	rmCfg.Allocator = cfg.Allocator
	rmCfg.Telemetry = g.telemetry
	rmCfg.Pressure = cfg.Pressure
	rm, err := NewResourceManager(rmCfg)
	if err != nil {
		return err
	}

	g.device = cfg.Device
	g.computeQ = cfg.ComputeQueue
	g.graphicsQ = cfg.GraphicsQueue
	g.health = cfg.Health
	g.pressure = cfg.Pressure
	g.resources = rm
	g.initTime = time.Now()
	g.lastFrame = g.initTime
	g.state = StateInitialized

	Logger().Info("framegraph: initialized",
		"compute_queue", cfg.ComputeQueue != nil,
		"graphics_queue", cfg.GraphicsQueue != nil,
		"health_monitor", cfg.Health != nil,
		"pressure_source", cfg.Pressure != nil)
	return nil
}

// Shutdown releases all owned resources and returns the graph to the
// uninitialized state. Nodes are dropped; a new session starts from
// Initialize and AddNode.
func (g *Graph) Shutdown() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == StateUninitialized {
		return
	}
	if g.resources != nil {
		g.resources.Shutdown()
	}
	g.entries = nil
	g.byID = make(map[NodeID]*nodeEntry)
	g.compiled = false
	g.order = nil
	g.excluded = nil
	g.barriers = nil
	g.lastCycle = nil
	g.device = nil
	g.computeQ = nil
	g.graphicsQ = nil
	g.resources = nil
	g.state = StateUninitialized
	Logger().Info("framegraph: shut down")
}

// State returns the current lifecycle state.
func (g *Graph) State() GraphState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Resources returns the resource manager. Nil before Initialize.
func (g *Graph) Resources() *ResourceManager { return g.resources }

// Telemetry returns the instance-scoped counters.
func (g *Graph) Telemetry() *Telemetry { return g.telemetry }

// ComputeQueue returns the compute submission target handle.
func (g *Graph) ComputeQueue() hal.Queue { return g.computeQ }

// GraphicsQueue returns the graphics submission target handle.
func (g *Graph) GraphicsQueue() hal.Queue { return g.graphicsQ }

// AddNode registers a node and returns its stable id. Adding a node
// changes the topology, so the next frame recompiles.
func (g *Graph) AddNode(n Node) (NodeID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == StateUninitialized {
		return InvalidNode, ErrNotInitialized
	}
	if g.state == StateExecuting {
		return InvalidNode, ErrExecuting
	}
	if n == nil {
		return InvalidNode, ErrNilNode
	}

	e := &nodeEntry{id: g.nextNode, node: n}
	g.nextNode++
	// Optional capabilities are detected once here, never per frame.
	if u, ok := n.(FrameUpdater); ok {
		e.updater = u
	}
	if s, ok := n.(WorkloadEstimator); ok {
		e.sizer = s
	}
	g.entries = append(g.entries, e)
	g.byID[e.id] = e
	g.topoGen++

	Logger().Debug("framegraph: node added", "id", uint32(e.id), "name", n.Name())
	return e.id, nil
}

// RemoveNode unregisters a node. The next frame recompiles.
func (g *Graph) RemoveNode(id NodeID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == StateExecuting {
		return ErrExecuting
	}
	e := g.byID[id]
	if e == nil {
		return fmt.Errorf("%w: %d", ErrUnknownNode, id)
	}
	delete(g.byID, id)
	for i, have := range g.entries {
		if have == e {
			g.entries = append(g.entries[:i], g.entries[i+1:]...)
			break
		}
	}
	g.topoGen++
	Logger().Debug("framegraph: node removed", "id", uint32(id), "name", e.node.Name())
	return nil
}

// NodeCount returns the number of registered nodes.
func (g *Graph) NodeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

// Reset purges frame-transient resources. The compiled order and barrier
// batches are kept when the node topology did not change since the last
// compile; a topology change invalidates them.
func (g *Graph) Reset() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == StateUninitialized {
		return ErrNotInitialized
	}
	if g.state == StateExecuting {
		return ErrExecuting
	}
	g.resources.Reset()
	if g.compiled && g.compiledGen != g.topoGen {
		g.invalidateScheduleLocked()
	}
	return nil
}

// Compile orders the graph and plans barrier batches. On a cycle it falls
// back to the maximal acyclic prefix, excluding the problematic nodes so
// the caller can render a degraded but alive frame; CycleDiagnostics
// retains the full report. On total failure the previously compiled
// schedule is restored verbatim, so a bad topology change never leaves the
// graph without its last working schedule.
func (g *Graph) Compile() (CompileReport, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.compileLocked()
}

func (g *Graph) compileLocked() (CompileReport, error) {
	if g.state == StateUninitialized {
		return CompileReport{}, ErrNotInitialized
	}
	if g.state == StateExecuting {
		return CompileReport{}, ErrExecuting
	}

	// Transactional compilation: snapshot the working schedule first.
	prev := struct {
		compiled    bool
		order       []NodeID
		excluded    []NodeID
		barriers    map[NodeID]*BarrierBatch
		compiledGen uint64
		state       GraphState
	}{g.compiled, g.order, g.excluded, g.barriers, g.compiledGen, g.state}

	report, err := compile(g.entries)
	if err != nil {
		cycleErr, _ := err.(*CycleError)
		g.lastCycle = cycleErr
		if len(report.Order) == 0 {
			// Total failure: restore the pre-compile snapshot verbatim.
			g.compiled = prev.compiled
			g.order = prev.order
			g.excluded = prev.excluded
			g.barriers = prev.barriers
			g.compiledGen = prev.compiledGen
			g.state = prev.state
			Logger().Error("framegraph: compilation failed, previous schedule restored",
				"err", err)
			return report, err
		}
		var suggestions []string
		if cycleErr != nil {
			suggestions = cycleErr.Suggestions
		}
		g.telemetry.partialCompiles.Add(1)
		Logger().Warn("framegraph: partial compilation, problematic nodes excluded",
			"included", len(report.Order),
			"excluded", len(report.Excluded),
			"suggestions", suggestions)
	} else {
		g.lastCycle = nil
		g.telemetry.compiles.Add(1)
	}

	g.order = report.Order
	g.excluded = report.Excluded
	g.barriers = planBarriers(report.Order, g.byID, g.resources)
	g.compiled = true
	g.compiledGen = g.topoGen
	g.state = StateCompiled

	// One-time setup hooks for newly included nodes.
	for _, id := range g.order {
		e := g.byID[id]
		if e == nil || e.setup {
			continue
		}
		if setupErr := e.node.Setup(g); setupErr != nil {
			Logger().Error("framegraph: node setup failed",
				"node", e.node.Name(), "err", setupErr)
			g.compiled = prev.compiled
			g.order = prev.order
			g.excluded = prev.excluded
			g.barriers = prev.barriers
			g.compiledGen = prev.compiledGen
			g.state = prev.state
			return CompileReport{}, fmt.Errorf("setup of node %q: %w", e.node.Name(), setupErr)
		}
		e.setup = true
	}

	Logger().Debug("framegraph: compiled",
		"nodes", len(g.order),
		"excluded", len(g.excluded),
		"barrier_batches", len(g.barriers),
		"partial", report.Partial)
	return report, nil
}

// CycleDiagnostics returns the cycle report of the most recent failed or
// partial compilation, or nil when the last compile was clean.
func (g *Graph) CycleDiagnostics() *CycleError {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastCycle
}

// Order returns the compiled execution order. Valid only until the next
// topology change.
func (g *Graph) Order() []NodeID {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]NodeID, len(g.order))
	copy(out, g.order)
	return out
}

// ExcludedNodes returns the nodes excluded by the last partial compile.
func (g *Graph) ExcludedNodes() []NodeID {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]NodeID, len(g.excluded))
	copy(out, g.excluded)
	return out
}

// invalidateScheduleLocked drops the cached order and barriers.
func (g *Graph) invalidateScheduleLocked() {
	g.compiled = false
	g.order = nil
	g.excluded = nil
	g.barriers = nil
	if g.state == StateCompiled {
		g.state = StateInitialized
	}
}

// Execute records one frame. It compiles first when no valid schedule is
// cached, runs eviction under critical memory pressure, begins only the
// command buffers the compiled order actually needs, walks the order
// flushing barrier batches before their consuming nodes, and ends the
// command buffers. Submission is the caller's responsibility; the result
// carries the finished buffers and which queues they target.
//
// When a health monitor is attached, compute-capable node execution is
// wrapped in dispatch checkpoints; an unhealthy report aborts the frame
// after the encoders are properly closed.
func (g *Graph) Execute(frameIndex uint64) (ExecutionResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == StateUninitialized {
		return ExecutionResult{}, ErrNotInitialized
	}
	if g.state == StateExecuting {
		return ExecutionResult{}, ErrExecuting
	}
	if !g.compiled || g.compiledGen != g.topoGen {
		if _, err := g.compileLocked(); err != nil {
			if !g.compiled {
				return ExecutionResult{}, fmt.Errorf("%w: %w", ErrNotCompiled, err)
			}
			// A restored previous schedule is still runnable.
			Logger().Warn("framegraph: executing last-known-good schedule", "err", err)
		}
	}

	// Memory pressure gate: cleanup stats then eviction, before any
	// recording touches the resource table.
	if g.resources.MemoryPressureCritical() {
		stats := g.resources.Stats()
		evicted := g.resources.EvictNonCriticalResources()
		Logger().Warn("framegraph: critical memory pressure",
			"pressure", g.pressure.MemoryPressure(),
			"before", stats.String(),
			"evicted", evicted)
	}

	g.state = StateExecuting
	defer func() {
		if g.state == StateExecuting {
			g.state = StateCompiled
		}
	}()

	frame := g.nextFrameData(frameIndex)
	for _, e := range g.entries {
		if e.updater != nil {
			e.updater.UpdateFrame(frame)
		}
	}

	// Scan the compiled order for the queues actually used this frame.
	var needCompute, needGraphics bool
	for _, id := range g.order {
		e := g.byID[id]
		if e == nil {
			continue
		}
		if e.node.NeedsComputeQueue() {
			needCompute = true
		}
		if e.node.NeedsGraphicsQueue() {
			needGraphics = true
		}
	}
	needCompute = needCompute && g.computeQ != nil
	needGraphics = needGraphics && g.graphicsQ != nil

	var computeEnc, graphicsEnc CommandEncoder
	var err error
	if needCompute {
		computeEnc, err = g.beginEncoder("framegraph_compute")
		if err != nil {
			return ExecutionResult{}, err
		}
	}
	if needGraphics {
		graphicsEnc, err = g.beginEncoder("framegraph_graphics")
		if err != nil {
			discard(computeEnc)
			return ExecutionResult{}, err
		}
	}

	abort := func(cause error) (ExecutionResult, error) {
		// Encoders are closed (not leaked mid-recording) before the
		// failure propagates, so the device never sees a dangling
		// recording state.
		discard(computeEnc)
		discard(graphicsEnc)
		g.telemetry.framesAborted.Add(1)
		return ExecutionResult{}, cause
	}

	executed := 0
	for _, id := range g.order {
		e := g.byID[id]
		if e == nil {
			continue
		}
		queue := queueFor(e.node)
		enc := graphicsEnc
		if queue == QueueCompute {
			enc = computeEnc
		}
		if enc == nil {
			// Node targets a queue that was not configured; skip rather
			// than dereference a missing encoder.
			Logger().Warn("framegraph: node skipped, queue unavailable",
				"node", e.node.Name(), "queue", queue.String())
			continue
		}

		batch := g.barriers[id]
		flushBatch(enc, batch, g.telemetry)

		monitored := g.health != nil && e.node.NeedsComputeQueue()
		if monitored {
			var hint uint64
			if e.sizer != nil {
				hint = e.sizer.WorkloadHint()
			}
			g.health.BeginDispatch(e.node.Name(), hint)
			if !g.health.IsHealthy() {
				g.health.EndDispatch()
				Logger().Error("framegraph: device unhealthy before dispatch",
					"node", e.node.Name(), "frame", frameIndex)
				return abort(fmt.Errorf("%w: before %q", ErrUnhealthyDevice, e.node.Name()))
			}
		}

		ec := &ExecContext{
			Frame:           frame,
			Queue:           queue,
			Encoder:         enc,
			ComputeEncoder:  computeEnc,
			GraphicsEncoder: graphicsEnc,
			Barriers:        batch,
			Resources:       g.resources,
			Graph:           g,
		}
		execErr := e.node.Execute(ec)

		if monitored {
			g.health.EndDispatch()
			if !g.health.IsHealthy() {
				Logger().Error("framegraph: device unhealthy after dispatch",
					"node", e.node.Name(), "frame", frameIndex)
				return abort(fmt.Errorf("%w: after %q", ErrUnhealthyDevice, e.node.Name()))
			}
		}
		if execErr != nil {
			Logger().Error("framegraph: node execution failed",
				"node", e.node.Name(), "frame", frameIndex, "err", execErr)
			return abort(fmt.Errorf("%w: %q: %w", ErrNodeFailed, e.node.Name(), execErr))
		}
		executed++
	}

	result := ExecutionResult{NodesExecuted: executed}
	if computeEnc != nil {
		buf, endErr := computeEnc.EndEncoding()
		if endErr != nil {
			discard(graphicsEnc)
			g.telemetry.framesAborted.Add(1)
			return ExecutionResult{}, fmt.Errorf("end compute encoding: %w", endErr)
		}
		result.ComputeUsed = true
		result.ComputeCommands = buf
	}
	if graphicsEnc != nil {
		buf, endErr := graphicsEnc.EndEncoding()
		if endErr != nil {
			g.telemetry.framesAborted.Add(1)
			return ExecutionResult{}, fmt.Errorf("end graphics encoding: %w", endErr)
		}
		result.GraphicsUsed = true
		result.GraphicsCommands = buf
	}

	g.telemetry.framesExecuted.Add(1)
	Logger().Debug("framegraph: frame recorded",
		"frame", frameIndex,
		"nodes", executed,
		"compute", result.ComputeUsed,
		"graphics", result.GraphicsUsed)
	return result, nil
}

// FreeCommandBuffers releases the command buffers of a result after the
// caller has submitted (or abandoned) them.
func (g *Graph) FreeCommandBuffers(result ExecutionResult) {
	if g.device == nil {
		return
	}
	if result.ComputeCommands != nil {
		g.device.FreeCommandBuffer(result.ComputeCommands)
	}
	if result.GraphicsCommands != nil {
		g.device.FreeCommandBuffer(result.GraphicsCommands)
	}
}

// beginEncoder creates and begins one labeled per-frame encoder.
func (g *Graph) beginEncoder(label string) (CommandEncoder, error) {
	enc, err := g.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return nil, fmt.Errorf("create %s encoder: %w", label, err)
	}
	if err := enc.BeginEncoding(label); err != nil {
		return nil, fmt.Errorf("begin %s encoding: %w", label, err)
	}
	return enc, nil
}

// discard abandons a possibly-nil encoder.
func discard(enc CommandEncoder) {
	if enc != nil {
		enc.DiscardEncoding()
	}
}

// nextFrameData derives the per-frame parameters pushed into nodes.
func (g *Graph) nextFrameData(frameIndex uint64) FrameData {
	now := time.Now()
	fd := FrameData{
		Time:       now.Sub(g.initTime).Seconds(),
		Delta:      now.Sub(g.lastFrame).Seconds(),
		FrameIndex: frameIndex,
	}
	g.lastFrame = now
	return fd
}
