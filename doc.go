// Package framegraph schedules per-frame GPU work across a compute and a
// graphics queue for the GoGPU ecosystem.
//
// # Overview
//
// A frame graph is built once per session from nodes that declare which
// resources they read and write. Each frame, the graph compiles (when the
// topology changed) a topological execution order from those declarations,
// plans the memory barriers required between producers and consumers, and
// records the frame's command buffers. Submission, presentation and fence
// management stay with the caller.
//
// # Quick Start
//
//	g := framegraph.NewGraph()
//	err := g.Initialize(framegraph.Config{
//		Device:        framegraph.WrapHAL(device),
//		Allocator:     framegraph.NewHALAllocator(device),
//		ComputeQueue:  computeQueue,
//		GraphicsQueue: graphicsQueue,
//	})
//
//	particles := g.Resources().CreateBuffer("particle_positions", 1<<20,
//		gputypes.BufferUsageStorage|gputypes.BufferUsageCopySrc)
//
//	simID, _ := g.AddNode(simNode)   // compute, writes particle_positions
//	drawID, _ := g.AddNode(drawNode) // graphics, reads particle_positions
//
//	result, err := g.Execute(frameIndex)
//	// result carries the recorded command buffers for submission.
//
// # Architecture
//
// The package is organized around four cooperating pieces:
//   - ResourceManager: GPU buffer/image lifetime, tiered allocation
//     fallback, eviction under memory pressure
//   - compiler: producer/consumer ordering with cycle diagnosis and
//     partial-graph fallback
//   - barrier planning: minimal per-node barrier batches, replayed each
//     frame without recomputation
//   - Graph: the orchestrator driving compile, execute and reset cycles
//
// A single thread must drive the graph: command recording is not safe to
// parallelize across nodes. The two GPU queues still overlap on the
// device when the caller arranges semaphore ordering at submission.
package framegraph
