package framegraph

import (
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// BufferBarrier orders access to one buffer between a writing node and a
// consuming node. The wgpu hal synchronizes same-queue buffer access at
// pass boundaries, so buffer barriers are not an encoder call; they carry
// the stage and access masks the caller needs for cross-queue semaphore
// ordering, and they are surfaced on the consuming node's ExecContext.
type BufferBarrier struct {
	Buffer    hal.Buffer
	SrcStage  PipelineStage
	DstStage  PipelineStage
	SrcAccess AccessMode
	DstAccess AccessMode
	Offset    uint64
	Size      uint64
}

// ImageBarrier transitions one image between the usage implied by its last
// writer and the usage its consumer needs. Applied through the encoder's
// texture transition verb immediately before the consuming node runs.
type ImageBarrier struct {
	Texture   hal.Texture
	SrcStage  PipelineStage
	DstStage  PipelineStage
	SrcAccess AccessMode
	DstAccess AccessMode
	OldUsage  gputypes.TextureUsage
	NewUsage  gputypes.TextureUsage
}

// BarrierBatch is the set of barriers to insert immediately before one
// node executes. Batching per target node (instead of per edge) issues a
// single transition call per node, avoiding redundant pipeline stalls when
// a node consumes several written resources.
//
// Batches are computed once at compile time and replayed every frame.
type BarrierBatch struct {
	// Target is the consuming node the batch precedes.
	Target NodeID
	// SrcStages and DstStages are the unions of the member masks.
	SrcStages PipelineStage
	DstStages PipelineStage
	// CrossQueue reports whether any member crosses the compute/graphics
	// boundary. Cross-queue batches additionally require semaphore
	// ordering at submission, which is the caller's concern.
	CrossQueue bool

	Buffers []BufferBarrier
	Images  []ImageBarrier
}

// Empty reports whether the batch carries no barriers.
func (b *BarrierBatch) Empty() bool { return len(b.Buffers) == 0 && len(b.Images) == 0 }

// Len returns the number of individual barriers in the batch.
func (b *BarrierBatch) Len() int { return len(b.Buffers) + len(b.Images) }

// lastWrite tracks the most recent writer of a resource during planning.
type lastWrite struct {
	node   NodeID
	queue  QueueKind
	stage  PipelineStage
	access AccessMode
}

// planBarriers walks the execution order once, tracking the last writer of
// every resource, and emits a barrier batch per consuming node.
//
// A barrier is required when writer and consumer are on different queues
// (queue transition), or on the same queue whenever the prior access was
// not read-only on both sides. Because the write tracker only records
// actual writes, pure read-after-read never reaches the emit path.
func planBarriers(order []NodeID, entries map[NodeID]*nodeEntry, res *ResourceManager) map[NodeID]*BarrierBatch {
	writes := make(map[ResourceID]lastWrite)
	batches := make(map[NodeID]*BarrierBatch)

	record := func(id NodeID, queue QueueKind, deps []Dependency) {
		for _, d := range deps {
			if !d.Access.IsWrite() || !d.Resource.IsValid() {
				continue
			}
			writes[d.Resource] = lastWrite{node: id, queue: queue, stage: d.Stage, access: d.Access}
		}
	}

	for _, id := range order {
		e := entries[id]
		if e == nil {
			continue
		}
		queue := queueFor(e.node)

		for _, in := range e.node.Inputs() {
			w, written := writes[in.Resource]
			if !written || w.node == id {
				continue
			}
			crossQueue := w.queue != queue
			// Same-queue read-after-read needs no ordering; the tracker
			// only holds writes, so every hit here involves a write on
			// the producer side.
			if !crossQueue && !w.access.IsWrite() && !in.Access.IsWrite() {
				continue
			}
			appendBarrier(batches, id, crossQueue, w, in, res)
		}

		// Writes declared as ReadWrite inputs hazard later consumers too.
		record(id, queue, e.node.Inputs())
		record(id, queue, e.node.Outputs())
	}
	return batches
}

// appendBarrier adds one deduplicated barrier to the target node's batch.
func appendBarrier(batches map[NodeID]*BarrierBatch, target NodeID, crossQueue bool, w lastWrite, in Dependency, res *ResourceManager) {
	batch := batches[target]
	if batch == nil {
		batch = &BarrierBatch{Target: target}
		batches[target] = batch
	}

	r := res.Lookup(in.Resource)
	if r == nil {
		return
	}

	switch r.Kind() {
	case ResourceBuffer:
		bb := BufferBarrier{
			Buffer:    r.buffer,
			SrcStage:  w.stage,
			DstStage:  in.Stage,
			SrcAccess: w.access,
			DstAccess: in.Access,
			Offset:    0,
			Size:      r.size,
		}
		for _, have := range batch.Buffers {
			if have == bb {
				return
			}
		}
		batch.Buffers = append(batch.Buffers, bb)
	case ResourceImage:
		ib := ImageBarrier{
			Texture:   r.image,
			SrcStage:  w.stage,
			DstStage:  in.Stage,
			SrcAccess: w.access,
			DstAccess: in.Access,
			OldUsage:  usageForAccess(r, w.stage, w.access),
			NewUsage:  usageForAccess(r, in.Stage, in.Access),
		}
		for _, have := range batch.Images {
			if have == ib {
				return
			}
		}
		batch.Images = append(batch.Images, ib)
	}

	batch.SrcStages |= w.stage
	batch.DstStages |= in.Stage
	batch.CrossQueue = batch.CrossQueue || crossQueue
}

// usageForAccess maps a stage/access pair onto the texture usage state the
// hal transition verb understands.
func usageForAccess(r *Resource, stage PipelineStage, access AccessMode) gputypes.TextureUsage {
	switch {
	case stage&StageTransfer != 0 && access.IsWrite():
		return gputypes.TextureUsageCopyDst
	case stage&StageTransfer != 0:
		return gputypes.TextureUsageCopySrc
	case stage&StageColorOutput != 0:
		return gputypes.TextureUsageRenderAttachment
	case access.IsWrite() && r.imageUsage&gputypes.TextureUsageRenderAttachment != 0:
		return gputypes.TextureUsageRenderAttachment
	default:
		return gputypes.TextureUsageTextureBinding
	}
}

// flushBatch applies a batch on the consuming node's encoder. Image
// transitions go through TransitionTextures; buffer members are counted
// only (see BufferBarrier).
func flushBatch(enc CommandEncoder, batch *BarrierBatch, tel *Telemetry) {
	if batch == nil || batch.Empty() {
		return
	}
	if len(batch.Images) > 0 {
		transitions := make([]hal.TextureBarrier, 0, len(batch.Images))
		// Usage-stable images still go through the transition call: it
		// provides the execution dependency even without a layout change
		// on Vulkan-class backends.
		for _, ib := range batch.Images {
			transitions = append(transitions, hal.TextureBarrier{
				Texture: ib.Texture,
				Usage: hal.TextureUsageTransition{
					OldUsage: ib.OldUsage,
					NewUsage: ib.NewUsage,
				},
			})
		}
		enc.TransitionTextures(transitions)
	}
	tel.barriersEmitted.Add(uint64(batch.Len()))
	Logger().Debug("framegraph: barrier batch flushed",
		"target", uint32(batch.Target),
		"buffers", len(batch.Buffers),
		"images", len(batch.Images),
		"cross_queue", batch.CrossQueue)
}
