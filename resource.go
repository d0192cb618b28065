package framegraph

import (
	"fmt"
	"strings"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// ResourceID identifies a resource tracked by the resource manager.
// Ids are issued monotonically and never reused within a session.
type ResourceID uint32

// InvalidResource is the sentinel returned by failed create and import
// calls. It is never issued for a live resource.
const InvalidResource ResourceID = 0

// IsValid reports whether the id refers to an issued resource.
func (id ResourceID) IsValid() bool { return id != InvalidResource }

// ResourceKind distinguishes the two resource variants.
type ResourceKind int

const (
	// ResourceBuffer is a GPU buffer with a byte size and usage flags.
	ResourceBuffer ResourceKind = iota
	// ResourceImage is a GPU texture with a format and extent.
	ResourceImage
)

// String returns the string representation of ResourceKind.
func (k ResourceKind) String() string {
	switch k {
	case ResourceBuffer:
		return "Buffer"
	case ResourceImage:
		return "Image"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// Criticality classifies a resource for allocation retries and eviction.
// Lower values are evicted first; Critical resources are never evicted
// and never fall back to host memory.
type Criticality int

const (
	// CriticalityFlexible resources tolerate any memory placement and are
	// the first eviction candidates.
	CriticalityFlexible Criticality = iota
	// CriticalityImportant resources prefer device-local memory but may
	// fall back to host-coherent placement.
	CriticalityImportant
	// CriticalityCritical resources require device-local memory; failure
	// to allocate is reported loudly instead of degraded silently.
	CriticalityCritical
)

// String returns the string representation of Criticality.
func (c Criticality) String() string {
	switch c {
	case CriticalityFlexible:
		return "Flexible"
	case CriticalityImportant:
		return "Important"
	case CriticalityCritical:
		return "Critical"
	default:
		return fmt.Sprintf("Unknown(%d)", int(c))
	}
}

// AccessMode describes how a node accesses a declared resource.
type AccessMode int

const (
	// AccessRead is a read-only access.
	AccessRead AccessMode = iota
	// AccessWrite is a write-only access.
	AccessWrite
	// AccessReadWrite is a combined read and write access.
	AccessReadWrite
)

// IsWrite reports whether the access mutates the resource.
func (m AccessMode) IsWrite() bool { return m == AccessWrite || m == AccessReadWrite }

// String returns the string representation of AccessMode.
func (m AccessMode) String() string {
	switch m {
	case AccessRead:
		return "Read"
	case AccessWrite:
		return "Write"
	case AccessReadWrite:
		return "ReadWrite"
	default:
		return fmt.Sprintf("Unknown(%d)", int(m))
	}
}

// PipelineStage is the pipeline stage a dependency is consumed or
// produced at. Stages combine into masks on barrier batches.
type PipelineStage uint32

const (
	// StageComputeShader covers compute shader execution.
	StageComputeShader PipelineStage = 1 << iota
	// StageVertexShader covers vertex shading and vertex/index fetch.
	StageVertexShader
	// StageFragmentShader covers fragment shading and sampled reads.
	StageFragmentShader
	// StageColorOutput covers color attachment writes and MSAA resolve.
	StageColorOutput
	// StageTransfer covers copy and clear operations.
	StageTransfer
)

// String returns the string representation of the stage mask.
func (s PipelineStage) String() string {
	if s == 0 {
		return "None"
	}
	names := []struct {
		bit  PipelineStage
		name string
	}{
		{StageComputeShader, "ComputeShader"},
		{StageVertexShader, "VertexShader"},
		{StageFragmentShader, "FragmentShader"},
		{StageColorOutput, "ColorOutput"},
		{StageTransfer, "Transfer"},
	}
	var parts []string
	rest := s
	for _, n := range names {
		if rest&n.bit != 0 {
			parts = append(parts, n.name)
			rest &^= n.bit
		}
	}
	if rest != 0 {
		parts = append(parts, fmt.Sprintf("Unknown(0x%x)", uint32(rest)))
	}
	return strings.Join(parts, "|")
}

// QueueKind identifies one of the two hardware queues the graph targets.
type QueueKind int

const (
	// QueueCompute is the asynchronous compute queue.
	QueueCompute QueueKind = iota
	// QueueGraphics is the graphics queue.
	QueueGraphics
)

// String returns the string representation of QueueKind.
func (q QueueKind) String() string {
	switch q {
	case QueueCompute:
		return "Compute"
	case QueueGraphics:
		return "Graphics"
	default:
		return fmt.Sprintf("Unknown(%d)", int(q))
	}
}

// Resource is a tracked GPU buffer or image. Internally created resources
// own their handles; imported resources borrow them and are never freed by
// the manager.
type Resource struct {
	id       ResourceID
	name     string
	kind     ResourceKind
	external bool
	// swapchain marks externally imported per-swapchain-image resources,
	// purged by RemoveSwapchainResources on swapchain recreation.
	swapchain bool

	// Buffer variant.
	buffer      hal.Buffer
	size        uint64
	bufferUsage gputypes.BufferUsage

	// Image variant.
	image      hal.Texture
	view       hal.TextureView
	format     gputypes.TextureFormat
	extent     hal.Extent3D
	imageUsage gputypes.TextureUsage

	// domain records where the allocation finally landed.
	domain MemoryDomain
}

// ID returns the resource id.
func (r *Resource) ID() ResourceID { return r.id }

// Name returns the debug name, unique among live resources.
func (r *Resource) Name() string { return r.name }

// Kind returns the resource variant.
func (r *Resource) Kind() ResourceKind { return r.kind }

// External reports whether the resource's lifecycle is owned elsewhere.
func (r *Resource) External() bool { return r.external }

// Size returns the byte size for buffers, 0 for images.
func (r *Resource) Size() uint64 { return r.size }

// Format returns the texture format for images.
func (r *Resource) Format() gputypes.TextureFormat { return r.format }

// Extent returns the texture extent for images.
func (r *Resource) Extent() hal.Extent3D { return r.extent }

// Domain returns the memory domain the allocation landed in.
func (r *Resource) Domain() MemoryDomain { return r.domain }

// cleanupInfo is per-resource bookkeeping that drives eviction ordering.
type cleanupInfo struct {
	lastAccess  time.Time
	accessCount uint64
	criticality Criticality
	canEvict    bool
}

// inferCriticality classifies a resource from its usage flags and name.
// Render targets and entity/position storage buffers are hot every frame
// and must not degrade to host memory; vertex, index and sampled data
// survives a slower placement; everything else is flexible.
func inferCriticality(kind ResourceKind, name string, bufUsage gputypes.BufferUsage, texUsage gputypes.TextureUsage) Criticality {
	lower := strings.ToLower(name)
	switch kind {
	case ResourceImage:
		if texUsage&gputypes.TextureUsageRenderAttachment != 0 {
			return CriticalityCritical
		}
		if texUsage&gputypes.TextureUsageTextureBinding != 0 {
			return CriticalityImportant
		}
	case ResourceBuffer:
		if bufUsage&gputypes.BufferUsageStorage != 0 &&
			(strings.Contains(lower, "entity") || strings.Contains(lower, "position")) {
			return CriticalityCritical
		}
		if bufUsage&(gputypes.BufferUsageVertex|gputypes.BufferUsageIndex) != 0 {
			return CriticalityImportant
		}
	}
	return CriticalityFlexible
}
