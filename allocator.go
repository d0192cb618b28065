package framegraph

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// MemoryDomain is the placement tier an allocation targets. Allocation
// falls through the tiers in declared order when the criticality class
// permits fallback.
type MemoryDomain int

const (
	// DomainDeviceLocal is dedicated GPU memory, the fastest placement.
	DomainDeviceLocal MemoryDomain = iota
	// DomainHostCoherent is host-visible, coherently mapped memory.
	DomainHostCoherent
	// DomainHostVisible is host-visible memory without coherency guarantees.
	DomainHostVisible
	// DomainAny accepts whatever compatible placement the backend offers.
	DomainAny
)

// String returns the string representation of MemoryDomain.
func (d MemoryDomain) String() string {
	switch d {
	case DomainDeviceLocal:
		return "DeviceLocal"
	case DomainHostCoherent:
		return "HostCoherent"
	case DomainHostVisible:
		return "HostVisible"
	case DomainAny:
		return "Any"
	default:
		return fmt.Sprintf("Unknown(%d)", int(d))
	}
}

// IsHost reports whether the domain places the allocation in host-visible
// memory, a throughput hazard for per-frame-hot resources.
func (d MemoryDomain) IsHost() bool {
	return d == DomainHostCoherent || d == DomainHostVisible
}

// Allocator abstracts buffer and image allocation with an explicit memory
// domain. Backends that distinguish device-local from host-visible heaps
// honor the domain directly; the hal-backed allocator maps host domains
// onto map-usage flags because the wgpu hal has no heap selection verb.
//
// Allocators return wrapped ErrNoCompatibleMemory for placements they
// cannot satisfy, which the retry strategy treats as a fall-through signal
// rather than a hard failure.
type Allocator interface {
	// AllocateBuffer creates a buffer placed in the given domain.
	AllocateBuffer(desc *hal.BufferDescriptor, domain MemoryDomain) (hal.Buffer, error)

	// FreeBuffer releases a buffer previously returned by AllocateBuffer.
	FreeBuffer(buf hal.Buffer)

	// AllocateTexture creates a texture placed in the given domain.
	AllocateTexture(desc *hal.TextureDescriptor, domain MemoryDomain) (hal.Texture, error)

	// FreeTexture releases a texture previously returned by AllocateTexture.
	FreeTexture(tex hal.Texture)

	// CreateTextureView creates a view over an allocated texture.
	CreateTextureView(tex hal.Texture, desc *hal.TextureViewDescriptor) (hal.TextureView, error)

	// DestroyTextureView releases a texture view.
	DestroyTextureView(view hal.TextureView)
}

// halAllocator adapts a hal.Device to the Allocator interface.
type halAllocator struct {
	device hal.Device
}

// NewHALAllocator returns an Allocator backed by a hal.Device.
//
// The wgpu hal exposes no explicit heap selection, so host domains are
// expressed through usage flags: host placements gain map-write usage so
// the backend allocates from a mappable heap. DomainDeviceLocal and
// DomainAny pass the descriptor through unchanged.
func NewHALAllocator(device hal.Device) Allocator {
	return &halAllocator{device: device}
}

func (a *halAllocator) AllocateBuffer(desc *hal.BufferDescriptor, domain MemoryDomain) (hal.Buffer, error) {
	if a.device == nil {
		return nil, ErrNilDevice
	}
	d := *desc
	if domain.IsHost() {
		d.Usage |= gputypes.BufferUsageMapWrite
	}
	buf, err := a.device.CreateBuffer(&d)
	if err != nil {
		return nil, fmt.Errorf("%w: %s in %s: %w", ErrNoCompatibleMemory, desc.Label, domain, err)
	}
	return buf, nil
}

func (a *halAllocator) FreeBuffer(buf hal.Buffer) {
	if a.device == nil || buf == nil {
		return
	}
	a.device.DestroyBuffer(buf)
}

func (a *halAllocator) AllocateTexture(desc *hal.TextureDescriptor, domain MemoryDomain) (hal.Texture, error) {
	if a.device == nil {
		return nil, ErrNilDevice
	}
	// Textures are device-local on every wgpu backend; host domains make
	// no sense for sampled or attachment memory.
	if domain.IsHost() {
		return nil, fmt.Errorf("%w: textures require device placement, got %s", ErrNoCompatibleMemory, domain)
	}
	tex, err := a.device.CreateTexture(desc)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNoCompatibleMemory, desc.Label, err)
	}
	return tex, nil
}

func (a *halAllocator) FreeTexture(tex hal.Texture) {
	if a.device == nil || tex == nil {
		return
	}
	a.device.DestroyTexture(tex)
}

func (a *halAllocator) CreateTextureView(tex hal.Texture, desc *hal.TextureViewDescriptor) (hal.TextureView, error) {
	if a.device == nil {
		return nil, ErrNilDevice
	}
	return a.device.CreateTextureView(tex, desc)
}

func (a *halAllocator) DestroyTextureView(view hal.TextureView) {
	if a.device == nil || view == nil {
		return
	}
	a.device.DestroyTextureView(view)
}

// allocationPlan returns the retry count and domain fall-through order for
// a criticality class.
//
// Critical resources try device-local only: placing a per-frame-hot
// storage buffer in host memory would tank throughput, so they fail loudly
// instead. Important resources may degrade to host-coherent memory.
// Flexible resources try every tier, maximizing the chance of success at
// the cost of possible performance degradation.
func allocationPlan(c Criticality) (attempts int, domains []MemoryDomain) {
	switch c {
	case CriticalityCritical:
		return 2, []MemoryDomain{DomainDeviceLocal}
	case CriticalityImportant:
		return 2, []MemoryDomain{DomainDeviceLocal, DomainHostCoherent}
	default:
		return 3, []MemoryDomain{DomainDeviceLocal, DomainHostCoherent, DomainHostVisible, DomainAny}
	}
}
