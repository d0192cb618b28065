package framegraph

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Resource manager defaults.
const (
	// DefaultRetryBackoff is the base backoff between allocation attempts.
	// Attempt n sleeps DefaultRetryBackoff << n before retrying.
	DefaultRetryBackoff = 10 * time.Millisecond

	// DefaultEvictionIdle is how long a resource must go unaccessed before
	// it becomes an eviction candidate.
	DefaultEvictionIdle = 3 * time.Second

	// DefaultMaxEvictions bounds how many resources one eviction pass removes.
	DefaultMaxEvictions = 5

	// DefaultPressureCritical is the external memory pressure above which
	// the graph runs cleanup and eviction before a frame.
	DefaultPressureCritical = 0.85
)

// ResourceManagerConfig configures a ResourceManager.
type ResourceManagerConfig struct {
	// Allocator performs the backing allocations. Required.
	Allocator Allocator

	// Telemetry receives allocation and eviction counters. Optional; a
	// private instance is created when nil.
	Telemetry *Telemetry

	// Pressure reports external memory pressure. Optional; without it,
	// pressure is never considered critical.
	Pressure PressureSource

	// RetryBackoff overrides the base backoff between allocation attempts.
	// Defaults to DefaultRetryBackoff if zero; negative disables backoff.
	RetryBackoff time.Duration

	// EvictionIdle overrides the idle threshold for eviction candidates.
	// Defaults to DefaultEvictionIdle if <= 0.
	EvictionIdle time.Duration

	// MaxEvictions overrides the per-pass eviction bound.
	// Defaults to DefaultMaxEvictions if <= 0.
	MaxEvictions int

	// PressureCritical overrides the critical pressure threshold.
	// Defaults to DefaultPressureCritical if <= 0 or > 1.
	PressureCritical float64
}

// ResourceManager owns GPU buffer and image allocation, classification and
// eviction. Internally created resources are exclusively owned (handle and
// memory released on removal); imported resources are borrowed and never
// freed.
//
// All mutation goes through the public entry points, which are invoked
// from the single driving thread. The mutex exists so Stats and telemetry
// snapshots can be taken from a monitoring goroutine.
type ResourceManager struct {
	mu sync.RWMutex

	alloc     Allocator
	telemetry *Telemetry
	pressure  PressureSource

	retryBackoff     time.Duration
	evictionIdle     time.Duration
	maxEvictions     int
	pressureCritical float64

	// nextID issues monotonically increasing ids, never reused. Starts at
	// 1 so InvalidResource (0) is never a live id.
	nextID ResourceID

	resources map[ResourceID]*Resource
	names     map[string]ResourceID
	cleanup   map[ResourceID]*cleanupInfo

	// now is stubbed in tests to drive eviction age deterministically.
	now func() time.Time
}

// NewResourceManager creates a resource manager.
// Returns an error if the configuration carries no allocator.
func NewResourceManager(cfg ResourceManagerConfig) (*ResourceManager, error) {
	if cfg.Allocator == nil {
		return nil, ErrNilAllocator
	}
	tel := cfg.Telemetry
	if tel == nil {
		tel = &Telemetry{}
	}
	backoff := cfg.RetryBackoff
	if backoff == 0 {
		backoff = DefaultRetryBackoff
	}
	idle := cfg.EvictionIdle
	if idle <= 0 {
		idle = DefaultEvictionIdle
	}
	maxEvict := cfg.MaxEvictions
	if maxEvict <= 0 {
		maxEvict = DefaultMaxEvictions
	}
	critical := cfg.PressureCritical
	if critical <= 0 || critical > 1 {
		critical = DefaultPressureCritical
	}
	return &ResourceManager{
		alloc:            cfg.Allocator,
		telemetry:        tel,
		pressure:         cfg.Pressure,
		retryBackoff:     backoff,
		evictionIdle:     idle,
		maxEvictions:     maxEvict,
		pressureCritical: critical,
		nextID:           1,
		resources:        make(map[ResourceID]*Resource),
		names:            make(map[string]ResourceID),
		cleanup:          make(map[ResourceID]*cleanupInfo),
		now:              time.Now,
	}, nil
}

// Telemetry returns the counter set this manager reports into.
func (m *ResourceManager) Telemetry() *Telemetry { return m.telemetry }

// CreateBuffer allocates a device buffer and registers it under name.
// Returns InvalidResource if the name is already registered or allocation
// fails after the retry strategy for the inferred criticality class is
// exhausted. Critical failures are counted in telemetry.
func (m *ResourceManager) CreateBuffer(name string, size uint64, usage gputypes.BufferUsage) ResourceID {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.names[name]; taken {
		Logger().Warn("framegraph: duplicate buffer name rejected", "name", name, "err", ErrDuplicateResourceName)
		return InvalidResource
	}

	criticality := inferCriticality(ResourceBuffer, name, usage, 0)
	desc := &hal.BufferDescriptor{
		Label: name,
		Size:  size,
		Usage: usage,
	}

	var buf hal.Buffer
	domain, err := m.allocateTiered(criticality, func(d MemoryDomain) error {
		var allocErr error
		buf, allocErr = m.alloc.AllocateBuffer(desc, d)
		return allocErr
	})
	if err != nil {
		m.reportAllocFailure(name, criticality, err)
		return InvalidResource
	}

	res := &Resource{
		id:          m.issueID(),
		name:        name,
		kind:        ResourceBuffer,
		buffer:      buf,
		size:        size,
		bufferUsage: usage,
		domain:      domain,
	}
	m.register(res, criticality, true)
	return res.id
}

// CreateImage allocates a device image and registers it under name.
// A texture view is created when the usage implies attachment or sampled
// access. Same failure contract as CreateBuffer.
func (m *ResourceManager) CreateImage(name string, format gputypes.TextureFormat, extent hal.Extent3D, usage gputypes.TextureUsage) ResourceID {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.names[name]; taken {
		Logger().Warn("framegraph: duplicate image name rejected", "name", name, "err", ErrDuplicateResourceName)
		return InvalidResource
	}

	criticality := inferCriticality(ResourceImage, name, 0, usage)
	desc := &hal.TextureDescriptor{
		Label:         name,
		Size:          extent,
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        format,
		Usage:         usage,
	}

	var tex hal.Texture
	domain, err := m.allocateTiered(criticality, func(d MemoryDomain) error {
		var allocErr error
		tex, allocErr = m.alloc.AllocateTexture(desc, d)
		return allocErr
	})
	if err != nil {
		m.reportAllocFailure(name, criticality, err)
		return InvalidResource
	}

	var view hal.TextureView
	if usage&(gputypes.TextureUsageRenderAttachment|gputypes.TextureUsageTextureBinding) != 0 {
		view, err = m.alloc.CreateTextureView(tex, &hal.TextureViewDescriptor{
			Label:  name + " (view)",
			Format: gputypes.TextureFormatUndefined, // inherit from texture
			Aspect: gputypes.TextureAspectAll,
		})
		if err != nil {
			m.alloc.FreeTexture(tex)
			Logger().Error("framegraph: image view creation failed", "name", name, "err", err)
			return InvalidResource
		}
	}

	res := &Resource{
		id:         m.issueID(),
		name:       name,
		kind:       ResourceImage,
		image:      tex,
		view:       view,
		format:     format,
		extent:     extent,
		imageUsage: usage,
		domain:     domain,
	}
	m.register(res, criticality, true)
	return res.id
}

// ImportExternalBuffer registers a borrowed buffer. The manager never
// frees its backing memory, and it can never be evicted.
// Returns InvalidResource if the name is already registered.
func (m *ResourceManager) ImportExternalBuffer(name string, buf hal.Buffer, size uint64, usage gputypes.BufferUsage) ResourceID {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.names[name]; taken {
		Logger().Warn("framegraph: duplicate external buffer name rejected", "name", name, "err", ErrDuplicateResourceName)
		return InvalidResource
	}
	res := &Resource{
		id:          m.issueID(),
		name:        name,
		kind:        ResourceBuffer,
		external:    true,
		buffer:      buf,
		size:        size,
		bufferUsage: usage,
		domain:      DomainDeviceLocal,
	}
	m.register(res, inferCriticality(ResourceBuffer, name, usage, 0), false)
	return res.id
}

// ImportExternalImage registers a borrowed image (and optional view).
// Same contract as ImportExternalBuffer.
func (m *ResourceManager) ImportExternalImage(name string, tex hal.Texture, view hal.TextureView, format gputypes.TextureFormat, extent hal.Extent3D, usage gputypes.TextureUsage) ResourceID {
	return m.importImage(name, tex, view, format, extent, usage, false)
}

// ImportSwapchainImage registers a borrowed per-swapchain-image resource.
// These behave like external images but are additionally purged by
// RemoveSwapchainResources when the swapchain is recreated.
func (m *ResourceManager) ImportSwapchainImage(name string, tex hal.Texture, view hal.TextureView, format gputypes.TextureFormat, extent hal.Extent3D, usage gputypes.TextureUsage) ResourceID {
	return m.importImage(name, tex, view, format, extent, usage, true)
}

func (m *ResourceManager) importImage(name string, tex hal.Texture, view hal.TextureView, format gputypes.TextureFormat, extent hal.Extent3D, usage gputypes.TextureUsage, swapchain bool) ResourceID {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.names[name]; taken {
		Logger().Warn("framegraph: duplicate external image name rejected", "name", name, "err", ErrDuplicateResourceName)
		return InvalidResource
	}
	res := &Resource{
		id:         m.issueID(),
		name:       name,
		kind:       ResourceImage,
		external:   true,
		swapchain:  swapchain,
		image:      tex,
		view:       view,
		format:     format,
		extent:     extent,
		imageUsage: usage,
		domain:     DomainDeviceLocal,
	}
	m.register(res, inferCriticality(ResourceImage, name, 0, usage), false)
	return res.id
}

// Buffer returns the buffer handle for id, or nil if the id is unknown or
// refers to an image. Access updates eviction bookkeeping.
func (m *ResourceManager) Buffer(id ResourceID) hal.Buffer {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := m.resources[id]
	if res == nil || res.kind != ResourceBuffer {
		return nil
	}
	m.touchLocked(id)
	return res.buffer
}

// Image returns the texture handle for id, or nil if the id is unknown or
// refers to a buffer. Access updates eviction bookkeeping.
func (m *ResourceManager) Image(id ResourceID) hal.Texture {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := m.resources[id]
	if res == nil || res.kind != ResourceImage {
		return nil
	}
	m.touchLocked(id)
	return res.image
}

// ImageView returns the texture view for id, or nil when the id is
// unknown, refers to a buffer, or the image was created without a view.
func (m *ResourceManager) ImageView(id ResourceID) hal.TextureView {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := m.resources[id]
	if res == nil || res.kind != ResourceImage {
		return nil
	}
	m.touchLocked(id)
	return res.view
}

// Lookup returns the tracked resource for id, or nil. The returned value
// must be treated as read-only.
func (m *ResourceManager) Lookup(id ResourceID) *Resource {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.resources[id]
}

// Criticality returns the criticality class recorded for id.
func (m *ResourceManager) Criticality(id ResourceID) (Criticality, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info := m.cleanup[id]
	if info == nil {
		return CriticalityFlexible, fmt.Errorf("%w: %d", ErrUnknownResource, id)
	}
	return info.criticality, nil
}

// Remove deletes a single resource. Owned handles are released; borrowed
// handles are detached without freeing.
func (m *ResourceManager) Remove(id ResourceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := m.resources[id]
	if res == nil {
		return fmt.Errorf("%w: %d", ErrUnknownResource, id)
	}
	m.removeLocked(res)
	return nil
}

// Reset drops all non-external resources and their bookkeeping to prepare
// for next-frame re-declaration. External resources persist.
func (m *ResourceManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, res := range m.resources {
		if res.external {
			continue
		}
		m.removeLocked(res)
	}
	Logger().Debug("framegraph: transient resources reset", "remaining", len(m.resources))
}

// RemoveSwapchainResources purges previously imported per-swapchain-image
// resources. Used only on swapchain recreation; node identity is
// unaffected.
func (m *ResourceManager) RemoveSwapchainResources() {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for _, res := range m.resources {
		if res.external && res.swapchain {
			m.removeLocked(res)
			removed++
		}
	}
	if removed > 0 {
		Logger().Info("framegraph: swapchain resources removed", "count", removed)
	}
}

// Shutdown releases every owned resource and detaches every borrowed one.
func (m *ResourceManager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, res := range m.resources {
		m.removeLocked(res)
	}
}

// MemoryPressureCritical reports whether externally-reported memory
// pressure exceeds the critical threshold. Always false without an
// attached PressureSource.
func (m *ResourceManager) MemoryPressureCritical() bool {
	if m.pressure == nil {
		return false
	}
	return m.pressure.MemoryPressure() > m.pressureCritical
}

// EvictNonCriticalResources removes up to the configured number of
// eviction candidates: evictable, non-external resources unaccessed for
// longer than the idle threshold, ordered by criticality ascending then
// oldest access first. Critical resources are filtered out before sorting
// and can never be selected. Returns the number of resources evicted.
func (m *ResourceManager) EvictNonCriticalResources() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	type candidate struct {
		res  *Resource
		info *cleanupInfo
	}
	var candidates []candidate
	for id, info := range m.cleanup {
		if !info.canEvict || info.criticality == CriticalityCritical {
			continue
		}
		if now.Sub(info.lastAccess) <= m.evictionIdle {
			continue
		}
		res := m.resources[id]
		if res == nil || res.external {
			continue
		}
		candidates = append(candidates, candidate{res: res, info: info})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].info.criticality != candidates[j].info.criticality {
			return candidates[i].info.criticality < candidates[j].info.criticality
		}
		return candidates[i].info.lastAccess.Before(candidates[j].info.lastAccess)
	})

	if len(candidates) > m.maxEvictions {
		candidates = candidates[:m.maxEvictions]
	}
	for _, c := range candidates {
		Logger().Info("framegraph: evicting resource",
			"name", c.res.name,
			"criticality", c.info.criticality.String(),
			"idle", now.Sub(c.info.lastAccess))
		m.removeLocked(c.res)
		m.telemetry.evictions.Add(1)
	}
	return len(candidates)
}

// ResourceStats summarizes the live resource table.
type ResourceStats struct {
	// Total is the number of live resources.
	Total int
	// External is the number of borrowed resources.
	External int
	// Buffers and Images split Total by kind.
	Buffers int
	Images  int
	// BufferBytes is the total byte size of live buffers.
	BufferBytes uint64
	// HostPlaced counts live resources outside device-local memory.
	HostPlaced int
}

// String returns a human-readable summary.
func (s ResourceStats) String() string {
	return fmt.Sprintf("Resources[%d live, %d buffers (%d KiB), %d images, %d external, %d host-placed]",
		s.Total, s.Buffers, s.BufferBytes/1024, s.Images, s.External, s.HostPlaced)
}

// Stats returns a snapshot of the resource table.
func (m *ResourceManager) Stats() ResourceStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var s ResourceStats
	s.Total = len(m.resources)
	for _, res := range m.resources {
		if res.external {
			s.External++
		}
		switch res.kind {
		case ResourceBuffer:
			s.Buffers++
			s.BufferBytes += res.size
		case ResourceImage:
			s.Images++
		}
		if res.domain.IsHost() {
			s.HostPlaced++
		}
	}
	return s
}

// =============================================================================
// Internals
// =============================================================================

// issueID returns the next monotonically increasing id. Caller holds mu.
func (m *ResourceManager) issueID() ResourceID {
	id := m.nextID
	m.nextID++
	return id
}

// register adds a resource and its cleanup metadata. Caller holds mu.
func (m *ResourceManager) register(res *Resource, criticality Criticality, canEvict bool) {
	m.resources[res.id] = res
	m.names[res.name] = res.id
	m.cleanup[res.id] = &cleanupInfo{
		lastAccess:  m.now(),
		criticality: criticality,
		canEvict:    canEvict && !res.external,
	}
	Logger().Debug("framegraph: resource registered",
		"id", uint32(res.id),
		"name", res.name,
		"kind", res.kind.String(),
		"criticality", criticality.String(),
		"domain", res.domain.String(),
		"external", res.external)
}

// removeLocked deletes a resource and releases owned handles. Caller holds mu.
func (m *ResourceManager) removeLocked(res *Resource) {
	if !res.external {
		switch res.kind {
		case ResourceBuffer:
			m.alloc.FreeBuffer(res.buffer)
		case ResourceImage:
			if res.view != nil {
				m.alloc.DestroyTextureView(res.view)
			}
			m.alloc.FreeTexture(res.image)
		}
	}
	// Borrowed handles are detached, never freed.
	res.buffer = nil
	res.image = nil
	res.view = nil
	delete(m.resources, res.id)
	delete(m.names, res.name)
	delete(m.cleanup, res.id)
}

// touchLocked refreshes eviction bookkeeping for an access. Caller holds mu.
func (m *ResourceManager) touchLocked(id ResourceID) {
	if info := m.cleanup[id]; info != nil {
		info.lastAccess = m.now()
		info.accessCount++
	}
}

// allocateTiered runs the retry-and-fallback strategy for one allocation.
// attempt is invoked once per (retry, domain) pair until it succeeds; the
// returned domain is the tier the allocation landed in.
func (m *ResourceManager) allocateTiered(criticality Criticality, attempt func(MemoryDomain) error) (MemoryDomain, error) {
	attempts, domains := allocationPlan(criticality)

	var lastErr error
	for round := 0; round < attempts; round++ {
		if round > 0 && m.retryBackoff > 0 {
			// Exponential backoff: transient memory pressure often clears
			// within a frame or two.
			time.Sleep(m.retryBackoff << (round - 1))
		}
		for tier, domain := range domains {
			m.telemetry.allocAttempts.Add(1)
			err := attempt(domain)
			if err == nil {
				if round > 0 {
					m.telemetry.allocRetries.Add(1)
				}
				if tier > 0 {
					m.telemetry.allocFallbacks.Add(1)
					Logger().Warn("framegraph: allocation fell back",
						"domain", domain.String(),
						"criticality", criticality.String())
				}
				if domain.IsHost() {
					m.telemetry.hostPlacements.Add(1)
				}
				return domain, nil
			}
			lastErr = err
		}
	}
	if lastErr == nil {
		lastErr = ErrNoCompatibleMemory
	}
	return DomainAny, fmt.Errorf("%w: %w", ErrAllocationFailed, lastErr)
}

// reportAllocFailure logs an exhausted allocation and counts critical
// failures for operator alarms.
func (m *ResourceManager) reportAllocFailure(name string, criticality Criticality, err error) {
	if criticality == CriticalityCritical {
		m.telemetry.criticalFailures.Add(1)
		Logger().Error("framegraph: critical allocation failure",
			"name", name, "err", err)
		return
	}
	Logger().Warn("framegraph: allocation failed",
		"name", name, "criticality", criticality.String(), "err", err)
}
