package framegraph

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// =============================================================================
// HAL Handle Fakes
// =============================================================================

// fakeBuffer is a test double for hal.Buffer.
type fakeBuffer struct {
	label string
	size  uint64
	usage gputypes.BufferUsage
}

// Destroy implements hal.Resource.
func (b *fakeBuffer) Destroy() {}

// NativeHandle implements hal.NativeHandle.
func (b *fakeBuffer) NativeHandle() uintptr { return 0 }

// fakeTexture is a test double for hal.Texture.
type fakeTexture struct {
	label  string
	format gputypes.TextureFormat
}

// Destroy implements hal.Resource.
func (t *fakeTexture) Destroy() {}

// NativeHandle implements hal.NativeHandle.
func (t *fakeTexture) NativeHandle() uintptr { return 0 }

// CurrentUsage implements hal.Texture.
func (t *fakeTexture) CurrentUsage() gputypes.TextureUsage { return 0 }

// AddPendingRef implements hal.Texture.
func (t *fakeTexture) AddPendingRef() {}

// DecPendingRef implements hal.Texture.
func (t *fakeTexture) DecPendingRef() {}

// fakeView is a test double for hal.TextureView.
type fakeView struct {
	label string
}

// Destroy implements hal.Resource.
func (v *fakeView) Destroy() {}

// NativeHandle implements hal.NativeHandle.
func (v *fakeView) NativeHandle() uintptr { return 0 }

// fakeCommandBuffer is a test double for hal.CommandBuffer. The embedded
// interface provides the method set; the graph never invokes it.
type fakeCommandBuffer struct {
	hal.CommandBuffer
	label string
}

// stubQueue satisfies hal.Queue via the embedded interface. The graph never
// submits, so no method is ever called on it.
type stubQueue struct {
	hal.Queue
}

// =============================================================================
// Allocator Fake
// =============================================================================

// fakeAllocator is a test double for Allocator. The func hooks override
// individual allocations; nil hooks succeed with fake handles. attempts
// records every (domain) an allocation call targeted, in order.
type fakeAllocator struct {
	allocBuffer  func(desc *hal.BufferDescriptor, domain MemoryDomain) (hal.Buffer, error)
	allocTexture func(desc *hal.TextureDescriptor, domain MemoryDomain) (hal.Texture, error)

	attempts []MemoryDomain

	buffersAllocated  int
	buffersFreed      int
	texturesAllocated int
	texturesFreed     int
	viewsCreated      int
	viewsDestroyed    int
}

func (a *fakeAllocator) AllocateBuffer(desc *hal.BufferDescriptor, domain MemoryDomain) (hal.Buffer, error) {
	a.attempts = append(a.attempts, domain)
	if a.allocBuffer != nil {
		buf, err := a.allocBuffer(desc, domain)
		if err != nil {
			return nil, err
		}
		a.buffersAllocated++
		return buf, nil
	}
	a.buffersAllocated++
	return &fakeBuffer{label: desc.Label, size: desc.Size, usage: desc.Usage}, nil
}

func (a *fakeAllocator) FreeBuffer(buf hal.Buffer) {
	if buf != nil {
		a.buffersFreed++
	}
}

func (a *fakeAllocator) AllocateTexture(desc *hal.TextureDescriptor, domain MemoryDomain) (hal.Texture, error) {
	a.attempts = append(a.attempts, domain)
	if a.allocTexture != nil {
		tex, err := a.allocTexture(desc, domain)
		if err != nil {
			return nil, err
		}
		a.texturesAllocated++
		return tex, nil
	}
	a.texturesAllocated++
	return &fakeTexture{label: desc.Label, format: desc.Format}, nil
}

func (a *fakeAllocator) FreeTexture(tex hal.Texture) {
	if tex != nil {
		a.texturesFreed++
	}
}

func (a *fakeAllocator) CreateTextureView(tex hal.Texture, desc *hal.TextureViewDescriptor) (hal.TextureView, error) {
	a.viewsCreated++
	return &fakeView{label: desc.Label}, nil
}

func (a *fakeAllocator) DestroyTextureView(view hal.TextureView) {
	if view != nil {
		a.viewsDestroyed++
	}
}

// failDomains returns an allocBuffer hook that fails for the given domains
// and succeeds elsewhere.
func failDomains(domains ...MemoryDomain) func(*hal.BufferDescriptor, MemoryDomain) (hal.Buffer, error) {
	return func(desc *hal.BufferDescriptor, domain MemoryDomain) (hal.Buffer, error) {
		for _, d := range domains {
			if d == domain {
				return nil, fmt.Errorf("%w: fake %s exhausted", ErrNoCompatibleMemory, domain)
			}
		}
		return &fakeBuffer{label: desc.Label, size: desc.Size, usage: desc.Usage}, nil
	}
}

// =============================================================================
// Device and Encoder Fakes
// =============================================================================

// fakeEncoder is a test double for CommandEncoder.
type fakeEncoder struct {
	label       string
	begun       bool
	ended       bool
	discarded   bool
	transitions [][]hal.TextureBarrier
}

func (e *fakeEncoder) BeginEncoding(label string) error {
	e.begun = true
	e.label = label
	return nil
}

func (e *fakeEncoder) EndEncoding() (hal.CommandBuffer, error) {
	e.ended = true
	return &fakeCommandBuffer{label: e.label}, nil
}

func (e *fakeEncoder) DiscardEncoding() { e.discarded = true }

func (e *fakeEncoder) TransitionTextures(barriers []hal.TextureBarrier) {
	e.transitions = append(e.transitions, barriers)
}

// fakeDevice is a test double for Device. It hands out fakeEncoders and
// records them so tests can inspect recording state after a frame.
type fakeDevice struct {
	encoders []*fakeEncoder
	freed    int

	createEncoderErr error
}

func (d *fakeDevice) CreateCommandEncoder(desc *hal.CommandEncoderDescriptor) (CommandEncoder, error) {
	if d.createEncoderErr != nil {
		return nil, d.createEncoderErr
	}
	enc := &fakeEncoder{label: desc.Label}
	d.encoders = append(d.encoders, enc)
	return enc, nil
}

func (d *fakeDevice) FreeCommandBuffer(buf hal.CommandBuffer) {
	if buf != nil {
		d.freed++
	}
}

// encoderByLabel returns the recorded encoder with the given label, or nil.
func (d *fakeDevice) encoderByLabel(label string) *fakeEncoder {
	for _, e := range d.encoders {
		if e.label == label {
			return e
		}
	}
	return nil
}

// =============================================================================
// Monitor Fakes
// =============================================================================

// fakeHealth is a test double for HealthMonitor. failAt makes IsHealthy
// return false from the Nth call on (1-based); 0 means always healthy.
type fakeHealth struct {
	begins []string
	hints  []uint64
	ends   int

	checks int
	failAt int
}

func (h *fakeHealth) BeginDispatch(name string, sizeHint uint64) {
	h.begins = append(h.begins, name)
	h.hints = append(h.hints, sizeHint)
}

func (h *fakeHealth) EndDispatch() { h.ends++ }

func (h *fakeHealth) IsHealthy() bool {
	h.checks++
	return h.failAt == 0 || h.checks < h.failAt
}

// fakePressure is a test double for PressureSource.
type fakePressure struct {
	level float64
}

func (p *fakePressure) MemoryPressure() float64 { return p.level }

// =============================================================================
// Node Fake
// =============================================================================

// testNode is a configurable Node. It also implements FrameUpdater and
// WorkloadEstimator; the hint field doubles as the workload estimate.
type testNode struct {
	name     string
	inputs   []Dependency
	outputs  []Dependency
	compute  bool
	graphics bool

	setupErr error
	execErr  error

	setupCalls int
	execCalls  int
	frames     []FrameData
	hint       uint64

	// onExecute runs inside Execute when set, receiving the context.
	onExecute func(ec *ExecContext) error

	// trace, when shared across nodes, records execution order by name.
	trace *[]string
}

func (n *testNode) Name() string              { return n.name }
func (n *testNode) Inputs() []Dependency      { return n.inputs }
func (n *testNode) Outputs() []Dependency     { return n.outputs }
func (n *testNode) NeedsComputeQueue() bool   { return n.compute }
func (n *testNode) NeedsGraphicsQueue() bool  { return n.graphics }
func (n *testNode) UpdateFrame(fd FrameData)  { n.frames = append(n.frames, fd) }
func (n *testNode) WorkloadHint() uint64      { return n.hint }
func (n *testNode) Setup(g *Graph) error {
	n.setupCalls++
	return n.setupErr
}

func (n *testNode) Execute(ec *ExecContext) error {
	n.execCalls++
	if n.trace != nil {
		*n.trace = append(*n.trace, n.name)
	}
	if n.onExecute != nil {
		return n.onExecute(ec)
	}
	return n.execErr
}

// computeNode returns a compute-queue node writing outputs and reading inputs.
func computeNode(name string, inputs, outputs []Dependency) *testNode {
	return &testNode{name: name, inputs: inputs, outputs: outputs, compute: true}
}

// graphicsNode returns a graphics-queue node.
func graphicsNode(name string, inputs, outputs []Dependency) *testNode {
	return &testNode{name: name, inputs: inputs, outputs: outputs, graphics: true}
}

// reads and writes build single-dependency slices for test graphs.
func reads(id ResourceID, stage PipelineStage) []Dependency {
	return []Dependency{{Resource: id, Access: AccessRead, Stage: stage}}
}

func writes(id ResourceID, stage PipelineStage) []Dependency {
	return []Dependency{{Resource: id, Access: AccessWrite, Stage: stage}}
}

// =============================================================================
// Construction Helpers
// =============================================================================

// newTestManager builds a ResourceManager on a fakeAllocator with retry
// backoff disabled so exhausted allocations do not sleep.
func newTestManager(alloc *fakeAllocator) *ResourceManager {
	m, err := NewResourceManager(ResourceManagerConfig{
		Allocator:    alloc,
		RetryBackoff: -1,
	})
	if err != nil {
		panic(err)
	}
	return m
}

// testGraphEnv bundles a graph with its fakes.
type testGraphEnv struct {
	graph  *Graph
	device *fakeDevice
	alloc  *fakeAllocator
	health *fakeHealth
}

// newTestGraph builds an initialized graph over fakes. mutate may adjust
// the config (attach monitors, drop a queue) before Initialize.
func newTestGraph(mutate func(*Config)) (*testGraphEnv, error) {
	env := &testGraphEnv{
		device: &fakeDevice{},
		alloc:  &fakeAllocator{},
	}
	cfg := Config{
		Device:        env.device,
		Allocator:     env.alloc,
		ComputeQueue:  &stubQueue{},
		GraphicsQueue: &stubQueue{},
		Resources:     ResourceManagerConfig{RetryBackoff: -1},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	env.graph = NewGraph()
	if err := env.graph.Initialize(cfg); err != nil {
		return nil, err
	}
	return env, nil
}
