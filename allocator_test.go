package framegraph

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// stubHALDevice overrides the handful of hal.Device verbs the allocator
// touches; the embedded interface supplies the rest.
type stubHALDevice struct {
	hal.Device

	lastBufferUsage gputypes.BufferUsage
	buffersCreated  int
	buffersFreed    int
	texturesCreated int
	texturesFreed   int

	createBufferErr  error
	createTextureErr error
}

func (d *stubHALDevice) CreateBuffer(desc *hal.BufferDescriptor) (hal.Buffer, error) {
	if d.createBufferErr != nil {
		return nil, d.createBufferErr
	}
	d.buffersCreated++
	d.lastBufferUsage = desc.Usage
	return &fakeBuffer{label: desc.Label, size: desc.Size, usage: desc.Usage}, nil
}

func (d *stubHALDevice) DestroyBuffer(hal.Buffer) { d.buffersFreed++ }

func (d *stubHALDevice) CreateTexture(desc *hal.TextureDescriptor) (hal.Texture, error) {
	if d.createTextureErr != nil {
		return nil, d.createTextureErr
	}
	d.texturesCreated++
	return &fakeTexture{label: desc.Label, format: desc.Format}, nil
}

func (d *stubHALDevice) DestroyTexture(hal.Texture) { d.texturesFreed++ }

func (d *stubHALDevice) CreateTextureView(tex hal.Texture, desc *hal.TextureViewDescriptor) (hal.TextureView, error) {
	return &fakeView{label: desc.Label}, nil
}

func (d *stubHALDevice) DestroyTextureView(hal.TextureView) {}

// =============================================================================
// Allocation Plans
// =============================================================================

func TestAllocationPlan(t *testing.T) {
	tests := []struct {
		criticality Criticality
		attempts    int
		domains     []MemoryDomain
	}{
		{CriticalityCritical, 2, []MemoryDomain{DomainDeviceLocal}},
		{CriticalityImportant, 2, []MemoryDomain{DomainDeviceLocal, DomainHostCoherent}},
		{CriticalityFlexible, 3, []MemoryDomain{DomainDeviceLocal, DomainHostCoherent, DomainHostVisible, DomainAny}},
	}
	for _, tt := range tests {
		t.Run(tt.criticality.String(), func(t *testing.T) {
			attempts, domains := allocationPlan(tt.criticality)
			if attempts != tt.attempts {
				t.Errorf("attempts = %d, want %d", attempts, tt.attempts)
			}
			if len(domains) != len(tt.domains) {
				t.Fatalf("domains = %v, want %v", domains, tt.domains)
			}
			for i := range domains {
				if domains[i] != tt.domains[i] {
					t.Fatalf("domains = %v, want %v", domains, tt.domains)
				}
			}
		})
	}
}

// =============================================================================
// HAL-backed Allocator
// =============================================================================

func TestHALAllocator_HostDomainAddsMapUsage(t *testing.T) {
	device := &stubHALDevice{}
	a := NewHALAllocator(device)
	desc := &hal.BufferDescriptor{Label: "staging", Size: 256, Usage: gputypes.BufferUsageCopySrc}

	if _, err := a.AllocateBuffer(desc, DomainHostCoherent); err != nil {
		t.Fatalf("AllocateBuffer = %v", err)
	}
	if device.lastBufferUsage&gputypes.BufferUsageMapWrite == 0 {
		t.Error("host placement did not add map-write usage")
	}
	// The caller's descriptor is not mutated.
	if desc.Usage&gputypes.BufferUsageMapWrite != 0 {
		t.Error("AllocateBuffer mutated the caller's descriptor")
	}

	if _, err := a.AllocateBuffer(desc, DomainDeviceLocal); err != nil {
		t.Fatalf("AllocateBuffer = %v", err)
	}
	if device.lastBufferUsage&gputypes.BufferUsageMapWrite != 0 {
		t.Error("device-local placement added map usage")
	}
}

func TestHALAllocator_FailureWrapsNoCompatibleMemory(t *testing.T) {
	device := &stubHALDevice{createBufferErr: errors.New("out of device memory")}
	a := NewHALAllocator(device)

	_, err := a.AllocateBuffer(&hal.BufferDescriptor{Label: "big", Size: 1 << 30}, DomainDeviceLocal)
	if !errors.Is(err, ErrNoCompatibleMemory) {
		t.Errorf("err = %v, want wrapped ErrNoCompatibleMemory", err)
	}
}

func TestHALAllocator_TexturesRejectHostDomains(t *testing.T) {
	device := &stubHALDevice{}
	a := NewHALAllocator(device)
	desc := &hal.TextureDescriptor{Label: "tex", Format: gputypes.TextureFormatRGBA8Unorm}

	for _, domain := range []MemoryDomain{DomainHostCoherent, DomainHostVisible} {
		if _, err := a.AllocateTexture(desc, domain); !errors.Is(err, ErrNoCompatibleMemory) {
			t.Errorf("AllocateTexture(%v) = %v, want ErrNoCompatibleMemory", domain, err)
		}
	}
	if device.texturesCreated != 0 {
		t.Error("host-domain texture request reached the device")
	}

	if _, err := a.AllocateTexture(desc, DomainDeviceLocal); err != nil {
		t.Errorf("AllocateTexture(DeviceLocal) = %v", err)
	}
}

func TestHALAllocator_NilHandlesIgnoredOnFree(t *testing.T) {
	device := &stubHALDevice{}
	a := NewHALAllocator(device)

	a.FreeBuffer(nil)
	a.FreeTexture(nil)
	a.DestroyTextureView(nil)
	if device.buffersFreed != 0 || device.texturesFreed != 0 {
		t.Error("freeing nil handles reached the device")
	}
}

func TestMemoryDomain_IsHost(t *testing.T) {
	if DomainDeviceLocal.IsHost() || DomainAny.IsHost() {
		t.Error("device-side domains reported as host")
	}
	if !DomainHostCoherent.IsHost() || !DomainHostVisible.IsHost() {
		t.Error("host domains not reported as host")
	}
}
