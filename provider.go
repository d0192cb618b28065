package framegraph

import (
	"fmt"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/wgpu/hal"
)

// HALFromProvider extracts the underlying hal device and queue from a
// shared GPU context provider. The provider must additionally implement
// HalDevice() any and HalQueue() any returning hal.Device and hal.Queue;
// windowing frameworks built on the gogpu stack expose both.
func HALFromProvider(provider gpucontext.DeviceProvider) (hal.Device, hal.Queue, error) {
	if provider == nil {
		return nil, nil, ErrNilDevice
	}
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, nil, fmt.Errorf("framegraph: provider does not expose HAL types")
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, nil, fmt.Errorf("framegraph: provider HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, nil, fmt.Errorf("framegraph: provider HalQueue is not hal.Queue")
	}
	return device, queue, nil
}

// ConfigFromProvider builds a ready-to-use Config from a shared device
// provider. The single hal queue serves as both submission targets, which
// matches backends that multiplex compute and graphics on one queue; the
// graph still records separate command buffers per logical queue. Callers
// with a dedicated compute queue overwrite ComputeQueue before Initialize.
func ConfigFromProvider(provider gpucontext.DeviceProvider) (Config, error) {
	device, queue, err := HALFromProvider(provider)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Device:        WrapHAL(device),
		Allocator:     NewHALAllocator(device),
		ComputeQueue:  queue,
		GraphicsQueue: queue,
	}, nil
}
