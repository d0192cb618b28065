package framegraph

import (
	"fmt"

	"github.com/gogpu/wgpu/hal"
)

// CommandEncoder is the recording surface the graph drives per frame. It
// is the subset of the hal command encoder the orchestrator needs: frame
// begin/end, abort, and the texture transition verb barrier batches flush
// through. Nodes reach richer encoding (passes, copies) via Raw.
type CommandEncoder interface {
	// BeginEncoding starts recording under a debug label.
	BeginEncoding(label string) error

	// EndEncoding finishes recording and returns the command buffer.
	EndEncoding() (hal.CommandBuffer, error)

	// DiscardEncoding abandons recording. Used when a frame aborts so the
	// encoder never leaks a half-recorded state.
	DiscardEncoding()

	// TransitionTextures records image usage transitions.
	TransitionTextures(barriers []hal.TextureBarrier)
}

// Device is the narrow device surface the orchestrator depends on.
// WrapHAL adapts a hal.Device; tests substitute fakes. Any backend
// exposing an equivalent verb set is substitutable.
type Device interface {
	// CreateCommandEncoder creates a fresh per-frame encoder.
	CreateCommandEncoder(desc *hal.CommandEncoderDescriptor) (CommandEncoder, error)

	// FreeCommandBuffer releases a finished command buffer after the
	// caller has submitted (or abandoned) it.
	FreeCommandBuffer(buf hal.CommandBuffer)
}

// halDevice adapts a hal.Device to the Device interface.
type halDevice struct {
	device hal.Device
}

// WrapHAL returns a Device backed by a hal.Device.
func WrapHAL(device hal.Device) Device {
	if device == nil {
		return nil
	}
	return &halDevice{device: device}
}

func (d *halDevice) CreateCommandEncoder(desc *hal.CommandEncoderDescriptor) (CommandEncoder, error) {
	enc, err := d.device.CreateCommandEncoder(desc)
	if err != nil {
		return nil, fmt.Errorf("create command encoder: %w", err)
	}
	return halEncoder{enc: enc}, nil
}

func (d *halDevice) FreeCommandBuffer(buf hal.CommandBuffer) {
	if buf == nil {
		return
	}
	d.device.FreeCommandBuffer(buf)
}

// HAL returns the wrapped hal.Device for callers that need the full
// surface (allocator construction, pipeline creation in node Setup).
func (d *halDevice) HAL() hal.Device { return d.device }

// halEncoder adapts a hal.CommandEncoder to CommandEncoder.
type halEncoder struct {
	enc hal.CommandEncoder
}

func (e halEncoder) BeginEncoding(label string) error { return e.enc.BeginEncoding(label) }

func (e halEncoder) EndEncoding() (hal.CommandBuffer, error) { return e.enc.EndEncoding() }

func (e halEncoder) DiscardEncoding() { e.enc.DiscardEncoding() }

func (e halEncoder) TransitionTextures(barriers []hal.TextureBarrier) {
	e.enc.TransitionTextures(barriers)
}

// Raw returns the underlying hal.CommandEncoder so nodes can begin render
// and compute passes on it.
func (e halEncoder) Raw() hal.CommandEncoder { return e.enc }

// RawEncoder unwraps a CommandEncoder produced by WrapHAL. Returns nil
// when the encoder is a test double or another backend's implementation.
func RawEncoder(enc CommandEncoder) hal.CommandEncoder {
	type rawer interface{ Raw() hal.CommandEncoder }
	if r, ok := enc.(rawer); ok {
		return r.Raw()
	}
	return nil
}
