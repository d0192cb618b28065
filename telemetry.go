package framegraph

import (
	"fmt"
	"sync/atomic"
)

// Telemetry accumulates operational counters for a single graph instance.
// Counters are updated with atomics so a monitoring goroutine may snapshot
// them while the driving thread records frames.
//
// A non-zero CriticalFailures count means a Critical resource could not be
// placed in device-local memory and should alarm operators: the core does
// not degrade those allocations silently.
type Telemetry struct {
	allocAttempts    atomic.Uint64
	allocRetries     atomic.Uint64
	allocFallbacks   atomic.Uint64
	hostPlacements   atomic.Uint64
	criticalFailures atomic.Uint64
	evictions        atomic.Uint64
	compiles         atomic.Uint64
	partialCompiles  atomic.Uint64
	framesExecuted   atomic.Uint64
	framesAborted    atomic.Uint64
	barriersEmitted  atomic.Uint64
}

// TelemetrySnapshot is a point-in-time copy of the counters.
type TelemetrySnapshot struct {
	// AllocAttempts is the total number of backend allocation calls.
	AllocAttempts uint64
	// AllocRetries counts allocations that needed more than one attempt.
	AllocRetries uint64
	// AllocFallbacks counts allocations that landed outside device-local
	// memory after at least one fall-through.
	AllocFallbacks uint64
	// HostPlacements counts allocations that landed in host-visible memory.
	HostPlacements uint64
	// CriticalFailures counts failed allocations of Critical resources.
	CriticalFailures uint64
	// Evictions counts resources removed under memory pressure.
	Evictions uint64
	// Compiles counts successful full compilations.
	Compiles uint64
	// PartialCompiles counts compilations that fell back to the acyclic
	// prefix of the graph.
	PartialCompiles uint64
	// FramesExecuted counts frames that recorded to completion.
	FramesExecuted uint64
	// FramesAborted counts frames abandoned at a health checkpoint or on a
	// node failure.
	FramesAborted uint64
	// BarriersEmitted counts individual barriers flushed to encoders.
	BarriersEmitted uint64
}

// String returns a one-line operator summary of the snapshot.
func (s TelemetrySnapshot) String() string {
	return fmt.Sprintf(
		"Telemetry[allocs=%d retries=%d fallbacks=%d host=%d critical_failures=%d evictions=%d compiles=%d partial=%d frames=%d aborted=%d barriers=%d]",
		s.AllocAttempts, s.AllocRetries, s.AllocFallbacks, s.HostPlacements,
		s.CriticalFailures, s.Evictions, s.Compiles, s.PartialCompiles,
		s.FramesExecuted, s.FramesAborted, s.BarriersEmitted)
}

// RetryRate returns the fraction of allocations that were retried.
func (s TelemetrySnapshot) RetryRate() float64 {
	if s.AllocAttempts == 0 {
		return 0
	}
	return float64(s.AllocRetries) / float64(s.AllocAttempts)
}

// FallbackRate returns the fraction of allocations that fell back to a
// lower memory tier.
func (s TelemetrySnapshot) FallbackRate() float64 {
	if s.AllocAttempts == 0 {
		return 0
	}
	return float64(s.AllocFallbacks) / float64(s.AllocAttempts)
}

// Snapshot copies the current counter values.
func (t *Telemetry) Snapshot() TelemetrySnapshot {
	return TelemetrySnapshot{
		AllocAttempts:    t.allocAttempts.Load(),
		AllocRetries:     t.allocRetries.Load(),
		AllocFallbacks:   t.allocFallbacks.Load(),
		HostPlacements:   t.hostPlacements.Load(),
		CriticalFailures: t.criticalFailures.Load(),
		Evictions:        t.evictions.Load(),
		Compiles:         t.compiles.Load(),
		PartialCompiles:  t.partialCompiles.Load(),
		FramesExecuted:   t.framesExecuted.Load(),
		FramesAborted:    t.framesAborted.Load(),
		BarriersEmitted:  t.barriersEmitted.Load(),
	}
}

// CriticalFailures returns the current critical allocation failure count.
func (t *Telemetry) CriticalFailures() uint64 { return t.criticalFailures.Load() }
